package indexdb

import (
	"context"
)

type ExecutionSummary struct {
	DefinitionID string
	Total        int64
	Succeeded    int64
	LastAt       string
}

// ExecutionSummaries aggregates executions per definition, most used first.
func (s *SQLiteIndex) ExecutionSummaries(ctx context.Context, limit int) ([]ExecutionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition_id, COUNT(1), SUM(ok), MAX(at)
		FROM executions
		GROUP BY definition_id
		ORDER BY COUNT(1) DESC, definition_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionSummary
	for rows.Next() {
		var e ExecutionSummary
		if err := rows.Scan(&e.DefinitionID, &e.Total, &e.Succeeded, &e.LastAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type ExecutionRecord struct {
	At           string
	DefinitionID string
	PrincipalID  string
	LocationID   string
	OK           bool
	Code         string
}

// RecentExecutions lists executions newest first, optionally filtered by
// principal id.
func (s *SQLiteIndex) RecentExecutions(ctx context.Context, principalID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT at, definition_id, principal_id, COALESCE(location_id,''), ok, COALESCE(code,'')
		FROM executions`
	args := []any{}
	if principalID != "" {
		q += ` WHERE principal_id = ?`
		args = append(args, principalID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		var ok int
		if err := rows.Scan(&r.At, &r.DefinitionID, &r.PrincipalID, &r.LocationID, &ok, &r.Code); err != nil {
			return nil, err
		}
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

type ClaimTotal struct {
	DefinitionID string
	ActionIndex  int
	Granted      int64
	Denied       int64
}

func (s *SQLiteIndex) ClaimTotals(ctx context.Context, definitionID string) ([]ClaimTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition_id, action_index,
			SUM(granted), SUM(1 - granted)
		FROM claims
		WHERE definition_id = ? OR ? = ''
		GROUP BY definition_id, action_index
		ORDER BY definition_id, action_index`, definitionID, definitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClaimTotal
	for rows.Next() {
		var c ClaimTotal
		if err := rows.Scan(&c.DefinitionID, &c.ActionIndex, &c.Granted, &c.Denied); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type AnchorSyncRecord struct {
	At         string
	LocationID string
	Status     string
	MessageRef string
	Detail     string
}

// LastAnchorSyncs returns the most recent sync per location.
func (s *SQLiteIndex) LastAnchorSyncs(ctx context.Context) ([]AnchorSyncRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, location_id, status, COALESCE(message_ref,''), COALESCE(detail,'')
		FROM anchor_syncs
		WHERE id IN (SELECT MAX(id) FROM anchor_syncs GROUP BY location_id)
		ORDER BY location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnchorSyncRecord
	for rows.Next() {
		var a AnchorSyncRecord
		if err := rows.Scan(&a.At, &a.LocationID, &a.Status, &a.MessageRef, &a.Detail); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
