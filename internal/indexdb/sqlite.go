// Package indexdb maintains a secondary sqlite index of trigger executions,
// claim grants and anchor refreshes. The JSONL audit logs remain the source
// of truth; this index only serves operator queries, so writes are async and
// droppable under pressure.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqExecution reqKind = iota + 1
	reqClaim
	reqAnchor
)

type req struct {
	kind      reqKind
	execution ExecutionRow
	claim     ClaimRow
	anchor    AnchorRow
}

type ExecutionRow struct {
	At           time.Time
	DefinitionID string
	PrincipalID  string
	LocationID   string
	OK           bool
	Code         string
	Outcomes     any
}

type ClaimRow struct {
	At           time.Time
	DefinitionID string
	ActionIndex  int
	PrincipalID  string
	Granted      bool
}

type AnchorRow struct {
	At         time.Time
	LocationID string
	Status     string
	MessageRef string
	Detail     string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: a burst of triggers must not stall the engine.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			definition_id TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			location_id TEXT,
			ok INTEGER NOT NULL,
			code TEXT,
			outcomes_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_def_at ON executions(definition_id, at);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_principal_at ON executions(principal_id, at);`,
		`CREATE TABLE IF NOT EXISTS claims (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			definition_id TEXT NOT NULL,
			action_index INTEGER NOT NULL,
			principal_id TEXT NOT NULL,
			granted INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_claims_def ON claims(definition_id, action_index);`,
		`CREATE TABLE IF NOT EXISTS anchor_syncs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			location_id TEXT NOT NULL,
			status TEXT NOT NULL,
			message_ref TEXT,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_anchor_syncs_loc_at ON anchor_syncs(location_id, at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) RecordExecution(row ExecutionRow) {
	s.enqueue(req{kind: reqExecution, execution: row})
}

func (s *SQLiteIndex) RecordClaim(row ClaimRow) {
	s.enqueue(req{kind: reqClaim, claim: row})
}

func (s *SQLiteIndex) RecordAnchorSync(row AnchorRow) {
	s.enqueue(req{kind: reqAnchor, anchor: row})
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertExecution, _ := s.db.Prepare(`INSERT INTO executions(at,definition_id,principal_id,location_id,ok,code,outcomes_json) VALUES(?,?,?,?,?,?,?)`)
	insertClaim, _ := s.db.Prepare(`INSERT INTO claims(at,definition_id,action_index,principal_id,granted) VALUES(?,?,?,?,?)`)
	insertAnchor, _ := s.db.Prepare(`INSERT INTO anchor_syncs(at,location_id,status,message_ref,detail) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertExecution != nil {
			_ = insertExecution.Close()
		}
		if insertClaim != nil {
			_ = insertClaim.Close()
		}
		if insertAnchor != nil {
			_ = insertAnchor.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	// Idle commits: without one, a quiet server could hold an open batch
	// indefinitely and operator queries would miss the tail.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var r req
		var open bool
		select {
		case r, open = <-s.ch:
			if !open {
				commit()
				return
			}
		case <-idle.C:
			flushIfNeeded()
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqExecution:
			e := r.execution
			if insertExecution == nil {
				continue
			}
			outcomes, _ := json.Marshal(e.Outcomes)
			ok := 0
			if e.OK {
				ok = 1
			}
			if _, err := tx.Stmt(insertExecution).Exec(
				e.At.UTC().Format(time.RFC3339Nano),
				e.DefinitionID,
				e.PrincipalID,
				e.LocationID,
				ok,
				e.Code,
				string(outcomes),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqClaim:
			c := r.claim
			if insertClaim == nil {
				continue
			}
			granted := 0
			if c.Granted {
				granted = 1
			}
			if _, err := tx.Stmt(insertClaim).Exec(
				c.At.UTC().Format(time.RFC3339Nano),
				c.DefinitionID,
				c.ActionIndex,
				c.PrincipalID,
				granted,
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqAnchor:
			a := r.anchor
			if insertAnchor == nil {
				continue
			}
			if _, err := tx.Stmt(insertAnchor).Exec(
				a.At.UTC().Format(time.RFC3339Nano),
				a.LocationID,
				a.Status,
				a.MessageRef,
				a.Detail,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}
}
