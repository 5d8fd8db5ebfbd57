package engine

import (
	"context"
	"time"

	auditlog "actionforge.gg/internal/persistence/log"
	"actionforge.gg/internal/protocol"
	"actionforge.gg/internal/rules"
	"actionforge.gg/internal/store"
)

// PutDefinition creates or updates a definition. Validation happens here, at
// authoring time; execution assumes validated input. On update, claim
// ledgers of position/type-matching actions survive the edit. Returns the
// locations whose anchors need a refresh.
func (e *Engine) PutDefinition(ctx context.Context, def *rules.ActionDefinition, by string) (created bool, touched []string, err error) {
	def = def.Clone()
	def.Normalize()
	if verr := rules.Validate(def); verr != nil {
		return false, nil, codedErr(protocol.ErrValidation, "%v", verr)
	}

	err = e.store.Update(ctx, func(tx *store.Tx) error {
		now := time.Now().UTC()
		prev, exists := tx.Definition(def.ID)
		if exists {
			rules.CarryClaims(def, prev)
			def.Meta.CreatedBy = prev.Meta.CreatedBy
			def.Meta.CreatedAt = prev.Meta.CreatedAt
			touched = unionLocations(prev.Locations, def.Locations)
		} else {
			created = true
			def.Meta.CreatedBy = by
			def.Meta.CreatedAt = now
			touched = append([]string(nil), def.Locations...)
		}
		def.Meta.UpdatedAt = now
		tx.PutDefinition(def)
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	e.auditAuthoring("authoring", def.ID, by, true, "")
	return created, touched, nil
}

// DeleteDefinition removes a definition. Anchors still rendering its id are
// left in place: they are now stale and the next sync of their locations
// drops the dangling button. Returns every location needing that refresh.
func (e *Engine) DeleteDefinition(ctx context.Context, id, by string) ([]string, error) {
	var touched []string
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		def, ok := tx.Definition(id)
		if !ok {
			return codedErr(protocol.ErrNotFound, "definition %q not found", id)
		}
		locs := map[string]bool{}
		for _, l := range def.Locations {
			locs[l] = true
		}
		// Locations whose rendered set still references the id (e.g. after a
		// crashed earlier edit) also need repair.
		for _, loc := range tx.AnchorLocations() {
			a, _ := tx.Anchor(loc)
			for _, rid := range a.Rendered {
				if rid == id {
					locs[loc] = true
					break
				}
			}
		}
		tx.DeleteDefinition(id)
		for l := range locs {
			touched = append(touched, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.auditAuthoring("authoring", id, by, true, "deleted")
	return touched, nil
}

// RegisterLocation points a location id at its external channel.
func (e *Engine) RegisterLocation(ctx context.Context, locationID, channelRef string) error {
	if locationID == "" || channelRef == "" {
		return codedErr(protocol.ErrValidation, "location id and channel ref are required")
	}
	return e.store.Update(ctx, func(tx *store.Tx) error {
		tx.PutLocation(locationID, channelRef)
		return nil
	})
}

// Definitions lists all definitions, for the admin surface.
func (e *Engine) Definitions(ctx context.Context) ([]*rules.ActionDefinition, error) {
	var out []*rules.ActionDefinition
	err := e.store.View(ctx, func(tx *store.Tx) error {
		out = tx.Definitions()
		return nil
	})
	return out, err
}

func (e *Engine) auditAuthoring(kind, defID, by string, ok bool, detail string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Write(auditlog.Entry{
		Kind:         kind,
		DefinitionID: defID,
		PrincipalID:  by,
		OK:           ok,
		Detail:       detail,
	}); err != nil {
		e.logger.Printf("audit write: %v", err)
	}
}

func unionLocations(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
