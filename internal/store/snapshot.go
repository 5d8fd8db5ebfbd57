package store

import (
	"context"
	"sort"
	"time"

	"actionforge.gg/internal/persistence/snapshot"
	"actionforge.gg/internal/rules"
)

// Snapshot captures the full document tree for backup.
func (s *Store) Snapshot(ctx context.Context) (snapshot.StateV1, error) {
	snap := snapshot.StateV1{
		Header:    snapshot.Header{Version: 1, TakenAt: time.Now().UTC()},
		Locations: map[string]string{},
	}
	err := s.View(ctx, func(tx *Tx) error {
		for _, id := range tx.Locations() {
			ref, _ := tx.ChannelRef(id)
			snap.Locations[id] = ref
		}
		for _, d := range tx.Definitions() {
			snap.Definitions = append(snap.Definitions, *d)
		}
		for _, loc := range tx.AnchorLocations() {
			if a, ok := tx.Anchor(loc); ok {
				snap.Anchors = append(snap.Anchors, *a)
			}
		}
		for _, p := range tx.principalsSnapshot() {
			snap.Principals = append(snap.Principals, *p)
		}
		return nil
	})
	return snap, err
}

// Restore replaces the document tree with snapshot contents and persists
// every document. Intended for boot-time recovery into an empty data dir.
func (s *Store) Restore(ctx context.Context, snap snapshot.StateV1) error {
	return s.Update(ctx, func(tx *Tx) error {
		for id, ref := range snap.Locations {
			tx.PutLocation(id, ref)
		}
		for i := range snap.Principals {
			p := snap.Principals[i]
			tx.PutPrincipal(&p)
		}
		for i := range snap.Definitions {
			d := snap.Definitions[i]
			d.Normalize()
			tx.PutDefinition(&d)
		}
		for i := range snap.Anchors {
			a := snap.Anchors[i]
			tx.PutAnchor(&a)
		}
		return nil
	})
}

// principalsSnapshot clones every principal document, ordered by id.
func (tx *Tx) principalsSnapshot() []*rules.Principal {
	ids := make([]string, 0, len(tx.st.principals))
	for id := range tx.st.principals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*rules.Principal, 0, len(ids))
	for _, id := range ids {
		if p, ok := tx.Principal(id); ok {
			out = append(out, p)
		}
	}
	return out
}
