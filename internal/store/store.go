// Package store owns the engine's document tree: principals, action
// definitions, anchor records and the location registry. All access runs on a
// single writer goroutine; callers submit closures via Update/View, so every
// check-and-reserve plus its effect and persistence is one serialized unit.
package store

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"actionforge.gg/internal/rules"
)

type Store struct {
	dir    string
	logger *log.Logger

	ops  chan op
	stop chan struct{}

	st *state // owned by the Run goroutine after Run starts
}

type op struct {
	update bool
	fn     func(tx *Tx) error
	resp   chan error
}

type state struct {
	principals map[string]*rules.Principal
	defs       map[string]*rules.ActionDefinition
	anchors    map[string]*rules.AnchorRecord
	locations  map[string]string // location id -> external channel ref
}

const (
	dirPrincipals  = "principals"
	dirDefinitions = "definitions"
	dirAnchors     = "anchors"
	locationsFile  = "locations.json"
)

// Open loads every document under dir. The store is not usable until Run is
// started.
func Open(dir string, logger *log.Logger) (*Store, error) {
	st := &state{
		principals: map[string]*rules.Principal{},
		defs:       map[string]*rules.ActionDefinition{},
		anchors:    map[string]*rules.AnchorRecord{},
		locations:  map[string]string{},
	}
	for _, sub := range []string{dirPrincipals, dirDefinitions, dirAnchors} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, err
		}
	}

	if err := loadDir(filepath.Join(dir, dirPrincipals), func(id string, raw []byte) error {
		var p rules.Principal
		if err := unmarshalDoc(raw, &p); err != nil {
			return err
		}
		st.principals[p.ID] = &p
		return nil
	}); err != nil {
		return nil, err
	}
	if err := loadDir(filepath.Join(dir, dirDefinitions), func(id string, raw []byte) error {
		var d rules.ActionDefinition
		if err := unmarshalDoc(raw, &d); err != nil {
			return err
		}
		d.Normalize()
		st.defs[d.ID] = &d
		return nil
	}); err != nil {
		return nil, err
	}
	if err := loadDir(filepath.Join(dir, dirAnchors), func(id string, raw []byte) error {
		var a rules.AnchorRecord
		if err := unmarshalDoc(raw, &a); err != nil {
			return err
		}
		st.anchors[a.LocationID] = &a
		return nil
	}); err != nil {
		return nil, err
	}
	if raw, err := os.ReadFile(filepath.Join(dir, locationsFile)); err == nil {
		if err := unmarshalDoc(raw, &st.locations); err != nil {
			return nil, fmt.Errorf("locations: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return &Store{
		dir:    dir,
		logger: logger,
		ops:    make(chan op, 256),
		stop:   make(chan struct{}),
		st:     st,
	}, nil
}

// Run owns the state until ctx is canceled or Stop is called.
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case o := <-s.ops:
			o.resp <- s.execute(o)
		}
	}
}

func (s *Store) Stop() { close(s.stop) }

// QueueDepth reports the op channel backlog, for metrics.
func (s *Store) QueueDepth() int { return len(s.ops) }

// Update runs fn against a scratch view of the state. When fn returns nil,
// the touched documents are written to disk and only then installed in
// memory, so a persistence failure leaves memory exactly as before: a claim
// can never outlive a lost effect.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return s.submit(ctx, op{update: true, fn: fn, resp: make(chan error, 1)})
}

// View runs fn read-only. Documents handed out are clones; mutating them has
// no effect on the store.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return s.submit(ctx, op{fn: fn, resp: make(chan error, 1)})
}

func (s *Store) submit(ctx context.Context, o op) error {
	select {
	case s.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return fmt.Errorf("store stopped")
	}
	select {
	case err := <-o.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) execute(o op) error {
	tx := &Tx{st: s.st, ro: !o.update}
	if err := o.fn(tx); err != nil {
		return err
	}
	if !o.update || !tx.dirty() {
		return nil
	}
	if err := s.persist(tx); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	tx.install()
	return nil
}

// persist writes dirty documents. Principals go first: if the process dies
// mid-write, the surviving order is effect-without-claim, which a later
// retry resolves safely (the reverse, claim-without-effect, would not).
func (s *Store) persist(tx *Tx) error {
	for id, p := range tx.principals {
		path := filepath.Join(s.dir, dirPrincipals, docFile(id))
		if p == nil {
			if err := removeDoc(path); err != nil {
				return err
			}
			continue
		}
		if err := writeDoc(path, p); err != nil {
			return err
		}
	}
	for id, d := range tx.defs {
		path := filepath.Join(s.dir, dirDefinitions, docFile(id))
		if d == nil {
			if err := removeDoc(path); err != nil {
				return err
			}
			continue
		}
		if err := writeDoc(path, d); err != nil {
			return err
		}
	}
	for id, a := range tx.anchors {
		path := filepath.Join(s.dir, dirAnchors, docFile(id))
		if a == nil {
			if err := removeDoc(path); err != nil {
				return err
			}
			continue
		}
		if err := writeDoc(path, a); err != nil {
			return err
		}
	}
	if tx.locationsDirty {
		if err := writeDoc(filepath.Join(s.dir, locationsFile), tx.locations); err != nil {
			return err
		}
	}
	return nil
}

func docFile(id string) string {
	return url.PathEscape(id) + ".json"
}

func loadDir(dir string, add func(id string, raw []byte) error) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		if err := add(id, raw); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return nil
}
