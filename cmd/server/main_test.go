package main

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"actionforge.gg/internal/persistence/snapshot"
	"actionforge.gg/internal/rules"
	"actionforge.gg/internal/store"
)

func bootStore(t *testing.T, dataDir string) (*store.Store, context.Context) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st, err := store.Open(filepath.Join(dataDir, "docs"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = st.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return st, ctx
}

func writeSnapshot(t *testing.T, dataDir string, takenAt time.Time, defID string) string {
	t.Helper()
	def := rules.ActionDefinition{
		ID: defID, Name: "Snap", Trigger: rules.TriggerButton,
		Actions: []rules.Action{{Type: rules.ActionDisplayText, Display: &rules.DisplayEffect{Text: "hi"}}},
	}
	def.Normalize()
	snap := snapshot.StateV1{
		Header:      snapshot.Header{Version: 1, TakenAt: takenAt},
		Definitions: []rules.ActionDefinition{def},
	}
	path := filepath.Join(dataDir, "snapshots", snapshot.FileName(takenAt))
	if err := snapshot.Write(path, snap); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path
}

func TestRestoreAtBootPicksLatestSnapshot(t *testing.T) {
	dataDir := t.TempDir()
	writeSnapshot(t, dataDir, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "def_old")
	writeSnapshot(t, dataDir, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), "def_new")

	st, ctx := bootStore(t, dataDir)
	if err := restoreAtBoot(ctx, st, dataDir, "", log.New(io.Discard, "", 0)); err != nil {
		t.Fatalf("restore: %v", err)
	}

	_ = st.View(ctx, func(tx *store.Tx) error {
		if _, ok := tx.Definition("def_new"); !ok {
			t.Fatalf("latest snapshot not restored")
		}
		if _, ok := tx.Definition("def_old"); ok {
			t.Fatalf("older snapshot restored instead")
		}
		return nil
	})
}

func TestRestoreAtBootNoSnapshotsIsNoop(t *testing.T) {
	dataDir := t.TempDir()
	st, ctx := bootStore(t, dataDir)
	if err := restoreAtBoot(ctx, st, dataDir, "", log.New(io.Discard, "", 0)); err != nil {
		t.Fatalf("restore: %v", err)
	}
}

func TestRestoreAtBootSkipsNonEmptyTree(t *testing.T) {
	dataDir := t.TempDir()
	writeSnapshot(t, dataDir, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "def_snap")

	st, ctx := bootStore(t, dataDir)
	live := &rules.ActionDefinition{
		ID: "def_live", Name: "Live", Trigger: rules.TriggerButton,
		Actions: []rules.Action{{Type: rules.ActionDisplayText, Display: &rules.DisplayEffect{Text: "hi"}}},
	}
	live.Normalize()
	if err := st.Update(ctx, func(tx *store.Tx) error {
		tx.PutDefinition(live)
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := restoreAtBoot(ctx, st, dataDir, "", log.New(io.Discard, "", 0)); err != nil {
		t.Fatalf("restore: %v", err)
	}
	_ = st.View(ctx, func(tx *store.Tx) error {
		if _, ok := tx.Definition("def_snap"); ok {
			t.Fatalf("snapshot restored over live documents")
		}
		return nil
	})
}

func TestRestoreAtBootExplicitPathRequiresEmptyTree(t *testing.T) {
	dataDir := t.TempDir()
	path := writeSnapshot(t, dataDir, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "def_snap")

	st, ctx := bootStore(t, dataDir)
	if err := st.Update(ctx, func(tx *store.Tx) error {
		tx.PutPrincipal(&rules.Principal{ID: "p1"})
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := restoreAtBoot(ctx, st, dataDir, path, log.New(io.Discard, "", 0)); err == nil {
		t.Fatalf("explicit restore into a non-empty tree must fail")
	}

	// Same flag against a fresh tree restores.
	dataDir2 := t.TempDir()
	st2, ctx2 := bootStore(t, dataDir2)
	if err := restoreAtBoot(ctx2, st2, dataDir2, path, log.New(io.Discard, "", 0)); err != nil {
		t.Fatalf("restore: %v", err)
	}
	_ = st2.View(ctx2, func(tx *store.Tx) error {
		if _, ok := tx.Definition("def_snap"); !ok {
			t.Fatalf("snapshot not restored")
		}
		return nil
	})
}
