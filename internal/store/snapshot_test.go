package store

import (
	"testing"

	"actionforge.gg/internal/persistence/snapshot"
	"actionforge.gg/internal/rules"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	src, ctx, stopSrc := testStore(t, t.TempDir())
	defer stopSrc()

	def := &rules.ActionDefinition{
		ID: "def_1", Name: "One", Trigger: rules.TriggerButton,
		Actions: []rules.Action{
			{Type: rules.ActionGiveCurrency, Currency: &rules.CurrencyEffect{
				Amount: 10,
				Limit:  rules.Limit{Type: rules.LimitOncePerPrincipal, ClaimedBy: []string{"p1"}},
			}},
		},
		Locations: []string{"loc_a"},
	}
	def.Normalize()
	if err := src.Update(ctx, func(tx *Tx) error {
		tx.PutDefinition(def)
		tx.PutPrincipal(&rules.Principal{ID: "p1", Balance: 10, Groups: []string{"vip"}})
		tx.PutAnchor(&rules.AnchorRecord{LocationID: "loc_a", MessageRef: "msg_1", Rendered: []string{"def_1"}})
		tx.PutLocation("loc_a", "chan_1")
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snap, err := src.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	path := t.TempDir() + "/" + snapshot.FileName(snap.Header.TakenAt)
	if err := snapshot.Write(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := snapshot.Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	dst, ctx2, stopDst := testStore(t, t.TempDir())
	defer stopDst()
	if err := dst.Restore(ctx2, loaded); err != nil {
		t.Fatalf("restore: %v", err)
	}

	_ = dst.View(ctx2, func(tx *Tx) error {
		d, ok := tx.Definition("def_1")
		if !ok {
			t.Fatalf("definition missing after restore")
		}
		got := d.Actions[0].Currency.Limit.ClaimedBy
		if len(got) != 1 || got[0] != "p1" {
			t.Fatalf("claim ledger lost in snapshot: %v", got)
		}
		p, ok := tx.Principal("p1")
		if !ok || p.Balance != 10 || !p.InGroup("vip") {
			t.Fatalf("principal lost: %+v", p)
		}
		a, ok := tx.Anchor("loc_a")
		if !ok || a.MessageRef != "msg_1" {
			t.Fatalf("anchor lost: %+v", a)
		}
		if ref, _ := tx.ChannelRef("loc_a"); ref != "chan_1" {
			t.Fatalf("location lost: %q", ref)
		}
		return nil
	})
}
