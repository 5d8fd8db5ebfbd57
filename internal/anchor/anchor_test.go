package anchor

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"actionforge.gg/internal/publish"
	"actionforge.gg/internal/rules"
	"actionforge.gg/internal/store"
)

func testFixture(t *testing.T, cfg Config) (*Synchronizer, *store.Store, *publish.Memory, context.Context) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st, err := store.Open(t.TempDir(), logger)
	require.NoError(t, err)
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
	mem := publish.NewMemory()
	return New(st, mem, cfg, nil, logger), st, mem, ctx
}

func seedDef(t *testing.T, st *store.Store, ctx context.Context, id, name string, locations ...string) {
	t.Helper()
	d := &rules.ActionDefinition{
		ID: id, Name: name, Trigger: rules.TriggerButton,
		Actions:   []rules.Action{{Type: rules.ActionDisplayText, Display: &rules.DisplayEffect{Text: "hi"}}},
		Locations: locations,
	}
	d.Normalize()
	require.NoError(t, st.Update(ctx, func(tx *store.Tx) error {
		tx.PutDefinition(d)
		return nil
	}))
}

func seedLocation(t *testing.T, st *store.Store, ctx context.Context, loc, channel string) {
	t.Helper()
	require.NoError(t, st.Update(ctx, func(tx *store.Tx) error {
		tx.PutLocation(loc, channel)
		return nil
	}))
}

func TestSyncPublishesAndIsIdempotent(t *testing.T) {
	s, st, mem, ctx := testFixture(t, Config{})
	seedLocation(t, st, ctx, "loc_a", "chan_1")
	seedDef(t, st, ctx, "def_b", "Bravo", "loc_a")
	seedDef(t, st, ctx, "def_a", "Alpha", "loc_a")

	results, err := s.SyncAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results["loc_a"]
	require.Equal(t, StatusPublished, res.Status)
	require.NotEmpty(t, res.MessageRef)

	p, ok := mem.Message(res.MessageRef)
	require.True(t, ok)
	require.Equal(t, "2 action(s) available:", p.Content)
	// Name order, not insertion order.
	require.Equal(t, "Alpha", p.Elements[0].Label)
	require.Equal(t, "Bravo", p.Elements[1].Label)

	writes := mem.Writes()
	results, err = s.SyncAll(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusUnchanged, results["loc_a"].Status)
	require.Equal(t, writes, mem.Writes())
}

func TestSyncUpdatesExistingMessage(t *testing.T) {
	s, st, mem, ctx := testFixture(t, Config{})
	seedLocation(t, st, ctx, "loc_a", "chan_1")
	seedDef(t, st, ctx, "def_a", "Alpha", "loc_a")

	results, err := s.SyncAll(ctx)
	require.NoError(t, err)
	ref := results["loc_a"].MessageRef

	seedDef(t, st, ctx, "def_b", "Bravo", "loc_a")
	results, err = s.SyncAll(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, results["loc_a"].Status)
	// Same message, new content.
	require.Equal(t, ref, results["loc_a"].MessageRef)
	p, _ := mem.Message(ref)
	require.Len(t, p.Elements, 2)
}

func TestSyncRepairsExternallyDeletedMessage(t *testing.T) {
	s, st, mem, ctx := testFixture(t, Config{})
	seedLocation(t, st, ctx, "loc_a", "chan_1")
	seedDef(t, st, ctx, "def_a", "Alpha", "loc_a")

	results, err := s.SyncAll(ctx)
	require.NoError(t, err)
	oldRef := results["loc_a"].MessageRef

	mem.Drop(oldRef)
	seedDef(t, st, ctx, "def_b", "Bravo", "loc_a")

	results, err = s.SyncAll(ctx)
	require.NoError(t, err)
	res := results["loc_a"]
	require.Equal(t, StatusPublished, res.Status)
	require.NotEqual(t, oldRef, res.MessageRef)
	_, ok := mem.Message(res.MessageRef)
	require.True(t, ok)

	var rec *rules.AnchorRecord
	require.NoError(t, st.View(ctx, func(tx *store.Tx) error {
		rec, _ = tx.Anchor("loc_a")
		return nil
	}))
	require.Equal(t, res.MessageRef, rec.MessageRef)
}

func TestSyncSkipsUnregisteredLocation(t *testing.T) {
	s, st, _, ctx := testFixture(t, Config{})
	seedDef(t, st, ctx, "def_a", "Alpha", "loc_nowhere")

	results, err := s.SyncAll(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, results["loc_nowhere"].Status)
	require.Equal(t, "no channel ref for location", results["loc_nowhere"].Detail)
}

func TestSyncOrphanAnchorRendersEmptyListing(t *testing.T) {
	s, st, mem, ctx := testFixture(t, Config{})
	seedLocation(t, st, ctx, "loc_a", "chan_1")
	seedDef(t, st, ctx, "def_a", "Alpha", "loc_a")

	results, err := s.SyncAll(ctx)
	require.NoError(t, err)
	ref := results["loc_a"].MessageRef

	require.NoError(t, st.Update(ctx, func(tx *store.Tx) error {
		tx.DeleteDefinition("def_a")
		return nil
	}))

	// The anchor record keeps the location in scope even with no definitions.
	results, err = s.SyncAll(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, results["loc_a"].Status)
	p, _ := mem.Message(ref)
	require.Equal(t, "No actions are available here right now.", p.Content)
	require.Empty(t, p.Elements)
}

func TestSyncLocationTimeout(t *testing.T) {
	s, st, mem, ctx := testFixture(t, Config{LocationTimeout: 30 * time.Millisecond})
	seedLocation(t, st, ctx, "loc_a", "chan_1")
	seedDef(t, st, ctx, "def_a", "Alpha", "loc_a")
	mem.Latency = 200 * time.Millisecond

	res := s.SyncLocation(ctx, "loc_a")
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, "timeout", res.Detail)
	require.Equal(t, int64(1), s.Failed.Load())
}

func TestSyncFailureDoesNotAbortBatch(t *testing.T) {
	s, st, mem, ctx := testFixture(t, Config{BatchSize: 10})
	seedLocation(t, st, ctx, "loc_ok", "chan_ok")
	seedLocation(t, st, ctx, "loc_bad", "chan_bad")
	seedDef(t, st, ctx, "def_a", "Alpha", "loc_ok", "loc_bad")
	mem.FailChannels = map[string]bool{"chan_bad": true}

	results, err := s.Sync(ctx, []string{"loc_bad", "loc_ok"})
	require.NoError(t, err)
	require.Equal(t, StatusPublished, results["loc_ok"].Status)
	require.Equal(t, StatusSkipped, results["loc_bad"].Status)
}

func TestRenderLocationOverflow(t *testing.T) {
	defs := make([]*rules.ActionDefinition, 0, 30)
	for i := 0; i < 30; i++ {
		defs = append(defs, &rules.ActionDefinition{
			ID: string(rune('a' + i)), Name: "N", Trigger: rules.TriggerButton,
		})
	}
	p, ids := renderLocation("loc_a", defs)
	require.Len(t, ids, 30)
	require.Len(t, p.Elements, 25)
	require.Contains(t, p.Content, "[some actions were omitted]")
}
