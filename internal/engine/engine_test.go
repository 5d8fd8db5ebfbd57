package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"actionforge.gg/internal/protocol"
	"actionforge.gg/internal/rules"
	"actionforge.gg/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.Store, context.Context, func()) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st, err := store.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = st.Run(ctx)
	}()
	eng := New(st, nil, logger)
	return eng, st, ctx, func() {
		cancel()
		<-done
	}
}

func seedPrincipal(t *testing.T, st *store.Store, ctx context.Context, p *rules.Principal) {
	t.Helper()
	if err := st.Update(ctx, func(tx *store.Tx) error {
		tx.PutPrincipal(p)
		return nil
	}); err != nil {
		t.Fatalf("seed principal: %v", err)
	}
}

func seedDefinition(t *testing.T, st *store.Store, ctx context.Context, d *rules.ActionDefinition) {
	t.Helper()
	d.Normalize()
	if err := st.Update(ctx, func(tx *store.Tx) error {
		tx.PutDefinition(d)
		return nil
	}); err != nil {
		t.Fatalf("seed definition: %v", err)
	}
}

func TestHandleTriggerUnknownDefinition(t *testing.T) {
	eng, _, ctx, stop := testEngine(t)
	defer stop()

	_, err := eng.HandleTrigger(ctx, Trigger{DefinitionID: "nope", PrincipalID: "p1"})
	var ce *Error
	if !errors.As(err, &ce) || ce.Code != protocol.ErrNotFound {
		t.Fatalf("want %s, got %v", protocol.ErrNotFound, err)
	}
}

func TestHandleTriggerAppliesEffects(t *testing.T) {
	eng, st, ctx, stop := testEngine(t)
	defer stop()

	seedPrincipal(t, st, ctx, &rules.Principal{ID: "p1", Balance: 100})
	seedDefinition(t, st, ctx, &rules.ActionDefinition{
		ID: "def_1", Name: "Reward", Trigger: rules.TriggerButton,
		Conditions: []rules.Condition{{Type: rules.CondCurrency, Operator: rules.OpGTE, Amount: 50}},
		Actions: []rules.Action{
			{Type: rules.ActionGiveCurrency, Currency: &rules.CurrencyEffect{Amount: 25}},
			{Type: rules.ActionGiveItem, Item: &rules.ItemEffect{ItemID: "sword", Quantity: 2}},
			{Type: rules.ActionGiveGroup, Group: &rules.GroupEffect{GroupID: "vip"}},
		},
	})

	res, err := eng.HandleTrigger(ctx, Trigger{DefinitionID: "def_1", PrincipalID: "p1"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !res.CondResult {
		t.Fatalf("conditions should pass")
	}
	for i, o := range res.Outcomes {
		if o.Status != StatusApplied {
			t.Fatalf("outcome %d: %s", i, o.Status)
		}
	}

	_ = st.View(ctx, func(tx *store.Tx) error {
		p, _ := tx.Principal("p1")
		if p.Balance != 125 {
			t.Fatalf("balance: %d", p.Balance)
		}
		if p.Inventory["sword"] != 2 {
			t.Fatalf("inventory: %v", p.Inventory)
		}
		if !p.InGroup("vip") {
			t.Fatalf("groups: %v", p.Groups)
		}
		return nil
	})
}

func TestHandleTriggerConditionsFailClosed(t *testing.T) {
	eng, st, ctx, stop := testEngine(t)
	defer stop()

	seedDefinition(t, st, ctx, &rules.ActionDefinition{
		ID: "def_1", Name: "Reward", Trigger: rules.TriggerButton,
		Conditions: []rules.Condition{{Type: rules.CondCurrency, Operator: rules.OpGTE, Amount: 0}},
		Actions: []rules.Action{
			{Type: rules.ActionGiveCurrency, Currency: &rules.CurrencyEffect{Amount: 25}},
		},
	})

	// Never-seen principal with a non-empty chain: false, actions skipped.
	res, err := eng.HandleTrigger(ctx, Trigger{DefinitionID: "def_1", PrincipalID: "ghost"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if res.CondResult {
		t.Fatalf("nil principal must fail closed")
	}
	if res.Outcomes[0].Status != StatusSkipped {
		t.Fatalf("gated action must skip: %s", res.Outcomes[0].Status)
	}

	// And no principal document materializes from a skipped run.
	_ = st.View(ctx, func(tx *store.Tx) error {
		if _, ok := tx.Principal("ghost"); ok {
			t.Fatalf("skipped run created a principal")
		}
		return nil
	})
}

func TestHandleTriggerGates(t *testing.T) {
	eng, st, ctx, stop := testEngine(t)
	defer stop()

	seedPrincipal(t, st, ctx, &rules.Principal{
		ID: "p1", Balance: 0,
		Attributes: map[string]bool{"beta_tester": true},
	})
	seedDefinition(t, st, ctx, &rules.ActionDefinition{
		ID: "def_1", Name: "Gated", Trigger: rules.TriggerButton,
		Conditions: []rules.Condition{{Type: rules.CondCurrency, Operator: rules.OpGTE, Amount: 1000}},
		Actions: []rules.Action{
			{Type: rules.ActionGiveCurrency, ExecuteOn: rules.GateOnTrue, Currency: &rules.CurrencyEffect{Amount: 10}},
			{Type: rules.ActionDisplayText, ExecuteOn: rules.GateOnFalse, Display: &rules.DisplayEffect{Text: "Not enough coins."}},
			{Type: rules.ActionGiveItem, ExecuteOn: "beta_tester", Item: &rules.ItemEffect{ItemID: "badge", Quantity: 1}},
			{Type: rules.ActionGiveItem, ExecuteOn: "vip_member", Item: &rules.ItemEffect{ItemID: "crown", Quantity: 1}},
		},
	})

	res, err := eng.HandleTrigger(ctx, Trigger{DefinitionID: "def_1", PrincipalID: "p1"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	want := []Status{StatusSkipped, StatusApplied, StatusApplied, StatusSkipped}
	for i, o := range res.Outcomes {
		if o.Status != want[i] {
			t.Fatalf("outcome %d: got %s want %s", i, o.Status, want[i])
		}
	}
}

func TestPartialRemoval(t *testing.T) {
	eng, st, ctx, stop := testEngine(t)
	defer stop()

	seedPrincipal(t, st, ctx, &rules.Principal{ID: "p1", Balance: 2, Inventory: map[string]int64{"gem": 2}})
	seedDefinition(t, st, ctx, &rules.ActionDefinition{
		ID: "def_1", Name: "Toll", Trigger: rules.TriggerButton,
		Actions: []rules.Action{
			{Type: rules.ActionGiveCurrency, Currency: &rules.CurrencyEffect{Op: rules.OpRemove, Amount: 5}},
			{Type: rules.ActionGiveItem, Item: &rules.ItemEffect{Op: rules.OpRemove, ItemID: "gem", Quantity: 5}},
		},
	})

	res, err := eng.HandleTrigger(ctx, Trigger{DefinitionID: "def_1", PrincipalID: "p1"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	for i, o := range res.Outcomes {
		if o.Status != StatusPartial {
			t.Fatalf("outcome %d: %s", i, o.Status)
		}
		if o.Removed != 2 || o.Requested != 5 {
			t.Fatalf("outcome %d: removed=%d requested=%d", i, o.Removed, o.Requested)
		}
	}

	_ = st.View(ctx, func(tx *store.Tx) error {
		p, _ := tx.Principal("p1")
		if p.Balance != 0 {
			t.Fatalf("balance must clamp at zero: %d", p.Balance)
		}
		if _, ok := p.Inventory["gem"]; ok {
			t.Fatalf("zero-quantity item must be dropped: %v", p.Inventory)
		}
		return nil
	})
}

func TestAtMostOnceUnderConcurrentTriggers(t *testing.T) {
	eng, st, ctx, stop := testEngine(t)
	defer stop()

	seedPrincipal(t, st, ctx, &rules.Principal{ID: "p1"})
	seedDefinition(t, st, ctx, &rules.ActionDefinition{
		ID: "def_1", Name: "Once", Trigger: rules.TriggerButton,
		Actions: []rules.Action{
			{Type: rules.ActionGiveCurrency, Currency: &rules.CurrencyEffect{
				Amount: 100,
				Limit:  rules.Limit{Type: rules.LimitOncePerPrincipal},
			}},
		},
	})

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = eng.HandleTrigger(ctx, Trigger{DefinitionID: "def_1", PrincipalID: "p1"})
		}()
	}
	wg.Wait()

	_ = st.View(ctx, func(tx *store.Tx) error {
		p, _ := tx.Principal("p1")
		if p.Balance != 100 {
			t.Fatalf("effect applied %d times over %d coins", n, p.Balance)
		}
		d, _ := tx.Definition("def_1")
		claimed := d.Actions[0].Currency.Limit.ClaimedBy
		if len(claimed) != 1 || claimed[0] != "p1" {
			t.Fatalf("ledger: %v", claimed)
		}
		return nil
	})
}

func TestOnceGlobalNamesHolder(t *testing.T) {
	eng, st, ctx, stop := testEngine(t)
	defer stop()

	seedPrincipal(t, st, ctx, &rules.Principal{ID: "first"})
	seedPrincipal(t, st, ctx, &rules.Principal{ID: "second"})
	seedDefinition(t, st, ctx, &rules.ActionDefinition{
		ID: "def_1", Name: "Trophy", Trigger: rules.TriggerButton,
		Actions: []rules.Action{
			{Type: rules.ActionGiveItem, Item: &rules.ItemEffect{
				ItemID: "trophy", Quantity: 1,
				Limit: rules.Limit{Type: rules.LimitOnceGlobal},
			}},
		},
	})

	if _, err := eng.HandleTrigger(ctx, Trigger{DefinitionID: "def_1", PrincipalID: "first"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := eng.HandleTrigger(ctx, Trigger{DefinitionID: "def_1", PrincipalID: "second"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	o := res.Outcomes[0]
	if o.Status != StatusAlreadyClaimed || o.ClaimedBy != "first" {
		t.Fatalf("outcome: %+v", o)
	}
	if o.Message != "Already claimed by first." {
		t.Fatalf("message: %q", o.Message)
	}

	_ = st.View(ctx, func(tx *store.Tx) error {
		p, _ := tx.Principal("second")
		if p.Inventory["trophy"] != 0 {
			t.Fatalf("denied claim still granted the item")
		}
		return nil
	})
}

func TestClaimMetricsCountOnlyLimitedOutcomes(t *testing.T) {
	eng, st, ctx, stop := testEngine(t)
	defer stop()

	seedPrincipal(t, st, ctx, &rules.Principal{ID: "p1"})
	seedDefinition(t, st, ctx, &rules.ActionDefinition{
		ID: "def_1", Name: "Mixed", Trigger: rules.TriggerButton,
		Actions: []rules.Action{
			{Type: rules.ActionDisplayText, Display: &rules.DisplayEffect{Text: "hi"}},
			{Type: rules.ActionGiveCurrency, Currency: &rules.CurrencyEffect{Amount: 5}},
			{Type: rules.ActionGiveItem, Item: &rules.ItemEffect{
				ItemID: "badge", Quantity: 1,
				Limit: rules.Limit{Type: rules.LimitOncePerPrincipal},
			}},
		},
	})

	if _, err := eng.HandleTrigger(ctx, Trigger{DefinitionID: "def_1", PrincipalID: "p1"}); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	m := eng.MetricsRef()
	// Display and unlimited currency applied too, but only the limited item
	// was a claim decision.
	if got := m.ClaimsGranted.Load(); got != 1 {
		t.Fatalf("granted after first trigger: %d", got)
	}
	if got := m.ClaimsDenied.Load(); got != 0 {
		t.Fatalf("denied after first trigger: %d", got)
	}

	if _, err := eng.HandleTrigger(ctx, Trigger{DefinitionID: "def_1", PrincipalID: "p1"}); err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if got := m.ClaimsGranted.Load(); got != 1 {
		t.Fatalf("granted after repeat: %d", got)
	}
	if got := m.ClaimsDenied.Load(); got != 1 {
		t.Fatalf("denied after repeat: %d", got)
	}
}

func TestClaimGrantSurvivesRestart(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	dir := t.TempDir()

	st, err := store.Open(dir, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = st.Run(ctx) }()

	eng := New(st, nil, logger)
	seedPrincipal(t, st, ctx, &rules.Principal{ID: "p1"})
	seedDefinition(t, st, ctx, &rules.ActionDefinition{
		ID: "def_1", Name: "Once", Trigger: rules.TriggerButton,
		Actions: []rules.Action{
			{Type: rules.ActionGiveCurrency, Currency: &rules.CurrencyEffect{
				Amount: 100,
				Limit:  rules.Limit{Type: rules.LimitOncePerPrincipal},
			}},
		},
	})
	if _, err := eng.HandleTrigger(ctx, Trigger{DefinitionID: "def_1", PrincipalID: "p1"}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	cancel()
	<-done

	// Restart from disk; the claim must still block.
	st2, err := store.Open(dir, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ctx2, cancel2 := context.WithCancel(context.Background())
	done2 := make(chan struct{})
	go func() { defer close(done2); _ = st2.Run(ctx2) }()
	defer func() { cancel2(); <-done2 }()

	eng2 := New(st2, nil, logger)
	res, err := eng2.HandleTrigger(ctx2, Trigger{DefinitionID: "def_1", PrincipalID: "p1"})
	if err != nil {
		t.Fatalf("trigger after restart: %v", err)
	}
	if res.Outcomes[0].Status != StatusAlreadyClaimed {
		t.Fatalf("claim lost across restart: %s", res.Outcomes[0].Status)
	}
	_ = st2.View(ctx2, func(tx *store.Tx) error {
		p, _ := tx.Principal("p1")
		if p.Balance != 100 {
			t.Fatalf("balance after restart: %d", p.Balance)
		}
		return nil
	})
}
