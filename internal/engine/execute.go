package engine

import (
	"fmt"

	"actionforge.gg/internal/rules"
	"actionforge.gg/internal/store"
)

// Status classifies one action's outcome.
type Status string

const (
	StatusApplied        Status = "applied"
	StatusPartial        Status = "partial"
	StatusSkipped        Status = "skipped"
	StatusAlreadyClaimed Status = "already_claimed"
)

// Outcome is the result of applying one action.
type Outcome struct {
	Index  int
	Type   rules.ActionType
	Status Status

	// Message is the user-facing line folded into the bundle payload.
	// Skipped outcomes carry none.
	Message string

	// ClaimedBy names the prior claimant for a denied once_global limit.
	ClaimedBy string

	// Limited marks an outcome that consulted a claim limit.
	Limited bool

	Display  *rules.DisplayEffect
	FollowUp *rules.FollowUpEffect

	// Removal bookkeeping: Removed < Requested flags a partial removal.
	Removed   int64
	Requested int64
}

type runState struct {
	tx          *store.Tx
	def         *rules.ActionDefinition
	principal   *rules.Principal
	principalID string

	principalDirty bool
	defDirty       bool
}

// mutable returns the principal document to mutate, creating it for a
// never-seen principal. Granting to an unknown principal is legal; only
// condition evaluation fails closed.
func (r *runState) mutable() *rules.Principal {
	if r.principal == nil {
		r.principal = r.tx.EnsurePrincipal(r.principalID)
	}
	r.principalDirty = true
	return r.principal
}

func (e *Engine) applyAction(r *runState, idx int, cond bool) Outcome {
	a := &r.def.Actions[idx]
	out := Outcome{Index: idx, Type: a.Type}

	if !gateAllows(a.ExecuteOn, cond, r.principal) {
		out.Status = StatusSkipped
		return out
	}

	switch a.Type {
	case rules.ActionDisplayText:
		out.Status = StatusApplied
		out.Display = a.Display
		return out

	case rules.ActionFollowUp:
		// Exposed as a next-step trigger, never executed inline.
		out.Status = StatusApplied
		out.FollowUp = a.FollowUp
		return out
	}

	// Everything below is claim-gated. The reserve mutates the definition's
	// limit in place; principal mutation follows in the same store update,
	// so the two persist (or fail) together.
	limit := a.LimitRef()
	out.Limited = limit.Type != rules.LimitUnlimited
	rr := limit.TryReserve(r.principalID)
	if rr.Outcome == rules.ReserveDenied {
		out.Status = StatusAlreadyClaimed
		out.ClaimedBy = rr.By
		if limit.Type == rules.LimitOnceGlobal {
			out.Message = fmt.Sprintf("Already claimed by %s.", rr.By)
		} else {
			out.Message = "Already claimed."
		}
		return out
	}
	if rr.Outcome == rules.ReserveGranted {
		r.defDirty = true
	}

	switch a.Type {
	case rules.ActionGiveCurrency:
		e.applyCurrency(r, a.Currency, &out)
	case rules.ActionGiveItem:
		e.applyItem(r, a.Item, &out)
	case rules.ActionGiveGroup:
		p := r.mutable()
		p.AddGroup(a.Group.GroupID)
		out.Status = StatusApplied
		out.Message = fmt.Sprintf("Added to group %s.", a.Group.GroupID)
	case rules.ActionRemoveGroup:
		p := r.mutable()
		p.RemoveGroup(a.Group.GroupID)
		out.Status = StatusApplied
		out.Message = fmt.Sprintf("Removed from group %s.", a.Group.GroupID)
	}
	return out
}

func (e *Engine) applyCurrency(r *runState, eff *rules.CurrencyEffect, out *Outcome) {
	p := r.mutable()
	if eff.Op == rules.OpRemove {
		cur := p.Balance
		removed := eff.Amount
		if removed > cur {
			removed = cur
		}
		final := cur - eff.Amount
		if final < 0 {
			final = 0
		}
		p.Balance = final
		out.Removed, out.Requested = removed, eff.Amount
		if removed == eff.Amount {
			out.Status = StatusApplied
			out.Message = fmt.Sprintf("Lost %d coins.", eff.Amount)
		} else {
			// Partial removal is a reported edge case, not an error.
			out.Status = StatusPartial
			out.Message = fmt.Sprintf("Lost %d of %d coins.", removed, eff.Amount)
		}
		return
	}
	p.Balance += eff.Amount
	out.Status = StatusApplied
	out.Message = fmt.Sprintf("Received %d coins.", eff.Amount)
}

func (e *Engine) applyItem(r *runState, eff *rules.ItemEffect, out *Outcome) {
	p := r.mutable()
	if p.Inventory == nil {
		p.Inventory = map[string]int64{}
	}
	if eff.Op == rules.OpRemove {
		cur := p.Inventory[eff.ItemID]
		removed := eff.Quantity
		if removed > cur {
			removed = cur
		}
		final := cur - eff.Quantity
		if final < 0 {
			final = 0
		}
		if final == 0 {
			delete(p.Inventory, eff.ItemID)
		} else {
			p.Inventory[eff.ItemID] = final
		}
		out.Removed, out.Requested = removed, eff.Quantity
		if removed == eff.Quantity {
			out.Status = StatusApplied
			out.Message = fmt.Sprintf("Lost %d × %s.", eff.Quantity, eff.ItemID)
		} else {
			out.Status = StatusPartial
			out.Message = fmt.Sprintf("Lost %d of %d × %s.", removed, eff.Quantity, eff.ItemID)
		}
		return
	}
	p.Inventory[eff.ItemID] += eff.Quantity
	out.Status = StatusApplied
	out.Message = fmt.Sprintf("Received %d × %s.", eff.Quantity, eff.ItemID)
}

// gateAllows decides whether an action runs. The literal gates follow the
// condition result; any other value names a principal attribute, which must
// be present and true.
func gateAllows(gate rules.Gate, cond bool, p *rules.Principal) bool {
	switch gate {
	case rules.GateOnTrue:
		return cond
	case rules.GateOnFalse:
		return !cond
	default:
		return p != nil && p.Attributes[string(gate)]
	}
}
