package rules

// ReserveOutcome classifies a claim check-and-reserve.
type ReserveOutcome int

const (
	// ReserveUnlimited: no limit applies, nothing recorded.
	ReserveUnlimited ReserveOutcome = iota
	// ReserveGranted: the claim was recorded for the principal.
	ReserveGranted
	// ReserveDenied: a prior claim blocks this principal.
	ReserveDenied
)

// ReserveResult reports a reservation attempt. By names the prior claimant
// when a once_global limit is already held.
type ReserveResult struct {
	Outcome ReserveOutcome
	By      string
}

// TryReserve performs the at-most-once check-and-reserve against the limit.
// It mutates the limit in place, so it must only run inside a store update,
// where the whole check+mutate+persist is a single serialized unit.
func (l *Limit) TryReserve(principalID string) ReserveResult {
	switch l.Type {
	case LimitOncePerPrincipal:
		for _, id := range l.ClaimedBy {
			if id == principalID {
				return ReserveResult{Outcome: ReserveDenied, By: principalID}
			}
		}
		l.ClaimedBy = append(l.ClaimedBy, principalID)
		return ReserveResult{Outcome: ReserveGranted}
	case LimitOnceGlobal:
		if l.ClaimedOnce != "" {
			return ReserveResult{Outcome: ReserveDenied, By: l.ClaimedOnce}
		}
		l.ClaimedOnce = principalID
		return ReserveResult{Outcome: ReserveGranted}
	default:
		return ReserveResult{Outcome: ReserveUnlimited}
	}
}

// CarryClaims copies claim ledgers from prev into next for actions whose
// position and type both match, so authoring edits and imports preserve
// usage counters instead of resetting limited rewards.
func CarryClaims(next, prev *ActionDefinition) {
	for i := range next.Actions {
		if i >= len(prev.Actions) {
			return
		}
		if next.Actions[i].Type != prev.Actions[i].Type {
			continue
		}
		nl, pl := next.Actions[i].LimitRef(), prev.Actions[i].LimitRef()
		if nl == nil || pl == nil {
			continue
		}
		nl.ClaimedBy = append([]string(nil), pl.ClaimedBy...)
		nl.ClaimedOnce = pl.ClaimedOnce
	}
}

// ResetClaims clears the claim ledger of every action in the definition.
// Used by export (claims never leave the source system) and by authoring
// resets.
func (d *ActionDefinition) ResetClaims() {
	for i := range d.Actions {
		if l := d.Actions[i].LimitRef(); l != nil {
			l.ClaimedBy = nil
			l.ClaimedOnce = ""
		}
	}
}
