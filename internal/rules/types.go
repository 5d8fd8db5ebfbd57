// Package rules holds the authored data model: action definitions, their
// condition chains, effect variants and claim limits, plus the principal and
// anchor documents they read and mutate.
package rules

import (
	"sort"
	"time"
)

type TriggerKind string

const (
	TriggerButton TriggerKind = "button"
	TriggerForm   TriggerKind = "form"
)

type ActionType string

const (
	ActionGiveCurrency ActionType = "give_currency"
	ActionGiveItem     ActionType = "give_item"
	ActionGiveGroup    ActionType = "give_group"
	ActionRemoveGroup  ActionType = "remove_group"
	ActionDisplayText  ActionType = "display_text"
	ActionFollowUp     ActionType = "follow_up"
)

type Operation string

const (
	OpGive   Operation = "give"
	OpRemove Operation = "remove"
)

type LimitType string

const (
	LimitUnlimited        LimitType = "unlimited"
	LimitOncePerPrincipal LimitType = "once_per_principal"
	LimitOnceGlobal       LimitType = "once_global"
)

// Gate selects whether an action runs based on the owning condition chain's
// boolean result. Besides the two literal values, any other string names a
// principal attribute: the action runs only when that attribute is set.
type Gate string

const (
	GateOnTrue  Gate = "true"
	GateOnFalse Gate = "false"
)

// ActionDefinition is the unit of authored behavior.
type ActionDefinition struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Trigger       TriggerKind   `json:"trigger_kind"`
	TriggerConfig TriggerConfig `json:"trigger_config,omitempty"`

	// Conditions is the ordered predicate chain; empty means vacuously true.
	Conditions []Condition `json:"conditions,omitempty"`

	// Actions is the authoritative execution order. The per-action Order
	// field is cosmetic; nothing may reorder based on it.
	Actions []Action `json:"actions"`

	// Locations is the set of location ids exposing this definition.
	// Kept sorted; treated as a set.
	Locations []string `json:"locations,omitempty"`

	Meta UsageMeta `json:"meta,omitempty"`
}

type TriggerConfig struct {
	ButtonLabel string `json:"button_label,omitempty"`
	ButtonStyle string `json:"button_style,omitempty"`
	FormPrompt  string `json:"form_prompt,omitempty"`
}

type UsageMeta struct {
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

type ConditionType string

const (
	CondCurrency ConditionType = "currency"
	CondItem     ConditionType = "item"
	CondGroup    ConditionType = "group"
)

type Operator string

const (
	OpGTE    Operator = "gte"
	OpLTE    Operator = "lte"
	OpEqZero Operator = "eq_zero"
	OpHas    Operator = "has"
	OpNotHas Operator = "not_has"
)

// Connector joins a condition to the NEXT one in the chain. The final
// condition carries none.
type Connector string

const (
	ConnAnd Connector = "AND"
	ConnOr  Connector = "OR"
)

// Condition is one predicate node in an ordered chain.
type Condition struct {
	Type     ConditionType `json:"type"`
	Operator Operator      `json:"operator"`

	Amount  int64  `json:"amount,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`

	Logic Connector `json:"logic,omitempty"`
}

// Action is one effect, a tagged variant: exactly one config pointer is set,
// matching Type.
type Action struct {
	Type      ActionType `json:"type"`
	Order     int        `json:"order"`
	ExecuteOn Gate       `json:"execute_on"`

	Currency *CurrencyEffect `json:"currency,omitempty"`
	Item     *ItemEffect     `json:"item,omitempty"`
	Group    *GroupEffect    `json:"group,omitempty"`
	Display  *DisplayEffect  `json:"display,omitempty"`
	FollowUp *FollowUpEffect `json:"follow_up,omitempty"`
}

type CurrencyEffect struct {
	Op     Operation `json:"operation,omitempty"`
	Amount int64     `json:"amount"`
	Limit  Limit     `json:"limit,omitempty"`
}

type ItemEffect struct {
	Op       Operation `json:"operation,omitempty"`
	ItemID   string    `json:"item_id"`
	Quantity int64     `json:"quantity"`
	Limit    Limit     `json:"limit,omitempty"`
}

type GroupEffect struct {
	GroupID string `json:"group_id"`
	Limit   Limit  `json:"limit,omitempty"`
}

type DisplayEffect struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

type FollowUpEffect struct {
	DefinitionID string `json:"definition_id"`
	Label        string `json:"label,omitempty"`
}

// Limit is the claim ledger for one action. ClaimedBy is the per-principal
// encoding, ClaimedOnce the single-owner encoding; which one is live depends
// on Type. These fields are the single source of truth for prior grants.
type Limit struct {
	Type        LimitType `json:"type,omitempty"`
	ClaimedBy   []string  `json:"claimed_by,omitempty"`
	ClaimedOnce string    `json:"claimed_once,omitempty"`
}

// Principal is the acting entity whose state conditions read and actions
// mutate.
type Principal struct {
	ID         string          `json:"id"`
	Balance    int64           `json:"balance"`
	Inventory  map[string]int64 `json:"inventory,omitempty"`
	Groups     []string        `json:"groups,omitempty"`
	Attributes map[string]bool `json:"attributes,omitempty"`
}

// AnchorRecord is per-location synchronization state: where the location's
// external message lives and what was last rendered into it.
type AnchorRecord struct {
	LocationID    string    `json:"location_id"`
	ChannelRef    string    `json:"channel_ref,omitempty"`
	MessageRef    string    `json:"message_ref,omitempty"`
	Rendered      []string  `json:"rendered,omitempty"`
	ContentDigest string    `json:"content_digest,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Normalize fills backward-compatible defaults: a currency/item effect with
// no operation means give, and an unset limit type means unlimited. Authoring
// and import both call this before validation.
func (d *ActionDefinition) Normalize() {
	for i := range d.Actions {
		a := &d.Actions[i]
		if a.ExecuteOn == "" {
			a.ExecuteOn = GateOnTrue
		}
		a.Order = i
		if a.Currency != nil {
			if a.Currency.Op == "" {
				a.Currency.Op = OpGive
			}
			if a.Currency.Limit.Type == "" {
				a.Currency.Limit.Type = LimitUnlimited
			}
		}
		if a.Item != nil {
			if a.Item.Op == "" {
				a.Item.Op = OpGive
			}
			if a.Item.Limit.Type == "" {
				a.Item.Limit.Type = LimitUnlimited
			}
		}
		if a.Group != nil && a.Group.Limit.Type == "" {
			a.Group.Limit.Type = LimitUnlimited
		}
	}
	sort.Strings(d.Locations)
	d.Locations = dedupeSorted(d.Locations)
}

// Limit returns the claim limit governing the action, or nil for kinds that
// are never claim-gated (display_text, follow_up).
func (a *Action) LimitRef() *Limit {
	switch {
	case a.Currency != nil:
		return &a.Currency.Limit
	case a.Item != nil:
		return &a.Item.Limit
	case a.Group != nil:
		return &a.Group.Limit
	}
	return nil
}

func (d *ActionDefinition) Clone() *ActionDefinition {
	if d == nil {
		return nil
	}
	out := *d
	out.Conditions = append([]Condition(nil), d.Conditions...)
	out.Locations = append([]string(nil), d.Locations...)
	out.Meta.Tags = append([]string(nil), d.Meta.Tags...)
	out.Actions = make([]Action, len(d.Actions))
	for i, a := range d.Actions {
		out.Actions[i] = *a.clone()
	}
	return &out
}

func (a *Action) clone() *Action {
	c := *a
	if a.Currency != nil {
		cc := *a.Currency
		cc.Limit = a.Currency.Limit.clone()
		c.Currency = &cc
	}
	if a.Item != nil {
		ic := *a.Item
		ic.Limit = a.Item.Limit.clone()
		c.Item = &ic
	}
	if a.Group != nil {
		gc := *a.Group
		gc.Limit = a.Group.Limit.clone()
		c.Group = &gc
	}
	if a.Display != nil {
		dc := *a.Display
		c.Display = &dc
	}
	if a.FollowUp != nil {
		fc := *a.FollowUp
		c.FollowUp = &fc
	}
	return &c
}

func (l Limit) clone() Limit {
	l.ClaimedBy = append([]string(nil), l.ClaimedBy...)
	return l
}

func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	out := *p
	out.Groups = append([]string(nil), p.Groups...)
	if p.Inventory != nil {
		out.Inventory = make(map[string]int64, len(p.Inventory))
		for k, v := range p.Inventory {
			out.Inventory[k] = v
		}
	}
	if p.Attributes != nil {
		out.Attributes = make(map[string]bool, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = v
		}
	}
	return &out
}

func (r *AnchorRecord) Clone() *AnchorRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Rendered = append([]string(nil), r.Rendered...)
	return &out
}

// InGroup reports membership; Groups is kept sorted.
func (p *Principal) InGroup(groupID string) bool {
	i := sort.SearchStrings(p.Groups, groupID)
	return i < len(p.Groups) && p.Groups[i] == groupID
}

// AddGroup inserts groupID keeping Groups sorted. Idempotent.
func (p *Principal) AddGroup(groupID string) {
	i := sort.SearchStrings(p.Groups, groupID)
	if i < len(p.Groups) && p.Groups[i] == groupID {
		return
	}
	p.Groups = append(p.Groups, "")
	copy(p.Groups[i+1:], p.Groups[i:])
	p.Groups[i] = groupID
}

// RemoveGroup removes groupID if present. Idempotent.
func (p *Principal) RemoveGroup(groupID string) {
	i := sort.SearchStrings(p.Groups, groupID)
	if i < len(p.Groups) && p.Groups[i] == groupID {
		p.Groups = append(p.Groups[:i], p.Groups[i+1:]...)
	}
}

func dedupeSorted(s []string) []string {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
