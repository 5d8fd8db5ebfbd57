package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError collects all authoring errors and warnings for a
// definition. Malformed configs are rejected here, at authoring time; the
// executor assumes validated input.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed with %d error(s):\n  %s",
		len(e.Errors), strings.Join(e.Errors, "\n  "))
}

func (e *ValidationError) errf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

func (e *ValidationError) warnf(format string, args ...any) {
	e.Warnings = append(e.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks a normalized definition: JSON shape against the embedded
// schema, then variant and connector consistency. Returns *ValidationError
// (with all problems accumulated) or nil.
func Validate(d *ActionDefinition) error {
	ve := &ValidationError{}

	validateShape(d, ve)

	if d.ID == "" {
		ve.errf("id is required")
	}
	if d.Name == "" {
		ve.errf("name is required")
	}
	if d.Trigger != TriggerButton && d.Trigger != TriggerForm {
		ve.errf("trigger_kind %q is not button or form", d.Trigger)
	}

	for i, c := range d.Conditions {
		validateCondition(i, c, i == len(d.Conditions)-1, ve)
	}

	if len(d.Actions) == 0 {
		ve.warnf("definition has no actions")
	}
	for i := range d.Actions {
		validateAction(i, &d.Actions[i], ve)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateShape(d *ActionDefinition, ve *ValidationError) {
	raw, err := json.Marshal(d)
	if err != nil {
		ve.errf("marshal: %v", err)
		return
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		ve.errf("unmarshal: %v", err)
		return
	}
	if err := definitionSchema.Validate(doc); err != nil {
		ve.errf("schema: %v", err)
	}
}

func validateCondition(i int, c Condition, last bool, ve *ValidationError) {
	switch c.Type {
	case CondCurrency:
		switch c.Operator {
		case OpGTE, OpLTE:
			if c.Amount < 0 {
				ve.errf("conditions[%d]: currency amount must be >= 0", i)
			}
		case OpEqZero:
		default:
			ve.errf("conditions[%d]: operator %q invalid for currency", i, c.Operator)
		}
	case CondItem:
		if c.Operator != OpHas && c.Operator != OpNotHas {
			ve.errf("conditions[%d]: operator %q invalid for item", i, c.Operator)
		}
		if c.ItemID == "" {
			ve.errf("conditions[%d]: item_id is required", i)
		}
	case CondGroup:
		if c.Operator != OpHas && c.Operator != OpNotHas {
			ve.errf("conditions[%d]: operator %q invalid for group", i, c.Operator)
		}
		if c.GroupID == "" {
			ve.errf("conditions[%d]: group_id is required", i)
		}
	default:
		ve.errf("conditions[%d]: unknown type %q", i, c.Type)
	}

	if last {
		if c.Logic != "" {
			ve.warnf("conditions[%d]: trailing connector %q is ignored", i, c.Logic)
		}
	} else if c.Logic != ConnAnd && c.Logic != ConnOr {
		ve.errf("conditions[%d]: connector must be AND or OR, got %q", i, c.Logic)
	}
}

func validateAction(i int, a *Action, ve *ValidationError) {
	want := map[ActionType]bool{
		ActionGiveCurrency: a.Currency != nil,
		ActionGiveItem:     a.Item != nil,
		ActionGiveGroup:    a.Group != nil,
		ActionRemoveGroup:  a.Group != nil,
		ActionDisplayText:  a.Display != nil,
		ActionFollowUp:     a.FollowUp != nil,
	}
	ok, known := want[a.Type]
	if !known {
		ve.errf("actions[%d]: unknown type %q", i, a.Type)
		return
	}
	if !ok {
		ve.errf("actions[%d]: %s config missing", i, a.Type)
		return
	}

	set := 0
	for _, present := range []bool{a.Currency != nil, a.Item != nil, a.Group != nil, a.Display != nil, a.FollowUp != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		ve.errf("actions[%d]: exactly one config must be set, found %d", i, set)
	}

	switch a.Type {
	case ActionGiveCurrency:
		if a.Currency.Amount <= 0 {
			ve.errf("actions[%d]: currency amount must be positive", i)
		}
		validateLimit(i, a.Currency.Limit, ve)
	case ActionGiveItem:
		if a.Item.ItemID == "" {
			ve.errf("actions[%d]: item_id is required", i)
		}
		if a.Item.Quantity <= 0 {
			ve.errf("actions[%d]: quantity must be positive", i)
		}
		validateLimit(i, a.Item.Limit, ve)
	case ActionGiveGroup, ActionRemoveGroup:
		if a.Group.GroupID == "" {
			ve.errf("actions[%d]: group_id is required", i)
		}
		validateLimit(i, a.Group.Limit, ve)
	case ActionDisplayText:
		if a.Display.Text == "" {
			ve.errf("actions[%d]: display text is required", i)
		}
	case ActionFollowUp:
		if a.FollowUp.DefinitionID == "" {
			ve.errf("actions[%d]: follow_up definition_id is required", i)
		}
	}

	if a.ExecuteOn == "" {
		ve.errf("actions[%d]: execute_on is required", i)
	}
}

func validateLimit(i int, l Limit, ve *ValidationError) {
	switch l.Type {
	case LimitUnlimited, LimitOncePerPrincipal, LimitOnceGlobal:
	default:
		ve.errf("actions[%d]: unknown limit type %q", i, l.Type)
	}
	if l.Type != LimitOncePerPrincipal && len(l.ClaimedBy) > 0 {
		ve.warnf("actions[%d]: claimed_by list is only meaningful for once_per_principal", i)
	}
	if l.Type != LimitOnceGlobal && l.ClaimedOnce != "" {
		ve.warnf("actions[%d]: claimed_once is only meaningful for once_global", i)
	}
}
