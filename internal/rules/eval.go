package rules

// Evaluate folds an ordered condition chain left-to-right against a principal
// snapshot. The connector stored on a condition joins it to the NEXT one, so
// the accumulator is combined using conds[i-1].Logic when advancing to
// conds[i]. There is no grouping: [A(AND), B(OR), C] means (A AND B) OR C.
//
// An empty chain is vacuously true. A nil principal (never seen) fails
// closed; the caller is expected to log that as a data-integrity warning.
func Evaluate(conds []Condition, p *Principal) bool {
	if len(conds) == 0 {
		return true
	}
	if p == nil {
		return false
	}

	result := evalOne(conds[0], p)
	for i := 1; i < len(conds); i++ {
		// Conditions are pure reads, so short-circuiting is safe.
		conn := conds[i-1].Logic
		if conn == ConnAnd && !result {
			continue
		}
		if conn == ConnOr && result {
			continue
		}
		next := evalOne(conds[i], p)
		switch conn {
		case ConnOr:
			result = result || next
		default:
			// Absent connector on a non-final node is an authoring bug;
			// treat it as AND, the stricter reading.
			result = result && next
		}
	}
	return result
}

func evalOne(c Condition, p *Principal) bool {
	switch c.Type {
	case CondCurrency:
		switch c.Operator {
		case OpGTE:
			return p.Balance >= c.Amount
		case OpLTE:
			return p.Balance <= c.Amount
		case OpEqZero:
			return p.Balance == 0
		}
	case CondItem:
		has := p.Inventory[c.ItemID] > 0
		switch c.Operator {
		case OpHas:
			return has
		case OpNotHas:
			return !has
		}
	case CondGroup:
		in := p.InGroup(c.GroupID)
		switch c.Operator {
		case OpHas:
			return in
		case OpNotHas:
			return !in
		}
	}
	return false
}
