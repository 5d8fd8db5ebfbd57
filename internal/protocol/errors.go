package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Authoring / data integrity.
	ErrValidation       = "E_VALIDATION"
	ErrNotFound         = "E_NOT_FOUND"
	ErrMissingPrincipal = "E_MISSING_PRINCIPAL"

	// Execution layer. AlreadyClaimed is an expected, user-facing outcome;
	// it rides the same code table so the index and audit log can bucket it.
	ErrAlreadyClaimed = "E_ALREADY_CLAIMED"
	ErrPersistence    = "E_PERSISTENCE"
	ErrBudgetExceeded = "E_BUDGET_EXCEEDED"

	// External surface.
	ErrMissingExternalRef = "E_MISSING_EXTERNAL_REF"
	ErrRateLimit          = "E_RATE_LIMIT"
	ErrTimeout            = "E_TIMEOUT"
	ErrInternal           = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:    {},
	ErrValidation:         {},
	ErrNotFound:           {},
	ErrMissingPrincipal:   {},
	ErrAlreadyClaimed:     {},
	ErrPersistence:        {},
	ErrBudgetExceeded:     {},
	ErrMissingExternalRef: {},
	ErrRateLimit:          {},
	ErrTimeout:            {},
	ErrInternal:           {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
