package protocol

import "unicode/utf8"

// External payload limits. The render gateway rejects anything larger, so both
// the reply bundler and the anchor synchronizer clamp before sending.
const (
	MaxPayloadElements = 25
	MaxContentLen      = 2000
)

// Element kinds.
const (
	ElementButton = "button"
	ElementForm   = "form"
)

// Payload is one externally deliverable unit: a content block plus a list of
// renderable sub-elements (buttons / form openers).
type Payload struct {
	Content  string    `json:"content,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// Element is a single renderable trigger surface inside a payload.
type Element struct {
	Kind         string `json:"kind"`
	Label        string `json:"label"`
	DefinitionID string `json:"definition_id"`
	Style        string `json:"style,omitempty"`
}

// ClampPayload enforces the element and content budgets in place.
// It returns true when anything was dropped or truncated.
func ClampPayload(p *Payload) bool {
	clamped := false
	if len(p.Elements) > MaxPayloadElements {
		p.Elements = p.Elements[:MaxPayloadElements]
		clamped = true
	}
	if len(p.Content) > MaxContentLen {
		// Leave room for the truncation marker.
		cut := MaxContentLen - len(truncationMarker)
		if cut < 0 {
			cut = 0
		}
		// Back off to a rune boundary so the cut never emits invalid UTF-8.
		for cut > 0 && !utf8.RuneStart(p.Content[cut]) {
			cut--
		}
		p.Content = p.Content[:cut] + truncationMarker
		clamped = true
	}
	return clamped
}

const truncationMarker = "\n[output truncated]"
