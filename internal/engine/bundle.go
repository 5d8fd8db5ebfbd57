package engine

import (
	"strings"

	"actionforge.gg/internal/protocol"
	"actionforge.gg/internal/rules"
)

// bundle folds an ordered outcome list into deliverable payloads. A bundle
// starts at each display_text outcome and absorbs every following non-display
// outcome; outcomes before the first display each stand alone. One bundle
// becomes exactly one payload, which is the property the whole subsystem
// exists to guarantee.
func (e *Engine) bundle(outcomes []Outcome) []protocol.Payload {
	var payloads []protocol.Payload

	var cur *bundleAccum
	flush := func() {
		if cur == nil {
			return
		}
		if p, ok := cur.payload(); ok {
			payloads = append(payloads, p)
		}
		cur = nil
	}

	for i := range outcomes {
		o := &outcomes[i]
		if o.Status == StatusSkipped {
			continue
		}
		if o.Type == rules.ActionDisplayText {
			flush()
			cur = &bundleAccum{display: o.Display}
			continue
		}
		if cur == nil {
			// Before the first display: standalone bundle per outcome.
			solo := bundleAccum{}
			solo.absorb(o)
			if p, ok := solo.payload(); ok {
				payloads = append(payloads, p)
			}
			continue
		}
		cur.absorb(o)
	}
	flush()
	return payloads
}

type bundleAccum struct {
	display *rules.DisplayEffect
	lines   []string
	buttons []protocol.Element
}

func (b *bundleAccum) absorb(o *Outcome) {
	if o.FollowUp != nil {
		label := o.FollowUp.Label
		if label == "" {
			label = o.FollowUp.DefinitionID
		}
		b.buttons = append(b.buttons, protocol.Element{
			Kind:         protocol.ElementButton,
			Label:        label,
			DefinitionID: o.FollowUp.DefinitionID,
		})
		return
	}
	if o.Message != "" {
		b.lines = append(b.lines, o.Message)
	}
}

// payload renders the bundle: parent narrative first, then the collected
// outcome lines beneath it, follow-ups as buttons. Budget overruns degrade
// to a truncated payload with a notice rather than failing the trigger.
func (b *bundleAccum) payload() (protocol.Payload, bool) {
	var sb strings.Builder
	if b.display != nil {
		if b.display.Title != "" {
			sb.WriteString("**" + b.display.Title + "**\n")
		}
		sb.WriteString(b.display.Text)
	}
	if len(b.lines) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.Join(b.lines, "\n"))
	}

	p := protocol.Payload{Content: sb.String(), Elements: b.buttons}
	if p.Content == "" && len(p.Elements) == 0 {
		return protocol.Payload{}, false
	}
	if len(p.Elements) > protocol.MaxPayloadElements {
		p.Elements = p.Elements[:protocol.MaxPayloadElements]
		p.Content += "\n[some follow-ups were omitted]"
	}
	protocol.ClampPayload(&p)
	return p, true
}
