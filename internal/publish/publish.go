// Package publish talks to the external render gateway that owns the
// platform-visible messages. All implementations respect the payload budgets
// in protocol; the websocket client additionally enforces the platform's
// update-frequency ceiling.
package publish

import (
	"context"
	"errors"

	"actionforge.gg/internal/protocol"
)

// ErrMissingRef reports that the externally addressable message (or its
// channel) no longer exists. Callers treat it as non-fatal and take the
// repair path: republish fresh and heal the anchor record.
var ErrMissingRef = errors.New("external reference missing")

// Publisher creates, overwrites and removes external messages.
type Publisher interface {
	// Publish creates a new message in the location's channel and returns
	// its external reference.
	Publish(ctx context.Context, locationID, channelRef string, p protocol.Payload) (string, error)
	// Update overwrites the referenced message in place.
	Update(ctx context.Context, ref string, p protocol.Payload) error
	// Delete removes the referenced message. Deleting a missing ref is not
	// an error.
	Delete(ctx context.Context, ref string) error
}
