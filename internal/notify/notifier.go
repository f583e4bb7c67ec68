// Package notify delivers fire-and-forget owner notifications. Delivery
// failures are logged and never block a lifecycle transition.
package notify

import (
	"context"

	"github.com/google/uuid"
)

type Notifier interface {
	Notify(ctx context.Context, memberID uuid.UUID, eventKind string, payload map[string]any)
}

// Nop drops every notification. Used in tests and when AMQP is not
// configured.
type Nop struct{}

func (Nop) Notify(context.Context, uuid.UUID, string, map[string]any) {}
