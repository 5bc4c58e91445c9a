// Package notify delivers ticket events to whoever needs to hear about them.
// Delivery is best effort: callers log failures and move on.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/servicedesk/core"
)

// Notification is posted when someone writes on a ticket.
type Notification struct {
	TicketID core.TicketID        `json:"ticket_id"`
	Message  string               `json:"message"`
	Kind     core.InteractionKind `json:"kind"`
	ActorID  core.UserID          `json:"actor_id"`
	SentAt   time.Time            `json:"sent_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier only writes notifications to the log.
type LogNotifier struct {
	Log zerolog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Log.Info().
		Str("ticket_id", string(n.TicketID)).
		Str("kind", string(n.Kind)).
		Str("actor_id", string(n.ActorID)).
		Msg("ticket notification")
	return nil
}
