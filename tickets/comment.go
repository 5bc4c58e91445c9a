// Package tickets records what people write on tickets.
package tickets

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/servicedesk/core"
	"github.com/warp/servicedesk/notify"
)

// MaxMessageLength bounds a single interaction message.
const MaxMessageLength = 10000

type Service struct {
	Store    core.TicketStore
	Notifier notify.Notifier
	Clock    core.Clock
	Log      zerolog.Logger
}

func NewService(store core.TicketStore, notifier notify.Notifier, clock core.Clock, log zerolog.Logger) *Service {
	return &Service{
		Store:    store,
		Notifier: notifier,
		Clock:    clock,
		Log:      log.With().Str("component", "tickets").Logger(),
	}
}

// PostComment appends an interaction to the ticket and notifies about it.
// The interaction is kept even if the notification cannot be delivered.
func (s *Service) PostComment(ctx context.Context, actor core.Actor, ticketID core.TicketID, kind core.InteractionKind, message string) (*core.Interaction, error) {
	if actor.IsZero() {
		return nil, fmt.Errorf("posting comment: %w", core.ErrUnauthenticated)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &core.ValidationError{Field: "message", Message: "required"}
	}
	if len(message) > MaxMessageLength {
		return nil, &core.ValidationError{Field: "message", Message: fmt.Sprintf("longer than %d bytes", MaxMessageLength)}
	}
	if kind == "" {
		kind = core.InteractionComment
	}
	if kind != core.InteractionComment && kind != core.InteractionInternalNote {
		return nil, &core.ValidationError{Field: "kind", Message: fmt.Sprintf("unsupported interaction kind %q", kind)}
	}

	ticket, err := s.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	interaction := core.Interaction{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		AuthorID:  actor.UserID,
		Kind:      kind,
		Message:   message,
		CreatedAt: s.Clock.Now(),
	}
	if err := s.Store.AppendInteraction(ctx, interaction); err != nil {
		return nil, fmt.Errorf("saving interaction: %w", err)
	}

	if s.Notifier != nil {
		err := s.Notifier.Notify(ctx, notify.Notification{
			TicketID: ticket.ID,
			Message:  message,
			Kind:     kind,
			ActorID:  actor.UserID,
			SentAt:   interaction.CreatedAt,
		})
		if err != nil {
			s.Log.Warn().Err(err).
				Str("ticket_id", string(ticket.ID)).
				Str("interaction_id", interaction.ID).
				Msg("notification failed (non-fatal)")
		}
	}

	return &interaction, nil
}
