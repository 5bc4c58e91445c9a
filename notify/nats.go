package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubjectPrefix is prepended to every subject.
const DefaultSubjectPrefix = "servicedesk"

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes notifications as JSON on
// "<prefix>.ticket.<kind>", e.g. servicedesk.ticket.comentario.
type NATSPublisher struct {
	conn   publisher
	close  func()
	prefix string
	log    zerolog.Logger
}

// DialNATS connects to url and returns a publisher using prefix.
func DialNATS(url, prefix string, log zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("servicedesk"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	p := newNATSPublisher(nc, prefix, log)
	p.close = func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return p, nil
}

func newNATSPublisher(conn publisher, prefix string, log zerolog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}
}

// Subject returns the subject a notification is published on.
func (p *NATSPublisher) Subject(n Notification) string {
	return fmt.Sprintf("%s.ticket.%s", p.prefix, n.Kind)
}

func (p *NATSPublisher) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	subject := p.Subject(n)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	p.log.Debug().Str("subject", subject).Str("ticket_id", string(n.TicketID)).Msg("notification published")
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}
