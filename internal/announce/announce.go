// Package announce publishes paging events for called tickets to a fanout
// exchange. Display boards and text-to-speech consumers subscribe to it; the
// router never waits on them.
package announce

import (
	"context"
	"encoding/json"
	"time"

	"octech/queue-service/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "ticket.announcements"

type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

type callEvent struct {
	TicketID   string    `json:"ticket_id"`
	TicketNo   string    `json:"ticket_no"`
	Department string    `json:"department"`
	RoomID     string    `json:"room_id,omitempty"`
	Emergency  bool      `json:"emergency"`
	CalledAt   time.Time `json:"called_at"`
}

// Dial connects to the broker and declares the announcement exchange.
func Dial(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch}, nil
}

func (p *Publisher) AnnounceCall(ctx context.Context, ticket models.Ticket, department, roomID string) error {
	body, err := json.Marshal(callEvent{
		TicketID:   ticket.TicketID,
		TicketNo:   ticket.TicketNo,
		Department: department,
		RoomID:     roomID,
		Emergency:  ticket.Emergency,
		CalledAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, exchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now().UTC(),
	})
}

func (p *Publisher) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Noop is used when no broker is configured.
type Noop struct{}

func (Noop) AnnounceCall(context.Context, models.Ticket, string, string) error { return nil }
