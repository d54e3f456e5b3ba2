package store

import (
	"context"
	"time"

	"octech/queue-service/internal/models"
)

type CreateTicketInput struct {
	CustomerName string
	Reason       string
	UserType     string
	Emergency    bool
	Department   string
	CreatedAt    time.Time
}

// TicketFilter narrows ListTickets. Zero values mean "no constraint".
type TicketFilter struct {
	Department string
	RoomID     string
	Status     string
	HeldOnly   bool
	From       time.Time
	To         time.Time
}

// TicketStore persists tickets whole: the ticket row plus its department
// history and queue plan move together. SaveTicket performs an optimistic
// version check and fails with ErrConcurrentModification when the ticket
// changed underneath the caller.
type TicketStore interface {
	CreateTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	SaveTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]models.Ticket, error)

	// NextTicketNo allocates the next display number for the given department
	// prefix and service day.
	NextTicketNo(ctx context.Context, department string, day time.Time) (string, error)
}

// RoomDirectory is the department/room master-data collaborator plus the
// room claim table. TryClaim must check-and-set in a single step.
type RoomDirectory interface {
	RoomExists(ctx context.Context, roomID, department string) (bool, error)
	IsRoomAvailable(ctx context.Context, roomID string) (bool, error)
	AvailableRooms(ctx context.Context, department string) ([]models.Room, error)
	TryClaim(ctx context.Context, roomID, ticketID string) error
	Release(ctx context.Context, roomID string) error
	CurrentTicket(ctx context.Context, roomID string) (string, bool, error)
}
