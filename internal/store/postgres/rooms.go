package postgres

import (
	"context"
	"database/sql"
	"errors"

	"octech/queue-service/internal/models"
	"octech/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Rooms implements the room directory over the rooms table. Claim and
// release are single conditional statements, so two staff racing for the
// same room resolve inside the database.
type Rooms struct {
	pool *pgxpool.Pool
}

func NewRooms(pool *pgxpool.Pool) *Rooms {
	return &Rooms{pool: pool}
}

func (r *Rooms) RoomExists(ctx context.Context, roomID, department string) (bool, error) {
	var exists bool
	row := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rooms
			WHERE room_id = $1 AND department = $2
		)
	`, roomID, department)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *Rooms) IsRoomAvailable(ctx context.Context, roomID string) (bool, error) {
	var available bool
	row := r.pool.QueryRow(ctx, `
		SELECT available FROM rooms WHERE room_id = $1
	`, roomID)
	if err := row.Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, store.ErrRoomNotFound
		}
		return false, err
	}
	return available, nil
}

func (r *Rooms) AvailableRooms(ctx context.Context, department string) ([]models.Room, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT room_id, department, name, available, current_ticket_id
		FROM rooms
		WHERE department = $1 AND available = TRUE
		ORDER BY name ASC
	`, department)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		var currentNull sql.NullString
		if err := rows.Scan(&room.RoomID, &room.Department, &room.Name, &room.Available, &currentNull); err != nil {
			return nil, err
		}
		if currentNull.Valid {
			current := currentNull.String
			room.CurrentTicketID = &current
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rooms, nil
}

// TryClaim is the atomic check-and-set: the update only lands when the room
// is free (or already holds this ticket, which makes a retry idempotent).
func (r *Rooms) TryClaim(ctx context.Context, roomID, ticketID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms
		SET current_ticket_id = $2
		WHERE room_id = $1 AND available = TRUE
			AND (current_ticket_id IS NULL OR current_ticket_id = $2)
	`, roomID, ticketID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var available bool
	var currentNull sql.NullString
	row := r.pool.QueryRow(ctx, `
		SELECT available, current_ticket_id FROM rooms WHERE room_id = $1
	`, roomID)
	if err := row.Scan(&available, &currentNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrRoomNotFound
		}
		return err
	}
	if !available {
		return store.ErrRoomUnavailable
	}
	return store.ErrRoomOccupied
}

func (r *Rooms) Release(ctx context.Context, roomID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET current_ticket_id = NULL WHERE room_id = $1
	`, roomID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRoomNotFound
	}
	return nil
}

func (r *Rooms) CurrentTicket(ctx context.Context, roomID string) (string, bool, error) {
	var currentNull sql.NullString
	row := r.pool.QueryRow(ctx, `
		SELECT current_ticket_id FROM rooms WHERE room_id = $1
	`, roomID)
	if err := row.Scan(&currentNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, store.ErrRoomNotFound
		}
		return "", false, err
	}
	if !currentNull.Valid {
		return "", false, nil
	}
	return currentNull.String, true, nil
}
