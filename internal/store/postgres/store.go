package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"octech/queue-service/internal/models"
	"octech/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketNoPad = 3

// Store persists tickets with their department history and queue plan as a
// single row; history and plan ride along as JSONB so a save is one atomic
// statement guarded by the version column.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	historyJSON, planJSON, err := marshalLedger(ticket)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket.Version = 1
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tickets (
			ticket_id, ticket_no, customer_name, reason, user_type,
			emergency, held, completed, no_show, paged,
			created_at, completed_at, total_duration_seconds,
			department, history, plan, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, ticket.TicketID, ticket.TicketNo, ticket.CustomerName, ticket.Reason, ticket.UserType,
		ticket.Emergency, ticket.Held, ticket.Completed, ticket.NoShow, ticket.Call,
		ticket.CreatedAt, ticket.CompletedAt, ticket.TotalDurationSeconds,
		activeDepartment(ticket), historyJSON, planJSON, ticket.Version)
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_id, ticket_no, customer_name, reason, user_type,
			emergency, held, completed, no_show, paged,
			created_at, completed_at, total_duration_seconds,
			history, plan, version
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

// SaveTicket writes the whole ticket back, bumping the version. A mismatch
// on the stored version means the caller lost a race.
func (s *Store) SaveTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	historyJSON, planJSON, err := marshalLedger(ticket)
	if err != nil {
		return models.Ticket{}, err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets
		SET customer_name = $2, reason = $3, user_type = $4,
			emergency = $5, held = $6, completed = $7, no_show = $8, paged = $9,
			completed_at = $10, total_duration_seconds = $11,
			department = $12, history = $13, plan = $14,
			version = version + 1
		WHERE ticket_id = $1 AND version = $15
	`, ticket.TicketID, ticket.CustomerName, ticket.Reason, ticket.UserType,
		ticket.Emergency, ticket.Held, ticket.Completed, ticket.NoShow, ticket.Call,
		ticket.CompletedAt, ticket.TotalDurationSeconds,
		activeDepartment(ticket), historyJSON, planJSON, ticket.Version)
	if err != nil {
		return models.Ticket{}, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		row := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)`, ticket.TicketID)
		if err := row.Scan(&exists); err != nil {
			return models.Ticket{}, err
		}
		if !exists {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, store.ErrConcurrentModification
	}

	ticket.Version++
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	query, args := buildListQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

// NextTicketNo allocates the next display number for a department and
// service day via an upsert on the sequence row.
func (s *Store) NextTicketNo(ctx context.Context, department string, day time.Time) (string, error) {
	var next int64
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ticket_sequences (department, service_day, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (department, service_day)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, department, day.UTC().Format("2006-01-02"))
	if err := row.Scan(&next); err != nil {
		return "", err
	}
	prefix := departmentPrefix(department)
	return fmt.Sprintf("%s-%0*d", prefix, ticketNoPad, next), nil
}

func buildListQuery(filter store.TicketFilter) (string, []interface{}) {
	query := `
		SELECT ticket_id, ticket_no, customer_name, reason, user_type,
			emergency, held, completed, no_show, paged,
			created_at, completed_at, total_duration_seconds,
			history, plan, version
		FROM tickets
		WHERE 1=1`
	var args []interface{}

	if filter.Department != "" {
		args = append(args, filter.Department)
		query += fmt.Sprintf(" AND department = $%d", len(args))
	}
	if filter.RoomID != "" {
		args = append(args, filter.RoomID)
		query += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(history) entry
			WHERE entry->>'completed' = 'false' AND entry->>'room_id' = $%d
		)`, len(args))
	}
	if filter.HeldOnly {
		query += " AND held = TRUE"
	}
	switch filter.Status {
	case models.StatusWaiting:
		query += " AND completed = FALSE AND no_show = FALSE AND held = FALSE"
		query += ` AND NOT EXISTS (
			SELECT 1 FROM jsonb_array_elements(history) entry
			WHERE entry->>'completed' = 'false' AND entry ? 'started_at'
		)`
	case models.StatusServing:
		query += " AND completed = FALSE AND no_show = FALSE AND held = FALSE"
		query += ` AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(history) entry
			WHERE entry->>'completed' = 'false' AND entry ? 'started_at'
		)`
	case models.StatusHeld:
		query += " AND completed = FALSE AND no_show = FALSE AND held = TRUE"
	case models.StatusCompleted:
		query += " AND completed = TRUE"
	case models.StatusNoShow:
		query += " AND no_show = TRUE"
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	query += " ORDER BY created_at ASC"
	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var customerName, reason, userType sql.NullString
	var completedAtNull sql.NullTime
	var totalNull sql.NullInt64
	var historyJSON []byte
	var planJSON []byte

	if err := row.Scan(&ticket.TicketID, &ticket.TicketNo, &customerName, &reason, &userType,
		&ticket.Emergency, &ticket.Held, &ticket.Completed, &ticket.NoShow, &ticket.Call,
		&ticket.CreatedAt, &completedAtNull, &totalNull,
		&historyJSON, &planJSON, &ticket.Version); err != nil {
		return models.Ticket{}, err
	}

	if customerName.Valid {
		ticket.CustomerName = customerName.String
	}
	if reason.Valid {
		ticket.Reason = reason.String
	}
	if userType.Valid {
		ticket.UserType = userType.String
	}
	if completedAtNull.Valid {
		completedAt := completedAtNull.Time
		ticket.CompletedAt = &completedAt
	}
	if totalNull.Valid {
		total := totalNull.Int64
		ticket.TotalDurationSeconds = &total
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &ticket.History); err != nil {
			return models.Ticket{}, err
		}
	}
	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &ticket.Plan); err != nil {
			return models.Ticket{}, err
		}
	}
	return ticket, nil
}

func marshalLedger(ticket models.Ticket) ([]byte, []byte, error) {
	historyJSON, err := json.Marshal(ticket.History)
	if err != nil {
		return nil, nil, err
	}
	var planJSON []byte
	if ticket.Plan != nil {
		planJSON, err = json.Marshal(ticket.Plan)
		if err != nil {
			return nil, nil, err
		}
	}
	return historyJSON, planJSON, nil
}

// activeDepartment denormalizes the open entry's department into its own
// column so list filters stay on an index instead of scanning JSONB.
func activeDepartment(ticket models.Ticket) string {
	return ticket.ActiveDepartment()
}

func departmentPrefix(department string) string {
	prefix := ""
	for _, r := range department {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		if r >= 'A' && r <= 'Z' {
			prefix += string(r)
		}
		if len(prefix) == 3 {
			break
		}
	}
	if prefix == "" {
		prefix = "TKT"
	}
	return prefix
}
