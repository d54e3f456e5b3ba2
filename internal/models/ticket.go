package models

import "time"

type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	TicketNo     string     `json:"ticket_no"`
	CustomerName string     `json:"customer_name,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	UserType     string     `json:"user_type,omitempty"`
	Emergency    bool       `json:"emergency"`
	Held         bool       `json:"held"`
	Completed    bool       `json:"completed"`
	NoShow       bool       `json:"no_show"`
	Call         bool       `json:"call"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// TotalDuration is set exactly once, when the ticket completes.
	TotalDurationSeconds *int64 `json:"total_duration_seconds,omitempty"`

	History []HistoryEntry `json:"history"`
	Plan    *QueuePlan     `json:"plan,omitempty"`

	// Version backs the optimistic concurrency check in the store.
	Version int64 `json:"version"`
}

// HistoryEntry records one department visit with its own timing fields.
type HistoryEntry struct {
	Department    string     `json:"department"`
	RoomID        *string    `json:"room_id,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	HoldStartedAt *time.Time `json:"hold_started_at,omitempty"`

	// ProcessingResumedAt anchors the processing clock after an unhold.
	// The segment before the hold is already folded into ProcessingDurationSeconds.
	ProcessingResumedAt *time.Time `json:"processing_resumed_at,omitempty"`

	WaitingDurationSeconds    int64 `json:"waiting_duration_seconds"`
	ProcessingDurationSeconds int64 `json:"processing_duration_seconds"`
	HoldDurationSeconds       int64 `json:"hold_duration_seconds"`

	Completed bool   `json:"completed"`
	Note      string `json:"note,omitempty"`
}

// QueuePlan is a pre-selected ordered list of future departments.
type QueuePlan struct {
	Steps        []PlanStep `json:"steps"`
	CurrentIndex int        `json:"current_index"`
}

type PlanStep struct {
	Department string  `json:"department"`
	RoomID     *string `json:"room_id,omitempty"`
	Processed  bool    `json:"processed"`
}

type Room struct {
	RoomID          string  `json:"room_id"`
	Department      string  `json:"department"`
	Name            string  `json:"name"`
	Available       bool    `json:"available"`
	CurrentTicketID *string `json:"current_ticket_id,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusHeld      = "held"
	StatusCompleted = "completed"
	StatusNoShow    = "no_show"
)

// Status derives the ticket-level state. It is never stored.
func (t Ticket) Status() string {
	switch {
	case t.NoShow:
		return StatusNoShow
	case t.Completed:
		return StatusCompleted
	case t.Held:
		return StatusHeld
	}
	if entry := t.ActiveEntry(); entry != nil && entry.StartedAt != nil && entry.CompletedAt == nil {
		return StatusServing
	}
	return StatusWaiting
}

func (t Ticket) Terminal() bool {
	return t.Completed || t.NoShow
}

// ActiveEntry returns the single open history entry, or nil once the ticket is terminal.
func (t *Ticket) ActiveEntry() *HistoryEntry {
	for i := range t.History {
		if !t.History[i].Completed {
			return &t.History[i]
		}
	}
	return nil
}

// ActiveDepartment is the department of the open history entry, empty if none.
func (t *Ticket) ActiveDepartment() string {
	if entry := t.ActiveEntry(); entry != nil {
		return entry.Department
	}
	return ""
}
