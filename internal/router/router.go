// Package router owns the ticket state machine: every transition between
// waiting, serving, held, and the terminal states goes through here, and the
// department history ledger and queue plan are mutated nowhere else.
package router

import (
	"context"
	"log"
	"time"

	"octech/queue-service/internal/models"
	"octech/queue-service/internal/store"
	"octech/queue-service/internal/timing"

	"github.com/google/uuid"
)

// Clock is injected so duration accounting is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Announcer pages a called ticket through an external channel (displays,
// text-to-speech). Failures are logged, never surfaced: paging is a
// side effect, not part of the transition.
type Announcer interface {
	AnnounceCall(ctx context.Context, ticket models.Ticket, department, roomID string) error
}

type Router struct {
	tickets   store.TicketStore
	rooms     store.RoomDirectory
	clock     Clock
	announcer Announcer
	locks     *ticketLocks
}

type Options struct {
	Clock     Clock
	Announcer Announcer
}

func New(tickets store.TicketStore, rooms store.RoomDirectory, options Options) *Router {
	clock := options.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Router{
		tickets:   tickets,
		rooms:     rooms,
		clock:     clock,
		announcer: options.Announcer,
		locks:     newTicketLocks(),
	}
}

// Payload carries the per-transition parameters for ApplyTransition.
type Payload struct {
	RoomID     string          `json:"room_id,omitempty"`
	Department string          `json:"department,omitempty"`
	Plan       []PlanStepInput `json:"plan,omitempty"`
	Note       string          `json:"note,omitempty"`
	Emergency  bool            `json:"emergency,omitempty"`
}

type PlanStepInput struct {
	Department string `json:"department"`
	RoomID     string `json:"room_id,omitempty"`
}

// ApplyTransition dispatches a named transition. Unknown kinds fail with
// ErrInvalidTransition.
func (r *Router) ApplyTransition(ctx context.Context, session models.Session, ticketID, kind string, payload Payload) (models.Ticket, error) {
	switch kind {
	case TransitionClaim:
		return r.Claim(ctx, session, ticketID, payload.RoomID)
	case TransitionHold:
		return r.Hold(ctx, session, ticketID, payload.Note)
	case TransitionUnhold:
		return r.Unhold(ctx, session, ticketID)
	case TransitionRedirect:
		return r.Redirect(ctx, session, ticketID, payload.RoomID)
	case TransitionForward:
		return r.Forward(ctx, session, ticketID, payload.Department, payload.RoomID)
	case TransitionForwardPlan:
		return r.ForwardPlan(ctx, session, ticketID, payload.Plan)
	case TransitionClear:
		return r.Clear(ctx, session, ticketID)
	case TransitionNoShow:
		return r.NoShow(ctx, session, ticketID)
	case TransitionEmergency:
		return r.MarkEmergency(ctx, session, ticketID, payload.Emergency)
	case TransitionCall:
		return r.Call(ctx, session, ticketID)
	default:
		return models.Ticket{}, store.ErrInvalidTransition
	}
}

// CreateTicket is the intake path: the ticket starts waiting in its first
// department with the opening ledger entry already in place.
func (r *Router) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.clock.Now()
	}

	ticketNo, err := r.tickets.NextTicketNo(ctx, input.Department, createdAt)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket := models.Ticket{
		TicketID:     uuid.NewString(),
		TicketNo:     ticketNo,
		CustomerName: input.CustomerName,
		Reason:       input.Reason,
		UserType:     input.UserType,
		Emergency:    input.Emergency,
		CreatedAt:    createdAt,
		History: []models.HistoryEntry{{
			Department: input.Department,
			Timestamp:  createdAt,
		}},
	}

	return r.tickets.CreateTicket(ctx, ticket)
}

// Claim assigns a waiting ticket to a room and starts the processing clock.
// An empty roomID means "any free room in the ticket's department".
func (r *Router) Claim(ctx context.Context, session models.Session, ticketID, roomID string) (models.Ticket, error) {
	unlock := r.locks.lock(ticketID)
	defer unlock()

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !ValidTransition(TransitionClaim, ticket.Status()) {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	entry := ticket.ActiveEntry()
	if entry == nil {
		return models.Ticket{}, store.ErrNoActiveEntry
	}
	if err := authorize(session, entry.Department); err != nil {
		return models.Ticket{}, err
	}

	if roomID == "" {
		roomID, err = r.pickRoom(ctx, entry.Department)
		if err != nil {
			return models.Ticket{}, err
		}
	} else {
		exists, err := r.rooms.RoomExists(ctx, roomID, entry.Department)
		if err != nil {
			return models.Ticket{}, err
		}
		if !exists {
			return models.Ticket{}, store.ErrRoomNotFound
		}
		available, err := r.rooms.IsRoomAvailable(ctx, roomID)
		if err != nil {
			return models.Ticket{}, err
		}
		if !available {
			return models.Ticket{}, store.ErrRoomUnavailable
		}
	}

	if err := r.rooms.TryClaim(ctx, roomID, ticketID); err != nil {
		return models.Ticket{}, err
	}

	now := r.clock.Now()
	entry.RoomID = &roomID
	entry.StartedAt = &now
	entry.WaitingDurationSeconds = seconds(now.Sub(entry.Timestamp))

	saved, err := r.tickets.SaveTicket(ctx, ticket)
	if err != nil {
		r.releaseRoom(ctx, roomID)
		return models.Ticket{}, err
	}
	return saved, nil
}

// Hold pauses a waiting or serving ticket. The processing clock freezes at
// the hold instant; any room claim is released so the room can serve others.
func (r *Router) Hold(ctx context.Context, session models.Session, ticketID, note string) (models.Ticket, error) {
	unlock := r.locks.lock(ticketID)
	defer unlock()

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !ValidTransition(TransitionHold, ticket.Status()) {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	entry := ticket.ActiveEntry()
	if entry == nil {
		return models.Ticket{}, store.ErrNoActiveEntry
	}
	if err := authorize(session, entry.Department); err != nil {
		return models.Ticket{}, err
	}

	now := r.clock.Now()
	if entry.StartedAt != nil {
		entry.ProcessingDurationSeconds += seconds(now.Sub(processingAnchor(entry)))
		entry.ProcessingResumedAt = nil
	}
	entry.HoldStartedAt = &now
	if note != "" {
		entry.Note = note
	}
	ticket.Held = true

	claimedRoom := r.roomClaimedBy(ctx, entry, ticketID)

	saved, err := r.tickets.SaveTicket(ctx, ticket)
	if err != nil {
		return models.Ticket{}, err
	}
	if claimedRoom != "" {
		r.releaseRoom(ctx, claimedRoom)
	}
	return saved, nil
}

// Unhold resumes a held ticket. Elapsed hold time lands in the hold counter,
// and the processing clock restarts from now for tickets that were serving.
func (r *Router) Unhold(ctx context.Context, session models.Session, ticketID string) (models.Ticket, error) {
	unlock := r.locks.lock(ticketID)
	defer unlock()

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !ValidTransition(TransitionUnhold, ticket.Status()) {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	entry := ticket.ActiveEntry()
	if entry == nil {
		return models.Ticket{}, store.ErrNoActiveEntry
	}
	if err := authorize(session, entry.Department); err != nil {
		return models.Ticket{}, err
	}

	now := r.clock.Now()
	if entry.HoldStartedAt != nil {
		entry.HoldDurationSeconds += seconds(now.Sub(*entry.HoldStartedAt))
		entry.HoldStartedAt = nil
	}
	if entry.StartedAt != nil {
		entry.ProcessingResumedAt = &now
	}
	ticket.Held = false

	return r.tickets.SaveTicket(ctx, ticket)
}

// Redirect moves a serving ticket to a different room in the same department.
func (r *Router) Redirect(ctx context.Context, session models.Session, ticketID, newRoomID string) (models.Ticket, error) {
	unlock := r.locks.lock(ticketID)
	defer unlock()

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !ValidTransition(TransitionRedirect, ticket.Status()) {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	entry := ticket.ActiveEntry()
	if entry == nil {
		return models.Ticket{}, store.ErrNoActiveEntry
	}
	if err := authorize(session, entry.Department); err != nil {
		return models.Ticket{}, err
	}

	exists, err := r.rooms.RoomExists(ctx, newRoomID, entry.Department)
	if err != nil {
		return models.Ticket{}, err
	}
	if !exists {
		return models.Ticket{}, store.ErrRoomNotFound
	}
	available, err := r.rooms.IsRoomAvailable(ctx, newRoomID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !available {
		return models.Ticket{}, store.ErrRoomUnavailable
	}

	var priorRoom string
	if entry.RoomID != nil && *entry.RoomID != newRoomID {
		priorRoom = r.roomClaimedBy(ctx, entry, ticketID)
	}

	if err := r.rooms.TryClaim(ctx, newRoomID, ticketID); err != nil {
		return models.Ticket{}, err
	}

	entry.RoomID = &newRoomID

	saved, err := r.tickets.SaveTicket(ctx, ticket)
	if err != nil {
		r.releaseRoom(ctx, newRoomID)
		return models.Ticket{}, err
	}
	if priorRoom != "" {
		r.releaseRoom(ctx, priorRoom)
	}
	return saved, nil
}

// Forward closes the current department visit and opens the next one. With a
// plan installed and no explicit department, the plan's cursor decides; an
// exhausted plan surfaces ErrPlanExhausted so the caller selects manually.
func (r *Router) Forward(ctx context.Context, session models.Session, ticketID, department, roomID string) (models.Ticket, error) {
	unlock := r.locks.lock(ticketID)
	defer unlock()

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !ValidTransition(TransitionForward, ticket.Status()) {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	entry := ticket.ActiveEntry()
	if entry == nil {
		return models.Ticket{}, store.ErrNoActiveEntry
	}
	if err := authorize(session, entry.Department); err != nil {
		return models.Ticket{}, err
	}

	nextDept := department
	var nextRoom *string
	if roomID != "" {
		nextRoom = &roomID
	}
	if ticket.Plan != nil {
		step, planErr := advancePlan(&ticket)
		if planErr == nil {
			if nextDept == "" {
				nextDept = step.Department
				if nextRoom == nil {
					nextRoom = step.RoomID
				}
			}
		} else if nextDept == "" {
			return models.Ticket{}, store.ErrPlanExhausted
		}
	}
	if nextDept == "" {
		return models.Ticket{}, store.ErrInvalidTransition
	}

	claimedRoom := r.roomClaimedBy(ctx, entry, ticketID)

	now := r.clock.Now()
	if err := closeActiveEntry(&ticket, now); err != nil {
		return models.Ticket{}, err
	}
	if err := openEntry(&ticket, nextDept, nextRoom, now); err != nil {
		return models.Ticket{}, err
	}

	saved, err := r.tickets.SaveTicket(ctx, ticket)
	if err != nil {
		return models.Ticket{}, err
	}
	if claimedRoom != "" {
		r.releaseRoom(ctx, claimedRoom)
	}
	return saved, nil
}

// ForwardPlan installs a fresh ordered department plan, replacing any
// incomplete one outright, and moves the ticket into the plan's first stop.
func (r *Router) ForwardPlan(ctx context.Context, session models.Session, ticketID string, steps []PlanStepInput) (models.Ticket, error) {
	if len(steps) == 0 {
		return models.Ticket{}, store.ErrInvalidTransition
	}

	unlock := r.locks.lock(ticketID)
	defer unlock()

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !ValidTransition(TransitionForwardPlan, ticket.Status()) {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	entry := ticket.ActiveEntry()
	if entry == nil {
		return models.Ticket{}, store.ErrNoActiveEntry
	}
	if err := authorize(session, entry.Department); err != nil {
		return models.Ticket{}, err
	}

	planSteps := make([]models.PlanStep, len(steps))
	for i, step := range steps {
		planSteps[i] = models.PlanStep{Department: step.Department}
		if step.RoomID != "" {
			room := step.RoomID
			planSteps[i].RoomID = &room
		}
	}

	claimedRoom := r.roomClaimedBy(ctx, entry, ticketID)

	now := r.clock.Now()
	if err := closeActiveEntry(&ticket, now); err != nil {
		return models.Ticket{}, err
	}
	installPlan(&ticket, planSteps)
	if err := openEntry(&ticket, planSteps[0].Department, planSteps[0].RoomID, now); err != nil {
		return models.Ticket{}, err
	}

	saved, err := r.tickets.SaveTicket(ctx, ticket)
	if err != nil {
		return models.Ticket{}, err
	}
	if claimedRoom != "" {
		r.releaseRoom(ctx, claimedRoom)
	}
	return saved, nil
}

// Clear completes the ticket: the open visit closes and the total duration
// freezes, hold time included.
func (r *Router) Clear(ctx context.Context, session models.Session, ticketID string) (models.Ticket, error) {
	unlock := r.locks.lock(ticketID)
	defer unlock()

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !ValidTransition(TransitionClear, ticket.Status()) {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	entry := ticket.ActiveEntry()
	if entry == nil {
		return models.Ticket{}, store.ErrNoActiveEntry
	}
	if err := authorize(session, entry.Department); err != nil {
		return models.Ticket{}, err
	}

	claimedRoom := r.roomClaimedBy(ctx, entry, ticketID)

	now := r.clock.Now()
	if err := closeActiveEntry(&ticket, now); err != nil {
		return models.Ticket{}, err
	}
	ticket.Completed = true
	ticket.CompletedAt = &now
	total := seconds(now.Sub(ticket.CreatedAt))
	ticket.TotalDurationSeconds = &total

	saved, err := r.tickets.SaveTicket(ctx, ticket)
	if err != nil {
		return models.Ticket{}, err
	}
	if claimedRoom != "" {
		r.releaseRoom(ctx, claimedRoom)
	}
	return saved, nil
}

// NoShow cancels a non-terminal ticket, closing whatever visit is open.
func (r *Router) NoShow(ctx context.Context, session models.Session, ticketID string) (models.Ticket, error) {
	unlock := r.locks.lock(ticketID)
	defer unlock()

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if ticket.Terminal() {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	entry := ticket.ActiveEntry()
	if entry == nil {
		return models.Ticket{}, store.ErrNoActiveEntry
	}
	if err := authorize(session, entry.Department); err != nil {
		return models.Ticket{}, err
	}

	claimedRoom := r.roomClaimedBy(ctx, entry, ticketID)

	now := r.clock.Now()
	if err := closeActiveEntry(&ticket, now); err != nil {
		return models.Ticket{}, err
	}
	ticket.NoShow = true
	ticket.Held = false

	saved, err := r.tickets.SaveTicket(ctx, ticket)
	if err != nil {
		return models.Ticket{}, err
	}
	if claimedRoom != "" {
		r.releaseRoom(ctx, claimedRoom)
	}
	return saved, nil
}

// MarkEmergency toggles the priority flag. Queue ordering changes; the
// derived state does not.
func (r *Router) MarkEmergency(ctx context.Context, session models.Session, ticketID string, flag bool) (models.Ticket, error) {
	unlock := r.locks.lock(ticketID)
	defer unlock()

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if ticket.Terminal() {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	if err := authorize(session, ticket.ActiveDepartment()); err != nil {
		return models.Ticket{}, err
	}

	ticket.Emergency = flag
	return r.tickets.SaveTicket(ctx, ticket)
}

// Call marks the ticket as paged and triggers the announcement side effect.
func (r *Router) Call(ctx context.Context, session models.Session, ticketID string) (models.Ticket, error) {
	unlock := r.locks.lock(ticketID)
	defer unlock()

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if ticket.Terminal() {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	entry := ticket.ActiveEntry()
	if entry == nil {
		return models.Ticket{}, store.ErrNoActiveEntry
	}
	if err := authorize(session, entry.Department); err != nil {
		return models.Ticket{}, err
	}

	ticket.Call = true
	saved, err := r.tickets.SaveTicket(ctx, ticket)
	if err != nil {
		return models.Ticket{}, err
	}

	if r.announcer != nil {
		roomID := session.RoomID
		if entry.RoomID != nil {
			roomID = *entry.RoomID
		}
		if err := r.announcer.AnnounceCall(ctx, saved, entry.Department, roomID); err != nil {
			log.Printf("announce call ticket=%s error: %v", saved.TicketNo, err)
		}
	}
	return saved, nil
}

// TicketDurations are the live-computed metrics for the open department
// visit plus the ticket's total lifetime.
type TicketDurations struct {
	WaitingSeconds    int64 `json:"waiting_seconds"`
	ProcessingSeconds int64 `json:"processing_seconds"`
	HoldSeconds       int64 `json:"hold_seconds"`
	TotalSeconds      int64 `json:"total_seconds"`
}

func (r *Router) GetTicket(ctx context.Context, ticketID string) (models.Ticket, TicketDurations, error) {
	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, TicketDurations{}, err
	}
	now := r.clock.Now()
	durations := TicketDurations{TotalSeconds: timing.TotalSeconds(ticket, now)}
	if entry := ticket.ActiveEntry(); entry != nil {
		durations.WaitingSeconds = timing.WaitingSeconds(*entry, now)
		durations.ProcessingSeconds = timing.ProcessingSeconds(*entry, now)
		durations.HoldSeconds = timing.HoldSeconds(*entry, now)
	}
	return ticket, durations, nil
}

func (r *Router) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	return r.tickets.ListTickets(ctx, filter)
}

// NextInQueue returns the first ticket in serving order for a department.
// With a room id, tickets pre-assigned to another room are skipped.
func (r *Router) NextInQueue(ctx context.Context, department, roomID string) (models.Ticket, bool, error) {
	waiting, err := r.tickets.ListTickets(ctx, store.TicketFilter{
		Department: department,
		Status:     models.StatusWaiting,
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	for _, ticket := range OrderWaiting(waiting) {
		if roomID != "" {
			entry := ticket.ActiveEntry()
			if entry != nil && entry.RoomID != nil && *entry.RoomID != roomID {
				continue
			}
		}
		return ticket, true, nil
	}
	return models.Ticket{}, false, nil
}

func (r *Router) pickRoom(ctx context.Context, department string) (string, error) {
	rooms, err := r.rooms.AvailableRooms(ctx, department)
	if err != nil {
		return "", err
	}
	for _, room := range rooms {
		if room.CurrentTicketID == nil {
			return room.RoomID, nil
		}
	}
	return "", store.ErrNoRoomAvailable
}

// roomClaimedBy returns the entry's room only when its claim actually points
// at this ticket. Entries keep their last room after a hold, so the claim
// may legitimately belong to someone else by now.
func (r *Router) roomClaimedBy(ctx context.Context, entry *models.HistoryEntry, ticketID string) string {
	if entry.RoomID == nil {
		return ""
	}
	current, ok, err := r.rooms.CurrentTicket(ctx, *entry.RoomID)
	if err != nil || !ok || current != ticketID {
		return ""
	}
	return *entry.RoomID
}

func (r *Router) releaseRoom(ctx context.Context, roomID string) {
	if err := r.rooms.Release(ctx, roomID); err != nil {
		log.Printf("release room=%s error: %v", roomID, err)
	}
}

func authorize(session models.Session, department string) error {
	if session.Department != "" && department != "" && session.Department != department {
		return store.ErrAccessDenied
	}
	return nil
}
