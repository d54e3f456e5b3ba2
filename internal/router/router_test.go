package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"octech/queue-service/internal/models"
	"octech/queue-service/internal/store"
)

var testBase = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memStore struct {
	mu      sync.Mutex
	tickets map[string]models.Ticket
	seq     int64
}

func newMemStore() *memStore {
	return &memStore{tickets: make(map[string]models.Ticket)}
}

func copyTicket(t models.Ticket) models.Ticket {
	out := t
	out.History = make([]models.HistoryEntry, len(t.History))
	copy(out.History, t.History)
	if t.Plan != nil {
		plan := *t.Plan
		plan.Steps = make([]models.PlanStep, len(t.Plan.Steps))
		copy(plan.Steps, t.Plan.Steps)
		out.Plan = &plan
	}
	return out
}

func (s *memStore) CreateTicket(_ context.Context, ticket models.Ticket) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket.Version = 1
	s.tickets[ticket.TicketID] = copyTicket(ticket)
	return ticket, nil
}

func (s *memStore) GetTicket(_ context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return copyTicket(ticket), nil
}

func (s *memStore) SaveTicket(_ context.Context, ticket models.Ticket) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[ticket.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if current.Version != ticket.Version {
		return models.Ticket{}, store.ErrConcurrentModification
	}
	ticket.Version++
	s.tickets[ticket.TicketID] = copyTicket(ticket)
	return ticket, nil
}

func (s *memStore) ListTickets(_ context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, ticket := range s.tickets {
		copied := copyTicket(ticket)
		if filter.Department != "" && copied.ActiveDepartment() != filter.Department {
			continue
		}
		if filter.Status != "" && copied.Status() != filter.Status {
			continue
		}
		if filter.HeldOnly && !copied.Held {
			continue
		}
		out = append(out, copied)
	}
	return out, nil
}

func (s *memStore) NextTicketNo(_ context.Context, department string, _ time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("%s-%03d", department, s.seq), nil
}

type memRooms struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
}

func newMemRooms() *memRooms {
	return &memRooms{rooms: make(map[string]*models.Room)}
}

func (r *memRooms) add(roomID, department string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = &models.Room{RoomID: roomID, Department: department, Name: roomID, Available: true}
}

func (r *memRooms) RoomExists(_ context.Context, roomID, department string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	return ok && room.Department == department, nil
}

func (r *memRooms) IsRoomAvailable(_ context.Context, roomID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return false, store.ErrRoomNotFound
	}
	return room.Available, nil
}

func (r *memRooms) AvailableRooms(_ context.Context, department string) ([]models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Room
	for _, room := range r.rooms {
		if room.Department == department && room.Available {
			out = append(out, *room)
		}
	}
	return out, nil
}

func (r *memRooms) TryClaim(_ context.Context, roomID, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return store.ErrRoomNotFound
	}
	if !room.Available {
		return store.ErrRoomUnavailable
	}
	if room.CurrentTicketID != nil && *room.CurrentTicketID != ticketID {
		return store.ErrRoomOccupied
	}
	room.CurrentTicketID = &ticketID
	return nil
}

func (r *memRooms) Release(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return store.ErrRoomNotFound
	}
	room.CurrentTicketID = nil
	return nil
}

func (r *memRooms) CurrentTicket(_ context.Context, roomID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return "", false, store.ErrRoomNotFound
	}
	if room.CurrentTicketID == nil {
		return "", false, nil
	}
	return *room.CurrentTicketID, true, nil
}

type recordingAnnouncer struct {
	mu    sync.Mutex
	calls []string
}

func (a *recordingAnnouncer) AnnounceCall(_ context.Context, ticket models.Ticket, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ticket.TicketID)
	return nil
}

func newTestRouter(t *testing.T) (*Router, *memStore, *memRooms, *fakeClock, *recordingAnnouncer) {
	t.Helper()
	tickets := newMemStore()
	rooms := newMemRooms()
	clock := &fakeClock{now: testBase}
	announcer := &recordingAnnouncer{}
	r := New(tickets, rooms, Options{Clock: clock, Announcer: announcer})
	return r, tickets, rooms, clock, announcer
}

func createWaiting(t *testing.T, r *Router, department string) models.Ticket {
	t.Helper()
	ticket, err := r.CreateTicket(context.Background(), store.CreateTicketInput{Department: department})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func openEntryCount(ticket models.Ticket) int {
	count := 0
	for _, entry := range ticket.History {
		if !entry.Completed {
			count++
		}
	}
	return count
}

func TestCreateTicketOpensFirstEntry(t *testing.T) {
	r, _, _, _, _ := newTestRouter(t)

	ticket := createWaiting(t, r, "triage")
	if ticket.Status() != models.StatusWaiting {
		t.Fatalf("expected waiting, got %s", ticket.Status())
	}
	if openEntryCount(ticket) != 1 {
		t.Fatalf("expected exactly one open entry, got %d", openEntryCount(ticket))
	}
	if ticket.ActiveDepartment() != "triage" {
		t.Fatalf("expected triage, got %s", ticket.ActiveDepartment())
	}
}

func TestClaimStartsServingAndPersistsWaiting(t *testing.T) {
	r, _, rooms, clock, _ := newTestRouter(t)
	rooms.add("room-1", "triage")
	ticket := createWaiting(t, r, "triage")

	clock.Advance(30 * time.Second)
	claimed, err := r.Claim(context.Background(), models.Session{}, ticket.TicketID, "room-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status() != models.StatusServing {
		t.Fatalf("expected serving, got %s", claimed.Status())
	}
	entry := claimed.ActiveEntry()
	if entry.WaitingDurationSeconds != 30 {
		t.Fatalf("expected waiting 30s, got %d", entry.WaitingDurationSeconds)
	}
	if entry.RoomID == nil || *entry.RoomID != "room-1" {
		t.Fatalf("expected room-1 on entry")
	}

	current, ok, err := rooms.CurrentTicket(context.Background(), "room-1")
	if err != nil || !ok || current != ticket.TicketID {
		t.Fatalf("expected room claim on %s, got %s ok=%v err=%v", ticket.TicketID, current, ok, err)
	}
}

func TestClaimOccupiedRoomFails(t *testing.T) {
	r, _, rooms, _, _ := newTestRouter(t)
	rooms.add("room-1", "triage")
	first := createWaiting(t, r, "triage")
	second := createWaiting(t, r, "triage")

	if _, err := r.Claim(context.Background(), models.Session{}, first.TicketID, "room-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := r.Claim(context.Background(), models.Session{}, second.TicketID, "room-1")
	if !errors.Is(err, store.ErrRoomOccupied) {
		t.Fatalf("expected ErrRoomOccupied, got %v", err)
	}

	got, err := r.tickets.GetTicket(context.Background(), second.TicketID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status() != models.StatusWaiting {
		t.Fatalf("loser must stay waiting, got %s", got.Status())
	}
}

func TestClaimRaceExactlyOneWinner(t *testing.T) {
	r, _, rooms, _, _ := newTestRouter(t)
	rooms.add("room-1", "triage")
	first := createWaiting(t, r, "triage")
	second := createWaiting(t, r, "triage")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, id := range []string{first.TicketID, second.TicketID} {
		wg.Add(1)
		go func(ticketID string) {
			defer wg.Done()
			_, err := r.Claim(context.Background(), models.Session{}, ticketID, "room-1")
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var wins, occupied int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrRoomOccupied):
			occupied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || occupied != 1 {
		t.Fatalf("expected one winner and one ErrRoomOccupied, got wins=%d occupied=%d", wins, occupied)
	}
}

func TestClaimAnyRoomPicksFree(t *testing.T) {
	r, _, rooms, _, _ := newTestRouter(t)
	rooms.add("room-1", "triage")
	first := createWaiting(t, r, "triage")
	second := createWaiting(t, r, "triage")

	if _, err := r.Claim(context.Background(), models.Session{}, first.TicketID, "room-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := r.Claim(context.Background(), models.Session{}, second.TicketID, "")
	if !errors.Is(err, store.ErrNoRoomAvailable) {
		t.Fatalf("expected ErrNoRoomAvailable, got %v", err)
	}

	rooms.add("room-2", "triage")
	claimed, err := r.Claim(context.Background(), models.Session{}, second.TicketID, "")
	if err != nil {
		t.Fatalf("claim any: %v", err)
	}
	if entry := claimed.ActiveEntry(); entry.RoomID == nil || *entry.RoomID != "room-2" {
		t.Fatalf("expected room-2 picked")
	}
}

func TestHoldResumeDurations(t *testing.T) {
	r, _, rooms, clock, _ := newTestRouter(t)
	rooms.add("room-1", "triage")
	ticket := createWaiting(t, r, "triage")

	clock.Advance(30 * time.Second)
	if _, err := r.Claim(context.Background(), models.Session{}, ticket.TicketID, "room-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	clock.Advance(30 * time.Second) // t=60
	held, err := r.Hold(context.Background(), models.Session{}, ticket.TicketID, "waiting on paperwork")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.Status() != models.StatusHeld {
		t.Fatalf("expected held, got %s", held.Status())
	}
	if entry := held.ActiveEntry(); entry.ProcessingDurationSeconds != 30 {
		t.Fatalf("expected processing frozen at 30, got %d", entry.ProcessingDurationSeconds)
	}
	if _, ok, _ := rooms.CurrentTicket(context.Background(), "room-1"); ok {
		t.Fatalf("expected room released on hold")
	}

	clock.Advance(20 * time.Second) // t=80
	resumed, err := r.Unhold(context.Background(), models.Session{}, ticket.TicketID)
	if err != nil {
		t.Fatalf("unhold: %v", err)
	}
	entry := resumed.ActiveEntry()
	if entry.HoldDurationSeconds != 20 {
		t.Fatalf("expected hold 20s, got %d", entry.HoldDurationSeconds)
	}
	if resumed.Status() != models.StatusServing {
		t.Fatalf("expected serving after resume, got %s", resumed.Status())
	}

	clock.Advance(20 * time.Second) // t=100
	cleared, err := r.Clear(context.Background(), models.Session{}, ticket.TicketID)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	closed := cleared.History[len(cleared.History)-1]
	if closed.ProcessingDurationSeconds != 50 {
		t.Fatalf("expected processing 50s (hold excluded), got %d", closed.ProcessingDurationSeconds)
	}
	if closed.HoldDurationSeconds != 20 {
		t.Fatalf("expected hold 20s, got %d", closed.HoldDurationSeconds)
	}
	if cleared.TotalDurationSeconds == nil || *cleared.TotalDurationSeconds != 100 {
		t.Fatalf("expected total 100s (hold included), got %v", cleared.TotalDurationSeconds)
	}
}

func TestUnholdWhenNotHeldIsRejected(t *testing.T) {
	r, _, _, clock, _ := newTestRouter(t)
	ticket := createWaiting(t, r, "triage")

	clock.Advance(10 * time.Second)
	_, err := r.Unhold(context.Background(), models.Session{}, ticket.TicketID)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, _ := r.tickets.GetTicket(context.Background(), ticket.TicketID)
	if entry := got.ActiveEntry(); entry.HoldDurationSeconds != 0 {
		t.Fatalf("hold duration must not change, got %d", entry.HoldDurationSeconds)
	}
}

func TestForwardClosesAndOpens(t *testing.T) {
	r, _, rooms, clock, _ := newTestRouter(t)
	rooms.add("room-1", "triage")
	ticket := createWaiting(t, r, "triage")

	clock.Advance(30 * time.Second)
	if _, err := r.Claim(context.Background(), models.Session{}, ticket.TicketID, "room-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	clock.Advance(60 * time.Second)
	forwarded, err := r.Forward(context.Background(), models.Session{}, ticket.TicketID, "lab", "")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if openEntryCount(forwarded) != 1 {
		t.Fatalf("expected exactly one open entry, got %d", openEntryCount(forwarded))
	}
	if forwarded.ActiveDepartment() != "lab" {
		t.Fatalf("expected lab, got %s", forwarded.ActiveDepartment())
	}
	prior := forwarded.History[0]
	if !prior.Completed || prior.CompletedAt == nil {
		t.Fatalf("prior entry must be closed")
	}
	if prior.ProcessingDurationSeconds != 60 {
		t.Fatalf("expected processing 60s, got %d", prior.ProcessingDurationSeconds)
	}
	if forwarded.Status() != models.StatusWaiting {
		t.Fatalf("expected waiting in new department, got %s", forwarded.Status())
	}
	if _, ok, _ := rooms.CurrentTicket(context.Background(), "room-1"); ok {
		t.Fatalf("expected prior room released")
	}
}

func TestForwardPlanAndAdvance(t *testing.T) {
	r, _, _, _, _ := newTestRouter(t)
	ticket := createWaiting(t, r, "triage")

	planned, err := r.ForwardPlan(context.Background(), models.Session{}, ticket.TicketID, []PlanStepInput{
		{Department: "lab"},
		{Department: "billing"},
	})
	if err != nil {
		t.Fatalf("forward plan: %v", err)
	}
	if planned.ActiveDepartment() != "lab" {
		t.Fatalf("expected lab first, got %s", planned.ActiveDepartment())
	}
	if planned.Plan == nil || planned.Plan.CurrentIndex != 0 {
		t.Fatalf("expected plan cursor at 0")
	}

	advanced, err := r.Forward(context.Background(), models.Session{}, ticket.TicketID, "", "")
	if err != nil {
		t.Fatalf("forward via plan: %v", err)
	}
	if advanced.ActiveDepartment() != "billing" {
		t.Fatalf("expected billing, got %s", advanced.ActiveDepartment())
	}
	if !advanced.Plan.Steps[0].Processed {
		t.Fatalf("expected first step marked processed")
	}

	_, err = r.Forward(context.Background(), models.Session{}, ticket.TicketID, "", "")
	if !errors.Is(err, store.ErrPlanExhausted) {
		t.Fatalf("expected ErrPlanExhausted, got %v", err)
	}

	got, _ := r.tickets.GetTicket(context.Background(), ticket.TicketID)
	if got.ActiveDepartment() != "billing" {
		t.Fatalf("ticket must remain in billing, got %s", got.ActiveDepartment())
	}
	if openEntryCount(got) != 1 {
		t.Fatalf("expected one open entry, got %d", openEntryCount(got))
	}

	manual, err := r.Forward(context.Background(), models.Session{}, ticket.TicketID, "pharmacy", "")
	if err != nil {
		t.Fatalf("manual forward after exhausted plan: %v", err)
	}
	if manual.ActiveDepartment() != "pharmacy" {
		t.Fatalf("expected pharmacy, got %s", manual.ActiveDepartment())
	}
}

func TestForwardPlanOverwritesRemainder(t *testing.T) {
	r, _, _, _, _ := newTestRouter(t)
	ticket := createWaiting(t, r, "triage")

	if _, err := r.ForwardPlan(context.Background(), models.Session{}, ticket.TicketID, []PlanStepInput{
		{Department: "lab"},
		{Department: "billing"},
	}); err != nil {
		t.Fatalf("first plan: %v", err)
	}

	replaced, err := r.ForwardPlan(context.Background(), models.Session{}, ticket.TicketID, []PlanStepInput{
		{Department: "radiology"},
	})
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}
	if len(replaced.Plan.Steps) != 1 || replaced.Plan.Steps[0].Department != "radiology" {
		t.Fatalf("expected plan replaced outright, got %+v", replaced.Plan)
	}
	if replaced.ActiveDepartment() != "radiology" {
		t.Fatalf("expected radiology, got %s", replaced.ActiveDepartment())
	}
}

func TestClearTotalDurationRoundTrip(t *testing.T) {
	r, _, rooms, clock, _ := newTestRouter(t)
	rooms.add("room-1", "triage")
	ticket := createWaiting(t, r, "triage")

	clock.Advance(30 * time.Second)
	if _, err := r.Claim(context.Background(), models.Session{}, ticket.TicketID, "room-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	clock.Advance(30 * time.Second)
	if _, err := r.Hold(context.Background(), models.Session{}, ticket.TicketID, ""); err != nil {
		t.Fatalf("hold: %v", err)
	}
	clock.Advance(40 * time.Second)
	if _, err := r.Unhold(context.Background(), models.Session{}, ticket.TicketID); err != nil {
		t.Fatalf("unhold: %v", err)
	}
	clock.Advance(20 * time.Second)
	if _, err := r.Forward(context.Background(), models.Session{}, ticket.TicketID, "billing", ""); err != nil {
		t.Fatalf("forward: %v", err)
	}
	clock.Advance(60 * time.Second)
	cleared, err := r.Clear(context.Background(), models.Session{}, ticket.TicketID)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}

	if cleared.TotalDurationSeconds == nil || *cleared.TotalDurationSeconds != 180 {
		t.Fatalf("expected total 180s, got %v", cleared.TotalDurationSeconds)
	}
	if cleared.CompletedAt == nil || *cleared.TotalDurationSeconds != int64(cleared.CompletedAt.Sub(cleared.CreatedAt)/time.Second) {
		t.Fatalf("total must equal completedAt-createdAt exactly")
	}
	if openEntryCount(cleared) != 0 {
		t.Fatalf("terminal ticket must have zero open entries, got %d", openEntryCount(cleared))
	}
}

func TestNoShowFromHeld(t *testing.T) {
	r, _, _, clock, _ := newTestRouter(t)
	ticket := createWaiting(t, r, "triage")

	clock.Advance(10 * time.Second)
	if _, err := r.Hold(context.Background(), models.Session{}, ticket.TicketID, ""); err != nil {
		t.Fatalf("hold: %v", err)
	}
	clock.Advance(15 * time.Second)
	gone, err := r.NoShow(context.Background(), models.Session{}, ticket.TicketID)
	if err != nil {
		t.Fatalf("no-show: %v", err)
	}
	if gone.Status() != models.StatusNoShow {
		t.Fatalf("expected no_show, got %s", gone.Status())
	}
	if openEntryCount(gone) != 0 {
		t.Fatalf("expected zero open entries, got %d", openEntryCount(gone))
	}
	if gone.History[0].HoldDurationSeconds != 15 {
		t.Fatalf("expected hold folded on close, got %d", gone.History[0].HoldDurationSeconds)
	}

	_, err = r.NoShow(context.Background(), models.Session{}, ticket.TicketID)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("terminal ticket must reject transitions, got %v", err)
	}
}

func TestMarkEmergencyWhileHeld(t *testing.T) {
	r, _, _, _, _ := newTestRouter(t)
	ticket := createWaiting(t, r, "triage")

	if _, err := r.Hold(context.Background(), models.Session{}, ticket.TicketID, ""); err != nil {
		t.Fatalf("hold: %v", err)
	}
	flagged, err := r.MarkEmergency(context.Background(), models.Session{}, ticket.TicketID, true)
	if err != nil {
		t.Fatalf("emergency: %v", err)
	}
	if !flagged.Emergency {
		t.Fatalf("expected emergency flag set")
	}
	if flagged.Status() != models.StatusHeld {
		t.Fatalf("state must remain held, got %s", flagged.Status())
	}
}

func TestConcurrentHoldAndForwardSerialize(t *testing.T) {
	r, _, _, _, _ := newTestRouter(t)
	ticket := createWaiting(t, r, "triage")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := r.Hold(context.Background(), models.Session{}, ticket.TicketID, "")
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := r.Forward(context.Background(), models.Session{}, ticket.TicketID, "lab", "")
		results <- err
	}()
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrConcurrentModification):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// Whichever runs second sees the first one's state change.
	if ok < 1 || ok+rejected != 2 {
		t.Fatalf("expected serialized outcome, got ok=%d rejected=%d", ok, rejected)
	}

	got, _ := r.tickets.GetTicket(context.Background(), ticket.TicketID)
	if openEntryCount(got) != 1 {
		t.Fatalf("invariant broken: %d open entries", openEntryCount(got))
	}
}

func TestStaleSaveIsRejected(t *testing.T) {
	_, tickets, _, _, _ := newTestRouter(t)
	created, err := tickets.CreateTicket(context.Background(), models.Ticket{TicketID: "t-1", CreatedAt: testBase})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fresh := created
	if _, err := tickets.SaveTicket(context.Background(), fresh); err != nil {
		t.Fatalf("first save: %v", err)
	}
	_, err = tickets.SaveTicket(context.Background(), created)
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestRedirectSwapsRooms(t *testing.T) {
	r, _, rooms, _, _ := newTestRouter(t)
	rooms.add("room-1", "triage")
	rooms.add("room-2", "triage")
	ticket := createWaiting(t, r, "triage")

	if _, err := r.Claim(context.Background(), models.Session{}, ticket.TicketID, "room-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	moved, err := r.Redirect(context.Background(), models.Session{}, ticket.TicketID, "room-2")
	if err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if entry := moved.ActiveEntry(); entry.RoomID == nil || *entry.RoomID != "room-2" {
		t.Fatalf("expected room-2 on entry")
	}
	if _, ok, _ := rooms.CurrentTicket(context.Background(), "room-1"); ok {
		t.Fatalf("expected room-1 released")
	}
	current, ok, _ := rooms.CurrentTicket(context.Background(), "room-2")
	if !ok || current != ticket.TicketID {
		t.Fatalf("expected room-2 claimed by ticket")
	}
}

func TestCallTriggersAnnouncement(t *testing.T) {
	r, _, _, _, announcer := newTestRouter(t)
	ticket := createWaiting(t, r, "triage")

	paged, err := r.Call(context.Background(), models.Session{RoomID: "room-1"}, ticket.TicketID)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !paged.Call {
		t.Fatalf("expected call flag set")
	}
	if len(announcer.calls) != 1 || announcer.calls[0] != ticket.TicketID {
		t.Fatalf("expected one announcement for %s, got %v", ticket.TicketID, announcer.calls)
	}
}

func TestNextInQueueOrdering(t *testing.T) {
	r, _, _, clock, _ := newTestRouter(t)

	first := createWaiting(t, r, "triage")
	clock.Advance(time.Minute)
	second := createWaiting(t, r, "triage")
	if _, err := r.MarkEmergency(context.Background(), models.Session{}, second.TicketID, true); err != nil {
		t.Fatalf("emergency: %v", err)
	}

	next, found, err := r.NextInQueue(context.Background(), "triage", "")
	if err != nil || !found {
		t.Fatalf("next in queue: found=%v err=%v", found, err)
	}
	if next.TicketID != second.TicketID {
		t.Fatalf("expected emergency ticket first, got %s", next.TicketID)
	}

	if _, err := r.NoShow(context.Background(), models.Session{}, second.TicketID); err != nil {
		t.Fatalf("no-show: %v", err)
	}
	next, found, err = r.NextInQueue(context.Background(), "triage", "")
	if err != nil || !found {
		t.Fatalf("next in queue: found=%v err=%v", found, err)
	}
	if next.TicketID != first.TicketID {
		t.Fatalf("expected FIFO ticket, got %s", next.TicketID)
	}
}

func TestApplyTransitionDispatch(t *testing.T) {
	r, _, rooms, _, _ := newTestRouter(t)
	rooms.add("room-1", "triage")
	ticket := createWaiting(t, r, "triage")

	claimed, err := r.ApplyTransition(context.Background(), models.Session{}, ticket.TicketID, TransitionClaim, Payload{RoomID: "room-1"})
	if err != nil {
		t.Fatalf("dispatch claim: %v", err)
	}
	if claimed.Status() != models.StatusServing {
		t.Fatalf("expected serving, got %s", claimed.Status())
	}

	_, err = r.ApplyTransition(context.Background(), models.Session{}, ticket.TicketID, "destroy", Payload{})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for unknown kind, got %v", err)
	}
}

func TestSessionDepartmentMismatchDenied(t *testing.T) {
	r, _, rooms, _, _ := newTestRouter(t)
	rooms.add("room-1", "triage")
	ticket := createWaiting(t, r, "triage")

	_, err := r.Claim(context.Background(), models.Session{Department: "billing"}, ticket.TicketID, "room-1")
	if !errors.Is(err, store.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}
