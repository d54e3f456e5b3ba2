package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"octech/queue-service/internal/models"
	"octech/queue-service/internal/router"
	"octech/queue-service/internal/store"
)

// Service is what the HTTP layer needs from the core. The router satisfies it.
type Service interface {
	CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error)
	ApplyTransition(ctx context.Context, session models.Session, ticketID, kind string, payload router.Payload) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, router.TicketDurations, error)
	ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error)
	NextInQueue(ctx context.Context, department, roomID string) (models.Ticket, bool, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/queue/next", h.handleNextInQueue)
	return mux
}

type createTicketRequest struct {
	CustomerName string `json:"customer_name"`
	Reason       string `json:"reason"`
	UserType     string `json:"user_type"`
	Emergency    bool   `json:"emergency"`
	Department   string `json:"department"`
}

type actionRequest struct {
	RoomID     string                 `json:"room_id"`
	Department string                 `json:"department"`
	Plan       []router.PlanStepInput `json:"plan"`
	Note       string                 `json:"note"`
	Emergency  bool                   `json:"emergency"`
}

type ticketResponse struct {
	models.Ticket
	Status    string                  `json:"status"`
	Durations *router.TicketDurations `json:"durations,omitempty"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// actionKinds maps URL action segments to transition kinds.
var actionKinds = map[string]string{
	"claim":        router.TransitionClaim,
	"hold":         router.TransitionHold,
	"unhold":       router.TransitionUnhold,
	"redirect":     router.TransitionRedirect,
	"forward":      router.TransitionForward,
	"forward-plan": router.TransitionForwardPlan,
	"clear":        router.TransitionClear,
	"no-show":      router.TransitionNoShow,
	"emergency":    router.TransitionEmergency,
	"call":         router.TransitionCall,
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateTicket(w, r)
	case http.MethodGet:
		h.handleListTickets(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Department = strings.TrimSpace(req.Department)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.UserType = strings.TrimSpace(req.UserType)
	if req.Department == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "department is required")
		return
	}

	ticket, err := h.service.CreateTicket(r.Context(), store.CreateTicketInput{
		CustomerName: req.CustomerName,
		Reason:       strings.TrimSpace(req.Reason),
		UserType:     req.UserType,
		Emergency:    req.Emergency,
		Department:   req.Department,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, ticketResponse{Ticket: ticket, Status: ticket.Status()})
}

func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.TicketFilter{
		Department: strings.TrimSpace(query.Get("department")),
		RoomID:     strings.TrimSpace(query.Get("room_id")),
		Status:     strings.TrimSpace(query.Get("status")),
		HeldOnly:   query.Get("held_only") == "true",
	}

	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from must be RFC3339 timestamp")
			return
		}
		filter.From = parsed
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to must be RFC3339 timestamp")
			return
		}
		filter.To = parsed
	}

	tickets, err := h.service.ListTickets(r.Context(), filter)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	responses := make([]ticketResponse, 0, len(tickets))
	for _, ticket := range tickets {
		responses = append(responses, ticketResponse{Ticket: ticket, Status: ticket.Status()})
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetTicket(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, durations, err := h.service.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket, Status: ticket.Status(), Durations: &durations})
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	kind, ok := actionKinds[action]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req actionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if kind == router.TransitionForwardPlan && len(req.Plan) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "plan requires at least one department")
		return
	}
	if kind == router.TransitionRedirect && strings.TrimSpace(req.RoomID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "room_id is required")
		return
	}

	ticket, err := h.service.ApplyTransition(r.Context(), sessionFromRequest(r), ticketID, kind, router.Payload{
		RoomID:     strings.TrimSpace(req.RoomID),
		Department: strings.TrimSpace(req.Department),
		Plan:       req.Plan,
		Note:       strings.TrimSpace(req.Note),
		Emergency:  req.Emergency,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket, Status: ticket.Status()})
}

func (h *Handler) handleNextInQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	department := strings.TrimSpace(r.URL.Query().Get("department"))
	roomID := strings.TrimSpace(r.URL.Query().Get("room_id"))
	if department == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "department is required")
		return
	}

	ticket, found, err := h.service.NextInQueue(r.Context(), department, roomID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket, Status: ticket.Status()})
}

// sessionFromRequest reads the staff context forwarded by the auth gateway.
func sessionFromRequest(r *http.Request) models.Session {
	return models.Session{
		StaffID:    strings.TrimSpace(r.Header.Get("X-Staff-ID")),
		RoomID:     strings.TrimSpace(r.Header.Get("X-Room-ID")),
		Department: strings.TrimSpace(r.Header.Get("X-Department")),
	}
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrRoomNotFound):
		return http.StatusNotFound, "room_not_found", "room not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "ticket state does not allow this action"
	case errors.Is(err, store.ErrRoomOccupied):
		return http.StatusConflict, "room_occupied", "room already serving another ticket"
	case errors.Is(err, store.ErrRoomUnavailable):
		return http.StatusConflict, "room_unavailable", "room unavailable"
	case errors.Is(err, store.ErrNoRoomAvailable):
		return http.StatusConflict, "no_room_available", "no room available in this department"
	case errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification", "ticket changed, refetch and retry"
	case errors.Is(err, store.ErrPlanExhausted):
		return http.StatusConflict, "plan_exhausted", "queue plan exhausted, select department manually"
	case errors.Is(err, store.ErrActiveEntryExists), errors.Is(err, store.ErrNoActiveEntry):
		return http.StatusConflict, "ledger_conflict", "ticket history does not allow this action"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
