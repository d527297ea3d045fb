package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/lifecycle"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
)

type SchedulingHandler struct {
	finder    *availability.Finder
	booking   *booking.Service
	lifecycle *lifecycle.Service
	logger    *slog.Logger
}

func NewSchedulingHandler(finder *availability.Finder, bookingSvc *booking.Service, lifecycleSvc *lifecycle.Service, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{
		finder:    finder,
		booking:   bookingSvc,
		lifecycle: lifecycleSvc,
		logger:    logger,
	}
}

// Register mounts the routes on mux. Slot lookup is public; everything else goes
// through requireAuth. bookingGuard wraps the booking route only and runs after
// requireAuth, so a rate limiter sees the caller's subject. The day listing is limited
// to staff roles.
func (h *SchedulingHandler) Register(mux *http.ServeMux, requireAuth, bookingGuard httpx.Middleware) {
	staffOnly := httpx.RequireRole(model.RoleAdmin, model.RoleClinician, model.RoleFrontDesk)

	mux.HandleFunc("/api/v1/slots", h.Slots)
	mux.Handle("/api/v1/appointments", httpx.Chain(http.HandlerFunc(h.Book), requireAuth, bookingGuard))
	mux.Handle("/api/v1/appointments/day", httpx.Chain(http.HandlerFunc(h.Day), requireAuth, staffOnly))
	mux.Handle("/api/v1/appointments/detail", requireAuth(http.HandlerFunc(h.Detail)))
	mux.Handle("/api/v1/appointments/transition", requireAuth(http.HandlerFunc(h.Transition)))
}

type slotsResponse struct {
	ProviderID string   `json:"provider_id"`
	Date       string   `json:"date"`
	Slots      []string `json:"slots"`
}

type bookRequest struct {
	ProviderID    string `json:"provider_id"`
	SubjectID     string `json:"subject_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Reason        string `json:"reason"`
	AttachmentRef string `json:"attachment_ref"`
}

type bookResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Date          string `json:"date"`
	FormattedDate string `json:"formatted_date"`
	FormattedTime string `json:"formatted_time"`
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Action        string `json:"action"`
}

type transitionResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ProviderID    string `json:"provider_id"`
	SubjectID     string `json:"subject_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// Slots answers GET /api/v1/slots?provider_id=&date=.
func (h *SchedulingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	rawDate := r.URL.Query().Get("date")
	date, ok := schedule.ParseDate(rawDate)
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: %q", model.ErrInvalidDate, rawDate))
		return
	}

	slots, err := h.finder.AvailableSlots(r.Context(), providerID, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{
		ProviderID: providerID,
		Date:       date.Format(schedule.DateLayout),
		Slots:      availability.Format(slots),
	})
}

// Book answers POST /api/v1/appointments.
func (h *SchedulingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	if req.ProviderID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	if req.SubjectID == "" {
		req.SubjectID = actor.ID
	}
	if req.SubjectID != actor.ID && !actor.ActsForOthers() {
		h.writeError(w, r, fmt.Errorf("%w: %s may only book for themselves", model.ErrNotPermitted, actor.ID))
		return
	}

	appt, err := h.booking.Book(r.Context(), booking.Request{
		ProviderID:    req.ProviderID,
		SubjectID:     req.SubjectID,
		Date:          req.Date,
		Time:          req.Time,
		Reason:        req.Reason,
		AttachmentRef: req.AttachmentRef,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookResponse{
		AppointmentID: appt.ID,
		Status:        string(appt.Status),
		Date:          appt.Date.Format(schedule.DateLayout),
		FormattedDate: appt.Date.Format(schedule.DisplayDateLayout),
		FormattedTime: appt.Time.String(),
	})
}

// Day answers GET /api/v1/appointments/day?provider_id=&date= for staff.
func (h *SchedulingHandler) Day(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		providerID = actor.ID
	}
	if providerID != actor.ID && !actor.ActsForOthers() {
		h.writeError(w, r, fmt.Errorf("%w: %s may not list %s", model.ErrNotPermitted, actor.ID, providerID))
		return
	}
	rawDate := r.URL.Query().Get("date")
	date, ok := schedule.ParseDate(rawDate)
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: %q", model.ErrInvalidDate, rawDate))
		return
	}

	appts, err := h.booking.List(r.Context(), providerID, date, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Detail answers GET /api/v1/appointments/detail?id=.
func (h *SchedulingHandler) Detail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	appt, err := h.booking.Get(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

// Transition answers POST /api/v1/appointments/transition.
func (h *SchedulingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(req.AppointmentID)
	if id == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}
	action, ok := lifecycle.ParseAction(req.Action)
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: unknown action %q", model.ErrInvalidTransition, req.Action))
		return
	}

	appt, err := h.lifecycle.Transition(r.Context(), id, action, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{AppointmentID: appt.ID, Status: string(appt.Status)})
}

func actorFrom(r *http.Request) (model.Actor, bool) {
	claims, ok := httpx.ClaimsFromContext(r.Context())
	if !ok {
		return model.Actor{}, false
	}
	return model.Actor{ID: claims.Sub, Role: claims.Role}, true
}

func toItem(a model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID: a.ID,
		ProviderID:    a.ProviderID,
		SubjectID:     a.SubjectID,
		Date:          a.Date.Format(schedule.DateLayout),
		Time:          a.Time.String(),
		Status:        string(a.Status),
		Reason:        a.Reason,
		AttachmentRef: a.AttachmentRef,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
