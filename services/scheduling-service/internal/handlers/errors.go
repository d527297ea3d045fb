package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{model.ErrInvalidDate, http.StatusBadRequest, "invalid_date"},
	{model.ErrInvalidTime, http.StatusBadRequest, "invalid_time"},
	{model.ErrProviderNotFound, http.StatusNotFound, "provider_not_found"},
	{model.ErrSubjectNotFound, http.StatusNotFound, "subject_not_found"},
	{model.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{model.ErrOutsideWorkingHours, http.StatusUnprocessableEntity, "outside_working_hours"},
	{model.ErrSlotAlreadyBooked, http.StatusConflict, "slot_already_booked"},
	{model.ErrCapacityExceeded, http.StatusConflict, "capacity_exceeded"},
	{model.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{model.ErrNotPermitted, http.StatusForbidden, "not_permitted"},
	{model.ErrPersistence, http.StatusServiceUnavailable, "persistence_error"},
}

// statusFor maps an operation error to its HTTP status and stable error code.
func statusFor(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *SchedulingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "err", err, "path", r.URL.Path)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
