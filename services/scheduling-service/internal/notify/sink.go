// Package notify hands appointment events to downstream reminder and confirmation
// delivery. Delivery is best effort: a sink never blocks or fails the caller.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/clinicbook/libs/otel"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
)

const (
	EventAppointmentCreated      = "appointment.created"
	EventAppointmentTransitioned = "appointment.status_changed"
)

type Sink interface {
	AppointmentCreated(ctx context.Context, appt model.Appointment)
	AppointmentTransitioned(ctx context.Context, appt model.Appointment, from model.Status)
}

// Event is the payload published for every appointment change. The reason is never
// included.
type Event struct {
	EventID        string `json:"event_id"`
	EventType      string `json:"event_type"`
	AppointmentID  string `json:"appointment_id"`
	ProviderID     string `json:"provider_id"`
	SubjectID      string `json:"subject_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}

func NewEvent(eventType string, appt model.Appointment, from model.Status, now time.Time) Event {
	return Event{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		AppointmentID:  appt.ID,
		ProviderID:     appt.ProviderID,
		SubjectID:      appt.SubjectID,
		Date:           appt.Date.Format(schedule.DateLayout),
		Time:           appt.Time.Clock(),
		Status:         string(appt.Status),
		PreviousStatus: string(from),
		OccurredAt:     now.UTC().Format(time.RFC3339),
	}
}

// LogSink writes events to the service log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) AppointmentCreated(ctx context.Context, appt model.Appointment) {
	s.log(ctx, NewEvent(EventAppointmentCreated, appt, "", time.Now()))
}

func (s *LogSink) AppointmentTransitioned(ctx context.Context, appt model.Appointment, from model.Status) {
	s.log(ctx, NewEvent(EventAppointmentTransitioned, appt, from, time.Now()))
}

func (s *LogSink) log(ctx context.Context, e Event) {
	traceparent, _ := otelx.TraceContextStrings(ctx)
	s.logger.Info("appointment event",
		"event_id", e.EventID,
		"event_type", e.EventType,
		"appointment_id", e.AppointmentID,
		"provider_id", e.ProviderID,
		"status", e.Status,
		"previous_status", e.PreviousStatus,
		"traceparent", traceparent,
	)
}

// Discard drops every event.
type Discard struct{}

func (Discard) AppointmentCreated(context.Context, model.Appointment) {}

func (Discard) AppointmentTransitioned(context.Context, model.Appointment, model.Status) {}
