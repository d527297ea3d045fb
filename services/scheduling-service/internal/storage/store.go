package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSlotTaken is returned when an insert collides with an active appointment
	// holding the same provider, date and time.
	ErrSlotTaken = errors.New("slot taken")
	// ErrTransient marks a failure worth retrying.
	ErrTransient = errors.New("transient storage failure")
)

// Store is the durable source of truth for appointments.
type Store interface {
	// ActiveSlots returns the times held by non-cancelled appointments of the provider on date.
	ActiveSlots(ctx context.Context, providerID string, date time.Time) ([]schedule.TimeOfDay, error)

	// InDayTransaction runs fn in one transaction that excludes every other booker of the
	// same provider and date. fn's error rolls the transaction back.
	InDayTransaction(ctx context.Context, providerID string, date time.Time, fn func(ctx context.Context, tx DayTx) error) error

	// Transition locks the appointment, asks decide for its next status and persists it.
	// It returns the updated appointment and the status it had before.
	Transition(ctx context.Context, id string, decide func(model.Appointment) (model.Status, error)) (model.Appointment, model.Status, error)

	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, providerID string, date time.Time) ([]model.Appointment, error)
}

// DayTx is the view of one provider's day inside InDayTransaction.
type DayTx interface {
	ActiveSlots(ctx context.Context) ([]schedule.TimeOfDay, error)
	// Insert persists appt and returns it with its storage timestamps.
	Insert(ctx context.Context, appt model.Appointment) (model.Appointment, error)
}
