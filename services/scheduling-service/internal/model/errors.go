package model

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the scheduling operations. Each failure maps to exactly one.
var (
	ErrInvalidDate         = errors.New("invalid date")
	ErrInvalidTime         = errors.New("invalid time")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrSubjectNotFound     = errors.New("subject not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrOutsideWorkingHours = errors.New("requested time is outside working hours")
	ErrSlotAlreadyBooked   = errors.New("slot already booked")
	ErrCapacityExceeded    = errors.New("provider has reached daily capacity")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrNotPermitted        = errors.New("not permitted")
	ErrPersistence         = errors.New("persistence failure")
)

// TransitionError names the state an appointment was in and the rejected action.
type TransitionError struct {
	From   Status
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an appointment that is %s", e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
