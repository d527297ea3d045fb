package model

import (
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the appointment still holds its slot.
func (s Status) Active() bool {
	return s != StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Appointment is one booked slot. Date is a calendar day at midnight UTC; Time is the
// clinic-local time of day. Reason holds ciphertext while stored.
type Appointment struct {
	ID            string
	ProviderID    string
	SubjectID     string
	Date          time.Time
	Time          schedule.TimeOfDay
	Status        Status
	Reason        string
	AttachmentRef string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Provider is a bookable staff member as configured by the staff directory.
type Provider struct {
	ID                   string
	DisplayName          string
	WorkingDays          string
	WorkingHours         string
	SlotIntervalMinutes  int
	MaxDailyAppointments int
	Active               bool
}

// DailyCapacity returns the configured maximum, or the default when unset.
func (p Provider) DailyCapacity() int {
	if p.MaxDailyAppointments <= 0 {
		return schedule.DefaultMaxDaily
	}
	return p.MaxDailyAppointments
}

type Subject struct {
	ID          string
	DisplayName string
}
