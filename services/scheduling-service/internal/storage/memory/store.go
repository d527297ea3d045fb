// Package memory is an in-process Store with the same transactional guarantees as the
// Postgres repository: bookers of one provider's day are serialized and an active
// (provider, date, time) is unique.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/storage"
)

type Store struct {
	mu       sync.Mutex
	appts    map[string]model.Appointment
	dayLocks map[string]chan struct{}
	faults   []error
	now      func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		appts:    map[string]model.Appointment{},
		dayLocks: map[string]chan struct{}{},
		now:      time.Now,
	}
}

// SetClock replaces the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// InjectFaults makes the next len(errs) operations fail with errs, in order.
func (s *Store) InjectFaults(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, errs...)
}

func (s *Store) fault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.faults) == 0 {
		return nil
	}
	err := s.faults[0]
	s.faults = s.faults[1:]
	return err
}

func (s *Store) ActiveSlots(ctx context.Context, providerID string, date time.Time) ([]schedule.TimeOfDay, error) {
	if err := s.fault(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSlotsLocked(providerID, date), nil
}

func (s *Store) activeSlotsLocked(providerID string, date time.Time) []schedule.TimeOfDay {
	day := schedule.Day(date)
	slots := []schedule.TimeOfDay{}
	for _, a := range s.appts {
		if a.ProviderID == providerID && a.Date.Equal(day) && a.Status.Active() {
			slots = append(slots, a.Time)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

func (s *Store) InDayTransaction(ctx context.Context, providerID string, date time.Time, fn func(ctx context.Context, tx storage.DayTx) error) error {
	if err := s.fault(); err != nil {
		return err
	}
	lock := s.dayLock(providerID + ":" + schedule.Day(date).Format(schedule.DateLayout))
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	tx := &dayTx{store: s, providerID: providerID, date: schedule.Day(date)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx.pending)
}

func (s *Store) dayLock(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.dayLocks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.dayLocks[key] = l
	}
	return l
}

func (s *Store) commit(pending []model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pending {
		if s.slotHeldLocked(p.ProviderID, p.Date, p.Time, "") {
			return storage.ErrSlotTaken
		}
	}
	for _, p := range pending {
		s.appts[p.ID] = p
	}
	return nil
}

func (s *Store) slotHeldLocked(providerID string, date time.Time, t schedule.TimeOfDay, exceptID string) bool {
	for id, a := range s.appts {
		if id != exceptID && a.ProviderID == providerID && a.Date.Equal(date) && a.Time == t && a.Status.Active() {
			return true
		}
	}
	return false
}

type dayTx struct {
	store      *Store
	providerID string
	date       time.Time
	pending    []model.Appointment
}

func (d *dayTx) ActiveSlots(ctx context.Context) ([]schedule.TimeOfDay, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.store.mu.Lock()
	slots := d.store.activeSlotsLocked(d.providerID, d.date)
	d.store.mu.Unlock()
	for _, p := range d.pending {
		slots = append(slots, p.Time)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots, nil
}

func (d *dayTx) Insert(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return model.Appointment{}, err
	}
	appt.Date = schedule.Day(appt.Date)

	d.store.mu.Lock()
	held := d.store.slotHeldLocked(appt.ProviderID, appt.Date, appt.Time, "")
	_, dup := d.store.appts[appt.ID]
	now := d.store.now().UTC()
	d.store.mu.Unlock()

	if held {
		return model.Appointment{}, storage.ErrSlotTaken
	}
	for _, p := range d.pending {
		if p.ID == appt.ID {
			dup = true
		}
		if p.ProviderID == appt.ProviderID && p.Date.Equal(appt.Date) && p.Time == appt.Time && appt.Status.Active() {
			return model.Appointment{}, storage.ErrSlotTaken
		}
	}
	if dup {
		return model.Appointment{}, fmt.Errorf("duplicate appointment id %s", appt.ID)
	}

	appt.CreatedAt = now
	appt.UpdatedAt = now
	d.pending = append(d.pending, appt)
	return appt, nil
}

func (s *Store) Transition(ctx context.Context, id string, decide func(model.Appointment) (model.Status, error)) (model.Appointment, model.Status, error) {
	if err := s.fault(); err != nil {
		return model.Appointment{}, "", err
	}
	if err := ctx.Err(); err != nil {
		return model.Appointment{}, "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, "", storage.ErrNotFound
	}
	next, err := decide(current)
	if err != nil {
		return model.Appointment{}, "", err
	}
	if next.Active() && !current.Status.Active() && s.slotHeldLocked(current.ProviderID, current.Date, current.Time, id) {
		return model.Appointment{}, "", storage.ErrSlotTaken
	}

	updated := current
	updated.Status = next
	updated.UpdatedAt = s.now().UTC()
	s.appts[id] = updated
	return updated, current.Status, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if err := s.fault(); err != nil {
		return model.Appointment{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAppointments(ctx context.Context, providerID string, date time.Time) ([]model.Appointment, error) {
	if err := s.fault(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	day := schedule.Day(date)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Appointment
	for _, a := range s.appts {
		if a.ProviderID == providerID && a.Date.Equal(day) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
