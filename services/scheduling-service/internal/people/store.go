// Package people resolves providers and subjects from the staff and patient directories.
package people

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicbook/libs/db"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
)

var ErrNotFound = errors.New("person not found")

type Store interface {
	Provider(ctx context.Context, id string) (model.Provider, error)
	Subject(ctx context.Context, id string) (model.Subject, error)
}

type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Provider(ctx context.Context, id string) (model.Provider, error) {
	var p model.Provider
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, working_days, working_hours,
			slot_interval_minutes, max_daily_appointments, active
		FROM providers
		WHERE id = $1
	`, id).Scan(
		&p.ID,
		&p.DisplayName,
		&p.WorkingDays,
		&p.WorkingHours,
		&p.SlotIntervalMinutes,
		&p.MaxDailyAppointments,
		&p.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Provider{}, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) Subject(ctx context.Context, id string) (model.Subject, error) {
	var subj model.Subject
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name
		FROM subjects
		WHERE id = $1
	`, id).Scan(&subj.ID, &subj.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Subject{}, ErrNotFound
	}
	return subj, err
}

// StaticStore serves a fixed directory from memory.
type StaticStore struct {
	mu        sync.RWMutex
	providers map[string]model.Provider
	subjects  map[string]model.Subject
}

func NewStaticStore() *StaticStore {
	return &StaticStore{
		providers: map[string]model.Provider{},
		subjects:  map[string]model.Subject{},
	}
}

func (s *StaticStore) PutProvider(p model.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
}

func (s *StaticStore) PutSubject(subj model.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subj.ID] = subj
}

func (s *StaticStore) Provider(_ context.Context, id string) (model.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return model.Provider{}, ErrNotFound
	}
	return p, nil
}

func (s *StaticStore) Subject(_ context.Context, id string) (model.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subj, ok := s.subjects[id]
	if !ok {
		return model.Subject{}, ErrNotFound
	}
	return subj, nil
}
