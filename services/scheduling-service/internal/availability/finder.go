package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/people"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scheduling-service/availability")

type OccupancyReader interface {
	ActiveSlots(ctx context.Context, providerID string, date time.Time) ([]schedule.TimeOfDay, error)
}

// Finder answers "what can I book": it reads a snapshot of occupied slots and never writes.
type Finder struct {
	people    people.Store
	occupancy OccupancyReader
	retry     storage.RetryPolicy
	logger    *slog.Logger
}

func NewFinder(people people.Store, occupancy OccupancyReader, retry storage.RetryPolicy, logger *slog.Logger) *Finder {
	return &Finder{people: people, occupancy: occupancy, retry: retry, logger: logger}
}

// AvailableSlots returns the bookable times of the provider on date in ascending order.
func (f *Finder) AvailableSlots(ctx context.Context, providerID string, date time.Time) ([]schedule.TimeOfDay, error) {
	ctx, span := tracer.Start(ctx, "availability.AvailableSlots")
	defer span.End()
	span.SetAttributes(attribute.String("provider_id", providerID), attribute.String("date", date.Format(schedule.DateLayout)))

	provider, err := ResolveProvider(ctx, f.people, f.retry, f.logger, providerID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sched, err := ScheduleFor(f.logger, provider)
	if err != nil {
		return []schedule.TimeOfDay{}, nil
	}
	slots, err := f.Available(ctx, Generate(sched, date), provider, date)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}

// Available filters candidates against the provider's active appointments on date and
// the provider's daily capacity.
func (f *Finder) Available(ctx context.Context, candidates []schedule.TimeOfDay, provider model.Provider, date time.Time) ([]schedule.TimeOfDay, error) {
	if len(candidates) == 0 {
		return []schedule.TimeOfDay{}, nil
	}
	occupied, err := storage.Retry(ctx, f.retry, f.logger, "active_slots", func(ctx context.Context) ([]schedule.TimeOfDay, error) {
		return f.occupancy.ActiveSlots(ctx, provider.ID, date)
	})
	if err != nil {
		return nil, fmt.Errorf("load occupied slots: %w", err)
	}
	return Filter(candidates, occupied, provider.DailyCapacity()), nil
}

// ResolveProvider loads an active provider, mapping a missing or inactive one to
// model.ErrProviderNotFound.
func ResolveProvider(ctx context.Context, store people.Store, retry storage.RetryPolicy, logger *slog.Logger, id string) (model.Provider, error) {
	provider, err := storage.Retry(ctx, retry, logger, "get_provider", func(ctx context.Context) (model.Provider, error) {
		return store.Provider(ctx, id)
	})
	if errors.Is(err, people.ErrNotFound) {
		return model.Provider{}, fmt.Errorf("%w: %s", model.ErrProviderNotFound, id)
	}
	if err != nil {
		return model.Provider{}, fmt.Errorf("load provider: %w", err)
	}
	if !provider.Active {
		return model.Provider{}, fmt.Errorf("%w: %s is inactive", model.ErrProviderNotFound, id)
	}
	return provider, nil
}

// ScheduleFor normalizes the provider's configuration, logging every default that had
// to stand in for unusable input. A ParseError means the provider offers no slots.
func ScheduleFor(logger *slog.Logger, p model.Provider) (schedule.Schedule, error) {
	sched, err := schedule.Parse(p.WorkingDays, p.WorkingHours, p.SlotIntervalMinutes)
	if err != nil {
		if logger != nil {
			logger.Error("provider working hours unusable", "provider_id", p.ID, "err", err)
		}
		return schedule.Schedule{}, err
	}
	if logger != nil {
		for _, fb := range sched.Fallbacks {
			logger.Warn("schedule fallback applied",
				"provider_id", p.ID,
				"fallback", string(fb),
				"working_days", p.WorkingDays,
				"working_hours", p.WorkingHours,
				"start", sched.Start.Clock(),
				"end", sched.End.Clock(),
			)
		}
	}
	return sched, nil
}
