package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/storage"
)

var day = time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)

func book(ctx context.Context, s *Store, providerID string, at schedule.TimeOfDay) error {
	return s.InDayTransaction(ctx, providerID, day, func(ctx context.Context, tx storage.DayTx) error {
		_, err := tx.Insert(ctx, model.Appointment{
			ID:         uuid.NewString(),
			ProviderID: providerID,
			SubjectID:  "pat-1",
			Date:       day,
			Time:       at,
			Status:     model.StatusPending,
		})
		return err
	})
}

func TestInsertRejectsActiveDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := schedule.NewTimeOfDay(10, 0)

	if err := book(ctx, s, "prov-1", at); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}
	if err := book(ctx, s, "prov-1", at); !errors.Is(err, storage.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if err := book(ctx, s, "prov-2", at); err != nil {
		t.Fatalf("another provider should be free: %v", err)
	}
}

func TestRolledBackTransactionLeavesNoRows(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InDayTransaction(ctx, "prov-1", day, func(ctx context.Context, tx storage.DayTx) error {
		if _, err := tx.Insert(ctx, model.Appointment{ID: uuid.NewString(), ProviderID: "prov-1", Date: day, Time: 600, Status: model.StatusPending}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	slots, _ := s.ActiveSlots(ctx, "prov-1", day)
	if len(slots) != 0 {
		t.Fatalf("expected no active slots after rollback, got %v", slots)
	}
}

func TestCancelledSlotIsFreeAgain(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := schedule.NewTimeOfDay(10, 0)
	if err := book(ctx, s, "prov-1", at); err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	appts, _ := s.ListAppointments(ctx, "prov-1", day)
	if len(appts) != 1 {
		t.Fatalf("expected one appointment, got %d", len(appts))
	}

	updated, from, err := s.Transition(ctx, appts[0].ID, func(model.Appointment) (model.Status, error) {
		return model.StatusCancelled, nil
	})
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if from != model.StatusPending || updated.Status != model.StatusCancelled {
		t.Fatalf("unexpected transition %s -> %s", from, updated.Status)
	}
	if slots, _ := s.ActiveSlots(ctx, "prov-1", day); len(slots) != 0 {
		t.Fatalf("cancelled appointment still holds its slot: %v", slots)
	}
	if err := book(ctx, s, "prov-1", at); err != nil {
		t.Fatalf("rebooking a cancelled slot failed: %v", err)
	}
}

func TestConcurrentBookersOneWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := schedule.NewTimeOfDay(11, 0)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = book(ctx, s, "prov-1", at)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, storage.ErrSlotTaken):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestInjectedFaultsAreConsumedInOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.InjectFaults(storage.ErrTransient)

	if _, err := s.ActiveSlots(ctx, "prov-1", day); !errors.Is(err, storage.ErrTransient) {
		t.Fatalf("expected injected fault, got %v", err)
	}
	if _, err := s.ActiveSlots(ctx, "prov-1", day); err != nil {
		t.Fatalf("fault should be consumed, got %v", err)
	}
	if _, err := s.GetAppointment(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
