package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/people"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/phi"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scheduling-service/booking")

// Request is one booking attempt as received from a caller.
type Request struct {
	ProviderID    string
	SubjectID     string
	Date          string
	Time          string
	Reason        string
	AttachmentRef string
}

type Service struct {
	people people.Store
	store  storage.Store
	phi    phi.Gateway
	sink   notify.Sink
	retry  storage.RetryPolicy
	logger *slog.Logger
}

func NewService(people people.Store, store storage.Store, gateway phi.Gateway, sink notify.Sink, retry storage.RetryPolicy, logger *slog.Logger) *Service {
	if sink == nil {
		sink = notify.Discard{}
	}
	return &Service{
		people: people,
		store:  store,
		phi:    gateway,
		sink:   sink,
		retry:  retry,
		logger: logger,
	}
}

// Book validates req and persists a Pending appointment. The returned appointment carries
// the caller's plaintext reason. Each failure wraps exactly one of the model error kinds.
func (s *Service) Book(ctx context.Context, req Request) (model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.Book")
	defer span.End()
	span.SetAttributes(attribute.String("provider_id", req.ProviderID))

	appt, err := s.book(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.Appointment{}, err
	}
	span.SetAttributes(attribute.String("appointment_id", appt.ID))

	s.sink.AppointmentCreated(ctx, appt)
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"provider_id", appt.ProviderID,
		"date", appt.Date.Format(schedule.DateLayout),
		"time", appt.Time.Clock(),
	)

	appt.Reason = req.Reason
	return appt, nil
}

func (s *Service) book(ctx context.Context, req Request) (model.Appointment, error) {
	date, ok := schedule.ParseDate(req.Date)
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: %q", model.ErrInvalidDate, req.Date)
	}
	at, ok := schedule.ParseClock(req.Time)
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: %q", model.ErrInvalidTime, req.Time)
	}

	provider, err := availability.ResolveProvider(ctx, s.people, s.retry, s.logger, strings.TrimSpace(req.ProviderID))
	if err != nil {
		return model.Appointment{}, err
	}
	subjectID := strings.TrimSpace(req.SubjectID)
	if _, err := storage.Retry(ctx, s.retry, s.logger, "get_subject", func(ctx context.Context) (model.Subject, error) {
		return s.people.Subject(ctx, subjectID)
	}); err != nil {
		if errors.Is(err, people.ErrNotFound) {
			return model.Appointment{}, fmt.Errorf("%w: %s", model.ErrSubjectNotFound, subjectID)
		}
		return model.Appointment{}, fmt.Errorf("load subject: %w", err)
	}

	// The server's own slot list is authoritative, whatever the client was shown.
	sched, err := availability.ScheduleFor(s.logger, provider)
	if err != nil || !availability.Contains(availability.Generate(sched, date), at) {
		return model.Appointment{}, fmt.Errorf("%w: %s on %s", model.ErrOutsideWorkingHours, at, date.Format(schedule.DateLayout))
	}

	sealed, err := s.phi.Encrypt(req.Reason)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("encrypt reason: %w", err)
	}

	appt := model.Appointment{
		ID:            uuid.NewString(),
		ProviderID:    provider.ID,
		SubjectID:     subjectID,
		Date:          date,
		Time:          at,
		Status:        model.StatusPending,
		Reason:        sealed,
		AttachmentRef: strings.TrimSpace(req.AttachmentRef),
	}
	capacity := provider.DailyCapacity()

	return storage.Retry(ctx, s.retry, s.logger, "book_appointment", func(ctx context.Context) (model.Appointment, error) {
		var created model.Appointment
		err := s.store.InDayTransaction(ctx, provider.ID, date, func(ctx context.Context, tx storage.DayTx) error {
			occupied, err := tx.ActiveSlots(ctx)
			if err != nil {
				return err
			}
			if availability.Contains(occupied, at) {
				return fmt.Errorf("%w: %s", model.ErrSlotAlreadyBooked, at)
			}
			if len(occupied) >= capacity {
				return fmt.Errorf("%w: %d of %d", model.ErrCapacityExceeded, len(occupied), capacity)
			}
			created, err = tx.Insert(ctx, appt)
			return err
		})
		if errors.Is(err, storage.ErrSlotTaken) {
			return model.Appointment{}, fmt.Errorf("%w: %s", model.ErrSlotAlreadyBooked, at)
		}
		return created, err
	})
}

// Get returns one appointment with its reason revealed only to a cleared viewer.
func (s *Service) Get(ctx context.Context, id string, actor model.Actor) (model.Appointment, error) {
	appt, err := storage.Retry(ctx, s.retry, s.logger, "get_appointment", func(ctx context.Context) (model.Appointment, error) {
		return s.store.GetAppointment(ctx, id)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, fmt.Errorf("%w: %s", model.ErrAppointmentNotFound, id)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Reason = s.phi.DecryptFor(appt.Reason, phi.ViewerFor(actor, appt))
	return appt, nil
}

// List returns the provider's appointments on date, every status included.
func (s *Service) List(ctx context.Context, providerID string, date time.Time, actor model.Actor) ([]model.Appointment, error) {
	appts, err := storage.Retry(ctx, s.retry, s.logger, "list_appointments", func(ctx context.Context) ([]model.Appointment, error) {
		return s.store.ListAppointments(ctx, providerID, date)
	})
	if err != nil {
		return nil, err
	}
	for i := range appts {
		appts[i].Reason = s.phi.DecryptFor(appts[i].Reason, phi.ViewerFor(actor, appts[i]))
	}
	return appts, nil
}
