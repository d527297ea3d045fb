package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scheduling-service/lifecycle")

type Service struct {
	store  storage.Store
	sink   notify.Sink
	retry  storage.RetryPolicy
	logger *slog.Logger
}

func NewService(store storage.Store, sink notify.Sink, retry storage.RetryPolicy, logger *slog.Logger) *Service {
	if sink == nil {
		sink = notify.Discard{}
	}
	return &Service{store: store, sink: sink, retry: retry, logger: logger}
}

// Transition applies action to the appointment on behalf of actor. The state check runs
// before the permission check, so an impossible action reports InvalidTransition for
// every caller.
func (s *Service) Transition(ctx context.Context, id string, action Action, actor model.Actor) (model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Transition")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", id), attribute.String("action", string(action)))

	type result struct {
		appt model.Appointment
		from model.Status
	}
	res, err := storage.Retry(ctx, s.retry, s.logger, "transition_appointment", func(ctx context.Context) (result, error) {
		appt, from, err := s.store.Transition(ctx, id, func(current model.Appointment) (model.Status, error) {
			next, err := Next(current.Status, action)
			if err != nil {
				return "", err
			}
			if err := Authorize(current, action, actor); err != nil {
				return "", err
			}
			return next, nil
		})
		return result{appt: appt, from: from}, err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("%w: %s", model.ErrAppointmentNotFound, id)
		}
		span.SetStatus(codes.Error, err.Error())
		return model.Appointment{}, err
	}

	s.logger.Info("appointment transitioned",
		"appointment_id", res.appt.ID,
		"action", string(action),
		"from", string(res.from),
		"to", string(res.appt.Status),
		"actor_id", actor.ID,
	)
	s.sink.AppointmentTransitioned(ctx, res.appt, res.from)
	return res.appt, nil
}
