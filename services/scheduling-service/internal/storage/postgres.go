package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/md-rashed-zaman/clinicbook/libs/db"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
)

// ActiveSlotConstraint is the partial unique index guarding active (provider, date, time).
const ActiveSlotConstraint = "appointments_active_slot_uq"

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

var _ Store = (*AppointmentRepository)(nil)

const appointmentColumns = `id::text, provider_id, subject_id, appt_date, appt_time, status, reason,
	COALESCE(attachment_ref, ''), created_at, updated_at`

func (r *AppointmentRepository) ActiveSlots(ctx context.Context, providerID string, date time.Time) ([]schedule.TimeOfDay, error) {
	return activeSlots(ctx, r.pool, providerID, date)
}

func (r *AppointmentRepository) InDayTransaction(ctx context.Context, providerID string, date time.Time, fn func(ctx context.Context, tx DayTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockProviderDay(ctx, tx, providerID, date); err != nil {
		return err
	}
	if err := fn(ctx, dayTx{tx: tx, providerID: providerID, date: date}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// lockProviderDay serializes bookers of one provider's day until the transaction ends.
func lockProviderDay(ctx context.Context, tx pgx.Tx, providerID string, date time.Time) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, providerID+":"+date.Format(schedule.DateLayout))
	return err
}

type dayTx struct {
	tx         pgx.Tx
	providerID string
	date       time.Time
}

func (d dayTx) ActiveSlots(ctx context.Context) ([]schedule.TimeOfDay, error) {
	return activeSlots(ctx, d.tx, d.providerID, d.date)
}

func (d dayTx) Insert(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	row := d.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, provider_id, subject_id, appt_date, appt_time, status, reason, attachment_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING `+appointmentColumns,
		appt.ID, appt.ProviderID, appt.SubjectID, dateParam(appt.Date), timeParam(appt.Time),
		string(appt.Status), appt.Reason, appt.AttachmentRef)
	out, err := scanAppointment(row)
	if err != nil {
		if IsUniqueViolation(err, ActiveSlotConstraint) {
			return model.Appointment{}, ErrSlotTaken
		}
		return model.Appointment{}, err
	}
	return out, nil
}

func (r *AppointmentRepository) Transition(ctx context.Context, id string, decide func(model.Appointment) (model.Status, error)) (model.Appointment, model.Status, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, "", ErrNotFound
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, "", ErrNotFound
		}
		return model.Appointment{}, "", err
	}

	next, err := decide(current)
	if err != nil {
		return model.Appointment{}, "", err
	}

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
			updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, string(next)))
	if err != nil {
		if IsUniqueViolation(err, ActiveSlotConstraint) {
			return model.Appointment{}, "", ErrSlotTaken
		}
		return model.Appointment{}, "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, "", err
	}
	return updated, current.Status, nil
}

func (r *AppointmentRepository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, ErrNotFound
	}
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

func (r *AppointmentRepository) ListAppointments(ctx context.Context, providerID string, date time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND appt_date = $2
		ORDER BY appt_time ASC, created_at ASC
	`, providerID, dateParam(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func activeSlots(ctx context.Context, q querier, providerID string, date time.Time) ([]schedule.TimeOfDay, error) {
	rows, err := q.Query(ctx, `
		SELECT appt_time
		FROM appointments
		WHERE provider_id = $1
			AND appt_date = $2
			AND status <> 'cancelled'
		ORDER BY appt_time ASC
	`, providerID, dateParam(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots := []schedule.TimeOfDay{}
	for rows.Next() {
		var t pgtype.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		slots = append(slots, fromPgTime(t))
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		appt   model.Appointment
		date   pgtype.Date
		tod    pgtype.Time
		status string
	)
	err := row.Scan(
		&appt.ID,
		&appt.ProviderID,
		&appt.SubjectID,
		&date,
		&tod,
		&status,
		&appt.Reason,
		&appt.AttachmentRef,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Date = schedule.Day(date.Time)
	appt.Time = fromPgTime(tod)
	appt.Status = model.Status(status)
	return appt, nil
}

// Dates and times cross the boundary as civil values so no session time zone applies.

func dateParam(d time.Time) pgtype.Date {
	return pgtype.Date{Time: schedule.Day(d), Valid: true}
}

func timeParam(t schedule.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

func fromPgTime(t pgtype.Time) schedule.TimeOfDay {
	return schedule.TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}
