package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
)

// RetryPolicy bounds every storage call: each attempt gets CommandTimeout and transient
// failures are retried with exponential backoff until MaxAttempts attempts have run.
type RetryPolicy struct {
	CommandTimeout time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// DefaultRetryPolicy allows three retries after the first attempt.
func DefaultRetryPolicy() RetryPolicy {
	return WithRetries(5*time.Second, 3, 100*time.Millisecond, 2*time.Second)
}

// WithRetries builds a policy from a retry count, the way DB_MAX_RETRIES is configured.
// The first attempt is not a retry, so retries=3 means up to four attempts.
func WithRetries(commandTimeout time.Duration, retries int, baseDelay, maxDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		CommandTimeout: commandTimeout,
		MaxAttempts:    max(retries, 0) + 1,
		BaseDelay:      baseDelay,
		MaxDelay:       maxDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.CommandTimeout <= 0 {
		p.CommandTimeout = d.CommandTimeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = max(d.MaxDelay, p.BaseDelay)
	}
	return p
}

// Retry runs op under the policy. Errors that are not transient return immediately and
// unchanged. A transient failure that outlives every attempt is wrapped in
// model.ErrPersistence.
func Retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, name string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.CommandTimeout)
		defer cancel()

		v, err := op(attemptCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			if logger != nil {
				logger.Warn("retrying transient storage failure", "op", name, "attempt", attempt, "next_in", next, "err", err)
			}
		}),
	)
	if err != nil && IsTransient(err) {
		if logger != nil {
			logger.Error("storage retries exhausted", "op", name, "attempts", attempt, "err", err)
		}
		return res, fmt.Errorf("%s: %w: %v", name, model.ErrPersistence, err)
	}
	return res, err
}

// IsTransient reports whether err is a failure another attempt may not see: serialization
// failures, deadlocks, cancelled statements, lost connections and timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57014", "53300", "55P03":
			return true
		}
		// Class 08: connection exceptions.
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

// IsUniqueViolation reports a unique_violation, optionally on the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
