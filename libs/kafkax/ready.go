package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck passes when any broker accepts a connection and answers a metadata request.
func ReadyCheck(brokers []string) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var errs []error
		for _, addr := range brokers {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", addr, err))
				continue
			}
			_, err = conn.Brokers()
			_ = conn.Close()
			if err == nil {
				return nil
			}
			errs = append(errs, fmt.Errorf("%s: metadata: %w", addr, err))
		}
		return errors.Join(errs...)
	}
}
