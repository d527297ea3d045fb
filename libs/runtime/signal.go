package runtime

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext is cancelled by the first SIGINT or SIGTERM. A second signal exits the
// process at once so a stuck shutdown can still be interrupted.
func SignalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			if logger != nil {
				logger.Info("shutdown signal received", "signal", sig.String())
			}
			cancel()
		case <-ctx.Done():
			return
		}
		if sig, ok := <-sigs; ok {
			if logger != nil {
				logger.Error("second signal received, exiting", "signal", sig.String())
			}
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}
