package grpcserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/runtime"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service name reported through the gRPC health protocol.
const ServiceName = "clinicbook.scheduling.v1"

// HealthReporter mirrors the HTTP readiness checks onto the gRPC health server.
type HealthReporter struct {
	hs     *health.Server
	checks []runtime.ReadyCheck
	every  time.Duration
	logger *slog.Logger
	last   healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(hs *health.Server, every time.Duration, logger *slog.Logger, checks ...runtime.ReadyCheck) *HealthReporter {
	if every <= 0 {
		every = 10 * time.Second
	}
	return &HealthReporter{
		hs:     hs,
		checks: checks,
		every:  every,
		logger: logger,
		last:   healthpb.HealthCheckResponse_UNKNOWN,
	}
}

// Probe runs every check once and publishes the result for ServiceName and the
// overall ("") service.
func (r *HealthReporter) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for _, check := range r.checks {
		if check.Check == nil {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check.Check(checkCtx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if r.logger != nil {
				r.logger.Warn("dependency not ready", "dependency", check.Name, "err", err)
			}
		}
	}

	r.hs.SetServingStatus(ServiceName, status)
	r.hs.SetServingStatus("", status)
	if status != r.last && r.logger != nil {
		r.logger.Info("grpc health changed", "service", ServiceName, "status", status.String())
	}
	r.last = status
	return status
}

// Run probes until ctx is cancelled, then marks every service NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	r.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			r.hs.Shutdown()
			return
		case <-ticker.C:
			r.Probe(ctx)
		}
	}
}
