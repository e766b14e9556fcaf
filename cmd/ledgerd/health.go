package main

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ledgerService = "creatorledger.Ledger"

type pinger interface {
	Ping(ctx context.Context) error
}

// checkHealth sets the overall and ledger service status from one store ping.
func checkHealth(ctx context.Context, store pinger, hs *health.Server, logger *slog.Logger) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := store.Ping(pingCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		logger.Warn("ledger store unhealthy", "error", err)
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(ledgerService, status)
	return status
}

// watchHealth re-checks the store every interval until ctx is done.
func watchHealth(ctx context.Context, store pinger, hs *health.Server, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checkHealth(ctx, store, hs, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
