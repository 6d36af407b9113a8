package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dene67/canhack/internal/metrics"
)

// startMetricsLogger periodically logs the process-wide counters, for
// deployments that aren't scraping Prometheus.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_sent", snap.FramesSent,
					"retries", snap.Retries,
					"arbitration_losses", snap.ArbitrationLosses,
					"spoof_matches", snap.SpoofMatches,
					"error_cycles", snap.ErrorCycles,
					"timeouts", snap.Timeouts,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
