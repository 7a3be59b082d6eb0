package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-chat-server/internal/metrics"
)

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
					"received", snap.Received,
					"sent", snap.Sent,
					"dropped", snap.Dropped,
					"evictions", snap.Evictions,
					"ban_refused", snap.BanRefused,
					"clients", snap.Clients,
					"queue_depth", snap.QueueDepth,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
