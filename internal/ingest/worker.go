package ingest

import (
	"context"
	"log/slog"
	"time"
)

const DefaultSweepInterval = 5 * time.Minute

// StartSweepWorker runs a background goroutine that periodically processes
// calls left unprocessed and retries failed CRM syncs. It stops when ctx is
// cancelled; the returned channel is closed on exit.
func StartSweepWorker(ctx context.Context, p *Processor, interval time.Duration, batchSize int) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("sweep worker started", "interval", interval, "batch_size", batchSize)

		for {
			select {
			case <-ticker.C:
				p.Sweep(ctx, batchSize)
			case <-ctx.Done():
				slog.Info("sweep worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

// Sweep runs both sweeps once.
func (p *Processor) Sweep(ctx context.Context, batchSize int) {
	if _, err := p.ProcessUnprocessed(ctx, batchSize); err != nil {
		slog.Error("unprocessed call sweep failed", "error", err)
	}
	if _, err := p.syncer.RetryFailed(ctx); err != nil {
		slog.Error("retry sweep failed", "error", err)
	}
}
