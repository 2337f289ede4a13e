// Package captions feeds caption snapshots into a per-call segmenter and
// suggestion pipeline.
package captions

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	SurfaceAttempts = 10
	SurfaceInterval = 1000 * time.Millisecond
)

var ErrSurfaceNotFound = errors.New("caption surface not found")

// WaitForSurface calls probe until it succeeds, at most attempts times with
// interval between tries. On exhaustion it logs and returns
// ErrSurfaceNotFound so the caller can carry on without captions.
func WaitForSurface[T any](ctx context.Context, probe func(context.Context) (T, error), attempts int, interval time.Duration) (T, error) {
	var zero T
	if attempts <= 0 {
		attempts = SurfaceAttempts
	}
	if interval <= 0 {
		interval = SurfaceInterval
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		surface, err := probe(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("caption surface found", "attempt", attempt)
			}
			return surface, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	slog.Warn("caption surface not found, continuing without captions", "attempts", attempts, "error", lastErr)
	return zero, errors.Join(ErrSurfaceNotFound, lastErr)
}
