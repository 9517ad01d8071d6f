package live

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ArrivalSource fetches the raw arrivals for one service line.
type ArrivalSource interface {
	FetchArrivals(ctx context.Context, line string) ([]map[string]any, error)
}

// LineFetcher fetches arrivals for one line with bounded retries and
// exponential backoff plus jitter. Backoff waits are cooperatively
// cancellable; a wait woken by cancellation aborts the remaining retries.
type LineFetcher struct {
	source      ArrivalSource
	maxAttempts int
	backoffBase time.Duration
	logger      *zap.Logger
}

func NewLineFetcher(source ArrivalSource, maxAttempts int, backoffBase time.Duration, logger *zap.Logger) *LineFetcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffBase <= 0 {
		backoffBase = 250 * time.Millisecond
	}
	return &LineFetcher{
		source:      source,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      logger,
	}
}

// Fetch attempts the line fetch up to the attempt ceiling. It returns the
// records, the number of attempts performed, and the final error if all
// attempts failed. Non-transient errors end the task immediately.
func (f *LineFetcher) Fetch(ctx context.Context, line string) ([]map[string]any, int, error) {
	var lastErr error

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		records, err := f.source.FetchArrivals(ctx, line)
		if err == nil {
			return records, attempt, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, attempt, err
		}
		if attempt == f.maxAttempts {
			break
		}

		delay := f.backoffBase << (attempt - 1)
		delay += time.Duration(rand.Int63n(int64(f.backoffBase)))
		f.logger.Debug("transient fetch failure, backing off",
			zap.String("line", line),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, f.maxAttempts, lastErr
}
