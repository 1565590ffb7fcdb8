package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// ReadyCheck reports whether the dependent service is currently accepting
// connections.
type ReadyCheck func(ctx context.Context) bool

// PollOptions bounds the readiness wait.
type PollOptions struct {
	// RequiredPasses is how many successful checks are needed. Failures do
	// not reset the counter: the Postgres process inside the container
	// restarts shortly after first accepting connections, and two passes
	// with a failure in between are still evidence it is up.
	RequiredPasses int
	// Interval is the fixed sleep between attempts. No backoff.
	Interval time.Duration
	// MaxAttempts bounds the number of checks before giving up.
	MaxAttempts int
}

// DefaultPollOptions matches the service startup characteristics of the
// bundled Postgres container.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		RequiredPasses: 2,
		Interval:       5 * time.Second,
		MaxAttempts:    30,
	}
}

// ReadyTimeoutError reports that the service never became ready within the
// attempt bound.
type ReadyTimeoutError struct {
	Attempts int
}

func (e *ReadyTimeoutError) Error() string {
	return fmt.Sprintf("service did not become ready after %d checks", e.Attempts)
}

// sleepFn is swappable in tests.
var sleepFn = func(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// WaitForReady polls check at a fixed interval until it has passed
// opts.RequiredPasses times, sleeping only between attempts. Returns
// *ReadyTimeoutError once opts.MaxAttempts checks have run without enough
// passes.
func WaitForReady(ctx context.Context, check ReadyCheck, opts PollOptions, log *slog.Logger) error {
	log.Info("checking for service to be available")

	passes := 0
	for i := 0; i < opts.MaxAttempts; i++ {
		if i > 0 {
			sleepFn(ctx, opts.Interval)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if check(ctx) {
			passes++
			log.Info("service up", "passes", passes)
			if passes >= opts.RequiredPasses {
				log.Info("service passed required checks, ready")
				return nil
			}
		}

		if i%5 == 0 {
			log.Info("waiting...")
		}
	}

	return &ReadyTimeoutError{Attempts: opts.MaxAttempts}
}

// PingCheck returns a ReadyCheck that connects and pings using connStr.
func PingCheck(connStr string) ReadyCheck {
	return func(ctx context.Context) bool {
		conn, err := pgx.Connect(ctx, connStr)
		if err != nil {
			return false
		}
		defer conn.Close(ctx)
		return conn.Ping(ctx) == nil
	}
}
