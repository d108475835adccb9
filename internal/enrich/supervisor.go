package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// restartBackoffUnit scales linearly with the restart count.
	restartBackoffUnit = 5 * time.Second

	// maxRestarts bounds supervisor restarts before giving up.
	maxRestarts = 5
)

// Supervisor restarts a crashed worker with increasing back-off.
type Supervisor struct {
	worker *Worker
	logger *slog.Logger
}

// NewSupervisor wraps a worker with restart supervision.
func NewSupervisor(worker *Worker, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{worker: worker, logger: logger}
}

// Run keeps the worker alive until ctx is cancelled or the restart
// budget is exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	restarts := 0
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		restarts++
		if restarts > maxRestarts {
			s.logger.Error("enrichment worker exceeded restart budget", "restarts", restarts-1, "error", err)
			return err
		}

		backoff := time.Duration(restarts) * restartBackoffUnit
		s.logger.Warn("enrichment worker exited, restarting", "restart", restarts, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runOnce runs the worker, converting panics into returnable errors so
// the supervisor can apply its back-off.
func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("enrichment worker panicked", "panic", r)
			err = fmt.Errorf("enrichment worker panic: %v", r)
		}
	}()
	return s.worker.Run(ctx)
}
