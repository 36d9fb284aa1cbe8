package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

// Result is the outcome of one command, indexed by its submission position.
// Value is nil for commands that failed with a Minor error.
type Result struct {
	Index int
	Value any
	Err   error
}

// Strategy runs one batch of commands. Reset clears the transient cancel
// signal before a new batch; Cancel aborts in-flight work cooperatively.
type Strategy interface {
	Perform(ctx context.Context, deps *Dependencies, cmds []Command) []Result
	Reset()
	Cancel()
}

// NewStrategy selects a strategy by name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "sequential":
		return NewSequential(), nil
	case "parallel":
		return NewParallel(), nil
	default:
		return nil, fmt.Errorf("unknown execution strategy: %s", name)
	}
}

// Sequential runs commands one at a time in submission order. It checks the
// cancel flag before each command and stops early on cancellation or the
// first critical error; trailing commands yield no result at all.
type Sequential struct {
	mu        sync.Mutex
	cancelRun context.CancelFunc
	cancelled atomic.Bool
}

// NewSequential creates the sequential strategy.
func NewSequential() *Sequential {
	return &Sequential{}
}

func (s *Sequential) Reset() {
	s.cancelled.Store(false)
}

func (s *Sequential) Cancel() {
	s.cancelled.Store(true)
	s.mu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.mu.Unlock()
}

func (s *Sequential) Perform(ctx context.Context, deps *Dependencies, cmds []Command) []Result {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelRun = nil
		s.mu.Unlock()
		cancel()
	}()

	results := make([]Result, 0, len(cmds))
	for i, cmd := range cmds {
		if s.cancelled.Load() || runCtx.Err() != nil {
			deps.Logger.Info("batch cancelled",
				slog.Int("executed", i),
				slog.Int("remaining", len(cmds)-i))
			break
		}

		value, err := perform(runCtx, deps, cmd)
		if err == nil {
			results = append(results, Result{Index: i, Value: value})
			continue
		}

		if errs.IsMinor(err) {
			deps.Logger.Warn("command failed with a minor error",
				slog.String("kind", string(cmd.Kind)),
				slog.String("error", err.Error()))
			results = append(results, Result{Index: i, Err: err})
			continue
		}

		deps.Logger.Error("command failed, aborting batch",
			slog.String("kind", string(cmd.Kind)),
			slog.String("error", err.Error()))
		if ce := errs.AsNodeCreationError(err); ce != nil && ce.InstanceData != nil {
			compensate(runCtx, deps, ce.InstanceData)
		}
		results = append(results, Result{Index: i, Err: err})
		break
	}
	return results
}
