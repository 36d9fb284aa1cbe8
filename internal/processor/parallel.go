package processor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

// WorkerFailure is the structured form a worker failure travels in between
// goroutines: classification, message and trace text instead of a live value
// shared across the boundary.
type WorkerFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (f *WorkerFailure) Error() string {
	return fmt.Sprintf("worker failed (%s): %s", f.Kind, f.Message)
}

type outcome struct {
	index   int
	value   any
	err     error
	failure *WorkerFailure
}

// Parallel runs one worker goroutine per command. Results are collected as
// they complete and indexed by submission position. The first critical error
// cancels the remaining workers and injects a compensation worker when the
// error carries instance data; the strategy always drains every worker
// before returning.
type Parallel struct {
	mu        sync.Mutex
	cancelRun context.CancelFunc
}

// NewParallel creates the parallel strategy.
func NewParallel() *Parallel {
	return &Parallel{}
}

func (p *Parallel) Reset() {}

func (p *Parallel) Cancel() {
	p.mu.Lock()
	if p.cancelRun != nil {
		p.cancelRun()
	}
	p.mu.Unlock()
}

func (p *Parallel) Perform(ctx context.Context, deps *Dependencies, cmds []Command) []Result {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelRun = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cancelRun = nil
		p.mu.Unlock()
		cancel()
	}()

	outcomes := make(chan outcome, len(cmds)+1)
	var wg sync.WaitGroup
	for i, cmd := range cmds {
		wg.Add(1)
		go func(index int, cmd Command) {
			defer wg.Done()
			runWorker(runCtx, deps, index, cmd, outcomes)
		}(i, cmd)
	}

	// A compensation worker may be injected mid-flight.
	compensating := 0
	results := make([]Result, len(cmds))
	critical := false
	for pending := len(cmds); pending+compensating > 0; {
		out := <-outcomes
		if out.index < 0 {
			compensating--
			continue
		}
		pending--

		if out.failure != nil {
			out.err = classifyFailure(out.failure, out.err)
		}
		results[out.index] = Result{Index: out.index, Value: out.value, Err: out.err}

		if !errs.IsCritical(out.err) {
			if out.err != nil {
				deps.Logger.Warn("command failed with a minor error",
					slog.Int("index", out.index),
					slog.String("error", out.err.Error()))
				results[out.index].Value = nil
			}
			continue
		}

		deps.Logger.Error("command failed, cancelling batch",
			slog.Int("index", out.index),
			slog.String("error", out.err.Error()))
		if !critical {
			critical = true
			cancel()
		}
		if ce := errs.AsNodeCreationError(out.err); ce != nil && ce.InstanceData != nil {
			compensating++
			wg.Add(1)
			go func(inst outcome) {
				defer wg.Done()
				compensate(runCtx, deps, errs.AsNodeCreationError(inst.err).InstanceData)
				outcomes <- outcome{index: -1}
			}(out)
		}
	}
	wg.Wait()
	return results
}

// runWorker isolates one command's failure domain; a panic becomes a
// structured failure instead of taking the batch down.
func runWorker(ctx context.Context, deps *Dependencies, index int, cmd Command, outcomes chan<- outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcomes <- outcome{
				index: index,
				failure: &WorkerFailure{
					Kind:    "panic",
					Message: fmt.Sprint(r),
					Stack:   string(debug.Stack()),
				},
			}
		}
	}()

	value, err := perform(ctx, deps, cmd)
	out := outcome{index: index, value: value, err: err}
	if err != nil {
		out.failure = &WorkerFailure{
			Kind:    failureKind(err),
			Message: err.Error(),
		}
	}
	outcomes <- out
}

func failureKind(err error) string {
	switch {
	case errs.IsMinor(err):
		return "minor"
	case errs.AsNodeCreationError(err) != nil:
		return "node_creation"
	default:
		return "critical"
	}
}

// classifyFailure rebuilds an error for the collector. When the worker still
// handed over the underlying error value it wins; a bare failure (panic) is
// always critical.
func classifyFailure(f *WorkerFailure, underlying error) error {
	if underlying != nil {
		return underlying
	}
	return f
}
