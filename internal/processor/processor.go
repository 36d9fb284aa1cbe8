package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/occopus/infra-processor/internal/node"
	"github.com/occopus/infra-processor/pkg/events"
)

// cancelEpsilon closes the race where a command constructed in the same
// instant as a cancel request is neither clearly before nor after it.
const cancelEpsilon = time.Second

// BatchResult is what a Push returns: per-command results plus how many
// commands the cancellation watermark dropped without execution.
type BatchResult struct {
	Results []Result
	Skipped int
}

// Processor accepts batches of commands, filters them against the
// cancellation watermark and hands them to the configured execution
// strategy. It holds no state machine beyond the watermark.
type Processor struct {
	deps     *Dependencies
	strategy Strategy

	mu             sync.Mutex
	cancelledUntil time.Time
}

// New creates a processor running the named strategy.
func New(deps *Dependencies, strategyName string) (*Processor, error) {
	strategy, err := NewStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	return &Processor{deps: deps, strategy: strategy}, nil
}

// Push runs a batch. Commands whose timestamp is at or before the watermark
// are dropped without execution; SkipUntil commands advance the watermark
// instead of executing.
func (p *Processor) Push(ctx context.Context, cmds ...Command) *BatchResult {
	batch := make([]Command, 0, len(cmds))
	skipped := 0
	for _, cmd := range cmds {
		if cmd.Kind == KindSkipUntil {
			p.CancelPending(cmd.Deadline)
			continue
		}
		if p.isCancelled(cmd) {
			skipped++
			continue
		}
		batch = append(batch, cmd)
	}
	if skipped > 0 {
		p.deps.Logger.Info("dropped commands behind the cancellation watermark",
			slog.Int("skipped", skipped))
	}

	p.strategy.Reset()
	results := p.strategy.Perform(ctx, p.deps, batch)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	publish(ctx, p.deps, events.NewBatchProcessed(len(results), failed, skipped))

	return &BatchResult{Results: results, Skipped: skipped}
}

// CancelPending advances the cancellation watermark and aborts in-flight
// work. The zero deadline means "everything submitted up to now", with a
// small epsilon added.
func (p *Processor) CancelPending(deadline time.Time) {
	if deadline.IsZero() {
		deadline = time.Now().Add(cancelEpsilon)
	}
	p.mu.Lock()
	if deadline.After(p.cancelledUntil) {
		p.cancelledUntil = deadline
	}
	p.mu.Unlock()

	p.deps.Logger.Info("cancelling pending work",
		slog.Time("cancelled_until", deadline))
	p.strategy.Cancel()
}

func (p *Processor) isCancelled(cmd Command) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !cmd.Timestamp.After(p.cancelledUntil)
}

// Command factories, mirrored here so callers holding only a Processor can
// build work without importing anything else.

func (p *Processor) CreateInfrastructureCommand(infraID string) Command {
	return NewCreateInfrastructure(infraID)
}

func (p *Processor) CreateNodeCommand(desc *node.Description) Command {
	return NewCreateNode(desc)
}

func (p *Processor) DropNodeCommand(inst *node.Instance) Command {
	return NewDropNode(inst)
}

func (p *Processor) DropInfrastructureCommand(infraID string) Command {
	return NewDropInfrastructure(infraID)
}

func (p *Processor) SkipUntilCommand(deadline time.Time) Command {
	return NewSkipUntil(deadline)
}
