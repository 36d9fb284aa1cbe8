package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/occopus/infra-processor/internal/config"
	"github.com/occopus/infra-processor/internal/processor"
	"github.com/occopus/infra-processor/internal/shared/logger"
)

const pollTimeout = 100 * time.Millisecond

// Worker is the consumer side: it drains the control subject, then takes one
// work batch, and repeats. Draining control first guarantees a skip-until
// arriving during a long batch takes effect before the next batch starts.
type Worker struct {
	nc        *nats.Conn
	processor *processor.Processor
	config    config.NATSConfig
	logger    *logger.Logger

	control *nats.Subscription
	work    *nats.Subscription
}

// NewWorker connects and subscribes. Work is queue-subscribed so several
// workers can share a backlog; control is fanned out to all of them.
func NewWorker(cfg config.NATSConfig, proc *processor.Processor, log *logger.Logger) (*Worker, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("infra-processor-worker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	control, err := nc.SubscribeSync(cfg.ControlSubject)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to control subject: %w", err)
	}
	work, err := nc.QueueSubscribeSync(cfg.WorkSubject, cfg.QueueGroup)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to work subject: %w", err)
	}

	return &Worker{
		nc:        nc,
		processor: proc,
		config:    cfg,
		logger:    log.WithComponent("remote-worker"),
		control:   control,
		work:      work,
	}, nil
}

// Run processes messages until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("remote worker started",
		slog.String("work_subject", w.config.WorkSubject),
		slog.String("control_subject", w.config.ControlSubject))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Control always preempts work.
		if handled, err := w.pollControl(ctx); err != nil {
			return err
		} else if handled {
			continue
		}

		if err := w.pollWork(ctx); err != nil {
			return err
		}
	}
}

func (w *Worker) pollControl(ctx context.Context) (bool, error) {
	msg, err := w.control.NextMsg(pollTimeout)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return false, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("control subscription failed: %w", err)
	}

	cmdErr := w.handleControl(msg.Data)
	if msg.Reply != "" {
		if err := w.nc.Publish(msg.Reply, encodeReply(cmdErr)); err != nil {
			w.logger.Warn("failed to reply to control request",
				slog.String("error", err.Error()))
		}
	}
	return true, nil
}

func (w *Worker) handleControl(data []byte) error {
	cmd, err := decodeControl(data)
	if err != nil {
		return err
	}
	switch cmd.Kind {
	case processor.KindSkipUntil:
		w.logger.Info("advancing cancellation watermark",
			slog.Time("deadline", cmd.Deadline))
		w.processor.CancelPending(cmd.Deadline)
		return nil
	default:
		return fmt.Errorf("unsupported control command: %s", cmd.Kind)
	}
}

func (w *Worker) pollWork(ctx context.Context) error {
	msg, err := w.work.NextMsg(pollTimeout)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("work subscription failed: %w", err)
	}

	cmds, err := decodeBatch(msg.Data)
	if err != nil {
		w.logger.Error("discarding malformed batch", slog.String("error", err.Error()))
		return nil
	}

	batch := w.processor.Push(ctx, cmds...)
	failed := 0
	for _, res := range batch.Results {
		if res.Err != nil {
			failed++
		}
	}
	w.logger.Info("batch processed",
		slog.Int("commands", len(cmds)),
		slog.Int("skipped", batch.Skipped),
		slog.Int("failed", failed))
	return nil
}

// Close unsubscribes and drains the connection.
func (w *Worker) Close() {
	if w.control != nil {
		w.control.Unsubscribe()
	}
	if w.work != nil {
		w.work.Unsubscribe()
	}
	if w.nc != nil {
		w.nc.Drain()
		w.nc.Close()
	}
}
