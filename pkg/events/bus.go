package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gookitEvent "github.com/gookit/event"

	"github.com/occopus/infra-processor/internal/shared/logger"
)

// Bus is an in-process event bus backed by gookit/event.
type Bus struct {
	manager *gookitEvent.Manager
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a new event bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		manager: gookitEvent.NewManager("infra-processor"),
		log:     log.WithComponent("events"),
	}
}

// Publish publishes an event to the bus. Publish failures are reported but a
// failing subscriber must never break the publishing component.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("event bus is closed")
	}

	b.log.DebugContext(ctx, "publishing event",
		slog.String("type", evt.Type()),
		slog.String("id", evt.ID()))

	err, _ := b.manager.Fire(evt.Type(), gookitEvent.M{"payload": evt})
	if err != nil {
		b.log.ErrorCtx(ctx, "failed to publish event", err,
			slog.String("type", evt.Type()))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe registers a handler for events of a specific type.
func (b *Bus) Subscribe(eventType string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	listener := gookitEvent.ListenerFunc(func(e gookitEvent.Event) error {
		payload, ok := e.Get("payload").(Event)
		if !ok {
			return fmt.Errorf("invalid event payload type %T", e.Get("payload"))
		}
		return handler(context.Background(), payload)
	})
	b.manager.On(eventType, listener, gookitEvent.Normal)
	return nil
}

// Close shuts down the event bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.manager.Clear()
	b.closed = true
	return nil
}
