// Package events publishes infrastructure lifecycle events on an in-process
// bus so reporting tooling can observe the processor without being wired into
// it.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the processor.
const (
	TypeInfrastructureUpdated = "infrastructure.updated"
	TypeNodeCreated           = "node.created"
	TypeNodeDropped           = "node.dropped"
	TypeBatchProcessed        = "processor.batch_processed"
)

// Event is the minimal surface the bus transports.
type Event interface {
	ID() string
	Type() string
	Timestamp() time.Time
	Metadata() map[string]any
}

// Handler consumes events of a subscribed type.
type Handler func(ctx context.Context, event Event) error

// BaseEvent provides a common implementation of the Event interface
type BaseEvent struct {
	id        string
	eventType string
	timestamp time.Time
	metadata  map[string]any
}

// NewBaseEvent creates a new base event
func NewBaseEvent(eventType string, metadata map[string]any) *BaseEvent {
	return &BaseEvent{
		id:        uuid.New().String(),
		eventType: eventType,
		timestamp: time.Now(),
		metadata:  metadata,
	}
}

// ID returns the event ID
func (e *BaseEvent) ID() string { return e.id }

// Type returns the event type
func (e *BaseEvent) Type() string { return e.eventType }

// Timestamp returns the event timestamp
func (e *BaseEvent) Timestamp() time.Time { return e.timestamp }

// Metadata returns the event metadata
func (e *BaseEvent) Metadata() map[string]any {
	if e.metadata == nil {
		return make(map[string]any)
	}
	return e.metadata
}

// NewInfrastructureUpdated signals that an infrastructure namespace changed;
// action is "created" or "dropped".
func NewInfrastructureUpdated(infraID, action string) Event {
	return NewBaseEvent(TypeInfrastructureUpdated, map[string]any{
		"infra_id": infraID,
		"action":   action,
	})
}

// NewNodeCreated signals that a node reached ready state.
func NewNodeCreated(infraID, nodeID, instanceID string) Event {
	return NewBaseEvent(TypeNodeCreated, map[string]any{
		"infra_id":    infraID,
		"node_id":     nodeID,
		"instance_id": instanceID,
	})
}

// NewBatchProcessed summarizes one processed command batch.
func NewBatchProcessed(executed, failed, skipped int) Event {
	return NewBaseEvent(TypeBatchProcessed, map[string]any{
		"executed": executed,
		"failed":   failed,
		"skipped":  skipped,
	})
}

// NewNodeDropped signals that a node was torn down.
func NewNodeDropped(infraID, nodeID string) Event {
	return NewBaseEvent(TypeNodeDropped, map[string]any{
		"infra_id": infraID,
		"node_id":  nodeID,
	})
}
