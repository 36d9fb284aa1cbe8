// Package processor is the command engine at the heart of the service. It
// batches data-only commands, runs them under a pluggable execution strategy,
// classifies failures and dispatches compensating teardown for nodes that
// failed halfway through creation.
package processor

import (
	"time"

	"github.com/occopus/infra-processor/internal/node"
)

// Kind tags a command variant.
type Kind string

const (
	KindCreateInfrastructure Kind = "create_infrastructure"
	KindCreateNode           Kind = "create_node"
	KindDropNode             Kind = "drop_node"
	KindDropInfrastructure   Kind = "drop_infrastructure"
	KindSkipUntil            Kind = "skip_until"
)

// Command is a self-contained, serializable unit of work. It carries only
// data; the dispatcher owns the behavior. The timestamp is fixed at
// construction and used solely for the cancellation-watermark comparison.
type Command struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	InfraID     string            `json:"infra_id,omitempty"`
	Description *node.Description `json:"node_description,omitempty"`
	Instance    *node.Instance    `json:"instance_data,omitempty"`
	Deadline    time.Time         `json:"deadline,omitempty"`
}

// NewCreateInfrastructure builds a command registering an empty infrastructure.
func NewCreateInfrastructure(infraID string) Command {
	return Command{Kind: KindCreateInfrastructure, Timestamp: time.Now(), InfraID: infraID}
}

// NewCreateNode builds a command creating one node from its description.
func NewCreateNode(desc *node.Description) Command {
	return Command{Kind: KindCreateNode, Timestamp: time.Now(), Description: desc}
}

// NewDropNode builds a command tearing down a running node.
func NewDropNode(inst *node.Instance) Command {
	return Command{Kind: KindDropNode, Timestamp: time.Now(), Instance: inst}
}

// NewDropInfrastructure builds a command removing an infrastructure namespace.
func NewDropInfrastructure(infraID string) Command {
	return Command{Kind: KindDropInfrastructure, Timestamp: time.Now(), InfraID: infraID}
}

// NewSkipUntil builds the management command that advances the cancellation
// watermark. It travels over the control channel, never in a work batch.
func NewSkipUntil(deadline time.Time) Command {
	return Command{Kind: KindSkipUntil, Timestamp: time.Now(), Deadline: deadline}
}
