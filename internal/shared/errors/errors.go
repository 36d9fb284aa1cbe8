// Package errors defines the error taxonomy of the infrastructure processor.
//
// The execution strategies route every failure through exactly three classes:
// minor errors let the batch continue, node creation errors abort the batch
// and trigger a compensating drop of the partially created node, and all
// other errors abort the batch with nothing to compensate. Nothing below the
// strategy layer decides whether a batch keeps going.
package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/occopus/infra-processor/internal/node"
)

// ErrNotFound reports a missing store record or info broker fact.
var ErrNotFound = errors.New("not found")

// MinorError wraps an expected, node-local failure. The batch records a nil
// result for the offending command and continues.
type MinorError struct {
	Message string
	Err     error
}

func (e *MinorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("minor: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("minor: %s", e.Message)
}

func (e *MinorError) Unwrap() error {
	return e.Err
}

// NewMinorError creates a new minor error
func NewMinorError(message string, err error) *MinorError {
	return &MinorError{Message: message, Err: err}
}

// NodeCreationError means a node failed during or after partial creation. It
// carries the instance data so the strategy can dispatch a compensating
// DropNode before anything else proceeds.
type NodeCreationError struct {
	InstanceData *node.Instance
	Err          error
}

func (e *NodeCreationError) Error() string {
	return fmt.Sprintf("node creation failed (node=%s, infra=%s): %v",
		e.InstanceData.NodeID, e.InstanceData.InfraID, e.Err)
}

func (e *NodeCreationError) Unwrap() error {
	return e.Err
}

// NewNodeCreationError creates a new node creation error
func NewNodeCreationError(instance *node.Instance, err error) *NodeCreationError {
	return &NodeCreationError{InstanceData: instance, Err: err}
}

// NodeFailedError means synchronization observed a terminal backend status.
type NodeFailedError struct {
	InstanceData *node.Instance
	Status       node.Status
}

func (e *NodeFailedError) Error() string {
	return fmt.Sprintf("node %s entered terminal status %q", e.InstanceData.NodeID, e.Status)
}

// NewNodeFailedError creates a new node failed error
func NewNodeFailedError(instance *node.Instance, status node.Status) *NodeFailedError {
	return &NodeFailedError{InstanceData: instance, Status: status}
}

// NodeCreationTimeoutError means the node did not become ready before the
// configured creation deadline.
type NodeCreationTimeoutError struct {
	InstanceData *node.Instance
	Timeout      time.Duration
}

func (e *NodeCreationTimeoutError) Error() string {
	return fmt.Sprintf("timeout (%v) waiting for node %s to become ready",
		e.Timeout, e.InstanceData.NodeID)
}

// NewNodeCreationTimeoutError creates a new node creation timeout error
func NewNodeCreationTimeoutError(instance *node.Instance, timeout time.Duration) *NodeCreationTimeoutError {
	return &NodeCreationTimeoutError{InstanceData: instance, Timeout: timeout}
}

// NodeContextSchemaError means a rendered contextualization payload declared
// itself as a structured document but failed to parse. Line is -1 when the
// parser did not report one.
type NodeContextSchemaError struct {
	NodeType string
	Line     int
	Err      error
}

func (e *NodeContextSchemaError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("schema error in context of node definition %q at line %d: %v",
			e.NodeType, e.Line, e.Err)
	}
	return fmt.Sprintf("schema error in context of node definition %q: %v", e.NodeType, e.Err)
}

func (e *NodeContextSchemaError) Unwrap() error {
	return e.Err
}

// NewNodeContextSchemaError creates a new context schema error
func NewNodeContextSchemaError(nodeType string, line int, err error) *NodeContextSchemaError {
	return &NodeContextSchemaError{NodeType: nodeType, Line: line, Err: err}
}

// UnknownResolverProtocolError means a node definition declared a
// contextualization protocol no resolver is registered for.
type UnknownResolverProtocolError struct {
	Protocol string
}

func (e *UnknownResolverProtocolError) Error() string {
	return fmt.Sprintf("unknown resolver protocol %q", e.Protocol)
}

// NodeNotFoundError means a template or check referenced a sibling node that
// does not exist in the infrastructure.
type NodeNotFoundError struct {
	Name    string
	InfraID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("no node named %q exists in infrastructure %q", e.Name, e.InfraID)
}
