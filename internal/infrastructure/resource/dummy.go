package resource

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

// DummyHandler is an in-process Handler used by tests and dry runs. Created
// nodes live in a map and report ready immediately unless a status override
// or failure is injected.
type DummyHandler struct {
	mu       sync.Mutex
	nodes    map[string]*node.Definition // instanceID -> definition
	statuses map[string]node.Status      // instanceID -> override
	address  string

	// FailCreate makes every CreateNode call fail until cleared.
	FailCreate error
	// FailDrop makes every DropNode call fail until cleared.
	FailDrop error

	created int
	dropped int
}

// NewDummyHandler creates an empty dummy handler.
func NewDummyHandler() *DummyHandler {
	return &DummyHandler{
		nodes:    make(map[string]*node.Definition),
		statuses: make(map[string]node.Status),
		address:  "127.0.0.1",
	}
}

func (d *DummyHandler) CreateNode(ctx context.Context, def *node.Definition) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreate != nil {
		return "", d.FailCreate
	}
	id := uuid.NewString()
	d.nodes[id] = def
	d.created++
	return id, nil
}

func (d *DummyHandler) DropNode(ctx context.Context, inst *node.Instance) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailDrop != nil {
		return d.FailDrop
	}
	if _, ok := d.nodes[inst.InstanceID]; !ok {
		return fmt.Errorf("instance %s: %w", inst.InstanceID, errs.ErrNotFound)
	}
	delete(d.nodes, inst.InstanceID)
	delete(d.statuses, inst.InstanceID)
	d.dropped++
	return nil
}

func (d *DummyHandler) NodeStatus(ctx context.Context, inst *node.Instance) (node.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.statuses[inst.InstanceID]; ok {
		return st, nil
	}
	if _, ok := d.nodes[inst.InstanceID]; !ok {
		return node.StatusShutdown, nil
	}
	return node.StatusReady, nil
}

func (d *DummyHandler) NodeAddress(ctx context.Context, inst *node.Instance) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes[inst.InstanceID]; !ok {
		return "", errs.ErrNotFound
	}
	return d.address, nil
}

// SetStatus overrides the reported status of an instance.
func (d *DummyHandler) SetStatus(instanceID string, status node.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[instanceID] = status
}

// SetAddress changes the address reported for all live instances.
func (d *DummyHandler) SetAddress(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.address = addr
}

// Live reports the number of instances currently running.
func (d *DummyHandler) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nodes)
}

// Counts reports how many creates and drops succeeded.
func (d *DummyHandler) Counts() (created, dropped int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created, d.dropped
}
