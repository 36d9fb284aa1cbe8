package resource

import (
	"context"
	"fmt"

	"github.com/occopus/infra-processor/internal/config"
	"github.com/occopus/infra-processor/internal/node"
	"github.com/occopus/infra-processor/internal/shared/logger"
)

// Handler talks to one cloud backend. Implementations are stateless with
// respect to nodes: every call carries the full instance or resolved
// definition it needs.
type Handler interface {
	// CreateNode asks the backend to start a node from the resolved
	// definition and returns the backend-assigned instance id.
	CreateNode(ctx context.Context, def *node.Definition) (string, error)

	// DropNode destroys the backing resource. Dropping an instance the
	// backend no longer knows about is not an error.
	DropNode(ctx context.Context, inst *node.Instance) error

	// NodeStatus reports the backend's view of the instance lifecycle.
	NodeStatus(ctx context.Context, inst *node.Instance) (node.Status, error)

	// NodeAddress returns the address the node is reachable at.
	NodeAddress(ctx context.Context, inst *node.Instance) (string, error)
}

// New creates a handler for the configured backend.
func New(cfg config.ResourceConfig, log *logger.Logger) (Handler, error) {
	switch cfg.Backend {
	case "hcloud":
		return NewHcloudHandler(cfg.Hcloud, log)
	case "dummy":
		return NewDummyHandler(), nil
	default:
		return nil, fmt.Errorf("unsupported resource backend: %s", cfg.Backend)
	}
}
