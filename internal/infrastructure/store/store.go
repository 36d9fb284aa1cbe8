// Package store persists infrastructure state: started node instances,
// definition templates, node attributes and backend auth data. Instance
// records are keyed by node id, so concurrent commands touching different
// nodes never conflict; each implementation guarantees per-key
// read-after-write consistency within one process.
package store

import (
	"context"
	"fmt"

	"github.com/occopus/infra-processor/internal/config"
	"github.com/occopus/infra-processor/internal/node"
	"github.com/occopus/infra-processor/internal/shared/logger"
)

// Store defines all functions to interact with the durable store.
type Store interface {
	// Instance records
	RegisterStartedNode(ctx context.Context, infraID, name string, inst *node.Instance) error
	GetNode(ctx context.Context, infraID, nodeID string) (*node.Instance, error)
	FindNodesByName(ctx context.Context, infraID, name string) ([]*node.Instance, error)
	ListNodes(ctx context.Context, infraID string) ([]*node.Instance, error)
	RemoveNode(ctx context.Context, infraID, nodeID string) error
	DropInfrastructure(ctx context.Context, infraID string) error

	// Node attributes written by the config composer, polled by the
	// synchronization engine.
	NodeAttribute(ctx context.Context, nodeID, attribute string) (any, error)
	SetNodeAttribute(ctx context.Context, nodeID, attribute string, value any) error

	// Definition templates and backend data consulted by the resolver.
	Definitions(ctx context.Context, nodeType string) ([]*node.Definition, error)
	SaveDefinition(ctx context.Context, nodeType string, def *node.Definition) error
	DefaultContext(ctx context.Context, backendID string) (string, error)
	SetDefaultContext(ctx context.Context, backendID, contextTemplate string) error
	AuthData(ctx context.Context, backendID string, userID int64) (map[string]string, error)
	SaveAuthData(ctx context.Context, backendID string, userID int64, data map[string]string) error

	Close() error
}

// New creates a store for the configured backend.
func New(cfg config.StoreConfig, log *logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite)
	case "badger":
		return NewBadgerStore(cfg.Badger.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
