// Package composer is the boundary to the configuration management service
// that keeps the desired-state picture of each infrastructure. The processor
// notifies it as infrastructures and nodes come and go.
package composer

import (
	"context"
	"log/slog"

	"github.com/occopus/infra-processor/internal/node"
	"github.com/occopus/infra-processor/internal/shared/logger"
)

// ConfigComposer receives lifecycle notifications from the processor.
type ConfigComposer interface {
	CreateInfrastructure(ctx context.Context, infraID string) error
	DropInfrastructure(ctx context.Context, infraID string) error
	RegisterNode(ctx context.Context, inst *node.Instance) error
	DropNode(ctx context.Context, inst *node.Instance) error
}

// LoggingComposer satisfies ConfigComposer with log statements only. It is
// the default wiring when no external configuration manager is attached.
type LoggingComposer struct {
	logger *logger.Logger
}

// NewLoggingComposer creates a composer that records notifications in the log.
func NewLoggingComposer(log *logger.Logger) *LoggingComposer {
	return &LoggingComposer{logger: log.WithComponent("composer")}
}

func (c *LoggingComposer) CreateInfrastructure(ctx context.Context, infraID string) error {
	c.logger.Info("infrastructure registered", slog.String("infra_id", infraID))
	return nil
}

func (c *LoggingComposer) DropInfrastructure(ctx context.Context, infraID string) error {
	c.logger.Info("infrastructure dropped", slog.String("infra_id", infraID))
	return nil
}

func (c *LoggingComposer) RegisterNode(ctx context.Context, inst *node.Instance) error {
	c.logger.Info("node registered",
		slog.String("infra_id", inst.InfraID),
		slog.String("node_id", inst.NodeID))
	return nil
}

func (c *LoggingComposer) DropNode(ctx context.Context, inst *node.Instance) error {
	c.logger.Info("node dropped",
		slog.String("infra_id", inst.InfraID),
		slog.String("node_id", inst.NodeID))
	return nil
}
