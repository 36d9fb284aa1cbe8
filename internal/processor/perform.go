package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/occopus/infra-processor/internal/infobroker"
	"github.com/occopus/infra-processor/internal/infrastructure/composer"
	"github.com/occopus/infra-processor/internal/infrastructure/resource"
	"github.com/occopus/infra-processor/internal/infrastructure/store"
	"github.com/occopus/infra-processor/internal/node"
	"github.com/occopus/infra-processor/internal/resolution"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
	"github.com/occopus/infra-processor/internal/shared/logger"
	"github.com/occopus/infra-processor/internal/synchronization"
	"github.com/occopus/infra-processor/pkg/events"
)

// Dependencies are the collaborator handles every command executes against.
type Dependencies struct {
	Store    store.Store
	Resource resource.Handler
	Composer composer.ConfigComposer
	Broker   infobroker.Broker
	Events   *events.Bus
	Logger   *logger.Logger

	PollInterval         time.Duration
	DefaultCreateTimeout time.Duration
}

// perform dispatches one command to its implementation. Construction never
// does I/O; all of it happens here.
func perform(ctx context.Context, deps *Dependencies, cmd Command) (any, error) {
	switch cmd.Kind {
	case KindCreateInfrastructure:
		return nil, performCreateInfrastructure(ctx, deps, cmd.InfraID)
	case KindCreateNode:
		return performCreateNode(ctx, deps, cmd.Description)
	case KindDropNode:
		return nil, performDropNode(ctx, deps, cmd.Instance)
	case KindDropInfrastructure:
		return nil, performDropInfrastructure(ctx, deps, cmd.InfraID)
	case KindSkipUntil:
		return nil, fmt.Errorf("skip_until is a management command, not batch work")
	default:
		return nil, fmt.Errorf("unknown command kind: %s", cmd.Kind)
	}
}

func performCreateInfrastructure(ctx context.Context, deps *Dependencies, infraID string) error {
	if err := deps.Composer.CreateInfrastructure(ctx, infraID); err != nil {
		return fmt.Errorf("failed to create infrastructure %s: %w", infraID, err)
	}
	publish(ctx, deps, events.NewInfrastructureUpdated(infraID, "created"))
	return nil
}

// performCreateNode runs the full creation pipeline: resolve, register,
// create, persist, wait. Once the node is registered with the composer, any
// failure is wrapped as a NodeCreationError carrying the instance so the
// strategy can compensate.
func performCreateNode(ctx context.Context, deps *Dependencies, desc *node.Description) (*node.Instance, error) {
	if desc == nil {
		return nil, fmt.Errorf("create_node command without a node description")
	}

	nodeID := uuid.NewString()
	log := deps.Logger.With(
		slog.String("node_id", nodeID),
		slog.String("infra_id", desc.InfraID),
		slog.String("node_name", desc.Name))
	log.Info("creating node", slog.String("node_type", desc.Type))

	def, err := resolution.Resolve(ctx, resolution.Dependencies{
		Broker:               deps.Broker,
		Logger:               deps.Logger,
		DefaultCreateTimeout: deps.DefaultCreateTimeout,
	}, nodeID, desc)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node %s: %w", desc.Name, err)
	}

	inst := &node.Instance{
		NodeID:             nodeID,
		InfraID:            desc.InfraID,
		UserID:             desc.UserID,
		BackendID:          def.BackendID,
		Description:        desc,
		ResolvedDefinition: def,
	}

	if err := deps.Composer.RegisterNode(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to register node %s: %w", nodeID, err)
	}

	instanceID, err := deps.Resource.CreateNode(ctx, def)
	if err != nil {
		return nil, errs.NewNodeCreationError(inst, fmt.Errorf("backend create failed: %w", err))
	}
	inst.InstanceID = instanceID
	log.Info("backend node started", slog.String("instance_id", instanceID))

	if err := deps.Store.RegisterStartedNode(ctx, desc.InfraID, desc.Name, inst); err != nil {
		return nil, errs.NewNodeCreationError(inst, fmt.Errorf("failed to persist instance: %w", err))
	}
	publish(ctx, deps, events.NewNodeCreated(inst.InfraID, inst.NodeID, inst.InstanceID))

	err = synchronization.WaitForReady(ctx, synchronization.Dependencies{
		Broker: deps.Broker,
		Logger: deps.Logger,
	}, inst, deps.PollInterval)
	if err != nil {
		return nil, errs.NewNodeCreationError(inst, err)
	}

	log.Info("node created")
	return inst, nil
}

// performDropNode tears a node down across all collaborators. A side that no
// longer knows the instance is logged and skipped, so dropping twice stays
// harmless.
func performDropNode(ctx context.Context, deps *Dependencies, inst *node.Instance) error {
	if inst == nil {
		return fmt.Errorf("drop_node command without instance data")
	}
	log := deps.Logger.With(
		slog.String("node_id", inst.NodeID),
		slog.String("infra_id", inst.InfraID))
	log.Info("dropping node", slog.String("instance_id", inst.InstanceID))

	if inst.InstanceID != "" {
		if err := deps.Resource.DropNode(ctx, inst); err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				return fmt.Errorf("failed to drop backend node %s: %w", inst.NodeID, err)
			}
			log.Warn("backend node already gone")
		}
	}

	if err := deps.Composer.DropNode(ctx, inst); err != nil {
		log.Warn("composer deregistration failed", slog.String("error", err.Error()))
	}

	if err := deps.Store.RemoveNode(ctx, inst.InfraID, inst.NodeID); err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("failed to remove node %s from store: %w", inst.NodeID, err)
		}
		log.Warn("node was not in the store")
	}

	publish(ctx, deps, events.NewNodeDropped(inst.InfraID, inst.NodeID))
	log.Info("node dropped")
	return nil
}

func performDropInfrastructure(ctx context.Context, deps *Dependencies, infraID string) error {
	if err := deps.Composer.DropInfrastructure(ctx, infraID); err != nil {
		return fmt.Errorf("failed to drop infrastructure %s: %w", infraID, err)
	}
	if err := deps.Store.DropInfrastructure(ctx, infraID); err != nil {
		return fmt.Errorf("failed to clear infrastructure %s from store: %w", infraID, err)
	}
	publish(ctx, deps, events.NewInfrastructureUpdated(infraID, "dropped"))
	return nil
}

func publish(ctx context.Context, deps *Dependencies, evt events.Event) {
	if deps.Events == nil {
		return
	}
	if err := deps.Events.Publish(ctx, evt); err != nil {
		deps.Logger.Warn("event publish failed",
			slog.String("event_type", evt.Type()),
			slog.String("error", err.Error()))
	}
}

// compensate drops a node left behind by a failed create. It runs even when
// the batch context is already cancelled, and errors here are swallowed so
// they never mask the original failure.
func compensate(ctx context.Context, deps *Dependencies, inst *node.Instance) {
	ctx = context.WithoutCancel(ctx)
	deps.Logger.Warn("compensating failed node creation",
		slog.String("node_id", inst.NodeID),
		slog.String("infra_id", inst.InfraID))
	if err := performDropNode(ctx, deps, inst); err != nil {
		deps.Logger.Error("compensation failed",
			slog.String("node_id", inst.NodeID),
			slog.String("error", err.Error()))
	}
}
