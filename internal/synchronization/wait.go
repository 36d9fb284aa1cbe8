package synchronization

import (
	"context"
	"log/slog"
	"time"

	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

// WaitForReady blocks until the instance's readiness strategy passes.
//
// Terminal backend states (shutdown, fail) return a NodeFailedError and an
// exceeded creation timeout a NodeCreationTimeoutError, both carrying the
// instance so the caller can compensate. Cancellation through the context is
// not an error: the wait returns nil and leaves judgement to the caller.
// Timeout detection is approximate; it can lag the configured value by up to
// one poll interval.
func WaitForReady(ctx context.Context, deps Dependencies, inst *node.Instance, pollInterval time.Duration) error {
	strategy, err := ForInstance(deps, inst)
	if err != nil {
		return err
	}

	timeout := createTimeout(inst)
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	log := deps.Logger.With(
		slog.String("node_id", inst.NodeID),
		slog.String("infra_id", inst.InfraID))
	log.Info("waiting for node to become ready",
		slog.Duration("poll_interval", pollInterval),
		slog.Duration("timeout", timeout))

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		status, statusErr := nodeStatus(ctx, deps.Broker, inst)
		if statusErr == nil && status.IsTerminalFailure() {
			log.Error("node reached terminal state", slog.String("status", status.String()))
			return errs.NewNodeFailedError(inst, status)
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Error("node creation timed out", slog.Duration("timeout", timeout))
			return errs.NewNodeCreationTimeoutError(inst, timeout)
		}

		ready, err := strategy.IsReady(ctx, inst)
		if err == nil && ready {
			log.Info("node is ready")
			return nil
		}

		timer.Reset(pollInterval)
		select {
		case <-ctx.Done():
			log.Info("node wait cancelled")
			return nil
		case <-timer.C:
		}
	}
}

func createTimeout(inst *node.Instance) time.Duration {
	def := inst.ResolvedDefinition
	if def == nil {
		return 0
	}
	if def.HealthCheck != nil && def.HealthCheck.Timeout > 0 {
		return def.HealthCheck.Timeout
	}
	return def.CreateTimeout
}
