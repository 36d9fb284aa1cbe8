package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occopus/infra-processor/internal/config"
	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

func TestDummyHandlerLifecycle(t *testing.T) {
	ctx := context.Background()
	h := NewDummyHandler()

	def := &node.Definition{BackendID: "dummy", Name: "worker", NodeID: "node-1"}
	id, err := h.CreateNode(ctx, def)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, h.Live())

	inst := &node.Instance{NodeID: "node-1", InstanceID: id}

	status, err := h.NodeStatus(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, node.StatusReady, status)

	addr, err := h.NodeAddress(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr)

	require.NoError(t, h.DropNode(ctx, inst))
	assert.Equal(t, 0, h.Live())

	status, err = h.NodeStatus(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, node.StatusShutdown, status)

	err = h.DropNode(ctx, inst)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDummyHandlerFailureInjection(t *testing.T) {
	ctx := context.Background()
	h := NewDummyHandler()

	boom := errors.New("backend exploded")
	h.FailCreate = boom
	_, err := h.CreateNode(ctx, &node.Definition{NodeID: "node-1"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, h.Live())

	h.FailCreate = nil
	id, err := h.CreateNode(ctx, &node.Definition{NodeID: "node-1"})
	require.NoError(t, err)

	h.SetStatus(id, node.StatusFail)
	status, err := h.NodeStatus(ctx, &node.Instance{InstanceID: id})
	require.NoError(t, err)
	assert.Equal(t, node.StatusFail, status)
	assert.True(t, status.IsTerminalFailure())
}

func TestHcloudStatusMapping(t *testing.T) {
	assert.Equal(t, node.StatusPending, mapServerStatus("initializing"))
	assert.Equal(t, node.StatusPending, mapServerStatus("starting"))
	assert.Equal(t, node.StatusReady, mapServerStatus("running"))
	assert.Equal(t, node.StatusShutdown, mapServerStatus("off"))
	assert.Equal(t, node.StatusTmpFail, mapServerStatus("migrating"))
	assert.Equal(t, node.StatusUnknown, mapServerStatus("weird"))
}

func TestHandlerFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := New(config.ResourceConfig{Backend: "openstack"}, nil)
	assert.Error(t, err)
}
