package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occopus/infra-processor/internal/infobroker"
	"github.com/occopus/infra-processor/internal/infrastructure/resource"
	"github.com/occopus/infra-processor/internal/infrastructure/store"
	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
	"github.com/occopus/infra-processor/internal/shared/logger"
	"github.com/occopus/infra-processor/pkg/events"
)

// recordingComposer records lifecycle notifications for assertions.
type recordingComposer struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingComposer) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *recordingComposer) CreateInfrastructure(ctx context.Context, infraID string) error {
	c.record("create_infra:" + infraID)
	return nil
}

func (c *recordingComposer) DropInfrastructure(ctx context.Context, infraID string) error {
	c.record("drop_infra:" + infraID)
	return nil
}

func (c *recordingComposer) RegisterNode(ctx context.Context, inst *node.Instance) error {
	c.record("register:" + inst.NodeID)
	return nil
}

func (c *recordingComposer) DropNode(ctx context.Context, inst *node.Instance) error {
	c.record("drop:" + inst.NodeID)
	return nil
}

func (c *recordingComposer) count(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// overrideBroker forces a node state on top of the real registry.
type overrideBroker struct {
	inner  infobroker.Broker
	status atomic.Value // node.Status, zero means passthrough
}

func (b *overrideBroker) Get(ctx context.Context, fact string, params infobroker.Params) (any, error) {
	if fact == infobroker.FactNodeState {
		if st, ok := b.status.Load().(node.Status); ok && st != "" {
			return st, nil
		}
	}
	return b.inner.Get(ctx, fact, params)
}

// failOnName fails backend creation for nodes with a given name.
type failOnName struct {
	resource.Handler
	name string
	err  error
}

func (f *failOnName) CreateNode(ctx context.Context, def *node.Definition) (string, error) {
	if def.Name == f.name {
		return "", f.err
	}
	return f.Handler.CreateNode(ctx, def)
}

type env struct {
	deps     *Dependencies
	store    *store.MemoryStore
	handler  *resource.DummyHandler
	composer *recordingComposer
	broker   *overrideBroker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemoryStore()
	handler := resource.NewDummyHandler()
	comp := &recordingComposer{}

	reg := infobroker.NewRegistry()
	infobroker.RegisterProviders(reg, st, handler)
	broker := &overrideBroker{inner: reg}

	e := &env{
		store:    st,
		handler:  handler,
		composer: comp,
		broker:   broker,
	}
	e.deps = &Dependencies{
		Store:                st,
		Resource:             handler,
		Composer:             comp,
		Broker:               broker,
		Logger:               logger.NewNop(),
		PollInterval:         10 * time.Millisecond,
		DefaultCreateTimeout: 5 * time.Second,
	}
	e.saveDefinition(t, "dummy")
	return e
}

func (e *env) saveDefinition(t *testing.T, nodeType string) {
	t.Helper()
	off := false
	err := e.store.SaveDefinition(context.Background(), nodeType, &node.Definition{
		BackendID:         "backend-test",
		Contextualisation: node.Contextualisation{Type: "cooked"},
		HealthCheck:       &node.HealthCheck{Ping: &off},
	})
	require.NoError(t, err)
}

func (e *env) processor(t *testing.T, strategy string) *Processor {
	t.Helper()
	p, err := New(e.deps, strategy)
	require.NoError(t, err)
	return p
}

func desc(infraID, name string) *node.Description {
	return &node.Description{
		Type:    "dummy",
		Name:    name,
		InfraID: infraID,
	}
}

func TestCreateScenarioSequential(t *testing.T) {
	e := newEnv(t)
	p := e.processor(t, "sequential")

	batch := p.Push(context.Background(),
		p.CreateInfrastructureCommand("env-1"),
		p.CreateNodeCommand(desc("env-1", "n1")))

	require.Len(t, batch.Results, 2)
	require.NoError(t, batch.Results[0].Err)
	require.NoError(t, batch.Results[1].Err)

	inst, ok := batch.Results[1].Value.(*node.Instance)
	require.True(t, ok)
	assert.NotEmpty(t, inst.InstanceID)

	nodes, err := e.store.ListNodes(context.Background(), "env-1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	status, err := e.handler.NodeStatus(context.Background(), nodes[0])
	require.NoError(t, err)
	assert.Equal(t, node.StatusReady, status)
	assert.Equal(t, 1, e.composer.count("create_infra:env-1"))
	assert.Equal(t, 1, e.composer.count("register:"))
}

func TestSequentialStopsAtFirstCritical(t *testing.T) {
	e := newEnv(t)
	p := e.processor(t, "sequential")

	batch := p.Push(context.Background(),
		p.CreateNodeCommand(desc("env-1", "n1")),
		p.CreateNodeCommand(&node.Description{Type: "ghost", Name: "n2", InfraID: "env-1"}),
		p.CreateNodeCommand(desc("env-1", "n3")))

	// Results stop at the failing command; n3 is never reached.
	require.Len(t, batch.Results, 2)
	assert.NoError(t, batch.Results[0].Err)
	assert.Error(t, batch.Results[1].Err)

	nodes, err := e.store.ListNodes(context.Background(), "env-1")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestSequentialMinorErrorContinues(t *testing.T) {
	e := newEnv(t)
	p := e.processor(t, "sequential")
	e.handler.FailDrop = errs.NewMinorError("backend busy", nil)

	ghost := &node.Instance{NodeID: "gone", InfraID: "env-1", InstanceID: "i-gone"}
	batch := p.Push(context.Background(),
		p.DropNodeCommand(ghost),
		p.CreateNodeCommand(desc("env-1", "n1")))

	require.Len(t, batch.Results, 2)
	assert.True(t, errs.IsMinor(batch.Results[0].Err))
	assert.Nil(t, batch.Results[0].Value)
	assert.NoError(t, batch.Results[1].Err)

	nodes, err := e.store.ListNodes(context.Background(), "env-1")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestParallelFiveIndependentCreates(t *testing.T) {
	e := newEnv(t)
	p := e.processor(t, "parallel")

	batch := p.Push(context.Background(),
		p.CreateNodeCommand(desc("env-1", "n1")),
		p.CreateNodeCommand(desc("env-1", "n2")),
		p.CreateNodeCommand(desc("env-1", "n3")),
		p.CreateNodeCommand(desc("env-1", "n4")),
		p.CreateNodeCommand(desc("env-1", "n5")))

	require.Len(t, batch.Results, 5)
	seen := map[string]bool{}
	for i, res := range batch.Results {
		require.NoError(t, res.Err, "command %d", i)
		inst, ok := res.Value.(*node.Instance)
		require.True(t, ok)
		assert.Equal(t, i, res.Index)
		seen[inst.NodeID] = true
	}
	assert.Len(t, seen, 5)

	nodes, err := e.store.ListNodes(context.Background(), "env-1")
	require.NoError(t, err)
	assert.Len(t, nodes, 5)
	created, _ := e.handler.Counts()
	assert.Equal(t, 5, created)
}

func TestParallelCompensatesFailedCreate(t *testing.T) {
	e := newEnv(t)
	e.deps.Resource = &failOnName{
		Handler: e.handler,
		name:    "bad",
		err:     errors.New("quota exceeded"),
	}
	p := e.processor(t, "parallel")

	batch := p.Push(context.Background(),
		p.CreateNodeCommand(desc("env-1", "good-1")),
		p.CreateNodeCommand(desc("env-1", "bad")),
		p.CreateNodeCommand(desc("env-1", "good-2")))

	require.Len(t, batch.Results, 3)
	var creationErr *errs.NodeCreationError
	require.ErrorAs(t, batch.Results[1].Err, &creationErr)
	require.NotNil(t, creationErr.InstanceData)
	badID := creationErr.InstanceData.NodeID

	// The compensation dropped the node everywhere before Push returned.
	assert.Equal(t, 1, e.composer.count("drop:"+badID))
	nodes, err := e.store.ListNodes(context.Background(), "env-1")
	require.NoError(t, err)
	for _, inst := range nodes {
		assert.NotEqual(t, badID, inst.NodeID)
	}
}

func TestDropNodeIdempotent(t *testing.T) {
	e := newEnv(t)
	p := e.processor(t, "sequential")

	batch := p.Push(context.Background(), p.CreateNodeCommand(desc("env-1", "n1")))
	require.Len(t, batch.Results, 1)
	inst := batch.Results[0].Value.(*node.Instance)

	first := p.Push(context.Background(), p.DropNodeCommand(inst))
	require.NoError(t, first.Results[0].Err)

	second := p.Push(context.Background(), p.DropNodeCommand(inst))
	require.NoError(t, second.Results[0].Err)

	assert.Equal(t, 0, e.handler.Live())
}

func TestCancellationWatermark(t *testing.T) {
	e := newEnv(t)
	p := e.processor(t, "sequential")

	cmd := p.CreateInfrastructureCommand("env-1")
	p.CancelPending(time.Time{})

	batch := p.Push(context.Background(), cmd)
	assert.Equal(t, 1, batch.Skipped)
	assert.Empty(t, batch.Results)

	// Resubmitting the same command never executes it.
	batch = p.Push(context.Background(), cmd)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 0, e.composer.count("create_infra:"))

	// A command stamped after the watermark runs.
	fresh := cmd
	fresh.Timestamp = time.Now().Add(2 * cancelEpsilon)
	batch = p.Push(context.Background(), fresh)
	assert.Equal(t, 0, batch.Skipped)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, 1, e.composer.count("create_infra:env-1"))
}

func TestSkipUntilFlushesBacklog(t *testing.T) {
	e := newEnv(t)
	p := e.processor(t, "sequential")

	pending := []Command{
		p.CreateInfrastructureCommand("env-1"),
		p.CreateInfrastructureCommand("env-2"),
		p.CreateInfrastructureCommand("env-3"),
	}
	skip := p.SkipUntilCommand(time.Now().Add(time.Minute))

	batch := p.Push(context.Background(), skip)
	assert.Empty(t, batch.Results)

	for _, cmd := range pending {
		res := p.Push(context.Background(), cmd)
		assert.Equal(t, 1, res.Skipped)
	}
	assert.Equal(t, 0, e.composer.count("create_infra:"))
}

func TestSequentialCancelAbortsRemaining(t *testing.T) {
	e := newEnv(t)
	e.broker.status.Store(node.StatusPending)
	e.deps.DefaultCreateTimeout = 10 * time.Second
	p := e.processor(t, "sequential")

	done := make(chan *BatchResult, 1)
	go func() {
		done <- p.Push(context.Background(),
			p.CreateNodeCommand(desc("env-1", "n1")),
			p.CreateNodeCommand(desc("env-1", "n2")),
			p.CreateNodeCommand(desc("env-1", "n3")))
	}()

	time.Sleep(100 * time.Millisecond)
	p.CancelPending(time.Time{})

	select {
	case batch := <-done:
		assert.Less(t, len(batch.Results), 3)
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not return after cancellation")
	}
}

func TestCreateTimeoutTriggersCompensation(t *testing.T) {
	e := newEnv(t)
	e.broker.status.Store(node.StatusPending)
	e.deps.DefaultCreateTimeout = 50 * time.Millisecond
	p := e.processor(t, "sequential")

	batch := p.Push(context.Background(), p.CreateNodeCommand(desc("env-1", "n1")))
	require.Len(t, batch.Results, 1)

	var creationErr *errs.NodeCreationError
	require.ErrorAs(t, batch.Results[0].Err, &creationErr)
	var timedOut *errs.NodeCreationTimeoutError
	assert.ErrorAs(t, creationErr.Err, &timedOut)

	// Compensation removed the half-created node.
	nodes, err := e.store.ListNodes(context.Background(), "env-1")
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Equal(t, 0, e.handler.Live())
}

func TestDropInfrastructure(t *testing.T) {
	e := newEnv(t)
	p := e.processor(t, "sequential")

	p.Push(context.Background(),
		p.CreateInfrastructureCommand("env-1"),
		p.CreateNodeCommand(desc("env-1", "n1")))

	batch := p.Push(context.Background(), p.DropInfrastructureCommand("env-1"))
	require.NoError(t, batch.Results[0].Err)

	nodes, err := e.store.ListNodes(context.Background(), "env-1")
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Equal(t, 1, e.composer.count("drop_infra:env-1"))
}

func TestUnknownStrategyRejected(t *testing.T) {
	e := newEnv(t)
	_, err := New(e.deps, "quantum")
	assert.Error(t, err)
}

func TestWorkerFailureClassification(t *testing.T) {
	assert.Equal(t, "minor", failureKind(errs.NewMinorError("x", nil)))
	assert.Equal(t, "node_creation", failureKind(errs.NewNodeCreationError(&node.Instance{}, errors.New("x"))))
	assert.Equal(t, "critical", failureKind(errors.New("x")))

	f := &WorkerFailure{Kind: "panic", Message: "boom"}
	assert.Contains(t, f.Error(), "panic")
	assert.Same(t, f, classifyFailure(f, nil))

	underlying := errors.New("original")
	assert.Equal(t, underlying, classifyFailure(f, underlying))
}

func TestBatchProcessedEventEmitted(t *testing.T) {
	e := newEnv(t)
	bus := events.NewBus(logger.NewNop())
	defer bus.Close()
	e.deps.Events = bus

	var mu sync.Mutex
	var got []events.Event
	err := bus.Subscribe(events.TypeBatchProcessed, func(ctx context.Context, evt events.Event) error {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	p := e.processor(t, "sequential")
	res := p.Push(context.Background(),
		NewCreateInfrastructure("infra-1"),
		NewCreateNode(&node.Description{Type: "dummy", Name: "web", InfraID: "infra-1"}),
	)
	require.Len(t, res.Results, 2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	meta := got[0].Metadata()
	assert.Equal(t, 2, meta["executed"])
	assert.Equal(t, 0, meta["failed"])
	assert.Equal(t, 0, meta["skipped"])
}
