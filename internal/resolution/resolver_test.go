package resolution

import (
	"context"
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
)

func testDeps(t *testing.T) (Dependencies, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := infobroker.NewRegistry()
	infobroker.RegisterProviders(reg, st, resource.NewDummyHandler())
	return Dependencies{
		Broker:               reg,
		Logger:               logger.NewNop(),
		DefaultCreateTimeout: 20 * time.Minute,
	}, st
}

func saveDef(t *testing.T, st store.Store, nodeType string, def *node.Definition) {
	t.Helper()
	require.NoError(t, st.SaveDefinition(context.Background(), nodeType, def))
}

func TestResolveUnknownType(t *testing.T) {
	deps, _ := testDeps(t)
	_, err := Resolve(context.Background(), deps, "node-1", &node.Description{Type: "ghost"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestResolveUnknownProtocol(t *testing.T) {
	deps, st := testDeps(t)
	saveDef(t, st, "worker", &node.Definition{
		BackendID:         "backend-a",
		Contextualisation: node.Contextualisation{Type: "chef"},
	})

	_, err := Resolve(context.Background(), deps, "node-1", &node.Description{Type: "worker"})
	var protoErr *errs.UnknownResolverProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "chef", protoErr.Protocol)
}

func TestResolveCookedRoundTrip(t *testing.T) {
	deps, st := testDeps(t)
	original := &node.Definition{
		BackendID:         "backend-a",
		Contextualisation: node.Contextualisation{Type: "cooked"},
		Resource:          map[string]any{"server_type": "cx22"},
		CreateTimeout:     5 * time.Minute,
	}
	saveDef(t, st, "worker", original)

	desc := &node.Description{
		Type:    "worker",
		Name:    "worker",
		InfraID: "infra-1",
		UserID:  7,
	}
	def, err := Resolve(context.Background(), deps, "node-1", desc)
	require.NoError(t, err)

	// Only the identity fields change; everything else survives untouched.
	assert.Equal(t, "node-1", def.NodeID)
	assert.Equal(t, "worker", def.Name)
	assert.Equal(t, "infra-1", def.InfraID)
	assert.Equal(t, int64(7), def.UserID)
	assert.Equal(t, original.BackendID, def.BackendID)
	assert.Equal(t, original.Resource, def.Resource)
	assert.Equal(t, 5*time.Minute, def.CreateTimeout)
}

func TestResolveBackendFiltering(t *testing.T) {
	deps, st := testDeps(t)
	saveDef(t, st, "worker", &node.Definition{
		BackendID:         "backend-a",
		Contextualisation: node.Contextualisation{Type: "cooked"},
	})
	saveDef(t, st, "worker", &node.Definition{
		BackendID:         "backend-b",
		Contextualisation: node.Contextualisation{Type: "cooked"},
	})

	desc := &node.Description{
		Type:       "worker",
		InfraID:    "infra-1",
		BackendIDs: []string{"backend-b"},
	}
	def, err := Resolve(context.Background(), deps, "node-1", desc)
	require.NoError(t, err)
	assert.Equal(t, "backend-b", def.BackendID)

	desc.BackendIDs = []string{"backend-z"}
	_, err = Resolve(context.Background(), deps, "node-2", desc)
	assert.Error(t, err)
}

func TestResolveSelectionStrategy(t *testing.T) {
	deps, st := testDeps(t)
	saveDef(t, st, "worker", &node.Definition{
		BackendID:         "backend-a",
		Contextualisation: node.Contextualisation{Type: "cooked"},
	})

	desc := &node.Description{Type: "worker", SelectionStrategy: "lowest-price"}
	_, err := Resolve(context.Background(), deps, "node-1", desc)
	assert.Error(t, err)

	desc.SelectionStrategy = "first"
	_, err = Resolve(context.Background(), deps, "node-1", desc)
	assert.NoError(t, err)
}

func TestResolveCloudinit(t *testing.T) {
	deps, st := testDeps(t)
	ctx := context.Background()

	require.NoError(t, st.SaveAuthData(ctx, "backend-a", 7, map[string]string{"token": "secret"}))
	saveDef(t, st, "worker", &node.Definition{
		BackendID: "backend-a",
		Contextualisation: node.Contextualisation{
			Type:            "cloudinit",
			ContextTemplate: "#cloud-config\nhostname: {{.node_id}}\n",
			Attributes:      map[string]any{"role": "generic", "shard": "{{.infra_id}}-0"},
		},
	})

	desc := &node.Description{
		Type:    "worker",
		Name:    "worker",
		InfraID: "infra-1",
		UserID:  7,
		Attributes: map[string]any{
			"role": "frontend",
		},
		Mappings: node.Mappings{
			Inbound: map[string][]node.Mapping{
				"database": {{Attributes: [2]string{"ip_address", "db_host"}}},
			},
			Outbound: map[string][]node.Mapping{
				"frontend": {
					{Attributes: [2]string{"ip_address", "peer_ip"}, Synch: true},
					{Attributes: [2]string{"hostname", "peer_name"}},
				},
			},
		},
	}

	def, err := Resolve(ctx, deps, "node-1", desc)
	require.NoError(t, err)

	assert.Equal(t, "#cloud-config\nhostname: node-1\n", def.Context)
	assert.Equal(t, map[string]string{"token": "secret"}, def.AuthData)

	// Description attributes override contextualisation defaults.
	assert.Equal(t, "frontend", def.Attributes["role"])
	assert.Equal(t, "infra-1-0", def.Attributes["shard"])

	conns, ok := def.Attributes["connections"].([]node.Connection)
	require.True(t, ok)
	require.Len(t, conns, 1)
	assert.Equal(t, "infra-1_database", conns[0].SourceRole)
	assert.Equal(t, "ip_address", conns[0].SourceAttribute)
	assert.Equal(t, "db_host", conns[0].DestinationAttribute)

	assert.Equal(t, []string{"ip_address"}, def.SynchAttrs)
	assert.Equal(t, 20*time.Minute, def.CreateTimeout)
}

func TestResolveContextFallsBackToBackendDefault(t *testing.T) {
	deps, st := testDeps(t)
	ctx := context.Background()

	require.NoError(t, st.SetDefaultContext(ctx, "backend-a", "#cloud-config\nfqdn: {{.name}}.example.com\n"))
	saveDef(t, st, "worker", &node.Definition{
		BackendID:         "backend-a",
		Contextualisation: node.Contextualisation{Type: "cloudinit"},
	})

	def, err := Resolve(ctx, deps, "node-1", &node.Description{
		Type: "worker", Name: "web", InfraID: "infra-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "#cloud-config\nfqdn: web.example.com\n", def.Context)
}

func TestResolveCloudConfigSchemaError(t *testing.T) {
	deps, st := testDeps(t)
	saveDef(t, st, "worker", &node.Definition{
		BackendID: "backend-a",
		Contextualisation: node.Contextualisation{
			Type:            "cloudinit",
			ContextTemplate: "#cloud-config\npackages:\n  - nginx\n bad_indent: true\n",
		},
	})

	_, err := Resolve(context.Background(), deps, "node-1", &node.Description{
		Type: "worker", InfraID: "infra-1",
	})
	var schemaErr *errs.NodeContextSchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "worker", schemaErr.NodeType)
	assert.Greater(t, schemaErr.Line, 0)
}

func TestResolveTemplateHelpers(t *testing.T) {
	deps, st := testDeps(t)
	ctx := context.Background()

	sibling := &node.Instance{
		NodeID:  "node-db",
		InfraID: "infra-1",
		Description: &node.Description{
			Name: "database",
		},
	}
	require.NoError(t, st.RegisterStartedNode(ctx, "infra-1", "database", sibling))

	saveDef(t, st, "worker", &node.Definition{
		BackendID: "backend-a",
		Contextualisation: node.Contextualisation{
			Type:            "basic",
			ContextTemplate: `db={{findNodeID "database"}} tag={{cut .node_id 0 4}}`,
		},
	})

	def, err := Resolve(ctx, deps, "node-1234", &node.Description{
		Type: "worker", InfraID: "infra-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "db=node-db tag=node", def.Context)
}

func TestResolveMissingSiblingFails(t *testing.T) {
	deps, st := testDeps(t)
	saveDef(t, st, "worker", &node.Definition{
		BackendID: "backend-a",
		Contextualisation: node.Contextualisation{
			Type:            "basic",
			ContextTemplate: `{{findNodeID "ghost"}}`,
		},
	})

	_, err := Resolve(context.Background(), deps, "node-1", &node.Description{
		Type: "worker", InfraID: "infra-1",
	})
	assert.Error(t, err)
}

func TestResolveTimeoutChain(t *testing.T) {
	deps, st := testDeps(t)
	saveDef(t, st, "worker", &node.Definition{
		BackendID:         "backend-a",
		Contextualisation: node.Contextualisation{Type: "cooked"},
		CreateTimeout:     10 * time.Minute,
	})

	desc := &node.Description{Type: "worker", InfraID: "infra-1"}
	def, err := Resolve(context.Background(), deps, "node-1", desc)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, def.CreateTimeout)

	desc.CreateTimeout = 3 * time.Minute
	def, err = Resolve(context.Background(), deps, "node-2", desc)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, def.CreateTimeout)
}

func TestResolveHealthCheckValidation(t *testing.T) {
	cases := []struct {
		name    string
		hc      *node.HealthCheck
		wantErr string
	}{
		{name: "nil section", hc: nil},
		{name: "valid", hc: &node.HealthCheck{
			Protocol: "basic",
			Ports:    []int{22, 8080},
			URLs:     []string{"http://example.org/health"},
		}},
		{name: "templated url skipped", hc: &node.HealthCheck{
			URLs: []string{`http://{{getip "worker"}}:8080/health`},
		}},
		{name: "unknown protocol", hc: &node.HealthCheck{Protocol: "telnet"},
			wantErr: "unknown protocol"},
		{name: "port out of range", hc: &node.HealthCheck{Ports: []int{70000}},
			wantErr: "out of range"},
		{name: "malformed url", hc: &node.HealthCheck{URLs: []string{"not a url"}},
			wantErr: "malformed url"},
		{name: "nameless database", hc: &node.HealthCheck{
			Databases: []node.DatabaseCheck{{User: "root"}},
		}, wantErr: "no name"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps, st := testDeps(t)
			saveDef(t, st, "worker", &node.Definition{
				BackendID:         "backend-a",
				Contextualisation: node.Contextualisation{Type: "basic"},
				HealthCheck:       tc.hc,
			})

			_, err := Resolve(context.Background(), deps, "node-1", &node.Description{
				Type: "worker", InfraID: "infra-1",
			})
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestResolveLeavesDescriptionUntouched(t *testing.T) {
	deps, st := testDeps(t)
	saveDef(t, st, "worker", &node.Definition{
		BackendID:         "backend-a",
		Contextualisation: node.Contextualisation{Type: "basic"},
	})

	desc := &node.Description{
		Type:    "worker",
		Name:    "web",
		InfraID: "infra-1",
		Attributes: map[string]any{
			"nested": map[string]any{"host": "{{.node_id}}.local"},
			"list":   []any{"{{.infra_id}}-lb"},
		},
	}

	def, err := Resolve(context.Background(), deps, "node-1", desc)
	require.NoError(t, err)

	// Rendering happens on the resolved definition only; the submitted
	// description keeps its template strings for retries and re-submission.
	assert.Equal(t, map[string]any{
		"nested": map[string]any{"host": "{{.node_id}}.local"},
		"list":   []any{"{{.infra_id}}-lb"},
	}, desc.Attributes)
	assert.Equal(t, "node-1.local", def.Attributes["nested"].(map[string]any)["host"])
	assert.Equal(t, "infra-1-lb", def.Attributes["list"].([]any)[0])
}
