package infobroker

import (
	"context"
	"fmt"

	"github.com/occopus/infra-processor/internal/infrastructure/resource"
	"github.com/occopus/infra-processor/internal/infrastructure/store"
	"github.com/occopus/infra-processor/internal/node"
)

// Fact names served by RegisterProviders.
const (
	FactNodeDefinition = "node.definition"
	FactNodeState      = "node.state"
	FactNodeAddress    = "node.address"
	FactNodeFind       = "node.find"
	FactNodeAttribute  = "node.attribute"
	FactAuthData       = "backends.auth_data"
	FactDefaultContext = "backends.default_context"
	FactNodeReachable  = "synch.node_reachable"
	FactPortAvailable  = "synch.port_available"
	FactSiteAvailable  = "synch.site_available"
	FactDatabaseReady  = "synch.database_ready"
)

// RegisterProviders binds the standard fact providers over the given store
// and resource handler onto the registry.
func RegisterProviders(reg *Registry, st store.Store, res resource.Handler) {
	reg.Register(FactNodeDefinition, func(ctx context.Context, p Params) (any, error) {
		return st.Definitions(ctx, p.String("type"))
	})

	reg.Register(FactNodeFind, func(ctx context.Context, p Params) (any, error) {
		return st.FindNodesByName(ctx, p.String("infra_id"), p.String("name"))
	})

	reg.Register(FactNodeAttribute, func(ctx context.Context, p Params) (any, error) {
		return st.NodeAttribute(ctx, p.String("node_id"), p.String("attribute"))
	})

	reg.Register(FactAuthData, func(ctx context.Context, p Params) (any, error) {
		return st.AuthData(ctx, p.String("backend_id"), p.Int64("user_id"))
	})

	reg.Register(FactDefaultContext, func(ctx context.Context, p Params) (any, error) {
		return st.DefaultContext(ctx, p.String("backend_id"))
	})

	reg.Register(FactNodeState, func(ctx context.Context, p Params) (any, error) {
		inst, err := lookupInstance(ctx, st, p)
		if err != nil {
			return nil, err
		}
		return res.NodeStatus(ctx, inst)
	})

	reg.Register(FactNodeAddress, func(ctx context.Context, p Params) (any, error) {
		inst, err := lookupInstance(ctx, st, p)
		if err != nil {
			return nil, err
		}
		return res.NodeAddress(ctx, inst)
	})

	reg.Register(FactNodeReachable, func(ctx context.Context, p Params) (any, error) {
		return pingHost(ctx, p.String("host"))
	})

	reg.Register(FactPortAvailable, func(ctx context.Context, p Params) (any, error) {
		port := p.Int64("port")
		if port <= 0 {
			return nil, fmt.Errorf("port parameter is required")
		}
		return portOpen(ctx, p.String("host"), int(port))
	})

	reg.Register(FactSiteAvailable, func(ctx context.Context, p Params) (any, error) {
		return siteAvailable(ctx, p.String("url"))
	})

	reg.Register(FactDatabaseReady, func(ctx context.Context, p Params) (any, error) {
		return databaseReady(ctx, databaseParams{
			Host:     p.String("host"),
			Name:     p.String("name"),
			User:     p.String("user"),
			Password: p.String("pass"),
		})
	})
}

func lookupInstance(ctx context.Context, st store.Store, p Params) (*node.Instance, error) {
	infraID := p.String("infra_id")
	nodeID := p.String("node_id")
	if infraID == "" || nodeID == "" {
		return nil, fmt.Errorf("infra_id and node_id parameters are required")
	}
	return st.GetNode(ctx, infraID, nodeID)
}
