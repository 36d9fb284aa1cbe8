// Package resolution turns an abstract node description into the fully
// resolved definition a resource handler can act on. It picks a backend
// template, renders the contextualization payload, merges attributes and
// computes the effective creation timeout. All lookups go through the
// injected information broker; the resolver itself never talks to a backend.
package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/occopus/infra-processor/internal/infobroker"
	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
	"github.com/occopus/infra-processor/internal/shared/logger"
)

// Dependencies bundles what every resolver variant needs.
type Dependencies struct {
	Broker infobroker.Broker
	Logger *logger.Logger

	// DefaultCreateTimeout applies when neither the description nor the
	// definition sets one.
	DefaultCreateTimeout time.Duration
}

type resolverFunc func(ctx context.Context, deps Dependencies, nodeID string, desc *node.Description, def *node.Definition) error

// The protocol set is closed; dispatch is a plain table instead of a plugin
// mechanism.
var resolvers = map[string]resolverFunc{
	"cooked":    resolveCooked,
	"basic":     resolveBasic,
	"cloudinit": resolveCloudinit,
	"docker":    resolveDocker,
}

// Resolve looks up a definition template for the description's type, selects
// a backend and runs the protocol-specific resolution on an owned copy of the
// template. The returned definition is final and safe to hand off.
func Resolve(ctx context.Context, deps Dependencies, nodeID string, desc *node.Description) (*node.Definition, error) {
	template, err := selectDefinition(ctx, deps, desc)
	if err != nil {
		return nil, err
	}

	def := template.Clone()
	protocol := def.Contextualisation.Type
	if protocol == "" {
		protocol = def.ImplementationType
	}

	resolve, ok := resolvers[protocol]
	if !ok {
		return nil, &errs.UnknownResolverProtocolError{Protocol: protocol}
	}

	if err := resolve(ctx, deps, nodeID, desc, def); err != nil {
		return nil, err
	}

	def.CreateTimeout = effectiveTimeout(desc, def, deps.DefaultCreateTimeout)
	return def, nil
}

func selectDefinition(ctx context.Context, deps Dependencies, desc *node.Description) (*node.Definition, error) {
	val, err := deps.Broker.Get(ctx, infobroker.FactNodeDefinition, infobroker.Params{"type": desc.Type})
	if err != nil {
		return nil, fmt.Errorf("no definition for node type %q: %w", desc.Type, err)
	}
	defs, ok := val.([]*node.Definition)
	if !ok || len(defs) == 0 {
		return nil, fmt.Errorf("no definition for node type %q: %w", desc.Type, errs.ErrNotFound)
	}

	candidates := filterCandidates(defs, desc)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no eligible backend for node type %q", desc.Type)
	}

	policy, err := selectionPolicy(desc.SelectionStrategy)
	if err != nil {
		return nil, err
	}
	return policy(candidates), nil
}

func filterCandidates(defs []*node.Definition, desc *node.Description) []*node.Definition {
	out := defs
	if len(desc.BackendIDs) > 0 {
		allowed := make(map[string]bool, len(desc.BackendIDs))
		for _, id := range desc.BackendIDs {
			allowed[id] = true
		}
		out = filter(out, func(d *node.Definition) bool { return allowed[d.BackendID] })
	}
	if len(desc.FilterKeywords) > 0 {
		out = filter(out, func(d *node.Definition) bool {
			for _, kw := range desc.FilterKeywords {
				if !matchesKeyword(d, kw) {
					return false
				}
			}
			return true
		})
	}
	return out
}

func filter(defs []*node.Definition, keep func(*node.Definition) bool) []*node.Definition {
	var out []*node.Definition
	for _, d := range defs {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func effectiveTimeout(desc *node.Description, def *node.Definition, fallback time.Duration) time.Duration {
	if desc.CreateTimeout > 0 {
		return desc.CreateTimeout
	}
	if def.CreateTimeout > 0 {
		return def.CreateTimeout
	}
	return fallback
}

// fillIdentity copies the description-side identity fields onto the
// definition. Every variant does this first.
func fillIdentity(nodeID string, desc *node.Description, def *node.Definition) {
	def.NodeID = nodeID
	def.Name = desc.Name
	def.InfraID = desc.InfraID
	def.UserID = desc.UserID
}

// resolveCooked is the identity variant for templates that arrive already
// resolved. Only the identity fields are injected.
func resolveCooked(_ context.Context, _ Dependencies, nodeID string, desc *node.Description, def *node.Definition) error {
	fillIdentity(nodeID, desc, def)
	return nil
}
