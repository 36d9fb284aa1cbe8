package resolution

import (
	"context"
	"errors"
	"fmt"
	"text/template"

	"github.com/occopus/infra-processor/internal/infobroker"
	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

// resolveCloudinit handles definitions whose contextualization is a
// cloud-init payload. The rendered context is schema-checked when it declares
// itself a cloud-config document.
func resolveCloudinit(ctx context.Context, deps Dependencies, nodeID string, desc *node.Description, def *node.Definition) error {
	if err := resolveCommon(ctx, deps, nodeID, desc, def); err != nil {
		return err
	}
	return validateCloudConfig(desc.Type, def.Context)
}

// resolveBasic runs the shared pipeline without any payload validation.
func resolveBasic(ctx context.Context, deps Dependencies, nodeID string, desc *node.Description, def *node.Definition) error {
	return resolveCommon(ctx, deps, nodeID, desc, def)
}

// resolveDocker targets container backends. The pipeline is shared; the env
// and command settings of the contextualization are lifted into the resolved
// attributes so the backend can reach them uniformly.
func resolveDocker(ctx context.Context, deps Dependencies, nodeID string, desc *node.Description, def *node.Definition) error {
	if err := resolveCommon(ctx, deps, nodeID, desc, def); err != nil {
		return err
	}
	if env, ok := def.Contextualisation.Attributes["env"]; ok {
		def.Attributes["env"] = env
	}
	if cmd, ok := def.Contextualisation.Attributes["command"]; ok {
		def.Attributes["command"] = cmd
	}
	return nil
}

// resolveCommon is the variant-independent part of resolution: identity
// fields, auth data, rendered resource section, merged and rendered
// attributes, connection list, synch attributes and the rendered context.
func resolveCommon(ctx context.Context, deps Dependencies, nodeID string, desc *node.Description, def *node.Definition) error {
	fillIdentity(nodeID, desc, def)

	if err := validateHealthCheck(def.HealthCheck); err != nil {
		return err
	}

	data, funcs := templateData(ctx, deps, nodeID, desc, def)

	if err := fetchAuthData(ctx, deps, desc, def); err != nil {
		return err
	}

	if def.Resource != nil {
		rendered, err := renderValue(def.Resource, data, funcs)
		if err != nil {
			return fmt.Errorf("resource section: %w", err)
		}
		def.Resource = rendered.(map[string]any)
	}

	attrs, err := resolveAttributes(desc, def, data, funcs)
	if err != nil {
		return err
	}
	def.Attributes = attrs
	def.SynchAttrs = extractSynchAttrs(desc)

	contextText, err := resolveContext(ctx, deps, def, data, funcs)
	if err != nil {
		return err
	}
	def.Context = contextText
	return nil
}

func fetchAuthData(ctx context.Context, deps Dependencies, desc *node.Description, def *node.Definition) error {
	val, err := deps.Broker.Get(ctx, infobroker.FactAuthData, infobroker.Params{
		"backend_id": def.BackendID,
		"user_id":    desc.UserID,
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("auth data for backend %s: %w", def.BackendID, err)
	}
	auth, _ := val.(map[string]string)
	def.AuthData = auth
	return nil
}

// resolveAttributes merges the description's attributes over the
// contextualization defaults, renders every string value and attaches the
// connection list derived from inbound mappings.
func resolveAttributes(desc *node.Description, def *node.Definition, data map[string]any, funcs template.FuncMap) (map[string]any, error) {
	attrs := make(map[string]any)
	for k, v := range def.Contextualisation.Attributes {
		attrs[k] = v
	}
	for k, v := range desc.Attributes {
		attrs[k] = v
	}

	rendered, err := renderValue(attrs, data, funcs)
	if err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	attrs = rendered.(map[string]any)

	connections := make([]node.Connection, 0)
	for role, mappings := range desc.Mappings.Inbound {
		for _, m := range mappings {
			connections = append(connections, node.Connection{
				SourceRole:           fmt.Sprintf("%s_%s", desc.InfraID, role),
				SourceAttribute:      m.Attributes[0],
				DestinationAttribute: m.Attributes[1],
			})
		}
	}
	attrs["connections"] = connections
	return attrs, nil
}

// extractSynchAttrs collects the source attributes of outbound mappings
// flagged for synchronization; node creation will not complete until these
// exist in the store.
func extractSynchAttrs(desc *node.Description) []string {
	var out []string
	for _, mappings := range desc.Mappings.Outbound {
		for _, m := range mappings {
			if m.Synch {
				out = append(out, m.Attributes[0])
			}
		}
	}
	return out
}

// resolveContext renders the effective contextualization template. The
// node-level template wins, then the backend default, then empty.
func resolveContext(ctx context.Context, deps Dependencies, def *node.Definition, data map[string]any, funcs template.FuncMap) (string, error) {
	text := def.Contextualisation.ContextTemplate
	if text == "" {
		val, err := deps.Broker.Get(ctx, infobroker.FactDefaultContext, infobroker.Params{
			"backend_id": def.BackendID,
		})
		if err != nil && !isNotFound(err) {
			return "", fmt.Errorf("default context for backend %s: %w", def.BackendID, err)
		}
		text, _ = val.(string)
	}
	if text == "" {
		return "", nil
	}

	rendered, err := renderString(text, data, funcs)
	if err != nil {
		return "", fmt.Errorf("context template: %w", err)
	}
	return rendered, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
