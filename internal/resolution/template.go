package resolution

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/occopus/infra-processor/internal/infobroker"
	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

// templateData assembles the dot-value available to every template rendered
// during resolution, plus the helper functions that reach back into the
// broker for sibling-node information.
func templateData(ctx context.Context, deps Dependencies, nodeID string, desc *node.Description, def *node.Definition) (map[string]any, template.FuncMap) {
	data := map[string]any{
		"node_id":    nodeID,
		"name":       desc.Name,
		"infra_id":   desc.InfraID,
		"user_id":    desc.UserID,
		"type":       desc.Type,
		"backend_id": def.BackendID,
		"variables":  desc.Variables,
	}

	findNode := func(name string) (*node.Instance, error) {
		val, err := deps.Broker.Get(ctx, infobroker.FactNodeFind, infobroker.Params{
			"infra_id": desc.InfraID,
			"name":     name,
		})
		if err != nil {
			return nil, err
		}
		nodes, _ := val.([]*node.Instance)
		if len(nodes) == 0 {
			return nil, &errs.NodeNotFoundError{Name: name, InfraID: desc.InfraID}
		}
		if len(nodes) > 1 {
			deps.Logger.Warn("multiple nodes share a name, using the first",
				slog.String("name", name),
				slog.String("node_id", nodes[0].NodeID))
		}
		return nodes[0], nil
	}

	funcs := template.FuncMap{
		"findNodeID": func(name string) (string, error) {
			inst, err := findNode(name)
			if err != nil {
				return "", err
			}
			return inst.NodeID, nil
		},
		"getip": func(name string) (string, error) {
			inst, err := findNode(name)
			if err != nil {
				return "", err
			}
			val, err := deps.Broker.Get(ctx, infobroker.FactNodeAddress, infobroker.Params{
				"infra_id": inst.InfraID,
				"node_id":  inst.NodeID,
			})
			if err != nil {
				return "", err
			}
			addr, _ := val.(string)
			return addr, nil
		},
		"cut": func(s string, start, end int) string {
			if start < 0 {
				start = 0
			}
			if end > len(s) {
				end = len(s)
			}
			if start >= end {
				return ""
			}
			return s[start:end]
		},
		"b64encode": func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		},
		"lookup": func(fact string, kv ...any) (any, error) {
			if len(kv)%2 != 0 {
				return nil, fmt.Errorf("lookup needs key value pairs")
			}
			params := infobroker.Params{}
			for i := 0; i < len(kv); i += 2 {
				key, ok := kv[i].(string)
				if !ok {
					return nil, fmt.Errorf("lookup keys must be strings")
				}
				params[key] = kv[i+1]
			}
			return deps.Broker.Get(ctx, fact, params)
		},
	}

	return data, funcs
}

func renderString(text string, data map[string]any, funcs template.FuncMap) (string, error) {
	tmpl, err := template.New("resolve").Funcs(funcs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("template parse error: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template render error: %w", err)
	}
	return buf.String(), nil
}

// renderValue recursively renders every string reachable from v as a
// template. Containers are rebuilt rather than written in place: nested maps
// and slices may still be aliased to the submitted description, which must
// keep its template strings intact for retries and re-submission.
func renderValue(v any, data map[string]any, funcs template.FuncMap) (any, error) {
	switch vv := v.(type) {
	case string:
		return renderString(vv, data, funcs)
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			rendered, err := renderValue(e, data, funcs)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			rendered, err := renderValue(e, data, funcs)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}
