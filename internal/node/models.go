package node

import (
	"time"
)

// Description is the abstract node request handed to the processor by the
// infrastructure compiler. It carries everything needed to pick and resolve a
// backend-specific definition, and is immutable once handed to a command.
type Description struct {
	Type    string `json:"type" yaml:"type"`
	Name    string `json:"name" yaml:"name"`
	InfraID string `json:"infra_id" yaml:"infra_id"`
	UserID  int64  `json:"user_id" yaml:"user_id"`

	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Mappings   Mappings       `json:"mappings,omitempty" yaml:"mappings,omitempty"`
	Variables  map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Backend selection: explicit ids and filter keywords narrow the
	// candidate set, SelectionStrategy picks among what remains.
	BackendIDs        []string `json:"backend_ids,omitempty" yaml:"backend_ids,omitempty"`
	FilterKeywords    []string `json:"filter_keywords,omitempty" yaml:"filter_keywords,omitempty"`
	SelectionStrategy string   `json:"backend_selection_strategy,omitempty" yaml:"backend_selection_strategy,omitempty"`

	// CreateTimeout overrides the definition and configured defaults when set.
	CreateTimeout time.Duration `json:"create_timeout,omitempty" yaml:"create_timeout,omitempty"`
}

// Mapping connects an attribute of one node to an attribute of another.
// Attributes[0] is the source attribute, Attributes[1] the destination.
type Mapping struct {
	Attributes [2]string `json:"attributes" yaml:"attributes"`
	Synch      bool      `json:"synch,omitempty" yaml:"synch,omitempty"`
}

// Mappings groups connection mappings by the role of the peer node.
type Mappings struct {
	Inbound  map[string][]Mapping `json:"inbound,omitempty" yaml:"inbound,omitempty"`
	Outbound map[string][]Mapping `json:"outbound,omitempty" yaml:"outbound,omitempty"`
}

// Connection is the backend-understood form of an inbound mapping, attached to
// the resolved attributes under the "connections" key.
type Connection struct {
	SourceRole           string `json:"source_role"`
	SourceAttribute      string `json:"source_attribute"`
	DestinationAttribute string `json:"destination_attribute"`
}

// Contextualisation declares how a definition's contextualization payload is
// produced. Type selects the resolver protocol.
type Contextualisation struct {
	Type            string         `json:"type" yaml:"type"`
	ContextTemplate string         `json:"context_template,omitempty" yaml:"context_template,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// DatabaseCheck describes one connect-and-close reachability probe.
type DatabaseCheck struct {
	Name     string `json:"name" yaml:"name"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"pass" yaml:"pass"`
}

// HealthCheck parameterizes the synchronization strategy used to decide when
// a node is ready. Protocol selects the strategy; the remaining fields toggle
// the individual checks of the basic composite.
type HealthCheck struct {
	Protocol  string          `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Ping      *bool           `json:"ping,omitempty" yaml:"ping,omitempty"`
	Ports     []int           `json:"ports,omitempty" yaml:"ports,omitempty"`
	URLs      []string        `json:"urls,omitempty" yaml:"urls,omitempty"`
	Databases []DatabaseCheck `json:"databases,omitempty" yaml:"databases,omitempty"`
	Timeout   time.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// PingEnabled reports whether the reachability check should run; it defaults
// to on when unset.
func (h *HealthCheck) PingEnabled() bool {
	if h == nil || h.Ping == nil {
		return true
	}
	return *h.Ping
}

// Definition is a backend-chosen node template. The resolver mutates exactly
// one owned copy into its final form, filling in the resolved fields below;
// after resolution it is treated as immutable.
type Definition struct {
	ImplementationType string            `json:"implementation_type,omitempty" yaml:"implementation_type,omitempty"`
	BackendID          string            `json:"backend_id" yaml:"backend_id"`
	Contextualisation  Contextualisation `json:"contextualisation" yaml:"contextualisation"`
	Resource           map[string]any    `json:"resource,omitempty" yaml:"resource,omitempty"`
	HealthCheck        *HealthCheck      `json:"health_check,omitempty" yaml:"health_check,omitempty"`
	CreateTimeout      time.Duration     `json:"create_timeout,omitempty" yaml:"create_timeout,omitempty"`

	// Filled in by the resolver.
	NodeID     string            `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	InfraID    string            `json:"infra_id,omitempty" yaml:"infra_id,omitempty"`
	UserID     int64             `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	AuthData   map[string]string `json:"auth_data,omitempty" yaml:"auth_data,omitempty"`
	Context    string            `json:"context,omitempty" yaml:"context,omitempty"`
	Attributes map[string]any    `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	SynchAttrs []string          `json:"synch_attrs,omitempty" yaml:"synch_attrs,omitempty"`
}

// Clone returns a deep-enough copy for the resolver to own: maps and slices
// reachable from the definition are copied, so mutating the clone never
// aliases the template it was looked up from.
func (d *Definition) Clone() *Definition {
	c := *d
	c.Contextualisation.Attributes = cloneMap(d.Contextualisation.Attributes)
	c.Resource = cloneMap(d.Resource)
	c.Attributes = cloneMap(d.Attributes)
	c.AuthData = nil
	if d.AuthData != nil {
		c.AuthData = make(map[string]string, len(d.AuthData))
		for k, v := range d.AuthData {
			c.AuthData[k] = v
		}
	}
	if d.HealthCheck != nil {
		hc := *d.HealthCheck
		hc.Ports = append([]int(nil), d.HealthCheck.Ports...)
		hc.URLs = append([]string(nil), d.HealthCheck.URLs...)
		hc.Databases = append([]DatabaseCheck(nil), d.HealthCheck.Databases...)
		c.HealthCheck = &hc
	}
	c.SynchAttrs = append([]string(nil), d.SynchAttrs...)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			s := make([]any, len(vv))
			for i, e := range vv {
				if em, ok := e.(map[string]any); ok {
					s[i] = cloneMap(em)
				} else {
					s[i] = e
				}
			}
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}

// Instance is the durable record of a running node. It is created once by
// CreateNode after the backend confirms creation and never mutated afterwards.
type Instance struct {
	NodeID     string `json:"node_id"`
	InfraID    string `json:"infra_id"`
	UserID     int64  `json:"user_id"`
	BackendID  string `json:"backend_id"`
	InstanceID string `json:"instance_id"`

	Description        *Description `json:"node_description,omitempty"`
	ResolvedDefinition *Definition  `json:"resolved_node_definition,omitempty"`
}
