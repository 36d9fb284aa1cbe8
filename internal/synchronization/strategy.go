// Package synchronization decides when a created node counts as ready. A
// strategy aggregates independently toggleable readiness checks; the wait
// loop polls it until the node is ready, terminally failed, timed out or the
// wait is cancelled.
package synchronization

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/occopus/infra-processor/internal/infobroker"
	"github.com/occopus/infra-processor/internal/node"
	"github.com/occopus/infra-processor/internal/shared/logger"
)

// Dependencies bundles what the strategies need to evaluate checks.
type Dependencies struct {
	Broker infobroker.Broker
	Logger *logger.Logger
}

// CheckResult is the outcome of one readiness check in a detailed report.
type CheckResult struct {
	Name  string
	Ready bool
	Err   error
}

// Strategy evaluates the readiness of one node instance.
type Strategy interface {
	// IsReady short-circuits at the first failing check.
	IsReady(ctx context.Context, inst *node.Instance) (bool, error)

	// Report evaluates every check eagerly for diagnostics.
	Report(ctx context.Context, inst *node.Instance) []CheckResult
}

// ForInstance selects the strategy declared by the resolved definition's
// health check section, defaulting to the basic composite.
func ForInstance(deps Dependencies, inst *node.Instance) (Strategy, error) {
	protocol := "basic"
	if def := inst.ResolvedDefinition; def != nil && def.HealthCheck != nil && def.HealthCheck.Protocol != "" {
		protocol = def.HealthCheck.Protocol
	}
	switch protocol {
	case "basic":
		return &basicStrategy{deps: deps}, nil
	case "database":
		return &databaseStrategy{deps: deps}, nil
	default:
		return nil, fmt.Errorf("unknown synchronization strategy: %s", protocol)
	}
}

type checkFunc func(ctx context.Context) (bool, error)

type namedCheck struct {
	name string
	run  checkFunc
}

// allReady evaluates checks lazily, stopping at the first one that is not
// satisfied. Evaluation errors mean "not yet", never fatal.
func allReady(ctx context.Context, checks []namedCheck) (bool, error) {
	for _, check := range checks {
		ok, err := check.run(ctx)
		if err != nil || !ok {
			return false, nil
		}
	}
	return true, nil
}

// reportChecks evaluates every check eagerly for diagnostics.
func reportChecks(ctx context.Context, checks []namedCheck) []CheckResult {
	out := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		ok, err := check.run(ctx)
		out = append(out, CheckResult{Name: check.name, Ready: ok && err == nil, Err: err})
	}
	return out
}

// basicStrategy is the composite of all built-in checks. The backend status
// check always runs; the rest is driven by the health check configuration.
type basicStrategy struct {
	deps Dependencies
}

func (s *basicStrategy) IsReady(ctx context.Context, inst *node.Instance) (bool, error) {
	return allReady(ctx, s.checks(ctx, inst))
}

func (s *basicStrategy) Report(ctx context.Context, inst *node.Instance) []CheckResult {
	return reportChecks(ctx, s.checks(ctx, inst))
}

func (s *basicStrategy) checks(ctx context.Context, inst *node.Instance) []namedCheck {
	hc := healthCheckOf(inst)
	checks := []namedCheck{
		{"status", s.statusCheck(inst)},
	}
	if hc.PingEnabled() {
		checks = append(checks, namedCheck{"ping", s.pingCheck(inst)})
	}
	for _, port := range hc.Ports {
		port := port
		checks = append(checks, namedCheck{
			fmt.Sprintf("port:%d", port), s.portCheck(inst, port),
		})
	}
	for _, url := range hc.URLs {
		url := url
		checks = append(checks, namedCheck{"url:" + url, s.urlCheck(inst, url)})
	}
	if def := inst.ResolvedDefinition; def != nil {
		for _, attr := range def.SynchAttrs {
			attr := attr
			checks = append(checks, namedCheck{"attribute:" + attr, s.attributeCheck(inst, attr)})
		}
	}
	for _, db := range hc.Databases {
		db := db
		checks = append(checks, namedCheck{"database:" + db.Name, s.databaseCheck(inst, db)})
	}
	return checks
}

func (s *basicStrategy) statusCheck(inst *node.Instance) checkFunc {
	return func(ctx context.Context) (bool, error) {
		status, err := nodeStatus(ctx, s.deps.Broker, inst)
		if err != nil {
			return false, err
		}
		return status == node.StatusReady, nil
	}
}

func (s *basicStrategy) pingCheck(inst *node.Instance) checkFunc {
	return func(ctx context.Context) (bool, error) {
		addr, err := nodeAddress(ctx, s.deps.Broker, inst)
		if err != nil {
			return false, err
		}
		return boolFact(ctx, s.deps.Broker, infobroker.FactNodeReachable, infobroker.Params{"host": addr})
	}
}

func (s *basicStrategy) portCheck(inst *node.Instance, port int) checkFunc {
	return func(ctx context.Context) (bool, error) {
		addr, err := nodeAddress(ctx, s.deps.Broker, inst)
		if err != nil {
			return false, err
		}
		return boolFact(ctx, s.deps.Broker, infobroker.FactPortAvailable, infobroker.Params{
			"host": addr,
			"port": port,
		})
	}
}

func (s *basicStrategy) urlCheck(inst *node.Instance, url string) checkFunc {
	return func(ctx context.Context) (bool, error) {
		rendered, err := renderParam(ctx, s.deps.Broker, inst, url)
		if err != nil {
			return false, err
		}
		return boolFact(ctx, s.deps.Broker, infobroker.FactSiteAvailable, infobroker.Params{"url": rendered})
	}
}

func (s *basicStrategy) attributeCheck(inst *node.Instance, attr string) checkFunc {
	return func(ctx context.Context) (bool, error) {
		val, err := s.deps.Broker.Get(ctx, infobroker.FactNodeAttribute, infobroker.Params{
			"node_id":   inst.NodeID,
			"attribute": attr,
		})
		if err != nil {
			return false, err
		}
		return val != nil, nil
	}
}

func (s *basicStrategy) databaseCheck(inst *node.Instance, db node.DatabaseCheck) checkFunc {
	return func(ctx context.Context) (bool, error) {
		addr, err := nodeAddress(ctx, s.deps.Broker, inst)
		if err != nil {
			return false, err
		}
		name, err := renderParam(ctx, s.deps.Broker, inst, db.Name)
		if err != nil {
			return false, err
		}
		return boolFact(ctx, s.deps.Broker, infobroker.FactDatabaseReady, infobroker.Params{
			"host": addr,
			"name": name,
			"user": db.User,
			"pass": db.Password,
		})
	}
}

// databaseStrategy only waits for the declared databases; the status check
// still runs so terminally dead nodes do not pass.
type databaseStrategy struct {
	deps Dependencies
}

func (s *databaseStrategy) checks(ctx context.Context, inst *node.Instance) []namedCheck {
	basic := &basicStrategy{deps: s.deps}
	checks := []namedCheck{{"status", basic.statusCheck(inst)}}
	for _, db := range healthCheckOf(inst).Databases {
		db := db
		checks = append(checks, namedCheck{"database:" + db.Name, basic.databaseCheck(inst, db)})
	}
	return checks
}

func (s *databaseStrategy) IsReady(ctx context.Context, inst *node.Instance) (bool, error) {
	return allReady(ctx, s.checks(ctx, inst))
}

func (s *databaseStrategy) Report(ctx context.Context, inst *node.Instance) []CheckResult {
	return reportChecks(ctx, s.checks(ctx, inst))
}

func healthCheckOf(inst *node.Instance) *node.HealthCheck {
	if def := inst.ResolvedDefinition; def != nil && def.HealthCheck != nil {
		return def.HealthCheck
	}
	return &node.HealthCheck{}
}

func nodeStatus(ctx context.Context, broker infobroker.Broker, inst *node.Instance) (node.Status, error) {
	val, err := broker.Get(ctx, infobroker.FactNodeState, infobroker.Params{
		"infra_id": inst.InfraID,
		"node_id":  inst.NodeID,
	})
	if err != nil {
		return node.StatusUnknown, err
	}
	status, ok := val.(node.Status)
	if !ok {
		return node.StatusUnknown, fmt.Errorf("unexpected node state type %T", val)
	}
	return status, nil
}

func nodeAddress(ctx context.Context, broker infobroker.Broker, inst *node.Instance) (string, error) {
	val, err := broker.Get(ctx, infobroker.FactNodeAddress, infobroker.Params{
		"infra_id": inst.InfraID,
		"node_id":  inst.NodeID,
	})
	if err != nil {
		return "", err
	}
	addr, _ := val.(string)
	return addr, nil
}

func boolFact(ctx context.Context, broker infobroker.Broker, fact string, params infobroker.Params) (bool, error) {
	val, err := broker.Get(ctx, fact, params)
	if err != nil {
		return false, err
	}
	ok, _ := val.(bool)
	return ok, nil
}

// renderParam templatizes check parameters with the node's identity, address
// and variables, mirroring how node attributes are rendered at resolution.
func renderParam(ctx context.Context, broker infobroker.Broker, inst *node.Instance, text string) (string, error) {
	tmpl, err := template.New("param").Parse(text)
	if err != nil {
		return "", err
	}

	data := map[string]any{
		"node_id":  inst.NodeID,
		"infra_id": inst.InfraID,
	}
	if inst.Description != nil {
		data["variables"] = inst.Description.Variables
	}
	if addr, err := nodeAddress(ctx, broker, inst); err == nil {
		data["ip"] = addr
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
