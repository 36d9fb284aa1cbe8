package resolution

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

// validateHealthCheck rejects malformed health_check sections at resolve
// time, before a node is created against them. A bad port or URL would
// otherwise surface only as a node that never becomes ready.
func validateHealthCheck(hc *node.HealthCheck) error {
	if hc == nil {
		return nil
	}
	switch hc.Protocol {
	case "", "basic", "database":
	default:
		return fmt.Errorf("health_check: unknown protocol %q", hc.Protocol)
	}
	for _, p := range hc.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("health_check: port %d out of range", p)
		}
	}
	for _, raw := range hc.URLs {
		// Template actions render per check, against the live address.
		if strings.Contains(raw, "{{") {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("health_check: malformed url %q", raw)
		}
	}
	for i, db := range hc.Databases {
		if db.Name == "" {
			return fmt.Errorf("health_check: database check %d has no name", i)
		}
	}
	if hc.Timeout < 0 {
		return fmt.Errorf("health_check: negative timeout %v", hc.Timeout)
	}
	return nil
}

// validateCloudConfig parse-checks contexts that declare themselves as
// cloud-config documents. cloud-init fails silently on malformed YAML, so
// catching it here is the only chance to report it.
func validateCloudConfig(nodeType, context string) error {
	if !strings.HasPrefix(context, "#cloud-config") {
		return nil
	}

	var doc any
	if err := yaml.Unmarshal([]byte(context), &doc); err != nil {
		return errs.NewNodeContextSchemaError(nodeType, yamlErrorLine(err), err)
	}
	return nil
}

// yamlErrorLine digs the line number out of a yaml error message, -1 when
// none is reported.
func yamlErrorLine(err error) int {
	m := yamlLineRe.FindStringSubmatch(err.Error())
	if len(m) != 2 {
		return -1
	}
	line, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return -1
	}
	return line
}
