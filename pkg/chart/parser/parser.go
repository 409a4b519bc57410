// Package parser turns chart source text into a resolved chart.Chart.
//
// Chart source uses the "relaxed JSON" grammar described by the chart
// grammar table: unquoted keys, no trailing-comma restrictions. YAML 1.2 is
// a structural superset of JSON that tolerates exactly this style, so
// parsing goes through gopkg.in/yaml.v3 into an untyped map[string]any tree
// (the "decode loosely" half) before Resolve walks that tree into a typed,
// reference-checked chart.Chart (the "resolve strictly" half).
package parser

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

// Parse decodes chart source and resolves it into a Chart. A transition
// target that is syntactically valid but names no state in the chart fails
// with a *chart.DefinitionError. Guard, action and service names are
// dynamic registry lookups and are not validated here; they are resolved
// against the interpreter Context instead.
func Parse(source []byte) (*chart.Chart, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(source, &raw); err != nil {
		return nil, &chart.DefinitionError{Message: fmt.Sprintf("malformed chart source: %v", err)}
	}
	return Resolve(raw)
}

// Resolve walks an already-decoded untyped tree (as produced by Parse, or
// assembled programmatically by a collaborator) into a typed Chart.
func Resolve(raw map[string]interface{}) (*chart.Chart, error) {
	r := &resolver{}
	return r.resolveChart(raw)
}
