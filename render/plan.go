package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/autobrancher/resolve"
)

// Format is a plan output format.
type Format string

// Supported plan formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat maps a flag value to a Format. Empty selects YAML.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", "yml":
		return FormatYAML, nil
	case FormatYAML, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported plan format %q", s)
	}
}

// Plan describes what a run would produce without touching the work tree.
type Plan struct {
	Protocol string      `yaml:"protocol" json:"protocol"`
	Entries  []PlanEntry `yaml:"entries" json:"entries"`
	Missing  []string    `yaml:"missing,omitempty" json:"missing,omitempty"`
}

// PlanEntry is one entry of a Plan.
type PlanEntry struct {
	Collection string `yaml:"collection" json:"collection"`
	Name       string `yaml:"name" json:"name"`
	Kind       string `yaml:"kind" json:"kind"`
	Path       string `yaml:"path" json:"path"`
}

// NewPlan summarizes a resolution set.
func NewPlan(set *resolve.Set) Plan {
	var p Plan
	if protocol, ok := set.Protocol(); ok {
		p.Protocol = protocol.Name
	}
	for _, e := range set.Entries() {
		p.Entries = append(p.Entries, PlanEntry{
			Collection: e.Collection,
			Name:       e.Name,
			Kind:       string(e.Kind),
			Path:       e.Path(),
		})
	}
	for _, m := range set.Misses() {
		p.Missing = append(p.Missing, m.Collection+"."+m.Document)
	}
	return p
}

// PlanRenderer writes one Plan document per set to an io.Writer.
type PlanRenderer struct {
	out    io.Writer
	format Format
}

// NewPlanRenderer creates a plan renderer.
func NewPlanRenderer(out io.Writer, format Format) *PlanRenderer {
	if format == "" {
		format = FormatYAML
	}
	return &PlanRenderer{out: out, format: format}
}

// Render implements Renderer.
func (p *PlanRenderer) Render(_ context.Context, set *resolve.Set) error {
	if _, ok := set.Protocol(); !ok {
		return ErrNoProtocol
	}
	plan := NewPlan(set)

	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	case FormatYAML:
		if _, err := io.WriteString(p.out, "---\n"); err != nil {
			return err
		}
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(plan); err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported plan format %q", p.format)
	}
}
