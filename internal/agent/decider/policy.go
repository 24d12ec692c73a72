package decider

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/mamori/internal/model"
)

// Policy overrides the built-in approval policy. Thresholds replace the
// per-type defaults; AlwaysApprove extends the built-in deny-list.
//
//	thresholds:
//	  auto_reply: 0.9
//	always_approve:
//	  - escalate_engineering
type Policy struct {
	Thresholds    map[model.ActionType]float64 `yaml:"thresholds"`
	AlwaysApprove []model.ActionType           `yaml:"always_approve"`
}

// LoadPolicy reads a YAML policy file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return Policy{}, fmt.Errorf("decider: read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("decider: parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects unknown action types and thresholds outside [0, 1].
func (p Policy) Validate() error {
	for t, v := range p.Thresholds {
		if !t.Valid() {
			return fmt.Errorf("decider: policy threshold for unknown action type %q", t)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("decider: policy threshold for %s must be in [0, 1], got %v", t, v)
		}
	}
	for _, t := range p.AlwaysApprove {
		if !t.Valid() {
			return fmt.Errorf("decider: policy always_approve lists unknown action type %q", t)
		}
	}
	return nil
}

// resolved is the effective policy after merging overrides onto defaults.
type resolved struct {
	thresholds    map[model.ActionType]float64
	alwaysApprove []model.ActionType
}

func (p Policy) resolve() resolved {
	r := resolved{
		thresholds:    maps.Clone(defaultThresholds),
		alwaysApprove: slices.Clone(defaultAlwaysApprove),
	}
	for t, v := range p.Thresholds {
		r.thresholds[t] = v
	}
	for _, t := range p.AlwaysApprove {
		if !slices.Contains(r.alwaysApprove, t) {
			r.alwaysApprove = append(r.alwaysApprove, t)
		}
	}
	return r
}

func (r resolved) threshold(t model.ActionType) float64 {
	if v, ok := r.thresholds[t]; ok {
		return v
	}
	return DefaultThreshold
}
