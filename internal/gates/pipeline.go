package gates

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	"github.com/zb-ss/opencode-workflows-sub001/internal/fsutil"
)

// RulesFile is the on-disk pipelines.yaml structure. Every section is
// optional; anything present overrides or extends the built-in tables.
type RulesFile struct {
	Version       int                   `yaml:"version"`
	Pipelines     map[string][]string   `yaml:"pipelines"`
	Agents        map[string]string     `yaml:"agents"`
	Tiers         map[string]TierPolicy `yaml:"tiers"`
	MaxIterations map[string]int        `yaml:"max_iterations"`
}

// LoadRules reads a pipelines.yaml file and merges it over the
// built-in defaults. A missing file is not an error: callers get the
// defaults back.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return nil, fmt.Errorf("read pipelines file: %w", err)
	}

	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pipelines file: %w", err)
	}
	if err := mergeRules(rules, &file); err != nil {
		return nil, err
	}
	return rules, nil
}

func mergeRules(rules *Rules, file *RulesFile) error {
	for wt, order := range file.Pipelines {
		if len(order) == 0 {
			return fmt.Errorf("pipeline %q declares no gates", wt)
		}
		gatesOrder := make([]core.GateName, 0, len(order))
		seen := make(map[core.GateName]bool, len(order))
		for _, g := range order {
			name := core.GateName(g)
			if seen[name] {
				return fmt.Errorf("pipeline %q repeats gate %q", wt, g)
			}
			seen[name] = true
			gatesOrder = append(gatesOrder, name)
		}
		rules.Pipelines[core.WorkflowType(wt)] = gatesOrder
	}

	for agent, gate := range file.Agents {
		rules.AgentGates[agent] = core.GateName(gate)
	}

	for mode, policy := range file.Tiers {
		if policy.Preferred != "" && !core.ValidTier(policy.Preferred) {
			return fmt.Errorf("mode %q prefers unknown tier %q", mode, policy.Preferred)
		}
		for _, f := range policy.Forbidden {
			if !core.ValidTier(f) {
				return fmt.Errorf("mode %q forbids unknown tier %q", mode, f)
			}
		}
		rules.TierPolicies[core.Mode(mode)] = policy
	}

	for mode, max := range file.MaxIterations {
		if max < 1 {
			return fmt.Errorf("mode %q max_iterations must be positive, got %d", mode, max)
		}
		rules.MaxIterations[core.Mode(mode)] = max
	}
	return nil
}
