// Package gates implements the workflow gate state machine: canonical
// pipeline orderings, completion checks, tier policy, and the gate
// transitions applied inside state-store update transforms. Everything
// here is pure logic over a workflow record; persistence stays in the
// state adapter.
package gates

import (
	"sort"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

// TierPolicy is one mode's tier constraint set.
type TierPolicy struct {
	Preferred core.Tier   `yaml:"preferred"`
	Forbidden []core.Tier `yaml:"forbidden"`
}

// Rules bundles the policy tables the machine consults: canonical gate
// orderings per workflow type, the agent→gate lookup, per-mode tier
// constraints, and per-mode retry budgets. Rules are plain data; they
// are injected rather than read from ambient process state so
// independent instances can coexist in tests.
type Rules struct {
	Pipelines     map[core.WorkflowType][]core.GateName
	AgentGates    map[string]core.GateName
	TierPolicies  map[core.Mode]TierPolicy
	MaxIterations map[core.Mode]int
}

// DefaultMaxIterations is the retry budget for modes without an
// explicit entry.
const DefaultMaxIterations = 3

// DefaultRules returns the built-in policy tables.
func DefaultRules() *Rules {
	return &Rules{
		Pipelines: map[core.WorkflowType][]core.GateName{
			core.WorkflowTypeBuild: {
				GatePlanning, GateImplementation, GateTesting, GateReview, GateDocs,
			},
			core.WorkflowTypeExplore: {
				GateDiscovery, GateAnalysis, GatePrototype, GateFindings,
			},
		},
		AgentGates: map[string]core.GateName{
			"planner":       GatePlanning,
			"implementer":   GateImplementation,
			"tester":        GateTesting,
			"reviewer":      GateReview,
			"reviewer-lite": GateReview,
			"doc-writer":    GateDocs,
			"explorer":      GateDiscovery,
			"analyst":       GateAnalysis,
			"prototyper":    GatePrototype,
			"synthesizer":   GateFindings,
		},
		TierPolicies: map[core.Mode]TierPolicy{
			core.ModeThorough: {Preferred: core.TierHeavy},
			core.ModeBalanced: {Preferred: core.TierMedium},
			core.ModeEconomy:  {Preferred: core.TierLight, Forbidden: []core.Tier{core.TierHeavy}},
		},
		MaxIterations: map[core.Mode]int{
			core.ModeThorough: 5,
			core.ModeBalanced: 3,
			core.ModeEconomy:  2,
		},
	}
}

// Gate names of the built-in pipelines.
const (
	GatePlanning       core.GateName = "planning"
	GateImplementation core.GateName = "implementation"
	GateTesting        core.GateName = "testing"
	GateReview         core.GateName = "review"
	GateDocs           core.GateName = "docs"

	GateDiscovery core.GateName = "discovery"
	GateAnalysis  core.GateName = "analysis"
	GatePrototype core.GateName = "prototype"
	GateFindings  core.GateName = "findings"
)

// Machine evaluates workflow records against a rule set.
type Machine struct {
	rules *Rules
}

// NewMachine creates a machine over the given rules. Nil rules select
// the built-in defaults.
func NewMachine(rules *Rules) *Machine {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Machine{rules: rules}
}

// Ordering returns the canonical gate sequence for a workflow type.
// Unknown types get the build pipeline.
func (m *Machine) Ordering(wt core.WorkflowType) []core.GateName {
	if order, ok := m.rules.Pipelines[wt]; ok {
		return append([]core.GateName(nil), order...)
	}
	return append([]core.GateName(nil), m.rules.Pipelines[core.WorkflowTypeBuild]...)
}

// AllMandatoryGatesPassed reports workflow completion: every gate is
// passed or skipped. It is a pure function of the gates map and never
// consults phase bookkeeping.
func (m *Machine) AllMandatoryGatesPassed(st *core.WorkflowState) bool {
	if st == nil {
		return false
	}
	for _, gs := range st.Gates {
		if gs == nil || !gs.Status.Satisfied() {
			return false
		}
	}
	return true
}

// PendingGate is one unfinished gate in canonical order.
type PendingGate struct {
	Name      core.GateName   `json:"name"`
	Status    core.GateStatus `json:"status"`
	Iteration int             `json:"iteration"`
}

// PendingGates lists gates whose status is neither passed nor skipped,
// in the canonical order for the workflow's type. Gates tracked in the
// record but absent from the canonical ordering are listed afterwards
// in name order so the result stays deterministic.
func (m *Machine) PendingGates(st *core.WorkflowState) []PendingGate {
	if st == nil {
		return nil
	}
	pending := make([]PendingGate, 0)
	seen := make(map[core.GateName]bool, len(st.Gates))
	for _, name := range m.Ordering(st.WorkflowType) {
		gs, ok := st.Gates[name]
		if !ok {
			continue
		}
		seen[name] = true
		if gs.Status.Satisfied() {
			continue
		}
		pending = append(pending, PendingGate{Name: name, Status: gs.Status, Iteration: gs.Iteration})
	}
	var extra []core.GateName
	for name, gs := range st.Gates {
		if seen[name] || gs.Status.Satisfied() {
			continue
		}
		extra = append(extra, name)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, name := range extra {
		gs := st.Gates[name]
		pending = append(pending, PendingGate{Name: name, Status: gs.Status, Iteration: gs.Iteration})
	}
	return pending
}

// NextPhase returns the head of the remaining gate sequence, or false
// when the workflow has reached its last stage.
func (m *Machine) NextPhase(st *core.WorkflowState) (core.GateName, bool) {
	if st == nil || len(st.Phase.Remaining) == 0 {
		return "", false
	}
	return st.Phase.Remaining[0], true
}

// GateForAgent maps an agent role to the one gate it advances. Several
// roles may serve the same gate; the reverse lookup is therefore not a
// function.
func (m *Machine) GateForAgent(agentType string) (core.GateName, bool) {
	gate, ok := m.rules.AgentGates[agentType]
	return gate, ok
}

// AgentsForGate lists the agent roles that serve a gate, sorted so
// fan-out task assignment stays deterministic.
func (m *Machine) AgentsForGate(gate core.GateName) []string {
	var agents []string
	for agent, g := range m.rules.AgentGates {
		if g == gate {
			agents = append(agents, agent)
		}
	}
	sort.Strings(agents)
	return agents
}

// TierForbidden reports whether a mode forbids a tier. Modes without a
// declared policy forbid nothing: policy fails open so an unknown mode
// cannot block execution.
func (m *Machine) TierForbidden(mode core.Mode, tier core.Tier) bool {
	policy, ok := m.rules.TierPolicies[mode]
	if !ok {
		return false
	}
	for _, f := range policy.Forbidden {
		if f == tier {
			return true
		}
	}
	return false
}

// PreferredTier returns the tier a mode prefers. Modes without a
// declared policy get the most conservative tier.
func (m *Machine) PreferredTier(mode core.Mode) core.Tier {
	policy, ok := m.rules.TierPolicies[mode]
	if !ok || policy.Preferred == "" {
		return core.TierLight
	}
	return policy.Preferred
}

// MaxIterationsFor returns the retry budget for a mode.
func (m *Machine) MaxIterationsFor(mode core.Mode) int {
	if max, ok := m.rules.MaxIterations[mode]; ok && max > 0 {
		return max
	}
	return DefaultMaxIterations
}
