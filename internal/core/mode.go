package core

import "fmt"

// Mode names an operating policy for a workflow. The mode selects tier
// constraints, parallelism policy, and the retry budget for failed
// gates. Unrecognized modes are tolerated: policy lookups fall back to
// the most conservative tier and forbid nothing.
type Mode string

const (
	// ModeThorough prefers the heavy tier and allows everything.
	ModeThorough Mode = "thorough"

	// ModeBalanced prefers the medium tier and allows everything.
	ModeBalanced Mode = "balanced"

	// ModeEconomy prefers the light tier and forbids the heavy tier.
	ModeEconomy Mode = "economy"
)

// DefaultMode is used when a workflow declares no mode.
const DefaultMode = ModeBalanced

// ValidMode checks if a mode string names a built-in mode. Unknown
// modes are still usable; this only distinguishes the built-ins.
func ValidMode(m Mode) bool {
	switch m {
	case ModeThorough, ModeBalanced, ModeEconomy:
		return true
	default:
		return false
	}
}

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// Tier is a cost/capability class assigned to a task. It is policy,
// not identity: modes constrain which tiers tasks may use.
type Tier string

const (
	TierLight  Tier = "light"
	TierMedium Tier = "medium"
	TierHeavy  Tier = "heavy"
)

// ValidTier checks if a tier string is known.
func ValidTier(t Tier) bool {
	switch t {
	case TierLight, TierMedium, TierHeavy:
		return true
	default:
		return false
	}
}

// ParseTier converts a string to a Tier with validation.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !ValidTier(t) {
		return "", fmt.Errorf("invalid tier: %s", s)
	}
	return t, nil
}

// String returns the string representation of the tier.
func (t Tier) String() string {
	return string(t)
}
