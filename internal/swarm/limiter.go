package swarm

// DefaultConcurrency is the per-provider session cap used when no
// explicit limit is configured.
const DefaultConcurrency = 4

// LimiterConfig controls per-provider concurrency limits.
type LimiterConfig struct {
	// Default is the cap applied to providers without an override (default: 4).
	Default int

	// Providers maps provider names to explicit caps.
	Providers map[string]int
}

// DefaultLimiterConfig returns the default limiter configuration.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{Default: DefaultConcurrency}
}

// Limiter tracks in-flight session counts per provider and answers
// whether another session may start. It never blocks and is not safe
// for concurrent use: the scheduler owns it and performs every
// check-then-acquire sequence from its own goroutine.
type Limiter struct {
	config LimiterConfig
	active map[string]int
}

// NewLimiter creates a limiter. A non-positive default falls back to
// DefaultConcurrency.
func NewLimiter(config LimiterConfig) *Limiter {
	if config.Default <= 0 {
		config.Default = DefaultConcurrency
	}
	return &Limiter{
		config: config,
		active: make(map[string]int),
	}
}

// Limit returns the cap for a provider: the configured override when
// present and positive, otherwise the global default.
func (l *Limiter) Limit(provider string) int {
	if n, ok := l.config.Providers[provider]; ok && n > 0 {
		return n
	}
	return l.config.Default
}

// Active returns the number of in-flight sessions for a provider.
func (l *Limiter) Active(provider string) int {
	return l.active[provider]
}

// CanAcquire reports whether a provider has a free slot.
func (l *Limiter) CanAcquire(provider string) bool {
	return l.active[provider] < l.Limit(provider)
}

// Acquire reserves a slot without re-checking the limit. Callers gate
// on CanAcquire first; the limiter itself never refuses.
func (l *Limiter) Acquire(provider string) {
	l.active[provider]++
}

// Release frees a slot. The count never goes below zero.
func (l *Limiter) Release(provider string) {
	if l.active[provider] > 0 {
		l.active[provider]--
	}
}

// InFlight returns the total number of in-flight sessions across all
// providers.
func (l *Limiter) InFlight() int {
	total := 0
	for _, n := range l.active {
		total += n
	}
	return total
}

// Snapshot returns a copy of the per-provider in-flight counts for
// status reporting.
func (l *Limiter) Snapshot() map[string]int {
	out := make(map[string]int, len(l.active))
	for provider, n := range l.active {
		if n > 0 {
			out[provider] = n
		}
	}
	return out
}
