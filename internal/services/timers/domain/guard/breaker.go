package guard

import (
	"sync"
	"time"
)

// BreakerState names one circuit breaker state.
type BreakerState string

const (
	// BreakerClosed admits all traffic.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects all traffic until the cooldown elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen admits exactly one probe at a time.
	BreakerHalfOpen BreakerState = "half_open"
)

// Admission is the outcome of one breaker admission check.
type Admission struct {
	Admitted   bool
	RetryAfter time.Duration
}

// BreakerConfig bounds the conflict-ratio tripwire.
type BreakerConfig struct {
	// ConflictRatio is the conflicts/total threshold that trips the breaker.
	ConflictRatio float64
	// MinimumConflicts is the floor of observed conflicts before the ratio
	// is considered at all.
	MinimumConflicts int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// EvaluationWindow is the rolling window over which attempts and
	// conflicts are aggregated. The source product only configures the
	// cooldown and thresholds; the window is explicit here so tripping
	// never depends on how long the breaker happens to have been closed.
	EvaluationWindow time.Duration
}

// DefaultBreakerConfig mirrors the production thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConflictRatio:    0.6,
		MinimumConflicts: 3,
		Cooldown:         120 * time.Second,
		EvaluationWindow: 60 * time.Second,
	}
}

// outcomeBucket aggregates outcomes for one wall-clock second.
type outcomeBucket struct {
	second    int64
	total     int
	conflicts int
}

// breakerEntry is the per-map breaker state. Mutated only under its own
// mutex.
type breakerEntry struct {
	mu            sync.Mutex
	state         BreakerState
	openedAt      time.Time
	probeInFlight bool
	buckets       []outcomeBucket
}

// CircuitBreaker guards the acknowledgement/update path per map.
//
// The breaker is outcome-agnostic: callers define what a conflict is (a
// stale-fingerprint rejection, two acknowledgements colliding in the same
// tick) and report it through RecordOutcome.
type CircuitBreaker struct {
	cfg   BreakerConfig
	clock func() time.Time

	mu      sync.Mutex
	entries map[string]*breakerEntry
}

// NewCircuitBreaker constructs a breaker with the provided configuration.
func NewCircuitBreaker(cfg BreakerConfig, clock func() time.Time) *CircuitBreaker {
	if clock == nil {
		clock = time.Now
	}
	return &CircuitBreaker{
		cfg:     cfg,
		clock:   clock,
		entries: make(map[string]*breakerEntry),
	}
}

// Admit decides whether one write against a map may proceed.
//
// While open it rejects immediately; after the cooldown it transitions to
// half-open and admits exactly one probe, deferring further admissions
// until that probe's outcome is recorded.
func (b *CircuitBreaker) Admit(mapID string) Admission {
	entry := b.entry(mapID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := b.clock()
	switch entry.state {
	case BreakerOpen:
		reopenAt := entry.openedAt.Add(b.cfg.Cooldown)
		if now.Before(reopenAt) {
			return Admission{RetryAfter: reopenAt.Sub(now)}
		}
		entry.state = BreakerHalfOpen
		entry.probeInFlight = true
		return Admission{Admitted: true}
	case BreakerHalfOpen:
		if entry.probeInFlight {
			return Admission{RetryAfter: time.Second}
		}
		entry.probeInFlight = true
		return Admission{Admitted: true}
	default:
		return Admission{Admitted: true}
	}
}

// RecordOutcome reports whether an admitted write conflicted.
func (b *CircuitBreaker) RecordOutcome(mapID string, wasConflict bool) {
	entry := b.entry(mapID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := b.clock()
	switch entry.state {
	case BreakerHalfOpen:
		entry.probeInFlight = false
		entry.buckets = nil
		if wasConflict {
			entry.state = BreakerOpen
			entry.openedAt = now
			return
		}
		entry.state = BreakerClosed
	case BreakerClosed:
		entry.record(now, wasConflict)
		entry.prune(now, b.cfg.EvaluationWindow)
		total, conflicts := entry.totals()
		if conflicts < b.cfg.MinimumConflicts || total == 0 {
			return
		}
		if float64(conflicts)/float64(total) >= b.cfg.ConflictRatio {
			entry.state = BreakerOpen
			entry.openedAt = now
			entry.buckets = nil
		}
	default:
		// Outcomes recorded after the trip are dropped; the admission that
		// produced them predates the open state.
	}
}

// State reports the current breaker state for a map.
func (b *CircuitBreaker) State(mapID string) BreakerState {
	entry := b.entry(mapID)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state == "" {
		return BreakerClosed
	}
	return entry.state
}

func (b *CircuitBreaker) entry(mapID string) *breakerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[mapID]
	if !ok {
		entry = &breakerEntry{state: BreakerClosed}
		b.entries[mapID] = entry
	}
	return entry
}

func (e *breakerEntry) record(now time.Time, wasConflict bool) {
	second := now.Unix()
	if n := len(e.buckets); n > 0 && e.buckets[n-1].second == second {
		e.buckets[n-1].total++
		if wasConflict {
			e.buckets[n-1].conflicts++
		}
		return
	}
	bucket := outcomeBucket{second: second, total: 1}
	if wasConflict {
		bucket.conflicts = 1
	}
	e.buckets = append(e.buckets, bucket)
}

func (e *breakerEntry) prune(now time.Time, window time.Duration) {
	if window <= 0 {
		return
	}
	cutoff := now.Add(-window).Unix()
	firstLive := 0
	for firstLive < len(e.buckets) && e.buckets[firstLive].second < cutoff {
		firstLive++
	}
	if firstLive > 0 {
		e.buckets = append(e.buckets[:0], e.buckets[firstLive:]...)
	}
}

func (e *breakerEntry) totals() (total, conflicts int) {
	for _, bucket := range e.buckets {
		total += bucket.total
		conflicts += bucket.conflicts
	}
	return total, conflicts
}
