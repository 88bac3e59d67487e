// Package guard protects the condition-timer write path.
//
// It combines two independent admission checks: a sliding-window rate
// limiter with lockout escalation (per map and per token) and a
// conflict-ratio circuit breaker (per map). Both are pure in-memory state
// machines; decisions are policy results, never errors.
package guard

import (
	"sync"
	"time"
)

// Scope names one rate-limit counting dimension.
type Scope string

const (
	// ScopeMap throttles write traffic against one battle map.
	ScopeMap Scope = "map"
	// ScopeToken throttles write traffic against one condition token.
	ScopeToken Scope = "token"
)

// Verdict is the outcome of one rate-limit attempt.
type Verdict string

const (
	// VerdictAllowed admits the attempt.
	VerdictAllowed Verdict = "allowed"
	// VerdictThrottled rejects the attempt until the window decays.
	VerdictThrottled Verdict = "throttled"
	// VerdictLockedOut rejects the attempt until the lockout elapses.
	VerdictLockedOut Verdict = "locked_out"
)

// Decision carries one rate-limit verdict with a retry hint.
type Decision struct {
	Verdict    Verdict
	RetryAfter time.Duration
}

// Allowed reports whether the attempt was admitted.
func (d Decision) Allowed() bool {
	return d.Verdict == VerdictAllowed
}

// LimitConfig bounds one counting scope.
type LimitConfig struct {
	// MaxAttempts is the number of attempts admitted per decay window.
	MaxAttempts int
	// Decay is the length of the counting window.
	Decay time.Duration
	// LockoutDecay is how long the scope stays locked after the window is
	// exceeded. Zero disables lockout escalation and throttles until the
	// window resets instead.
	LockoutDecay time.Duration
}

// RateLimitConfig holds the per-scope limits.
type RateLimitConfig struct {
	Map   LimitConfig
	Token LimitConfig
}

// DefaultRateLimitConfig mirrors the production write-path limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Map: LimitConfig{
			MaxAttempts:  45,
			Decay:        60 * time.Second,
			LockoutDecay: 300 * time.Second,
		},
		Token: LimitConfig{
			MaxAttempts:  12,
			Decay:        60 * time.Second,
			LockoutDecay: 300 * time.Second,
		},
	}
}

type windowKey struct {
	scope Scope
	id    string
}

// window tracks attempts for one (scope, scopeID) pair. Mutated only under
// its own mutex so unrelated scopes never serialize on each other.
type window struct {
	mu              sync.Mutex
	attemptCount    int
	windowStartedAt time.Time
	lockedUntil     time.Time
}

// RateLimiter applies sliding-window attempt limits keyed by scope identity.
type RateLimiter struct {
	cfg   RateLimitConfig
	clock func() time.Time

	mu      sync.Mutex
	windows map[windowKey]*window
}

// NewRateLimiter constructs a limiter with the provided configuration.
func NewRateLimiter(cfg RateLimitConfig, clock func() time.Time) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		cfg:     cfg,
		clock:   clock,
		windows: make(map[windowKey]*window),
	}
}

// Attempt records one attempt against a scope and decides its admission.
// Every attempt, admitted or not, increments the window's attempt count.
func (l *RateLimiter) Attempt(scope Scope, scopeID string) Decision {
	cfg := l.limitFor(scope)
	w := l.window(scope, scopeID)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.clock()
	if !w.lockedUntil.IsZero() {
		if now.Before(w.lockedUntil) {
			w.attemptCount++
			return Decision{Verdict: VerdictLockedOut, RetryAfter: w.lockedUntil.Sub(now)}
		}
		// Lockout elapsed; the window restarts from zero.
		w.lockedUntil = time.Time{}
		w.attemptCount = 0
		w.windowStartedAt = now
	}

	if w.windowStartedAt.IsZero() || now.Sub(w.windowStartedAt) >= cfg.Decay {
		w.windowStartedAt = now
		w.attemptCount = 0
	}

	w.attemptCount++
	if w.attemptCount > cfg.MaxAttempts {
		if cfg.LockoutDecay > 0 {
			w.lockedUntil = now.Add(cfg.LockoutDecay)
			return Decision{Verdict: VerdictLockedOut, RetryAfter: cfg.LockoutDecay}
		}
		retryAfter := w.windowStartedAt.Add(cfg.Decay).Sub(now)
		return Decision{Verdict: VerdictThrottled, RetryAfter: retryAfter}
	}
	return Decision{Verdict: VerdictAllowed}
}

func (l *RateLimiter) limitFor(scope Scope) LimitConfig {
	if scope == ScopeToken {
		return l.cfg.Token
	}
	return l.cfg.Map
}

func (l *RateLimiter) window(scope Scope, scopeID string) *window {
	key := windowKey{scope: scope, id: scopeID}

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}
