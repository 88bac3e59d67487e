// Package app composes the condition-timer write path, the share link read
// path, and the realtime transport for the timers service.
package app

import (
	"context"
	"log"
	"strings"
	"time"

	apperrors "github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/platform/errors"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/broadcast"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/event"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/guard"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/ledger"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/share"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/summary"
)

// WriteStatus names one coordinated write-path outcome.
type WriteStatus string

const (
	// WriteApplied marks an acknowledgement that reached the ledger.
	WriteApplied WriteStatus = "applied"
	// WriteThrottled marks a write rejected by a rate-limit window.
	WriteThrottled WriteStatus = "throttled"
	// WriteLockedOut marks a write rejected by a rate-limit lockout.
	WriteLockedOut WriteStatus = "locked_out"
	// WriteRejected marks a write shed by the open circuit breaker.
	WriteRejected WriteStatus = "rejected"
	// WriteStale marks an acknowledgement against a superseded summary.
	WriteStale WriteStatus = "stale"
)

// AcknowledgeRequest describes one guarded acknowledgement write.
type AcknowledgeRequest struct {
	GroupID            string
	MapID              string
	TokenID            string
	ConditionKey       string
	SummaryGeneratedAt time.Time
	ActorID            string
}

// AcknowledgeResult is the coordinated outcome of one acknowledgement write.
// Guard rejections and staleness are results, not errors; only validation and
// infrastructure failures surface as errors.
type AcknowledgeResult struct {
	Status            WriteStatus
	AcknowledgedCount int
	RetryAfter        time.Duration
}

// ServiceOptions tunes the coordinator's guards and time source.
type ServiceOptions struct {
	RateLimits *guard.RateLimitConfig
	Breaker    *guard.BreakerConfig
	Clock      func() time.Time
	NewToken   func() (string, error)
}

// Service coordinates the condition-timer modules behind one write path and
// one read path.
//
// Writes pass the rate limiter (map scope, then token scope), then breaker
// admission, then the ledger; the outcome is reported back to the breaker.
// Reads go straight to the share registry and never touch the guards.
type Service struct {
	limiter   *guard.RateLimiter
	breaker   *guard.CircuitBreaker
	ledger    *ledger.Ledger
	registry  *share.Registry
	summaries *SummaryCatalog
	publisher broadcast.Publisher
	clock     func() time.Time
}

// NewService wires the coordinator from its persistence, consent, and
// broadcast boundaries.
func NewService(store share.Store, consent share.ConsentSource, publisher broadcast.Publisher, opts ServiceOptions) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	if publisher == nil {
		publisher = broadcast.NopPublisher{}
	}
	rateLimits := guard.DefaultRateLimitConfig()
	if opts.RateLimits != nil {
		rateLimits = *opts.RateLimits
	}
	breakerConfig := guard.DefaultBreakerConfig()
	if opts.Breaker != nil {
		breakerConfig = *opts.Breaker
	}

	catalog := NewSummaryCatalog()
	acknowledgements := ledger.NewLedger(publisher)
	service := &Service{
		limiter:   guard.NewRateLimiter(rateLimits, clock),
		breaker:   guard.NewCircuitBreaker(breakerConfig, clock),
		ledger:    acknowledgements,
		summaries: catalog,
		publisher: publisher,
		clock:     clock,
	}
	service.registry = share.NewRegistry(store, consent, service, clock, opts.NewToken)
	return service
}

// Registry exposes share link lifecycle operations.
func (s *Service) Registry() *share.Registry {
	return s.registry
}

// Acknowledge runs one acknowledgement through the full guarded write path.
func (s *Service) Acknowledge(ctx context.Context, request AcknowledgeRequest) (AcknowledgeResult, error) {
	mapID := strings.TrimSpace(request.MapID)
	if mapID == "" {
		return AcknowledgeResult{}, apperrors.New(apperrors.CodeAckMapEmpty, "map id is required")
	}
	tokenID := strings.TrimSpace(request.TokenID)
	if tokenID == "" {
		return AcknowledgeResult{}, apperrors.New(apperrors.CodeAckTokenEmpty, "token id is required")
	}

	if decision := s.limiter.Attempt(guard.ScopeMap, mapID); !decision.Allowed() {
		return guardResult(decision), nil
	}
	if decision := s.limiter.Attempt(guard.ScopeToken, tokenID); !decision.Allowed() {
		return guardResult(decision), nil
	}

	admission := s.breaker.Admit(mapID)
	if !admission.Admitted {
		return AcknowledgeResult{Status: WriteRejected, RetryAfter: admission.RetryAfter}, nil
	}

	count, err := s.ledger.Acknowledge(ctx, ledger.AcknowledgeInput{
		GroupID:            request.GroupID,
		TokenID:            tokenID,
		ConditionKey:       request.ConditionKey,
		SummaryGeneratedAt: request.SummaryGeneratedAt,
		ActorID:            request.ActorID,
	})
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeAckSummaryStale) {
			s.breaker.RecordOutcome(mapID, true)
			log.Printf("acknowledgement stale map_id=%s token_id=%s condition_key=%s", mapID, tokenID, request.ConditionKey)
			return AcknowledgeResult{Status: WriteStale}, nil
		}
		// Admitted but aborted before touching the set; release the breaker
		// without counting a conflict.
		s.breaker.RecordOutcome(mapID, false)
		return AcknowledgeResult{}, err
	}

	s.breaker.RecordOutcome(mapID, false)
	return AcknowledgeResult{Status: WriteApplied, AcknowledgedCount: count}, nil
}

// RegenerateSummary installs a new summary snapshot for a group.
//
// The fingerprint advances, every condition's acknowledging set is
// superseded, pairs absent from the new snapshot stop accepting
// acknowledgements, and the snapshot is pushed to the group's private
// channel.
func (s *Service) RegenerateSummary(ctx context.Context, next summary.Summary) (summary.Summary, error) {
	groupID := strings.TrimSpace(next.GroupID)
	if groupID == "" {
		return summary.Summary{}, apperrors.New(apperrors.CodeShareGroupIDEmpty, "group id is required")
	}
	next.GroupID = groupID
	if next.GeneratedAt.IsZero() {
		next.GeneratedAt = s.clock().UTC()
	}

	s.ledger.DropGroup(groupID)
	for i := range next.Entries {
		s.ledger.AdvanceFingerprint(groupID, next.Entries[i].TokenID, next.Entries[i].ConditionKey, next.GeneratedAt)
		next.Entries[i].AcknowledgedCount = 0
	}
	s.summaries.SetSummary(next)

	s.publisher.Publish(ctx, event.GroupChannel(groupID), event.TypeSummaryUpdated, event.SummaryUpdatedPayload{Summary: next})
	return next, nil
}

// CurrentSummary returns the group's latest snapshot with live
// acknowledgement counts.
func (s *Service) CurrentSummary(_ context.Context, groupID string) (summary.Summary, error) {
	current := s.summaries.Current(strings.TrimSpace(groupID))
	for i := range current.Entries {
		entry := current.Entries[i]
		current.Entries[i].AcknowledgedCount = s.ledger.AcknowledgedCount(entry.TokenID, entry.ConditionKey, current.GeneratedAt)
	}
	return current, nil
}

// BreakerState reports the breaker state for one map.
func (s *Service) BreakerState(mapID string) guard.BreakerState {
	return s.breaker.State(strings.TrimSpace(mapID))
}

func guardResult(decision guard.Decision) AcknowledgeResult {
	status := WriteThrottled
	if decision.Verdict == guard.VerdictLockedOut {
		status = WriteLockedOut
	}
	return AcknowledgeResult{Status: status, RetryAfter: decision.RetryAfter}
}
