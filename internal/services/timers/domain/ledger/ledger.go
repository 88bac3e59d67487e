// Package ledger applies condition acknowledgements against summary
// freshness fingerprints.
//
// Acknowledgements are scoped to one summary snapshot: when a summary
// regenerates the fingerprint advances and prior acknowledgement sets are
// superseded, never merged forward.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/platform/errors"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/broadcast"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/event"
)

type pairKey struct {
	tokenID      string
	conditionKey string
}

// record tracks acknowledgements for one (token, condition) pair at its
// current fingerprint. Mutated only under its own mutex so unrelated pairs
// never serialize on each other; per-pair exclusivity is what makes
// last-fingerprint-wins well-defined.
type record struct {
	mu          sync.Mutex
	groupID     string
	generatedAt time.Time
	actors      map[string]struct{}
}

// AcknowledgeInput describes one acknowledgement request. GroupID, when
// set, must match the group that produced the current fingerprint.
type AcknowledgeInput struct {
	GroupID            string
	TokenID            string
	ConditionKey       string
	SummaryGeneratedAt time.Time
	ActorID            string
}

// Ledger is the idempotent acknowledgement store.
type Ledger struct {
	publisher broadcast.Publisher

	mu      sync.Mutex
	records map[pairKey]*record
}

// NewLedger constructs a ledger publishing applied acknowledgements to the
// given publisher. A nil publisher disables broadcasting.
func NewLedger(publisher broadcast.Publisher) *Ledger {
	return &Ledger{
		publisher: publisher,
		records:   make(map[pairKey]*record),
	}
}

// Acknowledge adds an actor to the acknowledging set for one condition at
// one summary fingerprint.
//
// Re-acknowledging by the same actor is a no-op returning the same count.
// A fingerprint that does not match the current one returns a stale error
// and never mutates the set; the caller reports it to the circuit breaker
// as a conflict.
func (l *Ledger) Acknowledge(ctx context.Context, input AcknowledgeInput) (int, error) {
	tokenID := strings.TrimSpace(input.TokenID)
	if tokenID == "" {
		return 0, apperrors.New(apperrors.CodeAckTokenEmpty, "token id is required")
	}
	conditionKey := strings.TrimSpace(input.ConditionKey)
	if conditionKey == "" {
		return 0, apperrors.New(apperrors.CodeAckConditionEmpty, "condition key is required")
	}
	actorID := strings.TrimSpace(input.ActorID)
	if actorID == "" {
		return 0, apperrors.New(apperrors.CodeAckActorEmpty, "actor id is required")
	}

	rec, ok := l.lookup(tokenID, conditionKey)
	if !ok {
		return 0, staleError(tokenID, conditionKey)
	}

	rec.mu.Lock()
	if groupID := strings.TrimSpace(input.GroupID); groupID != "" && groupID != rec.groupID {
		rec.mu.Unlock()
		return 0, staleError(tokenID, conditionKey)
	}
	if !rec.generatedAt.Equal(input.SummaryGeneratedAt) {
		rec.mu.Unlock()
		return 0, staleError(tokenID, conditionKey)
	}
	if _, acknowledged := rec.actors[actorID]; !acknowledged {
		rec.actors[actorID] = struct{}{}
	}
	count := len(rec.actors)
	groupID := rec.groupID
	generatedAt := rec.generatedAt
	rec.mu.Unlock()

	if l.publisher != nil {
		l.publisher.Publish(ctx, event.GroupChannel(groupID), event.TypeAcknowledgementRecorded, event.AcknowledgementRecordedPayload{
			TokenID:            tokenID,
			ConditionKey:       conditionKey,
			SummaryGeneratedAt: generatedAt,
			AcknowledgedCount:  count,
			ActorID:            actorID,
		})
	}
	return count, nil
}

// AdvanceFingerprint moves one (token, condition) pair to a new summary
// fingerprint. The prior acknowledging set becomes unreachable; there is
// deliberately no carry-over between snapshots.
func (l *Ledger) AdvanceFingerprint(groupID, tokenID, conditionKey string, generatedAt time.Time) {
	rec := l.ensure(tokenID, conditionKey)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.generatedAt.Equal(generatedAt) && rec.actors != nil {
		return
	}
	rec.groupID = groupID
	rec.generatedAt = generatedAt
	rec.actors = make(map[string]struct{})
}

// DropGroup removes every record belonging to the group. Pairs absent from
// the group's next snapshot stop accepting acknowledgements at any
// fingerprint.
func (l *Ledger) DropGroup(groupID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, rec := range l.records {
		rec.mu.Lock()
		match := rec.groupID == groupID
		rec.mu.Unlock()
		if match {
			delete(l.records, key)
		}
	}
}

// AcknowledgedCount reports the current set size for a pair at a
// fingerprint; stale fingerprints report zero.
func (l *Ledger) AcknowledgedCount(tokenID, conditionKey string, generatedAt time.Time) int {
	rec, ok := l.lookup(tokenID, conditionKey)
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.generatedAt.Equal(generatedAt) {
		return 0
	}
	return len(rec.actors)
}

func (l *Ledger) lookup(tokenID, conditionKey string) (*record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[pairKey{tokenID: tokenID, conditionKey: conditionKey}]
	return rec, ok
}

func (l *Ledger) ensure(tokenID, conditionKey string) *record {
	key := pairKey{tokenID: tokenID, conditionKey: conditionKey}

	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		rec = &record{}
		l.records[key] = rec
	}
	return rec
}

func staleError(tokenID, conditionKey string) error {
	return apperrors.WithMetadata(
		apperrors.CodeAckSummaryStale,
		"summary fingerprint is stale, refresh and retry",
		map[string]string{
			"token_id":      tokenID,
			"condition_key": conditionKey,
		},
	)
}
