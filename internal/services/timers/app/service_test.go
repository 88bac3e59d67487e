package app

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/platform/errors"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/event"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/guard"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/share"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/summary"
)

type memoryShareStore struct {
	mu    sync.Mutex
	links map[string]share.ShareLink
}

func newMemoryShareStore() *memoryShareStore {
	return &memoryShareStore{links: make(map[string]share.ShareLink)}
}

func (s *memoryShareStore) PutShare(_ context.Context, link share.ShareLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.Token] = link
	return nil
}

func (s *memoryShareStore) GetShare(_ context.Context, token string) (share.ShareLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[token]
	if !ok {
		return share.ShareLink{}, share.ErrNotFound
	}
	return link, nil
}

func (s *memoryShareStore) UpdateShareExpiry(_ context.Context, token string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[token]
	if !ok {
		return share.ErrNotFound
	}
	link.ExpiresAt = expiresAt
	s.links[token] = link
	return nil
}

func (s *memoryShareStore) IncrementShareAccess(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[token]
	if !ok {
		return share.ErrNotFound
	}
	link.AccessCount++
	s.links[token] = link
	return nil
}

func (s *memoryShareStore) DeleteShare(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[token]; !ok {
		return share.ErrNotFound
	}
	delete(s.links, token)
	return nil
}

func (s *memoryShareStore) ListSharesByGroup(_ context.Context, groupID string) ([]share.ShareLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var links []share.ShareLink
	for _, link := range s.links {
		if link.GroupID == groupID {
			links = append(links, link)
		}
	}
	return links, nil
}

type publishedEvent struct {
	channel   string
	eventType event.Type
	payload   any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, eventType event.Type, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{channel: channel, eventType: eventType, payload: payload})
}

func (p *recordingPublisher) byType(eventType event.Type) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []publishedEvent
	for _, evt := range p.events {
		if evt.eventType == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func memberConsent(userID string, optedIn, sensitive bool) share.MemberConsent {
	return share.MemberConsent{UserID: userID, OptedIn: optedIn, HasSensitiveConditions: sensitive}
}

func testSnapshot(generatedAt time.Time) summary.Summary {
	return summary.Summary{
		GroupID:     "group-1",
		GeneratedAt: generatedAt,
		Entries: []summary.Entry{
			{TokenID: "token-1", ConditionKey: "poisoned", Label: "Poisoned", Category: "affliction", RoundsRemaining: 3},
		},
	}
}

func acknowledgeRequestAt(generatedAt time.Time, actorID string) AcknowledgeRequest {
	return AcknowledgeRequest{
		GroupID:            "group-1",
		MapID:              "map-1",
		TokenID:            "token-1",
		ConditionKey:       "poisoned",
		SummaryGeneratedAt: generatedAt,
		ActorID:            actorID,
	}
}

func TestAcknowledgeAppliesIdempotently(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	service := NewService(newMemoryShareStore(), NewConsentDirectory(), nil, ServiceOptions{Clock: clock.Now})

	snapshot, err := service.RegenerateSummary(context.Background(), testSnapshot(time.Time{}))
	if err != nil {
		t.Fatalf("regenerate summary: %v", err)
	}

	result, err := service.Acknowledge(context.Background(), acknowledgeRequestAt(snapshot.GeneratedAt, "actor-1"))
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if result.Status != WriteApplied || result.AcknowledgedCount != 1 {
		t.Fatalf("result = %+v, want applied count 1", result)
	}

	result, err = service.Acknowledge(context.Background(), acknowledgeRequestAt(snapshot.GeneratedAt, "actor-1"))
	if err != nil {
		t.Fatalf("repeat acknowledge: %v", err)
	}
	if result.Status != WriteApplied || result.AcknowledgedCount != 1 {
		t.Fatalf("repeat result = %+v, want applied count 1", result)
	}

	result, err = service.Acknowledge(context.Background(), acknowledgeRequestAt(snapshot.GeneratedAt, "actor-2"))
	if err != nil {
		t.Fatalf("second actor acknowledge: %v", err)
	}
	if result.AcknowledgedCount != 2 {
		t.Fatalf("count = %d, want 2", result.AcknowledgedCount)
	}

	current, err := service.CurrentSummary(context.Background(), "group-1")
	if err != nil {
		t.Fatalf("current summary: %v", err)
	}
	if len(current.Entries) != 1 || current.Entries[0].AcknowledgedCount != 2 {
		t.Fatalf("summary entries = %+v, want acknowledged count 2", current.Entries)
	}
}

func TestAcknowledgeStaleAfterRegeneration(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	service := NewService(newMemoryShareStore(), NewConsentDirectory(), nil, ServiceOptions{Clock: clock.Now})

	first, err := service.RegenerateSummary(context.Background(), testSnapshot(time.Time{}))
	if err != nil {
		t.Fatalf("regenerate summary: %v", err)
	}
	clock.Advance(time.Minute)
	second, err := service.RegenerateSummary(context.Background(), testSnapshot(time.Time{}))
	if err != nil {
		t.Fatalf("second regenerate: %v", err)
	}

	result, err := service.Acknowledge(context.Background(), acknowledgeRequestAt(first.GeneratedAt, "actor-1"))
	if err != nil {
		t.Fatalf("stale acknowledge: %v", err)
	}
	if result.Status != WriteStale {
		t.Fatalf("status = %q, want stale", result.Status)
	}

	result, err = service.Acknowledge(context.Background(), acknowledgeRequestAt(second.GeneratedAt, "actor-1"))
	if err != nil {
		t.Fatalf("fresh acknowledge: %v", err)
	}
	if result.Status != WriteApplied || result.AcknowledgedCount != 1 {
		t.Fatalf("fresh result = %+v, want applied count 1", result)
	}
}

func TestBreakerShedsAfterRepeatedStaleWrites(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	breakerConfig := guard.DefaultBreakerConfig()
	service := NewService(newMemoryShareStore(), NewConsentDirectory(), nil, ServiceOptions{
		Clock:   clock.Now,
		Breaker: &breakerConfig,
	})

	stale, err := service.RegenerateSummary(context.Background(), testSnapshot(time.Time{}))
	if err != nil {
		t.Fatalf("regenerate summary: %v", err)
	}
	clock.Advance(time.Minute)
	fresh, err := service.RegenerateSummary(context.Background(), testSnapshot(time.Time{}))
	if err != nil {
		t.Fatalf("second regenerate: %v", err)
	}

	for i := 0; i < 3; i++ {
		result, ackErr := service.Acknowledge(context.Background(), acknowledgeRequestAt(stale.GeneratedAt, "actor-1"))
		if ackErr != nil {
			t.Fatalf("stale acknowledge %d: %v", i+1, ackErr)
		}
		if result.Status != WriteStale {
			t.Fatalf("status %d = %q, want stale", i+1, result.Status)
		}
	}
	if state := service.BreakerState("map-1"); state != guard.BreakerOpen {
		t.Fatalf("breaker state = %q, want open", state)
	}

	result, err := service.Acknowledge(context.Background(), acknowledgeRequestAt(fresh.GeneratedAt, "actor-1"))
	if err != nil {
		t.Fatalf("shed acknowledge: %v", err)
	}
	if result.Status != WriteRejected || result.RetryAfter <= 0 {
		t.Fatalf("result = %+v, want rejected with retry hint", result)
	}

	// Cooldown elapses; the half-open probe succeeds and closes the breaker.
	clock.Advance(breakerConfig.Cooldown)
	result, err = service.Acknowledge(context.Background(), acknowledgeRequestAt(fresh.GeneratedAt, "actor-1"))
	if err != nil {
		t.Fatalf("probe acknowledge: %v", err)
	}
	if result.Status != WriteApplied {
		t.Fatalf("probe status = %q, want applied", result.Status)
	}
	if state := service.BreakerState("map-1"); state != guard.BreakerClosed {
		t.Fatalf("breaker state = %q, want closed", state)
	}
}

func TestAcknowledgeLockedOutByTokenScope(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	rateLimits := guard.RateLimitConfig{
		Map:   guard.LimitConfig{MaxAttempts: 10, Decay: time.Minute, LockoutDecay: 300 * time.Second},
		Token: guard.LimitConfig{MaxAttempts: 2, Decay: time.Minute, LockoutDecay: 300 * time.Second},
	}
	service := NewService(newMemoryShareStore(), NewConsentDirectory(), nil, ServiceOptions{
		Clock:      clock.Now,
		RateLimits: &rateLimits,
	})

	snapshot, err := service.RegenerateSummary(context.Background(), testSnapshot(time.Time{}))
	if err != nil {
		t.Fatalf("regenerate summary: %v", err)
	}

	for i, actor := range []string{"actor-1", "actor-2"} {
		result, ackErr := service.Acknowledge(context.Background(), acknowledgeRequestAt(snapshot.GeneratedAt, actor))
		if ackErr != nil {
			t.Fatalf("acknowledge %d: %v", i+1, ackErr)
		}
		if result.Status != WriteApplied {
			t.Fatalf("status %d = %q, want applied", i+1, result.Status)
		}
	}

	result, err := service.Acknowledge(context.Background(), acknowledgeRequestAt(snapshot.GeneratedAt, "actor-3"))
	if err != nil {
		t.Fatalf("limited acknowledge: %v", err)
	}
	if result.Status != WriteLockedOut {
		t.Fatalf("status = %q, want locked_out", result.Status)
	}
	if result.RetryAfter != 300*time.Second {
		t.Fatalf("retry after = %v, want 300s", result.RetryAfter)
	}

	// Lockout outlives the counting window.
	clock.Advance(2 * time.Minute)
	result, err = service.Acknowledge(context.Background(), acknowledgeRequestAt(snapshot.GeneratedAt, "actor-3"))
	if err != nil {
		t.Fatalf("locked acknowledge: %v", err)
	}
	if result.Status != WriteLockedOut {
		t.Fatalf("status after window = %q, want locked_out", result.Status)
	}
}

func TestRegenerateSummaryPublishesAndSupersedes(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	publisher := &recordingPublisher{}
	service := NewService(newMemoryShareStore(), NewConsentDirectory(), publisher, ServiceOptions{Clock: clock.Now})

	first, err := service.RegenerateSummary(context.Background(), testSnapshot(time.Time{}))
	if err != nil {
		t.Fatalf("regenerate summary: %v", err)
	}
	if _, err = service.Acknowledge(context.Background(), acknowledgeRequestAt(first.GeneratedAt, "actor-1")); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	clock.Advance(time.Minute)
	next := testSnapshot(time.Time{})
	next.Entries[0].AcknowledgedCount = 5
	second, err := service.RegenerateSummary(context.Background(), next)
	if err != nil {
		t.Fatalf("second regenerate: %v", err)
	}
	if second.GeneratedAt.Equal(first.GeneratedAt) {
		t.Fatal("expected fingerprint to advance")
	}
	if second.Entries[0].AcknowledgedCount != 0 {
		t.Fatalf("acknowledged count = %d, want reset to 0", second.Entries[0].AcknowledgedCount)
	}

	updates := publisher.byType(event.TypeSummaryUpdated)
	if len(updates) != 2 {
		t.Fatalf("summary updates = %d, want 2", len(updates))
	}
	if updates[1].channel != event.GroupChannel("group-1") {
		t.Fatalf("channel = %q, want group channel", updates[1].channel)
	}
	payload, ok := updates[1].payload.(event.SummaryUpdatedPayload)
	if !ok {
		t.Fatalf("payload type = %T, want SummaryUpdatedPayload", updates[1].payload)
	}
	if !payload.Summary.GeneratedAt.Equal(second.GeneratedAt) {
		t.Fatalf("published fingerprint = %v, want %v", payload.Summary.GeneratedAt, second.GeneratedAt)
	}

	result, err := service.Acknowledge(context.Background(), acknowledgeRequestAt(first.GeneratedAt, "actor-2"))
	if err != nil {
		t.Fatalf("superseded acknowledge: %v", err)
	}
	if result.Status != WriteStale {
		t.Fatalf("status = %q, want stale", result.Status)
	}
}

func TestRegenerateSummaryDropsRemovedEntries(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	service := NewService(newMemoryShareStore(), NewConsentDirectory(), nil, ServiceOptions{Clock: clock.Now})

	initial := testSnapshot(time.Time{})
	initial.Entries = append(initial.Entries, summary.Entry{
		TokenID: "token-2", ConditionKey: "burning", Label: "Burning", Category: "affliction", RoundsRemaining: 1,
	})
	first, err := service.RegenerateSummary(context.Background(), initial)
	if err != nil {
		t.Fatalf("regenerate summary: %v", err)
	}

	burning := acknowledgeRequestAt(first.GeneratedAt, "actor-1")
	burning.MapID = "map-2"
	burning.TokenID = "token-2"
	burning.ConditionKey = "burning"
	result, err := service.Acknowledge(context.Background(), burning)
	if err != nil {
		t.Fatalf("acknowledge burning: %v", err)
	}
	if result.Status != WriteApplied {
		t.Fatalf("status = %q, want applied", result.Status)
	}

	// The timer expires; the rebuilt snapshot no longer carries the pair.
	clock.Advance(time.Minute)
	second, err := service.RegenerateSummary(context.Background(), testSnapshot(time.Time{}))
	if err != nil {
		t.Fatalf("second regenerate: %v", err)
	}

	for _, generatedAt := range []time.Time{first.GeneratedAt, second.GeneratedAt} {
		request := acknowledgeRequestAt(generatedAt, "actor-2")
		request.MapID = "map-2"
		request.TokenID = "token-2"
		request.ConditionKey = "burning"
		result, err = service.Acknowledge(context.Background(), request)
		if err != nil {
			t.Fatalf("acknowledge removed pair at %v: %v", generatedAt, err)
		}
		if result.Status != WriteStale {
			t.Fatalf("removed pair status at %v = %q, want stale", generatedAt, result.Status)
		}
	}

	result, err = service.Acknowledge(context.Background(), acknowledgeRequestAt(second.GeneratedAt, "actor-1"))
	if err != nil {
		t.Fatalf("acknowledge surviving pair: %v", err)
	}
	if result.Status != WriteApplied || result.AcknowledgedCount != 1 {
		t.Fatalf("surviving pair result = %+v, want applied count 1", result)
	}
}

func TestAcknowledgeValidation(t *testing.T) {
	t.Parallel()

	service := NewService(newMemoryShareStore(), NewConsentDirectory(), nil, ServiceOptions{})

	_, err := service.Acknowledge(context.Background(), AcknowledgeRequest{TokenID: "token-1"})
	if !apperrors.IsCode(err, apperrors.CodeAckMapEmpty) {
		t.Fatalf("expected map validation error, got %v", err)
	}

	_, err = service.Acknowledge(context.Background(), AcknowledgeRequest{MapID: "map-1"})
	if !apperrors.IsCode(err, apperrors.CodeAckTokenEmpty) {
		t.Fatalf("expected token validation error, got %v", err)
	}
}
