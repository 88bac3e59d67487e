package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/broadcast"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/summary"
)

type handlerFixture struct {
	server  *httptest.Server
	service *Service
	consent *ConsentDirectory
	hub     *broadcast.Hub
	clock   *stepClock
}

func newHandlerFixture(t *testing.T) handlerFixture {
	t.Helper()

	clock := newStepClock()
	hub := broadcast.NewHub()
	consent := NewConsentDirectory()
	service := NewService(newMemoryShareStore(), consent, hub, ServiceOptions{Clock: clock.Now})

	server := httptest.NewServer(newHandler(service, consent, hub))
	t.Cleanup(server.Close)
	return handlerFixture{server: server, service: service, consent: consent, hub: hub, clock: clock}
}

func (f handlerFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return out
}

func TestCreateShareRequiresCompleteConsent(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	f.consent.SetMember("group-1", memberConsent("user-1", true, true))
	f.consent.SetMember("group-1", memberConsent("user-2", false, true))

	resp := f.do(t, http.MethodPost, "/v1/groups/group-1/shares", createShareRequest{
		CreatedBy:  "facilitator-1",
		Visibility: "full",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}

	envelope := decodeBody[errorEnvelope](t, resp)
	if envelope.Error.Code != "SHARE_CONSENT_MISSING" {
		t.Fatalf("error code = %q, want SHARE_CONSENT_MISSING", envelope.Error.Code)
	}
	if len(envelope.Error.MissingConsent) != 2 {
		t.Fatalf("missing consent entries = %d, want 2", len(envelope.Error.MissingConsent))
	}

	listResp := f.do(t, http.MethodGet, "/v1/groups/group-1/shares", nil)
	listed := decodeBody[struct {
		Shares []shareLinkView `json:"shares"`
	}](t, listResp)
	if len(listed.Shares) != 0 {
		t.Fatalf("shares = %d, want none created", len(listed.Shares))
	}
}

func TestShareLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	consentResp := f.do(t, http.MethodPut, "/v1/groups/group-1/consent/user-1", setConsentRequest{
		OptedIn:                true,
		HasSensitiveConditions: true,
	})
	consentResp.Body.Close()
	if consentResp.StatusCode != http.StatusNoContent {
		t.Fatalf("consent status = %d, want 204", consentResp.StatusCode)
	}

	ttl := int64(48 * 3600)
	createResp := f.do(t, http.MethodPost, "/v1/groups/group-1/shares", createShareRequest{
		CreatedBy:     "facilitator-1",
		Visibility:    "full",
		ConsentGrants: []string{"user-1"},
		TTLSeconds:    &ttl,
	})
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", createResp.StatusCode)
	}
	created := decodeBody[shareLinkView](t, createResp)
	if created.Token == "" || created.ExpiresAt == nil {
		t.Fatalf("unexpected created link: %+v", created)
	}
	if len(created.ConsentSnapshot) != 1 || created.ConsentSnapshot[0] != "user-1" {
		t.Fatalf("consent snapshot = %v, want [user-1]", created.ConsentSnapshot)
	}

	resolveResp := f.do(t, http.MethodGet, "/v1/shares/"+created.Token, nil)
	if resolveResp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d, want 200", resolveResp.StatusCode)
	}
	resolved := decodeBody[shareViewResponse](t, resolveResp)
	if resolved.State != "active" {
		t.Fatalf("state = %q, want active", resolved.State)
	}
	if resolved.EffectiveVisibility != "full" {
		t.Fatalf("effective visibility = %q, want full", resolved.EffectiveVisibility)
	}
	if resolved.Link.AccessCount != 1 {
		t.Fatalf("access count = %d, want 1", resolved.Link.AccessCount)
	}

	extendResp := f.do(t, http.MethodPost, "/v1/shares/"+created.Token+"/extend", extendShareRequest{Preset: "day"})
	if extendResp.StatusCode != http.StatusOK {
		t.Fatalf("extend status = %d, want 200", extendResp.StatusCode)
	}
	extended := decodeBody[shareLinkView](t, extendResp)
	wantExpiry := f.clock.Now().UTC().Add(24 * time.Hour)
	if extended.ExpiresAt == nil || !extended.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("extended expiry = %v, want %v", extended.ExpiresAt, wantExpiry)
	}

	revokeResp := f.do(t, http.MethodDelete, "/v1/shares/"+created.Token, nil)
	revokeResp.Body.Close()
	if revokeResp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want 204", revokeResp.StatusCode)
	}

	missingResp := f.do(t, http.MethodGet, "/v1/shares/"+created.Token, nil)
	missingResp.Body.Close()
	if missingResp.StatusCode != http.StatusNotFound {
		t.Fatalf("resolve after revoke status = %d, want 404", missingResp.StatusCode)
	}
}

func TestConsentOptOutDowngradesResolvedShare(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	f.consent.SetMember("group-1", memberConsent("user-1", true, true))

	createResp := f.do(t, http.MethodPost, "/v1/groups/group-1/shares", createShareRequest{
		CreatedBy:     "facilitator-1",
		Visibility:    "full",
		ConsentGrants: []string{"user-1"},
	})
	created := decodeBody[shareLinkView](t, createResp)

	optOutResp := f.do(t, http.MethodPut, "/v1/groups/group-1/consent/user-1", setConsentRequest{
		OptedIn:                false,
		HasSensitiveConditions: true,
	})
	optOutResp.Body.Close()

	resolveResp := f.do(t, http.MethodGet, "/v1/shares/"+created.Token, nil)
	resolved := decodeBody[shareViewResponse](t, resolveResp)
	if resolved.EffectiveVisibility != "redacted" {
		t.Fatalf("effective visibility = %q, want redacted", resolved.EffectiveVisibility)
	}
	if !resolved.Summary.Redacted || len(resolved.Summary.Entries) != 0 {
		t.Fatalf("summary = %+v, want redacted shell", resolved.Summary)
	}
}

func TestAcknowledgeOverHTTP(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	summaryResp := f.do(t, http.MethodPut, "/v1/groups/group-1/summary", summary.Summary{
		Entries: []summary.Entry{
			{TokenID: "token-1", ConditionKey: "poisoned", Category: "affliction", RoundsRemaining: 2},
		},
	})
	if summaryResp.StatusCode != http.StatusOK {
		t.Fatalf("summary status = %d, want 200", summaryResp.StatusCode)
	}
	published := decodeBody[struct {
		Summary summary.Summary `json:"summary"`
	}](t, summaryResp)
	if published.Summary.GeneratedAt.IsZero() {
		t.Fatal("expected stamped fingerprint")
	}

	ackResp := f.do(t, http.MethodPost, "/v1/acknowledgements", acknowledgeRequest{
		GroupID:            "group-1",
		MapID:              "map-1",
		TokenID:            "token-1",
		ConditionKey:       "poisoned",
		SummaryGeneratedAt: published.Summary.GeneratedAt,
		ActorID:            "actor-1",
	})
	if ackResp.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge status = %d, want 200", ackResp.StatusCode)
	}
	applied := decodeBody[acknowledgeResponse](t, ackResp)
	if applied.Status != "applied" || applied.AcknowledgedCount != 1 {
		t.Fatalf("response = %+v, want applied count 1", applied)
	}

	staleResp := f.do(t, http.MethodPost, "/v1/acknowledgements", acknowledgeRequest{
		GroupID:            "group-1",
		MapID:              "map-1",
		TokenID:            "token-1",
		ConditionKey:       "poisoned",
		SummaryGeneratedAt: published.Summary.GeneratedAt.Add(-time.Minute),
		ActorID:            "actor-1",
	})
	if staleResp.StatusCode != http.StatusConflict {
		t.Fatalf("stale status = %d, want 409", staleResp.StatusCode)
	}
	stale := decodeBody[acknowledgeResponse](t, staleResp)
	if stale.Status != "stale" {
		t.Fatalf("stale response = %+v, want stale", stale)
	}
	if stale.Code != "ACK_SUMMARY_STALE" {
		t.Fatalf("stale code = %q, want ACK_SUMMARY_STALE", stale.Code)
	}
}

func TestAcknowledgeValidationErrorOverHTTP(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/acknowledgements", acknowledgeRequest{
		GroupID:      "group-1",
		TokenID:      "token-1",
		ConditionKey: "poisoned",
		ActorID:      "actor-1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	envelope := decodeBody[errorEnvelope](t, resp)
	if envelope.Error.Code != "ACK_MAP_EMPTY" {
		t.Fatalf("error code = %q, want ACK_MAP_EMPTY", envelope.Error.Code)
	}
	if envelope.Error.Message == "" {
		t.Fatal("expected error message")
	}
}

func TestAcknowledgeRateLimitedOverHTTP(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	summaryResp := f.do(t, http.MethodPut, "/v1/groups/group-1/summary", summary.Summary{
		Entries: []summary.Entry{
			{TokenID: "token-1", ConditionKey: "poisoned", Category: "affliction"},
		},
	})
	published := decodeBody[struct {
		Summary summary.Summary `json:"summary"`
	}](t, summaryResp)

	var last *http.Response
	for i := 0; i < 13; i++ {
		if last != nil {
			last.Body.Close()
		}
		last = f.do(t, http.MethodPost, "/v1/acknowledgements", acknowledgeRequest{
			GroupID:            "group-1",
			MapID:              "map-1",
			TokenID:            "token-1",
			ConditionKey:       "poisoned",
			SummaryGeneratedAt: published.Summary.GeneratedAt,
			ActorID:            fmt.Sprintf("actor-%d", i),
		})
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.StatusCode)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	limited := decodeBody[acknowledgeResponse](t, last)
	if limited.Status != "locked_out" {
		t.Fatalf("response = %+v, want locked_out", limited)
	}
	if limited.Code != "WRITE_LOCKED_OUT" {
		t.Fatalf("code = %q, want WRITE_LOCKED_OUT", limited.Code)
	}
	if limited.RetryAfterSeconds != 300 {
		t.Fatalf("retry after = %d, want 300", limited.RetryAfterSeconds)
	}
}
