package share

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	apperrors "github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/platform/errors"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/platform/id"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/summary"
)

var (
	// ErrNotFound indicates a share link record was not found.
	ErrNotFound = errors.New("share link not found")
	// ErrStoreNotConfigured indicates the registry is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("share store is not configured")
)

// DefaultExpiringSoonLookahead is the window before expiry in which a link
// resolves as expiring_soon.
const DefaultExpiringSoonLookahead = 24 * time.Hour

// SummarySource provides the current condition-timer summary for a group.
type SummarySource interface {
	CurrentSummary(ctx context.Context, groupID string) (summary.Summary, error)
}

// CreateInput describes one share link creation request.
type CreateInput struct {
	GroupID    string
	CreatedBy  string
	Visibility VisibilityMode
	// ConsentGrants lists the users whose consent the facilitator collected
	// for full visibility.
	ConsentGrants []string
	// TTL bounds the link lifetime; nil creates an evergreen link.
	TTL *time.Duration
}

// ShareView is the resolved, redaction-applied read model of a share link.
type ShareView struct {
	Link ShareLink
	// State is derived from the expiry at resolve time.
	State State
	// EffectiveVisibility is the visibility after resolve-time consent
	// re-evaluation; it can be lower than the link's configured mode.
	EffectiveVisibility VisibilityMode
	Summary             summary.Summary
}

// Registry owns share link lifecycle: creation, resolution, extension,
// revocation, and redaction. Reads never touch the write-path guards.
type Registry struct {
	store     Store
	consent   ConsentSource
	summaries SummarySource
	clock     func() time.Time
	newToken  func() (string, error)
	lookahead time.Duration
}

// NewRegistry constructs share link use-cases.
func NewRegistry(store Store, consent ConsentSource, summaries SummarySource, clock func() time.Time, newToken func() (string, error)) *Registry {
	if clock == nil {
		clock = time.Now
	}
	if newToken == nil {
		newToken = id.NewID
	}
	return &Registry{
		store:     store,
		consent:   consent,
		summaries: summaries,
		clock:     clock,
		newToken:  newToken,
		lookahead: DefaultExpiringSoonLookahead,
	}
}

// SetExpiringSoonLookahead overrides the expiring_soon derivation window.
func (r *Registry) SetExpiringSoonLookahead(lookahead time.Duration) {
	if lookahead > 0 {
		r.lookahead = lookahead
	}
}

// Create mints a share link after verifying consent for the requested
// visibility. A full-visibility request missing any required grant fails
// with the complete requirement list and creates nothing.
func (r *Registry) Create(ctx context.Context, input CreateInput) (ShareLink, error) {
	if r == nil || r.store == nil {
		return ShareLink{}, ErrStoreNotConfigured
	}
	groupID := strings.TrimSpace(input.GroupID)
	if groupID == "" {
		return ShareLink{}, apperrors.New(apperrors.CodeShareGroupIDEmpty, "group id is required")
	}
	createdBy := strings.TrimSpace(input.CreatedBy)
	if createdBy == "" {
		return ShareLink{}, apperrors.New(apperrors.CodeShareCreatorEmpty, "share creator is required")
	}
	if !ValidVisibility(input.Visibility) {
		return ShareLink{}, apperrors.New(apperrors.CodeShareInvalidVisibility, "unknown visibility mode")
	}

	var consentSnapshot []string
	if input.Visibility == VisibilityFull {
		members, err := r.groupConsent(ctx, groupID)
		if err != nil {
			return ShareLink{}, err
		}
		if requirements := MissingConsent(members, input.ConsentGrants); len(requirements) > 0 {
			return ShareLink{}, &ConsentMissingError{Requirements: requirements}
		}
		for _, member := range members {
			if member.HasSensitiveConditions {
				consentSnapshot = append(consentSnapshot, member.UserID)
			}
		}
	}

	token, err := r.newToken()
	if err != nil {
		return ShareLink{}, err
	}
	now := r.clock().UTC()
	link := ShareLink{
		Token:           token,
		GroupID:         groupID,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		Visibility:      input.Visibility,
		ConsentSnapshot: consentSnapshot,
	}
	if input.TTL != nil {
		expiresAt := now.Add(*input.TTL)
		link.ExpiresAt = &expiresAt
	}

	if err := r.store.PutShare(ctx, link); err != nil {
		return ShareLink{}, err
	}
	return link, nil
}

// Resolve loads a share link by token and returns its redaction-applied
// view. The access counter increment is a best-effort side effect; a lost
// increment never fails the read.
func (r *Registry) Resolve(ctx context.Context, token string) (ShareView, error) {
	if r == nil || r.store == nil {
		return ShareView{}, ErrStoreNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ShareView{}, ErrNotFound
	}

	link, err := r.store.GetShare(ctx, token)
	if err != nil {
		return ShareView{}, err
	}

	now := r.clock().UTC()
	state := link.DeriveState(now, r.lookahead)
	if state == StateExpired {
		return ShareView{}, apperrors.New(apperrors.CodeShareExpired, "share link has expired")
	}

	effective := link.Visibility
	if link.Visibility == VisibilityFull {
		members, consentErr := r.groupConsent(ctx, link.GroupID)
		if consentErr != nil {
			return ShareView{}, consentErr
		}
		effective = EvaluateConsent(link, members)
	}

	current := summary.Summary{GroupID: link.GroupID}
	if r.summaries != nil {
		current, err = r.summaries.CurrentSummary(ctx, link.GroupID)
		if err != nil {
			return ShareView{}, err
		}
	}

	if err := r.store.IncrementShareAccess(ctx, token); err != nil {
		log.Printf("share access count increment failed token=%s group_id=%s error=%v", token, link.GroupID, err)
	} else {
		link.AccessCount++
	}

	return ShareView{
		Link:                link,
		State:               state,
		EffectiveVisibility: effective,
		Summary:             Redact(effective, current),
	}, nil
}

// Extend pushes a live link's expiry to now plus the preset duration.
// The new expiry is anchored at now, not the previous expiry, so repeated
// early extensions never accumulate drift. Expired links are not revivable.
func (r *Registry) Extend(ctx context.Context, token string, preset ExtendPreset) (ShareLink, error) {
	if r == nil || r.store == nil {
		return ShareLink{}, ErrStoreNotConfigured
	}
	duration, err := preset.Duration()
	if err != nil {
		return ShareLink{}, apperrors.Wrap(apperrors.CodeShareInvalidPreset, "invalid extension preset", err)
	}

	link, err := r.store.GetShare(ctx, strings.TrimSpace(token))
	if err != nil {
		return ShareLink{}, err
	}

	now := r.clock().UTC()
	if link.DeriveState(now, r.lookahead) == StateExpired {
		return ShareLink{}, apperrors.New(apperrors.CodeShareExpired, "cannot extend an expired share link")
	}

	expiresAt := now.Add(duration)
	if err := r.store.UpdateShareExpiry(ctx, link.Token, &expiresAt); err != nil {
		return ShareLink{}, err
	}
	link.ExpiresAt = &expiresAt
	return link, nil
}

// Revoke deletes a share link. Revocation is the only deletion path; links
// otherwise persist past expiry for auditability.
func (r *Registry) Revoke(ctx context.Context, token string) error {
	if r == nil || r.store == nil {
		return ErrStoreNotConfigured
	}
	return r.store.DeleteShare(ctx, strings.TrimSpace(token))
}

// ListForGroup returns every share link owned by a group.
func (r *Registry) ListForGroup(ctx context.Context, groupID string) ([]ShareLink, error) {
	if r == nil || r.store == nil {
		return nil, ErrStoreNotConfigured
	}
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, apperrors.New(apperrors.CodeShareGroupIDEmpty, "group id is required")
	}
	return r.store.ListSharesByGroup(ctx, groupID)
}

func (r *Registry) groupConsent(ctx context.Context, groupID string) ([]MemberConsent, error) {
	if r.consent == nil {
		return nil, nil
	}
	return r.consent.GroupConsent(ctx, groupID)
}
