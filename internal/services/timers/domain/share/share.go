// Package share manages the lifecycle of public condition-timer share links.
//
// A share link exposes one group's condition-timer summary behind an opaque
// unguessable token. Visibility is consent-scoped: full detail requires
// every sensitive-condition owner's grant, and consent is re-evaluated at
// resolve time so later opt-outs downgrade the view without deleting the
// link.
package share

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// VisibilityMode is the redaction policy applied to a shared summary.
type VisibilityMode string

const (
	// VisibilityFull passes the summary through untouched.
	VisibilityFull VisibilityMode = "full"
	// VisibilityCounts strips labels and notes down to numeric counts.
	VisibilityCounts VisibilityMode = "counts"
	// VisibilityRedacted returns a summary shell with no entries.
	VisibilityRedacted VisibilityMode = "redacted"
)

// ValidVisibility reports whether mode is one of the known policies.
func ValidVisibility(mode VisibilityMode) bool {
	switch mode {
	case VisibilityFull, VisibilityCounts, VisibilityRedacted:
		return true
	}
	return false
}

// State is the derived lifecycle state of a share link at resolve time.
type State string

const (
	// StateEvergreen marks a link without an expiry.
	StateEvergreen State = "evergreen"
	// StateActive marks a link with a distant expiry.
	StateActive State = "active"
	// StateExpiringSoon marks a link expiring within the lookahead.
	StateExpiringSoon State = "expiring_soon"
	// StateExpired marks a link past its expiry.
	StateExpired State = "expired"
)

// ShareLink is one public summary share. Immutable after creation except
// for ExpiresAt (extend) and AccessCount (resolve side effect).
type ShareLink struct {
	Token           string
	GroupID         string
	CreatedBy       string
	CreatedAt       time.Time
	ExpiresAt       *time.Time
	Visibility      VisibilityMode
	ConsentSnapshot []string
	AccessCount     int64
}

// DeriveState computes the lifecycle state of the link at a point in time.
func (l ShareLink) DeriveState(now time.Time, lookahead time.Duration) State {
	if l.ExpiresAt == nil {
		return StateEvergreen
	}
	if now.After(*l.ExpiresAt) {
		return StateExpired
	}
	if lookahead > 0 && !now.Add(lookahead).Before(*l.ExpiresAt) {
		return StateExpiringSoon
	}
	return StateActive
}

// ExtendPreset names one facilitator-selectable extension duration.
type ExtendPreset string

const (
	// PresetDay extends a link by 24 hours from now.
	PresetDay ExtendPreset = "day"
	// PresetWeek extends a link by 7 days from now.
	PresetWeek ExtendPreset = "week"
	// PresetMonth extends a link by 30 days from now.
	PresetMonth ExtendPreset = "month"
)

// Duration returns the preset length, or an error for unknown presets.
func (p ExtendPreset) Duration() (time.Duration, error) {
	switch p {
	case PresetDay:
		return 24 * time.Hour, nil
	case PresetWeek:
		return 7 * 24 * time.Hour, nil
	case PresetMonth:
		return 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown extension preset %q", string(p))
}

// MemberConsent is one group member's current sharing stance.
type MemberConsent struct {
	UserID string
	// OptedIn reports whether the member currently allows their sensitive
	// conditions to appear in shared summaries.
	OptedIn bool
	// HasSensitiveConditions reports whether the member currently owns at
	// least one condition marked sensitive.
	HasSensitiveConditions bool
}

// ConsentRequirement describes one missing grant blocking a visibility mode.
type ConsentRequirement struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// ConsentMissingError blocks share creation or upgrade and carries the full
// missing-consent list, never a partial one.
type ConsentMissingError struct {
	Requirements []ConsentRequirement
}

// Error implements the error interface.
func (e *ConsentMissingError) Error() string {
	users := make([]string, 0, len(e.Requirements))
	for _, requirement := range e.Requirements {
		users = append(users, requirement.UserID)
	}
	return fmt.Sprintf("consent missing for %s", strings.Join(users, ", "))
}

// Store is the persistence boundary for share link lifecycle behavior.
type Store interface {
	PutShare(ctx context.Context, link ShareLink) error
	GetShare(ctx context.Context, token string) (ShareLink, error)
	UpdateShareExpiry(ctx context.Context, token string, expiresAt *time.Time) error
	IncrementShareAccess(ctx context.Context, token string) error
	DeleteShare(ctx context.Context, token string) error
	ListSharesByGroup(ctx context.Context, groupID string) ([]ShareLink, error)
}

// ConsentSource reports the current consent stance of a group's members.
type ConsentSource interface {
	GroupConsent(ctx context.Context, groupID string) ([]MemberConsent, error)
}
