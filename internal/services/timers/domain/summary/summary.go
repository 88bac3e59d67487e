// Package summary models computed condition-timer summaries for a group.
//
// A summary is a point-in-time snapshot of every visible condition countdown
// in a group's active maps. GeneratedAt doubles as the freshness fingerprint:
// acknowledgements are only valid against the exact snapshot they were read
// from.
package summary

import "time"

// Entry is one condition countdown inside a summary snapshot.
type Entry struct {
	TokenID           string    `json:"token_id"`
	ConditionKey      string    `json:"condition_key"`
	Label             string    `json:"label,omitempty"`
	Note              string    `json:"note,omitempty"`
	Category          string    `json:"category"`
	OwnerUserID       string    `json:"owner_user_id,omitempty"`
	Sensitive         bool      `json:"sensitive,omitempty"`
	RoundsRemaining   int       `json:"rounds_remaining"`
	ExpiresAt         time.Time `json:"expires_at,omitzero"`
	AcknowledgedCount int       `json:"acknowledged_count"`
}

// Summary is a computed condition-timer snapshot for a group.
type Summary struct {
	GroupID string `json:"group_id"`
	// GeneratedAt identifies exactly which computed snapshot this is.
	// Acknowledgements carry it back as their freshness fingerprint.
	GeneratedAt time.Time `json:"generated_at"`
	Entries     []Entry   `json:"entries,omitempty"`
	// CategoryCounts replaces Entries under counts visibility.
	CategoryCounts map[string]int `json:"category_counts,omitempty"`
	// Redacted marks a summary shell stripped of all condition detail.
	Redacted bool `json:"redacted,omitempty"`
}

// Fingerprint returns the snapshot identity used for acknowledgement
// freshness checks.
func (s Summary) Fingerprint() time.Time {
	return s.GeneratedAt
}

// Clone returns a deep copy so callers can redact without sharing slices.
func (s Summary) Clone() Summary {
	out := s
	if s.Entries != nil {
		out.Entries = make([]Entry, len(s.Entries))
		copy(out.Entries, s.Entries)
	}
	if s.CategoryCounts != nil {
		out.CategoryCounts = make(map[string]int, len(s.CategoryCounts))
		for category, count := range s.CategoryCounts {
			out.CategoryCounts[category] = count
		}
	}
	return out
}
