// Package event defines the condition-timer event vocabulary pushed to
// subscribed group channels.
package event

import (
	"time"

	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/summary"
)

// Type identifies the type of a condition-timer event.
type Type string

const (
	// TypeSummaryUpdated records a regenerated condition-timer summary.
	TypeSummaryUpdated Type = "condition-timer-summary.updated"
	// TypeAcknowledgementRecorded records one applied acknowledgement.
	TypeAcknowledgementRecorded Type = "condition-timer-acknowledgement.recorded"
)

// GroupChannel returns the private channel name scoped to one group.
func GroupChannel(groupID string) string {
	return "private-group." + groupID + ".condition-timers"
}

// SummaryUpdatedPayload is the payload for condition-timer-summary.updated.
type SummaryUpdatedPayload struct {
	Summary summary.Summary `json:"summary"`
}

// AcknowledgementRecordedPayload is the payload for
// condition-timer-acknowledgement.recorded.
type AcknowledgementRecordedPayload struct {
	TokenID            string    `json:"token_id"`
	ConditionKey       string    `json:"condition_key"`
	SummaryGeneratedAt time.Time `json:"summary_generated_at"`
	AcknowledgedCount  int       `json:"acknowledged_count"`
	ActorID            string    `json:"actor_id"`
}
