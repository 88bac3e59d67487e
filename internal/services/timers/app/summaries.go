package app

import (
	"sync"

	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/summary"
)

// SummaryCatalog holds the latest condition-timer snapshot per group.
//
// It is the resolve-time summary source for share links; a group without a
// snapshot resolves as an empty summary rather than an error.
type SummaryCatalog struct {
	mu      sync.Mutex
	byGroup map[string]summary.Summary
}

// NewSummaryCatalog creates an empty catalog.
func NewSummaryCatalog() *SummaryCatalog {
	return &SummaryCatalog{byGroup: make(map[string]summary.Summary)}
}

// SetSummary replaces the group's current snapshot.
func (c *SummaryCatalog) SetSummary(s summary.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byGroup[s.GroupID] = s.Clone()
}

// Current returns a copy of the group's snapshot, or an empty shell when the
// group has none yet.
func (c *SummaryCatalog) Current(groupID string) summary.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.byGroup[groupID]
	if !ok {
		return summary.Summary{GroupID: groupID}
	}
	return current.Clone()
}
