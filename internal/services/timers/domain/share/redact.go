package share

import (
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/summary"
)

// Redact applies a visibility mode to a summary and returns the view-safe
// result. The input summary is never mutated.
func Redact(mode VisibilityMode, s summary.Summary) summary.Summary {
	switch mode {
	case VisibilityFull:
		return s.Clone()
	case VisibilityCounts:
		counts := make(map[string]int, 4)
		for _, entry := range s.Entries {
			category := entry.Category
			if category == "" {
				category = "uncategorized"
			}
			counts[category]++
		}
		return summary.Summary{
			GroupID:        s.GroupID,
			GeneratedAt:    s.GeneratedAt,
			CategoryCounts: counts,
		}
	default:
		return summary.Summary{
			GroupID:     s.GroupID,
			GeneratedAt: s.GeneratedAt,
			Redacted:    true,
		}
	}
}
