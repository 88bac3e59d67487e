// Package timers implements condition-timer transparency for campaign groups.
//
// It keeps write-path protection (rate limits, conflict circuit breaking),
// consent-scoped share links, idempotent acknowledgements, and summary
// broadcasting isolated from gameplay state so maps and tokens remain the
// source of truth for condition countdowns.
package timers
