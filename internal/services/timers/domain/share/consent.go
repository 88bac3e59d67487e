package share

// Consent reasons attached to requirement lists.
const (
	reasonGrantMissing = "grant not included in share request"
	reasonOptedOut     = "member has opted out of shared visibility"
)

// MissingConsent returns every requirement blocking full visibility for the
// given grants. The list is always complete so the caller can request
// exactly the missing grants in one round trip.
func MissingConsent(members []MemberConsent, grants []string) []ConsentRequirement {
	granted := make(map[string]struct{}, len(grants))
	for _, userID := range grants {
		granted[userID] = struct{}{}
	}

	var requirements []ConsentRequirement
	for _, member := range members {
		if !member.HasSensitiveConditions {
			continue
		}
		if !member.OptedIn {
			requirements = append(requirements, ConsentRequirement{
				UserID: member.UserID,
				Reason: reasonOptedOut,
			})
			continue
		}
		if _, ok := granted[member.UserID]; !ok {
			requirements = append(requirements, ConsentRequirement{
				UserID: member.UserID,
				Reason: reasonGrantMissing,
			})
		}
	}
	return requirements
}

// EvaluateConsent derives the effective visibility of a link against the
// group's current consent stance. Consent for full visibility is evaluated
// at resolve time, not only at creation: a sensitive-condition owner who
// opted out after the link was created, or who never appeared in the
// consent snapshot, downgrades the view to redacted until consent is
// re-established. The link itself is never mutated.
func EvaluateConsent(link ShareLink, current []MemberConsent) VisibilityMode {
	if link.Visibility != VisibilityFull {
		return link.Visibility
	}

	snapshot := make(map[string]struct{}, len(link.ConsentSnapshot))
	for _, userID := range link.ConsentSnapshot {
		snapshot[userID] = struct{}{}
	}

	for _, member := range current {
		if !member.HasSensitiveConditions {
			continue
		}
		if !member.OptedIn {
			return VisibilityRedacted
		}
		if _, ok := snapshot[member.UserID]; !ok {
			return VisibilityRedacted
		}
	}
	return VisibilityFull
}
