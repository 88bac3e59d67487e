package app

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/share"
)

// ConsentDirectory tracks each group member's current sharing stance.
//
// It is the live consent source for share creation and resolve-time
// re-evaluation; opting a member out here immediately downgrades full shares
// without touching the stored links.
type ConsentDirectory struct {
	mu      sync.Mutex
	byGroup map[string]map[string]share.MemberConsent
}

// NewConsentDirectory creates an empty directory.
func NewConsentDirectory() *ConsentDirectory {
	return &ConsentDirectory{byGroup: make(map[string]map[string]share.MemberConsent)}
}

// SetMember upserts one member's stance for a group.
func (d *ConsentDirectory) SetMember(groupID string, member share.MemberConsent) {
	groupID = strings.TrimSpace(groupID)
	member.UserID = strings.TrimSpace(member.UserID)
	if groupID == "" || member.UserID == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.byGroup[groupID]
	if !ok {
		members = make(map[string]share.MemberConsent)
		d.byGroup[groupID] = members
	}
	members[member.UserID] = member
}

// RemoveMember drops one member from a group.
func (d *ConsentDirectory) RemoveMember(groupID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.byGroup[strings.TrimSpace(groupID)]
	if !ok {
		return
	}
	delete(members, strings.TrimSpace(userID))
}

// GroupConsent implements the share consent source. Members are returned in
// user id order so requirement lists are deterministic.
func (d *ConsentDirectory) GroupConsent(_ context.Context, groupID string) ([]share.MemberConsent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	members := d.byGroup[strings.TrimSpace(groupID)]
	out := make([]share.MemberConsent, 0, len(members))
	for _, member := range members {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
