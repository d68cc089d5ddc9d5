// Package resolver implements the cross-protocol identifier lookup the
// dispatcher needs to turn a source post identifier into the destination
// identifier it was previously mirrored to. Grounded directly on
// original_source/src/destination.rs's to_dst_identifier.
package resolver

import "github.com/klppl/timelineecho/internal/model"

// ToDestinationIdentifier scans every user sharing srcOrigin for a
// DestinationStatus row against dst, looking for one of kind Post
// (wantRepost false) or Repost (wantRepost true) whose own SrcIdentifier
// matches srcIdentifier. The scan is a flat cross-user table, not scoped
// to a single user: original_source/src/destination.rs:16-32 iterates
// store.users filtered only by src.origin, across all users, so that a
// repost of a post mirrored on someone else's configured User still
// resolves. srcOrigin is the origin of the account that authored
// srcIdentifier (not necessarily the same account dispatching this
// operation).
//
// wantRepost distinguishes two different callers: resolving a
// CreateRepost's *target* (the post being reposted) always passes false,
// since the target is itself an ordinary mirrored post; resolving a
// previously dispatched repost for Delete passes true, matching against
// the repost's own SrcIdentifier rather than what it targeted.
//
// First match wins, matching the original's linear scan semantics.
func ToDestinationIdentifier(users []*model.User, srcOrigin model.Protocol, dst model.AccountKey, srcIdentifier string, wantRepost bool) (string, bool) {
	wantKind := model.StatusKindPost
	if wantRepost {
		wantKind = model.StatusKindRepost
	}
	for _, u := range users {
		if u.Src.Origin != srcOrigin {
			continue
		}
		statuses, ok := u.DstStatuses[dst.String()]
		if !ok {
			continue
		}
		for _, s := range statuses {
			if s.Kind == wantKind && s.SrcIdentifier == srcIdentifier {
				return s.DstIdentifier, true
			}
		}
	}
	return "", false
}
