// Package adapter declares the uniform contract every protocol
// implementation must satisfy so the diff/merge/dispatch pipeline never
// needs to know which wire protocol it is talking to.
package adapter

import (
	"context"

	"github.com/klppl/timelineecho/internal/model"
)

// Adapter is the protocol adapter contract. One concrete implementation
// exists per supported protocol (atproto, mastodon, misskey, twitter); the
// registry in internal/protocols selects one per configured account.
type Adapter interface {
	// Origin identifies which protocol this adapter implements.
	Origin() model.Protocol

	// FetchStatuses returns the authoring account's recent timeline,
	// newest activity included, as LivePosts ready for the diff engine.
	FetchStatuses(ctx context.Context) ([]model.LivePost, error)

	// Post creates a new authored post and returns its platform identifier.
	Post(ctx context.Context, op model.Operation) (identifier string, err error)

	// Repost creates a repost/boost of dstIdentifier and returns its own
	// platform identifier.
	Repost(ctx context.Context, dstIdentifier string) (identifier string, err error)

	// Update edits a previously created post in place.
	Update(ctx context.Context, dstIdentifier string, op model.Operation) error

	// Delete removes a previously created post.
	Delete(ctx context.Context, dstIdentifier string) error

	// DeleteRepost removes a previously created repost.
	DeleteRepost(ctx context.Context, dstIdentifier string) error
}
