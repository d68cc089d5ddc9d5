// Package model holds the plain data types shared across the fetch, diff,
// merge, dispatch, and store layers. Variants that the source material
// models as a Rust enum are rendered here as a struct with a discriminator
// field plus accessor methods, the same shape used elsewhere in this
// codebase for Notification.Reason and FeedReason.Type.
package model

import "time"

// Protocol identifies which wire protocol an account lives on.
type Protocol string

const (
	ProtocolATProto  Protocol = "atproto"
	ProtocolMastodon Protocol = "mastodon"
	ProtocolMisskey  Protocol = "misskey"
	ProtocolTwitter  Protocol = "twitter"
)

// AccountKey identifies one account on one protocol.
type AccountKey struct {
	Origin     Protocol `json:"origin"`
	Identifier string   `json:"identifier"`
}

// AccountPair stamps an operation with the destination account it targets
// alongside the source account it originated from.
type AccountPair struct {
	Src AccountKey `json:"src"`
	Dst AccountKey `json:"dst"`
}

// StatusKind discriminates the two shapes a SourceStatus/DestinationStatus
// can take: an authored post, or a repost of someone else's post.
type StatusKind string

const (
	StatusKindPost   StatusKind = "post"
	StatusKindRepost StatusKind = "repost"
)

// SourceStatus is one item observed on the source account's timeline,
// already reduced to the fields the diff engine needs to compare runs.
type SourceStatus struct {
	Kind               StatusKind `json:"kind"`
	Identifier         string     `json:"identifier"`
	CreatedAt          time.Time  `json:"createdAt"`
	Content            string     `json:"content,omitempty"`
	TargetIdentifier   string     `json:"targetIdentifier,omitempty"`   // set when Kind == Repost
	ReplySrcIdentifier string     `json:"replySrcIdentifier,omitempty"` // set only for a self-reply
}

// IsPost reports whether this status is an authored post.
func (s SourceStatus) IsPost() bool { return s.Kind == StatusKindPost }

// IsRepost reports whether this status is a repost of another post.
func (s SourceStatus) IsRepost() bool { return s.Kind == StatusKindRepost }

// DestinationStatus records what an operation produced on one destination
// account, so later runs can resolve it (for updates/deletes/pruning).
type DestinationStatus struct {
	Kind             StatusKind `json:"kind"`
	SrcIdentifier    string     `json:"srcIdentifier"`
	DstIdentifier    string     `json:"dstIdentifier"`
	TargetIdentifier string     `json:"targetIdentifier,omitempty"` // set when Kind == Repost; the src identifier of the reposted post
}

// DestinationAccount is one mirror target configured for a User.
type DestinationAccount struct {
	AccountKey
	AppPassword string `json:"appPassword,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
	APISecret   string `json:"apiSecret,omitempty"`
	OAuthToken  string `json:"oauthToken,omitempty"`
	OAuthSecret string `json:"oauthSecret,omitempty"`
	ShowSourceLink bool `json:"showSourceLink,omitempty"`
}

// SourceAccount is the one account being observed for a User.
type SourceAccount struct {
	AccountKey
	AppPassword string `json:"appPassword,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
	APISecret   string `json:"apiSecret,omitempty"`
	OAuthToken  string `json:"oauthToken,omitempty"`
	OAuthSecret string `json:"oauthSecret,omitempty"`
}

// User pairs one source account with the set of destination accounts its
// timeline should be mirrored to.
type User struct {
	Src  SourceAccount         `json:"src"`
	Dsts []DestinationAccount  `json:"dsts"`

	SrcStatuses []SourceStatus                  `json:"srcStatuses,omitempty"`
	DstStatuses map[string][]DestinationStatus  `json:"dstStatuses,omitempty"` // keyed by dst AccountKey.String()

	// PendingOperations carries StoreOperations a prior run's budget cut
	// short, so the next cycle resumes the queue instead of dropping it.
	PendingOperations []StoreOperation `json:"pendingOperations,omitempty"`
}

// String renders an AccountKey as a stable map key / log field.
func (k AccountKey) String() string {
	return string(k.Origin) + ":" + k.Identifier
}

// OperationKind discriminates the five operations the dispatcher can send.
type OperationKind string

const (
	OpCreatePost   OperationKind = "createPost"
	OpCreateRepost OperationKind = "createRepost"
	OpUpdatePost   OperationKind = "updatePost"
	OpDeletePost   OperationKind = "deletePost"
	OpDeleteRepost OperationKind = "deleteRepost"
)

// Operation is a single pending action against a source post, not yet
// stamped with a destination (see merge.ToStoreOperations for that step).
type Operation struct {
	Kind             OperationKind `json:"operation"`
	SrcIdentifier    string        `json:"srcIdentifier"`
	CreatedAt        time.Time     `json:"createdAt"`
	Content          string        `json:"content,omitempty"`
	TargetIdentifier string        `json:"targetIdentifier,omitempty"` // repost target, for CreateRepost
	External         *LinkCard     `json:"external,omitempty"`

	// ReplySrcIdentifier is the source identifier of the post this one
	// replies to, set only for a self-reply (a post replying to another
	// post by the same source account). ReplyDstIdentifier is resolved
	// from it at dispatch time, against whichever destination the post
	// is being sent to.
	ReplySrcIdentifier string `json:"replySrcIdentifier,omitempty"`
	ReplyDstIdentifier string `json:"-"`
}

// StoreOperation is an Operation stamped with the destination account it
// will be dispatched against, as produced by the merge engine.
type StoreOperation struct {
	Operation
	AccountPair
}

// LiveExternalState discriminates whether link-card metadata for a post's
// external URL is known, absent, or still needs to be fetched.
type LiveExternalState string

const (
	ExternalUnknown LiveExternalState = "unknown"
	ExternalNone    LiveExternalState = "none"
	ExternalSome    LiveExternalState = "some"
)

// LinkCard is the title/description/image synthesized for a post's first
// external link, or the record that no such link exists.
type LinkCard struct {
	State       LiveExternalState `json:"state"`
	URL         string            `json:"url,omitempty"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	ImageURL    string            `json:"imageUrl,omitempty"`
}

// LivePost is one item fetched live from a source adapter, prior to being
// diffed against stored SourceStatus rows.
type LivePost struct {
	Identifier         string
	Kind               StatusKind
	CreatedAt          time.Time
	Content            string
	TargetIdentifier   string // repost target, when Kind == Repost
	External           *LinkCard
	ReplySrcIdentifier string // set only for a self-reply; see Operation.ReplySrcIdentifier
}
