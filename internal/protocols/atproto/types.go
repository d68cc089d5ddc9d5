package atproto

import (
	"strings"

	"github.com/klppl/timelineecho/internal/model"
)

// ─── Record shapes, grounded on internal/bsky/types.go's lexicon records ──

type createRecordRequest struct {
	Repo       string      `json:"repo"`
	Collection string      `json:"collection"`
	Record     interface{} `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type deleteRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}

type feedPost struct {
	Type      string         `json:"$type"`
	Text      string         `json:"text"`
	CreatedAt string         `json:"createdAt"`
	Embed     *externalEmbed `json:"embed,omitempty"`
	Reply     *outgoingReply `json:"reply,omitempty"`
}

// outgoingReply is shaped like replyRef but requires a CID the caller
// does not have at hand; Root and Parent both point at the same resolved
// destination URI, since this adapter never mirrors whole threads, only
// the single immediate parent a self-reply targets.
type outgoingReply struct {
	Root   ref `json:"root"`
	Parent ref `json:"parent"`
}

type externalEmbed struct {
	Type     string                `json:"$type"`
	External externalEmbedPayload  `json:"external"`
}

type externalEmbedPayload struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ref struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type repostRecord struct {
	Type      string `json:"$type"`
	Subject   ref    `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

// ─── Author feed (app.bsky.feed.getAuthorFeed) ────────────────────────────

type authorFeedResponse struct {
	Feed   []feedItem `json:"feed"`
	Cursor string     `json:"cursor"`
}

type feedItem struct {
	Post   feedItemPost `json:"post"`
	Reason *feedReason  `json:"reason,omitempty"`
}

type feedItemPost struct {
	URI       string          `json:"uri"`
	CID       string          `json:"cid"`
	Record    feedItemRecord  `json:"record"`
	IndexedAt string          `json:"indexedAt"`
}

type feedItemRecord struct {
	Text      string  `json:"text"`
	CreatedAt string  `json:"createdAt"`
	Embed     *embedAny `json:"embed,omitempty"`
	Reply     *replyRef `json:"reply,omitempty"`
}

type replyRef struct {
	Root   ref `json:"root"`
	Parent ref `json:"parent"`
}

type embedAny struct {
	Type     string               `json:"$type"`
	External externalEmbedPayload `json:"external,omitempty"`
}

type feedReason struct {
	Type string `json:"$type"`
}

const reasonRepost = "app.bsky.feed.defs#reasonRepost"

// didFromURI extracts the repo DID from an AT-URI of the form
// at://did:plc:xxxx/collection/rkey, or "" if atURI is malformed.
func didFromURI(atURI string) string {
	if !strings.HasPrefix(atURI, "at://") {
		return ""
	}
	parts := strings.SplitN(strings.TrimPrefix(atURI, "at://"), "/", 2)
	return parts[0]
}

func toLivePost(item feedItem) (model.LivePost, bool) {
	if item.Reason != nil && item.Reason.Type == reasonRepost {
		t, ok := parseTime(item.Post.IndexedAt)
		if !ok {
			return model.LivePost{}, false
		}
		// getAuthorFeed never exposes the repost record's own URI, only the
		// reposted post's; synthesize a distinct identifier so a repost
		// never collides in the diff engine's by-identifier maps with the
		// original post it targets.
		return model.LivePost{
			Identifier:       "repost:" + item.Post.URI,
			Kind:             model.StatusKindRepost,
			CreatedAt:        t,
			TargetIdentifier: item.Post.URI,
		}, true
	}

	t, ok := parseTime(item.Post.Record.CreatedAt)
	if !ok {
		return model.LivePost{}, false
	}
	if item.Post.Record.Reply != nil {
		if didFromURI(item.Post.Record.Reply.Parent.URI) != didFromURI(item.Post.URI) {
			// A reply to someone else's post is not this account's own
			// authored timeline activity; getAuthorFeed still surfaces it,
			// but it is filtered out rather than mirrored as a standalone post.
			return model.LivePost{}, false
		}
	}
	p := model.LivePost{
		Identifier: item.Post.URI,
		Kind:       model.StatusKindPost,
		CreatedAt:  t,
		Content:    item.Post.Record.Text,
	}
	if item.Post.Record.Reply != nil {
		// A reply to the account's own earlier post carries its parent
		// forward as a source identifier; the dispatcher resolves it
		// against each destination's mirrored history at send time.
		p.ReplySrcIdentifier = item.Post.Record.Reply.Parent.URI
	}
	if item.Post.Record.Embed != nil && item.Post.Record.Embed.Type == "app.bsky.embed.external" {
		p.External = &model.LinkCard{
			State:       model.ExternalSome,
			URL:         item.Post.Record.Embed.External.URI,
			Title:       item.Post.Record.Embed.External.Title,
			Description: item.Post.Record.Embed.External.Description,
		}
	}
	return p, true
}
