package atproto

import "testing"

func TestToLivePost_SelfReplyCarriesParentIdentifier(t *testing.T) {
	item := feedItem{
		Post: feedItemPost{
			URI: "at://did:plc:alice/app.bsky.feed.post/reply1",
			Record: feedItemRecord{
				Text:      "thanks!",
				CreatedAt: "2026-01-01T12:00:00Z",
				Reply: &replyRef{
					Root:   ref{URI: "at://did:plc:alice/app.bsky.feed.post/root1"},
					Parent: ref{URI: "at://did:plc:alice/app.bsky.feed.post/root1"},
				},
			},
		},
	}
	p, ok := toLivePost(item)
	if !ok {
		t.Fatalf("expected a self-reply to pass through")
	}
	if p.ReplySrcIdentifier != "at://did:plc:alice/app.bsky.feed.post/root1" {
		t.Fatalf("expected ReplySrcIdentifier to carry the parent URI, got %q", p.ReplySrcIdentifier)
	}
}

func TestToLivePost_ReplyToOtherAccountIsFiltered(t *testing.T) {
	item := feedItem{
		Post: feedItemPost{
			URI: "at://did:plc:alice/app.bsky.feed.post/reply1",
			Record: feedItemRecord{
				Text:      "agreed",
				CreatedAt: "2026-01-01T12:00:00Z",
				Reply: &replyRef{
					Root:   ref{URI: "at://did:plc:bob/app.bsky.feed.post/root1"},
					Parent: ref{URI: "at://did:plc:bob/app.bsky.feed.post/root1"},
				},
			},
		},
	}
	_, ok := toLivePost(item)
	if ok {
		t.Fatalf("expected a reply to another account's post to be filtered out")
	}
}

func TestToLivePost_PlainPostHasNoReplyIdentifier(t *testing.T) {
	item := feedItem{
		Post: feedItemPost{
			URI: "at://did:plc:alice/app.bsky.feed.post/p1",
			Record: feedItemRecord{
				Text:      "hello world",
				CreatedAt: "2026-01-01T12:00:00Z",
			},
		},
	}
	p, ok := toLivePost(item)
	if !ok {
		t.Fatalf("expected a plain post to pass through")
	}
	if p.ReplySrcIdentifier != "" {
		t.Fatalf("expected no reply identifier on a plain post, got %q", p.ReplySrcIdentifier)
	}
}
