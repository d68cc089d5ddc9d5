package protocols

import (
	"testing"
	"time"

	"github.com/klppl/timelineecho/internal/model"
)

func TestSplitIdentifier_SplitsOriginAndIdentifier(t *testing.T) {
	origin, identifier := splitIdentifier("https://mastodon.social|alice")
	if origin != "https://mastodon.social" || identifier != "alice" {
		t.Fatalf("unexpected split: origin=%q identifier=%q", origin, identifier)
	}
}

func TestSplitIdentifier_NoSeparatorReturnsBareIdentifier(t *testing.T) {
	origin, identifier := splitIdentifier("alice")
	if origin != "" || identifier != "alice" {
		t.Fatalf("unexpected split: origin=%q identifier=%q", origin, identifier)
	}
}

func TestNewDestinationAdapter_UnknownProtocolErrors(t *testing.T) {
	_, err := NewDestinationAdapter(model.DestinationAccount{
		AccountKey: model.AccountKey{Origin: "nonsense", Identifier: "x"},
	}, "", time.Second)
	if err == nil {
		t.Fatalf("expected an error for an unknown protocol")
	}
}

func TestNewSourceAdapter_EachKnownProtocolConstructs(t *testing.T) {
	for _, p := range []model.Protocol{model.ProtocolATProto, model.ProtocolMastodon, model.ProtocolMisskey, model.ProtocolTwitter} {
		a, err := NewSourceAdapter(model.SourceAccount{
			AccountKey: model.AccountKey{Origin: p, Identifier: "https://example.com|alice"},
		}, time.Second)
		if err != nil {
			t.Fatalf("protocol %s: unexpected error: %v", p, err)
		}
		if a.Origin() != p {
			t.Fatalf("protocol %s: adapter reports wrong origin %s", p, a.Origin())
		}
	}
}
