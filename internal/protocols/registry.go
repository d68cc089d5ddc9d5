// Package protocols wires a model.SourceAccount/DestinationAccount to its
// concrete adapter implementation. Grounded directly on
// original_source/src/protocols.rs's create_client/create_clients factory
// dispatch on the config Account enum.
package protocols

import (
	"fmt"
	"strings"
	"time"

	"github.com/klppl/timelineecho/internal/adapter"
	"github.com/klppl/timelineecho/internal/model"
	"github.com/klppl/timelineecho/internal/protocols/atproto"
	"github.com/klppl/timelineecho/internal/protocols/mastodon"
	"github.com/klppl/timelineecho/internal/protocols/misskey"
	"github.com/klppl/timelineecho/internal/protocols/twitter"
)

// splitIdentifier reverses config.accountIdentifier's "origin|identifier"
// folding, used by protocols whose client needs the instance base URL
// and handle separately.
func splitIdentifier(id string) (origin, identifier string) {
	parts := strings.SplitN(id, "|", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", id
}

// NewSourceAdapter builds the adapter for a user's source account.
func NewSourceAdapter(a model.SourceAccount, timeout time.Duration) (adapter.Adapter, error) {
	origin, identifier := splitIdentifier(a.Identifier)
	switch a.Origin {
	case model.ProtocolATProto:
		return atproto.New(origin, identifier, a.AppPassword, timeout), nil
	case model.ProtocolMastodon:
		return mastodon.New(origin, a.AccessToken, timeout), nil
	case model.ProtocolMisskey:
		return misskey.New(origin, a.AccessToken, timeout), nil
	case model.ProtocolTwitter:
		return twitter.New(a.APIKey, a.APISecret, a.OAuthToken, a.OAuthSecret, identifier, "", timeout), nil
	default:
		return nil, fmt.Errorf("unknown source protocol %q", a.Origin)
	}
}

// NewDestinationAdapter builds the adapter for one of a user's
// destination accounts.
func NewDestinationAdapter(a model.DestinationAccount, proxyBaseURL string, timeout time.Duration) (adapter.Adapter, error) {
	origin, identifier := splitIdentifier(a.Identifier)
	switch a.Origin {
	case model.ProtocolATProto:
		return atproto.New(origin, identifier, a.AppPassword, timeout), nil
	case model.ProtocolMastodon:
		return mastodon.New(origin, a.AccessToken, timeout), nil
	case model.ProtocolMisskey:
		return misskey.New(origin, a.AccessToken, timeout), nil
	case model.ProtocolTwitter:
		return twitter.New(a.APIKey, a.APISecret, a.OAuthToken, a.OAuthSecret, identifier, proxyBaseURL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown destination protocol %q", a.Origin)
	}
}
