// Package mastodon implements the Mastodon adapter using its bearer-token
// REST API, following the shared-*http.Client, explicit User-Agent, and
// wrapped-error HTTP call shape used throughout this codebase for plain
// bearer-token JSON REST calls that aren't HTTP-signature-verified delivery.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klppl/timelineecho/internal/model"
)

// Client talks to one Mastodon instance as one authenticated account.
type Client struct {
	BaseURL     string
	AccessToken string
	http        *http.Client
}

// New creates a Mastodon client. baseURL is the instance origin (e.g.
// "https://mastodon.social"); accessToken is an OAuth2 bearer token
// scoped to read/write on statuses.
func New(baseURL, accessToken string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		http:        &http.Client{Timeout: timeout},
	}
}

func (c *Client) Origin() model.Protocol { return model.ProtocolMastodon }

func (c *Client) FetchStatuses(ctx context.Context) ([]model.LivePost, error) {
	var statuses []statusResp
	var account struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, &account); err != nil {
		return nil, fmt.Errorf("mastodon verify_credentials: %w", err)
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/statuses?limit=40", account.ID)
	if err := c.do(ctx, http.MethodGet, path, nil, &statuses); err != nil {
		return nil, fmt.Errorf("mastodon account statuses: %w", err)
	}
	posts := make([]model.LivePost, 0, len(statuses))
	for _, s := range statuses {
		p, ok := toLivePost(s)
		if ok {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

func (c *Client) Post(ctx context.Context, op model.Operation) (string, error) {
	body := map[string]interface{}{"status": op.Content}
	var resp statusResp
	if err := c.do(ctx, http.MethodPost, "/api/v1/statuses", body, &resp); err != nil {
		return "", fmt.Errorf("mastodon post: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) Repost(ctx context.Context, dstIdentifier string) (string, error) {
	var resp statusResp
	path := fmt.Sprintf("/api/v1/statuses/%s/reblog", dstIdentifier)
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", fmt.Errorf("mastodon reblog: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) Update(ctx context.Context, dstIdentifier string, op model.Operation) error {
	body := map[string]interface{}{"status": op.Content}
	path := fmt.Sprintf("/api/v1/statuses/%s", dstIdentifier)
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("mastodon update: %w", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, dstIdentifier string) error {
	path := fmt.Sprintf("/api/v1/statuses/%s", dstIdentifier)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("mastodon delete: %w", err)
	}
	return nil
}

func (c *Client) DeleteRepost(ctx context.Context, dstIdentifier string) error {
	path := fmt.Sprintf("/api/v1/statuses/%s/unreblog", dstIdentifier)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("mastodon unreblog: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "timelineecho/1.0 (+mastodon adapter)")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type statusResp struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	CreatedAt string     `json:"created_at"`
	Reblog    *statusResp `json:"reblog,omitempty"`
}

func toLivePost(s statusResp) (model.LivePost, bool) {
	t, err := time.Parse(time.RFC3339, s.CreatedAt)
	if err != nil {
		return model.LivePost{}, false
	}
	if s.Reblog != nil {
		return model.LivePost{
			Identifier:       s.ID,
			Kind:             model.StatusKindRepost,
			CreatedAt:        t,
			TargetIdentifier: s.Reblog.ID,
		}, true
	}
	return model.LivePost{
		Identifier: s.ID,
		Kind:       model.StatusKindPost,
		CreatedAt:  t,
		Content:    stripTags(s.Content),
	}, true
}

// stripTags removes Mastodon's HTML status wrapping (its statuses are
// always HTML, typically just <p>...</p>) down to plain text suitable
// for re-posting to a plain-text destination protocol.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
