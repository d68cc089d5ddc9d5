// Package misskey implements the Misskey adapter. Misskey's API is
// POST-only with the auth token embedded in the JSON body ("i") rather
// than a bearer header, and different forks/versions return slightly
// different optional fields — so instead of a full response struct per
// endpoint, responses are read with github.com/tidwall/gjson, an
// "extract what you need, tolerate the rest" posture consistent with
// how this codebase handles other loosely-specified raw JSON payloads.
package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/klppl/timelineecho/internal/model"
)

// Client talks to one Misskey instance as one authenticated account.
type Client struct {
	BaseURL string
	Token   string
	http    *http.Client
}

// New creates a Misskey client. baseURL is the instance origin; token is
// an API access token issued for the account.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Origin() model.Protocol { return model.ProtocolMisskey }

func (c *Client) FetchStatuses(ctx context.Context) ([]model.LivePost, error) {
	resp, err := c.call(ctx, "/api/users/notes", map[string]interface{}{"limit": 40, "withReplies": true})
	if err != nil {
		return nil, fmt.Errorf("misskey users/notes: %w", err)
	}
	var posts []model.LivePost
	gjson.ParseBytes(resp).ForEach(func(_, note gjson.Result) bool {
		p, ok := toLivePost(note)
		if ok {
			posts = append(posts, p)
		}
		return true
	})
	return posts, nil
}

func (c *Client) Post(ctx context.Context, op model.Operation) (string, error) {
	resp, err := c.call(ctx, "/api/notes/create", map[string]interface{}{"text": op.Content})
	if err != nil {
		return "", fmt.Errorf("misskey notes/create: %w", err)
	}
	id := gjson.GetBytes(resp, "createdNote.id").String()
	if id == "" {
		return "", fmt.Errorf("misskey notes/create: no note id in response")
	}
	return id, nil
}

func (c *Client) Repost(ctx context.Context, dstIdentifier string) (string, error) {
	resp, err := c.call(ctx, "/api/notes/create", map[string]interface{}{"renoteId": dstIdentifier})
	if err != nil {
		return "", fmt.Errorf("misskey renote: %w", err)
	}
	id := gjson.GetBytes(resp, "createdNote.id").String()
	if id == "" {
		return "", fmt.Errorf("misskey renote: no note id in response")
	}
	return id, nil
}

// Update is unsupported: Misskey notes cannot be edited in place
// (renoting/deleting+recreating is the only available operation); the
// merge engine folds edits into a still-pending Create instead (see
// DESIGN.md), so this path only fires for an edit discovered after the
// original Create already dispatched.
func (c *Client) Update(ctx context.Context, dstIdentifier string, op model.Operation) error {
	return fmt.Errorf("misskey: notes cannot be edited, cannot update %s", dstIdentifier)
}

func (c *Client) Delete(ctx context.Context, dstIdentifier string) error {
	_, err := c.call(ctx, "/api/notes/delete", map[string]interface{}{"noteId": dstIdentifier})
	if err != nil {
		return fmt.Errorf("misskey notes/delete: %w", err)
	}
	return nil
}

func (c *Client) DeleteRepost(ctx context.Context, dstIdentifier string) error {
	return c.Delete(ctx, dstIdentifier)
}

func (c *Client) call(ctx context.Context, path string, params map[string]interface{}) ([]byte, error) {
	params["i"] = c.Token
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "timelineecho/1.0 (+misskey adapter)")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func toLivePost(note gjson.Result) (model.LivePost, bool) {
	createdAt := note.Get("createdAt").String()
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return model.LivePost{}, false
	}
	id := note.Get("id").String()
	if id == "" {
		return model.LivePost{}, false
	}
	if renoteID := note.Get("renoteId").String(); renoteID != "" && !note.Get("text").Exists() {
		return model.LivePost{
			Identifier:       id,
			Kind:             model.StatusKindRepost,
			CreatedAt:        t,
			TargetIdentifier: renoteID,
		}, true
	}
	return model.LivePost{
		Identifier: id,
		Kind:       model.StatusKindPost,
		CreatedAt:  t,
		Content:    note.Get("text").String(),
	}, true
}
