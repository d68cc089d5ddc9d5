// Package atproto implements the AT Protocol (Bluesky) adapter.
// Grounded directly on internal/bsky/client.go: this is a near-verbatim
// reuse of its XRPC session handling, single-flight re-authentication on
// 401, and rate-limit back-off reading Retry-After/RateLimit-Reset — the
// teacher's Bluesky client already is an AT Protocol client, which is
// exactly one of this spec's four required protocols.
package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/klppl/timelineecho/internal/model"
)

const defaultPDSURL = "https://bsky.social"

// Client is a thin XRPC HTTP client for one account's PDS session,
// satisfying adapter.Adapter.
type Client struct {
	PDSURL      string
	Identifier  string
	AppPassword string

	mu                 sync.Mutex
	session            *session
	http               *http.Client
	rateLimitRemaining int
	rateLimitReset     time.Time

	// reauth serialises re-authentication attempts so concurrent fetch
	// goroutines that both receive a 401 don't each independently call
	// createSession (thundering herd on the token endpoint).
	reauth sync.Mutex
}

const rateLimitWarnThreshold = 10
const rateLimitRetryMax = 5 * time.Minute

type session struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

type createSessionInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type errRateLimited struct{ RetryAfter time.Duration }

func (e *errRateLimited) Error() string {
	return fmt.Sprintf("rate limited by Bluesky PDS; retry after %s", e.RetryAfter.Round(time.Second))
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if s := resp.Header.Get("RateLimit-Reset"); s != "" {
		if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
			if d := time.Until(time.Unix(ts, 0)); d > 0 {
				return d
			}
		}
	}
	return 30 * time.Second
}

// New creates a new AT Protocol client for identifier, authenticating
// against pdsURL (defaultPDSURL when empty).
func New(pdsURL, identifier, appPassword string, timeout time.Duration) *Client {
	if pdsURL == "" {
		pdsURL = defaultPDSURL
	}
	return &Client{
		PDSURL:      pdsURL,
		Identifier:  identifier,
		AppPassword: appPassword,
		http:        &http.Client{Timeout: timeout},
	}
}

func (c *Client) Origin() model.Protocol { return model.ProtocolATProto }

// Authenticate creates a session via com.atproto.server.createSession.
func (c *Client) Authenticate(ctx context.Context) error {
	input := createSessionInput{Identifier: c.Identifier, Password: c.AppPassword}
	var s session
	if err := c.xrpcPost(ctx, "com.atproto.server.createSession", input, &s); err != nil {
		return fmt.Errorf("atproto authenticate: %w", err)
	}
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	slog.Info("atproto authenticated", "did", s.DID, "handle", s.Handle)
	return nil
}

func (c *Client) singleAuthenticate(ctx context.Context, staleToken string) error {
	c.reauth.Lock()
	defer c.reauth.Unlock()

	c.mu.Lock()
	var current string
	if c.session != nil {
		current = c.session.AccessJwt
	}
	c.mu.Unlock()

	if staleToken != "" && current != staleToken {
		return nil
	}
	slog.Warn("atproto token expired, re-authenticating")
	return c.Authenticate(ctx)
}

// FetchStatuses lists the authoring account's recent posts/reposts via
// app.bsky.feed.getAuthorFeed.
func (c *Client) FetchStatuses(ctx context.Context) ([]model.LivePost, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("actor", c.DID())
	params.Set("limit", "50")
	var resp authorFeedResponse
	if err := c.authedGet(ctx, "app.bsky.feed.getAuthorFeed", params, &resp); err != nil {
		return nil, fmt.Errorf("atproto getAuthorFeed: %w", err)
	}

	posts := make([]model.LivePost, 0, len(resp.Feed))
	for _, item := range resp.Feed {
		p, ok := toLivePost(item)
		if ok {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

// Post creates a post record via com.atproto.repo.createRecord.
func (c *Client) Post(ctx context.Context, op model.Operation) (string, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return "", err
	}
	record := feedPost{
		Type:      "app.bsky.feed.post",
		Text:      op.Content,
		CreatedAt: op.CreatedAt.UTC().Format(time.RFC3339),
	}
	if op.External != nil && op.External.State == model.ExternalSome {
		record.Embed = &externalEmbed{
			Type: "app.bsky.embed.external",
			External: externalEmbedPayload{
				URI:         op.External.URL,
				Title:       op.External.Title,
				Description: op.External.Description,
			},
		}
	}
	if op.ReplyDstIdentifier != "" {
		parent := ref{URI: op.ReplyDstIdentifier}
		record.Reply = &outgoingReply{Root: parent, Parent: parent}
	}
	resp, err := c.createRecord(ctx, "app.bsky.feed.post", record)
	if err != nil {
		return "", fmt.Errorf("atproto post: %w", err)
	}
	return resp.URI, nil
}

// Repost creates a repost record referencing dstIdentifier (an at:// URI).
func (c *Client) Repost(ctx context.Context, dstIdentifier string) (string, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return "", err
	}
	record := repostRecord{
		Type:      "app.bsky.feed.repost",
		Subject:   ref{URI: dstIdentifier},
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	resp, err := c.createRecord(ctx, "app.bsky.feed.repost", record)
	if err != nil {
		return "", fmt.Errorf("atproto repost: %w", err)
	}
	return resp.URI, nil
}

// Update is unsupported by the AT Protocol lexicon (records are
// immutable once created by rkey); the merge engine folds edits into a
// still-pending Create instead (see DESIGN.md), so this path is only hit
// for an edit discovered after the original Create already dispatched —
// treated as a delete-then-recreate by the caller's retry logic is out of
// scope here, so this simply reports the limitation.
func (c *Client) Update(ctx context.Context, dstIdentifier string, op model.Operation) error {
	return fmt.Errorf("atproto: records are immutable, cannot update %s", dstIdentifier)
}

// Delete removes a record via com.atproto.repo.deleteRecord.
func (c *Client) Delete(ctx context.Context, dstIdentifier string) error {
	return c.deleteRecord(ctx, dstIdentifier)
}

// DeleteRepost removes a repost record the same way a post is deleted —
// reposts and posts are both ordinary records identified by URI.
func (c *Client) DeleteRepost(ctx context.Context, dstIdentifier string) error {
	return c.deleteRecord(ctx, dstIdentifier)
}

func (c *Client) deleteRecord(ctx context.Context, atURI string) error {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return err
	}
	collection := collectionFromURI(atURI)
	rkey := rkeyFromURI(atURI)
	if collection == "" || rkey == "" {
		return fmt.Errorf("atproto delete: malformed AT URI %q", atURI)
	}
	req := deleteRecordRequest{Repo: c.DID(), Collection: collection, RKey: rkey}
	if err := c.authedPost(ctx, "com.atproto.repo.deleteRecord", req, nil); err != nil {
		return fmt.Errorf("atproto deleteRecord: %w", err)
	}
	return nil
}

func (c *Client) ensureAuthenticated(ctx context.Context) error {
	if c.currentToken() != "" {
		return nil
	}
	return c.Authenticate(ctx)
}

func (c *Client) createRecord(ctx context.Context, collection string, record interface{}) (*createRecordResponse, error) {
	req := createRecordRequest{Repo: c.DID(), Collection: collection, Record: record}
	var resp createRecordResponse
	if err := c.authedPost(ctx, "com.atproto.repo.createRecord", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ─── Internal HTTP plumbing ────────────────────────────────────────────────

var errAuthExpired = errors.New("auth expired")

func isAuthError(err error) bool { return errors.Is(err, errAuthExpired) }

func (c *Client) authedPost(ctx context.Context, method string, body, out interface{}) error {
	staleToken := c.currentToken()
	err := c.xrpcPostWithAuth(ctx, method, body, out)
	if isAuthError(err) {
		if authErr := c.singleAuthenticate(ctx, staleToken); authErr != nil {
			return fmt.Errorf("re-authenticate: %w", authErr)
		}
		err = c.xrpcPostWithAuth(ctx, method, body, out)
	}
	return c.retryOnRateLimit(ctx, err, func() error { return c.xrpcPostWithAuth(ctx, method, body, out) })
}

func (c *Client) authedGet(ctx context.Context, method string, params url.Values, out interface{}) error {
	staleToken := c.currentToken()
	err := c.xrpcGetWithAuth(ctx, method, params, out)
	if isAuthError(err) {
		if authErr := c.singleAuthenticate(ctx, staleToken); authErr != nil {
			return fmt.Errorf("re-authenticate: %w", authErr)
		}
		err = c.xrpcGetWithAuth(ctx, method, params, out)
	}
	return c.retryOnRateLimit(ctx, err, func() error { return c.xrpcGetWithAuth(ctx, method, params, out) })
}

func (c *Client) retryOnRateLimit(ctx context.Context, err error, retry func() error) error {
	var rl *errRateLimited
	if !errors.As(err, &rl) {
		return err
	}
	wait := rl.RetryAfter
	if wait > rateLimitRetryMax {
		wait = rateLimitRetryMax
	}
	slog.Warn("atproto rate limited, backing off", "retry_after", humanize.RelTime(time.Now(), time.Now().Add(wait), "", ""))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}
	return retry()
}

func (c *Client) xrpcPost(ctx context.Context, method string, body, out interface{}) error {
	return c.doPost(ctx, method, body, out, "")
}

func (c *Client) xrpcPostWithAuth(ctx context.Context, method string, body, out interface{}) error {
	return c.doPost(ctx, method, body, out, c.authHeader())
}

func (c *Client) xrpcGetWithAuth(ctx context.Context, method string, params url.Values, out interface{}) error {
	rawURL := c.PDSURL + "/xrpc/" + method
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create GET request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "timelineecho/1.0 (+atproto adapter)")
	if auth := c.authHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return c.doRequest(req, out)
}

func (c *Client) doPost(ctx context.Context, method string, body, out interface{}, authHeader string) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	rawURL := c.PDSURL + "/xrpc/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "timelineecho/1.0 (+atproto adapter)")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	return c.doRequest(req, out)
}

func (c *Client) updateRateLimit(resp *http.Response) {
	s := resp.Header.Get("RateLimit-Remaining")
	if s == "" {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return
	}
	var reset time.Time
	if rs := resp.Header.Get("RateLimit-Reset"); rs != "" {
		if ts, err := strconv.ParseInt(rs, 10, 64); err == nil {
			reset = time.Unix(ts, 0)
		}
	}
	c.mu.Lock()
	c.rateLimitRemaining = n
	c.rateLimitReset = reset
	c.mu.Unlock()
	if n <= rateLimitWarnThreshold {
		slog.Warn("atproto rate limit headroom low", "remaining", n, "reset_in", time.Until(reset).Round(time.Second))
	}
}

func (c *Client) doRequest(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	c.updateRateLimit(resp)

	if resp.StatusCode == 401 {
		return errAuthExpired
	}
	if resp.StatusCode == 400 && strings.Contains(string(respBody), "ExpiredToken") {
		return errAuthExpired
	}
	if resp.StatusCode == 429 {
		return &errRateLimited{RetryAfter: parseRetryAfter(resp)}
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

func (c *Client) authHeader() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return "Bearer " + c.session.AccessJwt
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessJwt
}

// DID returns the authenticated user's DID, or "" if not authenticated.
func (c *Client) DID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.DID
}

func collectionFromURI(atURI string) string {
	parts := strings.Split(strings.TrimPrefix(atURI, "at://"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func rkeyFromURI(atURI string) string {
	parts := strings.Split(strings.TrimPrefix(atURI, "at://"), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
