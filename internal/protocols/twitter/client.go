// Package twitter implements the Twitter (X) adapter. No OAuth1.0a
// library was available (see DESIGN.md), so request signing is
// hand-rolled against the standard library — crypto/hmac + crypto/sha1 —
// in the same from-scratch protocol-level crypto style this codebase
// already uses elsewhere for signed delivery.
package twitter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klppl/timelineecho/internal/model"
)

const apiBase = "https://api.twitter.com/2"

// Client signs every request with OAuth 1.0a user-context credentials.
type Client struct {
	APIKey      string
	APISecret   string
	OAuthToken  string
	OAuthSecret string
	UserID      string // numeric account ID; required for FetchStatuses
	ProxyBaseURL string // optional: retweet-endpoint fallback, see DESIGN.md

	http *http.Client
}

// New creates a Twitter client for one account's OAuth1 credentials.
func New(apiKey, apiSecret, oauthToken, oauthSecret, userID, proxyBaseURL string, timeout time.Duration) *Client {
	return &Client{
		APIKey:       apiKey,
		APISecret:    apiSecret,
		OAuthToken:   oauthToken,
		OAuthSecret:  oauthSecret,
		UserID:       userID,
		ProxyBaseURL: proxyBaseURL,
		http:         &http.Client{Timeout: timeout},
	}
}

func (c *Client) Origin() model.Protocol { return model.ProtocolTwitter }

func (c *Client) FetchStatuses(ctx context.Context) ([]model.LivePost, error) {
	path := fmt.Sprintf("/users/%s/tweets", c.UserID)
	params := url.Values{"max_results": {"40"}, "tweet.fields": {"created_at,referenced_tweets"}}
	var resp tweetsResponse
	if err := c.do(ctx, http.MethodGet, apiBase+path, params, nil, &resp); err != nil {
		return nil, fmt.Errorf("twitter user tweets: %w", err)
	}
	posts := make([]model.LivePost, 0, len(resp.Data))
	for _, t := range resp.Data {
		p, ok := toLivePost(t)
		if ok {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

func (c *Client) Post(ctx context.Context, op model.Operation) (string, error) {
	body := map[string]interface{}{"text": op.Content}
	var resp createTweetResponse
	if err := c.do(ctx, http.MethodPost, apiBase+"/tweets", nil, body, &resp); err != nil {
		return "", fmt.Errorf("twitter post: %w", err)
	}
	return resp.Data.ID, nil
}

// Repost retweets dstIdentifier. On a 403 (common for accounts without
// elevated API access) it falls back to ProxyBaseURL, a configurable
// proxy endpoint mirroring the retweet on the account's behalf — the
// adapter's own concern, not core dispatch logic (see DESIGN.md).
func (c *Client) Repost(ctx context.Context, dstIdentifier string) (string, error) {
	path := fmt.Sprintf("/users/%s/retweets", c.UserID)
	body := map[string]interface{}{"tweet_id": dstIdentifier}
	var resp retweetResponse
	err := c.do(ctx, http.MethodPost, apiBase+path, nil, body, &resp)
	if err == nil {
		return dstIdentifier, nil // retweets have no identifier of their own; keyed by target
	}
	var apiErr *apiError
	if !errorsAs(err, &apiErr) || apiErr.Status != http.StatusForbidden || c.ProxyBaseURL == "" {
		return "", fmt.Errorf("twitter retweet: %w", err)
	}
	if proxyErr := c.proxyRetweet(ctx, dstIdentifier); proxyErr != nil {
		return "", fmt.Errorf("twitter retweet (proxy fallback): %w", proxyErr)
	}
	return dstIdentifier, nil
}

func (c *Client) proxyRetweet(ctx context.Context, dstIdentifier string) error {
	body, _ := json.Marshal(map[string]string{"tweetId": dstIdentifier, "userId": c.UserID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.ProxyBaseURL, "/")+"/retweet", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("proxy retweet HTTP %d", resp.StatusCode)
	}
	return nil
}

// Update is unsupported: Twitter has no edit endpoint for user-context
// OAuth1 apps; the merge engine folds edits into a still-pending Create
// instead (see DESIGN.md).
func (c *Client) Update(ctx context.Context, dstIdentifier string, op model.Operation) error {
	return fmt.Errorf("twitter: tweets cannot be edited, cannot update %s", dstIdentifier)
}

func (c *Client) Delete(ctx context.Context, dstIdentifier string) error {
	path := "/tweets/" + dstIdentifier
	if err := c.do(ctx, http.MethodDelete, apiBase+path, nil, nil, nil); err != nil {
		return fmt.Errorf("twitter delete: %w", err)
	}
	return nil
}

func (c *Client) DeleteRepost(ctx context.Context, dstIdentifier string) error {
	path := fmt.Sprintf("/users/%s/retweets/%s", c.UserID, dstIdentifier)
	if err := c.do(ctx, http.MethodDelete, apiBase+path, nil, nil, nil); err != nil {
		return fmt.Errorf("twitter unretweet: %w", err)
	}
	return nil
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body) }

func errorsAs(err error, target **apiError) bool {
	ae, ok := err.(*apiError)
	if !ok {
		return false
	}
	*target = ae
	return true
}

func (c *Client) do(ctx context.Context, method, rawURL string, query url.Values, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	fullURL := rawURL
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.oauth1Header(method, rawURL, query))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ─── OAuth 1.0a request signing (HMAC-SHA1) ───────────────────────────────

func (c *Client) oauth1Header(method, rawURL string, query url.Values) string {
	params := url.Values{}
	for k, vs := range query {
		params[k] = vs
	}
	params.Set("oauth_consumer_key", c.APIKey)
	params.Set("oauth_nonce", nonce())
	params.Set("oauth_signature_method", "HMAC-SHA1")
	params.Set("oauth_timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("oauth_token", c.OAuthToken)
	params.Set("oauth_version", "1.0")

	baseURL := strings.SplitN(rawURL, "?", 2)[0]
	sig := signature(method, baseURL, params, c.APISecret, c.OAuthSecret)
	params.Set("oauth_signature", sig)

	var b strings.Builder
	b.WriteString("OAuth ")
	keys := []string{"oauth_consumer_key", "oauth_nonce", "oauth_signature", "oauth_signature_method", "oauth_timestamp", "oauth_token", "oauth_version"}
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%q", k, url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

func signature(method, baseURL string, params url.Values, consumerSecret, tokenSecret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var paramParts []string
	for _, k := range keys {
		paramParts = append(paramParts, url.QueryEscape(k)+"="+url.QueryEscape(params.Get(k)))
	}
	paramString := strings.Join(paramParts, "&")

	base := strings.ToUpper(method) + "&" + url.QueryEscape(baseURL) + "&" + url.QueryEscape(paramString)
	signingKey := url.QueryEscape(consumerSecret) + "&" + url.QueryEscape(tokenSecret)

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func nonce() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 32)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		b[i] = alphabet[n.Int64()]
	}
	return string(b)
}

type tweetsResponse struct {
	Data []tweet `json:"data"`
}

type tweet struct {
	ID               string             `json:"id"`
	Text             string             `json:"text"`
	CreatedAt        string             `json:"created_at"`
	ReferencedTweets []referencedTweet  `json:"referenced_tweets,omitempty"`
}

type referencedTweet struct {
	Type string `json:"type"` // "retweeted" | "replied_to" | "quoted"
	ID   string `json:"id"`
}

type createTweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type retweetResponse struct {
	Data struct {
		Retweeted bool `json:"retweeted"`
	} `json:"data"`
}

func toLivePost(t tweet) (model.LivePost, bool) {
	createdAt, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return model.LivePost{}, false
	}
	for _, ref := range t.ReferencedTweets {
		if ref.Type == "retweeted" {
			return model.LivePost{
				Identifier:       t.ID,
				Kind:             model.StatusKindRepost,
				CreatedAt:        createdAt,
				TargetIdentifier: ref.ID,
			}, true
		}
	}
	return model.LivePost{
		Identifier: t.ID,
		Kind:       model.StatusKindPost,
		CreatedAt:  createdAt,
		Content:    t.Text,
	}, true
}
