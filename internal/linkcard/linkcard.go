// Package linkcard synthesizes title/description/image metadata for a
// post's first external link, the way a social client renders a preview
// card. Grounded on the original fetch_html/create_external logic: best
// effort only, any failure falls back to "no card" rather than failing
// the run.
package linkcard

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/klppl/timelineecho/internal/model"
)

// Client fetches and parses link-card metadata with a short, bounded
// timeout so a slow link host can never eat into the run's wall-clock
// budget (spec: "permissive timeout ... never fail the run").
type Client struct {
	HTTP *http.Client
}

// NewClient builds a Client with the default 6s timeout.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 6 * time.Second}}
}

// Fetch retrieves and parses url, returning a LinkCard describing its
// title, description, and og:image. It never returns an error for a bad
// or unreachable URL — only for a canceled context — logging a warning
// and returning a LinkCard in the "none" state instead.
func (c *Client) Fetch(ctx context.Context, url string) (*model.LinkCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Warn("linkcard: bad request", "url", url, "error", err)
		return &model.LinkCard{State: model.ExternalNone, URL: url}, nil
	}
	req.Header.Set("User-Agent", "timelineecho/1.0 (+link preview fetch)")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("linkcard: fetch failed", "url", url, "error", err)
		return &model.LinkCard{State: model.ExternalNone, URL: url}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("linkcard: non-2xx response", "url", url, "status", resp.StatusCode)
		return &model.LinkCard{State: model.ExternalNone, URL: url}, nil
	}

	card := parseMeta(resp.Body, url)
	if card.Title == "" && card.Description == "" && card.ImageURL == "" {
		return &model.LinkCard{State: model.ExternalNone, URL: url}, nil
	}
	card.State = model.ExternalSome
	card.URL = url
	return card, nil
}

// parseMeta tokenizes HTML looking for <title> and the handful of meta
// tags a link-preview card needs. Malformed HTML degrades gracefully:
// whatever was parsed before the tokenizer gave up is still returned.
func parseMeta(body io.Reader, url string) *model.LinkCard {
	card := &model.LinkCard{URL: url}
	tok := html.NewTokenizer(body)
	inTitle := false
	hasOGTitle := false

	for {
		tt := tok.Next()
		switch tt {
		case html.ErrorToken:
			return card
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tok.TagName()
			tagName := string(name)
			if tagName == "title" && tt == html.StartTagToken {
				inTitle = true
				continue
			}
			if tagName != "meta" || !hasAttr {
				continue
			}
			attrs := map[string]string{}
			for {
				key, val, more := tok.TagAttr()
				attrs[string(key)] = string(val)
				if !more {
					break
				}
			}
			switch {
			case strings.EqualFold(attrs["property"], "og:title") && !hasOGTitle:
				card.Title = attrs["content"]
				hasOGTitle = true
			case strings.EqualFold(attrs["property"], "og:description") && card.Description == "":
				card.Description = attrs["content"]
			case strings.EqualFold(attrs["name"], "description") && card.Description == "":
				card.Description = attrs["content"]
			case strings.EqualFold(attrs["property"], "og:image") && card.ImageURL == "":
				card.ImageURL = attrs["content"]
			}
		case html.TextToken:
			if inTitle && card.Title == "" {
				card.Title = strings.TrimSpace(string(tok.Text()))
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			if string(name) == "title" {
				inTitle = false
			}
		}
	}
}
