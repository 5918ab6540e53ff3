package posts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agnosto/toot-scraper/utils"
	"github.com/araddon/dateparse"
	"golang.org/x/time/rate"
)

// Status is the part of a Mastodon status the downloader needs.
type Status struct {
	ID          string  `json:"id"`
	URI         string  `json:"uri"`
	URL         string  `json:"url"`
	Content     string  `json:"content"`
	SpoilerText string  `json:"spoiler_text"`
	Language    *string `json:"language"`
	Visibility  string  `json:"visibility"`
	CreatedAt   string  `json:"created_at"`
	Reblog      *Status `json:"reblog"`
}

// IsReblog reports whether the status is a boost with no content of its own.
func (s Status) IsReblog() bool {
	return s.Reblog != nil
}

// HasLanguage reports whether the status declares a language. Some servers
// send an empty string instead of null.
func (s Status) HasLanguage() bool {
	return s.Language != nil && *s.Language != ""
}

func (s Status) HasContentWarning() bool {
	return s.SpoilerText != ""
}

// Client fetches account timelines page by page. It paces its own requests
// but never retries; what to do after a failure is up to the caller.
type Client struct {
	httpClient *http.Client
	site       string
	pageSize   int
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewClient returns a Client for site. httpClient must carry the bot's
// credentials and the per-request timeout.
func NewClient(httpClient *http.Client, site string, pageSize int, interval time.Duration) *Client {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Client{
		httpClient: httpClient,
		site:       strings.TrimRight(site, "/"),
		pageSize:   pageSize,
		limiter:    rate.NewLimiter(limit, 1),
		now:        time.Now,
	}
}

// FetchPage returns up to one page of statuses newer than minID, in the
// order the server sent them. An empty page means there is nothing left.
func (c *Client) FetchPage(ctx context.Context, accountID, minID string) ([]Status, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &FetchError{Kind: KindOther, Err: fmt.Errorf("rate limiter error: %w", err)}
	}

	pageURL := utils.JoinURL(c.site, "/api/v1/accounts/"+url.PathEscape(accountID)+"/statuses")
	query := url.Values{}
	query.Set("min_id", minID)
	query.Set("limit", strconv.Itoa(c.pageSize))
	pageURL += "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindOther, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &FetchError{
			Kind:       KindRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header, c.now()),
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &FetchError{Kind: KindExhausted, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Kind:       KindOther,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to fetch statuses of %s: %s", accountID, strings.TrimSpace(string(body))),
		}
	}

	var page []Status
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isTimeout(err) {
			return nil, &FetchError{Kind: KindTimeout, Err: err}
		}
		return nil, &FetchError{Kind: KindOther, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode statuses: %w", err)}
	}

	return page, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classifyTransportError(err error) error {
	if isTimeout(err) {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	return &FetchError{Kind: KindOther, Err: err}
}

// retryAfter reads the server's hint from Retry-After (seconds or a date)
// or Mastodon's X-RateLimit-Reset timestamp.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return clampWait(time.Duration(secs) * time.Second)
		}
		if at, err := dateparse.ParseAny(v); err == nil {
			return clampWait(at.Sub(now))
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if at, err := dateparse.ParseAny(v); err == nil {
			return clampWait(at.Sub(now))
		}
	}
	return 0
}

func clampWait(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
