package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coursemirror/pkg/fetch"
	"coursemirror/pkg/utils"
)

// AuthProvider supplies login state for a session client. Implementations
// are platform-specific collaborators: cookie imports, credential logins,
// token refreshes. The pool calls Login when a session is created and again
// when an authentication failure invalidates one.
type AuthProvider interface {
	Login(ctx context.Context, client *Client) error
}

// ChallengeDetector inspects a fetched page and reports whether it is a
// challenge or interstitial that needs operator action (captcha, device
// verification). How such pages look is platform markup knowledge, so the
// detector is a collaborator like AuthProvider.
type ChallengeDetector interface {
	Blocked(doc *goquery.Document) bool
}

// NoopAuth is an AuthProvider for platforms whose content needs no login.
type NoopAuth struct{}

func (NoopAuth) Login(ctx context.Context, client *Client) error { return nil }

// Client is one authenticated browsing context: an HTTP client with its own
// cookie jar, plus the retrying fetcher bound to it. A Client is exclusively
// owned by one worker between Acquire and Release, never shared.
type Client struct {
	ID         string
	httpClient *http.Client
	fetcher    *fetch.Fetcher
	detector   ChallengeDetector
	userAgent  string
	createdAt  time.Time
	lastUsed   time.Time
	log        *logrus.Entry
}

// HTTPClient exposes the underlying client so auth providers can set cookies
// on the jar or perform login POSTs with the session's own transport.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Fetch performs a GET through the session, with the fetcher's retry and
// backoff policy applied. 401/403 responses surface as ErrAuthentication.
// On error the response body is already drained and closed; resp is nil.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for '%s': %w", utils.ErrRequestCreation, rawURL, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.fetcher.FetchWithRetry(req, ctx)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, err
	}
	return resp, nil
}

// FetchDocument is the navigate-and-extract primitive: GET a page, parse it,
// and run challenge detection. A detected challenge returns
// ErrManualIntervention with the document discarded, so callers pause
// instead of parsing an interstitial as course content.
func (c *Client) FetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML from '%s': %w", utils.ErrParsing, rawURL, err)
	}

	if c.detector != nil && c.detector.Blocked(doc) {
		c.log.Warnf("Challenge page detected at '%s'", rawURL)
		return nil, fmt.Errorf("%w: challenge page at '%s'", utils.ErrManualIntervention, rawURL)
	}

	return doc, nil
}

// Age returns how long the session has existed
func (c *Client) Age() time.Duration {
	return time.Since(c.createdAt)
}

func newClientID() string {
	return uuid.NewString()
}
