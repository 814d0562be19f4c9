package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"coursemirror/pkg/config"
	"coursemirror/pkg/fetch"
	"coursemirror/pkg/utils"
)

// Pool hands out session clients to crawl workers, capped at the configured
// pool size. Sessions are created lazily, reused across tasks, and destroyed
// when authentication dies under them. The semaphore is the capacity bound:
// a worker holding a Client holds one slot until Release or Invalidate.
type Pool struct {
	cfg      *config.AppConfig
	auth     AuthProvider
	detector ChallengeDetector
	baseLog  *logrus.Logger
	log      *logrus.Entry

	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []*Client
	closed bool
}

// NewPool creates a session pool. The detector may be nil when the platform
// serves no challenge pages.
func NewPool(cfg *config.AppConfig, auth AuthProvider, detector ChallengeDetector, logger *logrus.Logger) *Pool {
	if auth == nil {
		auth = NoopAuth{}
	}
	return &Pool{
		cfg:      cfg,
		auth:     auth,
		detector: detector,
		baseLog:  logger,
		log:      logger.WithField("component", "session_pool"),
		sem:      semaphore.NewWeighted(int64(cfg.SessionPoolSize)),
	}
}

// Acquire blocks until a pool slot is free, then returns an authenticated
// Client: an idle one when available, otherwise a freshly created and
// logged-in one. The caller must Release or Invalidate the Client.
func (p *Pool) Acquire(ctx context.Context) (*Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, utils.ErrSessionPoolClosed
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring session slot: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, utils.ErrSessionPoolClosed
	}
	if n := len(p.idle); n > 0 {
		client := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		client.lastUsed = time.Now()
		p.log.Debugf("Reusing idle session %s (age %s)", client.ID, client.Age().Round(time.Second))
		return client, nil
	}
	p.mu.Unlock()

	client, err := p.newSession(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return client, nil
}

// Release returns a healthy Client to the pool for reuse
func (p *Pool) Release(client *Client) {
	if client == nil {
		return
	}
	client.lastUsed = time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return
	}
	p.idle = append(p.idle, client)
	p.mu.Unlock()
	p.sem.Release(1)
	p.log.Debugf("Session %s released to pool", client.ID)
}

// Invalidate discards a Client whose auth state is no longer trusted. The
// slot is freed; the next Acquire builds a fresh session.
func (p *Pool) Invalidate(client *Client) {
	if client == nil {
		return
	}
	p.log.Infof("Session %s invalidated", client.ID)
	p.httpCloseIdle(client)
	p.sem.Release(1)
}

// Recreate replaces a dead session with a fresh logged-in one while keeping
// the caller's pool slot. Login is attempted up to MaxReloginAttempts; on
// exhaustion the slot is freed and ErrAuthentication is returned, which
// fails the task.
func (p *Pool) Recreate(ctx context.Context, old *Client) (*Client, error) {
	if old != nil {
		p.log.Infof("Recreating session %s after authentication failure", old.ID)
		p.httpCloseIdle(old)
	}

	attempts := p.cfg.MaxReloginAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			p.sem.Release(1)
			return nil, ctx.Err()
		}
		client, err := p.newSession(ctx)
		if err == nil {
			return client, nil
		}
		lastErr = err
		p.log.Warnf("Re-login attempt %d/%d failed: %v", attempt, attempts, err)
	}

	p.sem.Release(1)
	return nil, fmt.Errorf("%w: re-login failed after %d attempts: %w", utils.ErrAuthentication, attempts, lastErr)
}

// newSession builds a Client with its own cookie jar and logs it in.
// Callers must already hold a semaphore slot.
func (p *Pool) newSession(ctx context.Context) (*Client, error) {
	httpClient, err := fetch.NewSessionClient(p.cfg.HTTPClientSettings, p.baseLog)
	if err != nil {
		return nil, err
	}

	client := &Client{
		ID:         newClientID(),
		httpClient: httpClient,
		fetcher:    fetch.NewFetcher(httpClient, p.cfg, p.baseLog),
		detector:   p.detector,
		userAgent:  p.cfg.DefaultUserAgent,
		createdAt:  time.Now(),
		lastUsed:   time.Now(),
	}
	client.log = p.baseLog.WithField("session_id", client.ID)

	if err := p.auth.Login(ctx, client); err != nil {
		return nil, fmt.Errorf("%w: login for new session failed: %w", utils.ErrAuthentication, err)
	}

	p.log.Infof("Created session %s", client.ID)
	return client, nil
}

// Close marks the pool closed and drops idle sessions. Clients already
// handed out keep working; their Release becomes a discard.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, client := range p.idle {
		p.httpCloseIdle(client)
	}
	p.idle = nil
	p.log.Info("Session pool closed")
}

// IdleCount reports how many sessions are parked in the pool
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *Pool) httpCloseIdle(client *Client) {
	if client != nil && client.httpClient != nil {
		client.httpClient.CloseIdleConnections()
	}
}
