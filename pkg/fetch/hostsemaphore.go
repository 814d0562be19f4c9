package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// hostEntry tracks one host's semaphore along with enough usage state to
// know when the entry has gone idle.
type hostEntry struct {
	sem         *semaphore.Weighted
	activeCount int64     // held + waiting permits
	lastRelease time.Time // updated on every Release; zero if never released
}

// HostSemaphorePool caps concurrent requests per host. A course platform
// usually serves lesson pages from its own host and media from one or
// more CDN hosts, so the set of hosts is small but not known up front;
// entries are created on first contact and evicted once idle. One pool is
// shared by the crawl and download workers so the per-host cap holds
// across lesson fetches and media transfers together.
type HostSemaphorePool struct {
	entries map[string]*hostEntry
	mu      sync.Mutex
	limit   int64
	log     *logrus.Entry
}

// NewHostSemaphorePool creates a pool with the given per-host concurrency cap.
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	return &HostSemaphorePool{
		entries: make(map[string]*hostEntry),
		limit:   limit,
		log:     log,
	}
}

// Acquire takes one permit for the host, creating its semaphore on first
// contact. Blocks until a permit frees up or ctx is cancelled.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) error {
	p.mu.Lock()
	entry, exists := p.entries[host]
	if !exists {
		entry = &hostEntry{sem: semaphore.NewWeighted(p.limit)}
		p.entries[host] = entry
		p.log.WithFields(logrus.Fields{"host": host, "limit": p.limit}).Debug("Tracking new host")
	}
	entry.activeCount++
	p.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		p.mu.Lock()
		entry.activeCount--
		p.mu.Unlock()
		return err
	}
	return nil
}

// Release returns one permit for the host.
func (p *HostSemaphorePool) Release(host string) {
	p.mu.Lock()
	entry, exists := p.entries[host]
	if !exists {
		p.mu.Unlock()
		p.log.Errorf("hostsemaphore: Release called for unknown host: %s", host)
		return
	}
	entry.activeCount--
	entry.lastRelease = time.Now()
	p.mu.Unlock()

	entry.sem.Release(1)
}

// RunEviction periodically drops idle host entries so long-running mirror
// processes don't accumulate semaphores for every CDN host ever touched.
// Run it in a goroutine.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info("Host semaphore eviction goroutine started.")

	for {
		select {
		case <-ticker.C:
			p.evictIdle(interval)
		case <-ctx.Done():
			p.log.Infof("Stopping host semaphore eviction: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes entries with no held or waiting permits whose last
// release is older than maxIdle.
func (p *HostSemaphorePool) evictIdle(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, entry := range p.entries {
		if entry.activeCount == 0 && !entry.lastRelease.IsZero() && now.Sub(entry.lastRelease) >= maxIdle {
			delete(p.entries, host)
			evicted++
		}
	}
	if evicted > 0 {
		p.log.Debugf("Evicted %d idle host semaphores, %d remain", evicted, len(p.entries))
	}
}

// Len returns the current number of tracked hosts.
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
