package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestSemPool(limit int) *HostSemaphorePool {
	return NewHostSemaphorePool(limit, logrus.NewEntry(testLogger()))
}

func TestHostSemaphore_CapsConcurrencyPerHost(t *testing.T) {
	pool := newTestSemPool(2)
	host := "cdn.example.com"

	if err := pool.Acquire(context.Background(), host); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := pool.Acquire(context.Background(), host); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	// Both permits held, a third caller must block until timeout
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Acquire(ctx, host); err == nil {
		t.Fatal("expected third acquire to block, but it succeeded")
	}

	pool.Release(host)
	if err := pool.Acquire(context.Background(), host); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}

	pool.Release(host)
	pool.Release(host)
}

func TestHostSemaphore_PlatformAndCDNDoNotInterfere(t *testing.T) {
	pool := newTestSemPool(1)

	// Lesson fetches saturating the platform host must not block media
	// transfers from the CDN
	if err := pool.Acquire(context.Background(), "learn.example.com"); err != nil {
		t.Fatalf("platform host acquire failed: %v", err)
	}
	if err := pool.Acquire(context.Background(), "cdn.example.com"); err != nil {
		t.Fatalf("cdn host acquire failed: %v", err)
	}

	if pool.Len() != 2 {
		t.Errorf("expected 2 tracked hosts, got %d", pool.Len())
	}

	pool.Release("learn.example.com")
	pool.Release("cdn.example.com")
}

func TestHostSemaphore_EvictIdle_RemovesIdleHosts(t *testing.T) {
	pool := newTestSemPool(1)

	hosts := []string{"learn.example.com", "media-1.cdn.example.com", "media-2.cdn.example.com"}
	for _, host := range hosts {
		if err := pool.Acquire(context.Background(), host); err != nil {
			t.Fatalf("acquire %s failed: %v", host, err)
		}
		pool.Release(host)
	}

	if pool.Len() != len(hosts) {
		t.Fatalf("expected %d hosts before eviction, got %d", len(hosts), pool.Len())
	}

	time.Sleep(5 * time.Millisecond)
	pool.evictIdle(1 * time.Millisecond)

	if pool.Len() != 0 {
		t.Errorf("expected 0 hosts after eviction, got %d", pool.Len())
	}
}

func TestHostSemaphore_EvictIdle_KeepsHostsWithHeldPermits(t *testing.T) {
	pool := newTestSemPool(1)

	// A long video download holds its permit through the eviction pass
	if err := pool.Acquire(context.Background(), "cdn.example.com"); err != nil {
		t.Fatalf("acquire cdn host failed: %v", err)
	}

	if err := pool.Acquire(context.Background(), "learn.example.com"); err != nil {
		t.Fatalf("acquire platform host failed: %v", err)
	}
	pool.Release("learn.example.com")

	time.Sleep(5 * time.Millisecond)
	pool.evictIdle(1 * time.Millisecond)

	if pool.Len() != 1 {
		t.Errorf("expected the held cdn entry to survive, got %d hosts", pool.Len())
	}

	pool.Release("cdn.example.com")
}

func TestHostSemaphore_RunEviction_StopsOnContextCancel(t *testing.T) {
	pool := newTestSemPool(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		pool.RunEviction(ctx, time.Minute)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunEviction did not stop on context cancellation")
	}
}

func TestHostSemaphore_CancelledAcquireReleasesItsSlot(t *testing.T) {
	pool := newTestSemPool(1)
	host := "cdn.example.com"

	if err := pool.Acquire(context.Background(), host); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Acquire(ctx, host); err == nil {
		t.Fatal("expected acquire with cancelled context to fail")
	}

	pool.Release(host)

	// The failed acquire must not leave a phantom active count behind,
	// or the entry would never be evictable
	time.Sleep(5 * time.Millisecond)
	pool.evictIdle(1 * time.Millisecond)
	if pool.Len() != 0 {
		t.Errorf("expected 0 hosts after eviction, got %d", pool.Len())
	}
}

func TestHostSemaphore_ConcurrentAcquireRelease(t *testing.T) {
	pool := newTestSemPool(5)
	host := "media-1.cdn.example.com"
	const goroutines = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if err := pool.Acquire(context.Background(), host); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			pool.Release(host)
		}()
	}

	wg.Wait()

	time.Sleep(5 * time.Millisecond)
	pool.evictIdle(1 * time.Millisecond)
	if pool.Len() != 0 {
		t.Errorf("expected 0 hosts after all released, got %d", pool.Len())
	}
}
