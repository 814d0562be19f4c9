package fetch

import (
	"context"
	"testing"
	"time"
)

func newTestRateLimiter(defaultDelay time.Duration) *RateLimiter {
	return NewRateLimiter(defaultDelay, testLogger())
}

func TestApplyDelay_NoDelayOnFirstContact(t *testing.T) {
	rl := newTestRateLimiter(0)

	// No prior request to the platform host recorded, so no sleep
	start := time.Now()
	rl.ApplyDelay("learn.example.com", 5*time.Second)
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first contact took %v, expected immediate return", elapsed)
	}
}

func TestApplyDelay_SleepsAfterRecentRequest(t *testing.T) {
	rl := newTestRateLimiter(0)
	host := "cdn.example.com"

	rl.UpdateLastRequestTime(host)

	start := time.Now()
	rl.ApplyDelay(host, 100*time.Millisecond)
	elapsed := time.Since(start)

	// Jitter is +/- 10%, so anything clearly inside the window passes
	if elapsed < 50*time.Millisecond {
		t.Errorf("ApplyDelay returned after %v, expected ~100ms spacing", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("ApplyDelay slept %v, expected ~100ms spacing", elapsed)
	}
}

func TestApplyDelay_FallsBackToDefaultDelay(t *testing.T) {
	rl := newTestRateLimiter(50 * time.Millisecond)
	host := "cdn.example.com"

	rl.UpdateLastRequestTime(host)

	// A platform config without delay_per_host set passes zero; the
	// limiter's default still spaces the requests
	start := time.Now()
	rl.ApplyDelay(host, 0)
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("ApplyDelay with default fallback returned after %v", elapsed)
	}
}

func TestApplyDelay_ZeroEffectiveDelayIsNoop(t *testing.T) {
	rl := newTestRateLimiter(0)
	host := "learn.example.com"

	rl.UpdateLastRequestTime(host)

	start := time.Now()
	rl.ApplyDelay(host, 0)
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("ApplyDelay with zero delay took %v, expected no sleep", elapsed)
	}
}

func TestApplyDelay_HostsAreIndependent(t *testing.T) {
	rl := newTestRateLimiter(0)

	// A recent hit on the media CDN must not delay the platform host
	rl.UpdateLastRequestTime("cdn.example.com")

	start := time.Now()
	rl.ApplyDelay("learn.example.com", 5*time.Second)
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("unrelated host delayed by %v", elapsed)
	}
}

func TestSleepRandom_WithinWindow(t *testing.T) {
	start := time.Now()
	SleepRandom(context.Background(), 10*time.Millisecond, 30*time.Millisecond)
	elapsed := time.Since(start)

	if elapsed < 10*time.Millisecond {
		t.Errorf("SleepRandom returned after %v, below the window", elapsed)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("SleepRandom slept %v, far above the window", elapsed)
	}
}

func TestSleepRandom_ZeroWindowIsNoop(t *testing.T) {
	start := time.Now()
	SleepRandom(context.Background(), 0, 0)
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("SleepRandom with zero window took %v", elapsed)
	}
}

func TestSleepRandom_CancellationCutsSleepShort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	SleepRandom(ctx, 2*time.Second, 5*time.Second)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("SleepRandom ignored cancellation, slept %v", elapsed)
	}
}
