package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursemirror/pkg/config"
	"coursemirror/pkg/utils"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig(poolSize int) *config.AppConfig {
	cfg := &config.AppConfig{
		SessionPoolSize: poolSize,
		MaxRetries:      1,
	}
	_, err := cfg.Validate()
	if err != nil {
		panic(err)
	}
	cfg.InitialRetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 5 * time.Millisecond
	return cfg
}

// countingAuth records Login calls and optionally fails the first N
type countingAuth struct {
	calls    atomic.Int32
	failures int32
}

func (a *countingAuth) Login(ctx context.Context, client *Client) error {
	n := a.calls.Add(1)
	if n <= a.failures {
		return fmt.Errorf("credentials rejected")
	}
	return nil
}

type blockEverything struct{}

func (blockEverything) Blocked(doc *goquery.Document) bool { return true }

func TestPool_AcquireCreatesAndLogsIn(t *testing.T) {
	auth := &countingAuth{}
	pool := NewPool(testConfig(2), auth, nil, testLogger())
	defer pool.Close()

	client, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.NotEmpty(t, client.ID)
	assert.Equal(t, int32(1), auth.calls.Load())

	pool.Release(client)
	assert.Equal(t, 1, pool.IdleCount())
}

func TestPool_ReleaseThenAcquireReuses(t *testing.T) {
	auth := &countingAuth{}
	pool := NewPool(testConfig(2), auth, nil, testLogger())
	defer pool.Close()

	first, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(first)

	second, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(second)

	assert.Equal(t, first.ID, second.ID)
	// No second login for a reused session
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestPool_CapacityBlocksAcquire(t *testing.T) {
	pool := NewPool(testConfig(1), &countingAuth{}, nil, testLogger())
	defer pool.Close()

	client, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	// Second acquire must not complete while the slot is held
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(client)

	client2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(client2)
}

func TestPool_AcquireAfterClose(t *testing.T) {
	pool := NewPool(testConfig(1), &countingAuth{}, nil, testLogger())
	pool.Close()

	_, err := pool.Acquire(context.Background())
	assert.ErrorIs(t, err, utils.ErrSessionPoolClosed)
}

func TestPool_LoginFailureFreesSlot(t *testing.T) {
	auth := &countingAuth{failures: 1}
	pool := NewPool(testConfig(1), auth, nil, testLogger())
	defer pool.Close()

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrAuthentication)

	// The failed acquire must not leak the pool slot
	client, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(client)
}

func TestPool_Recreate(t *testing.T) {
	t.Run("succeeds within bounded attempts", func(t *testing.T) {
		cfg := testConfig(1)
		cfg.MaxReloginAttempts = 3
		auth := &countingAuth{}
		pool := NewPool(cfg, auth, nil, testLogger())
		defer pool.Close()

		old, err := pool.Acquire(context.Background())
		require.NoError(t, err)

		auth.failures = auth.calls.Load() + 1 // next login fails, the one after succeeds
		fresh, err := pool.Recreate(context.Background(), old)
		require.NoError(t, err)
		require.NotNil(t, fresh)
		assert.NotEqual(t, old.ID, fresh.ID)
		pool.Release(fresh)
	})

	t.Run("exhaustion fails with auth error and frees slot", func(t *testing.T) {
		cfg := testConfig(1)
		cfg.MaxReloginAttempts = 2
		auth := &countingAuth{failures: 100}
		pool := NewPool(cfg, auth, nil, testLogger())
		defer pool.Close()

		// Hand-build a client so the initial acquire does not hit the failing auth
		auth.failures = 0
		old, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		auth.failures = 100

		_, err = pool.Recreate(context.Background(), old)
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrAuthentication)

		// Slot was freed on exhaustion
		auth.failures = 0
		client, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		pool.Release(client)
	})
}

func TestClient_FetchDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Lesson One</h1></body></html>`)
	}))
	defer server.Close()

	t.Run("parses page", func(t *testing.T) {
		pool := NewPool(testConfig(1), nil, nil, testLogger())
		defer pool.Close()

		client, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer pool.Release(client)

		doc, err := client.FetchDocument(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "Lesson One", doc.Find("h1").Text())
	})

	t.Run("challenge page pauses instead of parsing", func(t *testing.T) {
		pool := NewPool(testConfig(1), nil, blockEverything{}, testLogger())
		defer pool.Close()

		client, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer pool.Release(client)

		doc, err := client.FetchDocument(context.Background(), server.URL)
		assert.Nil(t, doc)
		assert.ErrorIs(t, err, utils.ErrManualIntervention)
	})
}

func TestClient_FetchAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	pool := NewPool(testConfig(1), nil, nil, testLogger())
	defer pool.Close()

	client, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(client)

	_, err = client.Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, utils.ErrAuthentication)
}

func TestClient_SessionsHaveIndependentCookies(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("sid"); err != nil {
			n := hits.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: fmt.Sprintf("s%d", n)})
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	pool := NewPool(testConfig(2), nil, nil, testLogger())
	defer pool.Close()

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(a)
	defer pool.Release(b)

	resp, err := a.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	resp, err = b.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	// Each session presented its own empty jar, so the server set two cookies
	assert.Equal(t, int32(2), hits.Load())
}
