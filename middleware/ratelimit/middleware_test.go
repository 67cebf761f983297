package ratelimit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newRegistry(t *testing.T, capacity float64, rps rate.Limit, opts ...infra.RegistryOption) *infra.Registry {
	t.Helper()
	r, err := infra.NewRegistry(domain.Config{Capacity: capacity, RefillRate: rps}, opts...)
	require.NoError(t, err)
	return r
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	store := newRegistry(t, 1, 0.02)

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{
		Store:               store,
		RejectStatus:        http.StatusTooManyRequests,
		AddRateLimitHeaders: true,
	})(next)

	// 1) primeira passa
	r1 := httptest.NewRequest(http.MethodGet, "http://example/showTela", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	w1 := serve(h, r1)
	require.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, "10.0.0.1", w1.Header().Get("X-RateLimit-Key"))
	assert.Equal(t, "0.02", w1.Header().Get("X-RateLimit-RPS"))
	assert.Equal(t, "1", w1.Header().Get("X-RateLimit-Burst"))
	assert.Equal(t, "0", w1.Header().Get("X-RateLimit-Remaining"))

	// 2) segunda deve bloquear (burst=1 e rps bem baixo); 1 token a 0.02/s = 50s
	r2 := httptest.NewRequest(http.MethodGet, "http://example/showTela", nil)
	r2.RemoteAddr = "10.0.0.1:1234"
	w2 := serve(h, r2)
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "50", w2.Header().Get("Retry-After"))

	assert.Equal(t, 1, calls, "next handler should be called once")
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	store := newRegistry(t, 1, 0.02)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(Options{Store: store, KeyHeader: "X-Api-Key"})(next)

	// duas chaves diferentes => ambos devem passar (cada chave tem seu próprio limiter)
	for _, k := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.Header.Set("X-Api-Key", k)
		r.RemoteAddr = "10.0.0.1:1234"
		assert.Equal(t, http.StatusOK, serve(h, r).Code, "key %s", k)
	}
	assert.Equal(t, 2, store.Size())
}

func TestMiddleware_RetryAfterRoundsUp(t *testing.T) {
	// 1 token a 0.4/s = 2.5s => Retry-After 3
	store := newRegistry(t, 1, 0.4)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Store: store})(next)

	r1 := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	require.Equal(t, http.StatusOK, serve(h, r1).Code)

	r2 := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r2.RemoteAddr = "10.0.0.1:1234"
	w2 := serve(h, r2)
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "3", w2.Header().Get("Retry-After"))
}

func TestMiddleware_MaxWaitHoldsRequestUntilToken(t *testing.T) {
	clock := infra.NewManualClock(time.Unix(0, 0))
	store := newRegistry(t, 1, 10, infra.WithRegistryClock(clock))
	stats := infra.NewMemoryStatsStore()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Store: store, Stats: stats, MaxWait: time.Second})(next)

	r1 := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	require.Equal(t, http.StatusOK, serve(h, r1).Code)

	done := make(chan int, 1)
	go func() {
		done <- serve(h, httptest.NewRequest(http.MethodGet, "http://example/", nil)).Code
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilTimers(ctx, 1))
	clock.Advance(100 * time.Millisecond)

	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting request never completed")
	}
	assert.Equal(t, int64(2), stats.Total().Granted)
}

func TestMiddleware_ClientCancelWhileWaiting(t *testing.T) {
	clock := infra.NewManualClock(time.Unix(0, 0))
	store := newRegistry(t, 1, 0.01, infra.WithRegistryClock(clock))
	stats := infra.NewMemoryStatsStore()

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Store: store, Stats: stats, MaxWait: time.Minute})(next)

	require.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "http://example/", nil)).Code)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil).WithContext(reqCtx)
		done <- serve(h, r)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilTimers(ctx, 1))
	cancelReq()

	select {
	case w := <-done:
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Empty(t, w.Header().Get("Retry-After"))
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request never completed")
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), stats.Total().Cancelled)
}

func TestMiddleware_RecordsStats(t *testing.T) {
	store := newRegistry(t, 1, 0.02)
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Store: store, Stats: stats})(next)

	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodPost, "http://example/orders", nil)
		r.RemoteAddr = "10.0.0.7:999"
		serve(h, r)
	}

	assert.Equal(t, infra.Counters{Granted: 1, Denied: 2}, stats.ByRoute()["POST /orders"])
	assert.Equal(t, int64(2), stats.ByKey()["10.0.0.7"].Denied)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1001*time.Millisecond))
	assert.Equal(t, 3, retryAfterSeconds(2500*time.Millisecond))
}
