package httpapi

import (
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// tokenBucket implements a token-bucket rate limiter for a single
// client, keyed by credential or remote address since the one local
// model is the only resource to protect.
type tokenBucket struct {
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{rate: rate, burst: burst, tokens: float64(burst), lastRefill: time.Now()}
}

func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now

	tb.tokens += elapsed * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	if tb.tokens < 1.0 {
		return false
	}
	tb.tokens -= 1.0
	return true
}

// maxTrackedClients bounds how many distinct client buckets rateLimiter
// holds at once. A bare map here would grow without bound against a
// surface reachable by arbitrary remote addresses; the least-recently-
// used client's bucket is evicted once the surface is at capacity,
// trading a rare early refill for a fixed memory ceiling.
const maxTrackedClients = 4096

// rateLimiter enforces a per-client token bucket (see clientKey) across the
// generation endpoints. A client with no prior bucket gets one seeded
// with the server-wide default rate/burst on first request.
type rateLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *tokenBucket]
	rate    float64
	burst   int
}

func newRateLimiter(rate float64, burst int) *rateLimiter {
	buckets, err := lru.New[string, *tokenBucket](maxTrackedClients)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// maxTrackedClients never is.
		panic(err)
	}
	return &rateLimiter{buckets: buckets, rate: rate, burst: burst}
}

func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets.Get(client)
	if !ok {
		b = newTokenBucket(rl.rate, rl.burst)
		rl.buckets.Add(client, b)
	}
	rl.mu.Unlock()
	return b.allow()
}

// middleware rejects requests exceeding the per-client rate with a 429
// rate_limited error, once the client has exhausted its burst.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientKey(r)
		if !rl.allow(client) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests; slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller for rate-limiting purposes: the
// Authorization header value whenever one is present, whether or not
// auth is enabled (so limits follow the credential, not a shared NAT'd
// address), otherwise the remote address as set by chi's RealIP
// middleware.
func clientKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return auth
	}
	return r.RemoteAddr
}
