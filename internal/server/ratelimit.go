package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/docqa-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained asks per second allowed per client.
	// Every ask embeds the question and calls the chat model at least once.
	defaultRateLimit = 10
	// defaultRateBurst is the number of asks a client may fire back to back.
	defaultRateBurst = 20
	// clientIdleTTL is how long a client's bucket survives without traffic.
	clientIdleTTL = 5 * time.Minute
	// sweepInterval is how often idle buckets are dropped.
	sweepInterval = time.Minute
)

// bucket is one client's token bucket.
type bucket struct {
	tokens *rate.Limiter
	// seen is the time of the client's latest request.
	seen time.Time
}

// askThrottle limits /api/ask per client address with token buckets.
type askThrottle struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	// rejected counts throttled asks. Nil disables counting.
	rejected prometheus.Counter
	log      *slog.Logger
}

// newAskThrottle builds a throttle allowing rps asks per second with the
// given burst per client. The returned stop func ends the sweep goroutine.
func newAskThrottle(rps float64, burst int, rejected prometheus.Counter, log *slog.Logger) (*askThrottle, func()) {
	t := &askThrottle{
		buckets:  make(map[string]*bucket),
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     clientIdleTTL,
		now:      time.Now,
		rejected: rejected,
		log:      log,
	}

	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(sweepInterval)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				t.sweep()
			}
		}
	}()
	var once sync.Once
	return t, func() { once.Do(func() { close(done) }) }
}

// allow takes one token from client's bucket.
func (t *askThrottle) allow(client string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[client]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[client] = b
	}
	b.seen = now
	return b.tokens.AllowN(now, 1)
}

// sweep drops buckets idle for longer than t.idle and returns how many
// remain.
func (t *askThrottle) sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.idle)
	for client, b := range t.buckets {
		if b.seen.Before(cutoff) {
			delete(t.buckets, client)
		}
	}
	return len(t.buckets)
}

// wrap rejects over-limit requests with 429, a JSON error body and a
// Retry-After header.
func (t *askThrottle) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if t.allow(client) {
			next.ServeHTTP(w, r)
			return
		}

		if t.rejected != nil {
			t.rejected.Inc()
		}
		log := logging.FromContext(r.Context())
		log.Warn("ask throttled", slog.String("client", client))
		w.Header().Set("Retry-After", strconv.Itoa(t.retryAfter()))
		writeJSON(w, log, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
	})
}

// retryAfter is the whole seconds one token takes to refill, minimum 1.
func (t *askThrottle) retryAfter() int {
	if t.limit <= 0 {
		return 60
	}
	return max(1, int(math.Ceil(1/float64(t.limit))))
}

// clientIP is the host part of RemoteAddr. Forwarding headers are ignored
// because the server binds to loopback unless told otherwise.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
