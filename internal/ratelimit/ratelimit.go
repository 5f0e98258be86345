package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/geoip"
	"github.com/reelhouse/reelhouse/internal/httputil"
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter is a token-bucket rate limiter keyed per caller. Anonymous traffic
// is keyed by client IP; authenticated traffic by user ID so NAT'd viewers
// don't share a bucket on the spend endpoints.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64
	burst     float64
	jwtSecret string
}

func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    requestsPerSecond,
		burst:   float64(burst),
	}
	go l.cleanup()
	return l
}

// KeyByUser makes the limiter prefer the authenticated user ID over the
// client IP when a valid access token accompanies the request.
func (l *Limiter) KeyByUser(jwtSecret string) *Limiter {
	l.jwtSecret = jwtSecret
	return l
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		l.buckets[key] = &bucket{tokens: l.burst - 1, lastSeen: time.Now()}
		return true
	}

	elapsed := time.Since(b.lastSeen).Seconds()
	b.lastSeen = time.Now()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}

	if b.tokens < 1 {
		return false
	}

	b.tokens--
	return true
}

func (l *Limiter) cleanup() {
	for {
		time.Sleep(5 * time.Minute)
		l.mu.Lock()
		for key, b := range l.buckets {
			if time.Since(b.lastSeen) > 10*time.Minute {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) key(r *http.Request) string {
	if l.jwtSecret != "" {
		if userID := auth.OptionalUserID(r, l.jwtSecret); userID != "" {
			return "user:" + userID
		}
	}
	return "ip:" + geoip.ClientIP(r)
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(l.key(r)) {
			w.Header().Set("Retry-After", "10")
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
