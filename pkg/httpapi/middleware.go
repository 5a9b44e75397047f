package httpapi

import (
	"context"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/reject"
)

type requestIDKey struct{}

// RequestID injects a unique X-Request-ID into the request context and
// response header, reusing the client's when present.
func RequestID(ids kernel.IDProvider) func(http.Handler) http.Handler {
	if ids == nil {
		ids = kernel.UUIDProvider{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = ids.NewID()
			}
			w.Header().Set("X-Request-ID", requestID)
			ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// EdgeLimiter throttles per client IP before any authentication work. The
// actor-tier limiter inside the policy stack still runs per command.
type EdgeLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewEdgeLimiter(rps int, burst int) *EdgeLimiter {
	l := &EdgeLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go l.cleanup()
	return l
}

func (l *EdgeLimiter) visitor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[ip]
	if !ok {
		lim := rate.NewLimiter(l.rps, l.burst)
		l.visitors[ip] = &visitor{limiter: lim, lastSeen: time.Now()}
		return lim
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanup drops visitors idle for more than three minutes.
func (l *EdgeLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		l.mu.Lock()
		for ip, v := range l.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(l.visitors, ip)
			}
		}
		l.mu.Unlock()
	}
}

// Middleware enforces the per-IP limit, answering the rejection envelope
// with a Retry-After hint derived from the reservation delay.
func (l *EdgeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		res := l.visitor(ip).Reserve()
		if !res.OK() {
			WriteRejection(w, reject.New(reject.CodeRateLimitExceeded,
				"rate limit exceeded", "edge_rate_limit").WithRetryAfter(1))
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			WriteRejection(w, reject.New(reject.CodeRateLimitExceeded,
				"rate limit exceeded", "edge_rate_limit").
				WithRetryAfter(int(math.Ceil(delay.Seconds()))))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}
