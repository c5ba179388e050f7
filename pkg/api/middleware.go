package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/chantierhq/chantier/pkg/observability"
	"github.com/chantierhq/chantier/pkg/principal"
)

// PrincipalFrom returns the authenticated principal stored on the
// request context, or nil.
func PrincipalFrom(ctx context.Context) *principal.Principal {
	return principal.FromContext(ctx)
}

// AuthMiddleware validates the bearer token and stores the resulting
// principal on the request context.
func AuthMiddleware(issuer *principal.TokenIssuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			WriteUnauthorized(w, "")
			return
		}
		p, err := issuer.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			WriteUnauthorized(w, "Invalid or expired token")
			return
		}
		ctx := principal.NewContext(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimiter manages per-principal token buckets.
type RateLimiter struct {
	callers map[string]*caller
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	done    chan struct{}
	once    sync.Once
}

type caller struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second
// with the given burst per principal. Stop the cleanup goroutine with
// Close.
func NewRateLimiter(rps, burst int) *RateLimiter {
	rl := &RateLimiter{
		callers: make(map[string]*caller),
		rps:     rate.Limit(rps),
		burst:   burst,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) getCaller(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.callers[id]
	if !ok {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.callers[id] = &caller{limiter, time.Now()}
		return limiter
	}
	c.lastSeen = time.Now()
	return c.limiter
}

// cleanup removes stale entries so idle principals do not accumulate.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			for id, c := range rl.callers {
				if time.Since(c.lastSeen) > 3*time.Minute {
					delete(rl.callers, id)
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// RecoverMiddleware converts a handler panic into a 500 problem
// response instead of tearing down the connection. The panic value is
// logged by WriteInternal and never exposed.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				WriteInternal(w, fmt.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for the metrics middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// MetricsMiddleware records RED metrics for every request. A nil
// provider disables recording.
func MetricsMiddleware(obs *observability.Provider, next http.Handler) http.Handler {
	if obs == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := obs.TrackRequest(r.Context(),
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		var err error
		if rec.status >= http.StatusInternalServerError {
			err = errors.New(http.StatusText(rec.status))
		}
		done(err)
	})
}

// Middleware enforces the per-principal rate limit. Runs after auth so
// the principal id is available; falls back to the remote address for
// unauthenticated routes.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if p := PrincipalFrom(r.Context()); p != nil {
			key = p.ID
		}
		if !rl.getCaller(key).Allow() {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}
