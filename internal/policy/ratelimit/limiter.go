// Package ratelimit caps the per-host request rate on top of the session
// delay, and slows a host down after it signals blocking.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/car-listing-crawler/internal/metrics"
)

// Limiter manages per-host token buckets.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	minRate      rate.Limit
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// MinRPS is the floor Penalize can lower a host to.
	MinRPS float64
}

// New creates a new Limiter. A non-positive DefaultRPS disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	minRate := rate.Limit(cfg.MinRPS)
	if cfg.MinRPS <= 0 {
		minRate = rate.Limit(0.05)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		minRate:      minRate,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Penalize halves the host's rate, down to MinRPS. An unlimited host drops to
// one request per second first.
func (l *Limiter) Penalize(rawURL string) {
	limiter := l.limiterFor(hostOf(rawURL))
	current := limiter.Limit()
	next := current / 2
	if current == rate.Inf {
		next = 1
	}
	if next < l.minRate {
		next = l.minRate
	}
	limiter.SetLimit(next)
}

// Rate returns the current limit for the URL's host.
func (l *Limiter) Rate(rawURL string) rate.Limit {
	return l.limiterFor(hostOf(rawURL)).Limit()
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
