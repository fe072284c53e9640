package crawler

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/car-listing-crawler/internal/metrics"
)

// Session reset reasons.
const (
	ResetExpired     = "expired"
	ResetMaxRequests = "max_requests"
	ResetBlocked     = "blocked"
)

// SessionConfig tunes the session window and per-request delay.
type SessionConfig struct {
	Enabled     bool
	Duration    time.Duration
	MaxRequests int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	UserAgents  []string
}

// DefaultSessionConfig mirrors the site-tested defaults: one hour or 100
// requests per session and a 1-3s delay.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Enabled:     true,
		Duration:    time.Hour,
		MaxRequests: 100,
		MinDelay:    time.Second,
		MaxDelay:    3 * time.Second,
		UserAgents:  slices.Clone(DefaultUserAgents),
	}
}

// SessionPolicy bounds how long one cookie session lives and renews it when
// the site pushes back. It is owned by a single orchestrator and not safe for
// concurrent use.
type SessionPolicy struct {
	cfg      SessionConfig
	detector *BlockDetector
	clock    Clock
	rand     RandSource
	logger   *zap.Logger

	jar          map[string]*http.Cookie
	startedAt    time.Time
	requestCount int
	userAgent    string
	resets       int
}

// NewSessionPolicy builds a policy and opens its first session.
func NewSessionPolicy(cfg SessionConfig, detector *BlockDetector, clock Clock, rnd RandSource, logger *zap.Logger) *SessionPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = NewBlockDetector(nil, nil)
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = slices.Clone(DefaultUserAgents)
	}
	p := &SessionPolicy{
		cfg:      cfg,
		detector: detector,
		clock:    clock,
		rand:     rnd,
		logger:   logger,
	}
	p.open()
	return p
}

// Enabled reports whether session management is active.
func (p *SessionPolicy) Enabled() bool {
	return p.cfg.Enabled
}

// BeforeRequest renews an expired session, then decorates req with the
// session cookies and user agent and counts the request.
func (p *SessionPolicy) BeforeRequest(req *FetchRequest) {
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	if !p.cfg.Enabled {
		req.Headers.Set("User-Agent", p.pickUserAgent())
		return
	}

	switch {
	case p.cfg.MaxRequests > 0 && p.requestCount >= p.cfg.MaxRequests:
		p.Reset(ResetMaxRequests)
	case p.cfg.Duration > 0 && p.clock.Now().Sub(p.startedAt) >= p.cfg.Duration:
		p.Reset(ResetExpired)
	}

	req.Headers.Set("User-Agent", p.userAgent)
	if cookie := p.cookieHeader(); cookie != "" {
		req.Headers.Set("Cookie", cookie)
	}
	p.requestCount++
}

// ComputeDelay returns a uniform delay in [MinDelay, MaxDelay].
func (p *SessionPolicy) ComputeDelay() time.Duration {
	if !p.cfg.Enabled {
		return 0
	}
	span := p.cfg.MaxDelay - p.cfg.MinDelay
	if span <= 0 {
		return p.cfg.MinDelay
	}
	return p.cfg.MinDelay + time.Duration(p.rand.Float64()*float64(span))
}

// AfterResponse merges response cookies into the jar. A blocking response
// resets the session and returns true so the caller retries the same URL.
func (p *SessionPolicy) AfterResponse(resp FetchResponse) bool {
	if !p.cfg.Enabled {
		return false
	}
	p.mergeCookies(resp.Headers)

	reason, blocked := p.detector.Blocked(resp)
	if !blocked {
		return false
	}
	p.logger.Warn("Detected blocking, renewing session",
		zap.String("url", resp.URL),
		zap.Int("status", resp.StatusCode),
		zap.String("signal", reason),
	)
	p.Reset(ResetBlocked)
	return true
}

// Reset clears cookies, zeroes the request counter, restarts the window and
// rotates the user agent.
func (p *SessionPolicy) Reset(reason string) {
	p.resets++
	metrics.ObserveSessionReset(reason)
	p.logger.Info("Session reset",
		zap.String("reason", reason),
		zap.Int("requests", p.requestCount),
		zap.Int("resets", p.resets),
	)
	p.open()
}

// UserAgent returns the user agent of the current session.
func (p *SessionPolicy) UserAgent() string {
	return p.userAgent
}

// State returns a copy of the current session state.
func (p *SessionPolicy) State() SessionState {
	cookies := make([]*http.Cookie, 0, len(p.jar))
	for _, name := range p.cookieNames() {
		c := *p.jar[name]
		cookies = append(cookies, &c)
	}
	return SessionState{
		Cookies:      cookies,
		StartedAt:    p.startedAt,
		RequestCount: p.requestCount,
		UserAgent:    p.userAgent,
		Resets:       p.resets,
	}
}

func (p *SessionPolicy) open() {
	p.jar = make(map[string]*http.Cookie)
	p.requestCount = 0
	p.startedAt = p.clock.Now()
	p.userAgent = p.pickUserAgent()
}

func (p *SessionPolicy) pickUserAgent() string {
	if len(p.cfg.UserAgents) == 1 {
		return p.cfg.UserAgents[0]
	}
	return p.cfg.UserAgents[p.rand.IntN(len(p.cfg.UserAgents))]
}

func (p *SessionPolicy) mergeCookies(headers http.Header) {
	if len(headers.Values("Set-Cookie")) == 0 {
		return
	}
	resp := http.Response{Header: headers}
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 || c.Value == "" || (!c.Expires.IsZero() && c.Expires.Before(p.clock.Now())) {
			delete(p.jar, c.Name)
			continue
		}
		p.jar[c.Name] = c
	}
}

func (p *SessionPolicy) cookieHeader() string {
	if len(p.jar) == 0 {
		return ""
	}
	names := p.cookieNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		c := &http.Cookie{Name: name, Value: p.jar[name].Value}
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "; ")
}

func (p *SessionPolicy) cookieNames() []string {
	names := make([]string, 0, len(p.jar))
	for name := range p.jar {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
