package crawler

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(cfg SessionConfig, clock Clock) *SessionPolicy {
	return NewSessionPolicy(cfg, nil, clock, fakeRand{f: 0.5, n: 1}, zap.NewNop())
}

func setCookie(values ...string) http.Header {
	h := make(http.Header)
	for _, v := range values {
		h.Add("Set-Cookie", v)
	}
	return h
}

func TestSessionAttachesCookiesAndCounts(t *testing.T) {
	t.Parallel()

	p := newTestSession(DefaultSessionConfig(), newFakeClock())
	req := FetchRequest{URL: "https://www.chileautos.cl/vehiculos/?offset=0"}
	p.BeforeRequest(&req)
	assert.Empty(t, req.Headers.Get("Cookie"), "fresh session has an empty jar")
	assert.Equal(t, DefaultUserAgents[1], req.Headers.Get("User-Agent"))

	retry := p.AfterResponse(FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    setCookie("sid=abc; Path=/", "consent=yes"),
		Body:       []byte("<html>ok</html>"),
	})
	require.False(t, retry)

	next := FetchRequest{URL: "https://www.chileautos.cl/vehiculos/?offset=12"}
	p.BeforeRequest(&next)
	assert.Equal(t, "consent=yes; sid=abc", next.Headers.Get("Cookie"))
	assert.Equal(t, 2, p.State().RequestCount)
	assert.Len(t, p.State().Cookies, 2)
}

func TestSessionExpiredCookieRemoved(t *testing.T) {
	t.Parallel()

	p := newTestSession(DefaultSessionConfig(), newFakeClock())
	p.AfterResponse(FetchResponse{StatusCode: http.StatusOK, Headers: setCookie("sid=abc")})
	p.AfterResponse(FetchResponse{StatusCode: http.StatusOK, Headers: setCookie("sid=gone; Max-Age=0")})
	assert.Empty(t, p.State().Cookies)
}

func TestSessionPastExpiresEvictsCookie(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := newTestSession(DefaultSessionConfig(), clock)
	p.AfterResponse(FetchResponse{StatusCode: http.StatusOK, Headers: setCookie("sid=abc", "consent=yes")})
	require.Len(t, p.State().Cookies, 2)

	p.AfterResponse(FetchResponse{StatusCode: http.StatusOK, Headers: setCookie(
		"sid=stale; Expires=Wed, 01 Jan 2020 00:00:00 GMT",
		"consent=later; Expires=Fri, 01 Jan 2100 00:00:00 GMT",
	)})

	req := FetchRequest{URL: "https://www.chileautos.cl/vehiculos/?offset=0"}
	p.BeforeRequest(&req)
	assert.Equal(t, "consent=later", req.Headers.Get("Cookie"))
}

func TestSessionResetsAfterMaxRequests(t *testing.T) {
	t.Parallel()

	cfg := DefaultSessionConfig()
	cfg.MaxRequests = 3
	p := newTestSession(cfg, newFakeClock())
	p.AfterResponse(FetchResponse{StatusCode: http.StatusOK, Headers: setCookie("sid=abc")})

	for i := 0; i < 3; i++ {
		req := FetchRequest{URL: "https://example.test/"}
		p.BeforeRequest(&req)
		assert.Equal(t, "sid=abc", req.Headers.Get("Cookie"))
	}
	require.Equal(t, 3, p.State().RequestCount)

	req := FetchRequest{URL: "https://example.test/"}
	p.BeforeRequest(&req)
	assert.Empty(t, req.Headers.Get("Cookie"), "jar cleared before the request is sent")
	state := p.State()
	assert.Equal(t, 1, state.RequestCount, "counter zeroed then counts this request")
	assert.Equal(t, 1, state.Resets)
}

func TestSessionResetsAfterDuration(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	p := newTestSession(DefaultSessionConfig(), clock)
	p.AfterResponse(FetchResponse{StatusCode: http.StatusOK, Headers: setCookie("sid=abc")})
	started := p.State().StartedAt

	clock.Advance(time.Hour)
	req := FetchRequest{URL: "https://example.test/"}
	p.BeforeRequest(&req)
	assert.Empty(t, req.Headers.Get("Cookie"))
	assert.Equal(t, started.Add(time.Hour), p.State().StartedAt)
	assert.Equal(t, 1, p.State().Resets)
}

func TestSessionBlockingForcesResetAndRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "429 on a fresh session", status: http.StatusTooManyRequests},
		{name: "403", status: http.StatusForbidden},
		{name: "captcha marker", status: http.StatusOK, body: "<div>Please solve the CAPTCHA</div>"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := newTestSession(DefaultSessionConfig(), newFakeClock())
			p.AfterResponse(FetchResponse{StatusCode: http.StatusOK, Headers: setCookie("sid=abc")})
			req := FetchRequest{URL: "https://example.test/"}
			p.BeforeRequest(&req)

			retry := p.AfterResponse(FetchResponse{URL: req.URL, StatusCode: tc.status, Body: []byte(tc.body)})
			assert.True(t, retry)
			state := p.State()
			assert.Empty(t, state.Cookies)
			assert.Zero(t, state.RequestCount)
			assert.Equal(t, 1, state.Resets)
		})
	}
}

func TestSessionComputeDelay(t *testing.T) {
	t.Parallel()

	cfg := DefaultSessionConfig()
	p := NewSessionPolicy(cfg, nil, newFakeClock(), fakeRand{f: 0.5}, nil)
	assert.Equal(t, 2*time.Second, p.ComputeDelay())

	p = NewSessionPolicy(cfg, nil, newFakeClock(), fakeRand{f: 0}, nil)
	assert.Equal(t, time.Second, p.ComputeDelay())

	cfg.MinDelay, cfg.MaxDelay = 500*time.Millisecond, 0
	p = NewSessionPolicy(cfg, nil, newFakeClock(), fakeRand{f: 0.9}, nil)
	assert.Equal(t, 500*time.Millisecond, p.ComputeDelay(), "max below min collapses to min")
}

func TestSessionRotatesUserAgentOnReset(t *testing.T) {
	t.Parallel()

	rnd := &seqRand{}
	p := NewSessionPolicy(DefaultSessionConfig(), nil, newFakeClock(), rnd, nil)
	first := p.UserAgent()
	p.Reset(ResetBlocked)
	assert.NotEqual(t, first, p.UserAgent())

	req := FetchRequest{}
	p.BeforeRequest(&req)
	assert.Equal(t, p.UserAgent(), req.Headers.Get("User-Agent"), "agent is stable within a session")
}

func TestSessionDisabled(t *testing.T) {
	t.Parallel()

	cfg := DefaultSessionConfig()
	cfg.Enabled = false
	cfg.MaxRequests = 1
	p := newTestSession(cfg, newFakeClock())

	assert.False(t, p.AfterResponse(FetchResponse{StatusCode: http.StatusTooManyRequests, Headers: setCookie("sid=abc")}))
	assert.Zero(t, p.ComputeDelay())
	for i := 0; i < 3; i++ {
		req := FetchRequest{}
		p.BeforeRequest(&req)
		assert.Empty(t, req.Headers.Get("Cookie"))
		assert.NotEmpty(t, req.Headers.Get("User-Agent"))
	}
	assert.Zero(t, p.State().Resets)
}

type seqRand struct{ i int }

func (r *seqRand) Float64() float64 { return 0 }

func (r *seqRand) IntN(n int) int {
	r.i++
	return r.i % n
}
