package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeRand returns fixed draws so delays and user agents are deterministic.
type fakeRand struct {
	f float64
	n int
}

func (r fakeRand) Float64() float64 { return r.f }

func (r fakeRand) IntN(n int) int { return r.n % n }

type fakeResponse struct {
	status  int
	body    string
	headers http.Header
	err     error
}

// fakeFetcher serves queued responses per URL; the last queued response
// repeats once the queue is drained.
type fakeFetcher struct {
	mu       sync.Mutex
	routes   map[string][]fakeResponse
	requests []FetchRequest
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{routes: make(map[string][]fakeResponse)}
}

func (f *fakeFetcher) on(url string, responses ...fakeResponse) {
	f.routes[url] = append(f.routes[url], responses...)
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	queue, ok := f.routes[req.URL]
	if !ok || len(queue) == 0 {
		return FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte("<html><body></body></html>")}, nil
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.routes[req.URL] = queue[1:]
	}
	if resp.err != nil {
		return FetchResponse{}, resp.err
	}
	status := resp.status
	if status == 0 {
		status = http.StatusOK
	}
	return FetchResponse{URL: req.URL, StatusCode: status, Headers: resp.headers, Body: []byte(resp.body)}, nil
}

func (f *fakeFetcher) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.URL
	}
	return out
}

type fakeSink struct {
	mu      sync.Mutex
	records []ListingRecord
	err     error
	pingErr error
	closed  bool
}

func (s *fakeSink) Store(_ context.Context, rec ListingRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.records = append(s.records, rec)
	return fmt.Sprintf("id-%d", len(s.records)), nil
}

func (s *fakeSink) Ping(context.Context) error { return s.pingErr }

func (s *fakeSink) Close(context.Context) error {
	s.closed = true
	return nil
}

type fakeArchive struct {
	snapshots []PageSnapshot
	err       error
}

func (a *fakeArchive) Archive(_ context.Context, snap PageSnapshot) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.snapshots = append(a.snapshots, snap)
	return fmt.Sprintf("mem://pages/%s/%d.html", snap.RunID, snap.Page), nil
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) {
	if f.id == "" {
		return "", errors.New("no id")
	}
	return f.id, nil
}
