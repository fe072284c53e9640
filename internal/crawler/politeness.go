package crawler

import (
	"context"
	"time"
)

// visitSet tracks URLs already dispatched or emitted in a run. It is owned by
// CrawlState and used from a single goroutine.
type visitSet map[string]struct{}

func newVisitSet() visitSet {
	return make(visitSet)
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (s visitSet) MarkIfNew(url string) bool {
	key := visitKey(url)
	if key == "" {
		return false
	}
	if _, ok := s[key]; ok {
		return false
	}
	s[key] = struct{}{}
	return true
}

// Has reports whether url was marked.
func (s visitSet) Has(url string) bool {
	_, ok := s[visitKey(url)]
	return ok
}

// Len returns the number of marked URLs.
func (s visitSet) Len() int {
	return len(s)
}

func visitKey(url string) string {
	if url == "" {
		return ""
	}
	if normalized, err := NormalizeURL(url); err == nil {
		return normalized
	}
	return url
}

// pauseController abstracts how the crawler sleeps between requests.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration) error
}

type timerPauseController struct{}

// Pause sleeps for delay or until ctx is done, whichever is first.
func (timerPauseController) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
