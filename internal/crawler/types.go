package crawler

import (
	"net/http"
	"time"
)

// ListingRecord is one scraped vehicle.
type ListingRecord struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Price     float64   `json:"price"`
	Mileage   int       `json:"mileage"`
	Year      int       `json:"year"`
	Page      int       `json:"page"`
	RunID     string    `json:"run_id"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Page    int
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// CrawlState is the per-run mutable state. It is owned by a single
// Orchestrator and never shared, so it carries no locks.
type CrawlState struct {
	CurrentPage    int
	MaxPages       int
	PagesProcessed int
	PagesSkipped   int
	ItemsProcessed int
	ItemsDropped   int
	ItemsSkipped   int
	DropReasons    map[string]int

	visited visitSet
}

func newCrawlState(maxPages int) *CrawlState {
	return &CrawlState{
		MaxPages:    maxPages,
		DropReasons: make(map[string]int),
		visited:     newVisitSet(),
	}
}

// Visited reports whether url was already dispatched in this run.
func (s *CrawlState) Visited(url string) bool {
	return s.visited.Has(url)
}

// VisitedCount is the number of distinct URLs dispatched or emitted so far.
func (s *CrawlState) VisitedCount() int {
	return s.visited.Len()
}

// SessionState is a snapshot of the SessionPolicy's window.
type SessionState struct {
	Cookies      []*http.Cookie
	StartedAt    time.Time
	RequestCount int
	UserAgent    string
	Resets       int
}

// PageSnapshot is a fetched listing page handed to a PageArchive.
type PageSnapshot struct {
	RunID     string
	Page      int
	URL       string
	Body      []byte
	FetchedAt time.Time
}
