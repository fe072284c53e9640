package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
)

// ListingStore is a crawler.Sink that keeps records in memory.
type ListingStore struct {
	mu      sync.RWMutex
	records []crawler.ListingRecord
	closed  bool
}

var _ crawler.Sink = (*ListingStore)(nil)

// NewListingStore returns an empty store.
func NewListingStore() *ListingStore {
	return &ListingStore{}
}

// Store appends record and returns its position as the ID.
func (s *ListingStore) Store(ctx context.Context, record crawler.ListingRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("listing store is closed")
	}
	s.records = append(s.records, record)
	return fmt.Sprintf("mem-%d", len(s.records)), nil
}

// Records returns a copy of everything stored so far.
func (s *ListingStore) Records() []crawler.ListingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.ListingRecord(nil), s.records...)
}

// Close marks the store closed. Records stay readable.
func (s *ListingStore) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
