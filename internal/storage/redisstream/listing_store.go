// Package redisstream publishes listing records to a Redis stream so that
// downstream consumers can pick them up as they are scraped.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "carcrawler:listings"

// Config selects the Redis server and stream.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	// MaxLen approximately caps the stream length. Zero leaves it unbounded.
	MaxLen int64 `mapstructure:"max_len"`
}

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// ListingStore appends one stream entry per listing.
type ListingStore struct {
	client streamClient
	stream string
	maxLen int64
}

var _ crawler.Sink = (*ListingStore)(nil)

// Open creates a client for cfg. go-redis dials lazily.
func Open(cfg Config) (*ListingStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("sink.redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newListingStore(client, cfg.Stream, cfg.MaxLen), nil
}

func newListingStore(client streamClient, stream string, maxLen int64) *ListingStore {
	if stream == "" {
		stream = DefaultStream
	}
	return &ListingStore{client: client, stream: stream, maxLen: maxLen}
}

// Ping checks that the server answers.
func (s *ListingStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Store adds record to the stream and returns the entry ID.
func (s *ListingStore) Store(ctx context.Context, record crawler.ListingRecord) (string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal listing: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"url":        record.URL,
			"run_id":     record.RunID,
			"page":       strconv.Itoa(record.Page),
			"scraped_at": record.ScrapedAt.UTC().Format(time.RFC3339),
			"payload":    string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return id, nil
}

// Close closes the Redis connection.
func (s *ListingStore) Close(context.Context) error {
	return s.client.Close()
}
