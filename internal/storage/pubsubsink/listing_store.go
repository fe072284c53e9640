// Package pubsubsink publishes listing records to a Google Cloud Pub/Sub topic.
package pubsubsink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
)

// Config names the project and topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ListingStore publishes one message per listing and waits for the server
// ID, so a rejected publish surfaces as a sink failure.
type ListingStore struct {
	client     *pubsub.Client
	topic      *pubsub.Topic
	ownsClient bool
}

var _ crawler.Sink = (*ListingStore)(nil)

// Open creates a client with Application Default Credentials.
func Open(ctx context.Context, cfg Config) (*ListingStore, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("sink.pubsub.project_id and sink.pubsub.topic_id are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	store := NewWithClient(client, cfg.TopicID)
	store.ownsClient = true
	return store, nil
}

// NewWithClient publishes to topicID through an existing client.
func NewWithClient(client *pubsub.Client, topicID string) *ListingStore {
	return &ListingStore{client: client, topic: client.Topic(topicID)}
}

// Ping fails when the topic does not exist or cannot be read.
func (s *ListingStore) Ping(ctx context.Context) error {
	exists, err := s.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check pubsub topic %s: %w", s.topic.ID(), err)
	}
	if !exists {
		return fmt.Errorf("pubsub topic %q does not exist", s.topic.ID())
	}
	return nil
}

// Store publishes record as JSON and returns the server message ID.
func (s *ListingStore) Store(ctx context.Context, record crawler.ListingRecord) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal listing: %w", err)
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": record.RunID,
			"url":    record.URL,
			"page":   strconv.Itoa(record.Page),
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish listing: %w", err)
	}
	return id, nil
}

// Close flushes pending publishes and closes a client created by Open.
func (s *ListingStore) Close(context.Context) error {
	s.topic.Stop()
	if !s.ownsClient {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}
