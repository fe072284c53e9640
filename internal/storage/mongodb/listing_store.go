// Package mongodb persists listing records as documents in a MongoDB collection.
package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
)

const (
	DefaultURI        = "mongodb://localhost:27017"
	DefaultDatabase   = "scrapy_db"
	DefaultCollection = "cars"
)

// Config selects the MongoDB deployment and target collection.
type Config struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.URI) == "" {
		c.URI = DefaultURI
	}
	if strings.TrimSpace(c.Database) == "" {
		c.Database = DefaultDatabase
	}
	if strings.TrimSpace(c.Collection) == "" {
		c.Collection = DefaultCollection
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

type collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

type client interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	Disconnect(ctx context.Context) error
}

// carDocument is the stored shape of a listing.
type carDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	URL       string             `bson:"url"`
	Title     string             `bson:"title"`
	Price     float64            `bson:"price"`
	Mileage   int                `bson:"mileage"`
	Year      int                `bson:"year"`
	Page      int                `bson:"page"`
	RunID     string             `bson:"run_id"`
	ScrapedAt time.Time          `bson:"scraped_at"`
}

// ListingStore inserts one document per listing.
type ListingStore struct {
	client     client
	collection collection
}

var _ crawler.Sink = (*ListingStore)(nil)

// Open connects to MongoDB. The driver connects lazily, so callers should
// Ping before relying on the store.
func Open(ctx context.Context, cfg Config) (*ListingStore, error) {
	cfg = cfg.withDefaults()
	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.ConnectTimeout)
	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return newListingStore(mc, mc.Database(cfg.Database).Collection(cfg.Collection)), nil
}

func newListingStore(c client, coll collection) *ListingStore {
	return &ListingStore{client: c, collection: coll}
}

// Ping checks that the primary is reachable.
func (s *ListingStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Store inserts record and returns the hex ObjectID.
func (s *ListingStore) Store(ctx context.Context, record crawler.ListingRecord) (string, error) {
	doc := carDocument{
		ID:        primitive.NewObjectID(),
		URL:       record.URL,
		Title:     record.Title,
		Price:     record.Price,
		Mileage:   record.Mileage,
		Year:      record.Year,
		Page:      record.Page,
		RunID:     record.RunID,
		ScrapedAt: record.ScrapedAt,
	}
	result, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert listing: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return doc.ID.Hex(), nil
}

// Close disconnects the client.
func (s *ListingStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}
