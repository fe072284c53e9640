package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
)

type fakeClient struct {
	added   []*redis.XAddArgs
	addErr  error
	pingErr error
	closed  bool
}

func (f *fakeClient) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	if f.addErr != nil {
		return redis.NewStringResult("", f.addErr)
	}
	f.added = append(f.added, a)
	return redis.NewStringResult("1700000000000-0", nil)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestStoreAddsStreamEntry(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	store := newListingStore(fc, "", 1000)

	rec := crawler.ListingRecord{
		URL:       "https://www.chileautos.cl/vehiculos/detalles/CP-AD-1",
		Title:     "2019 Toyota Corolla",
		Price:     12990000,
		Mileage:   45000,
		Page:      3,
		RunID:     "run-9",
		ScrapedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	id, err := store.Store(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", id)

	require.Len(t, fc.added, 1)
	args := fc.added[0]
	assert.Equal(t, DefaultStream, args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]interface{})
	assert.Equal(t, rec.URL, values["url"])
	assert.Equal(t, "3", values["page"])
	assert.Equal(t, "2024-05-01T12:00:00Z", values["scraped_at"])

	var decoded crawler.ListingRecord
	require.NoError(t, json.Unmarshal([]byte(values["payload"].(string)), &decoded))
	assert.Equal(t, rec, decoded)
}

func TestStoreUnboundedStream(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	store := newListingStore(fc, "autos", 0)
	_, err := store.Store(context.Background(), crawler.ListingRecord{URL: "https://a"})
	require.NoError(t, err)
	assert.Equal(t, "autos", fc.added[0].Stream)
	assert.Zero(t, fc.added[0].MaxLen)
}

func TestStoreErrorsAndLifecycle(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{addErr: errors.New("OOM command not allowed"), pingErr: errors.New("connection refused")}
	store := newListingStore(fc, "autos", 0)

	_, err := store.Store(context.Background(), crawler.ListingRecord{URL: "https://a"})
	require.ErrorContains(t, err, "xadd autos")
	require.ErrorContains(t, store.Ping(context.Background()), "connection refused")

	require.NoError(t, store.Close(context.Background()))
	assert.True(t, fc.closed)
}

func TestOpenRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{})
	require.Error(t, err)

	store, err := Open(Config{Addr: "127.0.0.1:6379"})
	require.NoError(t, err)
	require.NoError(t, store.Close(context.Background()))
}
