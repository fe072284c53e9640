package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/car-listing-crawler/internal/config"
	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
	"github.com/JakeFAU/car-listing-crawler/internal/storage"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/local"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/memory"
)

const listingHTML = `<html><body><div class="listing-items">
<div class="listing-item card" data-webm-price="12990000">
  <h3><a href="/vehiculos/detalles/2019-toyota-corolla/CL-AD-1/">2019 Toyota Corolla XLE</a></h3>
  <ul class="key-details"><li data-type="Odometer">45.231 km</li></ul>
</div>
<div class="listing-item card" data-webm-price="7500000">
  <h3><a href="/vehiculos/detalles/2015-kia-rio/CL-AD-2/">2015 Kia Rio</a></h3>
  <ul class="key-details"><li data-type="Odometer">98.000 km</li></ul>
</div>
<div class="listing-item card advert-fuse"><h3><a href="/publicidad">Financia tu auto</a></h3></div>
</div></body></html>`

const emptyHTML = `<html><body><div class="listing-items"></div></body></html>`

type pingFailSink struct {
	*memory.ListingStore
}

func (pingFailSink) Ping(context.Context) error { return errors.New("connection refused") }

func newListingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.URL.Query().Get("offset") == "0" {
			_, _ = w.Write([]byte(listingHTML))
			return
		}
		_, _ = w.Write([]byte(emptyHTML))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawl.BaseURL = baseURL
	cfg.Crawl.FiltersFile = ""
	cfg.Session.Enabled = false
	cfg.Session.MinDelay = 0
	cfg.Session.MaxDelay = 0
	cfg.Fetch.Timeout = 5 * time.Second
	cfg.Fetch.MaxRetries = 0
	cfg.Sink.Type = config.SinkMemory
	cfg.Archive.Type = config.ArchiveMemory
	cfg.Server.Addr = ""
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	srv := newListingServer(t)
	cfg := testConfig(t, srv.URL+"/vehiculos/")

	sink := memory.NewListingStore()
	blobs := memory.NewBlobStore()
	a, err := New(context.Background(), cfg, zap.NewNop(), Options{
		OpenSink: func(context.Context, config.SinkConfig) (crawler.Sink, error) { return sink, nil },
		OpenBlobs: func(context.Context, config.ArchiveConfig) (storage.BlobStore, func() error, error) {
			return blobs, nil, nil
		},
	})
	require.NoError(t, err)
	defer a.Close(context.Background())

	summary, err := a.Run(context.Background(), RunOptions{Target: "chileautos"})
	require.NoError(t, err)

	assert.Equal(t, crawler.StatusCompleted, summary.Status)
	assert.Equal(t, 2, summary.ItemsProcessed)
	assert.Zero(t, summary.ItemsDropped)

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "2019 Toyota Corolla XLE", records[0].Title)
	assert.InDelta(t, 12990000.0, records[0].Price, 0.001)
	assert.Equal(t, 45231, records[0].Mileage)
	assert.True(t, strings.HasPrefix(records[0].URL, srv.URL+"/vehiculos/detalles/"), records[0].URL)
	assert.Equal(t, summary.RunID, records[0].RunID)

	assert.GreaterOrEqual(t, blobs.Len(), 1)

	latest, ok := a.Stats().Latest()
	require.True(t, ok)
	assert.Equal(t, crawler.StatusCompleted, latest.Status)
}

func TestNewFailsWhenSinkCannotOpen(t *testing.T) {
	cfg := testConfig(t, "https://example.test/vehiculos/")
	_, err := New(context.Background(), cfg, zap.NewNop(), Options{
		OpenSink: func(context.Context, config.SinkConfig) (crawler.Sink, error) {
			return nil, errors.New("server selection timeout")
		},
	})
	require.ErrorIs(t, err, crawler.ErrSink)
}

func TestRunFailsWhenSinkPingFails(t *testing.T) {
	srv := newListingServer(t)
	cfg := testConfig(t, srv.URL+"/vehiculos/")
	cfg.Archive.Type = config.ArchiveNone

	a, err := New(context.Background(), cfg, zap.NewNop(), Options{
		OpenSink: func(context.Context, config.SinkConfig) (crawler.Sink, error) {
			return pingFailSink{memory.NewListingStore()}, nil
		},
	})
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.Error(t, a.Ready(context.Background()))
	summary, err := a.Run(context.Background(), RunOptions{})
	require.ErrorIs(t, err, crawler.ErrSink)
	assert.Equal(t, crawler.StatusFailed, summary.Status)
}

func TestRunTreatsCancelAsGraceful(t *testing.T) {
	srv := newListingServer(t)
	cfg := testConfig(t, srv.URL+"/vehiculos/")

	a, err := New(context.Background(), cfg, zap.NewNop(), Options{})
	require.NoError(t, err)
	defer a.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := a.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCanceled, summary.Status)
}

func TestCrawlConfigPrecedence(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Crawl.MaxPages = 9
	cfg.Crawl.Brands = []string{"Kia"}
	filtersPath := filepath.Join(t.TempDir(), "filters.json")
	require.NoError(t, os.WriteFile(filtersPath, []byte(`{"filters": {"brands": ["Toyota", "Nissan"], "max_pages": 4}}`), 0o600))

	a, err := New(context.Background(), cfg, zap.NewNop(), Options{})
	require.NoError(t, err)
	defer a.Close(context.Background())

	fromFilters, err := a.CrawlConfig(RunOptions{FiltersFile: filtersPath})
	require.NoError(t, err)
	assert.Equal(t, crawler.DefaultBaseURL, fromFilters.BaseURL)
	assert.Equal(t, []string{"Toyota", "Nissan"}, fromFilters.Brands)
	assert.Equal(t, 4, fromFilters.MaxPages)

	fromFlag, err := a.CrawlConfig(RunOptions{FiltersFile: filtersPath, MaxPages: 2, FollowDetails: true})
	require.NoError(t, err)
	assert.Equal(t, 2, fromFlag.MaxPages)
	assert.True(t, fromFlag.FollowDetails)

	fromConfig, err := a.CrawlConfig(RunOptions{FiltersFile: filepath.Join(t.TempDir(), "missing.json")})
	require.NoError(t, err)
	assert.Equal(t, []string{"Kia"}, fromConfig.Brands)
	assert.Equal(t, 9, fromConfig.MaxPages)

	orch, err := a.NewOrchestrator(RunOptions{FiltersFile: filtersPath})
	require.NoError(t, err)
	assert.Contains(t, orch.BaseURL(), "(Or.Marca.Toyota._.Marca.Nissan.)")
}

func TestCrawlConfigUnknownTarget(t *testing.T) {
	cfg := testConfig(t, "")
	a, err := New(context.Background(), cfg, zap.NewNop(), Options{})
	require.NoError(t, err)
	defer a.Close(context.Background())

	_, err = a.CrawlConfig(RunOptions{Target: "yapo"})
	require.ErrorContains(t, err, "unknown crawl target")
	assert.Equal(t, []string{"chileautos"}, Targets())
}

func TestOpenSinkAndBlobs(t *testing.T) {
	sink, err := OpenSink(context.Background(), config.SinkConfig{Type: config.SinkMemory})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))

	_, err = OpenSink(context.Background(), config.SinkConfig{Type: "kafka"})
	require.Error(t, err)

	_, err = OpenSink(context.Background(), config.SinkConfig{Type: config.SinkPubSub})
	require.ErrorContains(t, err, "topic_id")

	blobs, closer, err := OpenBlobs(context.Background(), config.ArchiveConfig{Type: config.ArchiveLocal, Local: localConfig(t)})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.NotNil(t, blobs)

	_, _, err = OpenBlobs(context.Background(), config.ArchiveConfig{Type: "s3"})
	require.Error(t, err)
}

func localConfig(t *testing.T) local.Config {
	t.Helper()
	return local.Config{BaseDir: t.TempDir()}
}
