// Package app builds the long-lived services a crawl needs from configuration
// and runs one crawl with them. It acts as the dependency injection container
// for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/car-listing-crawler/internal/api"
	"github.com/JakeFAU/car-listing-crawler/internal/clock/system"
	"github.com/JakeFAU/car-listing-crawler/internal/config"
	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/car-listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/car-listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/car-listing-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/car-listing-crawler/internal/storage"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/gcs"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/local"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/memory"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/mongodb"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/postgres"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/pubsubsink"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/redisstream"
)

// DefaultTarget is the crawl target used when none is named.
const DefaultTarget = "chileautos"

// targets maps crawl target names to their listing root.
var targets = map[string]string{
	DefaultTarget: crawler.DefaultBaseURL,
}

// Targets lists the known crawl target names.
func Targets() []string {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOptions are the per-invocation overrides from the command line.
type RunOptions struct {
	Target        string
	MaxPages      int
	FiltersFile   string
	FollowDetails bool
}

// SinkOpener opens the configured listing sink.
type SinkOpener func(ctx context.Context, cfg config.SinkConfig) (crawler.Sink, error)

// BlobOpener opens the configured page archive backend.
type BlobOpener func(ctx context.Context, cfg config.ArchiveConfig) (storage.BlobStore, func() error, error)

// Options lets tests swap the outward-facing collaborators.
type Options struct {
	OpenSink  SinkOpener
	OpenBlobs BlobOpener
	Fetcher   crawler.Fetcher
	Clock     crawler.Clock
	Rand      crawler.RandSource
}

// App holds the shared services for one crawl invocation.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	sink     crawler.Sink
	sinkOpen bool
	archive  crawler.PageArchive
	closers  []func() error
	fetcher  crawler.Fetcher
	throttle *ratelimit.Limiter
	clock    crawler.Clock
	rnd      crawler.RandSource
	stats    *api.StatsBoard
}

// New opens the sink and archive and builds the fetcher. It fails fast if
// the sink cannot be opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.OpenSink == nil {
		opts.OpenSink = OpenSink
	}
	if opts.OpenBlobs == nil {
		opts.OpenBlobs = OpenBlobs
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = system.NewRand(uint64(clock.Now().UnixNano()))
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  clock,
		rnd:    rnd,
		stats:  &api.StatsBoard{},
		throttle: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
			MinRPS:       cfg.RateLimit.MinRPS,
		}),
	}

	logger.Info("Opening sink", zap.String("sink", cfg.Sink.Type))
	sink, err := opts.OpenSink(ctx, cfg.Sink)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s sink: %w", crawler.ErrSink, cfg.Sink.Type, err)
	}
	a.sink = sink
	a.sinkOpen = true

	if cfg.Archive.Type != config.ArchiveNone && cfg.Archive.Type != "" {
		blobs, closer, err := opts.OpenBlobs(ctx, cfg.Archive)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("open %s archive: %w", cfg.Archive.Type, err)
		}
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
		archiver, err := storage.NewPageArchiver(blobs, cfg.Archive.Prefix)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.archive = archiver
		logger.Info("Archiving listing pages", zap.String("archive", cfg.Archive.Type))
	}

	a.fetcher = opts.Fetcher
	if a.fetcher == nil {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			Timeout:      cfg.Fetch.Timeout,
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
			Retry:        crawler.NewRetryPolicy(cfg.Fetch.MaxRetries, cfg.Fetch.BackoffInitial, cfg.Fetch.BackoffMax),
		}, logger.Named("fetcher"))
	}
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Stats returns the board the ops server reads run progress from.
func (a *App) Stats() *api.StatsBoard {
	return a.stats
}

// Ready pings the sink when it supports it.
func (a *App) Ready(ctx context.Context) error {
	if pinger, ok := a.sink.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// CrawlConfig merges configuration, the filters file and run overrides.
// Brands come from the filters file when it names any, otherwise from config.
// Max pages resolve flag, then filters file, then config, then unbounded.
func (a *App) CrawlConfig(opts RunOptions) (crawler.Config, error) {
	target := strings.ToLower(strings.TrimSpace(opts.Target))
	if target == "" {
		target = DefaultTarget
	}
	if _, ok := targets[target]; !ok {
		return crawler.Config{}, fmt.Errorf("unknown crawl target %q (known: %s)", opts.Target, strings.Join(Targets(), ", "))
	}

	filtersFile := opts.FiltersFile
	if filtersFile == "" {
		filtersFile = a.cfg.Crawl.FiltersFile
	}
	filters := config.LoadFilters(filtersFile, a.logger)

	cfg := crawler.DefaultConfig()
	cfg.BaseURL = a.cfg.Crawl.BaseURL
	if cfg.BaseURL == "" {
		cfg.BaseURL = targets[target]
	}
	cfg.Brands = a.cfg.Crawl.Brands
	if len(filters.Brands) > 0 {
		cfg.Brands = filters.Brands
	}
	if a.cfg.Crawl.PageSize > 0 {
		cfg.PageSize = a.cfg.Crawl.PageSize
	}
	cfg.MaxPages = config.ResolveMaxPages(opts.MaxPages, filters)
	if cfg.MaxPages == 0 {
		cfg.MaxPages = a.cfg.Crawl.MaxPages
	}
	cfg.MaxBlockRetries = a.cfg.Crawl.MaxBlockRetries
	if a.cfg.Crawl.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = a.cfg.Crawl.MaxConsecutiveFailures
	}
	cfg.FollowDetails = a.cfg.Crawl.FollowDetails || opts.FollowDetails
	cfg.Locators = a.cfg.Locators
	return cfg, nil
}

// SessionConfig converts the session section.
func (a *App) SessionConfig() crawler.SessionConfig {
	s := a.cfg.Session
	return crawler.SessionConfig{
		Enabled:     s.Enabled,
		Duration:    s.Duration,
		MaxRequests: s.MaxRequests,
		MinDelay:    s.MinDelay,
		MaxDelay:    s.MaxDelay,
		UserAgents:  s.UserAgents,
	}
}

// NewOrchestrator wires a crawl for opts. The orchestrator takes ownership
// of the sink and closes it on Shutdown.
func (a *App) NewOrchestrator(opts RunOptions) (*crawler.Orchestrator, error) {
	cfg, err := a.CrawlConfig(opts)
	if err != nil {
		return nil, err
	}
	detector := crawler.NewBlockDetector(a.cfg.Session.BlockStatuses, a.cfg.Session.BlockMarkers)
	session := crawler.NewSessionPolicy(a.SessionConfig(), detector, a.clock, a.rnd, a.logger.Named("session"))

	deps := crawler.Dependencies{
		Fetcher:    a.fetcher,
		Sink:       a.sink,
		SinkName:   a.cfg.Sink.Type,
		Session:    session,
		Throttle:   a.throttle,
		Clock:      a.clock,
		IDs:        uuid.New(),
		Logger:     a.logger.Named("crawler"),
		OnProgress: a.stats.Update,
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	orch, err := crawler.NewOrchestrator(cfg, deps)
	if err != nil {
		return nil, err
	}
	a.sinkOpen = false
	return orch, nil
}

// Run executes one crawl to completion and returns its summary. A canceled
// context is a graceful stop and returns a nil error.
func (a *App) Run(ctx context.Context, opts RunOptions) (crawler.Summary, error) {
	if a.cfg.Server.Addr != "" {
		srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
		defer stopServer()
		server := api.NewServer(a.stats, a.Ready, a.logger.Named("api"))
		go func() {
			if err := server.Serve(srvCtx, a.cfg.Server.Addr); err != nil {
				a.logger.Error("Ops server failed", zap.Error(err))
			}
		}()
	}

	orch, err := a.NewOrchestrator(opts)
	if err != nil {
		return crawler.Summary{}, err
	}

	runErr := orch.Start(ctx)
	if runErr == nil {
		runErr = orch.Run(ctx)
	}
	// Shutdown must still close the sink after a cancel.
	summary := orch.Shutdown(context.WithoutCancel(ctx), runErr)

	if errors.Is(runErr, context.Canceled) {
		a.logger.Warn("Crawl interrupted", zap.String("run_id", summary.RunID))
		return summary, nil
	}
	return summary, runErr
}

// Close releases anything the orchestrator did not take over.
func (a *App) Close(ctx context.Context) {
	if a.sinkOpen && a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			a.logger.Warn("Error closing sink", zap.Error(err))
		}
		a.sinkOpen = false
	}
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.logger.Warn("Error closing archive", zap.Error(err))
		}
	}
	a.closers = nil
}

// OpenSink connects the sink named by cfg.Type.
func OpenSink(ctx context.Context, cfg config.SinkConfig) (crawler.Sink, error) {
	var (
		sink crawler.Sink
		err  error
	)
	switch cfg.Type {
	case config.SinkMongoDB, "":
		sink, err = asSink(mongodb.Open(ctx, cfg.MongoDB))
	case config.SinkPostgres:
		sink, err = asSink(postgres.Open(ctx, cfg.Postgres))
	case config.SinkRedis:
		sink, err = asSink(redisstream.Open(cfg.Redis))
	case config.SinkPubSub:
		sink, err = asSink(pubsubsink.Open(ctx, cfg.PubSub))
	case config.SinkMemory:
		sink = memory.NewListingStore()
	default:
		err = fmt.Errorf("unknown sink type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// asSink keeps a failed constructor's nil pointer out of the interface.
func asSink[S crawler.Sink](s S, err error) (crawler.Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenBlobs opens the archive backend named by cfg.Type.
func OpenBlobs(ctx context.Context, cfg config.ArchiveConfig) (storage.BlobStore, func() error, error) {
	switch cfg.Type {
	case config.ArchiveLocal:
		store, err := local.New(cfg.Local)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, cfg.GCS)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.ArchiveMemory:
		return memory.NewBlobStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive type %q", cfg.Type)
	}
}
