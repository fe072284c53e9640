package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/car-listing-crawler/internal/extract"
	"github.com/JakeFAU/car-listing-crawler/internal/metrics"
	"github.com/JakeFAU/car-listing-crawler/internal/normalize"
)

// StatusAborted marks a run stopped after too many consecutive page failures.
const StatusAborted = "aborted"

// Config holds the settings for one crawl run.
// It is decoupled from Viper so the orchestrator can be tested in isolation.
type Config struct {
	BaseURL                string
	Brands                 []string
	PageSize               int
	MaxPages               int
	MaxBlockRetries        int
	MaxConsecutiveFailures int
	FollowDetails          bool
	Locators               FieldLocators
}

// DefaultConfig returns an unbounded, unfiltered walk of the listing.
func DefaultConfig() Config {
	return Config{
		BaseURL:                DefaultBaseURL,
		PageSize:               DefaultPageSize,
		MaxBlockRetries:        3,
		MaxConsecutiveFailures: 3,
		Locators:               DefaultFieldLocators(),
	}
}

// Dependencies are the collaborators wired into an Orchestrator. Fetcher and
// Sink are required; the rest are optional.
type Dependencies struct {
	Fetcher  Fetcher
	Sink     Sink
	SinkName string
	Session  *SessionPolicy
	Archive  PageArchive
	Throttle Throttle
	Clock    Clock
	IDs      IDGenerator
	Logger   *zap.Logger
	// OnProgress receives a summary after every page, from the Run goroutine.
	OnProgress func(Summary)
}

// Orchestrator drives the page-by-page listing walk for one run.
type Orchestrator struct {
	cfg        Config
	baseURL    string
	fetcher    Fetcher
	sink       Sink
	sinkName   string
	session    *SessionPolicy
	archive    PageArchive
	throttle   Throttle
	clock      Clock
	ids        IDGenerator
	logger     *zap.Logger
	onProgress func(Summary)
	extractor  *extract.Extractor
	locators   compiledLocators
	pauser     pauseController

	state     *CrawlState
	runID     string
	startedAt time.Time
	status    string
}

// NewOrchestrator validates cfg and wires the collaborators.
func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	if deps.Sink == nil {
		return nil, ErrNoSink
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = utcClock{}
	}
	session := deps.Session
	if session == nil {
		sessionCfg := DefaultSessionConfig()
		session = NewSessionPolicy(sessionCfg, nil, clock, rand.New(rand.NewPCG(uint64(clock.Now().UnixNano()), 0)), logger)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxBlockRetries < 0 {
		cfg.MaxBlockRetries = 0
	}
	locators, err := cfg.Locators.compile()
	if err != nil {
		return nil, fmt.Errorf("compile locators: %w", err)
	}
	sinkName := deps.SinkName
	if sinkName == "" {
		sinkName = "unknown"
	}

	return &Orchestrator{
		cfg:        cfg,
		baseURL:    BuildBaseURL(cfg.BaseURL, cfg.Brands),
		fetcher:    deps.Fetcher,
		sink:       deps.Sink,
		sinkName:   sinkName,
		session:    session,
		archive:    deps.Archive,
		throttle:   deps.Throttle,
		clock:      clock,
		ids:        deps.IDs,
		logger:     logger,
		onProgress: deps.OnProgress,
		extractor:  extract.New(logger),
		locators:   locators,
		pauser:     timerPauseController{},
	}, nil
}

// BaseURL returns the filtered listing URL the walk starts from.
func (o *Orchestrator) BaseURL() string {
	return o.baseURL
}

// RunID returns the identifier assigned by Start.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Start opens a run: it assigns a run ID, creates the crawl state and checks
// the sink is reachable when the sink supports it.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.state != nil {
		return errors.New("crawl already started")
	}
	runID, err := o.newRunID()
	if err != nil {
		return err
	}
	if pinger, ok := o.sink.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("%w: ping %s: %w", ErrSink, o.sinkName, err)
		}
	}

	o.runID = runID
	o.state = newCrawlState(o.cfg.MaxPages)
	o.startedAt = o.clock.Now()
	o.status = StatusCompleted
	metrics.IncActiveRuns()

	o.logger.Info("Starting crawl",
		zap.String("run_id", o.runID),
		zap.String("base_url", o.baseURL),
		zap.Int("max_pages", o.cfg.MaxPages),
		zap.Int("page_size", o.cfg.PageSize),
		zap.Bool("follow_details", o.cfg.FollowDetails),
		zap.Bool("session_enabled", o.session.Enabled()),
		zap.String("sink", o.sinkName),
	)
	return nil
}

// Run walks listing pages until pagination stops, an empty page is reached or
// ctx is done. It returns an ErrSink-wrapped error when persistence fails and
// ctx.Err() when canceled between pages.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.state == nil {
		return errors.New("crawl not started")
	}

	pageURL := PageURL(o.baseURL, NextOffset(0, o.cfg.PageSize))
	failures := 0
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			o.status = StatusCanceled
			o.logger.Info("Crawl canceled", zap.Int("page", page))
			return err
		}
		if !o.state.visited.MarkIfNew(pageURL) {
			o.logger.Info("Page already visited, stopping", zap.String("url", pageURL))
			return nil
		}
		o.state.CurrentPage = page

		skippedBefore := o.state.ItemsSkipped
		items, err := o.processPage(ctx, page, pageURL)
		switch {
		case errors.Is(err, ErrSink):
			o.status = StatusFailed
			return err
		case ctx.Err() != nil:
			o.status = StatusCanceled
			o.logger.Info("Crawl canceled", zap.Int("page", page))
			return ctx.Err()
		case err != nil:
			o.state.PagesSkipped++
			failures++
			o.logger.Warn("Skipping page",
				zap.Int("page", page),
				zap.String("url", pageURL),
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if o.cfg.MaxConsecutiveFailures > 0 && failures >= o.cfg.MaxConsecutiveFailures {
				o.status = StatusAborted
				o.logger.Error("Too many consecutive page failures, stopping", zap.Int("failures", failures))
				return nil
			}
		default:
			failures = 0
			o.state.PagesProcessed++
		}
		o.publishProgress()

		if err == nil && items == 0 {
			o.logger.Info("Empty listing page, ending crawl", zap.Int("page", page))
			return nil
		}
		if err == nil && o.state.ItemsSkipped-skippedBefore == items {
			o.logger.Info("Every listing on the page was already seen, ending crawl", zap.Int("page", page))
			return nil
		}
		if !ShouldContinue(page, o.state.MaxPages) {
			o.logger.Info("Reached max pages", zap.Int("max_pages", o.state.MaxPages))
			return nil
		}
		next := PageURL(o.baseURL, NextOffset(page, o.cfg.PageSize))
		if o.state.Visited(next) {
			o.logger.Info("Next page already visited, stopping", zap.String("url", next))
			return nil
		}
		pageURL = next
	}
}

// Shutdown closes the sink and emits the run summary. It is safe to defer
// regardless of how Run ended; runErr only informs the reported status.
func (o *Orchestrator) Shutdown(ctx context.Context, runErr error) Summary {
	if runErr != nil && o.status == StatusCompleted {
		o.status = StatusFailed
		if errors.Is(runErr, context.Canceled) {
			o.status = StatusCanceled
		}
	}
	if err := o.sink.Close(ctx); err != nil {
		o.logger.Error("Failed to close sink", zap.String("sink", o.sinkName), zap.Error(err))
	}

	summary := o.snapshot(o.clock.Now())
	summary.Log(o.logger)
	if o.state != nil {
		metrics.ObserveRun(summary.Status)
		metrics.DecActiveRuns()
	}
	if o.onProgress != nil {
		o.onProgress(summary)
	}
	return summary
}

func (o *Orchestrator) snapshot(now time.Time) Summary {
	s := Summarize(o.runID, o.state, o.session.State().Resets, o.startedAt, now)
	s.Status = o.status
	if s.Status == "" {
		s.Status = StatusFailed
	}
	return s
}

func (o *Orchestrator) publishProgress() {
	if o.onProgress == nil {
		return
	}
	s := o.snapshot(o.clock.Now())
	s.Status = "running"
	s.FinishedAt = time.Time{}
	o.onProgress(s)
}

func (o *Orchestrator) processPage(ctx context.Context, page int, pageURL string) (int, error) {
	resp, err := o.fetch(ctx, page, pageURL)
	if err != nil {
		return 0, err
	}
	o.archivePage(ctx, page, resp)

	doc, err := extract.ParseDocument(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("parse page: %w", err)
	}
	items := o.extractor.FirstAll(doc, o.locators.items)
	o.logger.Info("Found listing items", zap.Int("page", page), zap.Int("items", len(items)))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return len(items), err
		}
		if err := o.processItem(ctx, page, resp.URL, item); err != nil {
			return len(items), err
		}
	}
	return len(items), nil
}

func (o *Orchestrator) processItem(ctx context.Context, page int, pageURL string, item extract.Fragment) error {
	rec := o.extractListing(page, pageURL, item)
	if rec.URL != "" && o.state.Visited(rec.URL) {
		o.state.ItemsSkipped++
		metrics.ObserveItem("skipped")
		o.logger.Debug("Listing already seen in this run", zap.String("url", rec.URL))
		return nil
	}
	if o.cfg.FollowDetails && rec.URL != "" && (rec.Price <= 0 || rec.Mileage <= 0) {
		var err error
		if rec, err = o.enrichFromDetail(ctx, page, rec); err != nil {
			return err
		}
	}
	o.state.visited.MarkIfNew(rec.URL)

	valid, err := Validate(rec)
	if err != nil {
		var failure *ValidationFailure
		if errors.As(err, &failure) {
			for _, f := range failure.Fields {
				o.state.DropReasons[f]++
			}
			metrics.ObserveDrop(failure.Fields)
		}
		o.state.ItemsDropped++
		metrics.ObserveItem("dropped")
		o.logger.Warn("Dropping incomplete listing",
			zap.String("url", rec.URL),
			zap.String("title", rec.Title),
			zap.Int("page", page),
			zap.Error(err),
		)
		return nil
	}

	id, err := o.sink.Store(ctx, valid)
	metrics.ObserveSinkWrite(o.sinkName, err)
	if err != nil {
		o.logger.Error("Failed to store listing",
			zap.String("url", valid.URL),
			zap.String("sink", o.sinkName),
			zap.Error(err),
		)
		return fmt.Errorf("%w: store %s: %w", ErrSink, valid.URL, err)
	}
	o.state.ItemsProcessed++
	metrics.ObserveItem("processed")
	o.logger.Debug("Stored listing", zap.String("id", id), zap.String("url", valid.URL))
	return nil
}

func (o *Orchestrator) extractListing(page int, pageURL string, item extract.Fragment) ListingRecord {
	href, _ := o.extractor.FirstMatch(item, o.locators.url)
	title, _ := o.extractor.FirstMatch(item, o.locators.title)
	priceText, _ := o.extractor.FirstMatch(item, o.locators.price)
	mileageText, _ := o.extractor.FirstMatch(item, o.locators.mileage)
	yearText, _ := o.extractor.FirstMatch(item, o.locators.year)

	now := o.clock.Now()
	return ListingRecord{
		URL:       ResolveURL(pageURL, href),
		Title:     title,
		Price:     normalize.ParsePrice(priceText),
		Mileage:   normalize.ParseMileage(mileageText, o.logger),
		Year:      o.year(yearText, title, now),
		Page:      page,
		RunID:     o.runID,
		ScrapedAt: now,
	}
}

// enrichFromDetail fills missing price, mileage or title from the vehicle
// page. Fetch and parse failures are logged and leave rec unchanged; only
// cancellation is returned, so the caller abandons the item uncounted.
func (o *Orchestrator) enrichFromDetail(ctx context.Context, page int, rec ListingRecord) (ListingRecord, error) {
	resp, err := o.fetch(ctx, page, rec.URL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rec, ctxErr
		}
		o.logger.Warn("Failed to fetch listing detail", zap.String("url", rec.URL), zap.Error(err))
		return rec, nil
	}
	doc, err := extract.ParseDocument(resp.Body)
	if err != nil {
		o.logger.Warn("Failed to parse listing detail", zap.String("url", rec.URL), zap.Error(err))
		return rec, nil
	}

	if rec.Title == "" {
		rec.Title, _ = o.extractor.FirstMatch(doc, o.locators.detailTitle)
	}
	if rec.Price <= 0 {
		priceText, _ := o.extractor.FirstMatch(doc, o.locators.detailPrice)
		rec.Price = normalize.ParsePrice(priceText)
	}
	if rec.Mileage <= 0 {
		mileageText, ok := o.extractor.FirstMatch(doc, o.locators.detailMileage)
		if !ok {
			mileageText = normalize.FindMileageInText(doc.Text())
			if mileageText != "" {
				o.logger.Debug("Found mileage in page text", zap.String("url", rec.URL), zap.String("raw", mileageText))
			}
		}
		rec.Mileage = normalize.ParseMileage(mileageText, o.logger)
		if rec.Mileage == 0 {
			o.logger.Warn("Could not extract mileage", zap.String("url", rec.URL))
		}
	}
	if rec.Year == 0 {
		rec.Year = o.year("", rec.Title, o.clock.Now())
	}
	return rec, nil
}

func (o *Orchestrator) year(yearText, title string, now time.Time) int {
	year := normalize.ParseYear(yearText)
	if year == 0 {
		year = normalize.ParseYear(title)
	}
	return normalize.PlausibleYear(year, now)
}

// fetch issues one request through the session policy. Blocking responses
// are retried on a fresh session up to MaxBlockRetries times.
func (o *Orchestrator) fetch(ctx context.Context, page int, url string) (FetchResponse, error) {
	for attempt := 0; ; attempt++ {
		if err := o.wait(ctx, url); err != nil {
			return FetchResponse{}, err
		}
		req := FetchRequest{URL: url, Page: page, Headers: DefaultHeaders()}
		o.session.BeforeRequest(&req)

		resp, err := o.fetcher.Fetch(ctx, req)
		if err != nil {
			metrics.ObserveFetch(url, "error", 0, 0)
			return FetchResponse{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		if resp.URL == "" {
			resp.URL = url
		}
		if o.session.AfterResponse(resp) {
			metrics.ObserveFetch(url, "blocked", len(resp.Body), resp.Duration)
			if p, ok := o.throttle.(penalizer); ok {
				p.Penalize(url)
			}
			if attempt >= o.cfg.MaxBlockRetries {
				return FetchResponse{}, fmt.Errorf("%w: %s still blocked after %d retries", ErrBlocked, url, attempt)
			}
			o.logger.Info("Retrying blocked request", zap.String("url", url), zap.Int("attempt", attempt+1))
			continue
		}
		if resp.StatusCode >= 400 {
			metrics.ObserveFetch(url, "http_error", len(resp.Body), resp.Duration)
			return FetchResponse{}, &StatusError{URL: url, StatusCode: resp.StatusCode}
		}
		metrics.ObserveFetch(url, "ok", len(resp.Body), resp.Duration)
		return resp, nil
	}
}

func (o *Orchestrator) wait(ctx context.Context, url string) error {
	if err := o.pauser.Pause(ctx, o.session.ComputeDelay()); err != nil {
		return err
	}
	if o.throttle != nil {
		if err := o.throttle.Wait(ctx, url); err != nil {
			return fmt.Errorf("throttle: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) archivePage(ctx context.Context, page int, resp FetchResponse) {
	if o.archive == nil {
		return
	}
	uri, err := o.archive.Archive(ctx, PageSnapshot{
		RunID:     o.runID,
		Page:      page,
		URL:       resp.URL,
		Body:      resp.Body,
		FetchedAt: o.clock.Now(),
	})
	if err != nil {
		o.logger.Warn("Failed to archive page", zap.Int("page", page), zap.Error(err))
		return
	}
	o.logger.Debug("Archived page", zap.Int("page", page), zap.String("uri", uri))
}

func (o *Orchestrator) newRunID() (string, error) {
	if o.ids == nil {
		return fmt.Sprintf("run-%d", o.clock.Now().UnixNano()), nil
	}
	id, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
