package scraper

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rentwatch/browser"
	"rentwatch/models"
	"rentwatch/scraper/availability"
	"rentwatch/scraper/extract"
	"rentwatch/services"
	"rentwatch/utils"
)

// Fetcher renders one URL and returns its document markup.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// BrowserFetcher renders pages through a headless browser session, scrolling
// the full page so lazy-loaded listings materialise.
type BrowserFetcher struct {
	session *browser.Session
	budget  time.Duration
	logger  *zap.SugaredLogger
}

// NewBrowserFetcher creates a BrowserFetcher. budget bounds each navigation
// attempt, not the whole fetch.
func NewBrowserFetcher(session *browser.Session, budget time.Duration, logger *zap.SugaredLogger) *BrowserFetcher {
	return &BrowserFetcher{session: session, budget: budget, logger: logger}
}

// Fetch acquires a fresh page, scrolls it to the bottom and returns the
// rendered markup. The tab is always released.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	page, err := f.session.Acquire(ctx, url, f.budget)
	if err != nil {
		return "", err
	}
	defer page.Release()

	if err := page.ScrollToBottom(ctx); err != nil {
		// The document is still usable without the lazy-loaded tail.
		f.logger.Warnf("[scraper] Scroll on %s stopped early: %v", url, err)
	}
	return page.HTML()
}

// Options tunes the pipeline's politeness and fault tolerance.
type Options struct {
	MaxConcurrency int           // sources scraped in parallel
	MaxRetries     int           // full fetch attempts per source
	RetryBase      time.Duration // first retry delay, doubled per attempt
	RateLimit      time.Duration // minimum gap between page fetches
	SourceBudget   time.Duration // wall-clock bound per fetch attempt
}

// Pipeline runs the scrape → extract → ingest flow for configured sources.
// The rate limiter is shared across workers so concurrency never multiplies
// the request rate against the target sites.
type Pipeline struct {
	fetcher    Fetcher
	extractor  *extract.Extractor
	ingestor   *services.Ingestor
	classifier *availability.Classifier
	limiter    *rate.Limiter
	opts       Options
	logger     *zap.SugaredLogger
}

// NewPipeline creates a Pipeline.
func NewPipeline(fetcher Fetcher, extractor *extract.Extractor, ingestor *services.Ingestor,
	classifier *availability.Classifier, opts Options, logger *zap.SugaredLogger) *Pipeline {

	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Every(opts.RateLimit)
	}

	return &Pipeline{
		fetcher:    fetcher,
		extractor:  extractor,
		ingestor:   ingestor,
		classifier: classifier,
		limiter:    rate.NewLimiter(limit, 1),
		opts:       opts,
		logger:     logger,
	}
}

// Run scrapes every source with bounded concurrency and returns the summary.
// Sources fail independently; their errors land in the per-source result.
func (p *Pipeline) Run(ctx context.Context, sources []models.Source) *models.RunSummary {
	summary := &models.RunSummary{
		StartedAt: time.Now().UTC(),
		Sources:   make([]models.SourceResult, len(sources)),
	}

	p.logger.Infof("[scraper] Starting run: %d sources, concurrency %d", len(sources), p.opts.MaxConcurrency)

	pool := utils.NewWorkerPool(p.opts.MaxConcurrency)
	for i, src := range sources {
		i, src := i, src
		pool.Submit(func() {
			summary.Sources[i] = p.ScrapeSource(ctx, src)
		})
	}
	pool.Wait()

	summary.FinishedAt = time.Now().UTC()

	var scraped, priced, failed int
	for _, r := range summary.Sources {
		scraped += r.Scraped
		priced += r.Priced
		if len(r.Errors) > 0 {
			failed++
		}
	}
	p.logger.Infof("[scraper] Run finished in %s: %d units scraped, %d price writes, %d sources with errors",
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond), scraped, priced, failed)
	return summary
}

// ScrapeSource runs the full pipeline for one source. The fetch is retried
// with back-off; extraction and ingestion run once on the fetched document.
func (p *Pipeline) ScrapeSource(ctx context.Context, src models.Source) models.SourceResult {
	res := models.SourceResult{Source: src.Name}

	html, err := p.fetch(ctx, src.Name, src.URL)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		p.logger.Errorf("[scraper] %s: fetch failed: %v", src.Name, err)
		return res
	}

	extracted, err := p.extractor.Extract(html, src.Selectors, src.URL)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		p.logger.Errorf("[scraper] %s: extraction failed: %v", src.Name, err)
		return res
	}
	res.Scraped = len(extracted.Units)
	res.Filtered = extracted.Filtered

	if len(extracted.Units) == 0 {
		p.logger.Warnf("[scraper] %s: no units extracted (%d nodes filtered)", src.Name, extracted.Filtered)
		return res
	}

	ing := p.ingestor.IngestBatch(ctx, src.Name, extracted.Units, time.Now().UTC())
	res.Upserted = ing.Upserted
	res.Priced = ing.Priced
	res.Errors = append(res.Errors, ing.Errors...)
	return res
}

// ScrapeAvailability fetches the secondary availability source and classifies
// its records into now / soon / table buckets.
func (p *Pipeline) ScrapeAvailability(ctx context.Context, url, wing string) (*models.AvailabilityReport, error) {
	if url == "" {
		return nil, eris.New("scraper: no availability url configured")
	}

	html, err := p.fetch(ctx, "availability", url)
	if err != nil {
		return nil, err
	}
	return p.classifier.Classify(html, wing, time.Now().UTC())
}

// fetch rate-limits and retries one page fetch.
func (p *Pipeline) fetch(ctx context.Context, name, url string) (string, error) {
	var html string
	retry := &utils.RetryConfig{
		MaxAttempts: p.opts.MaxRetries,
		BaseDelay:   p.opts.RetryBase,
		Logger:      p.logger,
	}

	err := retry.Do(ctx, "fetch "+name, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		// Exceeding the budget fails this attempt only; the retry loop
		// decides whether the source gets another one.
		attemptCtx := ctx
		if p.opts.SourceBudget > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.opts.SourceBudget)
			defer cancel()
		}

		h, err := p.fetcher.Fetch(attemptCtx, url)
		if err != nil {
			return err
		}
		html = h
		return nil
	})
	return html, err
}
