package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentwatch/models"
	"rentwatch/scraper/availability"
	"rentwatch/scraper/extract"
	"rentwatch/services"
	"rentwatch/storage"
	"rentwatch/utils"
)

const listingHTML = `<html><body>
	<div class="plan">
		<h3>Plan A1</h3>
		<p>2 Bed 2 Bath 950 sq ft</p>
		<p>From $2,495</p>
		<p>Available</p>
	</div>
	<div class="plan">
		<h3>Plan B2</h3>
		<p>Studio 500 sq ft</p>
		<p>$1,795</p>
	</div>
</body></html>`

// fakeFetcher serves canned markup per URL and can inject failures or block
// mid-fetch to exercise the runner.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]int // remaining failures per URL
	calls    int

	started chan struct{} // closed on first Fetch, when set
	release chan struct{} // Fetch blocks until closed, when set
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls++
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	release := f.release
	if f.failures[url] > 0 {
		f.failures[url]--
		f.mu.Unlock()
		return "", errors.New("connection reset")
	}
	html, ok := f.pages[url]
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !ok {
		return "", errors.New("navigation failed")
	}
	return html, nil
}

func newTestPipeline(t *testing.T, fetcher Fetcher, opts Options) (*Pipeline, *storage.SQLStore) {
	t.Helper()
	logger := utils.NewLogger("error")

	store, err := storage.NewSQLStore("sqlite", ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ing := services.NewIngestor(store, logger)
	p := NewPipeline(fetcher, extract.New(logger), ing, availability.New(logger), opts, logger)
	return p, store
}

func testSource(name, url string) models.Source {
	return models.Source{
		Name: name,
		URL:  url,
		Selectors: models.SelectorConfig{
			Item: []string{"div.plan"},
		},
	}
}

func TestScrapeSourceEndToEnd(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://parkside.example/floorplans": listingHTML,
	}}
	p, store := newTestPipeline(t, fetcher, Options{MaxRetries: 1, RetryBase: time.Millisecond})

	res := p.ScrapeSource(context.Background(), testSource("parkside", "https://parkside.example/floorplans"))

	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Scraped)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, 2, res.Priced)

	// Plan A1 is the first unit inserted.
	min, ok, err := store.MinPriceBefore(context.Background(), 1, "9999-12-31")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2495), min)
}

func TestRunIsolatesFailingSource(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://parkside.example/floorplans": listingHTML,
	}}
	p, _ := newTestPipeline(t, fetcher, Options{MaxConcurrency: 2, MaxRetries: 1, RetryBase: time.Millisecond})

	summary := p.Run(context.Background(), []models.Source{
		testSource("parkside", "https://parkside.example/floorplans"),
		testSource("broken", "https://broken.example/floorplans"),
	})

	require.Len(t, summary.Sources, 2)
	assert.Empty(t, summary.Sources[0].Errors)
	assert.Equal(t, 2, summary.Sources[0].Scraped)
	assert.NotEmpty(t, summary.Sources[1].Errors)
	assert.Zero(t, summary.Sources[1].Scraped)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestFetchRetriesTransientFailure(t *testing.T) {
	url := "https://parkside.example/floorplans"
	fetcher := &fakeFetcher{
		pages:    map[string]string{url: listingHTML},
		failures: map[string]int{url: 1},
	}
	p, _ := newTestPipeline(t, fetcher, Options{MaxRetries: 3, RetryBase: time.Millisecond})

	res := p.ScrapeSource(context.Background(), testSource("parkside", url))

	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Scraped)
	assert.Equal(t, 2, fetcher.calls)
}

func TestFetchExhaustsRetries(t *testing.T) {
	url := "https://parkside.example/floorplans"
	fetcher := &fakeFetcher{failures: map[string]int{url: 5}}
	p, _ := newTestPipeline(t, fetcher, Options{MaxRetries: 2, RetryBase: time.Millisecond})

	res := p.ScrapeSource(context.Background(), testSource("parkside", url))

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "after 2 attempts")
	assert.Equal(t, 2, fetcher.calls)
}

func TestScrapeAvailability(t *testing.T) {
	url := "https://leasing.example/availability"
	fetcher := &fakeFetcher{pages: map[string]string{
		url: `<html><body><ul><li>D123 — $2,100/mo — Available now</li></ul></body></html>`,
	}}
	p, _ := newTestPipeline(t, fetcher, Options{MaxRetries: 1, RetryBase: time.Millisecond})

	rep, err := p.ScrapeAvailability(context.Background(), url, "D")
	require.NoError(t, err)
	require.Len(t, rep.AvailableNow, 1)
	assert.Equal(t, "D123", rep.AvailableNow[0].Unit)

	_, err = p.ScrapeAvailability(context.Background(), "", "D")
	assert.Error(t, err)
}

func TestRunnerRejectsConcurrentRuns(t *testing.T) {
	url := "https://parkside.example/floorplans"
	fetcher := &fakeFetcher{
		pages:   map[string]string{url: listingHTML},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := fetcher.started
	p, _ := newTestPipeline(t, fetcher, Options{MaxRetries: 1, RetryBase: time.Millisecond})
	runner := NewRunner(p)

	sources := []models.Source{testSource("parkside", url)}

	done := make(chan *models.RunSummary, 1)
	go func() {
		summary, err := runner.Run(context.Background(), sources)
		assert.NoError(t, err)
		done <- summary
	}()

	<-started
	assert.True(t, runner.Status().Running)

	_, err := runner.Run(context.Background(), sources)
	assert.ErrorIs(t, err, ErrBusy)

	close(fetcher.release)
	first := <-done
	require.NotNil(t, first)

	status := runner.Status()
	assert.False(t, status.Running)
	assert.Same(t, first, status.Last)

	// Once idle, the next run goes through.
	fetcher.mu.Lock()
	fetcher.release = nil
	fetcher.mu.Unlock()
	_, err = runner.Run(context.Background(), sources)
	assert.NoError(t, err)
}
