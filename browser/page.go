package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	navAttempts   = 3
	settleDelay   = 1500 * time.Millisecond
	readyPollStep = 200 * time.Millisecond
	scrollStep    = 400 * time.Millisecond
	maxScrollIter = 25
)

// blockedResourceTypes are fetched resources that never contribute to the
// DOM we extract from.
var blockedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeImage: true,
	network.ResourceTypeMedia: true,
	network.ResourceTypeFont:  true,
}

// Page is a rendered document handle. It stays valid until Release.
type Page struct {
	URL    string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.SugaredLogger
}

// Acquire renders url in a fresh tab and returns a stable document handle.
// Each navigation attempt gets the full time budget; "frame detached",
// "execution context destroyed" and timeouts are retried with progressively
// longer waits, anything else fails immediately with a NavigationError.
func (s *Session) Acquire(ctx context.Context, url string, budget time.Duration) (*Page, error) {
	var lastErr error
	wait := 2 * time.Second

	for attempt := 1; attempt <= navAttempts; attempt++ {
		tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)

		err := navigate(tabCtx, url, budget)
		if err == nil {
			return &Page{URL: url, ctx: tabCtx, cancel: cancelTab, logger: s.logger}, nil
		}
		releaseTab(tabCtx, cancelTab, s.logger)
		lastErr = err

		if !isTransientNav(err) {
			return nil, &NavigationError{URL: url, Attempts: attempt, Err: err}
		}
		if attempt < navAttempts {
			s.logger.Warnf("[browser] Navigation attempt %d/%d for %s failed: %v — retrying in %v",
				attempt, navAttempts, url, err, wait)
			select {
			case <-ctx.Done():
				return nil, &NavigationError{URL: url, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(wait):
			}
			wait *= 2
		}
	}

	return nil, &NavigationError{URL: url, Attempts: navAttempts, Err: lastErr}
}

// navigate drives one attempt: block non-essential resources, load the page,
// wait for an interactive-or-complete ready state, then settle briefly to
// tolerate client-side re-rendering.
func navigate(tabCtx context.Context, url string, budget time.Duration) error {
	navCtx, cancelNav := context.WithTimeout(tabCtx, budget)
	defer cancelNav()

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		e, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(tabCtx)
			execCtx := cdp.WithExecutor(tabCtx, c.Target)
			if blockedResourceTypes[e.ResourceType] {
				_ = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			} else {
				_ = fetch.ContinueRequest(e.RequestID).Do(execCtx)
			}
		}()
	})

	if err := chromedp.Run(navCtx,
		fetch.Enable(),
		chromedp.Navigate(url),
	); err != nil {
		return err
	}

	if err := waitReady(navCtx); err != nil {
		return err
	}

	return chromedp.Run(navCtx, chromedp.Sleep(settleDelay))
}

// waitReady polls document.readyState until the page reports interactive or
// complete, bounded by the navigation context deadline.
func waitReady(ctx context.Context) error {
	for {
		var state string
		if err := chromedp.Run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return err
		}
		if state == "interactive" || state == "complete" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollStep):
		}
	}
}

// ScrollToBottom walks the viewport down the page in increments so that
// lazy-loaded content materialises, bounded by the total scroll height.
func (p *Page) ScrollToBottom(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()

	for i := 0; i < maxScrollIter; i++ {
		var atBottom bool
		err := chromedp.Run(opCtx,
			chromedp.Evaluate(`(function() {
				window.scrollBy(0, window.innerHeight);
				return window.scrollY + window.innerHeight >= document.body.scrollHeight - 2;
			})()`, &atBottom),
		)
		if err != nil {
			return err
		}
		if atBottom {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(scrollStep):
		}
	}
	return nil
}

// HTML returns the rendered document markup.
func (p *Page) HTML() (string, error) {
	opCtx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()

	var html string
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", err
	}
	return html, nil
}

// Release closes the page's tab. Benign session-teardown errors are logged
// and never propagated.
func (p *Page) Release() {
	releaseTab(p.ctx, p.cancel, p.logger)
}

func releaseTab(tabCtx context.Context, cancel context.CancelFunc, logger *zap.SugaredLogger) {
	if err := chromedp.Cancel(tabCtx); err != nil && !isBenignTeardown(err) {
		logger.Debugf("[browser] Page release: %v", err)
	}
	cancel()
}
