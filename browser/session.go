package browser

import (
	"context"
	"os"
	"os/exec"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Session owns one headless browser process. Pages are acquired from it and
// released independently; closing the session tears everything down.
type Session struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	browserCtx  context.Context
	cancelBrows context.CancelFunc
	logger      *zap.SugaredLogger
}

// NewSession starts a headless browser and returns a Session bound to it.
// The caller owns the session and must Close it on every exit path.
func NewSession(chromeBin string, logger *zap.SugaredLogger) *Session {
	bin := chromeBin
	if bin == "" {
		bin = findChromeBinary()
	}
	logger.Infof("[browser] Using browser binary: %s", bin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise
	browserCtx, cancelBrows := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))

	return &Session{
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		browserCtx:  browserCtx,
		cancelBrows: cancelBrows,
		logger:      logger,
	}
}

// Close shuts the browser down. Teardown races are logged, not propagated.
func (s *Session) Close() {
	if err := chromedp.Cancel(s.browserCtx); err != nil && !isBenignTeardown(err) {
		s.logger.Warnf("[browser] Session close: %v", err)
	}
	s.cancelBrows()
	s.cancelAlloc()
}

// findChromeBinary locates a Chrome/Chromium binary on the host.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
