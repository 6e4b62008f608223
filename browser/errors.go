package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NavigationError is a terminal page-load failure, surfaced after the
// per-call attempt budget is exhausted (or immediately for errors that
// retrying cannot fix).
type NavigationError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// transientNavPhrases are the chromedp failure modes that show up when a
// JavaScript-heavy page re-renders mid-navigation. They go away on retry.
var transientNavPhrases = []string{
	"frame detached",
	"execution context destroyed",
	"execution context was destroyed",
	"context deadline exceeded",
}

// isTransientNav reports whether a navigation attempt error is worth
// retrying. Everything else fails the acquisition immediately.
func isTransientNav(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientNavPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// isBenignTeardown reports whether an error raised while releasing a page is
// a session-teardown race rather than a real failure.
func isBenignTeardown(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "connection closed")
}
