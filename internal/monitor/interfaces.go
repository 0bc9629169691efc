package monitor

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound marks a page that resolved to 404. Checks hitting it are
// skipped without touching persisted state.
var ErrNotFound = errors.New("product page not found")

// ErrSessionBackoff is returned when browser session initialization is
// rate-limited after repeated failures.
var ErrSessionBackoff = errors.New("browser session init rate-limited")

// Document is a fetched page body plus the HTTP status it arrived with.
type Document struct {
	Body       []byte
	StatusCode int
}

// Fetcher retrieves a document for a URL. Implementations exist for plain
// HTTP and for automated-browser navigation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Channel is one outbound notification transport. Send is best-effort; a
// failure is logged by the caller and never retried.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
