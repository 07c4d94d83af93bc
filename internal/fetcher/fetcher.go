package fetcher

import (
	"context"
	"fmt"
)

// Fetcher defines the interface for downloading remote documents.
type Fetcher interface {
	// Fetch GETs the URL and returns the response body bytes.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchError reports a failed document download. StatusCode is zero when the
// failure happened below the HTTP layer (dial, TLS, timeout).
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
