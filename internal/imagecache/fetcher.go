package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultFetchTimeout = 15 * time.Second
	maxImageBytes       = 32 << 20
)

var (
	errMissingOrigin = errors.New("image origin url is required")
	// ErrOriginStatus indicates the origin answered with a non-success status.
	ErrOriginStatus = errors.New("imagecache: origin returned an error status")
	// ErrImageTooLarge indicates the origin body exceeded the size limit.
	ErrImageTooLarge = errors.New("imagecache: image exceeds size limit")
)

// Fetcher loads an image from the origin.
type Fetcher interface {
	Fetch(ctx context.Context, requestURL *url.URL) (Entry, error)
}

// HTTPFetcher fetches images from an HTTP origin.
type HTTPFetcher struct {
	origin   *url.URL
	client   *http.Client
	maxBytes int64
	clock    func() time.Time
}

// NewHTTPFetcher constructs a fetcher for origin. A nil client gets a default timeout.
func NewHTTPFetcher(origin string, client *http.Client) (*HTTPFetcher, error) {
	trimmed := strings.TrimSpace(origin)
	if trimmed == "" {
		return nil, errMissingOrigin
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse image origin: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &HTTPFetcher{origin: parsed, client: client, maxBytes: maxImageBytes, clock: time.Now}, nil
}

// Fetch requests the same path and query from the origin.
func (f *HTTPFetcher) Fetch(ctx context.Context, requestURL *url.URL) (Entry, error) {
	target := *f.origin
	target.Path = strings.TrimSuffix(f.origin.Path, "/") + "/" + strings.TrimPrefix(requestURL.Path, "/")
	target.RawQuery = requestURL.RawQuery

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return Entry{}, err
	}
	response, err := f.client.Do(request)
	if err != nil {
		return Entry{}, err
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return Entry{}, fmt.Errorf("%w: %d", ErrOriginStatus, response.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, f.maxBytes+1))
	if err != nil {
		return Entry{}, err
	}
	if int64(len(body)) > f.maxBytes {
		return Entry{}, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, f.maxBytes)
	}
	return Entry{
		Body:        body,
		ContentType: response.Header.Get("Content-Type"),
		StoredAt:    f.clock().UTC(),
	}, nil
}
