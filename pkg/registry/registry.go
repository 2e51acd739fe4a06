// Package registry provides the shared HTTP plumbing for package registry
// clients: a timeout-bounded HTTP client, retry with exponential backoff for
// transient failures, and a durable response cache.
//
// Responses are cached in canonical form (sorted keys, two-space indent) so
// that repeated fetches of the same resource produce byte-identical cache
// entries regardless of how the registry happened to serialize them.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/akx/pipimi/pkg/cache"
)

const httpTimeout = 10 * time.Second

var (
	// ErrNotFound is returned when a package or resource doesn't exist in the registry.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")
)

// Client provides shared HTTP functionality for registry API clients.
// It handles caching, retry logic, and common request headers.
//
// All methods are safe for concurrent use.
type Client struct {
	http    *http.Client
	cache   cache.Cache
	ttl     time.Duration
	headers map[string]string
}

// NewClient creates a Client backed by the given cache.
// Pass cache.NewNullCache() to disable caching and nil for headers if no
// default headers are needed. The ttl applies to backends with native
// expiry; the file backend keeps entries until deleted.
func NewClient(c cache.Cache, ttl time.Duration, headers map[string]string) *Client {
	if c == nil {
		c = cache.NewNullCache()
	}
	return &Client{
		http:    &http.Client{Timeout: httpTimeout},
		cache:   c,
		ttl:     ttl,
		headers: headers,
	}
}

// CachedGet returns the canonical JSON body for url, serving from the cache
// under key unless refresh is true. On a miss the response is fetched with
// retries, canonicalized, stored, and returned.
func (c *Client) CachedGet(ctx context.Context, key, url string, refresh bool) ([]byte, error) {
	if !refresh {
		if data, hit, err := c.cache.Get(ctx, key); err == nil && hit {
			return data, nil
		}
	}

	var data []byte
	err := Retry(ctx, 3, time.Second, func() error {
		var err error
		data, err = c.getJSON(ctx, url)
		return err
	})
	if err != nil {
		return nil, err
	}

	_ = c.cache.Set(ctx, key, data, c.ttl)
	return data, nil
}

// getJSON performs an HTTP GET and returns the body canonicalized: parsed
// and re-marshaled with sorted keys and two-space indentation.
func (c *Client) getJSON(ctx context.Context, url string) ([]byte, error) {
	body, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	return CanonicalJSON(raw)
}

func (c *Client) doRequest(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}

	if err := checkStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return &RetryableError{Err: fmt.Errorf("%w: status %d", ErrNetwork, code)}
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}

// CanonicalJSON re-serializes raw JSON deterministically: object keys
// sorted, two-space indentation, trailing newline. Two fetches of the same
// resource thus produce byte-identical cache files.
func CanonicalJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
