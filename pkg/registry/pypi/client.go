// Package pypi implements the PyPI JSON API client.
//
// The API has two read shapes, both consumed here:
//
//	GET /<name>/json           package index: info + all releases
//	GET /<name>/<version>/json version detail: that version's info
//
// Responses are cached durably through the shared registry client, keyed by
// the normalized package name and, for version details, "name@version" —
// mirroring the on-disk layout of the cache directory.
package pypi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akx/pipimi/pkg/cache"
	"github.com/akx/pipimi/pkg/registry"
)

// VersionInfo is the "info" object of either API shape. Only the fields
// resolution needs are decoded; the cache keeps the full response.
type VersionInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	RequiresDist []string `json:"requires_dist"`
	Summary      string   `json:"summary"`
}

// IndexResponse is the package index shape: latest info plus every release.
type IndexResponse struct {
	Info     VersionInfo                `json:"info"`
	Releases map[string]json.RawMessage `json:"releases"`
}

// VersionResponse is the version detail shape.
type VersionResponse struct {
	Info VersionInfo `json:"info"`
}

// Client provides access to the PyPI package registry API.
// It handles HTTP requests with caching and automatic retries.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*registry.Client
	baseURL string
}

// New creates a PyPI client with the given cache backend.
// Pass cache.NewNullCache() to disable caching. The ttl only affects cache
// backends with native expiry.
func New(backend cache.Cache, baseURL string, ttl time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://pypi.org/pypi"
	}
	return &Client{
		Client:  registry.NewClient(backend, ttl, nil),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// FetchIndex retrieves the package index (all releases plus latest info).
// If allowCacheRead is false, the cache is bypassed and a fresh API call is
// made; the fresh response still replaces the cached entry.
func (c *Client) FetchIndex(ctx context.Context, name string, allowCacheRead bool) (*IndexResponse, error) {
	name = NormalizeName(name)
	url := fmt.Sprintf("%s/%s/json", c.baseURL, name)

	data, err := c.CachedGet(ctx, name, url, !allowCacheRead)
	if err != nil {
		return nil, wrapNotFound(err, name)
	}

	var resp IndexResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode index for %s: %w", name, err)
	}
	return &resp, nil
}

// FetchVersion retrieves the version detail shape for a single release,
// notably its declared dependencies.
func (c *Client) FetchVersion(ctx context.Context, name, version string, allowCacheRead bool) (*VersionResponse, error) {
	name = NormalizeName(name)
	key := name + "@" + version
	url := fmt.Sprintf("%s/%s/%s/json", c.baseURL, name, version)

	data, err := c.CachedGet(ctx, key, url, !allowCacheRead)
	if err != nil {
		return nil, wrapNotFound(err, name+" "+version)
	}

	var resp VersionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode version detail for %s: %w", key, err)
	}
	return &resp, nil
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, registry.ErrNotFound) {
		return fmt.Errorf("%w: pypi package %s", err, what)
	}
	return err
}

// NormalizeName converts a package name to its canonical form.
// Applies lowercase and replaces underscores with hyphens, following PEP 503
// normalization rules used by PyPI.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}
