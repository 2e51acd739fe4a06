package resolver

import (
	"context"
	"sync"

	"github.com/akx/pipimi/pkg/registry/pypi"
)

// Universe memoizes package models by name on top of the registry client.
// Each package index is fetched at most once per process unless a
// cache-bypassing resolve is requested; version-detail metadata is fetched
// lazily, only for versions actually inspected. This bounds network calls
// to O(packages touched) + O(versions selected).
//
// Resolve is safe for concurrent use across distinct package names. The
// engine never resolves the same name from two goroutines within a round.
type Universe struct {
	client *pypi.Client

	mu       sync.Mutex
	packages map[string]*PackageVersionSet
}

// NewUniverse creates a Universe over the given registry client.
func NewUniverse(client *pypi.Client) *Universe {
	return &Universe{
		client:   client,
		packages: make(map[string]*PackageVersionSet),
	}
}

// Resolve returns the package model for name, constructing it from the
// registry on first reference. With allowCacheRead=false both the in-memory
// model and the durable cache are bypassed and the index is refetched.
//
// If version is non-empty and its metadata has not been ingested yet, the
// version-detail response is fetched (honoring allowCacheRead) and merged
// into the model.
func (u *Universe) Resolve(ctx context.Context, name, version string, allowCacheRead bool) (*PackageVersionSet, error) {
	name = pypi.NormalizeName(name)

	u.mu.Lock()
	pkg := u.packages[name]
	u.mu.Unlock()

	if pkg == nil || !allowCacheRead {
		idx, err := u.client.FetchIndex(ctx, name, allowCacheRead)
		if err != nil {
			return nil, err
		}
		pkg = NewPackageVersionSet(idx)
		u.mu.Lock()
		u.packages[pkg.Name()] = pkg
		u.mu.Unlock()
	}

	if version != "" && !pkg.HasVersionInfo(version) {
		detail, err := u.client.FetchVersion(ctx, name, version, allowCacheRead)
		if err != nil {
			return nil, err
		}
		pkg.Ingest(detail.Info)
	}
	return pkg, nil
}
