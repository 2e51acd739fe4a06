package resolver

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/akx/pipimi/pkg/cache"
	"github.com/akx/pipimi/pkg/registry/pypi"
)

func TestUniverse_MemoizesIndexFetch(t *testing.T) {
	server, calls := fakeRegistry(t, map[string]fakePackage{
		"requests": {latest: "2.0", releases: map[string][]string{"1.0": nil, "2.0": nil}},
	})
	u := NewUniverse(pypi.New(cache.NewNullCache(), server.URL, 0))
	ctx := context.Background()

	if _, err := u.Resolve(ctx, "requests", "", true); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Resolve(ctx, "requests", "", true); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("index should be fetched once per process, got %d calls", got)
	}
}

func TestUniverse_BypassForcesRefetch(t *testing.T) {
	server, calls := fakeRegistry(t, map[string]fakePackage{
		"requests": {latest: "2.0", releases: map[string][]string{"2.0": nil}},
	})
	u := NewUniverse(pypi.New(cache.NewNullCache(), server.URL, 0))
	ctx := context.Background()

	if _, err := u.Resolve(ctx, "requests", "", true); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Resolve(ctx, "requests", "", false); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("cache bypass should refetch, got %d calls", got)
	}
}

func TestUniverse_LazyVersionIngest(t *testing.T) {
	server, calls := fakeRegistry(t, map[string]fakePackage{
		"requests": {latest: "2.0", releases: map[string][]string{
			"1.0": {"urllib3<2"},
			"2.0": nil,
		}},
	})
	u := NewUniverse(pypi.New(cache.NewNullCache(), server.URL, 0))
	ctx := context.Background()

	pkg, err := u.Resolve(ctx, "requests", "1.0", true)
	if err != nil {
		t.Fatal(err)
	}
	// Index + version detail.
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
	deps, err := pkg.DependenciesOf("1.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || deps[0].Name != "urllib3" {
		t.Errorf("unexpected dependencies: %+v", deps)
	}

	// Already ingested: no further fetch.
	if _, err := u.Resolve(ctx, "requests", "1.0", true); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("re-resolving an ingested version should not refetch, got %d calls", got)
	}
}

func TestUniverse_LatestNeedsNoDetailFetch(t *testing.T) {
	server, calls := fakeRegistry(t, map[string]fakePackage{
		"requests": {latest: "2.0", releases: map[string][]string{"2.0": {"idna>=2"}}},
	})
	u := NewUniverse(pypi.New(cache.NewNullCache(), server.URL, 0))

	// The index embeds the latest version's info; asking for it should not
	// trigger a version-detail fetch.
	if _, err := u.Resolve(context.Background(), "requests", "2.0", true); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("expected a single index fetch, got %d", got)
	}
}

func TestUniverse_NormalizesNames(t *testing.T) {
	u := testUniverse(t, map[string]fakePackage{
		"flask-app": {latest: "1.0", releases: map[string][]string{"1.0": nil}},
	})

	pkg, err := u.Resolve(context.Background(), "Flask_App", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Name() != "flask-app" {
		t.Errorf("expected normalized name, got %s", pkg.Name())
	}
}
