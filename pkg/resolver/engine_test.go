package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/akx/pipimi/pkg/cache"
	"github.com/akx/pipimi/pkg/registry"
	"github.com/akx/pipimi/pkg/registry/pypi"
)

func TestEngine_EndToEnd(t *testing.T) {
	u := testUniverse(t, map[string]fakePackage{
		"pkga": {latest: "2.0", releases: map[string][]string{
			"1.0": nil,
			"2.0": {"pkgb<1.5"},
		}},
		"pkgb": {latest: "2.0", releases: map[string][]string{
			"1.0": nil, "1.5": nil, "2.0": nil,
		}},
	})

	e := New(u, Options{})
	st, err := e.Seed([]string{"pkgA>=1.0"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := Resolution{"pkga": "2.0", "pkgb": "1.0"}
	if !res.Resolution.Equal(want) {
		t.Errorf("resolution = %v, want %v", res.Resolution, want)
	}
	// Round 1 resolves pkgA and derives pkgB's constraint; round 2 adds
	// pkgB; round 3 repeats identically and converges.
	if res.Rounds != 3 {
		t.Errorf("expected convergence after 3 rounds, got %d", res.Rounds)
	}
}

func TestEngine_ConvergedSeedIsIdempotent(t *testing.T) {
	packages := map[string]fakePackage{
		"pkga": {latest: "2.0", releases: map[string][]string{
			"1.0": nil,
			"2.0": {"pkgb<1.5"},
		}},
		"pkgb": {latest: "2.0", releases: map[string][]string{
			"1.0": nil, "1.5": nil, "2.0": nil,
		}},
	}

	u := testUniverse(t, packages)
	e := New(u, Options{})
	st, err := e.Seed([]string{"pkgA>=1.0"})
	if err != nil {
		t.Fatal(err)
	}
	first, err := e.Run(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}

	// Reseed a fresh engine with the converged constraint table. The first
	// round recomputes the identical resolution and the mandatory
	// confirmation round converges immediately, so no new work happens
	// beyond that.
	u2 := testUniverse(t, packages)
	e2 := New(u2, Options{})
	second, err := e2.Run(context.Background(), e2.SeedTable(first.Constraints))
	if err != nil {
		t.Fatal(err)
	}

	if !second.Resolution.Equal(first.Resolution) {
		t.Errorf("reseeded run resolved %v, want %v", second.Resolution, first.Resolution)
	}
	if second.Rounds != 2 {
		t.Errorf("reseeded run should converge on the confirmation round, got %d rounds", second.Rounds)
	}
}

func TestEngine_MarkeredDependenciesDropped(t *testing.T) {
	u := testUniverse(t, map[string]fakePackage{
		"app": {latest: "1.0", releases: map[string][]string{
			"1.0": {
				"core>=1.0",
				"winonly>=2.0; sys_platform == 'win32'",
			},
		}},
		"core": {latest: "1.0", releases: map[string][]string{"1.0": nil}},
	})

	e := New(u, Options{})
	st, err := e.Seed([]string{"app"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Run(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := res.Constraints["winonly"]; ok {
		t.Error("a dependency with a marker must never enter the constraint table")
	}
	if _, ok := res.Resolution["winonly"]; ok {
		t.Error("a dependency with a marker must never be resolved")
	}
	if res.Resolution["core"] != "1.0" {
		t.Errorf("unconditional dependency should resolve, got %v", res.Resolution)
	}
}

func TestEngine_UnconstrainedDependencyStillResolved(t *testing.T) {
	u := testUniverse(t, map[string]fakePackage{
		"app": {latest: "1.0", releases: map[string][]string{"1.0": {"helper"}}},
		"helper": {latest: "3.0", releases: map[string][]string{
			"2.0": nil, "3.0": nil,
		}},
	})

	e := New(u, Options{})
	st, err := e.Seed([]string{"app"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Run(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if res.Resolution["helper"] != "3.0" {
		t.Errorf("specifier-less dependency should resolve to its maximum, got %v", res.Resolution)
	}
}

func TestEngine_Unsatisfiable(t *testing.T) {
	u := testUniverse(t, map[string]fakePackage{
		"pinned": {latest: "1.5", releases: map[string][]string{"0.5": nil, "1.5": nil}},
	})

	e := New(u, Options{})
	st, err := e.Seed([]string{"pinned>=2.0", "pinned<1.0"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.Run(context.Background(), st)
	if err == nil {
		t.Fatal("expected unsatisfiable constraints to fail the run")
	}
	var unsat *UnsatisfiableError
	if !errors.As(err, &unsat) {
		t.Fatalf("expected UnsatisfiableError, got %T: %v", err, err)
	}
	if unsat.Package != "pinned" {
		t.Errorf("error should name the package, got %q", unsat.Package)
	}
	if len(unsat.Constraints) != 2 {
		t.Errorf("error should carry both constraints, got %v", unsat.Constraints)
	}
}

func TestEngine_StaleCacheRetry(t *testing.T) {
	// The durable cache holds a stale index that predates the 2.0 release.
	// The first attempt (cache read allowed) finds no acceptable version;
	// the engine's second attempt bypasses the cache and succeeds.
	server, _ := fakeRegistry(t, map[string]fakePackage{
		"fresh": {latest: "2.0", releases: map[string][]string{"1.0": nil, "2.0": nil}},
	})

	backend, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	stale, err := registry.CanonicalJSON([]byte(`{
		"info": {"name": "fresh", "version": "1.0", "requires_dist": []},
		"releases": {"1.0": []}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := backend.Set(context.Background(), "fresh", stale, 0); err != nil {
		t.Fatal(err)
	}

	u := NewUniverse(pypi.New(backend, server.URL, 0))
	e := New(u, Options{})
	st, err := e.Seed([]string{"fresh>=2.0"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("expected stale-cache retry to recover, got %v", err)
	}
	if res.Resolution["fresh"] != "2.0" {
		t.Errorf("expected 2.0 after refetch, got %v", res.Resolution)
	}
}

func TestEngine_MalformedSeed(t *testing.T) {
	u := testUniverse(t, nil)
	e := New(u, Options{})

	_, err := e.Seed([]string{"valid", ">>nonsense<<"})
	var malformed *MalformedRequirementError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRequirementError, got %v", err)
	}
}

func TestEngine_MonotonicTightening(t *testing.T) {
	u := testUniverse(t, map[string]fakePackage{
		"pkga": {latest: "2.0", releases: map[string][]string{
			"1.0": nil,
			"2.0": {"pkgb<1.5"},
		}},
		"pkgb": {latest: "2.0", releases: map[string][]string{
			"1.0": nil, "1.5": nil, "2.0": nil,
		}},
	})

	e := New(u, Options{})
	st, err := e.Seed([]string{"pkgA>=1.0"})
	if err != nil {
		t.Fatal(err)
	}

	// Observe the table after every round: constraint sets only grow.
	sizes := make(map[string]int)
	for {
		resolution, derived, err := e.round(context.Background(), 1, st)
		if err != nil {
			t.Fatal(err)
		}
		for name, set := range derived {
			st.Constraints.Ensure(name).AddAll(set)
		}
		for name, set := range st.Constraints {
			if set.Len() < sizes[name] {
				t.Fatalf("constraint set for %s shrank from %d to %d", name, sizes[name], set.Len())
			}
			sizes[name] = set.Len()
		}
		if st.LastResolution != nil && resolution.Equal(st.LastResolution) {
			break
		}
		st.LastResolution = resolution
	}

	if got := st.Constraints["pkgb"].Strings(); len(got) != 1 || got[0] != "<1.5" {
		t.Errorf("derived constraint for pkgb = %v, want [<1.5]", got)
	}
}

func TestEngine_ProgressCallback(t *testing.T) {
	u := testUniverse(t, map[string]fakePackage{
		"solo": {latest: "1.0", releases: map[string][]string{"1.0": nil}},
	})

	var mu sync.Mutex
	var events int
	e := New(u, Options{
		OnResolved: func(round int, pkg, version string, done, total int) {
			mu.Lock()
			events++
			mu.Unlock()
			if pkg != "solo" || version != "1.0" {
				t.Errorf("unexpected event: %s %s", pkg, version)
			}
		},
	})

	st, err := e.Seed([]string{"solo"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if events < 2 {
		t.Errorf("expected one event per round, got %d", events)
	}
}
