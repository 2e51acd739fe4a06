package resolver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/akx/pipimi/pkg/cache"
	"github.com/akx/pipimi/pkg/registry/pypi"
)

// fakePackage describes one package served by the fake registry:
// every release's dependency declarations, keyed by version.
type fakePackage struct {
	latest   string
	releases map[string][]string
}

// fakeRegistry serves the two PyPI API shapes from an in-memory package
// table and counts requests.
func fakeRegistry(t *testing.T, packages map[string]fakePackage) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

		writeInfo := func(name, version string, deps []string) map[string]any {
			return map[string]any{
				"name":          name,
				"version":       version,
				"requires_dist": deps,
			}
		}

		switch {
		case len(parts) == 2 && parts[1] == "json": // /<name>/json
			pkg, ok := packages[parts[0]]
			if !ok {
				http.NotFound(w, r)
				return
			}
			releases := make(map[string]any, len(pkg.releases))
			for v := range pkg.releases {
				releases[v] = []any{}
			}
			json.NewEncoder(w).Encode(map[string]any{
				"info":     writeInfo(parts[0], pkg.latest, pkg.releases[pkg.latest]),
				"releases": releases,
			})
		case len(parts) == 3 && parts[2] == "json": // /<name>/<version>/json
			pkg, ok := packages[parts[0]]
			if !ok {
				http.NotFound(w, r)
				return
			}
			deps, ok := pkg.releases[parts[1]]
			if !ok {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"info": writeInfo(parts[0], parts[1], deps),
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func testUniverse(t *testing.T, packages map[string]fakePackage) *Universe {
	t.Helper()
	server, _ := fakeRegistry(t, packages)
	return NewUniverse(pypi.New(cache.NewNullCache(), server.URL, 0))
}

func mustConstraintSet(t *testing.T, specs ...string) *ConstraintSet {
	t.Helper()
	set := NewConstraintSet()
	for _, s := range specs {
		c, err := ParseConstraint(s)
		if err != nil {
			t.Fatalf("ParseConstraint(%q): %v", s, err)
		}
		set.Add(c)
	}
	return set
}

func indexFor(name string, pkg fakePackage) *pypi.IndexResponse {
	releases := make(map[string]json.RawMessage, len(pkg.releases))
	for v := range pkg.releases {
		releases[v] = json.RawMessage("[]")
	}
	return &pypi.IndexResponse{
		Info: pypi.VersionInfo{
			Name:         name,
			Version:      pkg.latest,
			RequiresDist: pkg.releases[pkg.latest],
		},
		Releases: releases,
	}
}
