package resolver

import (
	"fmt"
	"sort"

	pep440 "github.com/aquasecurity/go-pep440-version"

	"github.com/akx/pipimi/pkg/registry/pypi"
)

// PackageVersionSet holds what is known about one package: the full set of
// published version identifiers (from the package index, fetched once) and
// per-version metadata, populated lazily for the versions actually
// inspected. The version set is always a superset of the ingested infos.
//
// A PackageVersionSet is not safe for concurrent mutation; the engine
// confines each package to a single worker within a round.
type PackageVersionSet struct {
	name     string
	versions map[string]struct{}
	infos    map[string]pypi.VersionInfo
}

// NewPackageVersionSet constructs a package model from a package-index
// response. The embedded "latest version" info is ingested immediately, so
// resolving a package to its newest release needs no second fetch.
func NewPackageVersionSet(idx *pypi.IndexResponse) *PackageVersionSet {
	p := &PackageVersionSet{
		name:     pypi.NormalizeName(idx.Info.Name),
		versions: make(map[string]struct{}, len(idx.Releases)),
		infos:    make(map[string]pypi.VersionInfo),
	}
	for v := range idx.Releases {
		p.versions[v] = struct{}{}
	}
	p.Ingest(idx.Info)
	return p
}

// Name returns the canonical package name.
func (p *PackageVersionSet) Name() string { return p.name }

// Versions returns the sorted raw version identifiers.
func (p *PackageVersionSet) Versions() []string {
	out := make([]string, 0, len(p.versions))
	for v := range p.versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Ingest merges a version's metadata. Re-ingesting the same version is
// idempotent: the fetch is deterministic per name/version, so the overwrite
// writes identical data.
func (p *PackageVersionSet) Ingest(info pypi.VersionInfo) {
	p.infos[info.Version] = info
}

// HasVersionInfo reports whether metadata for version has been ingested.
func (p *PackageVersionSet) HasVersionInfo(version string) bool {
	_, ok := p.infos[version]
	return ok
}

// BestVersion returns the maximum published version satisfying the
// conjunction of constraints, under PEP 440 ordering. An empty (or nil)
// constraint set accepts every version.
//
// Version identifiers that don't parse as PEP 440 are excluded from
// consideration. Among identifiers that parse equal but differ as strings,
// the lexicographically greatest raw string wins, which keeps selection
// deterministic.
//
// Returns *NoAcceptableVersionError when no version qualifies.
func (p *PackageVersionSet) BestVersion(constraints *ConstraintSet) (string, error) {
	var bestRaw string
	var best pep440.Version
	found := false

	for raw := range p.versions {
		v, err := pep440.Parse(raw)
		if err != nil {
			continue
		}
		if constraints != nil && !constraints.Check(v) {
			continue
		}
		if !found || v.GreaterThan(best) || (v.Equal(best) && raw > bestRaw) {
			best, bestRaw, found = v, raw, true
		}
	}

	if !found {
		var cs []string
		if constraints != nil {
			cs = constraints.Strings()
		}
		return "", &NoAcceptableVersionError{Package: p.name, Constraints: cs}
	}
	return bestRaw, nil
}

// DependenciesOf returns the parsed dependency declarations of a
// previously-ingested version. Callers must ingest the version's metadata
// (via Universe.Resolve with an explicit version) before asking for its
// dependencies; a version never ingested is an error, not an empty answer.
//
// A dependency string that fails to parse yields a
// *MalformedRequirementError: a malformed declaration would corrupt
// resolution validity, so it is not masked.
func (p *PackageVersionSet) DependenciesOf(version string) ([]Requirement, error) {
	info, ok := p.infos[version]
	if !ok {
		return nil, fmt.Errorf("%s %s: version metadata not ingested", p.name, version)
	}

	reqs := make([]Requirement, 0, len(info.RequiresDist))
	for _, dep := range info.RequiresDist {
		req, err := ParseRequirement(dep)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
