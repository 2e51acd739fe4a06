// Package resolver implements pipimi's constraint propagation engine.
//
// Resolution is a fixed-point computation: every round selects, for each
// constrained package, the best version satisfying its accumulated
// constraints, then expands the constraint table with the declared
// dependencies of the selected versions. The loop terminates when a round's
// selection equals the previous round's.
//
// Convergence rests on monotonicity rather than a round limit: constraints
// only accumulate and a package's version set is fixed for the process
// lifetime, so the best satisfying version per package can only move
// downward as constraints tighten. The number of rounds is therefore
// bounded by the sizes of the version sets involved.
package resolver

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the per-round fetch parallelism used when Options
// doesn't specify one.
const DefaultWorkers = 8

// Resolution maps package names to the single version selected for each in
// one round.
type Resolution map[string]string

// Equal reports whether two resolutions select the same version for the
// same set of packages.
func (r Resolution) Equal(other Resolution) bool {
	if len(r) != len(other) {
		return false
	}
	for name, version := range r {
		if other[name] != version {
			return false
		}
	}
	return true
}

// Options configures engine behavior.
type Options struct {
	// Workers bounds per-round fetch parallelism (default: DefaultWorkers).
	Workers int
	// Refresh bypasses the metadata cache on every fetch.
	Refresh bool
	// Logger receives diagnostic progress lines (optional).
	Logger func(format string, args ...any)
	// OnResolved is invoked after each package is resolved within a round,
	// with the count of packages completed so far (optional; may be called
	// from multiple goroutines).
	OnResolved func(round int, pkg, version string, done, total int)
}

func (o Options) withDefaults() Options {
	opts := o
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = func(string, ...any) {}
	}
	return opts
}

// State is the engine's working state between rounds: the constraint table
// and the previous round's resolution. It is an explicit value threaded
// through Run, never shared between concurrent engine instances.
type State struct {
	Constraints    ConstraintTable
	LastResolution Resolution
}

// Result is a converged resolution along with the final constraint table
// (useful for "why is this version pinned" diagnostics) and the number of
// rounds taken.
type Result struct {
	Resolution  Resolution
	Constraints ConstraintTable
	Rounds      int
}

// Engine runs the fixed-point resolution loop over a Universe.
type Engine struct {
	universe *Universe
	opts     Options
}

// New creates an engine over the given universe.
func New(u *Universe, opts Options) *Engine {
	return &Engine{universe: u, opts: opts.withDefaults()}
}

// SetOnResolved replaces the per-package progress callback. Must not be
// called while a Run is in flight.
func (e *Engine) SetOnResolved(fn func(round int, pkg, version string, done, total int)) {
	e.opts.OnResolved = fn
}

// Seed parses the initial requirement strings into a fresh State.
// Requirements without a specifier record the package as known but
// unconstrained. A string that fails to parse is a
// *MalformedRequirementError.
func (e *Engine) Seed(requirements []string) (*State, error) {
	table := make(ConstraintTable)
	for _, raw := range requirements {
		req, err := ParseRequirement(raw)
		if err != nil {
			return nil, err
		}
		set := table.Ensure(req.Name)
		if c, ok := req.Constraint(); ok {
			set.Add(c)
		}
	}
	return &State{Constraints: table}, nil
}

// SeedTable creates a State from an existing constraint table, e.g. the
// Constraints of a previous Result. The table is cloned; the input is not
// mutated.
func (e *Engine) SeedTable(table ConstraintTable) *State {
	return &State{Constraints: table.Clone()}
}

// Run iterates rounds until the resolution stops changing. The first round
// is never considered converged. On any fatal error (malformed dependency,
// registry failure, unsatisfiable constraints) no partial result is
// returned.
func (e *Engine) Run(ctx context.Context, st *State) (*Result, error) {
	for round := 1; ; round++ {
		e.opts.Logger("round %d, %d constrained packages", round, len(st.Constraints))

		resolution, derived, err := e.round(ctx, round, st)
		if err != nil {
			return nil, err
		}

		// Merge derived constraints after the whole round so every package
		// resolved against the same pre-round snapshot.
		for name, set := range derived {
			st.Constraints.Ensure(name).AddAll(set)
		}

		if st.LastResolution != nil && resolution.Equal(st.LastResolution) {
			return &Result{
				Resolution:  resolution,
				Constraints: st.Constraints,
				Rounds:      round,
			}, nil
		}
		st.LastResolution = resolution
	}
}

// round resolves every package currently in the constraint table and
// collects the constraints derived from the selected versions'
// dependencies. Packages are processed on a bounded worker pool; a fatal
// failure on any package cancels the remaining work.
func (e *Engine) round(ctx context.Context, round int, st *State) (Resolution, ConstraintTable, error) {
	names := st.Constraints.Names()

	var mu sync.Mutex
	resolution := make(Resolution, len(names))
	derived := make(ConstraintTable)
	done := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for _, name := range names {
		constraints := st.Constraints[name]
		g.Go(func() error {
			version, err := e.bestConstrained(ctx, name, constraints)
			if err != nil {
				return err
			}

			// Make sure the chosen version's dependency metadata is present.
			pkg, err := e.universe.Resolve(ctx, name, version, !e.opts.Refresh)
			if err != nil {
				return err
			}
			deps, err := pkg.DependenciesOf(version)
			if err != nil {
				return err
			}

			mu.Lock()
			resolution[name] = version
			for _, dep := range deps {
				if dep.Marker != "" {
					// Conditional dependencies are unsupported and dropped,
					// not approximated.
					continue
				}
				set := derived.Ensure(dep.Name)
				if c, ok := dep.Constraint(); ok {
					set.Add(c)
				}
			}
			done++
			n := done
			mu.Unlock()

			if e.opts.OnResolved != nil {
				e.opts.OnResolved(round, name, version, n, len(names))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return resolution, derived, nil
}

// bestConstrained selects the best version of a package under its
// constraints, with an explicit two-attempt policy: the first attempt may
// read cached index data; if no version qualifies, the second attempt
// refetches the index with the cache disabled, since stale cached data may
// simply predate a satisfying release. A second failure is terminal and
// surfaces as *UnsatisfiableError.
func (e *Engine) bestConstrained(ctx context.Context, name string, constraints *ConstraintSet) (string, error) {
	for attempt := 1; attempt <= 2; attempt++ {
		allowCacheRead := attempt == 1 && !e.opts.Refresh

		pkg, err := e.universe.Resolve(ctx, name, "", allowCacheRead)
		if err != nil {
			return "", err
		}

		version, err := pkg.BestVersion(constraints)
		if err == nil {
			return version, nil
		}

		var nav *NoAcceptableVersionError
		if errors.As(err, &nav) && attempt == 1 {
			e.opts.Logger("%v - trying again without cache", err)
			continue
		}
		return "", &UnsatisfiableError{Package: name, Constraints: constraints.Strings()}
	}
	panic("unreachable")
}
