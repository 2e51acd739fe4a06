package resolver

import (
	"fmt"
	"strings"
)

// MalformedRequirementError reports a requirement or dependency string that
// failed to parse. Resolution cannot trust a registry whose declarations
// don't parse, so this error is fatal and aborts the run.
type MalformedRequirementError struct {
	Input string
	Err   error
}

func (e *MalformedRequirementError) Error() string {
	return fmt.Sprintf("malformed requirement %q: %v", e.Input, e.Err)
}

func (e *MalformedRequirementError) Unwrap() error { return e.Err }

// NoAcceptableVersionError reports that no published version of a package
// satisfies its current constraint conjunction. The engine recovers from
// this once per package by refetching the index without the cache.
type NoAcceptableVersionError struct {
	Package     string
	Constraints []string
}

func (e *NoAcceptableVersionError) Error() string {
	if len(e.Constraints) == 0 {
		return fmt.Sprintf("no %q versions available", e.Package)
	}
	return fmt.Sprintf("no %q versions satisfy %s", e.Package, strings.Join(e.Constraints, ", "))
}

// UnsatisfiableError is terminal: the package's constraints could not be
// satisfied even after a cache-bypassing refetch.
type UnsatisfiableError struct {
	Package     string
	Constraints []string
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("unsatisfiable: no %q version satisfies %s",
		e.Package, strings.Join(e.Constraints, ", "))
}
