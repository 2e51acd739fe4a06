// Package export renders a converged resolution as a dependency graph,
// either as Graphviz DOT text or as an SVG document.
package export

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/akx/pipimi/pkg/resolver"
)

// Edge is a dependency relation between two resolved packages.
type Edge struct {
	From string
	To   string
}

// Graph is the dependency graph of a converged resolution: every node is a
// resolved package pinned to one version, every edge a declared dependency
// between two of them.
type Graph struct {
	Versions map[string]string
	Edges    []Edge
}

// BuildGraph derives the dependency graph for a resolution by inspecting
// each selected version's declared dependencies. Conditional dependencies
// and dependencies outside the resolution are omitted. All metadata is
// already memoized after a resolver run, so this makes no network calls.
func BuildGraph(ctx context.Context, u *resolver.Universe, res resolver.Resolution) (*Graph, error) {
	g := &Graph{Versions: maps.Clone(res)}

	for _, name := range slices.Sorted(maps.Keys(res)) {
		version := res[name]
		pkg, err := u.Resolve(ctx, name, version, true)
		if err != nil {
			return nil, err
		}
		deps, err := pkg.DependenciesOf(version)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if dep.Marker != "" {
				continue
			}
			if _, ok := res[dep.Name]; !ok {
				continue
			}
			g.Edges = append(g.Edges, Edge{From: name, To: dep.Name})
		}
	}
	return g, nil
}

// ToDOT converts a graph to Graphviz DOT format. Nodes are labeled with the
// package name and its pinned version. The output is deterministic: nodes
// and edges are emitted in sorted order.
func ToDOT(g *Graph) string {
	var buf bytes.Buffer
	buf.WriteString("digraph resolution {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, margin=\"0.2,0.1\"];\n")
	buf.WriteString("\n")

	for _, name := range slices.Sorted(maps.Keys(g.Versions)) {
		label := name + "\n" + g.Versions[name]
		fmt.Fprintf(&buf, "  %q [label=%q];\n", name, label)
	}

	buf.WriteString("\n")
	edges := slices.SortedFunc(slices.Values(g.Edges), func(a, b Edge) int {
		if c := strings.Compare(a.From, b.From); c != 0 {
			return c
		}
		return strings.Compare(a.To, b.To)
	})
	for _, e := range edges {
		fmt.Fprintf(&buf, "  %q -> %q;\n", e.From, e.To)
	}

	buf.WriteString("}\n")
	return buf.String()
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(dot string) ([]byte, error) {
	ctx := context.Background()
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	newSvg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)

	return svgTagRe.ReplaceAll(svg, []byte(newSvg))
}
