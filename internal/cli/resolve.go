package cli

import (
	"bufio"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/akx/pipimi/pkg/export"
	"github.com/akx/pipimi/pkg/resolver"
)

// resolveCommand creates the resolve command.
func (c *CLI) resolveCommand() *cobra.Command {
	var (
		reqFiles        []string
		showConstraints bool
		refresh         bool
		noCache         bool
		showProgress    bool
		dotPath         string
		svgPath         string
	)

	cmd := &cobra.Command{
		Use:   "resolve [requirements...]",
		Short: "Compute a consistent version assignment for a set of requirements",
		Long: `Resolve computes one version per package such that every requirement and
every transitive dependency declaration is satisfied. Requirements are given
as PEP 508 strings ("flask>=2.0") on the command line, in files via -r, or
both.

The result is printed to stdout as one "name==version" line per package,
sorted by name. Diagnostics go to stderr.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			requirements := slices.Clone(args)
			for _, path := range reqFiles {
				fromFile, err := readRequirementsFile(path)
				if err != nil {
					return err
				}
				requirements = append(requirements, fromFile...)
			}
			if len(requirements) == 0 {
				return fmt.Errorf("no requirements given")
			}

			client, err := c.newRegistry(ctx, noCache)
			if err != nil {
				return fmt.Errorf("open cache backend: %w", err)
			}

			universe := resolver.NewUniverse(client)
			opts := resolver.Options{
				Workers: c.cfg.Resolver.Workers,
				Refresh: refresh,
				Logger:  c.Logger.Infof,
			}
			if showProgress {
				// The TUI owns stderr while it runs.
				opts.Logger = c.Logger.Debugf
			}

			engine := resolver.New(universe, opts)
			st, err := engine.Seed(requirements)
			if err != nil {
				return err
			}

			track := newProgress(c.Logger)
			var result *resolver.Result
			if showProgress {
				result, err = runWithProgress(ctx, engine, st)
			} else {
				result, err = engine.Run(ctx, st)
			}
			if err != nil {
				return err
			}
			track.done(fmt.Sprintf("Resolved %d packages in %d rounds",
				len(result.Resolution), result.Rounds))

			printResolution(result, showConstraints)

			if dotPath != "" || svgPath != "" {
				if err := exportGraph(cmd, universe, result, dotPath, svgPath); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&reqFiles, "requirement", "r", nil, "read requirements from file (repeatable)")
	cmd.Flags().BoolVar(&showConstraints, "show-constraints", false, "annotate each line with the constraints that pinned it")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the metadata cache on every fetch")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the metadata cache entirely")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "show interactive per-round progress")
	cmd.Flags().StringVar(&dotPath, "dot", "", "write the dependency graph as Graphviz DOT to file")
	cmd.Flags().StringVar(&svgPath, "svg", "", "render the dependency graph as SVG to file")

	return cmd
}

// readRequirementsFile reads one requirement per line, skipping blank lines
// and comments.
func readRequirementsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read requirements file: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read requirements file %s: %w", path, err)
	}
	return out, nil
}

// printResolution writes the pinned versions to stdout, one sorted
// "name==version" line per package. With constraints enabled each line is
// annotated with the conjunction that produced the pin.
func printResolution(result *resolver.Result, showConstraints bool) {
	for _, name := range slices.Sorted(maps.Keys(result.Resolution)) {
		line := name + "==" + result.Resolution[name]
		if showConstraints {
			if set, ok := result.Constraints[name]; ok && set.Len() > 0 {
				line += "  # " + strings.Join(set.Strings(), ", ")
			}
		}
		fmt.Println(line)
	}
}

// exportGraph writes DOT and/or SVG renderings of the resolved dependency
// graph.
func exportGraph(cmd *cobra.Command, u *resolver.Universe, result *resolver.Result, dotPath, svgPath string) error {
	graph, err := export.BuildGraph(cmd.Context(), u, result.Resolution)
	if err != nil {
		return fmt.Errorf("build dependency graph: %w", err)
	}
	dot := export.ToDOT(graph)

	if dotPath != "" {
		if err := os.WriteFile(dotPath, []byte(dot), 0o644); err != nil {
			return err
		}
		printFile(dotPath)
	}
	if svgPath != "" {
		svg, err := export.RenderSVG(dot)
		if err != nil {
			return fmt.Errorf("render SVG: %w", err)
		}
		if err := os.WriteFile(svgPath, svg, 0o644); err != nil {
			return err
		}
		printFile(svgPath)
	}
	return nil
}
