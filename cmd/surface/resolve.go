package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/surface"
	"github.com/jward/surface/internal/describe"
	"github.com/jward/surface/internal/manifest"
	"github.com/jward/surface/internal/store"
)

type resolveFlags struct {
	manifest          string
	out               string
	scriptsDir        string
	workers           int
	expandTimeout     time.Duration
	maxRounds         int
	maxExpansionDepth int
	cacheSize         int
}

func newResolveCmd(g *globalFlags) *cobra.Command {
	f := &resolveFlags{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a workspace and write its API description",
		Long:  "Loads the units named by the workspace manifest on demand, expands macros, resolves paths, and writes the reachable API surface with its diagnostics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), g, f)
		},
	}
	cmd.Flags().StringVarP(&f.manifest, "manifest", "m", "workspace.yaml", "workspace manifest")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output path (default stdout; required for sqlite)")
	cmd.Flags().StringVar(&f.scriptsDir, "scripts-dir", "", "Risor macro scripts (overrides the manifest)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "workers per drain (default: number of CPUs)")
	cmd.Flags().DurationVar(&f.expandTimeout, "expand-timeout", 0, "bound on each macro expansion (default 5s)")
	cmd.Flags().IntVar(&f.maxRounds, "max-rounds", 0, "stop after this many rounds")
	cmd.Flags().IntVar(&f.maxExpansionDepth, "max-expansion-depth", 0, "macro recursion limit (default 64)")
	cmd.Flags().IntVar(&f.cacheSize, "cache-size", 0, "source files kept in memory")
	return cmd
}

func runResolve(ctx context.Context, stdout, stderr io.Writer, g *globalFlags, f *resolveFlags) error {
	start := time.Now()
	if err := validateFormat(g.format, "json", "text", "sqlite"); err != nil {
		return err
	}
	if g.format == "sqlite" && f.out == "" {
		return errors.New("--format sqlite requires --out")
	}
	logger, err := newLogger(g.logLevel, stderr)
	if err != nil {
		return err
	}

	m, err := manifest.Load(f.manifest)
	if err != nil {
		return err
	}
	dirs, err := m.UnitDirs()
	if err != nil {
		return err
	}
	loc, err := surface.NewDirLocator(dirs, f.cacheSize)
	if err != nil {
		return fmt.Errorf("creating locator: %w", err)
	}
	rootUnit, err := m.RootUnit()
	if err != nil {
		return err
	}

	opts := []surface.Option{
		surface.WithLocator(loc),
		surface.WithLogger(logger),
		surface.WithWorkers(f.workers),
		surface.WithExpandTimeout(f.expandTimeout),
		surface.WithMaxRounds(f.maxRounds),
		surface.WithMaxExpansionDepth(f.maxExpansionDepth),
	}
	scripts := f.scriptsDir
	if scripts == "" {
		scripts = m.ScriptsDir()
	}
	if scripts != "" {
		opts = append(opts, surface.WithScriptsDir(scripts))
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	res, err := surface.New(opts...).Resolve(ctx, surface.Root{Unit: rootUnit, Paths: m.RootPaths()})
	if err != nil {
		return fmt.Errorf("resolving: %w", err)
	}

	if err := writeResult(stdout, g.format, f.out, res); err != nil {
		return err
	}

	fmt.Fprintf(stderr, "Resolved %s in %s (rounds: %d, units: %d, items: %d, diagnostics: %d)\n",
		rootUnit,
		time.Since(start).Round(time.Millisecond),
		res.Stats.Rounds,
		res.Stats.UnitsLoaded,
		len(res.Description.Items),
		len(res.Diagnostics),
	)
	if f.out != "" {
		fmt.Fprintf(stderr, "Output: %s\n", f.out)
	}
	return nil
}

func writeResult(stdout io.Writer, format, out string, res *surface.Result) error {
	if format == "sqlite" {
		s, err := store.NewStore(out)
		if err != nil {
			return fmt.Errorf("creating store: %w", err)
		}
		defer s.Close()
		if err := s.Migrate(); err != nil {
			return err
		}
		return s.WriteDescription(res.Description, res.Diagnostics)
	}

	w := stdout
	if out != "" {
		file, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer file.Close()
		w = file
	}
	if format == "text" {
		formatDescriptionText(w, res.Description, res.Diagnostics)
		return nil
	}
	return describe.Encode(w, res.Description, res.Diagnostics)
}
