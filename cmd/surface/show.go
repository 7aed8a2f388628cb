package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/surface/internal/describe"
	"github.com/jward/surface/internal/store"
)

type showFlags struct {
	db          string
	kind        string
	diagnostics bool
}

func newShowCmd(g *globalFlags) *cobra.Command {
	f := &showFlags{}
	cmd := &cobra.Command{
		Use:   "show [item-path]",
		Short: "Print a stored API description",
		Long:  "Reads a database written by `resolve --format sqlite`. With no argument prints a summary and the item list; with an item path prints that item, its members and its impls.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.OutOrStdout(), g, f, args)
		},
	}
	cmd.Flags().StringVar(&f.db, "db", "", "database written by resolve (required)")
	cmd.Flags().StringVar(&f.kind, "kind", "", "only list items of this kind")
	cmd.Flags().BoolVar(&f.diagnostics, "diagnostics", false, "list diagnostics instead of items")
	return cmd
}

func runShow(w io.Writer, g *globalFlags, f *showFlags, args []string) error {
	if err := validateFormat(g.format, "json", "text"); err != nil {
		return err
	}
	if f.db == "" {
		return errors.New("--db is required")
	}
	if _, err := os.Stat(f.db); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	s, err := store.NewStore(f.db)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	switch {
	case len(args) == 1:
		return showItem(w, s, g.format, args[0])
	case f.diagnostics:
		diags, err := s.Diagnostics(f.kind)
		if err != nil {
			return fmt.Errorf("diagnostics: %w", err)
		}
		if g.format == "text" {
			formatDiagnosticsText(w, diags)
			return nil
		}
		return writeJSON(w, diags)
	case g.format == "json" && f.kind == "":
		d, diags, err := s.ReadDescription()
		if err != nil {
			return err
		}
		return describe.Encode(w, d, diags)
	default:
		items, err := s.Items(f.kind)
		if err != nil {
			return fmt.Errorf("items: %w", err)
		}
		if g.format == "json" {
			return writeJSON(w, items)
		}
		sum, err := s.Summarize()
		if err != nil {
			return err
		}
		formatSummaryText(w, sum)
		fmt.Fprintln(w)
		formatItemsText(w, items)
		return nil
	}
}

func showItem(w io.Writer, s *store.Store, format, path string) error {
	it, err := s.Item(path)
	if err != nil {
		return err
	}
	if it == nil {
		return fmt.Errorf("no item %s", path)
	}
	members, err := s.MembersOf(path)
	if err != nil {
		return fmt.Errorf("members: %w", err)
	}
	impls, err := s.ImplementationsOf(path)
	if err != nil {
		return fmt.Errorf("implementations: %w", err)
	}
	users, err := s.Users(path)
	if err != nil {
		return fmt.Errorf("users: %w", err)
	}

	if format == "json" {
		return writeJSON(w, itemDetail{Item: it, Implementations: impls, UsedBy: summaryPaths(users)})
	}
	formatItemText(w, it, members, impls, users)
	return nil
}

// itemDetail is the JSON shape of `show <path>`.
type itemDetail struct {
	Item            *describe.Item             `json:"item"`
	Implementations []*describe.Implementation `json:"implementations"`
	UsedBy          []string                   `json:"used_by"`
}

func summaryPaths(items []*store.ItemSummary) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Path)
	}
	return out
}
