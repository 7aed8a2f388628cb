package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"

	"github.com/jward/surface/internal/describe"
	"github.com/jward/surface/internal/store"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatDescriptionText prints a whole description as sectioned tables.
func formatDescriptionText(w io.Writer, d *describe.APIDescription, diags []describe.Diagnostic) {
	fmt.Fprintf(w, "Roots: %s\n", strings.Join(d.Roots, ", "))
	fmt.Fprintln(w)

	if len(d.Units) > 0 {
		fmt.Fprintln(w, "Units:")
		formatUnitsText(w, d.Units)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Items:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  PATH\tKIND\tSEND\tSYNC\tFILE\tLINE")
	for _, it := range d.Items {
		send, sync := safetyColumns(it.Safety)
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%d\n",
			it.Path, it.Kind, send, sync, it.File, it.Line)
	}
	tw.Flush()

	if len(d.Implementations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Implementations:")
		formatImplsText(w, d.Implementations)
	}

	if len(diags) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Diagnostics:")
		formatDiagnosticsText(w, diags)
	}
}

func formatUnitsText(w io.Writer, units []describe.Unit) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tVERSION\tSTATE\tFEATURES")
	for _, u := range units {
		state := u.State
		if u.Failure != "" {
			state += " (" + u.Failure + ")"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
			u.Name, u.Version, state, strings.Join(u.Features, ","))
	}
	tw.Flush()
}

// formatItemsText formats stored item rows as aligned columns.
func formatItemsText(w io.Writer, items []*store.ItemSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATH\tKIND\tSEND\tSYNC\tFILE\tLINE")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
			it.ID, it.Path, it.Kind, dash(it.ExclusiveSafe), dash(it.SharedSafe), it.File, it.Line)
	}
	tw.Flush()
}

// formatImplsText formats impl records as aligned columns.
func formatImplsText(w io.Writer, impls []*describe.Implementation) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  INTERFACE\tTYPE\tUNIT\tFLAGS")
	for _, im := range impls {
		iface := im.Interface
		if iface == "" {
			iface = "(inherent)"
		}
		typ := im.Type
		if typ == "" {
			typ = im.SelfType.Text
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", iface, typ, im.Unit, implFlags(im))
	}
	tw.Flush()
}

func implFlags(im *describe.Implementation) string {
	var flags []string
	if im.Negative {
		flags = append(flags, "negative")
	}
	if im.Unsafe {
		flags = append(flags, "unsafe")
	}
	if im.InterfaceLocal {
		flags = append(flags, "local-interface")
	}
	if im.TypeLocal {
		flags = append(flags, "local-type")
	}
	return strings.Join(flags, ",")
}

// formatDiagnosticsText formats diagnostics as aligned columns.
func formatDiagnosticsText(w io.Writer, diags []describe.Diagnostic) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tKIND\tREASON")
	for _, d := range diags {
		reason := d.Reason
		if d.Cause != "" {
			reason += " (via " + d.Cause + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Path, d.Kind, reason)
	}
	tw.Flush()
}

// formatSummaryText formats a stored description's counts as readable text.
func formatSummaryText(w io.Writer, sum *store.Summary) {
	fmt.Fprintln(w, "API Summary")
	fmt.Fprintln(w, "===========")
	fmt.Fprintf(w, "Roots: %s\n", strings.Join(sum.Roots, ", "))
	fmt.Fprintf(w, "Units: %d\n", sum.Units)
	fmt.Fprintf(w, "Items: %d\n", sum.Items)
	fmt.Fprintf(w, "Implementations: %d\n", sum.Implementations)
	fmt.Fprintf(w, "Diagnostics: %d\n", sum.Diagnostics)

	if len(sum.ByKind) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Item Kinds:")
		kinds := make([]string, 0, len(sum.ByKind))
		for kind := range sum.ByKind {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Fprintf(w, "  %s: %d\n", kind, sum.ByKind[kind])
		}
	}
}

// formatItemText prints one stored item with its members, impls and users.
func formatItemText(w io.Writer, it *describe.Item, members []*store.Member, impls []*describe.Implementation, users []*store.ItemSummary) {
	fmt.Fprintf(w, "%s %s\n", it.Kind, it.Path)
	fmt.Fprintf(w, "Visibility: %s\n", it.Visibility)
	if it.File != "" {
		fmt.Fprintf(w, "Defined: %s:%d\n", it.File, it.Line)
	}
	if len(it.Generics) > 0 {
		fmt.Fprintf(w, "Generics: %s\n", strings.Join(it.Generics, ", "))
	}
	if it.Safety != nil {
		fmt.Fprintf(w, "Send: %s  Sync: %s\n", it.Safety.Exclusive, it.Safety.Shared)
	}
	if it.Target != nil {
		fmt.Fprintf(w, "Target: %s\n", typeLabel(*it.Target))
	}
	if it.Aliased != nil {
		fmt.Fprintf(w, "Aliased: %s\n", typeLabel(*it.Aliased))
	}
	if it.Docs != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, it.Docs)
	}

	if len(members) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Members:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  KIND\tNAME\tTYPE\tRESOLVED")
		for _, m := range members {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%t\n", m.Kind, dash(m.Name), m.TypeText, m.Resolved)
		}
		tw.Flush()
	}

	if len(impls) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Implementations:")
		formatImplsText(w, impls)
	}

	if len(users) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Used by:")
		for _, u := range users {
			fmt.Fprintf(w, "  %s (%s)\n", u.Path, u.Kind)
		}
	}
}

func typeLabel(t describe.Type) string {
	if t.Path == "" || t.Path == t.Text {
		return t.Text
	}
	if !t.Resolved {
		return t.Text + " (unresolved)"
	}
	return t.Text + " -> " + t.Path
}

func safetyColumns(s *describe.Safety) (string, string) {
	if s == nil {
		return "-", "-"
	}
	return s.Exclusive, s.Shared
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
