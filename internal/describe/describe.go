// Package describe lowers a settled resolution session into an
// APIDescription: the public surface reachable from the roots, the impls
// relevant to it, and per-type thread-safety facts.
//
// Only Resolved ledger entries are described. Every Failed entry is listed
// in the diagnostics instead, so a broken dependency shrinks the output
// without aborting it.
package describe

import (
	"context"
	"fmt"
	"sort"

	"github.com/jward/surface/internal/impls"
	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/ledger"
	"github.com/jward/surface/internal/model"
)

// Bindings reports where the references of an item went.
type Bindings interface {
	Target(owner model.Path, ref int) (model.Path, bool)
	Placeholder(owner model.Path, ref int) (model.Path, bool)
}

// ImplSource computes the impls reachable from a set of paths. Interfaces
// of the open units expand to all of their implementors.
type ImplSource interface {
	Closure(ctx context.Context, roots []model.Path, open ...model.UnitID) ([]impls.Record, error)
}

// SafetySource answers thread-safety queries.
type SafetySource interface {
	SafetyOf(ctx context.Context, p model.Path) (model.SafetyFact, error)
}

// Input is everything Build reads. Impls and Safety are optional.
type Input struct {
	Roots    []model.Path
	Store    *itemstore.Store
	Ledger   *ledger.Ledger
	Bindings Bindings
	Impls    ImplSource
	Safety   SafetySource
}

type builder struct {
	in      Input
	seen    map[model.Path]bool
	queried map[model.Path]bool
	items   map[model.Path]*Item
	kinds   map[model.Path]model.Kind
	impls   map[model.Path]*Implementation
	diags   []Diagnostic
}

// Build walks the reachability closure of in.Roots and returns the
// description with its diagnostics. It fails only when ctx is cancelled or
// a nested impl resolution hits a ledger invariant violation.
func Build(ctx context.Context, in Input) (*APIDescription, []Diagnostic, error) {
	b := &builder{
		in:      in,
		seen:    make(map[model.Path]bool),
		queried: make(map[model.Path]bool),
		items:   make(map[model.Path]*Item),
		kinds:   make(map[model.Path]model.Kind),
		impls:   make(map[model.Path]*Implementation),
	}

	work := append([]model.Path(nil), in.Roots...)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		b.walk(work)
		next, err := b.implClosure(ctx)
		if err != nil {
			return nil, nil, err
		}
		if len(next) == 0 {
			break
		}
		work = next
	}

	if err := b.safety(ctx); err != nil {
		return nil, nil, err
	}
	for _, e := range in.Ledger.Failures() {
		b.diags = append(b.diags, diagnostic(e.Path, *e.Failure))
	}
	sort.SliceStable(b.diags, func(i, j int) bool { return b.diags[i].Path < b.diags[j].Path })

	return b.description(), b.diags, nil
}

// walk adds every resolved item reachable from work: module children and
// bound reference targets.
func (b *builder) walk(work []model.Path) {
	for len(work) > 0 {
		p := work[0]
		work = work[1:]
		if b.seen[p] || p.IsZero() {
			continue
		}
		b.seen[p] = true
		if p.Unit == model.BuiltinUnit {
			continue
		}
		e, ok := b.in.Ledger.Get(p)
		if !ok || e.State != ledger.Resolved {
			continue
		}
		it := b.in.Store.Item(p)
		if it == nil || !described(it.Kind) {
			continue
		}
		b.items[p] = b.item(it)
		b.kinds[p] = it.Kind

		if it.Kind == model.KindModule {
			work = append(work, b.in.Store.PublicChildren(p)...)
		}
		for _, t := range b.targets(it) {
			if it.Kind == model.KindReexport && it.Glob {
				// A glob re-exports the members, not the module.
				if m := b.in.Store.Item(t); m != nil && m.Kind == model.KindModule {
					work = append(work, b.in.Store.PublicChildren(t)...)
					continue
				}
			}
			work = append(work, t)
		}
	}
}

func described(k model.Kind) bool {
	switch k {
	case model.KindModule, model.KindMacroDef, model.KindStruct, model.KindInterface,
		model.KindEnum, model.KindReexport, model.KindFunction, model.KindTypeAlias:
		return true
	}
	return false
}

func (b *builder) targets(it *model.Item) []model.Path {
	var out []model.Path
	for i := range it.Refs {
		if t, ok := b.in.Bindings.Target(it.Path, i); ok {
			out = append(out, t)
		}
	}
	return out
}

// implClosure queries impls for every described type and interface not yet
// queried. It returns the paths the new impls bring into reach.
func (b *builder) implClosure(ctx context.Context) ([]model.Path, error) {
	if b.in.Impls == nil {
		return nil, nil
	}
	var query []model.Path
	for p, k := range b.kinds {
		if b.queried[p] || !(k.IsType() || k == model.KindInterface) {
			continue
		}
		b.queried[p] = true
		query = append(query, p)
	}
	if len(query) == 0 {
		return nil, nil
	}
	model.SortPaths(query)

	recs, err := b.in.Impls.Closure(ctx, query, b.rootUnits()...)
	if err != nil {
		return nil, fmt.Errorf("describe: impls: %w", err)
	}
	var next []model.Path
	for _, rec := range recs {
		if _, ok := b.impls[rec.Impl]; ok {
			continue
		}
		it := b.in.Store.Item(rec.Impl)
		if it == nil {
			continue
		}
		b.impls[rec.Impl] = b.implementation(rec, it)
		next = append(next, rec.Interface, rec.Type)
		next = append(next, b.targets(it)...)
	}
	return next, nil
}

func (b *builder) rootUnits() []model.UnitID {
	var out []model.UnitID
	seen := make(map[model.UnitID]bool)
	for _, r := range b.in.Roots {
		if !seen[r.Unit] {
			seen[r.Unit] = true
			out = append(out, r.Unit)
		}
	}
	return out
}

var safetyKinds = map[model.Kind]bool{
	model.KindStruct:    true,
	model.KindEnum:      true,
	model.KindTypeAlias: true,
}

// safety attaches facts to described types. An oracle error becomes a
// diagnostic and the fact stays unknown.
func (b *builder) safety(ctx context.Context) error {
	if b.in.Safety == nil {
		return nil
	}
	paths := make([]model.Path, 0, len(b.kinds))
	for p, k := range b.kinds {
		if safetyKinds[k] {
			paths = append(paths, p)
		}
	}
	model.SortPaths(paths)
	for _, p := range paths {
		f, err := b.in.Safety.SafetyOf(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.diags = append(b.diags, Diagnostic{Path: p.String(), Kind: KindSafety, Reason: err.Error()})
			f = model.SafetyUnknown
		}
		b.items[p].Safety = &Safety{Exclusive: f.Exclusive.String(), Shared: f.Shared.String()}
	}
	return nil
}

func (b *builder) description() *APIDescription {
	d := &APIDescription{
		Roots:           make([]string, 0, len(b.in.Roots)),
		Items:           make([]*Item, 0, len(b.items)),
		Implementations: make([]*Implementation, 0, len(b.impls)),
	}
	for _, r := range b.in.Roots {
		d.Roots = append(d.Roots, r.String())
	}
	for _, u := range b.in.Store.Units() {
		if u.ID == model.BuiltinUnit {
			continue
		}
		d.Units = append(d.Units, unit(u))
	}
	for _, it := range b.items {
		d.Items = append(d.Items, it)
	}
	sort.Slice(d.Items, func(i, j int) bool { return d.Items[i].Path < d.Items[j].Path })
	for _, im := range b.impls {
		d.Implementations = append(d.Implementations, im)
	}
	sort.Slice(d.Implementations, func(i, j int) bool { return d.Implementations[i].Impl < d.Implementations[j].Impl })
	return d
}

func unit(u *itemstore.Unit) Unit {
	out := Unit{
		Name:        u.ID.Name,
		Version:     u.ID.Version,
		Fingerprint: u.ID.Fingerprint,
		State:       unitState(u.State),
		Features:    u.Features,
	}
	if u.Failure != nil {
		out.Failure = u.Failure.Reason
	}
	return out
}

func unitState(s model.UnitState) string {
	switch s {
	case model.UnitLoaded:
		return "loaded"
	case model.UnitFailed:
		return "failed"
	default:
		return "absent"
	}
}

func diagnostic(p model.Path, f model.Failure) Diagnostic {
	d := Diagnostic{Path: p.String(), Kind: string(f.Kind), Reason: f.Reason}
	if !f.Cause.IsZero() {
		d.Cause = f.Cause.String()
	}
	return d
}
