// Package impls indexes interface implementations on demand and enforces
// the locality rule: an impl is valid only in the unit that defines its
// interface or the head of its self type.
package impls

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/ledger"
	"github.com/jward/surface/internal/model"
	"github.com/jward/surface/internal/scheduler"
)

// Record is one valid implementation.
type Record struct {
	Impl model.Path
	// Interface is zero for an inherent impl.
	Interface model.Path
	// Type is the head of the self type; zero for a blanket impl over a
	// type parameter.
	Type model.Path
	Unit model.UnitID
	// InterfaceLocal and TypeLocal say which side the defining unit owns.
	InterfaceLocal bool
	TypeLocal      bool
	Negative       bool
	Unsafe         bool
}

// Binder reports what an item's references were bound to.
type Binder interface {
	Target(owner model.Path, ref int) (model.Path, bool)
}

// Session is the scheduler surface the index drives. Its Validate hook
// must include Coherence.
type Session interface {
	Binder
	Demand(paths ...model.Path)
	Run(ctx context.Context) (scheduler.Stats, error)
	Store() *itemstore.Store
	Ledger() *ledger.Ledger
}

// HeadRef returns the reference index naming the head of t, looking
// through references, pointers and arrays. It returns -1 for type
// parameters and shapes without a nominal head.
func HeadRef(t model.TypeExpr) int {
	for {
		switch t.Shape {
		case model.TypeNamed:
			return t.Ref
		case model.TypeRef, model.TypePtr, model.TypeArray:
			if len(t.Args) == 0 {
				return -1
			}
			t = t.Args[0]
		default:
			return -1
		}
	}
}

// Coherence validates an impl item once its interface and self type are
// bound. It returns a CoherenceViolation when neither is local to the
// impl's unit.
func Coherence(it *model.Item, target func(ref int) (model.Path, bool)) *model.Failure {
	if it.Kind != model.KindImpl || it.Impl == nil {
		return nil
	}
	unit := it.Path.Unit
	var head model.Path
	headBound := false
	if ref := HeadRef(it.Impl.SelfType); ref >= 0 {
		head, headBound = target(ref)
	}
	typeLocal := headBound && head.Unit == unit

	if it.Impl.Interface < 0 {
		if !headBound || typeLocal {
			return nil
		}
		return &model.Failure{
			Kind:   model.CoherenceViolation,
			Reason: fmt.Sprintf("inherent impl for foreign type %s", head),
		}
	}
	iface, ok := target(it.Impl.Interface)
	if !ok || iface.Unit == unit || typeLocal {
		return nil
	}
	if !headBound {
		return &model.Failure{
			Kind:   model.CoherenceViolation,
			Reason: fmt.Sprintf("blanket impl of foreign interface %s", iface),
		}
	}
	return &model.Failure{
		Kind:   model.CoherenceViolation,
		Reason: fmt.Sprintf("impl of foreign interface %s for foreign type %s", iface, head),
	}
}

type memoEntry struct {
	loaded  int
	records []Record
}

// Index answers ImplementationsOf queries, memoized per path. Candidate
// impls are those of the path's own unit and of the loaded units that
// depend on it; they are demanded from the session only when a query needs
// them.
type Index struct {
	s Session

	mu   sync.Mutex
	memo map[model.Path]memoEntry
}

func New(s Session) *Index {
	return &Index{s: s, memo: make(map[model.Path]memoEntry)}
}

// ImplementationsOf returns the valid impls whose interface or self type
// head is p, sorted by impl path. Impls that break the locality rule are
// left out; their failures stay in the ledger.
func (x *Index) ImplementationsOf(ctx context.Context, p model.Path) ([]Record, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	st := x.s.Store()
	if m, ok := x.memo[p]; ok && m.loaded == st.LoadedCount() {
		return m.records, nil
	}

	units := append([]model.UnitID{p.Unit}, st.Dependents(p.Unit)...)
	var candidates []*model.Item
	var demand []model.Path
	for _, u := range units {
		for _, it := range st.Impls(u) {
			candidates = append(candidates, it)
			if !x.s.Ledger().Has(it.Path) {
				demand = append(demand, it.Path)
			}
		}
	}
	if len(demand) > 0 {
		x.s.Demand(demand...)
		if _, err := x.s.Run(ctx); err != nil {
			return nil, fmt.Errorf("impls: %s: %w", p, err)
		}
	}

	var out []Record
	for _, it := range candidates {
		e, ok := x.s.Ledger().Get(it.Path)
		if !ok || e.State != ledger.Resolved {
			continue
		}
		rec := x.record(it)
		if !rec.InterfaceLocal && !rec.TypeLocal {
			continue
		}
		if rec.Interface == p || rec.Type == p {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Impl.Less(out[j].Impl) })
	x.memo[p] = memoEntry{loaded: st.LoadedCount(), records: out}
	return out, nil
}

func (x *Index) record(it *model.Item) Record {
	rec := Record{
		Impl:     it.Path,
		Unit:     it.Path.Unit,
		Negative: it.Impl.Negative,
		Unsafe:   it.Impl.Unsafe,
	}
	if it.Impl.Interface >= 0 {
		rec.Interface, _ = x.s.Target(it.Path, it.Impl.Interface)
		rec.InterfaceLocal = rec.Interface.Unit == rec.Unit
	}
	if ref := HeadRef(it.Impl.SelfType); ref >= 0 {
		rec.Type, _ = x.s.Target(it.Path, ref)
		rec.TypeLocal = rec.Type.Unit == rec.Unit
	}
	return rec
}

// Closure returns the impls reachable from roots: the impls of each root,
// then of every interface, type and referenced type those impls name, to a
// fixed point. Only interfaces defined in one of the open units expand to
// all of their implementors. An impl of any other interface is found
// through its reached self type, so a foreign or builtin interface never
// pulls unreached types in.
func (x *Index) Closure(ctx context.Context, roots []model.Path, open ...model.UnitID) ([]Record, error) {
	expands := make(map[model.UnitID]bool, len(open))
	for _, u := range open {
		expands[u] = true
	}
	seen := make(map[model.Path]bool)
	found := make(map[model.Path]Record)
	work := append([]model.Path(nil), roots...)
	for len(work) > 0 {
		p := work[0]
		work = work[1:]
		if seen[p] || p.IsZero() {
			continue
		}
		seen[p] = true
		if p.Unit == model.BuiltinUnit || (x.isInterface(p) && !expands[p.Unit]) {
			continue
		}

		recs, err := x.ImplementationsOf(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if _, ok := found[rec.Impl]; ok {
				continue
			}
			found[rec.Impl] = rec
			work = append(work, rec.Interface, rec.Type)
			work = append(work, x.referencedTypes(rec.Impl)...)
		}
	}

	out := make([]Record, 0, len(found))
	for _, rec := range found {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Impl.Less(out[j].Impl) })
	return out, nil
}

func (x *Index) isInterface(p model.Path) bool {
	it := x.s.Store().Item(p)
	return it != nil && it.Kind == model.KindInterface
}

// referencedTypes lists the resolved types and interfaces an impl's
// method signatures name.
func (x *Index) referencedTypes(impl model.Path) []model.Path {
	it := x.s.Store().Item(impl)
	if it == nil {
		return nil
	}
	var out []model.Path
	for i := range it.Refs {
		p, ok := x.s.Target(impl, i)
		if !ok {
			continue
		}
		if e, ok := x.s.Ledger().Get(p); !ok || e.State != ledger.Resolved {
			continue
		}
		if t := x.s.Store().Item(p); t != nil && (t.Kind.IsType() || t.Kind == model.KindInterface) {
			out = append(out, p)
		}
	}
	return out
}
