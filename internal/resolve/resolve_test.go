package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/model"
)

var (
	unitP = model.UnitID{Name: "p", Version: "1.0.0"}
	unitA = model.UnitID{Name: "a", Version: "1.0.0"}
	unitB = model.UnitID{Name: "b", Version: "1.0.0"}
)

// builder assembles one unit for the item store.
type builder struct {
	b      *itemstore.Batch
	scopes map[string]*model.Scope
	n      int
}

func newBuilder(unit model.UnitID, deps map[string]model.UnitID) *builder {
	bl := &builder{b: itemstore.NewLoadBatch(unit, deps), scopes: make(map[string]*model.Scope)}
	bl.module("", model.Public)
	return bl
}

func (bl *builder) module(name string, vis model.Visibility) *model.Scope {
	p := model.NewPath(bl.b.Unit, model.SplitSegments(name)...)
	sc := model.NewScope(p, nil)
	bl.scopes[name] = sc
	bl.b.AddScope(sc)
	parentScope := sc
	if parent, ok := p.Parent(); ok {
		parentScope = bl.scopes[parent.Name]
		bl.b.Define(parentScope, p.Last(), p)
	}
	bl.b.AddItem(&model.Item{Path: p, Kind: model.KindModule, Visibility: vis, Module: p, Scope: sc, Target: -1})
	return sc
}

func (bl *builder) def(module, name string, kind model.Kind, vis model.Visibility) model.Path {
	sc := bl.scopes[module]
	p := sc.Module.Join(name)
	bl.b.AddItem(&model.Item{Path: p, Kind: kind, Visibility: vis, Module: sc.Module, Scope: sc, Target: -1})
	bl.b.Define(sc, name, p)
	return p
}

func (bl *builder) use(module, target, alias string, vis model.Visibility) model.Path {
	sc := bl.scopes[module]
	segs := model.SplitSegments(target)
	if alias == "" {
		alias = segs[len(segs)-1]
	}
	p := sc.Module.Join(alias)
	it := &model.Item{Path: p, Kind: model.KindReexport, Visibility: vis, Module: sc.Module, Scope: sc}
	it.Target = it.AddRef(model.Ref{Segments: segs, Strength: model.Hard})
	bl.b.AddItem(it)
	bl.b.Define(sc, alias, p)
	return p
}

func (bl *builder) glob(module, target string, vis model.Visibility) model.Path {
	sc := bl.scopes[module]
	bl.n++
	p := sc.Module.Join("{glob#" + string(rune('0'+bl.n)) + "}")
	it := &model.Item{Path: p, Kind: model.KindReexport, Visibility: vis, Module: sc.Module, Scope: sc, Glob: true}
	it.Target = it.AddRef(model.Ref{Segments: model.SplitSegments(target), Strength: model.Hard})
	bl.b.AddItem(it)
	bl.b.Glob(sc, p)
	return p
}

func (bl *builder) commit(t *testing.T, s *itemstore.Store) {
	t.Helper()
	_, err := s.Commit(bl.b)
	require.NoError(t, err)
}

func ref(text string) model.Ref {
	return model.Ref{Segments: model.SplitSegments(text)}
}

// =============================================================================
// Lookup order
// =============================================================================

func TestRef_LocalShadowsGlob(t *testing.T) {
	t.Parallel()
	s := itemstore.New()

	a := newBuilder(unitA, nil)
	a.def("", "X", model.KindStruct, model.Public)
	a.commit(t, s)

	p := newBuilder(unitP, map[string]model.UnitID{"a": unitA})
	p.glob("", "a", model.Private)
	local := p.def("", "X", model.KindEnum, model.Private)
	p.commit(t, s)

	out := Ref(s, s.ModuleScope(model.NewPath(unitP)), ref("X"))
	require.Equal(t, Found, out.Kind, out.Reason)
	assert.Equal(t, local, out.Path)
}

func TestRef_GlobProvidesName(t *testing.T) {
	t.Parallel()
	s := itemstore.New()

	a := newBuilder(unitA, nil)
	x := a.def("", "X", model.KindStruct, model.Public)
	a.def("", "Hidden", model.KindStruct, model.Private)
	a.commit(t, s)

	p := newBuilder(unitP, map[string]model.UnitID{"a": unitA})
	p.glob("", "a", model.Private)
	p.commit(t, s)

	root := s.ModuleScope(model.NewPath(unitP))
	out := Ref(s, root, ref("X"))
	require.Equal(t, Found, out.Kind, out.Reason)
	assert.Equal(t, x, out.Path)

	out = Ref(s, root, ref("Hidden"))
	assert.Equal(t, Unresolvable, out.Kind, "foreign globs expose public names only")
}

func TestRef_AmbiguousGlobs(t *testing.T) {
	t.Parallel()
	s := itemstore.New()

	p := newBuilder(unitP, nil)
	p.module("one", model.Public)
	p.module("two", model.Public)
	p.def("one", "X", model.KindStruct, model.Public)
	p.def("two", "X", model.KindStruct, model.Public)
	p.glob("", "one", model.Private)
	p.glob("", "two", model.Private)
	p.commit(t, s)

	out := Ref(s, s.ModuleScope(model.NewPath(unitP)), ref("X"))
	require.Equal(t, Unresolvable, out.Kind)
	assert.Contains(t, out.Reason, "ambiguous glob import")
}

func TestRef_SameTargetThroughTwoGlobsIsNotAmbiguous(t *testing.T) {
	t.Parallel()
	s := itemstore.New()

	p := newBuilder(unitP, nil)
	p.module("one", model.Public)
	p.module("two", model.Public)
	x := p.def("one", "X", model.KindStruct, model.Public)
	p.use("two", "super::one::X", "", model.Public)
	p.glob("", "one", model.Private)
	p.glob("", "two", model.Private)
	p.commit(t, s)

	out := Ref(s, s.ModuleScope(model.NewPath(unitP)), ref("X"))
	require.Equal(t, Found, out.Kind, out.Reason)
	assert.Equal(t, x, out.Path)
}

func TestRef_NeedsUnitForUnloadedDependency(t *testing.T) {
	t.Parallel()
	s := itemstore.New()

	p := newBuilder(unitP, map[string]model.UnitID{"a": unitA})
	p.commit(t, s)

	out := Ref(s, s.ModuleScope(model.NewPath(unitP)), ref("a::X"))
	assert.Equal(t, NeedsUnit, out.Kind)
	assert.Equal(t, unitA, out.Unit)
}

func TestRef_FailedUnitIsUnresolvable(t *testing.T) {
	t.Parallel()
	s := itemstore.New()
	s.MarkFailed(unitA, model.Failure{Kind: model.UnitLoadFailure, Reason: "missing"})

	p := newBuilder(unitP, map[string]model.UnitID{"a": unitA})
	p.commit(t, s)

	out := Ref(s, s.ModuleScope(model.NewPath(unitP)), ref("a::X"))
	assert.Equal(t, Unresolvable, out.Kind)
	assert.Equal(t, unitA, out.Unit)
}

func TestRef_PreludeAndStd(t *testing.T) {
	t.Parallel()
	s := itemstore.New()
	p := newBuilder(unitP, nil)
	p.commit(t, s)
	root := s.ModuleScope(model.NewPath(unitP))

	out := Ref(s, root, ref("Vec"))
	require.Equal(t, Found, out.Kind, out.Reason)
	assert.Equal(t, model.NewPath(model.BuiltinUnit, "vec", "Vec"), out.Path)

	out = Ref(s, root, ref("std::sync::Arc"))
	require.Equal(t, Found, out.Kind, out.Reason)
	assert.Equal(t, model.NewPath(model.BuiltinUnit, "sync", "Arc"), out.Path)

	out = Ref(s, root, ref("u64"))
	require.Equal(t, Found, out.Kind, out.Reason)

	out = Ref(s, root, ref("Option::Some"))
	require.Equal(t, Found, out.Kind, out.Reason)
	assert.Equal(t, model.NewPath(model.BuiltinUnit, "option", "Option", "Some"), out.Path)
}

// =============================================================================
// Paths and imports
// =============================================================================

func TestRef_CrateSelfSuper(t *testing.T) {
	t.Parallel()
	s := itemstore.New()
	p := newBuilder(unitP, nil)
	p.module("m", model.Public)
	p.module("m::n", model.Public)
	top := p.def("", "Top", model.KindStruct, model.Public)
	inner := p.def("m::n", "Inner", model.KindStruct, model.Public)
	p.commit(t, s)

	n := s.ModuleScope(model.NewPath(unitP, "m", "n"))
	out := Ref(s, n, ref("crate::Top"))
	require.Equal(t, Found, out.Kind, out.Reason)
	assert.Equal(t, top, out.Path)

	out = Ref(s, n, ref("super::super::Top"))
	require.Equal(t, Found, out.Kind, out.Reason)
	assert.Equal(t, top, out.Path)

	out = Ref(s, n, ref("self::Inner"))
	require.Equal(t, Found, out.Kind, out.Reason)
	assert.Equal(t, inner, out.Path)

	out = Ref(s, n, ref("super::super::super::Top"))
	assert.Equal(t, Unresolvable, out.Kind)
}

func TestRef_FollowsReexportChain(t *testing.T) {
	t.Parallel()
	s := itemstore.New()

	b := newBuilder(unitB, nil)
	b.module("deep", model.Public)
	def := b.def("deep", "Thing", model.KindStruct, model.Public)
	b.use("", "deep::Thing", "", model.Public)
	b.commit(t, s)

	p := newBuilder(unitP, map[string]model.UnitID{"b": unitB})
	p.use("", "b::Thing", "Renamed", model.Public)
	p.commit(t, s)

	out := Ref(s, s.ModuleScope(model.NewPath(unitP)), ref("Renamed"))
	require.Equal(t, Found, out.Kind, out.Reason)
	assert.Equal(t, def, out.Path)
}

func TestRef_ImportCycle(t *testing.T) {
	t.Parallel()
	s := itemstore.New()
	p := newBuilder(unitP, nil)
	p.module("m", model.Public)
	p.use("", "m::A", "B", model.Public)
	p.use("m", "super::B", "A", model.Public)
	p.commit(t, s)

	out := Ref(s, s.ModuleScope(model.NewPath(unitP)), ref("B"))
	require.Equal(t, Unresolvable, out.Kind)
	assert.Contains(t, out.Reason, "cycle")
}

func TestRef_MutualGlobsTerminate(t *testing.T) {
	t.Parallel()
	s := itemstore.New()
	p := newBuilder(unitP, nil)
	p.module("x", model.Public)
	p.module("y", model.Public)
	p.glob("x", "super::y", model.Public)
	p.glob("y", "super::x", model.Public)
	p.commit(t, s)

	out := Ref(s, s.ModuleScope(model.NewPath(unitP, "x")), ref("Nothing"))
	assert.Equal(t, Unresolvable, out.Kind)
}

func TestRef_PrivateForeignItem(t *testing.T) {
	t.Parallel()
	s := itemstore.New()
	a := newBuilder(unitA, nil)
	a.def("", "Secret", model.KindStruct, model.Private)
	a.commit(t, s)

	p := newBuilder(unitP, map[string]model.UnitID{"a": unitA})
	p.commit(t, s)

	out := Ref(s, s.ModuleScope(model.NewPath(unitP)), ref("a::Secret"))
	require.Equal(t, Unresolvable, out.Kind)
	assert.Contains(t, out.Reason, "private")
}

func TestExact(t *testing.T) {
	t.Parallel()
	s := itemstore.New()
	p := newBuilder(unitP, nil)
	p.module("m", model.Public)
	p.def("m", "X", model.KindStruct, model.Public)
	reexp := p.use("", "m::X", "Y", model.Public)
	p.commit(t, s)

	out := Exact(s, reexp)
	require.Equal(t, Found, out.Kind)
	assert.Equal(t, reexp, out.Path, "the final import is not followed")

	out = Exact(s, model.NewPath(unitP, "m", "Missing"))
	assert.Equal(t, Unresolvable, out.Kind)

	out = Exact(s, model.NewPath(unitA, "X"))
	assert.Equal(t, NeedsUnit, out.Kind)
	assert.Equal(t, unitA, out.Unit)
}
