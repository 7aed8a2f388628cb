package surface

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	demo = UnitID{Name: "demo", Version: "1.0.0"}
	core = UnitID{Name: "core_types", Version: "2.0.0"}
)

func source(id UnitID, deps map[string]UnitID, code string) *Source {
	return &Source{
		Unit:  id,
		Deps:  deps,
		Entry: "src/lib.rs",
		Files: map[string][]byte{"src/lib.rs": []byte(code)},
	}
}

func newTestEngine(opts ...Option) *Engine {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithWorkers(4),
	}
	return New(append(base, opts...)...)
}

func resolve(t *testing.T, e *Engine, root Root) *Result {
	t.Helper()
	res, err := e.Resolve(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, res.Description)
	require.Zero(t, res.Stats.Pending)
	return res
}

func path(id UnitID, name string) string {
	if name == "" {
		return id.String()
	}
	return id.String() + "::" + name
}

func itemPaths(d *APIDescription) []string {
	out := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		out = append(out, it.Path)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Scenarios
// =============================================================================

func TestResolve_UnresolvableFieldType(t *testing.T) {
	t.Parallel()

	e := newTestEngine(WithLocator(NewMapLocator(source(demo, nil, `
pub struct A { pub x: u8, pub y: char }
pub struct P { pub a: A, pub b: B }
`))))
	res := resolve(t, e, Root{Unit: demo})

	p := res.Description.Item(path(demo, "P"))
	require.NotNil(t, p)
	require.NotNil(t, p.Safety)
	assert.Equal(t, "unknown", p.Safety.Exclusive)
	assert.Equal(t, "unknown", p.Safety.Shared)

	a := res.Description.Item(path(demo, "A"))
	require.NotNil(t, a)
	assert.Equal(t, "true", a.Safety.Exclusive)
	assert.Equal(t, "true", a.Safety.Shared)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, path(demo, "B"), res.Diagnostics[0].Path)
	assert.Equal(t, "unresolvable", res.Diagnostics[0].Kind)
}

func TestResolve_LocalShadowsGlob(t *testing.T) {
	t.Parallel()

	e := newTestEngine(WithLocator(NewMapLocator(source(demo, nil, `
pub mod g { pub struct Foo; }
pub mod l { pub struct Foo { pub x: u8 } }
use g::*;
use l::Foo;
pub struct User { pub f: Foo }
`))))
	res := resolve(t, e, Root{Unit: demo})

	assert.Empty(t, res.Diagnostics)
	user := res.Description.Item(path(demo, "User"))
	require.NotNil(t, user)
	require.Len(t, user.Fields, 1)
	assert.Equal(t, path(demo, "l::Foo"), user.Fields[0].Type.Path)
	assert.True(t, user.Fields[0].Type.Resolved)
}

func TestResolve_StandardDerives(t *testing.T) {
	t.Parallel()

	e := newTestEngine(WithLocator(NewMapLocator(source(demo, nil, `
#[derive(Debug, Clone, Copy, Default, PartialEq, Eq, PartialOrd, Ord, Hash)]
pub struct S { pub n: u32 }
`))))
	res := resolve(t, e, Root{Unit: demo})

	assert.Empty(t, res.Diagnostics)
	recs := res.Description.ImplementationsOf(path(demo, "S"))
	var ifaces []string
	for _, r := range recs {
		ifaces = append(ifaces, r.Interface)
	}
	assert.ElementsMatch(t, []string{
		"{builtin}@0.0.0::fmt::Debug",
		"{builtin}@0.0.0::clone::Clone",
		"{builtin}@0.0.0::marker::Copy",
		"{builtin}@0.0.0::default::Default",
		"{builtin}@0.0.0::cmp::PartialEq",
		"{builtin}@0.0.0::cmp::Eq",
		"{builtin}@0.0.0::cmp::PartialOrd",
		"{builtin}@0.0.0::cmp::Ord",
		"{builtin}@0.0.0::hash::Hash",
	}, ifaces)
}

func TestResolve_Isolation(t *testing.T) {
	t.Parallel()

	const tmpl = `
pub struct Thing;
pub type Alias = %s;
pub type Alias2 = Alias;
pub struct Holder { pub a: Alias2 }
pub struct Other { pub n: u32 }
`
	run := func(target string) *Result {
		code := fmt.Sprintf(tmpl, target)
		e := newTestEngine(WithLocator(NewMapLocator(source(demo, nil, code))))
		return resolve(t, e, Root{Unit: demo})
	}
	good := run("Thing")
	broken := run("Nothing")

	assert.Empty(t, good.Diagnostics)
	before := itemPaths(good.Description)
	after := itemPaths(broken.Description)
	assert.Subset(t, before, after)

	var removed []string
	for _, p := range before {
		if broken.Description.Item(p) == nil {
			removed = append(removed, p)
		}
	}
	assert.Equal(t, []string{path(demo, "Alias"), path(demo, "Alias2")}, removed)

	holder := broken.Description.Item(path(demo, "Holder"))
	require.NotNil(t, holder)
	assert.False(t, holder.Fields[0].Type.Resolved)
}

func TestResolve_CrossUnit(t *testing.T) {
	t.Parallel()

	e := newTestEngine(WithLocator(NewMapLocator(
		source(demo, map[string]UnitID{"core_types": core}, `
use core_types::Shared;
pub struct Wrapper { pub inner: core_types::Foreign }
impl Shared for Wrapper {}
`),
		source(core, nil, `
pub trait Shared {}
pub struct Foreign { pub id: u64 }
pub struct Unused;
`),
	)))
	res := resolve(t, e, Root{Unit: demo})

	assert.Equal(t, 2, res.Stats.UnitsLoaded)
	assert.Len(t, res.Description.Units, 2)
	assert.NotNil(t, res.Description.Item(path(core, "Foreign")))
	assert.Nil(t, res.Description.Item(path(core, "Unused")), "unreachable items are not described")

	recs := res.Description.ImplementationsOf(path(core, "Shared"))
	require.Len(t, recs, 1)
	assert.Equal(t, path(demo, "Wrapper"), recs[0].Type)
	assert.True(t, recs[0].TypeLocal)
	assert.False(t, recs[0].InterfaceLocal)
}

func TestResolve_SharedInterfaceDoesNotWidenSurface(t *testing.T) {
	t.Parallel()

	e := newTestEngine(WithLocator(NewMapLocator(
		source(demo, map[string]UnitID{"core_types": core}, `
pub struct Wrapper { pub inner: core_types::Foreign }
impl Clone for Wrapper {}
`),
		source(core, nil, `
#[derive(Clone)]
pub struct Foreign;
pub struct Unused;
impl Clone for Unused {}
mod hidden {
    pub struct Secret;
    impl Clone for Secret {}
}
`),
	)))
	res := resolve(t, e, Root{Unit: demo})

	assert.Equal(t, []string{path(core, "Foreign"), path(demo, ""), path(demo, "Wrapper")}, itemPaths(res.Description))
	assert.Nil(t, res.Description.Item(path(core, "Unused")))
	assert.Nil(t, res.Description.Item(path(core, "hidden::Secret")))

	var types []string
	for _, im := range res.Description.Implementations {
		types = append(types, im.Type)
	}
	assert.ElementsMatch(t, []string{path(demo, "Wrapper"), path(core, "Foreign")}, types)
	assert.Empty(t, res.Diagnostics)
}

func TestResolve_MacroScripts(t *testing.T) {
	t.Parallel()

	scripts := fstest.MapFS{
		"newtype.risor": &fstest.MapFile{Data: []byte(`
name := invocation["tokens"]
emit("pub struct " + name + "(pub u64);")
emit("impl Clone for " + name + " {}")
`)},
	}
	e := newTestEngine(
		WithLocator(NewMapLocator(source(demo, nil, `
newtype!(Meters);
missing!(Nope);
pub struct Span { pub len: Meters }
`))),
		WithScriptsFS(scripts),
	)
	res := resolve(t, e, Root{Unit: demo})

	assert.Equal(t, 1, res.Stats.Expansions)
	assert.Equal(t, 1, res.Stats.ExpansionFailures)
	require.NotNil(t, res.Description.Item(path(demo, "Meters")))
	assert.Len(t, res.Description.ImplementationsOf(path(demo, "Meters")), 1)

	span := res.Description.Item(path(demo, "Span"))
	require.NotNil(t, span)
	assert.True(t, span.Fields[0].Type.Resolved)

	var kinds []string
	for _, d := range res.Diagnostics {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []string{"expansion"}, kinds)
}

func TestResolve_OracleFirst(t *testing.T) {
	t.Parallel()

	oracle := OracleFunc(func(_ context.Context, req ExpansionRequest) (Expansion, error) {
		return Expansion{Source: "pub struct FromOracle;"}, nil
	})
	e := newTestEngine(
		WithLocator(NewMapLocator(source(demo, nil, `make!();`))),
		WithOracle(oracle),
		WithScriptsFS(fstest.MapFS{}),
	)
	res := resolve(t, e, Root{Unit: demo})
	assert.NotNil(t, res.Description.Item(path(demo, "FromOracle")))
}

func TestResolve_SafetyOracle(t *testing.T) {
	t.Parallel()

	var asked []string
	oracle := SafetyOracleFunc(func(_ context.Context, p Path) (SafetyFact, error) {
		asked = append(asked, p.String())
		return SafetyFact{Exclusive: True, Shared: True}, nil
	})
	e := newTestEngine(
		WithLocator(NewMapLocator(source(demo, nil, `pub struct G<T> { pub t: T }`))),
		WithSafetyOracle(oracle),
	)
	res := resolve(t, e, Root{Unit: demo})

	g := res.Description.Item(path(demo, "G"))
	require.NotNil(t, g)
	assert.Equal(t, "true", g.Safety.Exclusive)
	assert.Equal(t, "true", g.Safety.Shared)
	assert.Equal(t, []string{path(demo, "G")}, asked)
}

func TestResolve_RootPaths(t *testing.T) {
	t.Parallel()

	e := newTestEngine(WithLocator(NewMapLocator(source(demo, nil, `
pub mod client {
    pub struct Client { pub cfg: Config }
    pub struct Config;
}
pub struct Elsewhere;
`))))
	res := resolve(t, e, Root{Unit: demo, Paths: []string{"client::Client"}})

	assert.Equal(t, []string{path(demo, "client::Client")}, res.Description.Roots)
	assert.Equal(t, []string{path(demo, "client::Client"), path(demo, "client::Config")}, itemPaths(res.Description))
}

func TestResolve_MissingUnit(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	res := resolve(t, e, Root{Unit: demo})

	assert.Empty(t, res.Description.Items)
	require.NotEmpty(t, res.Diagnostics)
	assert.Equal(t, "unit_load", res.Diagnostics[0].Kind)
	require.Len(t, res.Description.Units, 1)
	assert.Equal(t, "failed", res.Description.Units[0].State)
}

func TestResolve_Deterministic(t *testing.T) {
	t.Parallel()

	loc := NewMapLocator(
		source(demo, map[string]UnitID{"core_types": core}, `
pub mod a { pub struct X { pub y: super::b::Y } }
pub mod b { pub struct Y { pub f: core_types::Foreign, pub m: Missing } }
pub use a::*;
`),
		source(core, nil, `pub struct Foreign;`),
	)
	first := resolve(t, newTestEngine(WithLocator(loc)), Root{Unit: demo})
	second := resolve(t, newTestEngine(WithLocator(loc), WithWorkers(1)), Root{Unit: demo})
	assert.Equal(t, first.Description, second.Description)
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
}

func TestResolve_RequiresUnit(t *testing.T) {
	t.Parallel()
	_, err := newTestEngine().Resolve(context.Background(), Root{})
	assert.Error(t, err)
}

func TestResolve_Cancelled(t *testing.T) {
	t.Parallel()

	e := newTestEngine(WithLocator(NewMapLocator(source(demo, nil, `pub struct A;`))))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Resolve(ctx, Root{Unit: demo})
	assert.ErrorIs(t, err, context.Canceled)
}
