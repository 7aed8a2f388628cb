package parse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/locate"
	"github.com/jward/surface/internal/model"
)

var unit = model.UnitID{Name: "demo", Version: "0.1.0"}

// lowerUnit lowers files and commits them so tests can inspect scopes.
func lowerUnit(t *testing.T, files map[string]string, features ...string) *itemstore.Store {
	t.Helper()
	src := &locate.Source{Unit: unit, Entry: "src/lib.rs", Features: features, Files: map[string][]byte{}}
	for name, body := range files {
		src.Files[name] = []byte(body)
	}
	b, err := Unit(context.Background(), src)
	require.NoError(t, err)
	s := itemstore.New()
	_, err = s.Commit(b)
	require.NoError(t, err)
	return s
}

func refText(it *model.Item, idx int) string {
	return it.Refs[idx].Text()
}

// =============================================================================
// Items
// =============================================================================

func TestUnit_StructFieldsAndDocs(t *testing.T) {
	t.Parallel()
	s := lowerUnit(t, map[string]string{"src/lib.rs": `
/// A client.
pub struct Client<T> {
    pub name: String,
    inner: std::sync::Arc<T>,
    pub(crate) count: &'static mut u32,
}

pub struct Pair(pub i32, Vec<u8>);
`})

	it := s.Item(model.NewPath(unit, "Client"))
	require.NotNil(t, it)
	assert.Equal(t, model.KindStruct, it.Kind)
	assert.Equal(t, model.Public, it.Visibility)
	assert.Equal(t, "A client.", it.Docs)
	assert.Equal(t, []string{"T"}, it.Generics)
	require.Len(t, it.Fields, 3)

	assert.Equal(t, "name", it.Fields[0].Name)
	assert.Equal(t, model.Public, it.Fields[0].Visibility)
	assert.Equal(t, model.TypeNamed, it.Fields[0].Type.Shape)
	assert.Equal(t, "String", refText(it, it.Fields[0].Type.Ref))
	assert.Equal(t, model.Soft, it.Refs[it.Fields[0].Type.Ref].Strength)

	inner := it.Fields[1].Type
	assert.Equal(t, model.Private, it.Fields[1].Visibility)
	assert.Equal(t, "std::sync::Arc", refText(it, inner.Ref))
	require.Len(t, inner.Args, 1)
	assert.Equal(t, model.TypeParam, inner.Args[0].Shape)

	count := it.Fields[2].Type
	assert.Equal(t, model.Crate, it.Fields[2].Visibility)
	assert.Equal(t, model.TypeRef, count.Shape)
	assert.True(t, count.Mutable)
	assert.Equal(t, "u32", refText(it, count.Args[0].Ref))

	pair := s.Item(model.NewPath(unit, "Pair"))
	require.NotNil(t, pair)
	require.Len(t, pair.Fields, 2)
	assert.Equal(t, "0", pair.Fields[0].Name)
	assert.Equal(t, model.Public, pair.Fields[0].Visibility)
	assert.Equal(t, "1", pair.Fields[1].Name)
	assert.Equal(t, model.Private, pair.Fields[1].Visibility)
}

func TestUnit_EnumVariants(t *testing.T) {
	t.Parallel()
	s := lowerUnit(t, map[string]string{"src/lib.rs": `
pub enum Shape {
    Circle { radius: f64 },
    Square(f64),
    Empty,
}
`})
	it := s.Item(model.NewPath(unit, "Shape"))
	require.NotNil(t, it)
	require.Len(t, it.Variants, 3)
	assert.Equal(t, "Circle", it.Variants[0].Name)
	assert.Equal(t, "radius", it.Variants[0].Fields[0].Name)
	assert.Len(t, it.Variants[1].Fields, 1)
	assert.Empty(t, it.Variants[2].Fields)

	v := s.Item(model.NewPath(unit, "Shape", "Square"))
	require.NotNil(t, v)
	assert.Equal(t, model.KindVariant, v.Kind)
}

func TestUnit_TraitAndImpls(t *testing.T) {
	t.Parallel()
	s := lowerUnit(t, map[string]string{"src/lib.rs": `
pub trait Render: Clone + Send {
    fn render(&self, out: &mut String) -> usize;
}

pub struct Page;

impl Render for Page {
    fn render(&self, out: &mut String) -> usize { 0 }
}

unsafe impl Send for Page {}
impl !Sync for Page {}
impl<T> Render for T {}
`})

	tr := s.Item(model.NewPath(unit, "Render"))
	require.NotNil(t, tr)
	assert.Equal(t, model.KindInterface, tr.Kind)
	require.Len(t, tr.Supertraits, 2)
	assert.Equal(t, "Clone", refText(tr, tr.Supertraits[0]))
	assert.Equal(t, "Send", refText(tr, tr.Supertraits[1]))
	require.Len(t, tr.Methods, 1)
	assert.Equal(t, "render", tr.Methods[0].Name)
	require.Len(t, tr.Methods[0].Signature.Params, 2)
	require.NotNil(t, tr.Methods[0].Signature.Result)

	impls := s.Impls(unit)
	require.Len(t, impls, 4)

	first := impls[0]
	assert.Equal(t, model.NewPath(unit, "{impl#0}"), first.Path)
	assert.Equal(t, "Render", refText(first, first.Impl.Interface))
	assert.Equal(t, model.Hard, first.Refs[first.Impl.Interface].Strength)
	assert.Equal(t, "Page", refText(first, first.Impl.SelfType.Ref))
	assert.Equal(t, model.Hard, first.Refs[first.Impl.SelfType.Ref].Strength)

	assert.True(t, impls[1].Impl.Unsafe)
	assert.False(t, impls[1].Impl.Negative)
	assert.True(t, impls[2].Impl.Negative)

	blanket := impls[3]
	assert.Equal(t, []string{"T"}, blanket.Generics)
	assert.Equal(t, model.TypeParam, blanket.Impl.SelfType.Shape)
}

func TestUnit_Derives(t *testing.T) {
	t.Parallel()
	s := lowerUnit(t, map[string]string{"src/lib.rs": `
#[derive(Clone, serde::Serialize)]
pub struct Config;
`})
	impls := s.Impls(unit)
	require.Len(t, impls, 2)
	assert.Equal(t, "Clone", refText(impls[0], impls[0].Impl.Interface))
	assert.Equal(t, "serde::Serialize", refText(impls[1], impls[1].Impl.Interface))
	assert.Equal(t, "Config", refText(impls[1], impls[1].Impl.SelfType.Ref))
}

func TestUnit_FunctionsAndAliases(t *testing.T) {
	t.Parallel()
	s := lowerUnit(t, map[string]string{"src/lib.rs": `
pub fn connect<A>(addr: A, retries: u8) -> Result<Conn, Error> { todo!() }
pub type Conn = std::net::TcpStream;
`})
	f := s.Item(model.NewPath(unit, "connect"))
	require.NotNil(t, f)
	require.NotNil(t, f.Signature)
	require.Len(t, f.Signature.Params, 2)
	assert.Equal(t, "addr", f.Signature.Params[0].Name)
	assert.Equal(t, model.TypeParam, f.Signature.Params[0].Type.Shape)
	require.NotNil(t, f.Signature.Result)
	assert.Len(t, f.Signature.Result.Args, 2)

	alias := s.Item(model.NewPath(unit, "Conn"))
	require.NotNil(t, alias)
	assert.Equal(t, model.KindTypeAlias, alias.Kind)
	require.GreaterOrEqual(t, alias.Target, 0)
	assert.Equal(t, "std::net::TcpStream", refText(alias, alias.Target))
	assert.Equal(t, model.Hard, alias.Refs[alias.Target].Strength)
}

// =============================================================================
// Modules and imports
// =============================================================================

func TestUnit_UseDeclarations(t *testing.T) {
	t.Parallel()
	s := lowerUnit(t, map[string]string{"src/lib.rs": `
use std::collections::HashMap;
pub use crate::inner::{self, Thing as Renamed, deep::*};
use ::serde::Serialize;
use foo::Hidden as _;
mod inner {}
`})
	root := s.ModuleScope(model.NewPath(unit))
	require.NotNil(t, root)

	hm := s.Item(root.Names["HashMap"])
	require.NotNil(t, hm)
	assert.Equal(t, model.KindReexport, hm.Kind)
	assert.Equal(t, model.Private, hm.Visibility)
	assert.Equal(t, "std::collections::HashMap", refText(hm, hm.Target))

	ren := s.Item(root.Names["Renamed"])
	require.NotNil(t, ren)
	assert.Equal(t, model.Public, ren.Visibility)
	assert.Equal(t, "crate::inner::Thing", refText(ren, ren.Target))

	ser := s.Item(root.Names["Serialize"])
	require.NotNil(t, ser)
	assert.True(t, ser.Refs[ser.Target].Rooted)

	require.Len(t, root.Globs, 1)
	g := s.Item(root.Globs[0])
	require.NotNil(t, g)
	assert.True(t, g.Glob)
	assert.Equal(t, "crate::inner::deep", refText(g, g.Target))

	assert.NotContains(t, root.Names, "_")
	assert.Equal(t, model.NewPath(unit, "inner"), root.Names["inner"], "the module definition wins over `self` import")
}

func TestUnit_OutOfLineModules(t *testing.T) {
	t.Parallel()
	s := lowerUnit(t, map[string]string{
		"src/lib.rs":       "pub mod net;\nmod util;\npub mod missing;",
		"src/net/mod.rs":   "pub mod tcp;",
		"src/net/tcp.rs":   "pub struct Stream;",
		"src/util.rs":      "pub(crate) fn helper() {}",
		"src/unrelated.rs": "pub struct Never;",
	})

	assert.NotNil(t, s.Item(model.NewPath(unit, "net", "tcp", "Stream")))
	assert.NotNil(t, s.Item(model.NewPath(unit, "util", "helper")))
	assert.Nil(t, s.Item(model.NewPath(unit, "unrelated", "Never")))

	net := s.Item(model.NewPath(unit, "net"))
	require.NotNil(t, net)
	assert.Equal(t, model.KindModule, net.Kind)
	assert.Equal(t, "src/net/mod.rs", s.Item(model.NewPath(unit, "net", "tcp")).File)

	assert.Nil(t, s.Item(model.NewPath(unit, "missing")))
}

func TestUnit_MissingModuleFileIsRecorded(t *testing.T) {
	t.Parallel()
	src := &locate.Source{Unit: unit, Entry: "src/lib.rs", Files: map[string][]byte{
		"src/lib.rs": []byte("pub mod missing;"),
	}}
	b, err := Unit(context.Background(), src)
	require.NoError(t, err)
	f, ok := b.Failures[model.NewPath(unit, "missing")]
	require.True(t, ok)
	assert.Equal(t, model.PathUnresolvable, f.Kind)
}

func TestUnit_CfgFiltersItems(t *testing.T) {
	t.Parallel()
	files := map[string]string{"src/lib.rs": `
#[cfg(feature = "extra")]
pub struct Extra;
#[cfg(not(feature = "extra"))]
pub struct Plain;
pub struct S {
    #[cfg(feature = "extra")]
    pub more: u8,
    pub base: u8,
}
`}
	without := lowerUnit(t, files)
	assert.Nil(t, without.Item(model.NewPath(unit, "Extra")))
	assert.NotNil(t, without.Item(model.NewPath(unit, "Plain")))
	assert.Len(t, without.Item(model.NewPath(unit, "S")).Fields, 1)

	with := lowerUnit(t, files, "extra")
	assert.NotNil(t, with.Item(model.NewPath(unit, "Extra")))
	assert.Nil(t, with.Item(model.NewPath(unit, "Plain")))
	assert.Len(t, with.Item(model.NewPath(unit, "S")).Fields, 2)
}

func TestUnit_MacrosAndInvocations(t *testing.T) {
	t.Parallel()
	s := lowerUnit(t, map[string]string{"src/lib.rs": `
#[macro_export]
macro_rules! make_struct {
    ($name:ident) => { pub struct $name; };
}
make_struct!(Generated);
`})
	def := s.Item(model.NewPath(unit, "make_struct!"))
	require.NotNil(t, def)
	assert.Equal(t, model.KindMacroDef, def.Kind)
	assert.Equal(t, model.Public, def.Visibility)

	root := s.ModuleScope(model.NewPath(unit))
	_, ok := root.LookupMacro("make_struct")
	assert.True(t, ok)

	inv := s.Item(model.NewPath(unit, "{macro#0}"))
	require.NotNil(t, inv)
	require.NotNil(t, inv.Invocation)
	assert.Equal(t, []string{"make_struct"}, inv.Invocation.Macro)
	assert.Equal(t, "Generated", inv.Invocation.Tokens)
	assert.Equal(t, 1, s.PendingExpansions(unit))
}

func TestUnit_MissingEntry(t *testing.T) {
	t.Parallel()
	_, err := Unit(context.Background(), &locate.Source{Unit: unit, Entry: "src/lib.rs"})
	assert.Error(t, err)
}

// =============================================================================
// Fragments
// =============================================================================

func TestFragment(t *testing.T) {
	t.Parallel()
	s := lowerUnit(t, map[string]string{"src/lib.rs": "pub mod m {}"})
	mod := model.NewPath(unit, "m")

	b, err := Fragment(context.Background(), FragmentInput{
		Unit:   unit,
		Module: mod,
		Scope:  s.ModuleScope(mod),
		Code:   "pub struct Made; impl Made {}",
		Depth:  1,
		Tag:    "@x",
		Origin: "m::{macro#0}",
	})
	require.NoError(t, err)
	assert.False(t, b.Load)
	assert.Equal(t, 1, b.Bindings())

	_, err = s.Commit(b)
	require.NoError(t, err)
	assert.NotNil(t, s.Item(mod.Join("Made")))
	assert.NotNil(t, s.Item(mod.Join("{impl#0@x}")))
	assert.Equal(t, mod.Join("Made"), s.ModuleScope(mod).Names["Made"])
}

func TestFragment_InvalidOutput(t *testing.T) {
	t.Parallel()
	_, err := Fragment(context.Background(), FragmentInput{
		Unit:   unit,
		Module: model.NewPath(unit),
		Scope:  model.NewScope(model.NewPath(unit), nil),
		Code:   "pub struct {{{",
		Origin: "{macro#0}",
	})
	assert.Error(t, err)
}
