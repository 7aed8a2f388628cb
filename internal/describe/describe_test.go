package describe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/surface/internal/impls"
	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/ledger"
	"github.com/jward/surface/internal/locate"
	"github.com/jward/surface/internal/model"
	"github.com/jward/surface/internal/safety"
	"github.com/jward/surface/internal/scheduler"
)

var demo = model.UnitID{Name: "demo", Version: "1.0.0"}

func path(name string) string { return model.NewPath(demo, name).String() }

type session struct {
	sched *scheduler.Scheduler
	index *impls.Index
}

func newSession(t *testing.T, code string) session {
	t.Helper()
	loc := locate.NewMapLocator(&locate.Source{
		Unit:  demo,
		Entry: "src/lib.rs",
		Files: map[string][]byte{"src/lib.rs": []byte(code)},
	})
	s := scheduler.New(itemstore.New(), ledger.New(), loc, nil, scheduler.Config{
		Workers:  2,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Validate: impls.Coherence,
	})
	s.Seed(model.NewPath(demo))
	_, err := s.Run(context.Background())
	require.NoError(t, err)
	return session{sched: s, index: impls.New(s)}
}

func (s session) input(opts ...safety.Option) Input {
	opts = append([]safety.Option{safety.WithImpls(s.index)}, opts...)
	return Input{
		Roots:    []model.Path{model.NewPath(demo)},
		Store:    s.sched.Store(),
		Ledger:   s.sched.Ledger(),
		Bindings: s.sched,
		Impls:    s.index,
		Safety:   safety.New(s.sched.Store(), s.sched.Ledger(), s.sched, opts...),
	}
}

func build(t *testing.T, in Input) (*APIDescription, []Diagnostic) {
	t.Helper()
	d, diags, err := Build(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d, diags
}

// =============================================================================
// Reachability and failures
// =============================================================================

func TestBuild_UnresolvableFieldDegradesSafety(t *testing.T) {
	t.Parallel()

	s := newSession(t, `
pub struct A { pub x: u8, pub y: bool }
pub struct P { pub a: A, pub b: B }
`)
	d, diags := build(t, s.input())

	p := d.Item(path("P"))
	require.NotNil(t, p)
	require.NotNil(t, p.Safety)
	assert.Equal(t, Safety{Exclusive: "unknown", Shared: "unknown"}, *p.Safety)

	a := d.Item(path("A"))
	require.NotNil(t, a)
	assert.Equal(t, Safety{Exclusive: "true", Shared: "true"}, *a.Safety)

	require.Len(t, p.Fields, 2)
	assert.Equal(t, path("A"), p.Fields[0].Type.Path)
	assert.True(t, p.Fields[0].Type.Resolved)
	assert.Equal(t, path("B"), p.Fields[1].Type.Path)
	assert.False(t, p.Fields[1].Type.Resolved)

	require.Len(t, diags, 1)
	assert.Equal(t, path("B"), diags[0].Path)
	assert.Equal(t, string(model.PathUnresolvable), diags[0].Kind)
}

func TestBuild_FailedItemsExcluded(t *testing.T) {
	t.Parallel()

	s := newSession(t, `
pub type Alias = Missing;
pub struct Uses { pub a: Alias }
pub struct Sibling { pub n: u32 }
`)
	d, diags := build(t, s.input())

	assert.Nil(t, d.Item(path("Alias")))
	assert.NotNil(t, d.Item(path("Uses")))
	assert.NotNil(t, d.Item(path("Sibling")))

	var kinds []string
	for _, dg := range diags {
		if dg.Path == path("Alias") {
			kinds = append(kinds, dg.Kind)
			assert.NotEmpty(t, dg.Cause)
		}
	}
	assert.Equal(t, []string{string(model.DependencyFailure)}, kinds)

	uses := d.Item(path("Uses"))
	require.Len(t, uses.Fields, 1)
	assert.False(t, uses.Fields[0].Type.Resolved)
}

func TestBuild_ReexportFollowsTarget(t *testing.T) {
	t.Parallel()

	s := newSession(t, `
mod inner {
    pub struct Deep { pub v: u8 }
}
pub use inner::Deep;
`)
	d, _ := build(t, s.input())

	re := d.Item(path("Deep"))
	require.NotNil(t, re)
	assert.Equal(t, string(model.KindReexport), re.Kind)
	require.NotNil(t, re.Target)
	assert.Equal(t, path("inner::Deep"), re.Target.Path)
	assert.True(t, re.Target.Resolved)

	assert.NotNil(t, d.Item(path("inner::Deep")))
	assert.Nil(t, d.Item(path("inner")), "private module is not part of the surface")
}

func TestBuild_GlobOfPrivateModule(t *testing.T) {
	t.Parallel()

	s := newSession(t, `
mod inner {
    pub struct Deep { pub v: u8 }
    struct Private;
}
pub use inner::*;
`)
	d, diags := build(t, s.input())

	assert.Empty(t, diags)
	assert.NotNil(t, d.Item(path("inner::Deep")))
	assert.Nil(t, d.Item(path("inner")), "the glob's module is not described")
	assert.Nil(t, d.Item(path("inner::Private")))
}

func TestBuild_ImplementationsAndTheirTypes(t *testing.T) {
	t.Parallel()

	s := newSession(t, `
pub struct Local;
pub trait Mine { fn go(&self); }
struct Hidden;
impl Mine for Local { fn go(&self) {} }
impl Local {
    pub fn hidden(&self) -> Hidden { Hidden }
}
`)
	d, _ := build(t, s.input())

	recs := d.ImplementationsOf(path("Local"))
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.True(t, r.TypeLocal)
	}
	assert.Len(t, d.ImplementationsOf(path("Mine")), 1)

	hidden := d.Item(path("Hidden"))
	require.NotNil(t, hidden, "types named by impl methods are described")
	assert.Equal(t, "private", hidden.Visibility)
}

func TestBuild_OracleErrorBecomesDiagnostic(t *testing.T) {
	t.Parallel()

	s := newSession(t, `pub struct G<T> { pub t: T }`)
	boom := errors.New("boom")
	in := s.input(safety.WithOracle(safety.OracleFunc(func(context.Context, model.Path) (model.SafetyFact, error) {
		return model.SafetyUnknown, boom
	})))
	d, diags := build(t, in)

	g := d.Item(path("G"))
	require.NotNil(t, g)
	assert.Equal(t, Safety{Exclusive: "unknown", Shared: "unknown"}, *g.Safety)

	require.Len(t, diags, 1)
	assert.Equal(t, KindSafety, diags[0].Kind)
	assert.Contains(t, diags[0].Reason, "boom")
}

func TestBuild_WithoutOptionalSources(t *testing.T) {
	t.Parallel()

	s := newSession(t, `pub struct A { pub x: u8 }`)
	in := s.input()
	in.Impls = nil
	in.Safety = nil
	d, diags := build(t, in)

	a := d.Item(path("A"))
	require.NotNil(t, a)
	assert.Nil(t, a.Safety)
	assert.Empty(t, d.Implementations)
	assert.Empty(t, diags)
	require.Len(t, d.Units, 1)
	assert.Equal(t, "loaded", d.Units[0].State)
}

func TestBuild_Cancelled(t *testing.T) {
	t.Parallel()

	s := newSession(t, `pub struct A;`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Build(ctx, s.input())
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Encoding
// =============================================================================

func TestEncode(t *testing.T) {
	t.Parallel()

	s := newSession(t, `pub struct P { pub b: B }`)
	d, diags := build(t, s.input())

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, d, diags))
	assert.Contains(t, buf.String(), `"diagnostics"`)

	doc, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, d.Roots, doc.Description.Roots)
	require.NotNil(t, doc.Description.Item(path("P")))
	assert.Equal(t, diags, doc.Diagnostics)
}
