package expand

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/surface/internal/model"
)

func request(macro, tokens string) Request {
	unit := model.UnitID{Name: "demo", Version: "1.0.0"}
	return Request{
		Path:      model.NewPath(unit, "{macro#0}"),
		Module:    model.NewPath(unit),
		Macro:     macro,
		MacroPath: []string{macro},
		Tokens:    tokens,
	}
}

// --- Static and Chain ---

func TestStatic_SubstitutesTokens(t *testing.T) {
	t.Parallel()

	o := Static{"newtype": "pub struct $tokens(pub u32);"}
	exp, err := o.Expand(context.Background(), request("newtype", "Meters"))
	require.NoError(t, err)
	assert.Equal(t, "pub struct Meters(pub u32);", exp.Source)
}

func TestStatic_UnknownMacro(t *testing.T) {
	t.Parallel()

	_, err := Static{}.Expand(context.Background(), request("missing", ""))
	assert.ErrorIs(t, err, ErrNoExpander)
}

func TestChain_FallsThroughNoExpander(t *testing.T) {
	t.Parallel()

	o := Chain{
		Static{"a": "pub struct A;"},
		Static{"b": "pub struct B;"},
	}
	exp, err := o.Expand(context.Background(), request("b", ""))
	require.NoError(t, err)
	assert.Equal(t, "pub struct B;", exp.Source)

	_, err = o.Expand(context.Background(), request("c", ""))
	assert.ErrorIs(t, err, ErrNoExpander)
}

func TestChain_StopsAtRealError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	o := Chain{
		Func(func(context.Context, Request) (Expansion, error) { return Expansion{}, boom }),
		Static{"a": "pub struct A;"},
	}
	_, err := o.Expand(context.Background(), request("a", ""))
	assert.ErrorIs(t, err, boom)
}

// --- Timeout ---

func TestWithTimeout_SlowOracle(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	slow := Func(func(context.Context, Request) (Expansion, error) {
		<-release
		return Expansion{Source: "pub struct Late;"}, nil
	})

	start := time.Now()
	_, err := WithTimeout(slow, 20*time.Millisecond).Expand(context.Background(), request("slow", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWithTimeout_FastOracle(t *testing.T) {
	t.Parallel()

	o := WithTimeout(Static{"a": "pub struct A;"}, time.Second)
	exp, err := o.Expand(context.Background(), request("a", ""))
	require.NoError(t, err)
	assert.Equal(t, "pub struct A;", exp.Source)
}

func TestWithTimeout_ParentCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocking := Func(func(ctx context.Context, _ Request) (Expansion, error) {
		<-ctx.Done()
		return Expansion{}, ctx.Err()
	})
	_, err := WithTimeout(blocking, time.Minute).Expand(ctx, request("x", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestWithTimeout_ZeroDisables(t *testing.T) {
	t.Parallel()

	o := Static{}
	assert.Equal(t, Oracle(o), WithTimeout(o, 0))
}

// --- Script oracle ---

func TestScriptOracle_Emit(t *testing.T) {
	t.Parallel()

	mapFS := fstest.MapFS{
		"newtype.risor": &fstest.MapFile{Data: []byte(`
name := invocation["tokens"]
emit("pub struct " + name + "(pub u64);")
emit("impl Clone for " + name + " {}")
`)},
	}
	o := NewScriptOracle("", WithScriptFS(mapFS))

	exp, err := o.Expand(context.Background(), request("newtype", "Id"))
	require.NoError(t, err)
	assert.Equal(t, "pub struct Id(pub u64);\nimpl Clone for Id {}", exp.Source)
}

func TestScriptOracle_ResultString(t *testing.T) {
	t.Parallel()

	mapFS := fstest.MapFS{
		"unit.risor": &fstest.MapFile{Data: []byte(`"pub struct " + invocation["tokens"] + ";"`)},
	}
	o := NewScriptOracle("", WithScriptFS(mapFS))

	exp, err := o.Expand(context.Background(), request("unit", "Marker"))
	require.NoError(t, err)
	assert.Equal(t, "pub struct Marker;", exp.Source)
}

func TestScriptOracle_MissingScript(t *testing.T) {
	t.Parallel()

	o := NewScriptOracle("", WithScriptFS(fstest.MapFS{}))
	_, err := o.Expand(context.Background(), request("nothing", ""))
	assert.ErrorIs(t, err, ErrNoExpander)
}

func TestScriptOracle_NoSourceConfigured(t *testing.T) {
	t.Parallel()

	o := NewScriptOracle("")
	_, err := o.Expand(context.Background(), request("nothing", ""))
	assert.ErrorIs(t, err, ErrNoExpander)
}

func TestScriptOracle_ScriptError(t *testing.T) {
	t.Parallel()

	mapFS := fstest.MapFS{
		"bad.risor": &fstest.MapFile{Data: []byte(`emit(1)`)},
	}
	o := NewScriptOracle("", WithScriptFS(mapFS))

	_, err := o.Expand(context.Background(), request("bad", ""))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoExpander)
	assert.Contains(t, err.Error(), "bad.risor")
}

func TestScriptOracle_FromDiskWithImport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helpers.risor"), []byte(`
func unit_struct(name) {
	log.Info("generating " + name)
	return "pub struct " + name + ";"
}
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.risor"), []byte(`
import helpers
emit(helpers.unit_struct(invocation["tokens"]))
`), 0644))

	o := NewScriptOracle(dir)
	exp, err := o.Expand(context.Background(), request("marker", "Tag"))
	require.NoError(t, err)
	assert.Equal(t, "pub struct Tag;", exp.Source)
}

func TestScriptPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "bitflags.risor", ScriptPath("bitflags"))
}
