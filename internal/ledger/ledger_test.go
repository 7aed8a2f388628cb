package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/surface/internal/model"
)

var unit = model.UnitID{Name: "lib", Version: "1.0.0"}

func TestClaimThenResolve(t *testing.T) {
	t.Parallel()
	l := New()
	p := model.NewPath(unit, "A")

	assert.True(t, l.Claim(p))
	assert.False(t, l.Claim(p))
	assert.False(t, l.Settled(p))
	assert.Equal(t, []model.Path{p}, l.Pending())

	it := &model.Item{Path: p, Kind: model.KindStruct}
	require.NoError(t, l.Resolve(p, it))

	e, ok := l.Get(p)
	require.True(t, ok)
	assert.Equal(t, Resolved, e.State)
	assert.Same(t, it, e.Item)
	assert.Empty(t, l.Pending())
}

func TestSettledEntriesNeverChange(t *testing.T) {
	t.Parallel()
	l := New()
	p := model.NewPath(unit, "A")
	require.NoError(t, l.Fail(p, model.Failure{Kind: model.PathUnresolvable, Reason: "gone"}))

	err := l.Resolve(p, &model.Item{Path: p})
	require.ErrorIs(t, err, ErrSettled)
	err = l.Fail(p, model.Failure{Kind: model.ExpansionFailure, Reason: "other"})
	require.ErrorIs(t, err, ErrSettled)

	e, _ := l.Get(p)
	assert.Equal(t, Failed, e.State)
	assert.Equal(t, "gone", e.Failure.Reason)

	q := model.NewPath(unit, "B")
	require.NoError(t, l.Resolve(q, nil))
	require.ErrorIs(t, l.Fail(q, model.Failure{}), ErrSettled)
	assert.False(t, l.Claim(q))
}

func TestFailuresSorted(t *testing.T) {
	t.Parallel()
	l := New()
	for _, name := range []string{"z", "a", "m"} {
		require.NoError(t, l.Fail(model.NewPath(unit, name), model.Failure{Kind: model.PathUnresolvable}))
	}
	require.NoError(t, l.Resolve(model.NewPath(unit, "ok"), nil))

	fs := l.Failures()
	require.Len(t, fs, 3)
	assert.Equal(t, "a", fs[0].Path.Name)
	assert.Equal(t, "m", fs[1].Path.Name)
	assert.Equal(t, "z", fs[2].Path.Name)

	pending, resolved, failed := l.Counts()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 3, failed)
}

func TestConcurrentSettleOnce(t *testing.T) {
	t.Parallel()
	l := New()
	p := model.NewPath(unit, "Contended")
	l.Claim(p)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Resolve(p, nil) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
