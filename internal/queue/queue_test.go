package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jward/surface/internal/model"
)

func TestSet_DedupAndOrder(t *testing.T) {
	t.Parallel()
	s := NewSet[string]()
	assert.True(t, s.Add("b"))
	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("b"))
	assert.True(t, s.Has("a"))
	assert.Equal(t, 2, s.Len())

	assert.Equal(t, []string{"b", "a"}, s.Drain())
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Has("a"))
	assert.True(t, s.Add("a"), "a drained value may be queued again")
}

func TestQueues_Empty(t *testing.T) {
	t.Parallel()
	q := New()
	assert.True(t, q.Empty())

	u := model.UnitID{Name: "x", Version: "1"}
	q.ToResolve.Add(DemandTask(model.Path{}, model.NewPath(u, "A")))
	assert.False(t, q.Empty())
	q.ToResolve.Drain()
	assert.True(t, q.Empty())
}

func TestTask(t *testing.T) {
	t.Parallel()
	u := model.UnitID{Name: "x", Version: "1"}
	owner := model.NewPath(u, "S")

	rt := RefTask(owner, 2)
	assert.False(t, rt.IsDemand())
	dt := DemandTask(owner, owner.Join("child"))
	assert.True(t, dt.IsDemand())
	assert.NotEqual(t, rt, dt)
	assert.Equal(t, RefTask(owner, 2), rt, "tasks are comparable values")
}
