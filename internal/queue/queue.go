// Package queue holds the scheduler's work queues.
package queue

import "github.com/jward/surface/internal/model"

// Set is an insertion-ordered set. Drain empties it and returns the
// contents in the order they were first added, so rounds are deterministic.
type Set[T comparable] struct {
	seen  map[T]bool
	items []T
}

func NewSet[T comparable]() *Set[T] {
	return &Set[T]{seen: make(map[T]bool)}
}

// Add reports whether v was not already queued.
func (s *Set[T]) Add(v T) bool {
	if s.seen[v] {
		return false
	}
	s.seen[v] = true
	s.items = append(s.items, v)
	return true
}

func (s *Set[T]) Has(v T) bool { return s.seen[v] }

func (s *Set[T]) Len() int { return len(s.items) }

func (s *Set[T]) Drain() []T {
	out := s.items
	s.items = nil
	s.seen = make(map[T]bool)
	return out
}

// Task is one unit of resolution work.
//
// With Ref >= 0 it resolves reference Ref of the item at Owner. With Ref < 0
// it demands the item at Target exactly; Owner is then the module whose
// public surface asked for it, or zero for a session root.
type Task struct {
	Owner  model.Path
	Ref    int
	Target model.Path
}

// RefTask builds a task for one reference of owner.
func RefTask(owner model.Path, ref int) Task {
	return Task{Owner: owner, Ref: ref}
}

// DemandTask builds a task that demands the item at target.
func DemandTask(owner, target model.Path) Task {
	return Task{Owner: owner, Ref: -1, Target: target}
}

func (t Task) IsDemand() bool { return t.Ref < 0 }

// Queues are the three work sets drained once per round.
type Queues struct {
	ToLoad    *Set[model.UnitID]
	ToExpand  *Set[model.Path]
	ToResolve *Set[Task]
}

func New() *Queues {
	return &Queues{
		ToLoad:    NewSet[model.UnitID](),
		ToExpand:  NewSet[model.Path](),
		ToResolve: NewSet[Task](),
	}
}

// Empty reports whether every queue is drained.
func (q *Queues) Empty() bool {
	return q.ToLoad.Len() == 0 && q.ToExpand.Len() == 0 && q.ToResolve.Len() == 0
}
