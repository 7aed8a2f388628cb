package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jward/surface/internal/ledger"
	"github.com/jward/surface/internal/model"
	"github.com/jward/surface/internal/queue"
	"github.com/jward/surface/internal/resolve"
)

const cycleReason = "dependency cycle"

// resolvePhase resolves every queued task in parallel against the current
// store, then applies the outcomes serially.
func (s *Scheduler) resolvePhase(ctx context.Context) error {
	tasks := s.q.ToResolve.Drain()
	if len(tasks) == 0 {
		return nil
	}

	outcomes := make([]resolve.Outcome, len(tasks))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, t := range tasks {
		g.Go(func() error {
			outcomes[i] = s.resolveTask(t)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, t := range tasks {
		if err := s.apply(t, outcomes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) resolveTask(t queue.Task) resolve.Outcome {
	if t.IsDemand() {
		return resolve.Exact(s.store, t.Target)
	}
	it := s.store.Item(t.Owner)
	if it == nil || t.Ref >= len(it.Refs) {
		return resolve.Outcome{Kind: resolve.Unresolvable, Unit: t.Owner.Unit, Reason: fmt.Sprintf("no reference %d on %s", t.Ref, t.Owner)}
	}
	return resolve.Ref(s.store, it.Scope, it.Refs[t.Ref])
}

func (s *Scheduler) apply(t queue.Task, out resolve.Outcome) error {
	switch out.Kind {
	case resolve.Found:
		if !t.IsDemand() {
			s.mu.Lock()
			s.bindings[t] = out.Path
			s.mu.Unlock()
		}
		s.reach(out.Path)
		return nil

	case resolve.NeedsUnit:
		loaded := s.store.LoadedCount()
		if prev, ok := s.bounces[t]; ok && prev == loaded {
			return s.unresolved(t, model.Failure{Kind: model.PathUnresolvable, Reason: cycleReason})
		}
		s.bounces[t] = loaded
		s.q.ToLoad.Add(out.Unit)
		s.q.ToResolve.Add(t)
		return nil

	default:
		if s.store.PendingExpansions(out.Unit) > 0 || s.store.PendingExpansions(s.taskUnit(t)) > 0 {
			// An expansion may still define the name.
			s.q.ToResolve.Add(t)
			return nil
		}
		f := model.Failure{Kind: model.PathUnresolvable, Reason: out.Reason}
		if !out.Unit.IsZero() && s.store.UnitState(out.Unit) == model.UnitFailed {
			f = model.Failure{Kind: model.UnitLoadFailure, Reason: out.Reason, Cause: model.NewPath(out.Unit)}
		}
		return s.unresolved(t, f)
	}
}

func (s *Scheduler) taskUnit(t queue.Task) model.UnitID {
	if t.IsDemand() {
		return t.Target.Unit
	}
	return t.Owner.Unit
}

// unresolved records a task that will never bind. A demanded path fails
// itself; a reference fails under a placeholder path.
func (s *Scheduler) unresolved(t queue.Task, f model.Failure) error {
	if t.IsDemand() {
		return s.fail(t.Target, f)
	}
	owner := s.store.Item(t.Owner)
	if owner == nil {
		return nil
	}
	p := placeholderPath(s.store, owner, owner.Refs[t.Ref])
	s.mu.Lock()
	s.placeholders[t] = p
	s.mu.Unlock()
	return s.fail(p, f)
}

type itemLookup interface {
	Item(p model.Path) *model.Item
	Deps(id model.UnitID) map[string]model.UnitID
}

// placeholderPath names an unresolvable reference: the referencing module
// joined with the reference's segments, or the extern unit's root joined
// with the rest when the first segment names a dependency.
func placeholderPath(st itemLookup, owner *model.Item, ref model.Ref) model.Path {
	base := owner.Module
	segs := ref.Segments
	switch {
	case externHead(st, owner, ref):
		base = model.NewPath(st.Deps(owner.Path.Unit)[segs[0]])
		segs = segs[1:]
	case ref.Rooted:
		base = model.NewPath(owner.Path.Unit)
	case len(segs) > 0 && segs[0] == "crate":
		base = model.NewPath(owner.Path.Unit)
		segs = segs[1:]
	case len(segs) > 0 && segs[0] == "self":
		segs = segs[1:]
	}
	for len(segs) > 0 && segs[0] == "super" {
		if parent, ok := base.Parent(); ok {
			base = parent
		}
		segs = segs[1:]
	}
	p := base.Join(segs...)
	if st.Item(p) != nil {
		p = base.Join(append([]string{"{unresolved}"}, segs...)...)
	}
	return p
}

// externHead reports whether ref starts with an extern crate name that no
// local item shadows.
func externHead(st itemLookup, owner *model.Item, ref model.Ref) bool {
	if len(ref.Segments) < 2 {
		return false
	}
	if _, ok := st.Deps(owner.Path.Unit)[ref.Segments[0]]; !ok {
		return false
	}
	return ref.Rooted || st.Item(owner.Module.Join(ref.Segments[0])) == nil
}

// settle settles every Pending item whose hard references have settled,
// repeating until nothing changes.
func (s *Scheduler) settle() error {
	for {
		changed := false
		for _, p := range s.ledger.Pending() {
			done, err := s.settleOne(p)
			if err != nil {
				return err
			}
			changed = changed || done
		}
		if !changed {
			return nil
		}
	}
}

func (s *Scheduler) settleOne(p model.Path) (bool, error) {
	it := s.store.Item(p)
	if it == nil {
		return true, s.fail(p, model.Failure{Kind: model.PathUnresolvable, Reason: fmt.Sprintf("no item at %s", p)})
	}
	for _, i := range it.HardRefs() {
		task := queue.RefTask(p, i)
		if ph, ok := s.placeholders[task]; ok {
			return true, s.fail(p, model.Failure{
				Kind:   model.DependencyFailure,
				Reason: fmt.Sprintf("depends on unresolvable %s", it.Refs[i].Text()),
				Cause:  ph,
			})
		}
		target, ok := s.bindings[task]
		if !ok {
			return false, nil
		}
		e, ok := s.ledger.Get(target)
		if !ok || e.State == ledger.Pending {
			return false, nil
		}
		if e.State == ledger.Failed {
			return true, s.fail(p, model.Failure{
				Kind:   model.DependencyFailure,
				Reason: fmt.Sprintf("depends on failed %s", target),
				Cause:  target,
			})
		}
	}
	if s.cfg.Validate != nil {
		bound := func(ref int) (model.Path, bool) {
			t, ok := s.bindings[queue.RefTask(p, ref)]
			return t, ok
		}
		if f := s.cfg.Validate(it, bound); f != nil {
			return true, s.fail(p, *f)
		}
	}
	if err := s.ledger.Resolve(p, it); err != nil {
		return false, fmt.Errorf("scheduler: %w", err)
	}
	return true, nil
}

// breakCycles fails every item left Pending at a fixed point. Such items
// reach themselves through hard references.
func (s *Scheduler) breakCycles() error {
	if err := s.settle(); err != nil {
		return err
	}
	for _, p := range s.ledger.Pending() {
		if err := s.fail(p, model.Failure{Kind: model.PathUnresolvable, Reason: cycleReason}); err != nil {
			return err
		}
	}
	return nil
}
