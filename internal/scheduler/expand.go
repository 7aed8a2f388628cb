package scheduler

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jward/surface/internal/expand"
	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/model"
	"github.com/jward/surface/internal/parse"
	"github.com/jward/surface/internal/resolve"
)

type expandResult struct {
	batch *itemstore.Batch
	err   error
}

// expandPhase runs the oracle on every queued invocation in parallel and
// commits the lowered output serially. A failed expansion fails the
// invocation's path and is never retried.
func (s *Scheduler) expandPhase(ctx context.Context) error {
	invs := s.q.ToExpand.Drain()
	if len(invs) == 0 {
		return nil
	}

	results := make([]expandResult, len(invs))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, inv := range invs {
		g.Go(func() error {
			results[i] = s.expandOne(ctx, inv)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, inv := range invs {
		res := results[i]
		s.store.Expanded(inv)
		if res.err != nil {
			s.stats.ExpansionFailures++
			s.log.Warn("expansion failed", "invocation", inv.String(), "error", res.err)
			f := model.Failure{Kind: model.ExpansionFailure, Reason: res.err.Error()}
			if err := s.fail(inv, f); err != nil {
				return err
			}
			continue
		}
		cr, err := s.store.Commit(res.batch)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		s.stats.Expansions++
		for _, next := range cr.Invocations {
			s.q.ToExpand.Add(next)
		}
		s.demandNewChildren(cr)
		if err := s.commitFailures(res.batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) expandOne(ctx context.Context, inv model.Path) expandResult {
	it := s.store.Item(inv)
	if it == nil || it.Invocation == nil {
		return expandResult{err: fmt.Errorf("no invocation at %s", inv)}
	}
	call := it.Invocation
	if call.Depth >= s.cfg.MaxExpansionDepth {
		return expandResult{err: fmt.Errorf("recursion limit of %d reached", s.cfg.MaxExpansionDepth)}
	}
	if len(call.Macro) == 0 {
		return expandResult{err: fmt.Errorf("invocation %s names no macro", inv)}
	}

	name := call.Macro[len(call.Macro)-1]
	exp, err := s.oracle.Expand(ctx, expand.Request{
		Path:       inv,
		Module:     it.Module,
		Macro:      name,
		MacroPath:  call.Macro,
		Tokens:     call.Tokens,
		Definition: s.macroDefinition(it),
		Depth:      call.Depth,
	})
	if err != nil {
		return expandResult{err: err}
	}

	features, cfg := s.store.Config(inv.Unit)
	b, err := parse.Fragment(ctx, parse.FragmentInput{
		Unit:     inv.Unit,
		Module:   it.Module,
		Scope:    it.Scope,
		Code:     exp.Source,
		Depth:    call.Depth + 1,
		Tag:      "@" + strings.Trim(inv.Last(), "{}"),
		Features: features,
		Cfg:      cfg,
		Origin:   inv.String(),
	})
	if err != nil {
		return expandResult{err: err}
	}
	return expandResult{batch: b}
}

// demandNewChildren demands what an expansion added to modules that are
// already part of the public surface.
func (s *Scheduler) demandNewChildren(cr *itemstore.CommitResult) {
	mods := make([]model.Path, 0, len(cr.Children))
	for mod := range cr.Children {
		if s.modules[mod] {
			mods = append(mods, mod)
		}
	}
	model.SortPaths(mods)
	for _, mod := range mods {
		s.demandChildren(mod, cr.Children[mod])
	}
}

// macroDefinition returns the macro_rules! source an invocation names, if
// it is defined in a loaded unit.
func (s *Scheduler) macroDefinition(it *model.Item) string {
	segs := it.Invocation.Macro
	var def model.Path
	if len(segs) == 1 {
		p, ok := it.Scope.LookupMacro(segs[0])
		if !ok {
			return ""
		}
		def = p
	} else {
		ref := model.Ref{Segments: append(append([]string(nil), segs[:len(segs)-1]...), segs[len(segs)-1]+"!")}
		out := resolve.Ref(s.store, it.Scope, ref)
		if out.Kind != resolve.Found {
			return ""
		}
		def = out.Path
	}
	if d := s.store.Item(def); d != nil {
		return d.Body
	}
	return ""
}
