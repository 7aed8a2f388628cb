package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/model"
	"github.com/jward/surface/internal/parse"
)

type loadResult struct {
	batch *itemstore.Batch
	err   error
}

// loadPhase locates and parses every queued unit in parallel, then commits
// the batches in queue order. A unit is loaded at most once; a repeated
// request is dropped.
func (s *Scheduler) loadPhase(ctx context.Context) error {
	var ids []model.UnitID
	for _, id := range s.q.ToLoad.Drain() {
		if s.store.UnitState(id) == model.UnitAbsent {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	results := make([]loadResult, len(ids))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = s.loadUnit(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, id := range ids {
		res := results[i]
		if res.err != nil {
			if err := s.unitFailed(id, res.err); err != nil {
				return err
			}
			continue
		}
		cr, err := s.store.Commit(res.batch)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		s.stats.UnitsLoaded++
		for _, inv := range cr.Invocations {
			s.q.ToExpand.Add(inv)
		}
		if err := s.commitFailures(res.batch); err != nil {
			return err
		}
		s.log.Debug("unit loaded", "unit", id.String(), "items", len(cr.Items), "invocations", len(cr.Invocations))
	}
	return nil
}

func (s *Scheduler) loadUnit(ctx context.Context, id model.UnitID) loadResult {
	src, err := s.locator.Locate(ctx, id)
	if err != nil {
		return loadResult{err: fmt.Errorf("locate: %w", err)}
	}
	b, err := parse.Unit(ctx, src)
	if err != nil {
		return loadResult{err: err}
	}
	return loadResult{batch: b}
}

func (s *Scheduler) unitFailed(id model.UnitID, cause error) error {
	f := model.Failure{Kind: model.UnitLoadFailure, Reason: cause.Error()}
	s.store.MarkFailed(id, f)
	s.stats.UnitsFailed++
	s.log.Warn("unit load failed", "unit", id.String(), "error", cause)
	return s.fail(model.NewPath(id), f)
}
