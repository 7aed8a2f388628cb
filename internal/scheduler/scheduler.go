// Package scheduler drives a resolution session to a fixed point.
//
// Each round drains three queues in order, with a barrier between phases:
//
//	Load:    locate and parse requested units, commit them to the item store.
//	Expand:  run the expansion oracle on pending invocations, commit output.
//	Resolve: bind queued references, demand newly reached items.
//
// Inside a phase the work runs on a bounded worker pool and only reads the
// store; every write happens serially once the workers are done. The
// session ends when all three queues are empty after a round.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/jward/surface/internal/expand"
	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/ledger"
	"github.com/jward/surface/internal/locate"
	"github.com/jward/surface/internal/model"
	"github.com/jward/surface/internal/queue"
)

const (
	DefaultExpandTimeout     = 5 * time.Second
	DefaultMaxExpansionDepth = 64
	DefaultMaxRounds         = 10000
)

// Validator checks an item whose hard references all resolved. A non-nil
// failure settles the item as Failed instead of Resolved. target returns
// the path hard reference ref was bound to.
type Validator func(it *model.Item, target func(ref int) (model.Path, bool)) *model.Failure

// Config holds scheduler settings. Zero values select defaults.
type Config struct {
	Workers           int
	ExpandTimeout     time.Duration
	MaxExpansionDepth int
	MaxRounds         int
	Logger            *slog.Logger
	Validate          Validator
}

// Stats summarizes a session so far.
type Stats struct {
	Rounds            int
	UnitsLoaded       int
	UnitsFailed       int
	Expansions        int
	ExpansionFailures int
	Pending           int
	Resolved          int
	Failed            int
	// RoundLimit is set when MaxRounds stopped the session early.
	RoundLimit bool
}

type Scheduler struct {
	cfg     Config
	store   *itemstore.Store
	ledger  *ledger.Ledger
	locator locate.Locator
	oracle  expand.Oracle
	log     *slog.Logger
	q       *queue.Queues

	mu           sync.RWMutex
	bindings     map[queue.Task]model.Path
	placeholders map[queue.Task]model.Path
	// bounces holds the loaded-unit count seen when a task last needed a unit.
	bounces map[queue.Task]int
	// modules are the modules whose public children are demanded.
	modules map[model.Path]bool

	stats Stats
}

// New creates a scheduler over store and ledger. A nil oracle fails every
// expansion.
func New(store *itemstore.Store, l *ledger.Ledger, loc locate.Locator, oracle expand.Oracle, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.ExpandTimeout == 0 {
		cfg.ExpandTimeout = DefaultExpandTimeout
	}
	if cfg.MaxExpansionDepth <= 0 {
		cfg.MaxExpansionDepth = DefaultMaxExpansionDepth
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if oracle == nil {
		oracle = expand.Chain{}
	}
	if loc == nil {
		loc = locate.NewMapLocator()
	}
	return &Scheduler{
		cfg:          cfg,
		store:        store,
		ledger:       l,
		locator:      loc,
		oracle:       expand.WithTimeout(oracle, cfg.ExpandTimeout),
		log:          cfg.Logger,
		q:            queue.New(),
		bindings:     make(map[queue.Task]model.Path),
		placeholders: make(map[queue.Task]model.Path),
		bounces:      make(map[queue.Task]int),
		modules:      make(map[model.Path]bool),
	}
}

// Seed queues the units of roots for loading and demands each root path.
func (s *Scheduler) Seed(roots ...model.Path) {
	for _, p := range roots {
		if s.store.UnitState(p.Unit) == model.UnitAbsent {
			s.q.ToLoad.Add(p.Unit)
		}
		s.q.ToResolve.Add(queue.DemandTask(model.Path{}, p))
	}
}

// Demand queues items to be resolved by the next Run.
func (s *Scheduler) Demand(paths ...model.Path) {
	for _, p := range paths {
		if s.ledger.Has(p) {
			continue
		}
		s.q.ToResolve.Add(queue.DemandTask(model.Path{}, p))
	}
}

// Run drains the queues until a fixed point. Items still Pending at that
// point depend on themselves through hard references and are failed as a
// dependency cycle. Run may be called again after further Demand calls.
//
// The returned error is non-nil only for context cancellation, checked at
// round boundaries, and for ledger invariant violations.
func (s *Scheduler) Run(ctx context.Context) (Stats, error) {
	start := s.stats.Rounds
	for !s.q.Empty() {
		if err := ctx.Err(); err != nil {
			return s.snapshot(), err
		}
		if s.stats.Rounds-start >= s.cfg.MaxRounds {
			s.log.Warn("round limit reached", "rounds", s.cfg.MaxRounds)
			s.stats.RoundLimit = true
			s.q = queue.New()
			break
		}
		s.stats.Rounds++
		s.log.Debug("round",
			"n", s.stats.Rounds,
			"to_load", s.q.ToLoad.Len(),
			"to_expand", s.q.ToExpand.Len(),
			"to_resolve", s.q.ToResolve.Len(),
		)

		if err := s.loadPhase(ctx); err != nil {
			return s.snapshot(), err
		}
		if err := s.expandPhase(ctx); err != nil {
			return s.snapshot(), err
		}
		if err := s.resolvePhase(ctx); err != nil {
			return s.snapshot(), err
		}
		if err := s.settle(); err != nil {
			return s.snapshot(), err
		}
	}
	if err := s.breakCycles(); err != nil {
		return s.snapshot(), err
	}

	st := s.snapshot()
	s.log.Info("fixed point",
		"rounds", st.Rounds,
		"units", st.UnitsLoaded,
		"resolved", st.Resolved,
		"failed", st.Failed,
	)
	return st, nil
}

// Stats returns the session statistics so far, including rounds run by
// later Run calls.
func (s *Scheduler) Stats() Stats {
	return s.snapshot()
}

func (s *Scheduler) snapshot() Stats {
	st := s.stats
	st.Pending, st.Resolved, st.Failed = s.ledger.Counts()
	return st
}

// Target returns the path reference ref of owner was bound to.
func (s *Scheduler) Target(owner model.Path, ref int) (model.Path, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.bindings[queue.RefTask(owner, ref)]
	return p, ok
}

// Placeholder returns the path under which an unresolvable reference was
// recorded.
func (s *Scheduler) Placeholder(owner model.Path, ref int) (model.Path, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.placeholders[queue.RefTask(owner, ref)]
	return p, ok
}

// Store and Ledger expose the session state for later passes.
func (s *Scheduler) Store() *itemstore.Store { return s.store }

func (s *Scheduler) Ledger() *ledger.Ledger { return s.ledger }

// fail settles p as Failed unless it is already settled.
func (s *Scheduler) fail(p model.Path, f model.Failure) error {
	if s.ledger.Settled(p) {
		return nil
	}
	if err := s.ledger.Fail(p, f); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// reach claims p and queues its references. A module also demands its
// public children.
func (s *Scheduler) reach(p model.Path) {
	if !s.ledger.Claim(p) {
		return
	}
	it := s.store.Item(p)
	if it == nil {
		return
	}
	for i := range it.Refs {
		s.q.ToResolve.Add(queue.RefTask(p, i))
	}
	if it.Kind == model.KindModule {
		s.modules[p] = true
		s.demandChildren(p, s.store.PublicChildren(p))
	}
}

func (s *Scheduler) demandChildren(mod model.Path, children []model.Path) {
	for _, c := range children {
		it := s.store.Item(c)
		if it == nil || it.Visibility != model.Public || it.Module != mod {
			continue
		}
		if s.ledger.Has(c) {
			continue
		}
		s.q.ToResolve.Add(queue.DemandTask(mod, c))
	}
}

// commitFailures records the failures a lowering batch collected.
func (s *Scheduler) commitFailures(b *itemstore.Batch) error {
	paths := make([]model.Path, 0, len(b.Failures))
	for p := range b.Failures {
		paths = append(paths, p)
	}
	model.SortPaths(paths)
	for _, p := range paths {
		if err := s.fail(p, b.Failures[p]); err != nil {
			return err
		}
	}
	return nil
}
