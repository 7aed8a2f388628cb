package itemstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jward/surface/internal/model"
)

// Unit is the committed content of one loaded unit.
type Unit struct {
	ID      model.UnitID
	State   model.UnitState
	Failure *model.Failure
	Deps    map[string]model.UnitID
	// Features and Cfg are kept so expansions lower under the same
	// configuration as the unit.
	Features []string
	Cfg      []string

	items  map[string]*model.Item
	scopes map[string]*model.Scope
	impls  []model.Path
	// pending counts unexpanded macro invocations.
	pending int
}

// Store holds every item of every loaded unit. Items are added only by
// Commit, which the scheduler calls serially at round barriers; reads from
// parallel workers happen between commits.
type Store struct {
	mu    sync.RWMutex
	units map[model.UnitID]*Unit
	order []model.UnitID
}

// CommitResult reports what a Commit added.
type CommitResult struct {
	Items       []*model.Item
	Invocations []model.Path
	// Duplicates are paths defined more than once. The first definition wins.
	Duplicates []model.Path
	// Children maps a module to the paths newly bound in its scope.
	Children map[model.Path][]model.Path
}

// New creates a store containing only the builtin unit.
func New() *Store {
	s := &Store{units: make(map[model.UnitID]*Unit)}
	s.seedBuiltin()
	return s
}

func (s *Store) seedBuiltin() {
	b := NewLoadBatch(model.BuiltinUnit, nil)
	rootPath := model.NewPath(model.BuiltinUnit)
	root := model.NewScope(rootPath, nil)
	b.AddScope(root)
	b.AddItem(&model.Item{Path: rootPath, Kind: model.KindModule, Visibility: model.Public, Module: rootPath, Scope: root, Target: -1})

	for _, name := range model.Primitives {
		p := rootPath.Join(name)
		b.AddItem(&model.Item{Path: p, Kind: model.KindPrimitive, Visibility: model.Public, Module: rootPath, Scope: root, Target: -1})
		b.Define(root, name, p)
	}

	mods := make(map[string]*model.Scope)
	for _, d := range model.BuiltinDecls {
		modPath := rootPath.Join(d.Module)
		ms, ok := mods[d.Module]
		if !ok {
			ms = model.NewScope(modPath, nil)
			mods[d.Module] = ms
			b.AddScope(ms)
			b.AddItem(&model.Item{Path: modPath, Kind: model.KindModule, Visibility: model.Public, Module: rootPath, Scope: ms, Target: -1})
			b.Define(root, d.Module, modPath)
		}
		p := modPath.Join(d.Name)
		it := &model.Item{Path: p, Kind: d.Kind, Visibility: model.Public, Module: modPath, Scope: ms, Target: -1}
		for _, v := range d.Variants {
			it.Variants = append(it.Variants, model.Variant{Name: v})
			b.AddItem(&model.Item{Path: p.Join(v), Kind: model.KindVariant, Visibility: model.Public, Module: modPath, Scope: ms, Target: -1})
		}
		b.AddItem(it)
		b.Define(ms, d.Name, p)
	}
	if _, err := s.Commit(b); err != nil {
		panic(fmt.Sprintf("itemstore: seed builtin unit: %v", err))
	}
}

// Commit applies a batch. A load batch registers its unit; an expansion
// batch requires the unit to be loaded already.
func (s *Store) Commit(b *Batch) (*CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.units[b.Unit]
	if b.Load {
		if u != nil && u.State != model.UnitAbsent {
			return nil, fmt.Errorf("commit %s: unit already committed", b.Unit)
		}
		u = &Unit{
			ID:       b.Unit,
			State:    model.UnitLoaded,
			Deps:     b.Deps,
			Features: b.Features,
			Cfg:      b.Cfg,
			items:    make(map[string]*model.Item),
			scopes:   make(map[string]*model.Scope),
		}
		s.units[b.Unit] = u
		s.order = append(s.order, b.Unit)
	} else if u == nil || u.State != model.UnitLoaded {
		return nil, fmt.Errorf("commit %s: unit not loaded", b.Unit)
	}

	res := &CommitResult{Children: make(map[model.Path][]model.Path)}
	for _, sc := range b.Scopes {
		if _, ok := u.scopes[sc.Module.Name]; !ok {
			u.scopes[sc.Module.Name] = sc
		}
	}
	// Definitions commit before imports, so a use declaration never
	// displaces an item defined in the same module.
	imports := make(map[model.Path]bool)
	dropped := make(map[model.Path]bool)
	for _, pass := range []bool{false, true} {
		for _, it := range b.Items {
			if (it.Kind == model.KindReexport) != pass {
				continue
			}
			if pass {
				imports[it.Path] = true
			}
			if _, ok := u.items[it.Path.Name]; ok {
				res.Duplicates = append(res.Duplicates, it.Path)
				dropped[it.Path] = true
				continue
			}
			u.items[it.Path.Name] = it
			res.Items = append(res.Items, it)
			switch it.Kind {
			case model.KindImpl:
				u.impls = append(u.impls, it.Path)
			case model.KindMacroPending:
				u.pending++
				res.Invocations = append(res.Invocations, it.Path)
			}
		}
	}
	for _, pass := range []bool{false, true} {
		for _, d := range b.names {
			if imports[d.path] != pass {
				continue
			}
			if dropped[d.path] && imports[d.path] {
				continue
			}
			if d.scope.Define(d.name, d.path) {
				res.Children[d.scope.Module] = append(res.Children[d.scope.Module], d.path)
			}
		}
	}
	for _, d := range b.macros {
		d.scope.DefineMacro(d.name, d.path)
	}
	for _, d := range b.globs {
		d.scope.AddGlob(d.path)
		res.Children[d.scope.Module] = append(res.Children[d.scope.Module], d.path)
	}
	return res, nil
}

// MarkFailed records that unit could not be loaded.
func (s *Store) MarkFailed(id model.UnitID, f model.Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.units[id]; ok && u.State == model.UnitLoaded {
		return
	}
	s.units[id] = &Unit{ID: id, State: model.UnitFailed, Failure: &f}
	s.order = append(s.order, id)
}

// Expanded records that an invocation has been settled, either way.
func (s *Store) Expanded(inv model.Path) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.units[inv.Unit]; ok && u.pending > 0 {
		u.pending--
	}
}

// PendingExpansions returns the number of unexpanded invocations in unit.
func (s *Store) PendingExpansions(id model.UnitID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.units[id]; ok {
		return u.pending
	}
	return 0
}

func (s *Store) UnitState(id model.UnitID) model.UnitState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.units[id]; ok {
		return u.State
	}
	return model.UnitAbsent
}

// UnitFailure returns the load failure of a failed unit.
func (s *Store) UnitFailure(id model.UnitID) (model.Failure, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.units[id]; ok && u.Failure != nil {
		return *u.Failure, true
	}
	return model.Failure{}, false
}

func (s *Store) Deps(id model.UnitID) map[string]model.UnitID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.units[id]; ok {
		return u.Deps
	}
	return nil
}

// Config returns the features and cfg flags a unit was loaded with.
func (s *Store) Config(id model.UnitID) (features, cfg []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.units[id]; ok {
		return u.Features, u.Cfg
	}
	return nil, nil
}

// Item returns the item at p, or nil.
func (s *Store) Item(p model.Path) *model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.units[p.Unit]; ok && u.items != nil {
		return u.items[p.Name]
	}
	return nil
}

// ModuleScope returns the scope of the module at p, or nil.
func (s *Store) ModuleScope(p model.Path) *model.Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.units[p.Unit]; ok && u.scopes != nil {
		return u.scopes[p.Name]
	}
	return nil
}

// PublicChildren returns the public items a module binds: its names, its
// exported macros and its globs. Names come sorted, globs in declaration
// order after them.
func (s *Store) PublicChildren(mod model.Path) []model.Path {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[mod.Unit]
	if !ok || u.scopes == nil {
		return nil
	}
	sc := u.scopes[mod.Name]
	if sc == nil {
		return nil
	}
	public := func(p model.Path) bool {
		it := u.items[p.Name]
		return p.Unit == mod.Unit && it != nil && it.Visibility == model.Public && it.Module == mod
	}
	var out []model.Path
	for _, p := range sc.Names {
		if public(p) {
			out = append(out, p)
		}
	}
	for _, p := range sc.Macros {
		if public(p) {
			out = append(out, p)
		}
	}
	model.SortPaths(out)
	for _, p := range sc.Globs {
		if public(p) {
			out = append(out, p)
		}
	}
	return out
}

// Units returns loaded and failed units in commit order.
func (s *Store) Units() []*Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Unit, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.units[id])
	}
	return out
}

// LoadedCount returns the number of units that are loaded or failed.
func (s *Store) LoadedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Impls returns the impl items of unit in declaration order.
func (s *Store) Impls(id model.UnitID) []*model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return nil
	}
	out := make([]*model.Item, 0, len(u.impls))
	for _, p := range u.impls {
		out = append(out, u.items[p.Name])
	}
	return out
}

// Dependents returns the loaded units that depend on id, directly or
// transitively, sorted. Every unit depends on the builtin unit.
func (s *Store) Dependents(id model.UnitID) []model.UnitID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reached := map[model.UnitID]bool{id: true}
	changed := true
	for changed {
		changed = false
		for _, uid := range s.order {
			u := s.units[uid]
			if reached[uid] || u.State != model.UnitLoaded {
				continue
			}
			if id == model.BuiltinUnit {
				reached[uid] = true
				changed = true
				continue
			}
			for _, dep := range u.Deps {
				if reached[dep] {
					reached[uid] = true
					changed = true
					break
				}
			}
		}
	}
	delete(reached, id)
	out := make([]model.UnitID, 0, len(reached))
	for uid := range reached {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
