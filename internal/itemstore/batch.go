package itemstore

import "github.com/jward/surface/internal/model"

type binding struct {
	scope *model.Scope
	name  string
	path  model.Path
}

// Batch buffers the output of one parallel worker (a unit load or a macro
// expansion) until the scheduler commits it at the round barrier. Lowering
// code never mutates a scope that is already in the store: bindings are
// recorded here and applied by Commit.
type Batch struct {
	Unit model.UnitID
	// Deps is set for unit loads and maps extern crate names to units.
	Deps map[string]model.UnitID
	// Load marks a whole-unit batch, as opposed to an expansion fragment.
	Load bool
	// Features and Cfg are the configuration the unit was lowered under.
	Features []string
	Cfg      []string
	// Failures are paths the lowering could not produce, such as a module
	// whose file is missing.
	Failures map[model.Path]model.Failure

	Items  []*model.Item
	Scopes []*model.Scope
	Files  []string

	names  []binding
	macros []binding
	globs  []binding
}

// NewBatch creates a batch for an expansion fragment in unit.
func NewBatch(unit model.UnitID) *Batch {
	return &Batch{Unit: unit}
}

// NewLoadBatch creates a batch for a whole unit.
func NewLoadBatch(unit model.UnitID, deps map[string]model.UnitID) *Batch {
	return &Batch{Unit: unit, Deps: deps, Load: true}
}

// Fail records a path that could not be lowered.
func (b *Batch) Fail(p model.Path, f model.Failure) {
	if b.Failures == nil {
		b.Failures = make(map[model.Path]model.Failure)
	}
	b.Failures[p] = f
}

func (b *Batch) AddItem(it *model.Item) {
	b.Items = append(b.Items, it)
}

// AddScope registers a new module scope, keyed by its module path.
func (b *Batch) AddScope(s *model.Scope) {
	b.Scopes = append(b.Scopes, s)
}

func (b *Batch) Define(s *model.Scope, name string, p model.Path) {
	b.names = append(b.names, binding{scope: s, name: name, path: p})
}

func (b *Batch) DefineMacro(s *model.Scope, name string, p model.Path) {
	b.macros = append(b.macros, binding{scope: s, name: name, path: p})
}

func (b *Batch) Glob(s *model.Scope, p model.Path) {
	b.globs = append(b.globs, binding{scope: s, path: p})
}

// Bindings returns the number of pending name bindings, for tests and logs.
func (b *Batch) Bindings() int {
	return len(b.names) + len(b.macros) + len(b.globs)
}
