package model

// Scope maps identifiers visible at one point to absolute paths.
//
// Names is exclusive: an identifier binds to at most one Path. Use
// declarations bind the identifier to the import item itself, which the
// resolver follows. Globs lists glob import items in declaration order.
type Scope struct {
	Module Path
	Parent *Scope
	Names  map[string]Path
	Macros map[string]Path
	Globs  []Path
}

func NewScope(module Path, parent *Scope) *Scope {
	return &Scope{
		Module: module,
		Parent: parent,
		Names:  make(map[string]Path),
		Macros: make(map[string]Path),
	}
}

// Define binds name to p. It reports false when name is already bound.
func (s *Scope) Define(name string, p Path) bool {
	if _, ok := s.Names[name]; ok {
		return false
	}
	s.Names[name] = p
	return true
}

// DefineMacro binds a macro name. Later definitions shadow earlier ones.
func (s *Scope) DefineMacro(name string, p Path) {
	s.Macros[name] = p
}

// AddGlob records a glob import item.
func (s *Scope) AddGlob(p Path) {
	s.Globs = append(s.Globs, p)
}

// LookupMacro walks the parent chain.
func (s *Scope) LookupMacro(name string) (Path, bool) {
	for sc := s; sc != nil; sc = sc.Parent {
		if p, ok := sc.Macros[name]; ok {
			return p, true
		}
	}
	return Path{}, false
}

// UnitState is the load state of a unit in the item store.
type UnitState int

const (
	UnitAbsent UnitState = iota
	UnitLoaded
	UnitFailed
)
