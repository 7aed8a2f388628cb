// Package resolve maps symbolic paths to absolute item paths against the
// items loaded so far. Resolution is pure: it reads the forest and never
// changes it, so parallel workers may call it freely between commits.
package resolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jward/surface/internal/model"
)

// MaxImportDepth bounds how many import items one lookup may follow.
const MaxImportDepth = 64

// Forest is the read side of the item store.
type Forest interface {
	UnitState(id model.UnitID) model.UnitState
	Item(p model.Path) *model.Item
	ModuleScope(p model.Path) *model.Scope
	Deps(id model.UnitID) map[string]model.UnitID
}

type Kind int

const (
	Found Kind = iota
	NeedsUnit
	Unresolvable
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case NeedsUnit:
		return "needs_unit"
	default:
		return "unresolvable"
	}
}

// Outcome is the result of one resolution.
//
// For NeedsUnit, Unit is the unit to load. For Unresolvable, Unit is where
// the lookup gave up; the scheduler retries while that unit still has
// unexpanded macros.
type Outcome struct {
	Kind   Kind
	Path   model.Path
	Unit   model.UnitID
	Reason string
}

func found(p model.Path) Outcome { return Outcome{Kind: Found, Path: p, Unit: p.Unit} }

func needs(u model.UnitID) Outcome { return Outcome{Kind: NeedsUnit, Unit: u} }

func unresolvable(u model.UnitID, format string, args ...any) Outcome {
	return Outcome{Kind: Unresolvable, Unit: u, Reason: fmt.Sprintf(format, args...)}
}

type globKey struct {
	module model.Path
	name   string
}

type resolver struct {
	f      Forest
	origin model.UnitID
	active map[model.Path]bool
	// searching guards glob lookups that reach themselves through
	// mutually glob-importing modules.
	searching map[globKey]bool
	depth     int
}

func newResolver(f Forest, origin model.UnitID) *resolver {
	return &resolver{
		f:         f,
		origin:    origin,
		active:    make(map[model.Path]bool),
		searching: make(map[globKey]bool),
	}
}

// Ref resolves a reference held by an item, in scope s.
func Ref(f Forest, s *model.Scope, ref model.Ref) Outcome {
	r := newResolver(f, s.Module.Unit)
	return r.path(s, ref.Segments, ref.Rooted)
}

// Exact checks that an item exists at p without following a final import.
// Intermediate segments are walked so that a path into a re-exported
// module still reports the unit it needs.
func Exact(f Forest, p model.Path) Outcome {
	r := newResolver(f, p.Unit)
	switch f.UnitState(p.Unit) {
	case model.UnitAbsent:
		return needs(p.Unit)
	case model.UnitFailed:
		return unresolvable(p.Unit, "unit %s failed to load", p.Unit)
	}
	if f.Item(p) != nil {
		return found(p)
	}
	segs := p.Segments()
	if len(segs) == 0 {
		return unresolvable(p.Unit, "unit %s has no root module", p.Unit)
	}
	cur := model.NewPath(p.Unit)
	for i, seg := range segs {
		last := i == len(segs)-1
		out := r.member(cur, seg, !last)
		if out.Kind != Found {
			return out
		}
		cur = out.Path
	}
	return found(cur)
}

// Glob resolves the module a glob import item points at.
func Glob(f Forest, glob *model.Item) Outcome {
	r := newResolver(f, glob.Path.Unit)
	return r.importTarget(glob)
}

func (r *resolver) path(s *model.Scope, segs []string, rooted bool) Outcome {
	unit := s.Module.Unit
	if len(segs) == 0 {
		return unresolvable(unit, "empty path")
	}
	var cur model.Path
	rest := segs[1:]
	switch {
	case rooted:
		dep, ok := r.extern(unit, segs[0])
		if !ok {
			return unresolvable(unit, "unknown extern crate %q", segs[0])
		}
		cur = model.NewPath(dep)
	case segs[0] == "crate":
		cur = model.NewPath(unit)
	case segs[0] == "self":
		cur = s.Module
	case segs[0] == "super":
		cur = s.Module
		rest = segs
		for len(rest) > 0 && rest[0] == "super" {
			parent, ok := cur.Parent()
			if !ok {
				return unresolvable(unit, "%q reaches above the unit root", strings.Join(segs, model.Sep))
			}
			cur = parent
			rest = rest[1:]
		}
	default:
		out := r.lookup(s, segs[0])
		if out.Kind != Found {
			return out
		}
		cur = out.Path
	}
	for _, seg := range rest {
		out := r.member(cur, seg, true)
		if out.Kind != Found {
			return out
		}
		cur = out.Path
	}
	return r.exists(cur)
}

func (r *resolver) exists(p model.Path) Outcome {
	switch r.f.UnitState(p.Unit) {
	case model.UnitAbsent:
		return needs(p.Unit)
	case model.UnitFailed:
		return unresolvable(p.Unit, "unit %s failed to load", p.Unit)
	}
	if r.f.Item(p) == nil {
		return unresolvable(p.Unit, "no item at %s", p)
	}
	return found(p)
}

// lookup resolves a leading identifier: local and parent names, then globs,
// then extern crates, then the prelude.
func (r *resolver) lookup(s *model.Scope, name string) Outcome {
	for sc := s; sc != nil; sc = sc.Parent {
		if p, ok := sc.Names[name]; ok {
			return r.follow(p)
		}
	}
	for sc := s; sc != nil; sc = sc.Parent {
		out, ok := r.globs(sc, name)
		if ok {
			return out
		}
	}
	if dep, ok := r.extern(s.Module.Unit, name); ok {
		return found(model.NewPath(dep))
	}
	if p, ok := model.Prelude(name); ok {
		return found(p)
	}
	return unresolvable(s.Module.Unit, "unresolved name %q in %s", name, s.Module)
}

// globs looks name up through the glob imports of one scope. ok is false
// when no glob provides the name.
func (r *resolver) globs(sc *model.Scope, name string) (Outcome, bool) {
	key := globKey{module: sc.Module, name: name}
	if r.searching[key] {
		return Outcome{}, false
	}
	r.searching[key] = true
	defer delete(r.searching, key)

	foreign := sc.Module.Unit != r.origin
	var hits []model.Path
	for _, g := range sc.Globs {
		it := r.f.Item(g)
		if it == nil || (foreign && it.Visibility != model.Public) {
			continue
		}
		target := r.importTarget(it)
		if target.Kind == NeedsUnit {
			return target, true
		}
		if target.Kind != Found {
			continue
		}
		out := r.member(target.Path, name, true)
		switch out.Kind {
		case NeedsUnit:
			return out, true
		case Found:
			dup := false
			for _, h := range hits {
				if h == out.Path {
					dup = true
					break
				}
			}
			if !dup {
				hits = append(hits, out.Path)
			}
		}
	}
	switch len(hits) {
	case 0:
		return Outcome{}, false
	case 1:
		return found(hits[0]), true
	default:
		names := make([]string, len(hits))
		for i, h := range hits {
			names[i] = h.String()
		}
		sort.Strings(names)
		return unresolvable(sc.Module.Unit, "ambiguous glob import of %q: %s", name, strings.Join(names, ", ")), true
	}
}

// member resolves seg inside the module or enum at cur. When follow is set
// an import item found there is followed to its definition.
func (r *resolver) member(cur model.Path, seg string, follow bool) Outcome {
	switch r.f.UnitState(cur.Unit) {
	case model.UnitAbsent:
		return needs(cur.Unit)
	case model.UnitFailed:
		return unresolvable(cur.Unit, "unit %s failed to load", cur.Unit)
	}
	it := r.f.Item(cur)
	if it == nil {
		return unresolvable(cur.Unit, "no item at %s", cur)
	}
	switch it.Kind {
	case model.KindModule:
		sc := r.f.ModuleScope(cur)
		if sc == nil {
			return unresolvable(cur.Unit, "module %s has no scope", cur)
		}
		if p, ok := sc.Names[seg]; ok {
			if !r.visible(p) {
				return unresolvable(cur.Unit, "%q is private to %s", seg, cur.Unit)
			}
			if !follow {
				return found(p)
			}
			return r.follow(p)
		}
		if out, ok := r.globs(sc, seg); ok {
			if out.Kind == Found && !r.visible(out.Path) {
				return unresolvable(cur.Unit, "%q is private to %s", seg, cur.Unit)
			}
			return out
		}
		return unresolvable(cur.Unit, "%q not found in %s", seg, cur)
	case model.KindEnum:
		for _, v := range it.Variants {
			if v.Name == seg {
				return r.exists(cur.Join(seg))
			}
		}
		return unresolvable(cur.Unit, "enum %s has no variant %q", cur, seg)
	default:
		return unresolvable(cur.Unit, "%s is a %s and has no members", cur, it.Kind)
	}
}

// visible reports whether p may be named from the origin unit.
func (r *resolver) visible(p model.Path) bool {
	if p.Unit == r.origin {
		return true
	}
	it := r.f.Item(p)
	return it == nil || it.Visibility == model.Public
}

// follow resolves through import items to the definition they name.
func (r *resolver) follow(p model.Path) Outcome {
	it := r.f.Item(p)
	if it == nil {
		return r.exists(p)
	}
	if it.Kind != model.KindReexport {
		return found(p)
	}
	return r.importTarget(it)
}

func (r *resolver) importTarget(it *model.Item) Outcome {
	if it.Target < 0 || it.Target >= len(it.Refs) {
		return unresolvable(it.Path.Unit, "import %s has no target", it.Path)
	}
	if r.active[it.Path] {
		return unresolvable(it.Path.Unit, "dependency cycle through %s", it.Path)
	}
	if r.depth >= MaxImportDepth {
		return unresolvable(it.Path.Unit, "import chain deeper than %d at %s", MaxImportDepth, it.Path)
	}
	r.active[it.Path] = true
	r.depth++
	defer func() {
		delete(r.active, it.Path)
		r.depth--
	}()

	ref := it.Refs[it.Target]
	origin := r.origin
	r.origin = it.Path.Unit
	defer func() { r.origin = origin }()
	return r.path(it.Scope, ref.Segments, ref.Rooted)
}

func (r *resolver) extern(unit model.UnitID, name string) (model.UnitID, bool) {
	if dep, ok := r.f.Deps(unit)[name]; ok {
		return dep, true
	}
	if model.StdAliases[name] {
		return model.BuiltinUnit, true
	}
	return model.UnitID{}, false
}
