package model

import "strings"

// Kind classifies an Item.
type Kind string

const (
	KindModule       Kind = "module"
	KindMacroDef     Kind = "macro_definition"
	KindMacroPending Kind = "macro_invocation"
	KindStruct       Kind = "struct"
	KindInterface    Kind = "interface"
	KindImpl         Kind = "impl"
	KindEnum         Kind = "enum"
	KindVariant      Kind = "variant"
	KindReexport     Kind = "reexport"
	KindPlaceholder  Kind = "placeholder"
	KindFunction     Kind = "function"
	KindTypeAlias    Kind = "type_alias"
	KindPrimitive    Kind = "primitive"
)

// IsType reports whether items of this kind can appear as the head of a type.
func (k Kind) IsType() bool {
	switch k {
	case KindStruct, KindEnum, KindTypeAlias, KindPrimitive, KindPlaceholder:
		return true
	}
	return false
}

// Visibility of an item relative to its unit.
type Visibility int

const (
	Private Visibility = iota
	Crate
	Public
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Crate:
		return "crate"
	default:
		return "private"
	}
}

// Strength says how a failed reference affects its owner. A Hard reference
// is part of the owner's identity (re-export target, alias target, impl
// interface and self type): its failure fails the owner. A Soft reference
// (field type, supertrait, signature) fails alone and the owner keeps a
// placeholder in its place.
type Strength int

const (
	Soft Strength = iota
	Hard
)

// Ref is a symbolic, not yet resolved reference held by an Item.
type Ref struct {
	Segments []string
	// Rooted marks a leading "::" (extern crate root).
	Rooted   bool
	Strength Strength
}

func (r Ref) Text() string {
	s := strings.Join(r.Segments, Sep)
	if r.Rooted {
		return Sep + s
	}
	return s
}

// TypeShape is the structural form of a TypeExpr.
type TypeShape int

const (
	TypeUnknown TypeShape = iota
	TypeNamed
	TypeRef
	TypePtr
	TypeTuple
	TypeArray
	TypeFn
	TypeParam
	TypeDyn
)

// TypeExpr is a type as written in source. Named types point at a Ref of the
// owning item; the binding lives in the scheduler.
type TypeExpr struct {
	Shape TypeShape
	// Ref indexes the owner's Refs when Shape is TypeNamed, -1 otherwise.
	Ref     int
	Args    []TypeExpr
	Mutable bool
	Text    string
}

// Field is a struct, variant, or parameter slot.
type Field struct {
	Name       string
	Type       TypeExpr
	Visibility Visibility
}

type Variant struct {
	Name   string
	Fields []Field
}

type Signature struct {
	Params []Field
	Result *TypeExpr
}

type Method struct {
	Name      string
	Signature Signature
}

// ImplInfo describes an impl block.
type ImplInfo struct {
	// Interface indexes Refs; -1 for an inherent impl.
	Interface int
	SelfType  TypeExpr
	Negative  bool
	Unsafe    bool
}

// Invocation is an unexpanded macro call.
type Invocation struct {
	Macro  []string
	Tokens string
	// Depth counts the expansions that produced this invocation.
	Depth int
}

// Item is one declaration in a unit.
type Item struct {
	Path       Path
	Kind       Kind
	Visibility Visibility
	// Module is the enclosing module, used with Scope to resolve Refs.
	Module Path
	Scope  *Scope

	Generics    []string
	Fields      []Field
	Variants    []Variant
	Methods     []Method
	Supertraits []int
	Signature   *Signature
	Impl        *ImplInfo
	// Target indexes Refs for a re-export or type alias; -1 otherwise.
	Target  int
	Aliased *TypeExpr
	Glob    bool
	// Body holds the macro_rules! source for a macro definition.
	Body       string
	Invocation *Invocation

	Refs []Ref

	File string
	Line int
	Docs string
}

// AddRef appends r and returns its index.
func (it *Item) AddRef(r Ref) int {
	it.Refs = append(it.Refs, r)
	return len(it.Refs) - 1
}

// HardRefs returns the indexes of hard references.
func (it *Item) HardRefs() []int {
	var out []int
	for i, r := range it.Refs {
		if r.Strength == Hard {
			out = append(out, i)
		}
	}
	return out
}
