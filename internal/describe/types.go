package describe

import (
	"github.com/jward/surface/internal/impls"
	"github.com/jward/surface/internal/ledger"
	"github.com/jward/surface/internal/model"
)

// KindSafety marks a diagnostic raised by the safety oracle.
const KindSafety = "safety"

// APIDescription is the reachable public surface of one session. Paths are
// rendered as "unit@version::a::b".
type APIDescription struct {
	Roots           []string          `json:"roots"`
	Units           []Unit            `json:"units"`
	Items           []*Item           `json:"items"`
	Implementations []*Implementation `json:"implementations"`
}

// Item returns the described item at path, or nil.
func (d *APIDescription) Item(path string) *Item {
	for _, it := range d.Items {
		if it.Path == path {
			return it
		}
	}
	return nil
}

// ImplementationsOf returns the impls whose interface or type is path.
func (d *APIDescription) ImplementationsOf(path string) []*Implementation {
	var out []*Implementation
	for _, im := range d.Implementations {
		if im.Interface == path || im.Type == path {
			out = append(out, im)
		}
	}
	return out
}

type Unit struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	State       string   `json:"state"`
	Features    []string `json:"features,omitempty"`
	Failure     string   `json:"failure,omitempty"`
}

type Item struct {
	Path        string     `json:"path"`
	Kind        string     `json:"kind"`
	Visibility  string     `json:"visibility"`
	Docs        string     `json:"docs,omitempty"`
	Generics    []string   `json:"generics,omitempty"`
	Fields      []Field    `json:"fields,omitempty"`
	Variants    []Variant  `json:"variants,omitempty"`
	Methods     []Function `json:"methods,omitempty"`
	Supertraits []Type     `json:"supertraits,omitempty"`
	Signature   *Signature `json:"signature,omitempty"`
	// Target is the followed path of a re-export.
	Target  *Type   `json:"target,omitempty"`
	Aliased *Type   `json:"aliased,omitempty"`
	Glob    bool    `json:"glob,omitempty"`
	Safety  *Safety `json:"safety,omitempty"`
	File    string  `json:"file,omitempty"`
	Line    int     `json:"line,omitempty"`
}

// Type is a type expression. Path is set for named types: the bound target,
// or the placeholder path when the name did not resolve.
type Type struct {
	Text     string `json:"text"`
	Shape    string `json:"shape"`
	Path     string `json:"path,omitempty"`
	Resolved bool   `json:"resolved,omitempty"`
	Mutable  bool   `json:"mutable,omitempty"`
	Args     []Type `json:"args,omitempty"`
}

type Field struct {
	Name       string `json:"name"`
	Type       Type   `json:"type"`
	Visibility string `json:"visibility,omitempty"`
}

type Variant struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields,omitempty"`
}

type Signature struct {
	Params []Field `json:"params"`
	Result *Type   `json:"result,omitempty"`
}

type Function struct {
	Name      string    `json:"name"`
	Signature Signature `json:"signature"`
}

// Implementation is one impl that passed the locality rule.
type Implementation struct {
	Impl           string     `json:"impl"`
	Interface      string     `json:"interface,omitempty"`
	Type           string     `json:"type,omitempty"`
	SelfType       Type       `json:"self_type"`
	Unit           string     `json:"unit"`
	InterfaceLocal bool       `json:"interface_local"`
	TypeLocal      bool       `json:"type_local"`
	Negative       bool       `json:"negative,omitempty"`
	Unsafe         bool       `json:"unsafe,omitempty"`
	Methods        []Function `json:"methods,omitempty"`
}

// Safety holds "true", "false" or "unknown" per marker.
type Safety struct {
	Exclusive string `json:"exclusive"`
	Shared    string `json:"shared"`
}

// Diagnostic records why a path is missing from the description.
type Diagnostic struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Cause  string `json:"cause,omitempty"`
}

var shapeNames = map[model.TypeShape]string{
	model.TypeUnknown: "unknown",
	model.TypeNamed:   "named",
	model.TypeRef:     "reference",
	model.TypePtr:     "pointer",
	model.TypeTuple:   "tuple",
	model.TypeArray:   "array",
	model.TypeFn:      "function",
	model.TypeParam:   "param",
	model.TypeDyn:     "dyn",
}

func (b *builder) item(it *model.Item) *Item {
	out := &Item{
		Path:       it.Path.String(),
		Kind:       string(it.Kind),
		Visibility: it.Visibility.String(),
		Docs:       it.Docs,
		Generics:   it.Generics,
		Glob:       it.Glob,
		File:       it.File,
		Line:       it.Line,
	}
	out.Fields = b.fields(it.Path, it.Fields)
	for _, v := range it.Variants {
		out.Variants = append(out.Variants, Variant{Name: v.Name, Fields: b.fields(it.Path, v.Fields)})
	}
	out.Methods = b.methods(it.Path, it.Methods)
	for _, ref := range it.Supertraits {
		t := b.named(it.Path, ref, it.Refs[ref].Text())
		out.Supertraits = append(out.Supertraits, t)
	}
	if it.Signature != nil {
		sig := b.signature(it.Path, *it.Signature)
		out.Signature = &sig
	}
	if it.Kind == model.KindReexport && it.Target >= 0 {
		t := b.named(it.Path, it.Target, it.Refs[it.Target].Text())
		out.Target = &t
	}
	if it.Aliased != nil {
		t := b.typeOf(it.Path, *it.Aliased)
		out.Aliased = &t
	}
	return out
}

func (b *builder) implementation(rec impls.Record, it *model.Item) *Implementation {
	out := &Implementation{
		Impl:           rec.Impl.String(),
		Unit:           rec.Unit.String(),
		InterfaceLocal: rec.InterfaceLocal,
		TypeLocal:      rec.TypeLocal,
		Negative:       rec.Negative,
		Unsafe:         rec.Unsafe,
		Methods:        b.methods(it.Path, it.Methods),
	}
	if !rec.Interface.IsZero() {
		out.Interface = rec.Interface.String()
	}
	if !rec.Type.IsZero() {
		out.Type = rec.Type.String()
	}
	if it.Impl != nil {
		out.SelfType = b.typeOf(it.Path, it.Impl.SelfType)
	}
	return out
}

func (b *builder) fields(owner model.Path, fs []model.Field) []Field {
	if len(fs) == 0 {
		return nil
	}
	out := make([]Field, 0, len(fs))
	for _, f := range fs {
		out = append(out, Field{Name: f.Name, Type: b.typeOf(owner, f.Type), Visibility: f.Visibility.String()})
	}
	return out
}

func (b *builder) methods(owner model.Path, ms []model.Method) []Function {
	if len(ms) == 0 {
		return nil
	}
	out := make([]Function, 0, len(ms))
	for _, m := range ms {
		out = append(out, Function{Name: m.Name, Signature: b.signature(owner, m.Signature)})
	}
	return out
}

func (b *builder) signature(owner model.Path, s model.Signature) Signature {
	out := Signature{Params: b.fields(owner, s.Params)}
	if out.Params == nil {
		out.Params = []Field{}
	}
	if s.Result != nil {
		t := b.typeOf(owner, *s.Result)
		out.Result = &t
	}
	return out
}

func (b *builder) typeOf(owner model.Path, t model.TypeExpr) Type {
	out := Type{Text: t.Text, Shape: shapeNames[t.Shape], Mutable: t.Mutable}
	if t.Shape == model.TypeNamed && t.Ref >= 0 {
		out.Path, out.Resolved = b.ref(owner, t.Ref)
	}
	for _, a := range t.Args {
		out.Args = append(out.Args, b.typeOf(owner, a))
	}
	return out
}

func (b *builder) named(owner model.Path, ref int, text string) Type {
	out := Type{Text: text, Shape: shapeNames[model.TypeNamed]}
	out.Path, out.Resolved = b.ref(owner, ref)
	return out
}

// ref renders the binding of reference i of owner. Resolved is true only
// when the target settled as Resolved.
func (b *builder) ref(owner model.Path, i int) (string, bool) {
	if p, ok := b.in.Bindings.Target(owner, i); ok {
		e, ok := b.in.Ledger.Get(p)
		return p.String(), ok && e.State == ledger.Resolved
	}
	if p, ok := b.in.Bindings.Placeholder(owner, i); ok {
		return p.String(), false
	}
	return "", false
}
