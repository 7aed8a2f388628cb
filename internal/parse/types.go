package parse

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/surface/internal/model"
)

// typeExpr lowers a type node. Named heads become references of owner with
// the given strength; every nested reference is soft. Names in params are
// generic parameters and stay unresolved.
func (l *lowerer) typeExpr(owner *model.Item, n *sitter.Node, src []byte, head model.Strength, params map[string]bool) model.TypeExpr {
	if n == nil {
		return model.TypeExpr{Ref: -1}
	}
	t := model.TypeExpr{Ref: -1, Text: n.Content(src)}
	switch n.Type() {
	case "type_identifier", "primitive_type":
		if params[t.Text] || t.Text == "Self" {
			t.Shape = model.TypeParam
			return t
		}
		t.Shape = model.TypeNamed
		t.Ref = owner.AddRef(model.Ref{Segments: []string{t.Text}, Strength: head})
	case "scoped_type_identifier":
		segs, rooted := splitPath(t.Text)
		if len(segs) == 0 {
			return t
		}
		if params[segs[0]] || segs[0] == "Self" {
			t.Shape = model.TypeParam
			return t
		}
		t.Shape = model.TypeNamed
		t.Ref = owner.AddRef(model.Ref{Segments: segs, Rooted: rooted, Strength: head})
	case "generic_type":
		base := l.typeExpr(owner, n.ChildByFieldName("type"), src, head, params)
		if args := n.ChildByFieldName("type_arguments"); args != nil {
			for i := 0; i < int(args.NamedChildCount()); i++ {
				a := args.NamedChild(i)
				if isTypeNode(a.Type()) {
					base.Args = append(base.Args, l.typeExpr(owner, a, src, model.Soft, params))
				}
			}
		}
		base.Text = t.Text
		return base
	case "reference_type":
		t.Shape = model.TypeRef
		t.Mutable = hasChild(n, "mutable_specifier")
		t.Args = []model.TypeExpr{l.typeExpr(owner, n.ChildByFieldName("type"), src, model.Soft, params)}
	case "pointer_type":
		t.Shape = model.TypePtr
		t.Mutable = hasChild(n, "mutable_specifier")
		t.Args = []model.TypeExpr{l.typeExpr(owner, n.ChildByFieldName("type"), src, model.Soft, params)}
	case "array_type":
		t.Shape = model.TypeArray
		t.Args = []model.TypeExpr{l.typeExpr(owner, n.ChildByFieldName("element"), src, model.Soft, params)}
	case "tuple_type":
		t.Shape = model.TypeTuple
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); isTypeNode(c.Type()) {
				t.Args = append(t.Args, l.typeExpr(owner, c, src, model.Soft, params))
			}
		}
	case "unit_type":
		t.Shape = model.TypeTuple
	case "function_type":
		t.Shape = model.TypeFn
	case "dynamic_type", "abstract_type":
		t.Shape = model.TypeDyn
	}
	return t
}
