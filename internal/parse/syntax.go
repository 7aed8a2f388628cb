package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/surface/internal/model"
)

func text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

func hasChild(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == typ {
			return true
		}
	}
	return false
}

func visibility(n *sitter.Node, src []byte) model.Visibility {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == "visibility_modifier" {
			return visibilityOf(c.Content(src))
		}
	}
	return model.Private
}

// visibilityOf maps "pub" to Public and every restricted form, such as
// pub(crate) or pub(super), to Crate.
func visibilityOf(s string) model.Visibility {
	if strings.TrimSpace(s) == "pub" {
		return model.Public
	}
	return model.Crate
}

// generics returns the type and const parameter names of a
// type_parameters node. Lifetimes are skipped.
func generics(n *sitter.Node, src []byte) []string {
	if n == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if name := paramName(n.NamedChild(i), src); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func paramName(c *sitter.Node, src []byte) string {
	switch c.Type() {
	case "type_identifier":
		return c.Content(src)
	case "constrained_type_parameter":
		if left := c.ChildByFieldName("left"); left != nil && left.Type() != "lifetime" {
			return left.Content(src)
		}
	case "optional_type_parameter":
		if name := c.ChildByFieldName("name"); name != nil {
			return paramName(name, src)
		}
	case "type_parameter", "const_parameter":
		if name := c.ChildByFieldName("name"); name != nil {
			return name.Content(src)
		}
	}
	return ""
}

func paramSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func mergeParams(base map[string]bool, more []string) map[string]bool {
	if len(more) == 0 {
		return base
	}
	m := make(map[string]bool, len(base)+len(more))
	for k := range base {
		m[k] = true
	}
	for _, n := range more {
		m[n] = true
	}
	return m
}

var typeNodes = map[string]bool{
	"type_identifier":        true,
	"scoped_type_identifier": true,
	"generic_type":           true,
	"reference_type":         true,
	"pointer_type":           true,
	"array_type":             true,
	"tuple_type":             true,
	"unit_type":              true,
	"primitive_type":         true,
	"function_type":          true,
	"dynamic_type":           true,
	"abstract_type":          true,
	"never_type":             true,
	"bounded_type":           true,
	"qualified_type":         true,
}

func isTypeNode(typ string) bool { return typeNodes[typ] }

// splitPath splits "a::b::<C>" style text into segments. A leading "::"
// marks the path as rooted at the extern crates.
func splitPath(s string) ([]string, bool) {
	s = strings.TrimSpace(s)
	rooted := strings.HasPrefix(s, "::")
	if i := strings.IndexByte(s, '<'); i >= 0 {
		s = s[:i]
	}
	return model.SplitSegments(s), rooted
}

func stripDelimiters(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// docText returns the text of an outer doc comment.
func docText(c string) (string, bool) {
	switch {
	case strings.HasPrefix(c, "////"):
		return "", false
	case strings.HasPrefix(c, "///"):
		return strings.TrimSpace(strings.TrimSuffix(c[3:], "\n")), true
	case strings.HasPrefix(c, "/**") && !strings.HasPrefix(c, "/***"):
		return strings.TrimSpace(strings.TrimSuffix(c[3:], "*/")), true
	}
	return "", false
}

// useSpec is one binding produced by a use tree.
type useSpec struct {
	segs   []string
	rooted bool
	alias  string
	glob   bool
}

// flattenUse expands a use tree into its bindings.
func flattenUse(n *sitter.Node, src []byte, prefix []string, rooted bool) []useSpec {
	if n == nil {
		return nil
	}
	join := func(s string) ([]string, bool) {
		segs, r := splitPath(s)
		out := append(append([]string{}, prefix...), segs...)
		return out, rooted || (len(prefix) == 0 && r)
	}
	switch n.Type() {
	case "use_as_clause":
		segs, r := join(text(n.ChildByFieldName("path"), src))
		return []useSpec{{segs: segs, rooted: r, alias: text(n.ChildByFieldName("alias"), src)}}
	case "use_wildcard":
		t := strings.TrimSpace(n.Content(src))
		t = strings.TrimSuffix(strings.TrimSuffix(t, "*"), "::")
		segs, r := join(t)
		return []useSpec{{segs: segs, rooted: r, glob: true}}
	case "use_list":
		var out []useSpec
		for i := 0; i < int(n.NamedChildCount()); i++ {
			out = append(out, flattenUse(n.NamedChild(i), src, prefix, rooted)...)
		}
		return out
	case "scoped_use_list":
		segs, r := join(text(n.ChildByFieldName("path"), src))
		return flattenUse(n.ChildByFieldName("list"), src, segs, r)
	case "self":
		if len(prefix) == 0 {
			return nil
		}
		return []useSpec{{segs: prefix, rooted: rooted, alias: prefix[len(prefix)-1]}}
	default:
		segs, r := join(n.Content(src))
		if len(segs) == 0 {
			return nil
		}
		return []useSpec{{segs: segs, rooted: r, alias: segs[len(segs)-1]}}
	}
}
