package parse

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/model"
)

type lowerer struct {
	b        *itemstore.Batch
	cfg      CfgSet
	files    map[string][]byte
	depth    int
	tag      string
	counters map[string]int
	visiting map[string]bool
}

func newLowerer(b *itemstore.Batch, cfg CfgSet, files map[string][]byte, depth int, tag string) *lowerer {
	return &lowerer{
		b:        b,
		cfg:      cfg,
		files:    files,
		depth:    depth,
		tag:      tag,
		counters: make(map[string]int),
		visiting: make(map[string]bool),
	}
}

// modCtx is the module being lowered.
type modCtx struct {
	path  model.Path
	scope *model.Scope
	file  string
	// dir is where out-of-line child modules are looked up.
	dir string
	src []byte
}

// anon names an item that has no identifier of its own, such as an impl.
func (l *lowerer) anon(m modCtx, kind string) model.Path {
	key := m.path.Name + "|" + kind
	n := l.counters[key]
	l.counters[key] = n + 1
	return m.path.Join(fmt.Sprintf("{%s#%d%s}", kind, n, l.tag))
}

func (l *lowerer) file(ctx context.Context, m modCtx, src []byte) error {
	if l.visiting[m.file] {
		return fmt.Errorf("module file %s included twice", m.file)
	}
	l.visiting[m.file] = true
	l.b.Files = append(l.b.Files, m.file)

	tree, err := parseTree(ctx, src)
	if err != nil {
		return fmt.Errorf("%s: %w", m.file, err)
	}
	defer tree.Close()
	m.src = src
	return l.items(ctx, m, tree.RootNode())
}

// decl is a declaration with the outer attributes and doc comments that
// precede it.
type decl struct {
	node  *sitter.Node
	attrs []string
	docs  []string
}

// decls walks the named children of a container, attaching attributes and
// doc comments and dropping declarations whose cfg is disabled.
func (l *lowerer) decls(container *sitter.Node, src []byte) []decl {
	var out []decl
	var attrs, docs []string
	for i := 0; i < int(container.NamedChildCount()); i++ {
		c := container.NamedChild(i)
		switch c.Type() {
		case "attribute_item":
			attrs = append(attrs, c.Content(src))
			continue
		case "line_comment", "block_comment":
			if d, ok := docText(c.Content(src)); ok {
				docs = append(docs, d)
			}
			continue
		case "inner_attribute_item":
			continue
		}
		if l.cfg.Enabled(attrs) {
			out = append(out, decl{node: c, attrs: attrs, docs: docs})
		}
		attrs, docs = nil, nil
	}
	return out
}

func (l *lowerer) items(ctx context.Context, m modCtx, container *sitter.Node) error {
	for _, d := range l.decls(container, m.src) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := d.node
		switch n.Type() {
		case "struct_item", "union_item":
			l.structItem(m, d)
		case "enum_item":
			l.enumItem(m, d)
		case "trait_item":
			l.traitItem(m, d)
		case "impl_item":
			l.implItem(m, d)
		case "function_item", "function_signature_item":
			l.functionItem(m, d)
		case "type_item":
			l.typeItem(m, d)
		case "use_declaration":
			l.useDecl(m, d)
		case "extern_crate_declaration":
			l.externCrate(m, d)
		case "mod_item":
			if err := l.modItem(ctx, m, d); err != nil {
				return err
			}
		case "macro_definition":
			l.macroDef(m, d)
		case "macro_invocation":
			l.invocation(m, d, n)
		case "expression_statement":
			if c := n.NamedChild(0); c != nil && c.Type() == "macro_invocation" {
				l.invocation(m, d, c)
			}
		}
	}
	return nil
}

func (l *lowerer) newItem(m modCtx, p model.Path, kind model.Kind, vis model.Visibility, d decl) *model.Item {
	return &model.Item{
		Path:       p,
		Kind:       kind,
		Visibility: vis,
		Module:     m.path,
		Scope:      m.scope,
		Target:     -1,
		File:       m.file,
		Line:       int(d.node.StartPoint().Row) + 1,
		Docs:       strings.Join(d.docs, "\n"),
	}
}

// define adds an item and binds its name in the module scope.
func (l *lowerer) define(m modCtx, name string, it *model.Item) {
	l.b.AddItem(it)
	l.b.Define(m.scope, name, it.Path)
}

func (l *lowerer) structItem(m modCtx, d decl) {
	name := text(d.node.ChildByFieldName("name"), m.src)
	if name == "" {
		return
	}
	it := l.newItem(m, m.path.Join(name), model.KindStruct, visibility(d.node, m.src), d)
	it.Generics = generics(d.node.ChildByFieldName("type_parameters"), m.src)
	it.Fields = l.fields(it, d.node.ChildByFieldName("body"), m.src, paramSet(it.Generics))
	l.define(m, name, it)
	l.derives(m, it, name, d)
}

func (l *lowerer) enumItem(m modCtx, d decl) {
	name := text(d.node.ChildByFieldName("name"), m.src)
	if name == "" {
		return
	}
	vis := visibility(d.node, m.src)
	it := l.newItem(m, m.path.Join(name), model.KindEnum, vis, d)
	it.Generics = generics(d.node.ChildByFieldName("type_parameters"), m.src)
	params := paramSet(it.Generics)
	if body := d.node.ChildByFieldName("body"); body != nil {
		for _, vd := range l.decls(body, m.src) {
			if vd.node.Type() != "enum_variant" {
				continue
			}
			vname := text(vd.node.ChildByFieldName("name"), m.src)
			if vname == "" {
				continue
			}
			it.Variants = append(it.Variants, model.Variant{
				Name:   vname,
				Fields: l.fields(it, vd.node.ChildByFieldName("body"), m.src, params),
			})
			v := l.newItem(m, it.Path.Join(vname), model.KindVariant, vis, vd)
			l.b.AddItem(v)
		}
	}
	l.define(m, name, it)
	l.derives(m, it, name, d)
}

func (l *lowerer) fields(owner *model.Item, body *sitter.Node, src []byte, params map[string]bool) []model.Field {
	if body == nil {
		return nil
	}
	var out []model.Field
	switch body.Type() {
	case "field_declaration_list":
		for _, fd := range l.decls(body, src) {
			if fd.node.Type() != "field_declaration" {
				continue
			}
			out = append(out, model.Field{
				Name:       text(fd.node.ChildByFieldName("name"), src),
				Type:       l.typeExpr(owner, fd.node.ChildByFieldName("type"), src, model.Soft, params),
				Visibility: visibility(fd.node, src),
			})
		}
	case "ordered_field_declaration_list":
		var attrs []string
		vis := model.Private
		for i := 0; i < int(body.NamedChildCount()); i++ {
			c := body.NamedChild(i)
			switch c.Type() {
			case "attribute_item":
				attrs = append(attrs, c.Content(src))
				continue
			case "visibility_modifier":
				vis = visibilityOf(c.Content(src))
				continue
			}
			if !isTypeNode(c.Type()) {
				continue
			}
			if l.cfg.Enabled(attrs) {
				out = append(out, model.Field{
					Name:       strconv.Itoa(len(out)),
					Type:       l.typeExpr(owner, c, src, model.Soft, params),
					Visibility: vis,
				})
			}
			attrs, vis = nil, model.Private
		}
	}
	return out
}

var deriveAttr = regexp.MustCompile(`^#\s*\[\s*derive\s*\((.*)\)\s*\]$`)

// derives lowers #[derive(...)] into impl items of the named interfaces.
func (l *lowerer) derives(m modCtx, owner *model.Item, name string, d decl) {
	for _, a := range d.attrs {
		match := deriveAttr.FindStringSubmatch(strings.TrimSpace(a))
		if match == nil {
			continue
		}
		for _, raw := range strings.Split(match[1], ",") {
			segs, rooted := splitPath(raw)
			if len(segs) == 0 {
				continue
			}
			it := l.newItem(m, l.anon(m, "derive"), model.KindImpl, model.Public, d)
			it.Generics = owner.Generics
			iface := it.AddRef(model.Ref{Segments: segs, Rooted: rooted, Strength: model.Hard})
			self := it.AddRef(model.Ref{Segments: []string{name}, Strength: model.Hard})
			it.Impl = &model.ImplInfo{
				Interface: iface,
				SelfType:  model.TypeExpr{Shape: model.TypeNamed, Ref: self, Text: name},
			}
			l.b.AddItem(it)
		}
	}
}

func (l *lowerer) traitItem(m modCtx, d decl) {
	name := text(d.node.ChildByFieldName("name"), m.src)
	if name == "" {
		return
	}
	it := l.newItem(m, m.path.Join(name), model.KindInterface, visibility(d.node, m.src), d)
	it.Generics = generics(d.node.ChildByFieldName("type_parameters"), m.src)
	it.Scope = model.NewScope(m.path, m.scope)
	params := paramSet(it.Generics)

	if bounds := d.node.ChildByFieldName("bounds"); bounds != nil {
		for i := 0; i < int(bounds.NamedChildCount()); i++ {
			c := bounds.NamedChild(i)
			if !isTypeNode(c.Type()) {
				continue
			}
			te := l.typeExpr(it, c, m.src, model.Soft, params)
			if te.Shape == model.TypeNamed {
				it.Supertraits = append(it.Supertraits, te.Ref)
			}
		}
	}
	it.Methods = l.methods(it, d.node.ChildByFieldName("body"), m.src, params)
	l.define(m, name, it)
}

func (l *lowerer) methods(owner *model.Item, body *sitter.Node, src []byte, params map[string]bool) []model.Method {
	if body == nil {
		return nil
	}
	var out []model.Method
	for _, md := range l.decls(body, src) {
		switch md.node.Type() {
		case "function_item", "function_signature_item":
		default:
			continue
		}
		if owner.Kind == model.KindImpl && visibility(md.node, src) != model.Public && owner.Impl.Interface < 0 {
			continue
		}
		inner := mergeParams(params, generics(md.node.ChildByFieldName("type_parameters"), src))
		out = append(out, model.Method{
			Name:      text(md.node.ChildByFieldName("name"), src),
			Signature: l.signature(owner, md.node, src, inner),
		})
	}
	return out
}

func (l *lowerer) implItem(m modCtx, d decl) {
	it := l.newItem(m, l.anon(m, "impl"), model.KindImpl, model.Public, d)
	it.Generics = generics(d.node.ChildByFieldName("type_parameters"), m.src)
	it.Scope = model.NewScope(m.path, m.scope)
	params := paramSet(it.Generics)

	info := &model.ImplInfo{
		Interface: -1,
		Negative:  hasChild(d.node, "!"),
		Unsafe:    hasChild(d.node, "unsafe"),
	}
	if tr := d.node.ChildByFieldName("trait"); tr != nil {
		te := l.typeExpr(it, tr, m.src, model.Hard, params)
		if te.Shape == model.TypeNamed {
			info.Interface = te.Ref
		}
	}
	info.SelfType = l.typeExpr(it, d.node.ChildByFieldName("type"), m.src, model.Hard, params)
	it.Impl = info
	it.Methods = l.methods(it, d.node.ChildByFieldName("body"), m.src, params)
	l.b.AddItem(it)
}

func (l *lowerer) functionItem(m modCtx, d decl) {
	name := text(d.node.ChildByFieldName("name"), m.src)
	if name == "" {
		return
	}
	it := l.newItem(m, m.path.Join(name), model.KindFunction, visibility(d.node, m.src), d)
	it.Generics = generics(d.node.ChildByFieldName("type_parameters"), m.src)
	sig := l.signature(it, d.node, m.src, paramSet(it.Generics))
	it.Signature = &sig
	l.define(m, name, it)
}

func (l *lowerer) signature(owner *model.Item, n *sitter.Node, src []byte, params map[string]bool) model.Signature {
	var sig model.Signature
	if ps := n.ChildByFieldName("parameters"); ps != nil {
		for i := 0; i < int(ps.NamedChildCount()); i++ {
			c := ps.NamedChild(i)
			switch c.Type() {
			case "parameter":
				sig.Params = append(sig.Params, model.Field{
					Name: text(c.ChildByFieldName("pattern"), src),
					Type: l.typeExpr(owner, c.ChildByFieldName("type"), src, model.Soft, params),
				})
			case "self_parameter":
				sig.Params = append(sig.Params, model.Field{
					Name: "self",
					Type: model.TypeExpr{Shape: model.TypeParam, Ref: -1, Text: c.Content(src)},
				})
			}
		}
	}
	if rt := n.ChildByFieldName("return_type"); rt != nil {
		te := l.typeExpr(owner, rt, src, model.Soft, params)
		sig.Result = &te
	}
	return sig
}

func (l *lowerer) typeItem(m modCtx, d decl) {
	name := text(d.node.ChildByFieldName("name"), m.src)
	if name == "" {
		return
	}
	it := l.newItem(m, m.path.Join(name), model.KindTypeAlias, visibility(d.node, m.src), d)
	it.Generics = generics(d.node.ChildByFieldName("type_parameters"), m.src)
	te := l.typeExpr(it, d.node.ChildByFieldName("type"), m.src, model.Hard, paramSet(it.Generics))
	it.Aliased = &te
	if te.Shape == model.TypeNamed {
		it.Target = te.Ref
	}
	l.define(m, name, it)
}

func (l *lowerer) useDecl(m modCtx, d decl) {
	vis := visibility(d.node, m.src)
	for _, u := range flattenUse(d.node.ChildByFieldName("argument"), m.src, nil, false) {
		if u.glob {
			it := l.newItem(m, l.anon(m, "glob"), model.KindReexport, vis, d)
			it.Glob = true
			it.Target = it.AddRef(model.Ref{Segments: u.segs, Rooted: u.rooted, Strength: model.Hard})
			l.b.AddItem(it)
			l.b.Glob(m.scope, it.Path)
			continue
		}
		if u.alias == "_" || len(u.segs) == 0 {
			continue
		}
		it := l.newItem(m, m.path.Join(u.alias), model.KindReexport, vis, d)
		it.Target = it.AddRef(model.Ref{Segments: u.segs, Rooted: u.rooted, Strength: model.Hard})
		l.define(m, u.alias, it)
	}
}

func (l *lowerer) externCrate(m modCtx, d decl) {
	name := text(d.node.ChildByFieldName("name"), m.src)
	if name == "" || name == "self" {
		return
	}
	alias := name
	if a := d.node.ChildByFieldName("alias"); a != nil {
		alias = a.Content(m.src)
	}
	it := l.newItem(m, m.path.Join(alias), model.KindReexport, visibility(d.node, m.src), d)
	it.Target = it.AddRef(model.Ref{Segments: []string{name}, Rooted: true, Strength: model.Hard})
	l.define(m, alias, it)
}

var pathAttr = regexp.MustCompile(`^#\s*\[\s*path\s*=\s*"([^"]+)"\s*\]$`)

func (l *lowerer) modItem(ctx context.Context, m modCtx, d decl) error {
	name := text(d.node.ChildByFieldName("name"), m.src)
	if name == "" {
		return nil
	}
	p := m.path.Join(name)
	child := modCtx{path: p, scope: model.NewScope(p, nil)}

	body := d.node.ChildByFieldName("body")
	var data []byte
	if body != nil {
		child.file, child.dir, child.src = m.file, path.Join(m.dir, name), m.src
	} else {
		file, ok := l.moduleFile(m, name, d.attrs)
		if !ok {
			l.b.Fail(p, model.Failure{
				Kind:   model.PathUnresolvable,
				Reason: fmt.Sprintf("module file not found: %s.rs or %s/mod.rs", path.Join(m.dir, name), path.Join(m.dir, name)),
			})
			return nil
		}
		data = l.files[file]
		child.file = file
		if path.Base(file) == "mod.rs" {
			child.dir = path.Dir(file)
		} else {
			child.dir = strings.TrimSuffix(file, ".rs")
		}
	}

	it := l.newItem(m, p, model.KindModule, visibility(d.node, m.src), d)
	it.Scope = child.scope
	l.b.AddScope(child.scope)
	l.define(m, name, it)

	if body != nil {
		return l.items(ctx, child, body)
	}
	return l.file(ctx, child, data)
}

func (l *lowerer) moduleFile(m modCtx, name string, attrs []string) (string, bool) {
	for _, a := range attrs {
		if match := pathAttr.FindStringSubmatch(strings.TrimSpace(a)); match != nil {
			file := path.Clean(path.Join(path.Dir(m.file), match[1]))
			_, ok := l.files[file]
			return file, ok
		}
	}
	for _, file := range []string{path.Join(m.dir, name+".rs"), path.Join(m.dir, name, "mod.rs")} {
		if _, ok := l.files[file]; ok {
			return file, true
		}
	}
	return "", false
}

func (l *lowerer) macroDef(m modCtx, d decl) {
	name := text(d.node.ChildByFieldName("name"), m.src)
	if name == "" {
		return
	}
	exported := false
	for _, a := range d.attrs {
		if strings.Contains(a, "macro_export") {
			exported = true
		}
	}
	vis := model.Private
	if exported {
		vis = model.Public
	}
	it := l.newItem(m, m.path.Join(name+"!"), model.KindMacroDef, vis, d)
	it.Body = d.node.Content(m.src)
	l.b.AddItem(it)
	l.b.DefineMacro(m.scope, name, it.Path)
}

func (l *lowerer) invocation(m modCtx, d decl, n *sitter.Node) {
	segs, _ := splitPath(text(n.ChildByFieldName("macro"), m.src))
	if len(segs) == 0 {
		return
	}
	var tokens string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == "token_tree" {
			tokens = stripDelimiters(c.Content(m.src))
		}
	}
	it := l.newItem(m, l.anon(m, "macro"), model.KindMacroPending, model.Private, d)
	it.Invocation = &model.Invocation{Macro: segs, Tokens: tokens, Depth: l.depth}
	l.b.AddItem(it)
}
