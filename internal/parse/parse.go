// Package parse lowers Rust source into items, scopes and references using
// tree-sitter. Lowering is syntactic: every name stays symbolic until the
// resolver binds it.
package parse

import (
	"context"
	"fmt"
	"path"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/locate"
	"github.com/jward/surface/internal/model"
)

var (
	rustLang     *sitter.Language
	rustLangOnce sync.Once
)

func language() *sitter.Language {
	rustLangOnce.Do(func() {
		rustLang = rust.GetLanguage()
	})
	return rustLang
}

func parseTree(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	return tree, nil
}

// Unit lowers a whole unit, starting at its entry file and following
// out-of-line module declarations.
func Unit(ctx context.Context, src *locate.Source) (*itemstore.Batch, error) {
	entry, ok := src.Files[src.Entry]
	if !ok {
		return nil, fmt.Errorf("lower %s: entry file %s not found", src.Unit, src.Entry)
	}
	b := itemstore.NewLoadBatch(src.Unit, src.Deps)
	b.Features, b.Cfg = src.Features, src.Cfg

	l := newLowerer(b, NewCfgSet(src.Features, src.Cfg), src.Files, 0, "")
	root := model.NewPath(src.Unit)
	sc := model.NewScope(root, nil)
	b.AddScope(sc)
	b.AddItem(&model.Item{
		Path:       root,
		Kind:       model.KindModule,
		Visibility: model.Public,
		Module:     root,
		Scope:      sc,
		Target:     -1,
		File:       src.Entry,
	})
	m := modCtx{path: root, scope: sc, file: src.Entry, dir: path.Dir(src.Entry)}
	if err := l.file(ctx, m, entry); err != nil {
		return nil, fmt.Errorf("lower %s: %w", src.Unit, err)
	}
	return b, nil
}

// FragmentInput is the output of one macro expansion, to be lowered into
// the module that contains the invocation.
type FragmentInput struct {
	Unit     model.UnitID
	Module   model.Path
	Scope    *model.Scope
	Code     string
	Depth    int
	Tag      string
	Features []string
	Cfg      []string
	Origin   string
}

// Fragment lowers expansion output. Output that does not parse as items is
// an error.
func Fragment(ctx context.Context, in FragmentInput) (*itemstore.Batch, error) {
	b := itemstore.NewBatch(in.Unit)
	l := newLowerer(b, NewCfgSet(in.Features, in.Cfg), nil, in.Depth, in.Tag)

	src := []byte(in.Code)
	tree, err := parseTree(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("expansion of %s does not parse as items", in.Origin)
	}
	m := modCtx{path: in.Module, scope: in.Scope, file: in.Origin, src: src}
	if err := l.items(ctx, m, root); err != nil {
		return nil, err
	}
	return b, nil
}
