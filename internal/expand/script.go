package expand

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// ScriptOracle expands a macro by running the Risor script named after it,
// "<macro>.risor", from a scripts directory or fs.FS. Scripts see:
//
//	invocation  map with macro, path, module, tokens, definition, depth
//	emit(src)   appends Rust item source to the expansion
//	log         log.Info / log.Warn / log.Error
//
// A script that emits nothing may instead evaluate to a string.
type ScriptOracle struct {
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger
}

// ScriptOption configures a ScriptOracle.
type ScriptOption func(*ScriptOracle)

// WithScriptFS loads scripts from fsys instead of from disk. Risor import
// statements resolve against the same FS.
func WithScriptFS(fsys fs.FS) ScriptOption {
	return func(o *ScriptOracle) {
		o.fsys = fsys
	}
}

// WithScriptLogger routes the script log object to logger.
func WithScriptLogger(logger *slog.Logger) ScriptOption {
	return func(o *ScriptOracle) {
		o.logger = logger
	}
}

func NewScriptOracle(scriptsDir string, opts ...ScriptOption) *ScriptOracle {
	o := &ScriptOracle{scriptsDir: scriptsDir, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ScriptPath returns the script file for a macro.
func ScriptPath(macro string) string {
	return macro + ".risor"
}

func (o *ScriptOracle) Expand(ctx context.Context, req Request) (Expansion, error) {
	src, err := o.LoadScript(ScriptPath(req.Macro))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Expansion{}, fmt.Errorf("%s: %w", req.Macro, ErrNoExpander)
		}
		return Expansion{}, err
	}

	var (
		mu      sync.Mutex
		emitted []string
	)
	emit := object.NewBuiltin("emit", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit", 1, len(args))
		}
		s, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("emit: expected string, got %s", args[0].Type())
		}
		mu.Lock()
		emitted = append(emitted, s.Value())
		mu.Unlock()
		return object.Nil
	})

	globals := map[string]any{
		"invocation": invocationObject(req),
		"emit":       emit,
		"log":        mustProxy(&logObject{logger: o.logger.With("macro", req.Macro, "invocation", req.Path.String())}),
	}
	opts := make([]risor.Option, 0, len(globals)+1)
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := o.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	result, err := risor.Eval(ctx, src, opts...)
	if err != nil {
		return Expansion{}, fmt.Errorf("expand: script %s: %w", ScriptPath(req.Macro), err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) == 0 {
		if s, ok := result.(*object.String); ok {
			return Expansion{Source: s.Value()}, nil
		}
	}
	return Expansion{Source: strings.Join(emitted, "\n")}, nil
}

func invocationObject(req Request) *object.Map {
	segs := make([]object.Object, len(req.MacroPath))
	for i, s := range req.MacroPath {
		segs[i] = object.NewString(s)
	}
	return object.NewMap(map[string]object.Object{
		"macro":      object.NewString(req.Macro),
		"macro_path": object.NewList(segs),
		"path":       object.NewString(req.Path.String()),
		"module":     object.NewString(req.Module.String()),
		"tokens":     object.NewString(req.Tokens),
		"definition": object.NewString(req.Definition),
		"depth":      object.NewInt(int64(req.Depth)),
	})
}

// buildImporter returns an importer for the oracle's script source, or nil
// when neither an FS nor a directory is configured.
func (o *ScriptOracle) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if o.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    o.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if o.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   o.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a script relative to the FS root or the scripts
// directory.
func (o *ScriptOracle) LoadScript(path string) (string, error) {
	if o.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(o.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("expand: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}
	if o.scriptsDir == "" {
		return "", fmt.Errorf("expand: loading script %s: %w", path, fs.ErrNotExist)
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(o.scriptsDir, path)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("expand: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// logObject provides log.Info/Warn/Error for scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg)
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("expand: proxy error: %v", err))
	}
	return p
}
