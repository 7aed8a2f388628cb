package surface

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jward/surface/internal/describe"
	"github.com/jward/surface/internal/expand"
	"github.com/jward/surface/internal/impls"
	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/ledger"
	"github.com/jward/surface/internal/locate"
	"github.com/jward/surface/internal/model"
	"github.com/jward/surface/internal/safety"
	"github.com/jward/surface/internal/scheduler"
)

// Engine resolves API surfaces. Each Resolve call is an independent session
// with its own item store and ledger; an Engine may run several at once.
type Engine struct {
	locator      locate.Locator
	oracle       expand.Oracle
	safetyOracle safety.Oracle
	scriptsDir   string
	scriptsFS    fs.FS
	logger       *slog.Logger

	workers           int
	expandTimeout     time.Duration
	maxRounds         int
	maxExpansionDepth int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocator sets where unit sources come from.
func WithLocator(l Locator) Option {
	return func(e *Engine) {
		e.locator = l
	}
}

// WithOracle sets the macro expansion oracle. Scripts configured with
// WithScriptsDir or WithScriptsFS are tried after it.
func WithOracle(o Oracle) Option {
	return func(e *Engine) {
		e.oracle = o
	}
}

// WithSafetyOracle fills thread-safety facts that inference leaves unknown.
func WithSafetyOracle(o SafetyOracle) Option {
	return func(e *Engine) {
		e.safetyOracle = o
	}
}

// WithScriptsDir expands macros with Risor scripts named "<macro>.risor"
// in dir.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithScriptsFS loads macro scripts from fsys instead of from disk. This
// enables embedding scripts via go:embed.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithWorkers bounds the parallelism of each drain. Default runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithExpandTimeout bounds each oracle call. A timed out expansion fails
// its invocation. Default 5s; negative disables the bound.
func WithExpandTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.expandTimeout = d
	}
}

// WithMaxRounds stops a session that has not reached a fixed point after n
// rounds. Items still pending are failed as a dependency cycle.
func WithMaxRounds(n int) Option {
	return func(e *Engine) {
		e.maxRounds = n
	}
}

// WithMaxExpansionDepth limits macro recursion. Default 64.
func WithMaxExpansionDepth(n int) Option {
	return func(e *Engine) {
		e.maxExpansionDepth = n
	}
}

// WithLogger sets the session logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine. Without WithLocator every unit fails to load.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.locator == nil {
		e.locator = locate.NewMapLocator()
	}

	var chain expand.Chain
	if e.oracle != nil {
		chain = append(chain, e.oracle)
	}
	if e.scriptsFS != nil || e.scriptsDir != "" {
		sopts := []expand.ScriptOption{expand.WithScriptLogger(e.logger)}
		if e.scriptsFS != nil {
			sopts = append(sopts, expand.WithScriptFS(e.scriptsFS))
		}
		chain = append(chain, expand.NewScriptOracle(e.scriptsDir, sopts...))
	}
	e.oracle = chain
	return e
}

// Root names what to describe: paths inside one unit, written without the
// unit name ("" is the unit root module, "client::Client" an item).
type Root struct {
	Unit  UnitID
	Paths []string
}

// Result is the outcome of one session.
type Result struct {
	Description *APIDescription
	Diagnostics []Diagnostic
	Stats       Stats
}

// Resolve runs a session from root to a fixed point and describes what it
// reached. Unresolvable items shrink the description and show up in the
// diagnostics; the error is non-nil only when ctx is cancelled or a ledger
// invariant is violated.
func (e *Engine) Resolve(ctx context.Context, root Root) (*Result, error) {
	if root.Unit.IsZero() {
		return nil, fmt.Errorf("surface: resolve: root unit is required")
	}
	paths := root.Paths
	if len(paths) == 0 {
		paths = []string{""}
	}
	roots := make([]model.Path, 0, len(paths))
	for _, p := range paths {
		roots = append(roots, model.NewPath(root.Unit, model.SplitSegments(p)...))
	}

	log := e.logger.With("root", root.Unit.String())
	sched := scheduler.New(itemstore.New(), ledger.New(), e.locator, e.oracle, scheduler.Config{
		Workers:           e.workers,
		ExpandTimeout:     e.expandTimeout,
		MaxRounds:         e.maxRounds,
		MaxExpansionDepth: e.maxExpansionDepth,
		Logger:            log,
		Validate:          impls.Coherence,
	})
	sched.Seed(roots...)
	if _, err := sched.Run(ctx); err != nil {
		return nil, fmt.Errorf("surface: resolve: %w", err)
	}

	index := impls.New(sched)
	sopts := []safety.Option{safety.WithImpls(index)}
	if e.safetyOracle != nil {
		sopts = append(sopts, safety.WithOracle(e.safetyOracle))
	}
	desc, diags, err := describe.Build(ctx, describe.Input{
		Roots:    roots,
		Store:    sched.Store(),
		Ledger:   sched.Ledger(),
		Bindings: sched,
		Impls:    index,
		Safety:   safety.New(sched.Store(), sched.Ledger(), sched, sopts...),
	})
	if err != nil {
		return nil, fmt.Errorf("surface: describe: %w", err)
	}

	st := sched.Stats()
	log.Info("described",
		"items", len(desc.Items),
		"implementations", len(desc.Implementations),
		"diagnostics", len(diags),
	)
	return &Result{Description: desc, Diagnostics: diags, Stats: st}, nil
}
