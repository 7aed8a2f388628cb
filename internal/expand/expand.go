// Package expand turns macro invocations into item source. Expansion is an
// external capability: the scheduler calls an Oracle and lowers whatever
// source it returns.
package expand

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jward/surface/internal/model"
)

var (
	// ErrNoExpander means the oracle does not know the macro.
	ErrNoExpander = errors.New("expand: no expander for macro")
	// ErrTimeout means an expansion exceeded its time bound.
	ErrTimeout = errors.New("expand: timed out")
)

// Request describes one invocation.
type Request struct {
	// Path is the invocation item.
	Path   model.Path
	Module model.Path
	// Macro is the final segment of the macro path.
	Macro     string
	MacroPath []string
	Tokens    string
	// Definition holds the macro_rules! source when the macro is defined in
	// a loaded unit.
	Definition string
	Depth      int
}

// Expansion is the oracle's answer: Rust items, as source text.
type Expansion struct {
	Source string
}

// Oracle expands macro invocations. Implementations must be safe for
// concurrent use and should honor ctx.
type Oracle interface {
	Expand(ctx context.Context, req Request) (Expansion, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, req Request) (Expansion, error)

func (f Func) Expand(ctx context.Context, req Request) (Expansion, error) {
	return f(ctx, req)
}

// Static expands macros by name from fixed templates. "$tokens" in a
// template is replaced with the invocation tokens.
type Static map[string]string

func (s Static) Expand(_ context.Context, req Request) (Expansion, error) {
	tmpl, ok := s[req.Macro]
	if !ok {
		return Expansion{}, fmt.Errorf("%s: %w", req.Macro, ErrNoExpander)
	}
	return Expansion{Source: strings.ReplaceAll(tmpl, "$tokens", req.Tokens)}, nil
}

// Chain asks each oracle in turn, moving on when one reports
// ErrNoExpander.
type Chain []Oracle

func (c Chain) Expand(ctx context.Context, req Request) (Expansion, error) {
	for _, o := range c {
		exp, err := o.Expand(ctx, req)
		if errors.Is(err, ErrNoExpander) {
			continue
		}
		return exp, err
	}
	return Expansion{}, fmt.Errorf("%s: %w", req.Macro, ErrNoExpander)
}

type timeoutOracle struct {
	o Oracle
	d time.Duration
}

// WithTimeout bounds every expansion to d. The bound holds even when the
// wrapped oracle ignores its context. A non-positive d disables it.
func WithTimeout(o Oracle, d time.Duration) Oracle {
	if d <= 0 {
		return o
	}
	return &timeoutOracle{o: o, d: d}
}

func (t *timeoutOracle) Expand(ctx context.Context, req Request) (Expansion, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	type result struct {
		exp Expansion
		err error
	}
	ch := make(chan result, 1)
	go func() {
		exp, err := t.o.Expand(ctx, req)
		ch <- result{exp: exp, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Expansion{}, fmt.Errorf("%s after %s: %w", req.Macro, t.d, ErrTimeout)
		}
		return r.exp, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Expansion{}, fmt.Errorf("%s after %s: %w", req.Macro, t.d, ErrTimeout)
		}
		return Expansion{}, ctx.Err()
	}
}
