// Package safety infers thread-safety facts by structural composition.
//
// A type's fact is the conjunction of its members' facts over three-valued
// logic. Builtin types follow a fixed table, explicit Send/Sync impls
// override inference, and anything opaque (generic parameters, trait
// objects, unresolved members) is Unknown rather than False. Recursive
// types are resolved coinductively: a type that reaches itself assumes
// True for the back edge.
package safety

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/jward/surface/internal/impls"
	"github.com/jward/surface/internal/itemstore"
	"github.com/jward/surface/internal/ledger"
	"github.com/jward/surface/internal/model"
)

// Oracle answers safety questions inference leaves Unknown, such as a
// compiler would. It returns model.SafetyUnknown when it cannot tell.
type Oracle interface {
	QuerySafety(ctx context.Context, p model.Path) (model.SafetyFact, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, p model.Path) (model.SafetyFact, error)

func (f OracleFunc) QuerySafety(ctx context.Context, p model.Path) (model.SafetyFact, error) {
	return f(ctx, p)
}

// ImplSource lists the impls of a type.
type ImplSource interface {
	ImplementationsOf(ctx context.Context, p model.Path) ([]impls.Record, error)
}

// Inferencer computes and memoizes facts. It is safe for concurrent use;
// queries are serialized.
type Inferencer struct {
	store  *itemstore.Store
	ledger *ledger.Ledger
	binder impls.Binder
	impls  ImplSource
	oracle Oracle

	mu     sync.Mutex
	memo   map[model.Path]model.SafetyFact
	active map[model.Path]int
}

// Option configures an Inferencer.
type Option func(*Inferencer)

// WithOracle fills Unknown components from o.
func WithOracle(o Oracle) Option {
	return func(in *Inferencer) {
		in.oracle = o
	}
}

// WithImpls makes explicit Send and Sync impls override inference.
func WithImpls(src ImplSource) Option {
	return func(in *Inferencer) {
		in.impls = src
	}
}

func New(store *itemstore.Store, l *ledger.Ledger, binder impls.Binder, opts ...Option) *Inferencer {
	in := &Inferencer{
		store:  store,
		ledger: l,
		binder: binder,
		memo:   make(map[model.Path]model.SafetyFact),
		active: make(map[model.Path]int),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

const settled = math.MaxInt

// SafetyOf returns the fact for the type at p.
func (in *Inferencer) SafetyOf(ctx context.Context, p model.Path) (model.SafetyFact, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	f, _, err := in.of(ctx, p, 0)
	return f, err
}

// TypeSafety returns the fact for a type expression held by owner.
func (in *Inferencer) TypeSafety(ctx context.Context, owner model.Path, t model.TypeExpr) (model.SafetyFact, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	f, _, err := in.expr(ctx, owner, t, 0)
	return f, err
}

// of computes the fact of p at recursion depth. low is the shallowest
// in-progress path the computation leaned on; a fact is memoized only when
// it did not lean on anything above p.
func (in *Inferencer) of(ctx context.Context, p model.Path, depth int) (model.SafetyFact, int, error) {
	if f, ok := in.memo[p]; ok {
		return f, settled, nil
	}
	if d, ok := in.active[p]; ok {
		return model.SafetyTrue, d, nil
	}
	if err := ctx.Err(); err != nil {
		return model.SafetyUnknown, settled, err
	}

	in.active[p] = depth
	f, low, err := in.structural(ctx, p, depth)
	delete(in.active, p)
	if err != nil {
		return model.SafetyUnknown, settled, err
	}

	if f, err = in.override(ctx, p, f); err != nil {
		return model.SafetyUnknown, settled, err
	}
	if !f.Complete() && in.oracle != nil {
		o, err := in.oracle.QuerySafety(ctx, p)
		if err != nil {
			return model.SafetyUnknown, settled, fmt.Errorf("safety: oracle %s: %w", p, err)
		}
		if f.Exclusive == model.Unknown {
			f.Exclusive = o.Exclusive
		}
		if f.Shared == model.Unknown {
			f.Shared = o.Shared
		}
	}
	if low >= depth {
		in.memo[p] = f
		low = settled
	}
	return f, low, nil
}

func (in *Inferencer) structural(ctx context.Context, p model.Path, depth int) (model.SafetyFact, int, error) {
	if e, ok := in.ledger.Get(p); !ok || e.State != ledger.Resolved {
		if p.Unit != model.BuiltinUnit {
			return model.SafetyUnknown, settled, nil
		}
	}
	it := in.store.Item(p)
	if it == nil {
		return model.SafetyUnknown, settled, nil
	}
	if p.Unit == model.BuiltinUnit {
		if r, ok := builtinRules[p.Name]; ok {
			return r(nil), settled, nil
		}
	}

	f := model.SafetyTrue
	low := settled
	conj := func(t model.TypeExpr) error {
		mf, ml, err := in.expr(ctx, p, t, depth+1)
		if err != nil {
			return err
		}
		f = f.And(mf)
		low = min(low, ml)
		return nil
	}

	switch it.Kind {
	case model.KindStruct:
		for _, fd := range it.Fields {
			if err := conj(fd.Type); err != nil {
				return f, low, err
			}
		}
	case model.KindEnum:
		for _, v := range it.Variants {
			for _, fd := range v.Fields {
				if err := conj(fd.Type); err != nil {
					return f, low, err
				}
			}
		}
	case model.KindTypeAlias:
		if it.Aliased == nil {
			return model.SafetyUnknown, settled, nil
		}
		if err := conj(*it.Aliased); err != nil {
			return f, low, err
		}
	case model.KindPrimitive:
		return model.SafetyTrue, settled, nil
	default:
		return model.SafetyUnknown, settled, nil
	}
	return f, low, nil
}

// expr computes the fact of a type expression whose references belong to
// owner.
func (in *Inferencer) expr(ctx context.Context, owner model.Path, t model.TypeExpr, depth int) (model.SafetyFact, int, error) {
	args := func() ([]model.SafetyFact, int, error) {
		facts := make([]model.SafetyFact, 0, len(t.Args))
		low := settled
		for _, a := range t.Args {
			f, l, err := in.expr(ctx, owner, a, depth)
			if err != nil {
				return nil, settled, err
			}
			facts = append(facts, f)
			low = min(low, l)
		}
		return facts, low, nil
	}

	switch t.Shape {
	case model.TypeNamed:
		target, ok := in.binder.Target(owner, t.Ref)
		if !ok {
			return model.SafetyUnknown, settled, nil
		}
		if target.Unit == model.BuiltinUnit {
			if r, ok := builtinRules[target.Name]; ok {
				facts, low, err := args()
				if err != nil {
					return model.SafetyUnknown, settled, err
				}
				return r(facts), low, nil
			}
		}
		// A user generic type is not instantiated: fields over its
		// parameters stay Unknown.
		return in.of(ctx, target, depth)

	case model.TypeRef:
		facts, low, err := args()
		if err != nil || len(facts) == 0 {
			return model.SafetyUnknown, settled, err
		}
		inner := facts[0]
		if t.Mutable {
			return inner, low, nil
		}
		return model.SafetyFact{Exclusive: inner.Shared, Shared: inner.Shared}, low, nil

	case model.TypePtr:
		return model.SafetyFalse, settled, nil

	case model.TypeTuple, model.TypeArray:
		facts, low, err := args()
		if err != nil {
			return model.SafetyUnknown, settled, err
		}
		f := model.SafetyTrue
		for _, a := range facts {
			f = f.And(a)
		}
		return f, low, nil

	case model.TypeFn:
		return model.SafetyTrue, settled, nil

	default:
		return model.SafetyUnknown, settled, nil
	}
}

// override applies explicit Send and Sync impls for p. A negative impl
// asserts False; a positive one asserts True.
func (in *Inferencer) override(ctx context.Context, p model.Path, f model.SafetyFact) (model.SafetyFact, error) {
	if in.impls == nil || p.Unit == model.BuiltinUnit {
		return f, nil
	}
	recs, err := in.impls.ImplementationsOf(ctx, p)
	if err != nil {
		return f, fmt.Errorf("safety: impls of %s: %w", p, err)
	}
	for _, r := range recs {
		if r.Type != p {
			continue
		}
		asserted := model.TriOf(!r.Negative)
		switch r.Interface {
		case model.SendPath:
			f.Exclusive = asserted
		case model.SyncPath:
			f.Shared = asserted
		}
	}
	return f, nil
}
