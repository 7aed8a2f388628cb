package safety

import "github.com/jward/surface/internal/model"

// rule computes the fact of a builtin type from the facts of its type
// arguments.
type rule func(args []model.SafetyFact) model.SafetyFact

func constant(f model.SafetyFact) rule {
	return func([]model.SafetyFact) model.SafetyFact { return f }
}

// conjoin is the rule of an ordinary container: it is as safe as all of
// its arguments together.
func conjoin(arity int) rule {
	return func(args []model.SafetyFact) model.SafetyFact {
		if len(args) < arity {
			return model.SafetyUnknown
		}
		f := model.SafetyTrue
		for _, a := range args {
			f = f.And(a)
		}
		return f
	}
}

func first(args []model.SafetyFact) (model.SafetyFact, bool) {
	if len(args) == 0 {
		return model.SafetyUnknown, false
	}
	return args[0], true
}

// atomicShare: Arc<T> is Send and Sync only when T is both.
func atomicShare(args []model.SafetyFact) model.SafetyFact {
	t, ok := first(args)
	if !ok {
		return model.SafetyUnknown
	}
	both := t.Exclusive.And(t.Shared)
	return model.SafetyFact{Exclusive: both, Shared: both}
}

// mutex: Mutex<T> is Send and Sync when T is Send.
func mutex(args []model.SafetyFact) model.SafetyFact {
	t, ok := first(args)
	if !ok {
		return model.SafetyUnknown
	}
	return model.SafetyFact{Exclusive: t.Exclusive, Shared: t.Exclusive}
}

// rwLock: RwLock<T> is Send when T is Send, Sync when T is Send and Sync.
func rwLock(args []model.SafetyFact) model.SafetyFact {
	t, ok := first(args)
	if !ok {
		return model.SafetyUnknown
	}
	return model.SafetyFact{Exclusive: t.Exclusive, Shared: t.Exclusive.And(t.Shared)}
}

// cell: Cell<T> and RefCell<T> are Send when T is Send and never Sync.
func cell(args []model.SafetyFact) model.SafetyFact {
	t, ok := first(args)
	if !ok {
		return model.SafetyFact{Exclusive: model.Unknown, Shared: model.False}
	}
	return model.SafetyFact{Exclusive: t.Exclusive, Shared: model.False}
}

// builtinRules is keyed by the path name inside the builtin unit.
var builtinRules = map[string]rule{
	"string::String":        constant(model.SafetyTrue),
	"vec::Vec":              conjoin(1),
	"boxed::Box":            conjoin(1),
	"option::Option":        conjoin(1),
	"result::Result":        conjoin(2),
	"collections::HashMap":  conjoin(2),
	"collections::BTreeMap": conjoin(2),
	"collections::HashSet":  conjoin(1),
	"collections::BTreeSet": conjoin(1),
	"collections::VecDeque": conjoin(1),
	"marker::PhantomData":   conjoin(1),
	"sync::Arc":             atomicShare,
	"sync::Mutex":           mutex,
	"sync::RwLock":          rwLock,
	"rc::Rc":                constant(model.SafetyFalse),
	"cell::Cell":            cell,
	"cell::RefCell":         cell,
}

func init() {
	for _, p := range model.Primitives {
		builtinRules[p] = constant(model.SafetyTrue)
	}
}
