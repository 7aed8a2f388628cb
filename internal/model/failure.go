package model

import "fmt"

// FailureKind classifies why a path could not be resolved.
type FailureKind string

const (
	UnitLoadFailure    FailureKind = "unit_load"
	ExpansionFailure   FailureKind = "expansion"
	PathUnresolvable   FailureKind = "unresolvable"
	CoherenceViolation FailureKind = "coherence"
	DependencyFailure  FailureKind = "dependency"
)

// Failure is a terminal, recorded outcome for one path. It is data, not a
// Go error: the session carries on past it.
type Failure struct {
	Kind   FailureKind
	Reason string
	// Cause is the path whose failure propagated here, for DependencyFailure.
	Cause Path
}

func (f Failure) Error() string {
	if f.Cause.IsZero() {
		return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
	}
	return fmt.Sprintf("%s: %s (caused by %s)", f.Kind, f.Reason, f.Cause)
}

// Tri is a three-valued boolean.
type Tri int8

const (
	Unknown Tri = iota
	True
	False
)

func TriOf(b bool) Tri {
	if b {
		return True
	}
	return False
}

// And is the three-valued conjunction: False dominates, then Unknown.
func (t Tri) And(o Tri) Tri {
	switch {
	case t == False || o == False:
		return False
	case t == Unknown || o == Unknown:
		return Unknown
	default:
		return True
	}
}

func (t Tri) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// SafetyFact says whether a type may be moved to another thread
// (Exclusive, "Send") and shared between threads (Shared, "Sync").
type SafetyFact struct {
	Exclusive Tri
	Shared    Tri
}

var (
	SafetyTrue    = SafetyFact{Exclusive: True, Shared: True}
	SafetyFalse   = SafetyFact{Exclusive: False, Shared: False}
	SafetyUnknown = SafetyFact{}
)

func (f SafetyFact) And(o SafetyFact) SafetyFact {
	return SafetyFact{Exclusive: f.Exclusive.And(o.Exclusive), Shared: f.Shared.And(o.Shared)}
}

// Complete reports whether neither component is Unknown.
func (f SafetyFact) Complete() bool {
	return f.Exclusive != Unknown && f.Shared != Unknown
}
