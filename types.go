package surface

import (
	"github.com/jward/surface/internal/describe"
	"github.com/jward/surface/internal/expand"
	"github.com/jward/surface/internal/locate"
	"github.com/jward/surface/internal/model"
	"github.com/jward/surface/internal/safety"
	"github.com/jward/surface/internal/scheduler"
)

// Public type aliases for the internal types used by the Engine API.
// These are Go type aliases (=): identical to the internal types at
// compile time, so no conversion is needed.

type UnitID = model.UnitID
type Path = model.Path
type SafetyFact = model.SafetyFact
type Tri = model.Tri

type Locator = locate.Locator
type Source = locate.Source
type MapLocator = locate.MapLocator
type UnitDir = locate.UnitDir

type Oracle = expand.Oracle
type OracleFunc = expand.Func
type ExpansionRequest = expand.Request
type Expansion = expand.Expansion
type SafetyOracle = safety.Oracle
type SafetyOracleFunc = safety.OracleFunc

type APIDescription = describe.APIDescription
type Item = describe.Item
type Implementation = describe.Implementation
type Diagnostic = describe.Diagnostic
type Stats = scheduler.Stats

const (
	Unknown = model.Unknown
	True    = model.True
	False   = model.False
)

// NewMapLocator serves units from memory.
func NewMapLocator(srcs ...*Source) *MapLocator {
	return locate.NewMapLocator(srcs...)
}

// NewDirLocator reads units from directories on disk, caching up to
// cacheSize files (0 selects the default).
func NewDirLocator(units []UnitDir, cacheSize int) (Locator, error) {
	return locate.NewDirLocator(units, cacheSize)
}

// Fingerprint computes the unit fingerprint of a feature and cfg
// configuration.
func Fingerprint(features, cfg []string) string {
	return model.Fingerprint(features, cfg)
}
