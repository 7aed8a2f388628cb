// Package locate finds the source of a unit.
package locate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jward/surface/internal/model"
)

// ErrUnknownUnit is returned when a locator has no source for a unit.
var ErrUnknownUnit = errors.New("locate: unknown unit")

// Source is everything needed to load one unit.
type Source struct {
	Unit model.UnitID
	// Deps maps extern crate names, as written in source, to units.
	Deps     map[string]model.UnitID
	Features []string
	// Cfg holds enabled cfg flags, either "name" or "key=value".
	Cfg []string
	// Entry is the root file, relative to Files keys (e.g. "src/lib.rs").
	Entry string
	Files map[string][]byte
}

// Locator maps a unit id to its source. Implementations must be safe for
// concurrent use.
type Locator interface {
	Locate(ctx context.Context, id model.UnitID) (*Source, error)
}

// MapLocator serves sources held in memory.
type MapLocator struct {
	mu    sync.RWMutex
	units map[model.UnitID]*Source
}

func NewMapLocator(srcs ...*Source) *MapLocator {
	m := &MapLocator{units: make(map[model.UnitID]*Source)}
	for _, s := range srcs {
		m.Add(s)
	}
	return m
}

func (m *MapLocator) Add(s *Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[s.Unit] = s
}

func (m *MapLocator) Locate(ctx context.Context, id model.UnitID) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.units[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownUnit)
	}
	return s, nil
}

// Units lists the known units, sorted.
func (m *MapLocator) Units() []model.UnitID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.UnitID, 0, len(m.units))
	for id := range m.units {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
