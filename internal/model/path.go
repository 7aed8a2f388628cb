package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Sep joins path segments.
const Sep = "::"

// UnitID identifies one compilation unit instantiation: a library at a
// version, built under one feature and cfg configuration. Two
// instantiations of the same library differ by Fingerprint.
type UnitID struct {
	Name        string
	Version     string
	Fingerprint string
}

// BuiltinUnit holds primitive types and the prelude.
var BuiltinUnit = UnitID{Name: "{builtin}", Version: "0.0.0"}

func (u UnitID) IsZero() bool { return u == UnitID{} }

func (u UnitID) String() string {
	if u.Fingerprint == "" {
		return u.Name + "@" + u.Version
	}
	return u.Name + "@" + u.Version + "[" + u.Fingerprint + "]"
}

// Fingerprint computes a deterministic identity for a feature and cfg
// configuration. Order and duplicates do not matter. An empty configuration
// yields "".
func Fingerprint(features, cfg []string) string {
	if len(features) == 0 && len(cfg) == 0 {
		return ""
	}
	h := sha256.New()
	fmt.Fprintf(h, "features:%s\n", strings.Join(sortedUnique(features), ","))
	fmt.Fprintf(h, "cfg:%s\n", strings.Join(sortedUnique(cfg), ","))
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Path is the absolute, canonical location of an item: the unit that owns it
// plus the "::"-joined segments inside that unit. Name "" is the unit root
// module. Path is comparable and used directly as a map key.
type Path struct {
	Unit UnitID
	Name string
}

// NewPath builds a Path from segments. Empty segments are skipped.
func NewPath(unit UnitID, segments ...string) Path {
	return Path{Unit: unit}.Join(segments...)
}

func (p Path) IsZero() bool { return p == Path{} }

// IsRoot reports whether p names the unit root module.
func (p Path) IsRoot() bool { return p.Name == "" }

// Segments returns the path segments. The root has none.
func (p Path) Segments() []string {
	return SplitSegments(p.Name)
}

// Join appends segments.
func (p Path) Join(segments ...string) Path {
	name := p.Name
	for _, s := range segments {
		if s == "" {
			continue
		}
		if name == "" {
			name = s
		} else {
			name += Sep + s
		}
	}
	return Path{Unit: p.Unit, Name: name}
}

// Parent returns the enclosing path. The root has no parent.
func (p Path) Parent() (Path, bool) {
	if p.Name == "" {
		return Path{}, false
	}
	i := strings.LastIndex(p.Name, Sep)
	if i < 0 {
		return Path{Unit: p.Unit}, true
	}
	return Path{Unit: p.Unit, Name: p.Name[:i]}, true
}

// Last returns the final segment, or "" for the root.
func (p Path) Last() string {
	i := strings.LastIndex(p.Name, Sep)
	if i < 0 {
		return p.Name
	}
	return p.Name[i+len(Sep):]
}

func (p Path) String() string {
	if p.Name == "" {
		return p.Unit.String()
	}
	return p.Unit.String() + Sep + p.Name
}

// Less orders paths by unit then name, for deterministic output.
func (p Path) Less(o Path) bool {
	if p.Unit != o.Unit {
		return p.Unit.String() < o.Unit.String()
	}
	return p.Name < o.Name
}

// SplitSegments splits "a::b::c" into its segments, dropping empty ones.
func SplitSegments(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, Sep)
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SortPaths sorts in place using Less.
func SortPaths(ps []Path) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Less(ps[j]) })
}
