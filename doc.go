// Package surface discovers the public API surface of a Rust library from
// source: every externally reachable declaration, its resolved types, the
// trait impls relevant to it, and whether its types are Send and Sync.
//
// # Sessions
//
// A session starts from a root inside one unit (a library at a version and
// feature configuration) and runs a fixed-point loop over three work
// queues:
//
//  1. Load: locate and parse units as references reach into them.
//  2. Expand: hand macro invocations to the expansion oracle and lower
//     what it returns.
//  3. Resolve: bind symbolic paths through nested, glob-importing scopes.
//
// Rounds repeat until all three queues are empty. Each phase runs on a
// bounded worker pool and commits serially, so every round ends at a
// barrier.
//
// Once the ledger is stable, an impl index applies the locality rule and a
// safety inferencer derives Send/Sync facts by structural composition. The
// description builder then walks everything reachable from the root.
//
// # Failure isolation
//
// Nothing a library contains aborts a session. A unit that cannot be read,
// a macro the oracle declines, a path that names nothing, or an impl that
// breaks the locality rule is recorded as a failure for that path only.
// Failures travel up hard references (re-export and alias targets, impl
// headers) and stop at soft ones (field and signature types), which become
// unresolved placeholders. Every failure appears in the diagnostics.
//
// # Usage
//
//	e := surface.New(
//		surface.WithLocator(loc),
//		surface.WithScriptsDir("macros"),
//	)
//	res, err := e.Resolve(ctx, surface.Root{Unit: id})
//	if err != nil { ... }
//	for _, it := range res.Description.Items { ... }
//	for _, d := range res.Diagnostics { ... }
package surface
