// Package ir provides the canonical data model for the protocol engine.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the data model the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Commands are a tagged union: Kind selects exactly one Params type and
//     one Result type (see the registry in commands.go)
//   - Entities (Labware, Pipette, Module) are plain values; the reducers in
//     internal/state are their only writers
//   - All JSON tags use snake_case
//   - Canonical JSON (canonical.go) is the only serialization used for
//     hashing command keys and state snapshots
package ir
