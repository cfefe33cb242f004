// Package store provides SQLite-backed durable storage for protocol run
// action logs.
//
// The store implements an append-only log with:
//   - Runs: one record per engine run, with the reducer config it used
//   - Actions: every applied action as a canonical JSON envelope
//
// # Critical Patterns
//
// Idempotent writes:
//   - PRIMARY KEY(run_id, seq) with ON CONFLICT DO NOTHING
//   - Re-writing an envelope after a crash is harmless
//
// Logical order:
//   - All ordering uses seq INTEGER (pipeline sequence), NEVER timestamps
//   - Enables deterministic replay regardless of wall time
//
// Deterministic query results:
//   - Action queries MUST include: ORDER BY seq ASC
//   - Run queries MUST include: ORDER BY id COLLATE BINARY ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
