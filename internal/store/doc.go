// Package store provides SQLite-backed durable storage for simulation runs.
//
// The store holds:
//   - Runs: one row per run with its stop condition, status and crashed flag
//   - Iterations: one row per successfully persisted iteration
//   - Progress: the append-only progress log ("Iteration k: Ns")
//   - Unit stats: cumulative per-unit counters from the unit delta section
//   - Daily output tables: one table per record kind, columns generated
//     from the field map
//
// # Write Patterns
//
// An iteration's batch is written in a single transaction, after the engine
// exited. A failed iteration leaves no rows behind.
//
// Empty zone and category columns hold "" for the Background and All
// sentinels, so they can take part in primary keys.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
