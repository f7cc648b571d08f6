// Package jobs persists generation jobs in SQLite and owns the job state
// machine.
//
// The Store manages database connections, schema initialization, guarded
// status transitions, and the append-only tables that back reproducibility:
// generation parameters (written once at submit), consistency scores, gate
// evaluations, and the transition audit log. Every status change goes
// through a compare-and-swap UPDATE plus an audit insert in one
// transaction, so a crash between deciding a transition and applying it
// leaves the previous state intact rather than a half-applied one.
//
// Character reference sets live here too; InsertReference enforces the
// capacity cap and quality-based eviction transactionally.
//
// The database is rebuildable operational state rather than a long-term
// archive. Schema changes bump the version in schema.go; users delete the
// database to adopt the new schema.
package jobs
