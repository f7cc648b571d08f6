// Package daemon coordinates the long-running Tower process.
//
// It wires configuration, the job store, the pipeline manager, the gate
// evaluator, and the broadcast hub into a single lifecycle with flock-based
// locking to prevent multiple instances. The daemon exposes the control
// operations the IPC and HTTP surfaces delegate to, and owns the embedded
// HTTP API server.
//
// Keep orchestration logic here: stage behavior lives in the pipeline
// packages while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
