// Package services defines shared utilities consumed by the pipeline stage
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent failure reasons and retry classifications.
//
// The comfy and embedder subpackages hold the HTTP clients for the external
// renderer and embedding extractor. Use these helpers when wiring new stage
// logic so operational behaviour (error handling, observability, retries)
// stays uniform across the pipeline.
package services
