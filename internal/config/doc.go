// Package config loads, normalizes, and validates Tower configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TOWER_RENDERER_URL. The Config type centralizes every knob the daemon and
// CLI need: service endpoints, worker limits, scoring thresholds, and
// notification settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
