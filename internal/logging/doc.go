// Package logging wires structured logging for the tower daemon and CLI.
//
// Loggers are standard log/slog instances. New builds one from explicit
// Options; NewFromConfig derives the options from application config and
// tees output to stdout plus tower.log under the configured log directory.
// Two formats are supported: "json" for machine consumption and "console",
// a compact single-line form with the component name folded into the
// message prefix.
//
// The package also carries the shared attribute vocabulary (Field*
// constants), context-derived attribute extraction, and a ProgressSampler
// used to cap the volume of render progress lines.
package logging
