// Package cli wires together the Cobra command tree for the commitgate
// binary.
//
// It defines the root command and its subcommands (scan, chunk, gate,
// validate, score, bisect, audit, catalog, hook, config, cache, models,
// version), loads configuration once per invocation, builds the pipeline
// components from it, and returns deterministic exit codes for hooks and CI.
package cli
