// Package config loads and merges commitgate configuration from multiple sources.
//
// Precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (COMMITGATE_PROVIDER, COMMITGATE_GENERATION_MAX_TOKENS, etc.)
//  3. Config file ($XDG_CONFIG_HOME/commitgate/config.yaml)
//  4. Built-in defaults
//
// Use [Load] to obtain a merged and validated [Config], [Save] to write a
// config file, and [SetField] to update a single dotted key.
package config
