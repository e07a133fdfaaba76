// Package patterns detects sensitive values in text.
//
// Detectors are declared in a versioned YAML catalog (an embedded default
// ships with the binary) and compiled once by [Compile] into a [Matcher].
// Patterns of the same category are combined into a single alternation so
// a scan costs one pass per category rather than one pass per pattern.
//
// Each pattern carries a severity tier, an optional checksum (Luhn for card
// numbers) and an allow-list of known-safe literals such as canonical test
// placeholders. A Matcher never changes after compilation and may be shared
// by any number of goroutines; reloading means compiling a new catalog and
// swapping the pointer.
package patterns
