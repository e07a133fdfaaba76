// Package cache provides a file-based cache of generated commit messages.
//
// Entries are keyed by a SHA-256 hash of the provider name, the model and
// the sanitized chunk text, so a cached value can only ever be derived from
// text that already passed the sanitizer. The default directory is
// $XDG_CACHE_HOME/commitgate (or the OS-appropriate equivalent).
package cache
