// Package unidiff segments unified diffs into files, hunks and lines while
// keeping exact byte offsets.
//
// Parsing is lossless: the preamble plus the byte ranges of every file,
// taken in order, cover the input with no gaps or overlaps, and each hunk
// range runs from its "@@" header to the start of the next hunk or file.
// The sanitizer relies on the per-line offsets to redact in place, and the
// chunker relies on the hunk ranges to cut only at hunk boundaries.
package unidiff
