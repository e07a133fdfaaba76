// Package metadata parses the structured parts of a commit message: the
// conventional header, the impact trailers (PHI-Impact, Clinical-Safety,
// Financial-Impact), the declared regulations and compliance codes, and
// the owning service.
//
// Parsing is tolerant and line oriented. Required fields are checked
// separately and reported as a *MissingFieldError rather than guessed.
package metadata
