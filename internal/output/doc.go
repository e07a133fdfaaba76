// Package output formats commitgate documents for display or machine
// consumption.
//
// Four formats are supported:
//   - text: terminal output with colored levels and aligned tables (default)
//   - json: the document as indented JSON
//   - markdown: PR-comment-friendly summary, also used by "scan pr --comment"
//   - sarif: SARIF v2.1.0 for scan findings and gate failures
//
// Use [GetWriter] to obtain a [Writer] for a format string, or [WriteTo] to
// pick the destination as well. [UI] prints status lines for interactive
// commands.
package output
