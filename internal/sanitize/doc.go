// Package sanitize removes sensitive data from diff content before it is
// sent to any text-generation backend.
//
// [Sanitizer.Sanitize] splits a unified diff per file and scans each body
// line with a compiled [patterns.Matcher]. Added lines are scanned at full
// severity; context and removed lines are scanned too but their findings
// are demoted one tier, since the value already exists in history. Files
// whose names follow sensitive conventions (.env, *.pem, id_rsa, ...) are
// flagged independent of their content and have every body line redacted.
//
// The resulting [Report] carries the findings, the accept/block verdict
// and a redacted copy of the diff in which each matched span is replaced
// by a fixed-width, severity-tagged placeholder. The unredacted diff never
// leaves this package through a Report.
package sanitize
