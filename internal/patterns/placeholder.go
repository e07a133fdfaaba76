package patterns

// PlaceholderWidth is the length of every redaction placeholder.
const PlaceholderWidth = len("[REDACTED:CRIT]")

const placeholderPrefix = "[REDACTED:"

// Placeholder returns the fixed-width, severity-tagged replacement for a
// redacted span.
func Placeholder(s Severity) string {
	switch s {
	case SeverityCritical:
		return "[REDACTED:CRIT]"
	case SeverityHigh:
		return "[REDACTED:HIGH]"
	case SeverityMedium:
		return "[REDACTED:MED-]"
	default:
		return "[REDACTED:LOW-]"
	}
}
