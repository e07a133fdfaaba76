package patterns

// Severity represents the severity tier of a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityRank returns a numeric rank for sorting (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MeetsThreshold returns true if severity is at or above the threshold.
func MeetsThreshold(s Severity, threshold string) bool {
	if threshold == "none" || threshold == "" {
		return false
	}
	return SeverityRank(s) >= SeverityRank(Severity(threshold))
}

// Demote lowers a severity by one tier. Low stays low.
func Demote(s Severity) Severity {
	switch s {
	case SeverityCritical:
		return SeverityHigh
	case SeverityHigh:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Category groups patterns that are compiled together.
type Category string

const (
	CategoryIdentifier Category = "identifier"
	CategoryCredential Category = "credential"
	CategoryFinancial  Category = "financial"
	CategoryContact    Category = "contact"
)

// Action is what the gate does with a finding.
type Action string

const (
	ActionBlock Action = "block"
	ActionWarn  Action = "warn"
	ActionLog   Action = "log"
)

// ActionFor maps a severity to the action taken for it.
func ActionFor(s Severity) Action {
	switch s {
	case SeverityCritical, SeverityHigh:
		return ActionBlock
	case SeverityMedium:
		return ActionWarn
	default:
		return ActionLog
	}
}

// LineRange represents a range of line numbers.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Location represents where a finding was detected.
type Location struct {
	File  string    `json:"file,omitempty"`
	Lines LineRange `json:"lines"`
}

// Finding is a single sensitive-value match. MatchedSpan never holds the
// raw value, only its masked shape.
type Finding struct {
	PatternID   string   `json:"patternId"`
	Category    Category `json:"category"`
	Location    Location `json:"location"`
	Offset      int      `json:"offset"`
	Length      int      `json:"length"`
	Severity    Severity `json:"severity"`
	MatchedSpan string   `json:"matchedSpan"`
	Action      Action   `json:"action"`
	// Origin is the diff line kind the match came from ("added",
	// "removed", "context" or "filename"); empty for plain text scans.
	Origin string `json:"origin,omitempty"`
}
