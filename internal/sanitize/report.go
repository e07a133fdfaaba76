package sanitize

import (
	"fmt"
	"strings"

	"github.com/dshills/commitgate/internal/patterns"
)

// Verdict is the outcome of a scan.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictBlock  Verdict = "block"
)

// Override lets a reviewer accept high-severity findings. It never applies
// to critical findings.
type Override struct {
	Reason string `json:"reason"`
	By     string `json:"by,omitempty"`
}

func (o *Override) valid() bool {
	return o != nil && strings.TrimSpace(o.Reason) != ""
}

// FileFlag marks a file whose name alone makes it risky to commit.
type FileFlag struct {
	Path     string            `json:"path"`
	Severity patterns.Severity `json:"severity"`
	Reason   string            `json:"reason"`
}

// FileStat summarizes the lines touched in one file.
type FileStat struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Deleted int    `json:"deleted"`
}

// Report is the structured result of sanitizing one diff. Findings carry
// masked spans only; Redacted is the only copy of the diff it holds.
type Report struct {
	DiffID          string                    `json:"diffId"`
	CatalogVersion  string                    `json:"catalogVersion"`
	Files           []FileStat                `json:"files"`
	Findings        []patterns.Finding        `json:"findings"`
	FileFlags       []FileFlag                `json:"fileFlags,omitempty"`
	Counts          map[patterns.Severity]int `json:"counts"`
	HighestSeverity patterns.Severity         `json:"highestSeverity,omitempty"`
	Verdict         Verdict                   `json:"verdict"`
	Override        *Override                 `json:"override,omitempty"`
	Redacted        string                    `json:"-"`
}

// Paths returns the changed file paths in diff order.
func (r *Report) Paths() []string {
	out := make([]string, len(r.Files))
	for i, f := range r.Files {
		out[i] = f.Path
	}
	return out
}

// Err returns a *BlockedError when the verdict is block, nil otherwise.
func (r *Report) Err() error {
	if r.Verdict != VerdictBlock {
		return nil
	}
	return &BlockedError{
		DiffID:   r.DiffID,
		Highest:  r.HighestSeverity,
		Findings: r.Counts[patterns.SeverityCritical] + r.Counts[patterns.SeverityHigh],
	}
}

// BlockedError reports that a diff was stopped before generation.
type BlockedError struct {
	DiffID   string
	Highest  patterns.Severity
	Findings int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("diff %s blocked: %d blocking finding(s), highest severity %s", e.DiffID, e.Findings, e.Highest)
}
