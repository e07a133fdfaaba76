package gate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/commitgate/internal/chunk"
	"github.com/dshills/commitgate/internal/compliance"
	"github.com/dshills/commitgate/internal/metadata"
	"github.com/dshills/commitgate/internal/risk"
	"github.com/dshills/commitgate/internal/sanitize"
)

// Stage names where a run stopped.
const (
	StageScan     = "scan"
	StageGenerate = "generate"
	StageValidate = "validate"
	StageScore    = "score"
	StagePolicy   = "policy"
	StageDone     = "done"
)

// Input is one change to gate.
type Input struct {
	// ID identifies the change: a commit SHA, "staged", or a PR reference.
	ID   string
	Diff string
	// Message is the commit message to validate. When empty the pipeline
	// generates one from the sanitized diff.
	Message string
	// Paths overrides the changed paths read from the diff.
	Paths    []string
	Override *sanitize.Override
}

// Generation is one generated draft.
type Generation struct {
	Chunk      int    `json:"chunk"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Content    string `json:"content"`
	TokensUsed int    `json:"tokensUsed"`
	Cached     bool   `json:"cached,omitempty"`
}

// Timing records how long each stage took.
type Timing struct {
	ScanMs     int64 `json:"scanMs"`
	GenerateMs int64 `json:"generateMs"`
	TotalMs    int64 `json:"totalMs"`
}

// Result is the outcome of gating one change.
type Result struct {
	RunID       string                   `json:"runId"`
	ID          string                   `json:"id"`
	Stage       string                   `json:"stage"`
	Scan        *sanitize.Report         `json:"scan"`
	Chunks      []chunk.Chunk            `json:"chunks,omitempty"`
	Generations []Generation             `json:"generations,omitempty"`
	Message     string                   `json:"message,omitempty"`
	Generated   bool                     `json:"generated,omitempty"`
	Metadata    *metadata.CommitMetadata `json:"metadata,omitempty"`
	Problems    []metadata.Problem       `json:"problems,omitempty"`
	Compliance  *compliance.Evaluation   `json:"compliance,omitempty"`
	Assessment  *risk.Assessment         `json:"assessment,omitempty"`
	Policy      *PolicyDecision          `json:"policy,omitempty"`
	Timing      Timing                   `json:"timing"`

	missing error
}

// Passed reports whether the change may proceed.
func (r *Result) Passed() bool { return r.Err() == nil }

// Err joins every reason the change was stopped. Each part supports
// errors.As: *sanitize.BlockedError, *metadata.MissingFieldError,
// *ConventionError, *compliance.ValidationError and *PolicyDeniedError.
func (r *Result) Err() error {
	var errs []error
	if r.Scan != nil {
		errs = append(errs, r.Scan.Err())
	}
	errs = append(errs, r.missing)
	if metadata.HasErrors(r.Problems) {
		errs = append(errs, &ConventionError{CommitID: r.ID, Problems: r.Problems})
	}
	if r.Compliance != nil {
		errs = append(errs, r.Compliance.Err(r.ID))
	}
	if r.Policy != nil && !r.Policy.Allow {
		errs = append(errs, &PolicyDeniedError{CommitID: r.ID, Reasons: r.Policy.Reasons})
	}
	return errors.Join(errs...)
}

// ConventionError reports error-level commit message problems.
type ConventionError struct {
	CommitID string
	Problems []metadata.Problem
}

func (e *ConventionError) Error() string {
	var msgs []string
	for _, p := range e.Problems {
		if p.Level == metadata.LevelError {
			msgs = append(msgs, p.Field+": "+p.Message)
		}
	}
	return fmt.Sprintf("commit %s: message convention: %s", e.CommitID, strings.Join(msgs, "; "))
}

// PolicyDeniedError reports a deny from the policy evaluator.
type PolicyDeniedError struct {
	CommitID string
	Reasons  []string
}

func (e *PolicyDeniedError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("commit %s: denied by policy", e.CommitID)
	}
	return fmt.Sprintf("commit %s: denied by policy: %s", e.CommitID, strings.Join(e.Reasons, "; "))
}
