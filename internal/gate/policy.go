package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dshills/commitgate/internal/metadata"
	"github.com/dshills/commitgate/internal/risk"
	"github.com/dshills/commitgate/internal/sanitize"
)

// PolicyInput is the document handed to a policy evaluator.
type PolicyInput struct {
	CommitID string                  `json:"commitId"`
	Metadata metadata.CommitMetadata `json:"metadata"`
	Scan     ScanSummary             `json:"scan"`
	Risk     risk.Assessment         `json:"risk"`
}

// ScanSummary is the part of a scan report a policy may see. It carries
// counts and file names, never matched text.
type ScanSummary struct {
	Verdict         sanitize.Verdict `json:"verdict"`
	HighestSeverity string           `json:"highestSeverity,omitempty"`
	Counts          map[string]int   `json:"counts"`
	FileFlags       []string         `json:"fileFlags,omitempty"`
	Overridden      bool             `json:"overridden"`
}

func summarize(r *sanitize.Report) ScanSummary {
	s := ScanSummary{
		Verdict:         r.Verdict,
		HighestSeverity: string(r.HighestSeverity),
		Counts:          make(map[string]int, len(r.Counts)),
		Overridden:      r.Override != nil,
	}
	for sev, n := range r.Counts {
		s.Counts[string(sev)] = n
	}
	for _, f := range r.FileFlags {
		s.FileFlags = append(s.FileFlags, f.Path)
	}
	return s
}

// PolicyDecision is the evaluator's answer.
type PolicyDecision struct {
	Allow   bool     `json:"allow"`
	Reasons []string `json:"reasons,omitempty"`
}

// PolicyEvaluator decides whether a scored change may merge. Rules live
// outside this program; the evaluator only transports the decision.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, in PolicyInput) (PolicyDecision, error)
}

// PolicyFunc adapts a function to PolicyEvaluator.
type PolicyFunc func(ctx context.Context, in PolicyInput) (PolicyDecision, error)

func (f PolicyFunc) Evaluate(ctx context.Context, in PolicyInput) (PolicyDecision, error) {
	return f(ctx, in)
}

// ExecPolicy runs an external rule engine. The input document is written
// to the command's stdin as JSON; the command must print a
// PolicyDecision as JSON on stdout and exit 0.
type ExecPolicy struct {
	Command string
	Env     []string
}

func (p *ExecPolicy) Evaluate(ctx context.Context, in PolicyInput) (PolicyDecision, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return PolicyDecision{}, fmt.Errorf("marshaling policy input: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", p.Command)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(cmd.Environ(), p.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return PolicyDecision{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return PolicyDecision{}, fmt.Errorf("policy command exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return PolicyDecision{}, fmt.Errorf("running policy command: %w", err)
	}

	var d PolicyDecision
	if err := json.Unmarshal(stdout.Bytes(), &d); err != nil {
		return PolicyDecision{}, fmt.Errorf("parsing policy decision: %w", err)
	}
	return d, nil
}
