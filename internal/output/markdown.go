package output

import (
	"io"
	"strings"

	"github.com/dshills/commitgate/internal/bisect"
	"github.com/dshills/commitgate/internal/gate"
	"github.com/dshills/commitgate/internal/patterns"
	"github.com/dshills/commitgate/internal/risk"
	"github.com/dshills/commitgate/internal/sanitize"
)

// MarkdownWriter outputs a PR-comment-friendly markdown report.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, doc any) error {
	ew := &errWriter{w: w}
	switch d := doc.(type) {
	case *sanitize.Report:
		ew.printf("## commitgate scan: `%s`\n\n", d.DiffID)
		mdScan(ew, d)
	case *gate.Result:
		mdGate(ew, d)
	case []*gate.Result:
		for _, r := range d {
			mdGate(ew, r)
		}
	case *risk.Assessment:
		mdAssessment(ew, d, "##")
	case *bisect.Session:
		mdSession(ew, d)
	default:
		return &UnsupportedError{Format: "markdown", Doc: doc}
	}
	return ew.err
}

func mdScan(ew *errWriter, r *sanitize.Report) {
	verdict := ":white_check_mark: **accept**"
	if r.Verdict == sanitize.VerdictBlock {
		verdict = ":no_entry: **block**"
	}
	ew.printf("Verdict: %s", verdict)
	if r.HighestSeverity != "" {
		ew.printf(" (highest severity: %s)", r.HighestSeverity)
	}
	if r.Override != nil {
		ew.printf(", overridden: %s", r.Override.Reason)
	}
	ew.printf("\n\n")

	ew.printf("| Severity | Count |\n")
	ew.printf("|----------|-------|\n")
	for _, sev := range severities {
		ew.printf("| %s %s | %d |\n", mdSeverityIcon(sev), sev, r.Counts[sev])
	}
	ew.printf("| **Total** | **%d** |\n\n", len(r.Findings))

	if len(r.FileFlags) > 0 {
		ew.printf("**Sensitive files**\n\n")
		for _, f := range r.FileFlags {
			ew.printf("- `%s` (%s): %s\n", f.Path, f.Severity, f.Reason)
		}
		ew.printf("\n")
	}

	if len(r.Findings) == 0 {
		ew.println("No sensitive values found. :white_check_mark:")
		ew.println("")
		return
	}

	ew.printf("<details>\n<summary>Findings (%d)</summary>\n\n", len(r.Findings))
	ew.printf("| Severity | Pattern | Location | Match |\n")
	ew.printf("|----------|---------|----------|-------|\n")
	for _, f := range r.Findings {
		ew.printf("| %s %s | `%s` | `%s` | `%s` |\n",
			mdSeverityIcon(f.Severity), f.Severity, f.PatternID, location(f), mdEscape(f.MatchedSpan))
	}
	ew.printf("\n</details>\n\n")
}

func mdGate(ew *errWriter, r *gate.Result) {
	status := ":white_check_mark: passed"
	err := r.Err()
	if err != nil {
		status = ":no_entry: blocked"
	}
	ew.printf("## commitgate: `%s` %s\n\n", r.ID, status)

	if r.Scan != nil {
		ew.printf("### Scan\n\n")
		mdScan(ew, r.Scan)
	}

	if r.Message != "" {
		heading := "Message"
		if r.Generated {
			heading = "Generated message"
		}
		ew.printf("### %s\n\n```\n%s\n```\n\n", heading, strings.TrimRight(r.Message, "\n"))
	}

	if len(r.Problems) > 0 {
		ew.printf("### Convention\n\n")
		for _, p := range r.Problems {
			ew.printf("- **%s** `%s`: %s\n", p.Level, p.Field, p.Message)
		}
		ew.printf("\n")
	}

	if c := r.Compliance; c != nil && (len(c.Results) > 0 || len(c.Issues) > 0) {
		ew.printf("### Compliance\n\n")
		for _, res := range c.Results {
			for _, v := range res.Valid {
				ew.printf("- :white_check_mark: `%s:%s` %s\n", v.Framework, v.Code, v.Description)
			}
			for _, v := range res.Invalid {
				ew.printf("- :x: `%s:%s` %s\n", v.Framework, v.Code, joinNonEmpty(v.Reason, v.Detail))
			}
		}
		for _, is := range c.Issues {
			ew.printf("- :warning: %s (%s): %s\n", is.Kind, is.Framework, is.Message)
		}
		ew.printf("\n")
	}

	if r.Assessment != nil {
		mdAssessment(ew, r.Assessment, "###")
	}

	if p := r.Policy; p != nil && !p.Allow {
		ew.printf("### Policy\n\nDenied:\n\n")
		for _, reason := range p.Reasons {
			ew.printf("- %s\n", reason)
		}
		ew.printf("\n")
	}

	if err != nil {
		ew.printf("**Blocking reasons**\n\n")
		for _, line := range errorLines(err) {
			ew.printf("- %s\n", line)
		}
		ew.printf("\n")
	}

	ew.printf("*Gated in %dms (scan: %dms, generate: %dms)*\n\n",
		r.Timing.TotalMs, r.Timing.ScanMs, r.Timing.GenerateMs)
}

func mdAssessment(ew *errWriter, a *risk.Assessment, heading string) {
	ew.printf("%s Risk: %s %s (%.1f)\n\n", heading, mdLevelIcon(a.Level), a.Level, a.Score)
	ew.printf("Rollout: **%s**, %d approval(s) required\n\n", a.Strategy, a.RequiredApprovals)
	ew.printf("| Factor | Value | Points |\n")
	ew.printf("|--------|-------|--------|\n")
	for _, f := range a.Factors {
		if f.Omitted {
			ew.printf("| %s | _%s_ | - |\n", f.Name, f.Note)
			continue
		}
		ew.printf("| %s | %s | %.1f |\n", f.Name, f.Value, f.Points)
	}
	ew.printf("\n")
	for _, rec := range a.Recommendations {
		ew.printf("- [ ] %s\n", rec)
	}
	ew.printf("\n")
}

func mdSession(ew *errWriter, s *bisect.Session) {
	ew.printf("## Bisect `%s`\n\n", s.ID)
	ew.printf("Range `%s..%s`, %d candidate(s), %d oracle call(s).\n\n", s.GoodRef, s.BadRef, len(s.Candidates), s.OracleCalls())
	switch {
	case s.State == bisect.StateFound:
		ew.printf("First bad commit: **`%s`**\n\n", s.Result.Commit)
	case s.Result.Exhausted:
		ew.printf("Exhausted: **%s**\n\n", s.Result.Reason)
	}
	if len(s.Steps) == 0 {
		return
	}
	ew.printf("| # | Phase | Commit | Priority | Verdict | Remaining |\n")
	ew.printf("|---|-------|--------|----------|---------|-----------|\n")
	for _, st := range s.Steps {
		ew.printf("| %d | %s | `%s` | %s | %s | %d |\n",
			st.Seq, st.Phase, shortSHA(st.Commit), st.Priority, st.Verdict, st.Remaining)
	}
	ew.printf("\n")
}

func mdSeverityIcon(s patterns.Severity) string {
	switch s {
	case patterns.SeverityCritical:
		return ":red_circle:"
	case patterns.SeverityHigh:
		return ":orange_circle:"
	case patterns.SeverityMedium:
		return ":yellow_circle:"
	default:
		return ":white_circle:"
	}
}

func mdLevelIcon(l risk.Level) string {
	switch l {
	case risk.LevelCritical:
		return ":red_circle:"
	case risk.LevelHigh:
		return ":orange_circle:"
	case risk.LevelMedium:
		return ":yellow_circle:"
	default:
		return ":green_circle:"
	}
}

func mdEscape(s string) string {
	return strings.NewReplacer("|", "\\|", "`", "'").Replace(s)
}
