package output

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/commitgate/internal/audit"
	"github.com/dshills/commitgate/internal/bisect"
	"github.com/dshills/commitgate/internal/gate"
	"github.com/dshills/commitgate/internal/patterns"
	"github.com/dshills/commitgate/internal/risk"
	"github.com/dshills/commitgate/internal/sanitize"
)

// TextWriter outputs human-readable terminal reports.
type TextWriter struct{}

func (t *TextWriter) Write(w io.Writer, doc any) error {
	ew := &errWriter{w: w}
	switch d := doc.(type) {
	case *sanitize.Report:
		textScan(ew, d)
	case *gate.Result:
		textGate(ew, d)
	case []*gate.Result:
		for i, r := range d {
			if i > 0 {
				ew.println("")
			}
			textGate(ew, r)
		}
	case *risk.Assessment:
		textAssessment(ew, d)
	case *bisect.Session:
		textSession(ew, d)
	case ChunkPlan:
		textChunks(ew, d)
	case []*audit.Record:
		textRecords(ew, d)
	case []audit.IncidentSummary:
		textIncidents(ew, d)
	default:
		return &UnsupportedError{Format: "text", Doc: doc}
	}
	return ew.err
}

var rule = strings.Repeat("─", 60)

func textScan(ew *errWriter, r *sanitize.Report) {
	ew.printf("%s %s\n", bold("Scan"), r.DiffID)
	ew.printf("Catalog: %s | Files: %d\n", r.CatalogVersion, len(r.Files))
	ew.println(rule)
	total := len(r.Findings)
	ew.printf("Findings: %d total", total)
	if total > 0 {
		var parts []string
		for _, sev := range severities {
			if n := r.Counts[sev]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, sev))
			}
		}
		ew.printf(" (%s)", strings.Join(parts, ", "))
	}
	ew.println("")

	if len(r.FileFlags) > 0 {
		ew.println("\nSensitive files:")
		for _, f := range r.FileFlags {
			ew.printf("  %s  %s  %s\n", SeverityColor(f.Severity), f.Path, f.Reason)
		}
	}

	if total > 0 {
		ew.println("")
		table := newTable(ew, []string{"Severity", "Pattern", "Location", "Origin", "Match"})
		for _, f := range r.Findings {
			_ = table.Append([]string{SeverityColor(f.Severity), f.PatternID, location(f), f.Origin, f.MatchedSpan})
		}
		_ = table.Render()
	}

	ew.println(rule)
	verdict := passFail(r.Verdict == sanitize.VerdictAccept, "ACCEPT", "BLOCK")
	ew.printf("Verdict: %s", verdict)
	if r.HighestSeverity != "" {
		ew.printf(" (highest: %s)", SeverityColor(r.HighestSeverity))
	}
	if r.Override != nil {
		ew.printf(" override: %q", r.Override.Reason)
	}
	ew.println("")
}

func textGate(ew *errWriter, r *gate.Result) {
	ew.printf("%s %s (run %s, stopped at %s)\n", bold("Gate"), r.ID, r.RunID, r.Stage)
	ew.println(rule)
	if r.Scan != nil {
		textScan(ew, r.Scan)
	}

	if r.Message != "" {
		label := "Message"
		if r.Generated {
			label = fmt.Sprintf("Generated message (%d chunk(s), %d call(s))", len(r.Chunks), len(r.Generations))
		}
		ew.printf("\n%s:\n", label)
		for _, line := range strings.Split(strings.TrimRight(r.Message, "\n"), "\n") {
			ew.printf("  %s\n", line)
		}
	}

	if len(r.Problems) > 0 {
		ew.println("\nConvention:")
		for _, p := range r.Problems {
			lvl := yellow(p.Level)
			if p.Level == "error" {
				lvl = red(p.Level)
			}
			ew.printf("  %s  %s: %s\n", lvl, p.Field, p.Message)
		}
	}

	if c := r.Compliance; c != nil {
		ew.printf("\nCompliance (catalog %s): %s\n", c.CatalogVersion, passFail(c.OK(), "ok", "failed"))
		for _, res := range c.Results {
			for _, v := range res.Valid {
				ew.printf("  %s  %s:%s  %s\n", green("valid"), v.Framework, v.Code, v.Description)
			}
			for _, v := range res.Invalid {
				ew.printf("  %s  %s:%s  %s\n", red("invalid"), v.Framework, v.Code, joinNonEmpty(v.Reason, v.Detail))
			}
		}
		for _, is := range c.Issues {
			ew.printf("  %s  [%s] %s\n", yellow(is.Kind), is.Framework, is.Message)
		}
	}

	if r.Assessment != nil {
		ew.println("")
		textAssessment(ew, r.Assessment)
	}

	if p := r.Policy; p != nil {
		ew.printf("\nPolicy: %s\n", passFail(p.Allow, "allow", "deny"))
		for _, reason := range p.Reasons {
			ew.printf("  - %s\n", reason)
		}
	}

	ew.println(rule)
	if err := r.Err(); err != nil {
		ew.printf("Result: %s\n", red("BLOCKED"))
		for _, msg := range errorLines(err) {
			ew.printf("  %s\n", msg)
		}
	} else {
		ew.printf("Result: %s\n", green("PASSED"))
	}
	ew.printf("Completed in %dms (scan: %dms, generate: %dms)\n",
		r.Timing.TotalMs, r.Timing.ScanMs, r.Timing.GenerateMs)
}

func textAssessment(ew *errWriter, a *risk.Assessment) {
	ew.printf("Risk %s: %s (score %.1f)\n", a.CommitID, LevelColor(a.Level), a.Score)
	ew.printf("Strategy: %s | Required approvals: %d\n", a.Strategy, a.RequiredApprovals)
	table := newTable(ew, []string{"Factor", "Value", "Points"})
	for _, f := range a.Factors {
		pts := strconv.FormatFloat(f.Points, 'f', 1, 64)
		val := f.Value
		if f.Omitted {
			pts = "-"
			val = f.Note
		}
		_ = table.Append([]string{f.Name, val, pts})
	}
	_ = table.Render()
	if len(a.Recommendations) > 0 {
		ew.println("Recommendations:")
		for _, rec := range a.Recommendations {
			ew.printf("  - %s\n", rec)
		}
	}
}

func textSession(ew *errWriter, s *bisect.Session) {
	ew.printf("%s %s  %s..%s\n", bold("Bisect"), s.ID, s.GoodRef, s.BadRef)
	ew.printf("Candidates: %d | Oracle calls: %d | State: %s\n", len(s.Candidates), s.OracleCalls(), s.State)
	ew.println(rule)
	if len(s.Steps) > 0 {
		table := newTable(ew, []string{"#", "Phase", "Commit", "Priority", "Verdict", "Remaining", "Duration"})
		for _, st := range s.Steps {
			verdict := string(st.Verdict)
			if st.Err != "" {
				verdict += ": " + st.Err
			}
			_ = table.Append([]string{
				strconv.Itoa(st.Seq), st.Phase, shortSHA(st.Commit), string(st.Priority),
				verdict, strconv.Itoa(st.Remaining), st.Duration.Round(time.Millisecond).String(),
			})
		}
		_ = table.Render()
		ew.println(rule)
	}
	switch {
	case s.State == bisect.StateFound:
		ew.printf("First bad commit: %s\n", green(s.Result.Commit))
	case s.Result.Exhausted:
		ew.printf("Exhausted: %s\n", red(s.Result.Reason))
	default:
		ew.printf("State: %s\n", s.State)
	}
}

func textChunks(ew *errWriter, p ChunkPlan) {
	ew.printf("%s %s  budget %d tokens", bold("Chunks"), p.DiffID, p.Budget)
	if p.Model != "" {
		ew.printf(" (%s)", p.Model)
	}
	ew.println("")
	table := newTable(ew, []string{"#", "Bytes", "Tokens", "Files"})
	for _, c := range p.Chunks {
		_ = table.Append([]string{
			fmt.Sprintf("%d/%d", c.Index+1, c.Total),
			fmt.Sprintf("%d-%d", c.Range.Start, c.Range.End),
			strconv.Itoa(c.EstimatedTokens),
			strings.Join(c.Files, ", "),
		})
	}
	_ = table.Render()
}

func textRecords(ew *errWriter, recs []*audit.Record) {
	if len(recs) == 0 {
		ew.println("No assessments recorded.")
		return
	}
	table := newTable(ew, []string{"Commit", "Level", "Score", "Strategy", "Scan", "Codes", "Recorded"})
	for _, r := range recs {
		_ = table.Append([]string{
			shortSHA(r.CommitID), LevelColor(r.Assessment.Level),
			strconv.FormatFloat(r.Assessment.Score, 'f', 1, 64), string(r.Assessment.Strategy),
			r.ScanVerdict, passFail(r.CodesOK, "ok", "invalid"), r.CreatedAt.Format(time.RFC3339),
		})
	}
	_ = table.Render()
}

func textIncidents(ew *errWriter, sums []audit.IncidentSummary) {
	if len(sums) == 0 {
		ew.println("No bisect sessions recorded.")
		return
	}
	table := newTable(ew, []string{"ID", "Range", "State", "Commit", "Calls", "Started"})
	for _, s := range sums {
		result := shortSHA(s.Commit)
		if result == "" {
			result = s.Reason
		}
		_ = table.Append([]string{
			s.ID, s.GoodRef + ".." + s.BadRef, string(s.State), result,
			strconv.Itoa(s.OracleCalls), s.Started.Format(time.RFC3339),
		})
	}
	_ = table.Render()
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	ew.err = err
	return n, err
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}

var severities = []patterns.Severity{
	patterns.SeverityCritical, patterns.SeverityHigh, patterns.SeverityMedium, patterns.SeverityLow,
}

func location(f patterns.Finding) string {
	if f.Location.File == "" {
		return fmt.Sprintf("line %d", f.Location.Lines.Start)
	}
	return fmt.Sprintf("%s:%d", f.Location.File, f.Location.Lines.Start)
}

func shortSHA(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ": ")
}

// errorLines flattens a joined error into one line per cause.
func errorLines(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, errorLines(e)...)
		}
		return out
	}
	return []string{err.Error()}
}
