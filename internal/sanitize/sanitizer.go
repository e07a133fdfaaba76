package sanitize

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/commitgate/internal/patterns"
	"github.com/dshills/commitgate/internal/unidiff"
)

// Origins recorded on findings.
const (
	OriginAdded    = "added"
	OriginRemoved  = "removed"
	OriginContext  = "context"
	OriginFilename = "filename"
	OriginPreamble = "preamble"
)

// SensitiveFileID is the pattern ID used for filename-based findings.
const SensitiveFileID = "sensitive-file"

// Sanitizer scans diffs with a compiled matcher. It holds no per-call state
// and is safe for concurrent use. The matcher can be replaced with Swap
// while scans are running; each scan uses one matcher throughout.
type Sanitizer struct {
	m   atomic.Pointer[patterns.Matcher]
	log zerolog.Logger
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithLogger sets the logger used for warning-level findings.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sanitizer) { s.log = l }
}

// New returns a Sanitizer backed by m.
func New(m *patterns.Matcher, opts ...Option) *Sanitizer {
	s := &Sanitizer{log: zerolog.Nop()}
	s.m.Store(m)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Swap installs a newly compiled matcher and returns the previous one.
func (s *Sanitizer) Swap(m *patterns.Matcher) *patterns.Matcher {
	return s.m.Swap(m)
}

// Matcher returns the matcher currently in use.
func (s *Sanitizer) Matcher() *patterns.Matcher {
	return s.m.Load()
}

// span is a byte range of the diff to be replaced by a placeholder.
type span struct {
	start, end int
	sev        patterns.Severity
}

// Sanitize scans diff and returns the report with its verdict and the
// redacted diff. ov may be nil. The input is never modified.
func (s *Sanitizer) Sanitize(diffID, diff string, ov *Override) *Report {
	m := s.m.Load()
	parsed := unidiff.Parse(diff)
	var findings []patterns.Finding
	var spans []span
	var flags []FileFlag

	if parsed.PreambleEnd > 0 {
		for _, f := range m.Scan(diff[:parsed.PreambleEnd]) {
			f.Origin = OriginPreamble
			findings = append(findings, f)
			spans = append(spans, span{f.Offset, f.Offset + f.Length, f.Severity})
		}
	}

	for _, file := range parsed.Files {
		path := file.Path()
		sensitive := m.MatchFile(path)
		if sensitive {
			flag, f := fileFlag(file)
			flags = append(flags, flag)
			findings = append(findings, f)
		}
		for _, h := range file.Hunks {
			for _, l := range h.Lines {
				origin, line, ok := classify(l)
				if !ok {
					continue
				}
				bodyStart := l.Start + 1
				bodyEnd := bodyStart + len(l.Text) - 1
				if bodyEnd <= bodyStart {
					continue
				}
				if sensitive {
					// Every line of a sensitive file is hidden; content
					// findings below still count toward the verdict.
					sev := patterns.SeverityHigh
					if origin != OriginAdded {
						sev = patterns.Demote(sev)
					}
					spans = append(spans, span{bodyStart, bodyEnd, sev})
				}
				for _, f := range m.Scan(l.Text[1:]) {
					f.Offset += bodyStart
					f.Location.File = path
					f.Location.Lines = patterns.LineRange{Start: line, End: line}
					f.Origin = origin
					if origin != OriginAdded {
						f.Severity = patterns.Demote(f.Severity)
						f.Action = patterns.ActionFor(f.Severity)
					}
					findings = append(findings, f)
					spans = append(spans, span{f.Offset, f.Offset + f.Length, f.Severity})
				}
			}
		}
	}

	sortByPosition(findings)
	verdict, highest, applied := Decide(findings, ov)
	r := &Report{
		DiffID:          diffID,
		CatalogVersion:  m.Version(),
		Files:           changedFiles(parsed),
		Findings:        findings,
		FileFlags:       flags,
		Counts:          countBySeverity(findings),
		HighestSeverity: highest,
		Verdict:         verdict,
		Redacted:        redact(diff, spans),
	}
	if applied {
		r.Override = ov
	}
	s.logFindings(r)
	return r
}

// Decide derives the verdict from findings alone. Any critical finding
// blocks. A high finding blocks unless ov allows it with a reason.
// Everything else is accepted. applied reports whether ov changed the
// outcome.
func Decide(findings []patterns.Finding, ov *Override) (verdict Verdict, highest patterns.Severity, applied bool) {
	for _, f := range findings {
		if patterns.SeverityRank(f.Severity) > patterns.SeverityRank(highest) {
			highest = f.Severity
		}
	}
	switch highest {
	case patterns.SeverityCritical:
		return VerdictBlock, highest, false
	case patterns.SeverityHigh:
		if ov.valid() {
			return VerdictAccept, highest, true
		}
		return VerdictBlock, highest, false
	default:
		return VerdictAccept, highest, false
	}
}

func (s *Sanitizer) logFindings(r *Report) {
	for _, f := range r.Findings {
		if f.Action != patterns.ActionWarn {
			continue
		}
		s.log.Warn().
			Str("diff_id", r.DiffID).
			Str("pattern", f.PatternID).
			Str("file", f.Location.File).
			Int("line", f.Location.Lines.Start).
			Str("origin", f.Origin).
			Msg("sensitive value in diff")
	}
	if r.Override != nil {
		s.log.Warn().
			Str("diff_id", r.DiffID).
			Str("reason", r.Override.Reason).
			Str("by", r.Override.By).
			Msg("high-severity findings accepted by override")
	}
}

// classify returns the origin and line number of a scannable body line.
func classify(l unidiff.Line) (origin string, line int, ok bool) {
	switch l.Kind {
	case unidiff.KindAdded:
		return OriginAdded, l.NewLine, true
	case unidiff.KindRemoved:
		return OriginRemoved, l.OldLine, true
	case unidiff.KindContext:
		return OriginContext, l.NewLine, true
	default:
		return "", 0, false
	}
}

func fileFlag(file unidiff.File) (FileFlag, patterns.Finding) {
	path := file.Path()
	sev := patterns.SeverityHigh
	origin := OriginFilename
	if file.NewName == "/dev/null" {
		// Deleting a sensitive file only lowers exposure.
		sev = patterns.Demote(sev)
	}
	flag := FileFlag{Path: path, Severity: sev, Reason: "file name matches a sensitive-file convention"}
	return flag, patterns.Finding{
		PatternID:   SensitiveFileID,
		Location:    patterns.Location{File: path},
		Offset:      file.Start,
		Severity:    sev,
		MatchedSpan: path,
		Action:      patterns.ActionFor(sev),
		Origin:      origin,
	}
}

// redact replaces every span with its placeholder. Overlapping or touching
// spans are merged and take the highest severity among them.
func redact(diff string, spans []span) string {
	if len(spans) == 0 {
		return diff
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			if patterns.SeverityRank(sp.sev) > patterns.SeverityRank(last.sev) {
				last.sev = sp.sev
			}
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	b.Grow(len(diff))
	pos := 0
	for _, sp := range merged {
		b.WriteString(diff[pos:sp.start])
		b.WriteString(patterns.Placeholder(sp.sev))
		pos = sp.end
	}
	b.WriteString(diff[pos:])
	return b.String()
}

// changedFiles lists the touched paths in diff order with line counts.
func changedFiles(parsed *unidiff.Diff) []FileStat {
	out := make([]FileStat, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		st := FileStat{Path: f.Path()}
		for _, h := range f.Hunks {
			for _, l := range h.Lines {
				switch l.Kind {
				case unidiff.KindAdded:
					st.Added++
				case unidiff.KindRemoved:
					st.Deleted++
				}
			}
		}
		out = append(out, st)
	}
	return out
}

func sortByPosition(findings []patterns.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Offset != findings[j].Offset {
			return findings[i].Offset < findings[j].Offset
		}
		return findings[i].PatternID < findings[j].PatternID
	})
}

func countBySeverity(findings []patterns.Finding) map[patterns.Severity]int {
	counts := make(map[patterns.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}
