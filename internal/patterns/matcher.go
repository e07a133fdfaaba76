package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/dshills/commitgate/internal/pathglob"
)

// maxMaskLen caps the masked preview stored in Finding.MatchedSpan.
const maxMaskLen = 40

// detector is the combined expression for one category.
type detector struct {
	category Category
	re       *regexp.Regexp
	// groups[i] is the submatch index of patterns[i] inside re.
	groups   []int
	patterns []Pattern
	// single[i] is patterns[i] compiled alone, used to look inside a
	// combined match for a more severe pattern it swallowed.
	single []*regexp.Regexp
}

// Matcher scans text against a compiled catalog. It is immutable after
// Compile returns.
type Matcher struct {
	version   string
	detectors []detector
	patterns  []Pattern
	files     *pathglob.Set
}

// Compile builds one alternation per category from the catalog.
func Compile(cat *Catalog) (*Matcher, error) {
	if cat == nil {
		return nil, fmt.Errorf("compiling patterns: nil catalog")
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}

	byCategory := make(map[Category][]Pattern)
	var order []Category
	for _, p := range cat.Patterns {
		if _, ok := byCategory[p.Category]; !ok {
			order = append(order, p.Category)
		}
		byCategory[p.Category] = append(byCategory[p.Category], p)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	files, err := pathglob.Compile(cat.SensitiveFiles)
	if err != nil {
		return nil, fmt.Errorf("compiling sensitive file globs: %w", err)
	}
	m := &Matcher{
		version:  cat.Version,
		patterns: append([]Pattern(nil), cat.Patterns...),
		files:    files,
	}
	for _, c := range order {
		pats := byCategory[c]
		alts := make([]string, len(pats))
		for i, p := range pats {
			alts[i] = fmt.Sprintf("(?P<g%d>%s)", i, p.Expr)
		}
		re, err := regexp.Compile(strings.Join(alts, "|"))
		if err != nil {
			return nil, fmt.Errorf("compiling %s detectors: %w", c, err)
		}
		groups := make([]int, len(pats))
		single := make([]*regexp.Regexp, len(pats))
		for i, p := range pats {
			groups[i] = re.SubexpIndex(fmt.Sprintf("g%d", i))
			if single[i], err = regexp.Compile(p.Expr); err != nil {
				return nil, fmt.Errorf("compiling pattern %s: %w", p.ID, err)
			}
		}
		m.detectors = append(m.detectors, detector{
			category: c,
			re:       re,
			groups:   groups,
			patterns: pats,
			single:   single,
		})
	}
	return m, nil
}

// Version returns the catalog version the matcher was compiled from.
func (m *Matcher) Version() string { return m.version }

// Patterns returns a copy of the compiled patterns in catalog order.
func (m *Matcher) Patterns() []Pattern {
	return append([]Pattern(nil), m.patterns...)
}

// SensitiveFiles returns the filename globs that flag a whole file.
func (m *Matcher) SensitiveFiles() []string {
	return m.files.Patterns()
}

// Scan returns every finding in text ordered by offset, then pattern ID.
// Line numbers are relative to text, starting at 1.
//
// A combined match can swallow a more severe pattern of the same category
// that starts inside it (a quoted GitHub token caught as a generic secret).
// Such nested matches are reported as findings of their own.
func (m *Matcher) Scan(text string) []Finding {
	if text == "" {
		return nil
	}
	var findings []Finding
	var starts []int
	add := func(p Pattern, start, end int) {
		if starts == nil {
			starts = lineStarts(text)
		}
		findings = append(findings, Finding{
			PatternID: p.ID,
			Category:  p.Category,
			Location: Location{Lines: LineRange{
				Start: lineOf(starts, start),
				End:   lineOf(starts, end-1),
			}},
			Offset:      start,
			Length:      end - start,
			Severity:    p.Severity,
			MatchedSpan: Mask(text[start:end]),
			Action:      ActionFor(p.Severity),
		})
	}
	for _, d := range m.detectors {
		for _, loc := range d.re.FindAllStringSubmatchIndex(text, -1) {
			p, ok := d.which(loc)
			if !ok {
				continue
			}
			if accepts(p, text[loc[0]:loc[1]]) {
				add(p, loc[0], loc[1])
			}
			for _, n := range d.nested(text, loc[0], loc[1], p) {
				add(n.pattern, n.start, n.end)
			}
		}
	}
	SortFindings(findings)
	return findings
}

type nestedMatch struct {
	pattern    Pattern
	start, end int
}

// nested looks for patterns more severe than outer that start inside the
// combined match [start, end). Each one may run past end, up to the end of
// the line. Only the most severe pattern is kept for each start offset.
func (d detector) nested(text string, start, end int, outer Pattern) []nestedMatch {
	limit := len(text)
	if i := strings.IndexByte(text[start:], '\n'); i >= 0 {
		limit = start + i
	}
	window := text[start:limit]
	best := make(map[int]nestedMatch)
	for i, p := range d.patterns {
		if p.ID == outer.ID || SeverityRank(p.Severity) <= SeverityRank(outer.Severity) {
			continue
		}
		for _, loc := range d.single[i].FindAllStringIndex(window, -1) {
			s, e := start+loc[0], start+loc[1]
			if s >= end || !accepts(p, text[s:e]) {
				continue
			}
			if cur, ok := best[s]; ok && SeverityRank(cur.pattern.Severity) >= SeverityRank(p.Severity) {
				continue
			}
			best[s] = nestedMatch{pattern: p, start: s, end: e}
		}
	}
	out := make([]nestedMatch, 0, len(best))
	for _, n := range best {
		out = append(out, n)
	}
	return out
}

// accepts applies the allow-list and checksum of p to a matched span.
func accepts(p Pattern, span string) bool {
	if allowed(p, span) {
		return false
	}
	return p.Checksum != "luhn" || Luhn(span)
}

// MatchFile reports whether path follows a sensitive-file naming
// convention from the catalog.
func (m *Matcher) MatchFile(path string) bool {
	return m.files.Match(path)
}

// SortFindings orders findings by file, offset, then pattern ID.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Location.File != b.Location.File {
			return a.Location.File < b.Location.File
		}
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		return a.PatternID < b.PatternID
	})
}

func (d detector) which(loc []int) (Pattern, bool) {
	for i, g := range d.groups {
		if g > 0 && 2*g < len(loc) && loc[2*g] >= 0 {
			return d.patterns[i], true
		}
	}
	return Pattern{}, false
}

// allowed reports whether span is an allow-listed value of p. Entries
// compare against the whole span or the value at its end, never against an
// arbitrary substring. An entry starting with "@" is an email domain and
// must end the span. An entry ending in "*" is a value prefix. Numeric
// entries of identifier and financial patterns compare digits only, so
// "123 45 6789" matches "123-45-6789".
func allowed(p Pattern, span string) bool {
	// Already-redacted values are not reported again.
	if strings.Contains(span, placeholderPrefix) {
		return true
	}
	if len(p.AllowList) == 0 {
		return false
	}
	val := trailingValue(span)
	for _, lit := range p.AllowList {
		switch {
		case strings.HasPrefix(lit, "@"):
			if strings.HasSuffix(strings.ToLower(span), strings.ToLower(lit)) {
				return true
			}
		case strings.HasSuffix(lit, "*"):
			if strings.HasPrefix(val, strings.TrimSuffix(lit, "*")) {
				return true
			}
		case span == lit || val == lit:
			return true
		case numericCategory(p.Category) && isNumeric(lit):
			if digitsOnly(span) == digitsOnly(lit) {
				return true
			}
		}
	}
	return false
}

// trailingValue strips closing quotes from span and returns what follows
// the last quote, space, ':' or '='.
func trailingValue(span string) string {
	v := strings.TrimRight(span, `"'`)
	if i := strings.LastIndexAny(v, "\"' \t:="); i >= 0 {
		v = v[i+1:]
	}
	return v
}

func numericCategory(c Category) bool {
	return c == CategoryIdentifier || c == CategoryFinancial
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '-' && r != ' ' && r != '.' {
			return false
		}
	}
	return true
}

// Mask replaces letters and digits with '*' so the shape of a value can be
// reported without the value itself.
func Mask(span string) string {
	var b strings.Builder
	n := 0
	for _, r := range span {
		if n == maxMaskLen {
			b.WriteString("...")
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteByte('*')
		} else {
			b.WriteRune(r)
		}
		n++
	}
	return b.String()
}

func lineStarts(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func lineOf(starts []int, offset int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > offset })
}
