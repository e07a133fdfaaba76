package unidiff

import (
	"strconv"
	"strings"
)

// Kind classifies a diff line.
type Kind int

const (
	KindHeader Kind = iota
	KindHunkHeader
	KindContext
	KindAdded
	KindRemoved
	KindNoNewline
	KindOther
)

// Line is one line of the diff with its byte range (newline included).
type Line struct {
	Kind  Kind
	Text  string
	Start int
	End   int
	// OldLine and NewLine are the line numbers in the pre- and post-image,
	// zero when the line does not exist on that side.
	OldLine int
	NewLine int
}

// Hunk spans from its "@@" header up to the next hunk or file.
type Hunk struct {
	Start    int
	End      int
	Header   string
	OldStart int
	NewStart int
	Lines    []Line
}

// File spans from its first header line up to the next file.
type File struct {
	Start     int
	End       int
	HeaderEnd int
	OldName   string
	NewName   string
	Header    []Line
	Hunks     []Hunk
}

// Path returns the post-image name, or the pre-image name for deletions.
func (f File) Path() string {
	if f.NewName != "" && f.NewName != "/dev/null" {
		return f.NewName
	}
	return f.OldName
}

// Diff is a parsed unified diff. PreambleEnd is the offset of the first
// file; anything before it (a commit message from git show, for example)
// belongs to no file.
type Diff struct {
	Size        int
	PreambleEnd int
	Files       []File
}

type parser struct {
	src   string
	diff  *Diff
	file  *File
	hunk  *Hunk
	oldN  int
	newN  int
	oldLn int
	newLn int
}

// Parse segments diff into files and hunks. It never fails: lines it does
// not understand are kept in the enclosing region so that the byte ranges
// of all files cover the input exactly.
func Parse(diff string) *Diff {
	p := &parser{src: diff, diff: &Diff{Size: len(diff), PreambleEnd: len(diff)}}
	pos := 0
	for pos < len(diff) {
		end := strings.IndexByte(diff[pos:], '\n')
		if end < 0 {
			end = len(diff)
		} else {
			end += pos + 1
		}
		p.line(pos, end)
		pos = end
	}
	p.closeFile(len(diff))
	return p.diff
}

func (p *parser) line(start, end int) {
	text := strings.TrimRight(p.src[start:end], "\r\n")

	if p.hunk != nil && (p.oldN > 0 || p.newN > 0) {
		if p.body(text, start, end) {
			return
		}
	}
	if p.hunk != nil && strings.HasPrefix(text, `\ `) {
		p.hunk.Lines = append(p.hunk.Lines, Line{Kind: KindNoNewline, Text: text, Start: start, End: end})
		return
	}

	switch {
	case strings.HasPrefix(text, "diff --git "):
		p.openFile(start)
		p.file.OldName, p.file.NewName = namesFromGitHeader(text)
		p.header(KindHeader, text, start, end)
	case strings.HasPrefix(text, "--- ") && p.nextIs(end, "+++ "):
		if p.file == nil || len(p.file.Hunks) > 0 || p.file.hasMarker() {
			p.openFile(start)
		}
		p.file.OldName = cleanName(strings.TrimPrefix(text, "--- "))
		p.header(KindHeader, text, start, end)
	case strings.HasPrefix(text, "+++ ") && p.file != nil && p.hunk == nil:
		p.file.NewName = cleanName(strings.TrimPrefix(text, "+++ "))
		p.header(KindHeader, text, start, end)
	case strings.HasPrefix(text, "@@ ") && p.file != nil:
		p.openHunk(text, start, end)
	case p.file == nil:
		// preamble
	case p.hunk != nil:
		p.hunk.Lines = append(p.hunk.Lines, Line{Kind: KindOther, Text: text, Start: start, End: end})
	default:
		p.header(KindHeader, text, start, end)
	}
}

// body consumes a line inside a hunk with remaining counts. It returns
// false when the line cannot belong to the hunk.
func (p *parser) body(text string, start, end int) bool {
	l := Line{Text: text, Start: start, End: end}
	switch {
	case text == "" || text[0] == ' ':
		l.Kind = KindContext
		l.OldLine, l.NewLine = p.oldLn, p.newLn
		p.oldLn++
		p.newLn++
		p.oldN--
		p.newN--
	case text[0] == '+':
		l.Kind = KindAdded
		l.NewLine = p.newLn
		p.newLn++
		p.newN--
	case text[0] == '-':
		l.Kind = KindRemoved
		l.OldLine = p.oldLn
		p.oldLn++
		p.oldN--
	case text[0] == '\\':
		l.Kind = KindNoNewline
	default:
		p.oldN, p.newN = 0, 0
		return false
	}
	p.hunk.Lines = append(p.hunk.Lines, l)
	return true
}

func (p *parser) header(k Kind, text string, start, end int) {
	p.file.Header = append(p.file.Header, Line{Kind: k, Text: text, Start: start, End: end})
	p.file.HeaderEnd = end
}

func (p *parser) nextIs(pos int, prefix string) bool {
	return strings.HasPrefix(p.src[pos:], prefix)
}

func (p *parser) openFile(start int) {
	p.closeFile(start)
	if len(p.diff.Files) == 0 {
		p.diff.PreambleEnd = start
	}
	p.diff.Files = append(p.diff.Files, File{Start: start, HeaderEnd: start})
	p.file = &p.diff.Files[len(p.diff.Files)-1]
}

func (p *parser) closeFile(end int) {
	p.closeHunk(end)
	if p.file != nil {
		p.file.End = end
	}
	p.file = nil
}

func (p *parser) openHunk(text string, start, end int) {
	p.closeHunk(start)
	oldStart, oldN, newStart, newN := parseHunkHeader(text)
	p.file.Hunks = append(p.file.Hunks, Hunk{
		Start:    start,
		Header:   text,
		OldStart: oldStart,
		NewStart: newStart,
		Lines:    []Line{{Kind: KindHunkHeader, Text: text, Start: start, End: end}},
	})
	p.hunk = &p.file.Hunks[len(p.file.Hunks)-1]
	p.oldN, p.newN = oldN, newN
	p.oldLn, p.newLn = oldStart, newStart
}

func (p *parser) closeHunk(end int) {
	if p.hunk != nil {
		p.hunk.End = end
	}
	p.hunk = nil
	p.oldN, p.newN = 0, 0
}

// hasMarker reports whether the file already has its own ---/+++ pair,
// meaning another "---" line starts a new file.
func (f *File) hasMarker() bool {
	for _, l := range f.Header {
		if strings.HasPrefix(l.Text, "+++ ") {
			return true
		}
	}
	return false
}

// parseHunkHeader reads "@@ -a,b +c,d @@". Missing counts default to 1.
func parseHunkHeader(h string) (oldStart, oldN, newStart, newN int) {
	fields := strings.Fields(h)
	oldN, newN = 1, 1
	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, "-"):
			oldStart, oldN = parseRange(f[1:])
		case strings.HasPrefix(f, "+"):
			newStart, newN = parseRange(f[1:])
		case f == "@@":
			return
		}
	}
	return
}

func parseRange(s string) (start, n int) {
	n = 1
	if i := strings.IndexByte(s, ','); i >= 0 {
		n, _ = strconv.Atoi(s[i+1:])
		s = s[:i]
	}
	start, _ = strconv.Atoi(s)
	return start, n
}

func namesFromGitHeader(h string) (string, string) {
	rest := strings.TrimPrefix(h, "diff --git ")
	if i := strings.Index(rest, " b/"); i >= 0 && strings.HasPrefix(rest, "a/") {
		return rest[2:i], rest[i+3:]
	}
	return "", ""
}

func cleanName(s string) string {
	if i := strings.IndexByte(s, '\t'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, `"`)
	if s == "/dev/null" {
		return s
	}
	if strings.HasPrefix(s, "a/") || strings.HasPrefix(s, "b/") {
		return s[2:]
	}
	return s
}
