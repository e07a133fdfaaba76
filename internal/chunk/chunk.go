package chunk

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/dshills/commitgate/internal/unidiff"
)

const (
	// DefaultBudget is the token budget used when the model is unknown.
	DefaultBudget = 4000
	// DefaultCharsPerToken is the estimation ratio for unknown models.
	DefaultCharsPerToken = 4.0
	// budgetShare is the part of the context window left for the diff;
	// the rest is reserved for prompt scaffolding and the response.
	budgetShare = 0.7
)

// Limit describes a model's context window.
type Limit struct {
	Model         string  `json:"model"`
	ContextTokens int     `json:"contextTokens"`
	CharsPerToken float64 `json:"charsPerToken"`
	// MaxTokens overrides the derived budget when positive.
	MaxTokens int `json:"maxTokens,omitempty"`
}

// Budget returns the number of tokens a single chunk may use.
func (l Limit) Budget() int {
	switch {
	case l.MaxTokens > 0:
		return l.MaxTokens
	case l.ContextTokens > 0:
		return int(float64(l.ContextTokens) * budgetShare)
	default:
		return DefaultBudget
	}
}

func (l Limit) ratio() float64 {
	if l.CharsPerToken <= 0 {
		return DefaultCharsPerToken
	}
	return l.CharsPerToken
}

// modelClasses is checked in order; the first prefix match wins.
var modelClasses = []struct {
	prefixes      []string
	contextTokens int
	charsPerToken float64
}{
	{[]string{"gpt-3.5"}, 16_000, 4},
	{[]string{"gpt-4", "gpt-5", "o1", "o3", "o4"}, 128_000, 4},
	{[]string{"claude"}, 200_000, 3.5},
	{[]string{"gemini"}, 1_000_000, 4},
	{[]string{"llama", "mistral", "qwen", "phi", "gemma", "codellama", "deepseek"}, 8_000, 3},
}

// LimitFor resolves the context window of a model by name. Unknown models
// get the default budget.
func LimitFor(model string) Limit {
	m := strings.ToLower(model)
	for _, c := range modelClasses {
		for _, p := range c.prefixes {
			if strings.HasPrefix(m, p) {
				return Limit{Model: model, ContextTokens: c.contextTokens, CharsPerToken: c.charsPerToken}
			}
		}
	}
	return Limit{Model: model, CharsPerToken: DefaultCharsPerToken}
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string, charsPerToken float64) int {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return int(math.Ceil(float64(len(text)) / charsPerToken))
}

// ByteRange is a half-open range of the source diff.
type ByteRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk is a contiguous slice of a diff that fits the token budget.
type Chunk struct {
	Index           int       `json:"index"`
	Total           int       `json:"total"`
	Range           ByteRange `json:"byteRange"`
	EstimatedTokens int       `json:"estimatedTokens"`
	Files           []string  `json:"files"`
}

// Text returns the part of diff covered by c.
func Text(diff string, c Chunk) string {
	return diff[c.Range.Start:c.Range.End]
}

// TooLargeError reports a single hunk that cannot fit the budget.
type TooLargeError struct {
	DiffID string
	File   string
	Hunk   int
	Tokens int
	Budget int
}

func (e *TooLargeError) Error() string {
	where := "diff"
	switch {
	case e.File != "" && e.Hunk < 0:
		where = e.File + " header"
	case e.File != "":
		where = fmt.Sprintf("%s hunk %d", e.File, e.Hunk+1)
	}
	return fmt.Sprintf("diff %s: %s needs ~%d tokens, budget is %d", e.DiffID, where, e.Tokens, e.Budget)
}

// MalformedError reports a hunk whose body disagrees with the line counts
// in its header. Cutting such a diff at hunk boundaries would misplace
// lines, so it is rejected.
type MalformedError struct {
	DiffID string
	File   string
	Hunk   int
	Header string
	Old    int
	New    int
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("diff %s: %s hunk %d: header %q does not match body (%d old, %d new lines)",
		e.DiffID, e.File, e.Hunk+1, e.Header, e.Old, e.New)
}

// CheckHunks parses the file sections of diff with go-diff and verifies
// that every hunk body holds the number of old and new lines its header
// declares. Text that go-diff cannot split into the same files as the
// segmenter is left to the segmenter and not checked.
func CheckHunks(diffID, diff string) error {
	parsed := unidiff.Parse(diff)
	if len(parsed.Files) == 0 {
		return nil
	}
	fds, err := godiff.ParseMultiFileDiff([]byte(diff[parsed.PreambleEnd:]))
	if err != nil || len(fds) != len(parsed.Files) {
		return nil
	}
	for i, fd := range fds {
		for j, h := range fd.Hunks {
			oldN, newN := countBody(h.Body)
			if oldN == int(h.OrigLines) && newN == int(h.NewLines) {
				continue
			}
			return &MalformedError{
				DiffID: diffID,
				File:   parsed.Files[i].Path(),
				Hunk:   j,
				Header: fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OrigStartLine, h.OrigLines, h.NewStartLine, h.NewLines),
				Old:    oldN,
				New:    newN,
			}
		}
	}
	return nil
}

// countBody counts the old- and new-side lines of a go-diff hunk body.
// An empty line is context, as GNU patch treats it.
func countBody(body []byte) (oldN, newN int) {
	body = bytes.TrimSuffix(body, []byte{'\n'})
	if len(body) == 0 {
		return 0, 0
	}
	for _, line := range bytes.Split(body, []byte{'\n'}) {
		switch {
		case len(line) == 0 || line[0] == ' ':
			oldN++
			newN++
		case line[0] == '-':
			oldN++
		case line[0] == '+':
			newN++
		}
	}
	return oldN, newN
}

// Split partitions diff into chunks that each fit lim's budget.
//
// A diff that fits is returned as one chunk. Otherwise every file gets its
// own chunk, and a file that is itself over budget is cut at hunk
// boundaries, its header staying with the first hunk and later hunks
// packed greedily. When the header and first hunk together are over
// budget but the hunk alone fits, the header becomes a chunk of its own.
// Any text before the first file travels with the first chunk. The chunks
// cover diff exactly, in order. A hunk whose body contradicts its header
// is rejected with *MalformedError.
func Split(diffID, diff string, lim Limit) ([]Chunk, error) {
	if err := CheckHunks(diffID, diff); err != nil {
		return nil, err
	}
	budget := lim.Budget()
	ratio := lim.ratio()
	parsed := unidiff.Parse(diff)

	if est := EstimateTokens(diff, ratio); est <= budget {
		return []Chunk{{
			Total:           1,
			Range:           ByteRange{0, len(diff)},
			EstimatedTokens: est,
			Files:           paths(parsed.Files),
		}}, nil
	}
	if len(parsed.Files) == 0 {
		return nil, &TooLargeError{DiffID: diffID, Tokens: EstimateTokens(diff, ratio), Budget: budget}
	}

	s := splitter{diff: diff, id: diffID, budget: budget, ratio: ratio}
	for i, f := range parsed.Files {
		start := f.Start
		if i == 0 {
			start = 0
		}
		if err := s.file(f, start); err != nil {
			return nil, err
		}
	}
	for i := range s.chunks {
		s.chunks[i].Index = i
		s.chunks[i].Total = len(s.chunks)
	}
	return s.chunks, nil
}

type splitter struct {
	diff   string
	id     string
	budget int
	ratio  float64
	chunks []Chunk
}

func (s *splitter) tokens(start, end int) int {
	return EstimateTokens(s.diff[start:end], s.ratio)
}

func (s *splitter) emit(start, end int, path string) {
	s.chunks = append(s.chunks, Chunk{
		Range:           ByteRange{start, end},
		EstimatedTokens: s.tokens(start, end),
		Files:           []string{path},
	})
}

func (s *splitter) file(f unidiff.File, start int) error {
	path := f.Path()
	if s.tokens(start, f.End) <= s.budget {
		s.emit(start, f.End, path)
		return nil
	}
	if len(f.Hunks) == 0 {
		return &TooLargeError{DiffID: s.id, File: path, Tokens: s.tokens(start, f.End), Budget: s.budget}
	}

	first := f.Hunks[0]
	if t := s.tokens(first.Start, first.End); t > s.budget {
		return &TooLargeError{DiffID: s.id, File: path, Hunk: 0, Tokens: t, Budget: s.budget}
	}
	curStart, curEnd := start, first.End
	if s.tokens(curStart, curEnd) > s.budget {
		if t := s.tokens(start, first.Start); t > s.budget {
			return &TooLargeError{DiffID: s.id, File: path, Hunk: -1, Tokens: t, Budget: s.budget}
		}
		s.emit(start, first.Start, path)
		curStart = first.Start
	}
	for i, h := range f.Hunks[1:] {
		if t := s.tokens(h.Start, h.End); t > s.budget {
			return &TooLargeError{DiffID: s.id, File: path, Hunk: i + 1, Tokens: t, Budget: s.budget}
		}
		if s.tokens(curStart, h.End) <= s.budget {
			curEnd = h.End
			continue
		}
		s.emit(curStart, curEnd, path)
		curStart, curEnd = h.Start, h.End
	}
	s.emit(curStart, curEnd, path)
	return nil
}

func paths(files []unidiff.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path())
	}
	return out
}
