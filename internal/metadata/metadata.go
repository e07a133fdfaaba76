package metadata

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Trailer keys, in canonical spelling.
const (
	KeyPHIImpact       = "PHI-Impact"
	KeyClinicalSafety  = "Clinical-Safety"
	KeyFinancialImpact = "Financial-Impact"
	KeyRegulation      = "Regulation"
	KeyComplianceCodes = "Compliance-Codes"
	KeyService         = "Service"
	KeyBreakingChange  = "BREAKING CHANGE"
)

// DefaultRequired lists the trailers every non-merge commit must carry.
var DefaultRequired = []string{KeyPHIImpact, KeyClinicalSafety, KeyRegulation, KeyService}

// Types are the accepted commit types.
var Types = []string{"feat", "fix", "sec", "audit", "refactor", "docs", "test", "perf", "chore"}

// Allowed values per trailer, lower-cased.
var allowedValues = map[string][]string{
	KeyPHIImpact:       {"none", "indirect", "direct"},
	KeyClinicalSafety:  {"none", "low", "medium", "high", "critical"},
	KeyFinancialImpact: {"none", "low", "medium", "high"},
}

// keyAliases maps lower-cased spellings seen in the wild to canonical keys.
var keyAliases = map[string]string{
	"phi-impact":       KeyPHIImpact,
	"phi impact":       KeyPHIImpact,
	"clinical-safety":  KeyClinicalSafety,
	"clinical safety":  KeyClinicalSafety,
	"financial-impact": KeyFinancialImpact,
	"financial impact": KeyFinancialImpact,
	"regulation":       KeyRegulation,
	"regulations":      KeyRegulation,
	"compliance-codes": KeyComplianceCodes,
	"compliance codes": KeyComplianceCodes,
	"compliance":       KeyComplianceCodes,
	"service":          KeyService,
	"breaking change":  KeyBreakingChange,
	"breaking-change":  KeyBreakingChange,
}

const maxSummary = 72

var (
	headerRe  = regexp.MustCompile(`^([A-Za-z]+)(?:\(([^)]*)\))?(!)?:\s*(.*)$`)
	trailerRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 _-]{0,39}):\s*(.*)$`)
)

// DeclaredCode is a compliance code as written in the message.
type DeclaredCode struct {
	Framework string `json:"framework"`
	Code      string `json:"code"`
}

func (d DeclaredCode) String() string {
	if d.Framework == "" {
		return d.Code
	}
	return d.Framework + ":" + d.Code
}

// Risk holds the declared impact levels, lower-cased.
type Risk struct {
	PHIImpact       string `json:"phiImpact,omitempty"`
	ClinicalSafety  string `json:"clinicalSafety,omitempty"`
	FinancialImpact string `json:"financialImpact,omitempty"`
}

// CommitMetadata is the structured form of a commit message.
type CommitMetadata struct {
	Type          string            `json:"type,omitempty"`
	Scope         string            `json:"scope,omitempty"`
	Summary       string            `json:"summary,omitempty"`
	Breaking      bool              `json:"breaking"`
	Merge         bool              `json:"merge,omitempty"`
	ChangedPaths  []string          `json:"changedPaths,omitempty"`
	DeclaredCodes []DeclaredCode    `json:"declaredCodes,omitempty"`
	Regulations   []string          `json:"regulations,omitempty"`
	Risk          Risk              `json:"risk"`
	Service       string            `json:"service,omitempty"`
	Trailers      map[string]string `json:"trailers,omitempty"`
	Body          string            `json:"body,omitempty"`
}

// Frameworks returns the frameworks named by Regulation and by declared
// codes, deduplicated and sorted. "None" is dropped.
func (md CommitMetadata) Frameworks() []string {
	seen := make(map[string]bool)
	for _, r := range md.Regulations {
		seen[r] = true
	}
	for _, c := range md.DeclaredCodes {
		if c.Framework != "" {
			seen[c.Framework] = true
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// MissingFieldError reports required trailers absent from a message.
type MissingFieldError struct {
	CommitID string
	Fields   []string
}

func (e *MissingFieldError) Error() string {
	id := e.CommitID
	if id == "" {
		id = "message"
	}
	return fmt.Sprintf("%s: missing required field(s): %s", id, strings.Join(e.Fields, ", "))
}

// Parse extracts metadata from msg. It never fails: unrecognized lines go
// to Body and unknown trailers are kept verbatim in Trailers.
func Parse(msg string) CommitMetadata {
	var md CommitMetadata
	md.Trailers = make(map[string]string)
	msg = strings.ReplaceAll(msg, "\r\n", "\n")

	lines := strings.Split(msg, "\n")
	first := -1
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "#") {
			continue
		}
		if strings.TrimSpace(l) != "" {
			first = i
			break
		}
	}
	if first < 0 {
		return md
	}
	header := strings.TrimSpace(lines[first])
	md.Merge = strings.HasPrefix(header, "Merge ")
	if m := headerRe.FindStringSubmatch(header); m != nil && !md.Merge {
		md.Type = strings.ToLower(m[1])
		md.Scope = strings.TrimSpace(m[2])
		md.Breaking = m[3] == "!"
		md.Summary = strings.TrimSpace(m[4])
	} else {
		md.Summary = header
	}

	var body []string
	for _, l := range lines[first+1:] {
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "#") {
			continue
		}
		m := trailerRe.FindStringSubmatch(t)
		if m == nil {
			body = append(body, l)
			continue
		}
		key, val := canonicalKey(m[1]), strings.TrimSpace(m[2])
		md.Trailers[key] = val
		md.apply(key, val)
	}
	md.Body = strings.TrimSpace(strings.Join(body, "\n"))
	md.resolveCodes()
	return md
}

func canonicalKey(k string) string {
	k = strings.TrimSpace(k)
	if c, ok := keyAliases[strings.ToLower(k)]; ok {
		return c
	}
	return k
}

func (md *CommitMetadata) apply(key, val string) {
	switch key {
	case KeyPHIImpact:
		md.Risk.PHIImpact = strings.ToLower(val)
	case KeyClinicalSafety:
		md.Risk.ClinicalSafety = strings.ToLower(val)
	case KeyFinancialImpact:
		md.Risk.FinancialImpact = strings.ToLower(val)
	case KeyService:
		md.Service = val
	case KeyBreakingChange:
		md.Breaking = true
	case KeyRegulation:
		for _, r := range splitList(val) {
			if !strings.EqualFold(r, "none") {
				md.Regulations = append(md.Regulations, r)
			}
		}
	case KeyComplianceCodes:
		for _, item := range splitList(val) {
			fw, code, ok := strings.Cut(item, ":")
			if !ok {
				md.DeclaredCodes = append(md.DeclaredCodes, DeclaredCode{Code: strings.TrimSpace(item)})
				continue
			}
			md.DeclaredCodes = append(md.DeclaredCodes, DeclaredCode{
				Framework: strings.TrimSpace(fw),
				Code:      strings.TrimSpace(code),
			})
		}
	}
}

// resolveCodes assigns the framework to bare codes when exactly one
// regulation is declared.
func (md *CommitMetadata) resolveCodes() {
	if len(md.Regulations) != 1 {
		return
	}
	for i := range md.DeclaredCodes {
		if md.DeclaredCodes[i].Framework == "" {
			md.DeclaredCodes[i].Framework = md.Regulations[0]
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(val, func(r rune) bool { return r == ',' || r == ';' }) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Require returns a *MissingFieldError naming every field in required that
// has no non-empty trailer. Merge commits are exempt.
func (md CommitMetadata) Require(commitID string, required []string) error {
	if md.Merge {
		return nil
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(md.Trailers[canonicalKey(f)]) == "" {
			missing = append(missing, canonicalKey(f))
		}
	}
	if len(missing) > 0 {
		return &MissingFieldError{CommitID: commitID, Fields: missing}
	}
	return nil
}

// ParseStrict parses msg and checks the required fields.
func ParseStrict(commitID, msg string, required []string) (CommitMetadata, error) {
	md := Parse(msg)
	return md, md.Require(commitID, required)
}
