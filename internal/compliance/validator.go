package compliance

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dshills/commitgate/internal/metadata"
)

// Rejection reasons.
const (
	ReasonNotInCatalog     = "not in catalog"
	ReasonUnknownFramework = "unknown framework"
	ReasonEmptyCode        = "empty code"
)

// Verdict is the outcome for one declared code.
type Verdict struct {
	Framework   string `json:"framework"`
	Code        string `json:"code"`
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Description string `json:"description,omitempty"`
}

// Result groups the verdicts for one framework.
type Result struct {
	Framework string    `json:"framework"`
	Valid     []Verdict `json:"valid,omitempty"`
	Invalid   []Verdict `json:"invalid,omitempty"`
}

// OK reports whether every code was valid.
func (r Result) OK() bool { return len(r.Invalid) == 0 }

// Issue is a mismatch between what a commit touches and what it declares.
type Issue struct {
	Framework string   `json:"framework"`
	Kind      string   `json:"kind"`
	Message   string   `json:"message"`
	Paths     []string `json:"paths,omitempty"`
}

// Issue kinds.
const (
	IssueMissingCode   = "missing-code"
	IssueMissingImpact = "missing-impact"
	IssueImpactNone    = "impact-none"
)

// Evaluation is the full compliance picture of one commit. It never
// blocks on its own; callers decide what to do with it.
type Evaluation struct {
	CatalogVersion string   `json:"catalogVersion"`
	Results        []Result `json:"results,omitempty"`
	Issues         []Issue  `json:"issues,omitempty"`
}

// OK reports whether all codes are valid and no issue was raised.
func (e Evaluation) OK() bool {
	for _, r := range e.Results {
		if !r.OK() {
			return false
		}
	}
	return len(e.Issues) == 0
}

// Invalid returns every rejected code across frameworks.
func (e Evaluation) Invalid() []Verdict {
	var out []Verdict
	for _, r := range e.Results {
		out = append(out, r.Invalid...)
	}
	return out
}

// Err returns a *ValidationError when the evaluation is not OK.
func (e Evaluation) Err(commitID string) error {
	if e.OK() {
		return nil
	}
	return &ValidationError{CommitID: commitID, Invalid: e.Invalid(), Issues: e.Issues}
}

// ValidationError aggregates the compliance problems of one commit.
type ValidationError struct {
	CommitID string
	Invalid  []Verdict
	Issues   []Issue
}

func (e *ValidationError) Error() string {
	var parts []string
	for _, v := range e.Invalid {
		parts = append(parts, fmt.Sprintf("%s:%s %s", v.Framework, v.Code, v.Reason))
	}
	for _, i := range e.Issues {
		parts = append(parts, i.Message)
	}
	return fmt.Sprintf("commit %s: compliance: %s", e.CommitID, strings.Join(parts, "; "))
}

// Validator checks declared codes against the current catalog. The
// catalog is swapped atomically, so a Validator is safe for concurrent
// use while a reload is in progress.
type Validator struct {
	cat atomic.Pointer[Catalog]
}

// NewValidator returns a Validator over cat.
func NewValidator(cat *Catalog) *Validator {
	v := &Validator{}
	v.cat.Store(cat)
	return v
}

// Catalog returns the catalog currently in use.
func (v *Validator) Catalog() *Catalog { return v.cat.Load() }

// Swap installs cat and returns the previous catalog.
func (v *Validator) Swap(cat *Catalog) *Catalog { return v.cat.Swap(cat) }

// Validate checks each code against framework by exact lookup.
func (v *Validator) Validate(codes []string, framework string) Result {
	return validate(v.cat.Load(), codes, framework)
}

func validate(cat *Catalog, codes []string, framework string) Result {
	res := Result{Framework: framework}
	fw, known := cat.Frameworks[framework]
	for _, raw := range codes {
		code := strings.TrimSpace(raw)
		verdict := Verdict{Framework: framework, Code: code}
		switch {
		case code == "":
			verdict.Reason = ReasonEmptyCode
		case !known:
			verdict.Reason = ReasonUnknownFramework
			if others := cat.listedUnder(code, ""); len(others) > 0 {
				verdict.Detail = "listed under " + strings.Join(others, ", ")
			}
		default:
			if e, ok := fw.index[code]; ok {
				verdict.Valid = true
				verdict.Description = e.Description
				break
			}
			verdict.Reason = ReasonNotInCatalog
			if others := cat.listedUnder(code, framework); len(others) > 0 {
				verdict.Detail = "listed under " + strings.Join(others, ", ")
			}
		}
		if verdict.Valid {
			res.Valid = append(res.Valid, verdict)
		} else {
			res.Invalid = append(res.Invalid, verdict)
		}
	}
	return res
}

// CheckConsistency compares the paths a commit touches with what it
// declares. For every framework regulating a changed path the commit must
// declare at least one valid code of that framework and, when the
// framework names one, a non-empty impact field.
func (v *Validator) CheckConsistency(md metadata.CommitMetadata) []Issue {
	return checkConsistency(v.cat.Load(), md)
}

func checkConsistency(cat *Catalog, md metadata.CommitMetadata) []Issue {
	var issues []Issue
	for _, name := range cat.Names() {
		fw := cat.Frameworks[name]
		hit := fw.Regulates(md.ChangedPaths)
		if len(hit) == 0 {
			continue
		}
		if !declaresValid(fw, md.DeclaredCodes) {
			issues = append(issues, Issue{
				Framework: name,
				Kind:      IssueMissingCode,
				Message:   fmt.Sprintf("changes %s-regulated paths but declares no valid %s code", name, name),
				Paths:     hit,
			})
		}
		if fw.ImpactField == "" {
			continue
		}
		switch val := impactValue(md, fw.ImpactField); val {
		case "":
			issues = append(issues, Issue{
				Framework: name,
				Kind:      IssueMissingImpact,
				Message:   fmt.Sprintf("changes %s-regulated paths but %s is not declared", name, fw.ImpactField),
				Paths:     hit,
			})
		case "none":
			issues = append(issues, Issue{
				Framework: name,
				Kind:      IssueImpactNone,
				Message:   fmt.Sprintf("changes %s-regulated paths but declares %s: None", name, fw.ImpactField),
				Paths:     hit,
			})
		}
	}
	return issues
}

func declaresValid(fw *Framework, codes []metadata.DeclaredCode) bool {
	for _, c := range codes {
		if c.Framework != fw.Name {
			continue
		}
		if _, ok := fw.index[strings.TrimSpace(c.Code)]; ok {
			return true
		}
	}
	return false
}

// Evaluate validates every declared code under its own framework and adds
// the consistency issues. One catalog snapshot is used throughout.
func (v *Validator) Evaluate(md metadata.CommitMetadata) Evaluation {
	cat := v.cat.Load()
	ev := Evaluation{CatalogVersion: cat.Version}

	var order []string
	byFramework := make(map[string][]string)
	for _, c := range md.DeclaredCodes {
		if _, seen := byFramework[c.Framework]; !seen {
			order = append(order, c.Framework)
		}
		byFramework[c.Framework] = append(byFramework[c.Framework], c.Code)
	}
	for _, fw := range order {
		ev.Results = append(ev.Results, validate(cat, byFramework[fw], fw))
	}
	ev.Issues = checkConsistency(cat, md)
	return ev
}
