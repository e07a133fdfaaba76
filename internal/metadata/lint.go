package metadata

import (
	"fmt"
	"slices"
	"strings"
)

// Problem severities.
const (
	LevelError   = "error"
	LevelWarning = "warning"
)

// Problem is one convention violation in a commit message.
type Problem struct {
	Field   string `json:"field"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Lint checks md against the commit message convention: the header form,
// the closed value sets of the impact trailers, and a non-empty service.
// Merge commits are not checked.
func Lint(md CommitMetadata) []Problem {
	if md.Merge {
		return nil
	}
	var ps []Problem
	add := func(field, level, format string, args ...any) {
		ps = append(ps, Problem{Field: field, Level: level, Message: fmt.Sprintf(format, args...)})
	}

	switch {
	case md.Type == "":
		add("header", LevelError, "header must look like <type>(<scope>): <summary>")
	case !slices.Contains(Types, md.Type):
		add("header", LevelError, "unknown type %q (want one of %s)", md.Type, strings.Join(Types, ", "))
	}
	if md.Type != "" && md.Scope == "" {
		add("header", LevelWarning, "scope is empty")
	}
	if n := len([]rune(md.Summary)); n > maxSummary {
		add("header", LevelError, "summary is %d characters, limit is %d", n, maxSummary)
	}
	if md.Summary == "" {
		add("header", LevelError, "summary is empty")
	}

	for key, val := range map[string]string{
		KeyPHIImpact:       md.Risk.PHIImpact,
		KeyClinicalSafety:  md.Risk.ClinicalSafety,
		KeyFinancialImpact: md.Risk.FinancialImpact,
	} {
		if val != "" && !slices.Contains(allowedValues[key], val) {
			add(key, LevelError, "%q is not one of %s", val, strings.Join(allowedValues[key], ", "))
		}
	}

	if v, ok := md.Trailers[KeyService]; ok && (strings.TrimSpace(v) == "" || strings.EqualFold(v, "none")) {
		add(KeyService, LevelError, "service must name the affected service")
	}
	if md.Risk.PHIImpact == "direct" && md.Risk.ClinicalSafety == "low" {
		add(KeyClinicalSafety, LevelWarning, "PHI-Impact: Direct is usually paired with Clinical-Safety: High or Critical")
	}

	slices.SortStableFunc(ps, func(a, b Problem) int { return strings.Compare(a.Field, b.Field) })
	return ps
}

// HasErrors reports whether any problem is error level.
func HasErrors(ps []Problem) bool {
	return slices.ContainsFunc(ps, func(p Problem) bool { return p.Level == LevelError })
}
