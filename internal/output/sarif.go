package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dshills/commitgate/internal/gate"
	"github.com/dshills/commitgate/internal/patterns"
	"github.com/dshills/commitgate/internal/sanitize"
)

// Version is reported as the SARIF tool version.
var Version = "dev"

// SARIFWriter outputs scan findings and gate failures in SARIF v2.1.0
// format.
type SARIFWriter struct{}

func (s *SARIFWriter) Write(w io.Writer, doc any) error {
	b := &sarifBuilder{rules: map[string]bool{}}
	switch d := doc.(type) {
	case *sanitize.Report:
		b.addScan(d)
	case *gate.Result:
		b.addGate(d)
	case []*gate.Result:
		for _, r := range d {
			b.addGate(r)
		}
	default:
		return &UnsupportedError{Format: "sarif", Doc: doc}
	}
	data, err := json.MarshalIndent(b.log(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling SARIF: %w", err)
	}
	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("writing SARIF: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

// SARIF schema types (v2.1.0)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	ShortDescription sarifMessage       `json:"shortDescription"`
	DefaultConfig    sarifDefaultConfig `json:"defaultConfiguration"`
}

type sarifDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID     string          `json:"ruleId"`
	Level      string          `json:"level"`
	Message    sarifMessage    `json:"message"`
	Locations  []sarifLocation `json:"locations,omitempty"`
	Properties map[string]any  `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`
}

type sarifBuilder struct {
	rules    map[string]bool
	ruleList []sarifRule
	results  []sarifResult
}

func (b *sarifBuilder) rule(id, name, desc, level string) {
	if b.rules[id] {
		return
	}
	b.rules[id] = true
	b.ruleList = append(b.ruleList, sarifRule{
		ID:               id,
		Name:             name,
		ShortDescription: sarifMessage{Text: desc},
		DefaultConfig:    sarifDefaultConfig{Level: level},
	})
}

func (b *sarifBuilder) addScan(r *sanitize.Report) {
	for _, f := range r.Findings {
		id := "commitgate/" + string(f.Category) + "/" + f.PatternID
		level := severityToLevel(f.Severity)
		b.rule(id, f.PatternID, fmt.Sprintf("%s value (%s)", f.Category, f.PatternID), level)

		res := sarifResult{
			RuleID:  id,
			Level:   level,
			Message: sarifMessage{Text: fmt.Sprintf("%s %s match %s (%s line)", f.Severity, f.Category, f.MatchedSpan, f.Origin)},
			Properties: map[string]any{
				"diffId":   r.DiffID,
				"action":   f.Action,
				"severity": f.Severity,
			},
		}
		if f.Location.File != "" {
			res.Locations = []sarifLocation{{PhysicalLocation: sarifPhysicalLocation{
				ArtifactLocation: sarifArtifactLocation{URI: f.Location.File},
				Region:           region(f.Location.Lines),
			}}}
		}
		b.results = append(b.results, res)
	}
	for _, ff := range r.FileFlags {
		const id = "commitgate/sensitive-file"
		level := severityToLevel(ff.Severity)
		b.rule(id, "sensitive-file", "File that should not be committed", level)
		b.results = append(b.results, sarifResult{
			RuleID:  id,
			Level:   level,
			Message: sarifMessage{Text: ff.Reason},
			Locations: []sarifLocation{{PhysicalLocation: sarifPhysicalLocation{
				ArtifactLocation: sarifArtifactLocation{URI: ff.Path},
			}}},
		})
	}
}

func (b *sarifBuilder) addGate(r *gate.Result) {
	if r.Scan != nil {
		b.addScan(r.Scan)
	}
	for _, p := range r.Problems {
		id := "commitgate/convention/" + p.Field
		level := "warning"
		if p.Level == "error" {
			level = "error"
		}
		b.rule(id, "convention-"+p.Field, "Commit message convention", level)
		b.results = append(b.results, sarifResult{
			RuleID:     id,
			Level:      level,
			Message:    sarifMessage{Text: p.Message},
			Properties: map[string]any{"commit": r.ID},
		})
	}
	if r.Compliance != nil {
		for _, v := range r.Compliance.Invalid() {
			const id = "commitgate/compliance/invalid-code"
			b.rule(id, "invalid-code", "Compliance code not in catalog", "error")
			b.results = append(b.results, sarifResult{
				RuleID:     id,
				Level:      "error",
				Message:    sarifMessage{Text: fmt.Sprintf("%s:%s %s", v.Framework, v.Code, joinNonEmpty(v.Reason, v.Detail))},
				Properties: map[string]any{"commit": r.ID, "framework": v.Framework},
			})
		}
		for _, is := range r.Compliance.Issues {
			id := "commitgate/compliance/" + is.Kind
			b.rule(id, is.Kind, "Compliance declaration mismatch", "error")
			res := sarifResult{
				RuleID:     id,
				Level:      "error",
				Message:    sarifMessage{Text: is.Message},
				Properties: map[string]any{"commit": r.ID, "framework": is.Framework},
			}
			for _, p := range is.Paths {
				res.Locations = append(res.Locations, sarifLocation{PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: p},
				}})
			}
			b.results = append(b.results, res)
		}
	}
}

func (b *sarifBuilder) log() sarifLog {
	results := b.results
	if results == nil {
		results = []sarifResult{}
	}
	rules := b.ruleList
	if rules == nil {
		rules = []sarifRule{}
	}
	return sarifLog{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json",
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:           "commitgate",
						Version:        Version,
						InformationURI: "https://github.com/dshills/commitgate",
						Rules:          rules,
					},
				},
				Results: results,
			},
		},
	}
}

func region(lr patterns.LineRange) *sarifRegion {
	if lr.Start <= 0 {
		return nil
	}
	end := lr.End
	if end < lr.Start {
		end = lr.Start
	}
	return &sarifRegion{StartLine: lr.Start, EndLine: end}
}

// severityToLevel maps a finding severity to a SARIF level.
func severityToLevel(s patterns.Severity) string {
	switch s {
	case patterns.SeverityCritical, patterns.SeverityHigh:
		return "error"
	case patterns.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}
