package output

import (
	"bytes"
	"encoding/json"
	"testing"
)

func decodeSARIF(t *testing.T, doc any) sarifLog {
	t.Helper()
	var buf bytes.Buffer
	if err := (&SARIFWriter{}).Write(&buf, doc); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	var log sarifLog
	if err := json.Unmarshal(buf.Bytes(), &log); err != nil {
		t.Fatalf("invalid SARIF JSON: %v", err)
	}
	return log
}

func TestSARIFWriter_Scan(t *testing.T) {
	log := decodeSARIF(t, blockedScan())
	if log.Version != "2.1.0" || len(log.Runs) != 1 {
		t.Fatalf("unexpected log header: %+v", log)
	}
	run := log.Runs[0]
	if run.Tool.Driver.Name != "commitgate" {
		t.Errorf("driver = %q", run.Tool.Driver.Name)
	}
	// Two findings plus one sensitive file.
	if len(run.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(run.Results))
	}
	first := run.Results[0]
	if first.RuleID != "commitgate/identifier/us-ssn" || first.Level != "error" {
		t.Errorf("first result = %s/%s", first.RuleID, first.Level)
	}
	if r := first.Locations[0].PhysicalLocation.Region; r == nil || r.StartLine != 12 {
		t.Errorf("region = %+v, want line 12", r)
	}
	if run.Results[1].Level != "warning" {
		t.Errorf("medium finding level = %q, want warning", run.Results[1].Level)
	}
	if len(run.Tool.Driver.Rules) != 3 {
		t.Errorf("rules = %d, want 3", len(run.Tool.Driver.Rules))
	}
}

func TestSARIFWriter_Gate(t *testing.T) {
	log := decodeSARIF(t, failedGate())
	ids := map[string]bool{}
	for _, r := range log.Runs[0].Results {
		ids[r.RuleID] = true
	}
	for _, want := range []string{
		"commitgate/convention/summary",
		"commitgate/compliance/invalid-code",
		"commitgate/compliance/missing-impact",
	} {
		if !ids[want] {
			t.Errorf("missing rule %q in %v", want, ids)
		}
	}
}

func TestSARIFWriter_EmptyResults(t *testing.T) {
	var buf bytes.Buffer
	if err := (&SARIFWriter{}).Write(&buf, cleanScan()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"results": []`)) {
		t.Errorf("clean scan should emit an empty results array:\n%s", buf.String())
	}
}

func TestSARIFWriter_Unsupported(t *testing.T) {
	if err := (&SARIFWriter{}).Write(&bytes.Buffer{}, session()); err == nil {
		t.Error("expected unsupported error for a bisect session")
	}
}
