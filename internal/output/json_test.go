package output

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONWriter(t *testing.T) {
	out := render(t, &JSONWriter{}, blockedScan())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["verdict"] != "block" {
		t.Errorf("verdict = %v, want block", decoded["verdict"])
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Error("JSON output should end with a newline")
	}
}

func TestJSONWriter_OmitsRedactedDiff(t *testing.T) {
	r := blockedScan()
	r.Redacted = "+ssn = [REDACTED:us-ssn]"
	out := render(t, &JSONWriter{}, r)
	if strings.Contains(out, "REDACTED") {
		t.Error("redacted diff body should not be serialized")
	}
}
