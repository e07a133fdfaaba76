package output

import (
	"strings"
	"testing"
)

func TestMarkdownWriter_Scan(t *testing.T) {
	out := render(t, &MarkdownWriter{}, blockedScan())
	for _, want := range []string{
		"## commitgate scan: `staged`",
		":no_entry: **block**",
		"| :red_circle: critical | 1 |",
		"| **Total** | **2** |",
		"<details>",
		"`us-ssn`",
		"- `.env` (high): environment file",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestMarkdownWriter_CleanScan(t *testing.T) {
	out := render(t, &MarkdownWriter{}, cleanScan())
	if !strings.Contains(out, "No sensitive values found.") {
		t.Errorf("markdown:\n%s", out)
	}
	if strings.Contains(out, "<details>") {
		t.Error("clean scan should not render a findings section")
	}
}

func TestMarkdownWriter_Gate(t *testing.T) {
	out := render(t, &MarkdownWriter{}, failedGate())
	for _, want := range []string{
		"## commitgate: `abc123` :no_entry: blocked",
		"### Message",
		"### Convention",
		"- :x: `HIPAA:999.999` not in catalog",
		"### Risk: :orange_circle: high (72.5)",
		"| history | _no recorded outcomes_ | - |",
		"- [ ] One approval from a code owner required",
		"### Policy",
		"**Blocking reasons**",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestMarkdownWriter_Session(t *testing.T) {
	out := render(t, &MarkdownWriter{}, session())
	if !strings.Contains(out, "First bad commit: **`c2`**") {
		t.Errorf("markdown:\n%s", out)
	}
	if !strings.Contains(out, "| 1 | search | `c2` | high | bad | 2 |") {
		t.Errorf("markdown step row missing:\n%s", out)
	}
}

func TestMdEscape(t *testing.T) {
	if got := mdEscape("a|b`c"); got != `a\|b'c` {
		t.Errorf("mdEscape = %q", got)
	}
}
