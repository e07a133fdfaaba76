package unidiff

import (
	"strings"
	"testing"
)

const twoFiles = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@ package main
 package main
+import "fmt"

 func main() {}
@@ -10,2 +11,2 @@ func helper() {
-	old()
+	new()
diff --git a/util.go b/util.go
new file mode 100644
--- /dev/null
+++ b/util.go
@@ -0,0 +1,2 @@
+package util
+-- not a header
`

func TestParse_Files(t *testing.T) {
	d := Parse(twoFiles)
	if len(d.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(d.Files))
	}
	if d.Files[0].Path() != "main.go" {
		t.Errorf("Files[0].Path() = %q, want %q", d.Files[0].Path(), "main.go")
	}
	if d.Files[1].Path() != "util.go" {
		t.Errorf("Files[1].Path() = %q, want %q", d.Files[1].Path(), "util.go")
	}
	if d.Files[1].OldName != "/dev/null" {
		t.Errorf("Files[1].OldName = %q, want /dev/null", d.Files[1].OldName)
	}
	if len(d.Files[0].Hunks) != 2 {
		t.Errorf("main.go hunks = %d, want 2", len(d.Files[0].Hunks))
	}
	if len(d.Files[1].Hunks) != 1 {
		t.Errorf("util.go hunks = %d, want 1", len(d.Files[1].Hunks))
	}
}

func TestParse_Coverage(t *testing.T) {
	inputs := []string{
		twoFiles,
		"",
		"no diff here\n",
		"From abc\nSubject: x\n\n" + twoFiles,
		strings.TrimSuffix(twoFiles, "\n"),
		"--- a.txt\n+++ b.txt\n@@ -1 +1 @@\n-a\n+b\n--- c.txt\n+++ d.txt\n@@ -1 +1 @@\n-c\n+d\n",
	}
	for i, in := range inputs {
		d := Parse(in)
		pos := 0
		if len(d.Files) > 0 {
			if d.PreambleEnd != d.Files[0].Start {
				t.Errorf("input %d: preamble ends at %d, first file starts at %d", i, d.PreambleEnd, d.Files[0].Start)
			}
			pos = d.PreambleEnd
		}
		for j, f := range d.Files {
			if f.Start != pos {
				t.Errorf("input %d file %d: start %d, want %d", i, j, f.Start, pos)
			}
			hpos := f.HeaderEnd
			for k, h := range f.Hunks {
				if h.Start != hpos {
					t.Errorf("input %d file %d hunk %d: start %d, want %d", i, j, k, h.Start, hpos)
				}
				hpos = h.End
			}
			if len(f.Hunks) > 0 && hpos != f.End {
				t.Errorf("input %d file %d: last hunk ends %d, file ends %d", i, j, hpos, f.End)
			}
			pos = f.End
		}
		if len(d.Files) > 0 && pos != len(in) {
			t.Errorf("input %d: files end at %d, input length %d", i, pos, len(in))
		}
	}
}

func TestParse_NonGitFiles(t *testing.T) {
	in := "--- a.txt\n+++ b.txt\n@@ -1 +1 @@\n-a\n+b\n--- c.txt\n+++ d.txt\n@@ -1 +1 @@\n-c\n+d\n"
	d := Parse(in)
	if len(d.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(d.Files))
	}
	if d.Files[0].Path() != "b.txt" || d.Files[1].Path() != "d.txt" {
		t.Errorf("paths = %q, %q", d.Files[0].Path(), d.Files[1].Path())
	}
}

func TestParse_LineNumbers(t *testing.T) {
	d := Parse(twoFiles)
	h := d.Files[0].Hunks[1]
	var removed, added Line
	for _, l := range h.Lines {
		switch l.Kind {
		case KindRemoved:
			removed = l
		case KindAdded:
			added = l
		}
	}
	if removed.OldLine != 10 {
		t.Errorf("removed.OldLine = %d, want 10", removed.OldLine)
	}
	if added.NewLine != 11 {
		t.Errorf("added.NewLine = %d, want 11", added.NewLine)
	}
	if twoFiles[added.Start:added.End] != "+\tnew()\n" {
		t.Errorf("added range = %q", twoFiles[added.Start:added.End])
	}
}

func TestParse_RemovedLineLooksLikeHeader(t *testing.T) {
	in := "diff --git a/x b/x\n--- a/x\n+++ b/x\n@@ -1,2 +1,1 @@\n--- fake\n+++ fake\n"
	d := Parse(in)
	if len(d.Files) != 1 {
		t.Fatalf("got %d files, want 1", len(d.Files))
	}
	lines := d.Files[0].Hunks[0].Lines
	if lines[1].Kind != KindRemoved || lines[2].Kind != KindAdded {
		t.Errorf("body kinds = %v, %v", lines[1].Kind, lines[2].Kind)
	}
}

func TestParseHunkHeader(t *testing.T) {
	tests := []struct {
		in             string
		os, on, ns, nn int
	}{
		{"@@ -1,3 +1,4 @@", 1, 3, 1, 4},
		{"@@ -5 +7 @@ func x()", 5, 1, 7, 1},
		{"@@ -0,0 +1,2 @@", 0, 0, 1, 2},
	}
	for _, tt := range tests {
		os, on, ns, nn := parseHunkHeader(tt.in)
		if os != tt.os || on != tt.on || ns != tt.ns || nn != tt.nn {
			t.Errorf("parseHunkHeader(%q) = %d,%d,%d,%d", tt.in, os, on, ns, nn)
		}
	}
}
