package cli

import (
	"strings"
	"testing"
)

func TestGenerateHookScript_PreCommit(t *testing.T) {
	script := generateHookScript(hookPreCommit)
	start, end := hookMarkers(hookPreCommit)

	if !strings.HasPrefix(script, start+"\n") {
		t.Error("Script missing start marker")
	}
	if !strings.HasSuffix(script, end+"\n") {
		t.Error("Script missing end marker")
	}
	if !strings.Contains(script, "commitgate scan staged\n") {
		t.Error("Script missing scan command")
	}
	if !strings.Contains(script, "COMMITGATE_EXIT=$?") {
		t.Error("Script missing exit code capture")
	}
	if !strings.Contains(script, "exit 1") {
		t.Error("Script missing exit 1 for blocked commits")
	}
	if !strings.Contains(script, "allowing commit") {
		t.Error("Script missing warning for errors")
	}
}

func TestGenerateHookScript_CommitMsg(t *testing.T) {
	script := generateHookScript(hookCommitMsg)

	if !strings.Contains(script, `commitgate validate --message-file "$1"`) {
		t.Error("Script missing validate command with message file argument")
	}
	if strings.Contains(script, "scan staged") {
		t.Error("commit-msg hook should not scan")
	}
	start, _ := hookMarkers(hookCommitMsg)
	if !strings.Contains(script, start) {
		t.Error("Script missing commit-msg marker")
	}
}

func TestReplaceHookSection_NoExisting(t *testing.T) {
	existing := "#!/bin/sh\nsome-other-hook"
	section := generateHookScript(hookPreCommit)

	result := replaceHookSection(existing, hookPreCommit, section)

	if !strings.HasPrefix(result, "#!/bin/sh\nsome-other-hook\n") {
		t.Errorf("Existing content should be preserved with a newline, got %q", result)
	}
	if !strings.HasSuffix(result, section) {
		t.Error("New section should be appended")
	}
}

func TestReplaceHookSection_ExistingSection(t *testing.T) {
	start, end := hookMarkers(hookPreCommit)
	old := start + "\nold-command\n" + end + "\n"
	existing := "#!/bin/sh\nbefore\n" + old + "after\n"
	section := generateHookScript(hookPreCommit)

	result := replaceHookSection(existing, hookPreCommit, section)

	want := "#!/bin/sh\nbefore\n" + section + "after\n"
	if result != want {
		t.Errorf("replaceHookSection() =\n%s\nwant\n%s", result, want)
	}
	if strings.Count(result, start) != 1 {
		t.Error("Section should appear exactly once")
	}
}

func TestReplaceHookSection_OtherHookUntouched(t *testing.T) {
	preCommit := generateHookScript(hookPreCommit)
	existing := "#!/bin/sh\n" + preCommit
	section := generateHookScript(hookCommitMsg)

	result := replaceHookSection(existing, hookCommitMsg, section)

	if !strings.Contains(result, preCommit) {
		t.Error("pre-commit section should be kept")
	}
	if !strings.HasSuffix(result, section) {
		t.Error("commit-msg section should be appended")
	}
}

func TestRemoveHookSection(t *testing.T) {
	section := generateHookScript(hookPreCommit)
	existing := "#!/bin/sh\nbefore\n" + section + "after\n"

	result := removeHookSection(existing, hookPreCommit)

	if result != "#!/bin/sh\nbefore\nafter\n" {
		t.Errorf("removeHookSection() = %q", result)
	}
}

func TestRemoveHookSection_NoSection(t *testing.T) {
	existing := "#!/bin/sh\necho hi\n"
	if got := removeHookSection(existing, hookPreCommit); got != existing {
		t.Errorf("removeHookSection() = %q, want unchanged", got)
	}
}

func TestRemoveHookSection_OnlyShebangLeft(t *testing.T) {
	content := removeHookSection("#!/bin/sh\n"+generateHookScript(hookCommitMsg), hookCommitMsg)
	if !onlyShebang(content) {
		t.Errorf("onlyShebang(%q) = false, want true", content)
	}
	if onlyShebang("#!/bin/sh\necho keep\n") {
		t.Error("onlyShebang should be false when other commands remain")
	}
}

func TestParseHooks(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"", []string{hookPreCommit, hookCommitMsg}, false},
		{"pre-commit", []string{hookPreCommit}, false},
		{"commit-msg, pre-commit", []string{hookCommitMsg, hookPreCommit}, false},
		{"post-merge", nil, true},
	}
	for _, tt := range tests {
		got, err := parseHooks(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHooks(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("parseHooks(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
