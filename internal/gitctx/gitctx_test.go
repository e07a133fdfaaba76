package gitctx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/commitgate/internal/pathglob"
)

const twoFiles = `diff --git a/main.go b/main.go
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
+import "fmt"
diff --git a/vendor/lib.go b/vendor/lib.go
--- a/vendor/lib.go
+++ b/vendor/lib.go
@@ -1,3 +1,4 @@
+package lib
`

func TestSplitDiffSections_Lossless(t *testing.T) {
	sections := splitDiffSections(twoFiles)
	if len(sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(sections))
	}
	if strings.Join(sections, "") != twoFiles {
		t.Error("sections do not join back to the input")
	}
	if !strings.HasPrefix(sections[1], "diff --git a/vendor/lib.go") {
		t.Errorf("sections[1] = %q", sections[1])
	}
}

func TestExtractFiles(t *testing.T) {
	deleted := "diff --git a/old.go b/old.go\ndeleted file mode 100644\n--- a/old.go\n+++ /dev/null\n@@ -1 +0,0 @@\n-package old\n"
	binary := "diff --git a/logo.png b/logo.png\nnew file mode 100644\nBinary files /dev/null and b/logo.png differ\n"
	files := extractFiles(twoFiles + deleted + binary)
	want := []string{"main.go", "vendor/lib.go", "old.go", "logo.png"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("files = %v, want %v", files, want)
	}
	if len(extractFiles("")) != 0 {
		t.Error("empty diff should have no files")
	}
}

func TestFilterExcluded(t *testing.T) {
	result := filterExcluded(twoFiles, pathglob.MustCompile("vendor/**"))
	if strings.Contains(result, "vendor/lib.go") {
		t.Error("vendor/lib.go should be excluded")
	}
	if !strings.Contains(result, "main.go") {
		t.Error("main.go should be kept")
	}
}

func TestTruncateAtSection(t *testing.T) {
	sections := splitDiffSections(twoFiles)
	if got := truncateAtSection(twoFiles, len(sections[0])+1); got != sections[0] {
		t.Errorf("truncate kept %q", got)
	}
	// A first section over the limit is kept whole.
	if got := truncateAtSection(twoFiles, 10); got != sections[0] {
		t.Errorf("truncate kept %q", got)
	}
}

func TestFile(t *testing.T) {
	res := File("config/app.env", []byte("A=1\nB=2\n"))
	want := "diff --git a/config/app.env b/config/app.env\nnew file mode 100644\n--- /dev/null\n+++ b/config/app.env\n@@ -0,0 +1,2 @@\n+A=1\n+B=2\n"
	if res.Diff != want {
		t.Errorf("Diff = %q, want %q", res.Diff, want)
	}
	if res.Mode != "file" || res.ID != "config/app.env" {
		t.Errorf("res = %+v", res)
	}
}

func TestParseRevList(t *testing.T) {
	out := "commit aaa\nfirst\ncommit bbb\ncommit ccc\nthird\n"
	got := parseRevList(out)
	if len(got) != 3 {
		t.Fatalf("got %d commits, want 3", len(got))
	}
	if got[0].Subject != "first" || got[1].Subject != "" || got[2].SHA != "ccc" {
		t.Errorf("got %+v", got)
	}
}

// testRepo creates a repository with one commit and returns it with a
// helper that runs commands inside it.
func testRepo(t *testing.T) (*Repo, func(args ...string) string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()

	run := func(args ...string) string {
		t.Helper()
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test",
			"GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=test",
			"GIT_COMMITTER_EMAIL=test@test.com",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("command %v failed: %v\n%s", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}

	run("git", "init", "-q")
	run("git", "checkout", "-q", "-b", "main")
	run("git", "config", "commit.gpgsign", "false")
	write(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	write(t, dir, "vendor/lib.go", "package vendor\n")
	run("git", "add", "-A")
	run("git", "commit", "-q", "-m", "init")

	repo, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	return repo, run
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRepo_StagedAndCommit(t *testing.T) {
	repo, run := testRepo(t)
	ctx := context.Background()

	write(t, repo.Root(), "a.go", "package main\n\nvar a = 1\n")
	write(t, repo.Root(), "vendor/lib.go", "package vendor\n\nvar v = 1\n")
	run("git", "add", "-A")

	staged, err := repo.Staged(ctx, DiffOptions{Exclude: []string{"vendor/**"}})
	if err != nil {
		t.Fatalf("Staged error: %v", err)
	}
	if len(staged.Files) != 1 || staged.Files[0] != "a.go" {
		t.Errorf("Files = %v, want [a.go]", staged.Files)
	}
	if staged.ID != "staged" || staged.Repo.Branch != "main" {
		t.Errorf("staged = %+v", staged)
	}

	run("git", "commit", "-q", "-m", "feat(core): add a\n\nService: core")
	head := run("git", "rev-parse", "HEAD")

	commit, err := repo.Commit(ctx, "HEAD", DiffOptions{})
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if commit.ID != head || len(commit.Files) != 2 {
		t.Errorf("commit = %+v", commit)
	}
	if !strings.Contains(commit.Diff, "+var a = 1") {
		t.Errorf("diff missing added line:\n%s", commit.Diff)
	}

	root := run("git", "rev-list", "--max-parents=0", "HEAD")
	first, err := repo.Commit(ctx, root, DiffOptions{})
	if err != nil {
		t.Fatalf("Commit(root) error: %v", err)
	}
	if len(first.Files) != 2 {
		t.Errorf("root commit files = %v", first.Files)
	}

	msg, err := repo.CommitMessage(ctx, head)
	if err != nil || msg != "feat(core): add a\n\nService: core" {
		t.Errorf("CommitMessage = %q, %v", msg, err)
	}
	paths, err := repo.ChangedPaths(ctx, head)
	if err != nil || strings.Join(paths, ",") != "a.go,vendor/lib.go" {
		t.Errorf("ChangedPaths = %v, %v", paths, err)
	}
}

func TestRepo_ListCommits(t *testing.T) {
	repo, run := testRepo(t)
	ctx := context.Background()
	initSHA := run("git", "rev-parse", "HEAD")

	write(t, repo.Root(), "a.go", "package main\n")
	run("git", "add", "a.go")
	run("git", "commit", "-q", "-m", "add a.go")
	write(t, repo.Root(), "b.go", "package main\n")
	run("git", "add", "b.go")
	run("git", "commit", "-q", "-m", "add b.go")

	commits, err := repo.ListCommits(ctx, initSHA+"..HEAD", true)
	if err != nil {
		t.Fatalf("ListCommits error: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("got %d commits, want 2", len(commits))
	}
	if commits[0].Subject != "add a.go" || commits[1].Subject != "add b.go" {
		t.Errorf("commits = %+v, want oldest first", commits)
	}
	if len(commits[0].SHA) != 40 {
		t.Errorf("SHA length = %d, want 40", len(commits[0].SHA))
	}

	empty, err := repo.ListCommits(ctx, "HEAD..HEAD", false)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty range = %v, %v", empty, err)
	}
	if _, err := repo.Resolve(ctx, "no-such-branch"); err == nil {
		t.Error("Resolve should fail for an unknown revision")
	}
}

func TestWorktrees_Checkout(t *testing.T) {
	repo, run := testRepo(t)
	ctx := context.Background()
	first := run("git", "rev-parse", "HEAD")
	write(t, repo.Root(), "main.go", "package main\n\n// changed\nfunc main() {}\n")
	run("git", "commit", "-q", "-am", "change main")

	dir, release, err := repo.Worktrees().Checkout(ctx, first)
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "changed") {
		t.Error("worktree should hold the first commit")
	}
	release()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("release should remove the worktree")
	}
	if out := run("git", "worktree", "list"); strings.Count(out, "\n") != 0 {
		t.Errorf("worktree still registered:\n%s", out)
	}
}

func TestRepo_HooksDir(t *testing.T) {
	repo, _ := testRepo(t)
	dir, err := repo.HooksDir(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(dir, filepath.Join(".git", "hooks")) {
		t.Errorf("HooksDir = %q", dir)
	}
}
