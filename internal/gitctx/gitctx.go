package gitctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dshills/commitgate/internal/pathglob"
)

// DiffOptions controls how diffs are gathered.
type DiffOptions struct {
	ContextLines int
	MaxDiffBytes int
	Exclude      []string
}

// DiffResult holds the collected diff and metadata.
type DiffResult struct {
	ID    string
	Diff  string
	Files []string
	Mode  string
	Range string
	Repo  RepoMeta
	// Truncated is set when MaxDiffBytes cut the diff.
	Truncated bool
}

// RepoMeta contains git repository metadata.
type RepoMeta struct {
	Root   string `json:"root"`
	Head   string `json:"head"`
	Branch string `json:"branch"`
}

// Repo runs git commands against one repository.
type Repo struct {
	root string
}

// Open returns the repository containing dir.
func Open(ctx context.Context, dir string) (*Repo, error) {
	if dir == "" {
		dir = "."
	}
	root, err := run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	return &Repo{root: strings.TrimSpace(root)}, nil
}

// Root returns the top-level directory of the work tree.
func (r *Repo) Root() string { return r.root }

// Meta collects repository metadata. A repository without commits has an
// empty Head.
func (r *Repo) Meta(ctx context.Context) RepoMeta {
	meta := RepoMeta{Root: r.root}
	if head, err := r.git(ctx, "rev-parse", "HEAD"); err == nil {
		meta.Head = strings.TrimSpace(head)
	}
	if branch, err := r.git(ctx, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		meta.Branch = strings.TrimSpace(branch)
	}
	return meta
}

// Staged returns the diff of index vs HEAD.
func (r *Repo) Staged(ctx context.Context, opts DiffOptions) (DiffResult, error) {
	args := append([]string{"diff", "--cached", "--no-color", "--no-ext-diff"}, contextArgs(opts)...)
	diff, err := r.git(ctx, args...)
	if err != nil {
		return DiffResult{}, fmt.Errorf("git diff --cached: %w", err)
	}
	return r.result(ctx, "staged", diff, "staged", "", opts)
}

// Commit returns the diff a commit introduced relative to its first
// parent. Root commits diff against the empty tree.
func (r *Repo) Commit(ctx context.Context, rev string, opts DiffOptions) (DiffResult, error) {
	sha, err := r.Resolve(ctx, rev)
	if err != nil {
		return DiffResult{}, err
	}
	args := append([]string{"diff-tree", "-p", "--root", "--no-commit-id", "--no-color", "-m", "--first-parent"}, contextArgs(opts)...)
	diff, err := r.git(ctx, append(args, sha)...)
	if err != nil {
		return DiffResult{}, fmt.Errorf("git diff-tree %s: %w", sha, err)
	}
	return r.result(ctx, sha, diff, "commit", sha, opts)
}

// Range returns the combined diff for a revision range. With mergeBase a
// two-dot range is compared from the merge base.
func (r *Repo) Range(ctx context.Context, revRange string, mergeBase bool, opts DiffOptions) (DiffResult, error) {
	diffRange := revRange
	if mergeBase && strings.Contains(revRange, "..") && !strings.Contains(revRange, "...") {
		diffRange = strings.Replace(revRange, "..", "...", 1)
	}
	args := append([]string{"diff", "--no-color", "--no-ext-diff"}, contextArgs(opts)...)
	diff, err := r.git(ctx, append(args, diffRange)...)
	if err != nil {
		return DiffResult{}, fmt.Errorf("git diff %s: %w", revRange, err)
	}
	return r.result(ctx, revRange, diff, "range", revRange, opts)
}

// File wraps content as a new-file diff so it can be scanned like a
// change.
func File(path string, content []byte) DiffResult {
	text := strings.TrimSuffix(string(content), "\n")
	lines := strings.Split(text, "\n")
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", path, path)
	b.WriteString("new file mode 100644\n--- /dev/null\n")
	fmt.Fprintf(&b, "+++ b/%s\n", path)
	fmt.Fprintf(&b, "@@ -0,0 +1,%d @@\n", len(lines))
	for _, line := range lines {
		b.WriteString("+" + line + "\n")
	}
	return DiffResult{ID: path, Diff: b.String(), Files: []string{path}, Mode: "file"}
}

// Resolve returns the full SHA of rev.
func (r *Repo) Resolve(ctx context.Context, rev string) (string, error) {
	out, err := r.git(ctx, "rev-parse", "--verify", "--end-of-options", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("unknown revision %q: %w", rev, err)
	}
	return strings.TrimSpace(out), nil
}

// CommitInfo holds a commit SHA and its subject line.
type CommitInfo struct {
	SHA     string `json:"sha"`
	Subject string `json:"subject"`
}

// ListCommits returns commits in a revision range, oldest first. With
// ancestryPath only commits that descend from the range start are kept,
// which is what a bisect needs.
func (r *Repo) ListCommits(ctx context.Context, revRange string, ancestryPath bool) ([]CommitInfo, error) {
	args := []string{"rev-list", "--reverse", "--format=%s"}
	if ancestryPath {
		args = append(args, "--ancestry-path")
	}
	out, err := r.git(ctx, append(args, revRange)...)
	if err != nil {
		return nil, fmt.Errorf("git rev-list %s: %w", revRange, err)
	}
	return parseRevList(out), nil
}

// parseRevList reads "commit <sha>\n<subject>\n" records.
func parseRevList(out string) []CommitInfo {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}
	lines := strings.Split(out, "\n")
	var commits []CommitInfo
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "commit ") {
			continue
		}
		c := CommitInfo{SHA: strings.TrimPrefix(line, "commit ")}
		if i+1 < len(lines) && !strings.HasPrefix(lines[i+1], "commit ") {
			c.Subject = strings.TrimSpace(lines[i+1])
			i++
		}
		commits = append(commits, c)
	}
	return commits
}

// CommitMessage returns the full message of commit.
func (r *Repo) CommitMessage(ctx context.Context, commit string) (string, error) {
	out, err := r.git(ctx, "log", "-1", "--format=%B", commit)
	if err != nil {
		return "", fmt.Errorf("git log %s: %w", commit, err)
	}
	return strings.TrimRight(out, "\n"), nil
}

// ChangedPaths returns the paths commit touched relative to its first
// parent.
func (r *Repo) ChangedPaths(ctx context.Context, commit string) ([]string, error) {
	out, err := r.git(ctx, "diff-tree", "--no-commit-id", "--name-only", "-r", "--root", "-m", "--first-parent", commit)
	if err != nil {
		return nil, fmt.Errorf("git diff-tree %s: %w", commit, err)
	}
	var paths []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			paths = append(paths, l)
		}
	}
	return paths, nil
}

// HooksDir returns the directory git reads hooks from.
func (r *Repo) HooksDir(ctx context.Context) (string, error) {
	out, err := r.git(ctx, "rev-parse", "--git-path", "hooks")
	if err != nil {
		return "", fmt.Errorf("locating hooks directory: %w", err)
	}
	dir := strings.TrimSpace(out)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.root, dir)
	}
	return dir, nil
}

// RemoteURL returns the URL of the named remote.
func (r *Repo) RemoteURL(ctx context.Context, name string) (string, error) {
	out, err := r.git(ctx, "remote", "get-url", name)
	if err != nil {
		return "", fmt.Errorf("git remote get-url %s: %w", name, err)
	}
	return strings.TrimSpace(out), nil
}

func (r *Repo) result(ctx context.Context, id, diff, mode, rangeStr string, opts DiffOptions) (DiffResult, error) {
	res := DiffResult{ID: id, Mode: mode, Range: rangeStr, Repo: r.Meta(ctx)}

	// Excludes apply before truncation so excluded files don't consume
	// the byte budget.
	if len(opts.Exclude) > 0 {
		set, err := pathglob.Compile(opts.Exclude)
		if err != nil {
			return DiffResult{}, fmt.Errorf("exclude patterns: %w", err)
		}
		diff = filterExcluded(diff, set)
	}
	if opts.MaxDiffBytes > 0 && len(diff) > opts.MaxDiffBytes {
		diff = truncateAtSection(diff, opts.MaxDiffBytes)
		res.Truncated = true
	}
	res.Diff = diff
	res.Files = extractFiles(diff)
	return res, nil
}

func contextArgs(opts DiffOptions) []string {
	if opts.ContextLines > 0 {
		return []string{fmt.Sprintf("-U%d", opts.ContextLines)}
	}
	return nil
}

func extractFiles(diff string) []string {
	var files []string
	seen := make(map[string]bool)
	for _, section := range splitDiffSections(diff) {
		f := extractPathFromSection(section)
		if f != "" && !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	return files
}

func filterExcluded(diff string, exclude *pathglob.Set) string {
	var kept []string
	for _, section := range splitDiffSections(diff) {
		path := extractPathFromSection(section)
		if path == "" || !exclude.Match(path) {
			kept = append(kept, section)
		}
	}
	return strings.Join(kept, "")
}

// truncateAtSection keeps whole file sections up to limit bytes. A first
// section larger than limit is kept whole so the result is never cut
// inside a hunk.
func truncateAtSection(diff string, limit int) string {
	var b strings.Builder
	for _, section := range splitDiffSections(diff) {
		if b.Len() > 0 && b.Len()+len(section) > limit {
			break
		}
		b.WriteString(section)
	}
	return b.String()
}

// splitDiffSections splits on "diff --git" lines. Joining the sections
// yields the input unchanged.
func splitDiffSections(diff string) []string {
	var sections []string
	start := 0
	for i := 0; i < len(diff); {
		end := strings.IndexByte(diff[i:], '\n')
		next := len(diff)
		if end >= 0 {
			next = i + end + 1
		}
		if i > start && strings.HasPrefix(diff[i:], "diff --git ") {
			sections = append(sections, diff[start:i])
			start = i
		}
		i = next
	}
	if start < len(diff) {
		sections = append(sections, diff[start:])
	}
	return sections
}

// extractPathFromSection returns the new path of a section, or the old
// path for deletions.
func extractPathFromSection(section string) string {
	var oldPath string
	for _, line := range strings.Split(section, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			return strings.TrimPrefix(line, "+++ b/")
		case strings.HasPrefix(line, "--- a/"):
			oldPath = strings.TrimPrefix(line, "--- a/")
		case strings.HasPrefix(line, "@@"):
			return oldPath
		}
	}
	if oldPath != "" {
		return oldPath
	}
	if strings.HasPrefix(section, "diff --git a/") {
		header, _, _ := strings.Cut(section, "\n")
		if _, b, ok := strings.Cut(header, " b/"); ok {
			return b
		}
	}
	return ""
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	return run(ctx, r.root, args...)
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), fmt.Errorf("%s: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

// Worktrees checks commits out into temporary linked worktrees. It
// implements bisect.Workspace.
type Worktrees struct {
	repo *Repo
}

// Worktrees returns a checkout source backed by r.
func (r *Repo) Worktrees() *Worktrees { return &Worktrees{repo: r} }

// Checkout creates a detached worktree at commit. release removes it.
func (w *Worktrees) Checkout(ctx context.Context, commit string) (string, func(), error) {
	parent, err := os.MkdirTemp("", "commitgate-wt-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating worktree directory: %w", err)
	}
	dir := filepath.Join(parent, "tree")
	if _, err := w.repo.git(ctx, "worktree", "add", "--detach", "--quiet", dir, commit); err != nil {
		_ = os.RemoveAll(parent)
		return "", nil, fmt.Errorf("git worktree add %s: %w", commit, err)
	}
	release := func() {
		// The probe context may be done; removal must still run.
		_, _ = w.repo.git(context.Background(), "worktree", "remove", "--force", dir)
		_ = os.RemoveAll(parent)
	}
	return dir, release, nil
}
