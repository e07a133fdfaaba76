// Package gitctx extracts diffs and commit metadata from a git repository
// by shelling out to git.
//
// A [Repo] produces staged, commit and range diffs, optionally filtered by
// exclude globs and truncated at file boundaries. It also reads commit
// messages and changed paths for risk hints, lists commits oldest first
// for bisecting, and checks commits out into temporary worktrees through
// [Worktrees] so a test command can run without touching the user's tree.
package gitctx
