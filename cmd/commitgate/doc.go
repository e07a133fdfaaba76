// Commitgate is a local-first CLI that governs commits in regulated
// codebases.
//
// It scans diffs for credentials and protected data before anything leaves
// the machine, writes or checks structured commit messages, validates
// declared compliance codes, scores deployment risk, and localizes
// regressions with a risk-guided bisect. Exit codes are deterministic so
// the commands can gate git hooks and CI.
//
// Usage:
//
//	commitgate scan staged                    # scan staged changes
//	commitgate gate staged                    # scan, generate, validate and score
//	commitgate validate --message-file MSG    # check a commit message
//	commitgate score --commit HEAD            # risk of an existing commit
//	commitgate bisect v1.4.0 HEAD --cmd "make test"
//	commitgate hook install                   # pre-commit and commit-msg hooks
package main
