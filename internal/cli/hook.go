package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// Supported hooks.
const (
	hookPreCommit = "pre-commit"
	hookCommitMsg = "commit-msg"
)

var flagHooks string

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage git pre-commit and commit-msg hooks",
}

var hookInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install commitgate git hooks",
	Long: `Install the pre-commit hook, which scans staged changes, and the commit-msg
hook, which validates the commit message. Existing hook scripts are kept;
the commitgate section is added or replaced between marker lines.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, hooks, err := hookTargets(cmd.Context())
		if err != nil {
			return fail(err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fail(fmt.Errorf("creating hooks directory: %w", err))
		}
		for _, hook := range hooks {
			path := filepath.Join(dir, hook)
			existing, err := os.ReadFile(path)
			if err != nil && !os.IsNotExist(err) {
				return fail(fmt.Errorf("reading hook file: %w", err))
			}

			section := generateHookScript(hook)
			var content string
			if len(existing) == 0 {
				content = "#!/bin/sh\n" + section
			} else {
				content = replaceHookSection(string(existing), hook, section)
			}
			if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
				return fail(fmt.Errorf("writing hook file: %w", err))
			}
			ui.Success("Installed commitgate %s hook at %s", hook, path)
		}
		return nil
	},
}

var hookUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove commitgate git hooks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, hooks, err := hookTargets(cmd.Context())
		if err != nil {
			return fail(err)
		}
		for _, hook := range hooks {
			path := filepath.Join(dir, hook)
			existing, err := os.ReadFile(path)
			if os.IsNotExist(err) {
				ui.Info("No %s hook found.", hook)
				continue
			}
			if err != nil {
				return fail(fmt.Errorf("reading hook file: %w", err))
			}

			content := removeHookSection(string(existing), hook)
			if onlyShebang(content) {
				if err := os.Remove(path); err != nil {
					return fail(fmt.Errorf("removing hook file: %w", err))
				}
				ui.Success("Removed commitgate %s hook at %s", hook, path)
				continue
			}
			if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
				return fail(fmt.Errorf("writing hook file: %w", err))
			}
			ui.Success("Removed commitgate section from %s", path)
		}
		return nil
	},
}

func hookTargets(ctx context.Context) (string, []string, error) {
	hooks, err := parseHooks(flagHooks)
	if err != nil {
		return "", nil, err
	}
	repo, err := openRepo(ctx)
	if err != nil {
		return "", nil, err
	}
	dir, err := repo.HooksDir(ctx)
	if err != nil {
		return "", nil, err
	}
	return dir, hooks, nil
}

func parseHooks(s string) ([]string, error) {
	hooks := splitComma(s)
	if len(hooks) == 0 {
		return []string{hookPreCommit, hookCommitMsg}, nil
	}
	for _, h := range hooks {
		if h != hookPreCommit && h != hookCommitMsg {
			return nil, fmt.Errorf("unsupported hook %q (want %s or %s)", h, hookPreCommit, hookCommitMsg)
		}
	}
	return hooks, nil
}

func hookMarkers(hook string) (start, end string) {
	return "# >>> commitgate " + hook + " hook >>>", "# <<< commitgate " + hook + " hook <<<"
}

// generateHookScript returns the marked section for hook. Exit 1 blocks
// the commit; other failures warn and let it through.
func generateHookScript(hook string) string {
	start, end := hookMarkers(hook)
	command := "commitgate scan staged"
	what := "sensitive data in staged changes"
	if hook == hookCommitMsg {
		command = `commitgate validate --message-file "$1"`
		what = "commit message rejected"
	}

	var b strings.Builder
	b.WriteString(start + "\n")
	b.WriteString(command + "\n")
	b.WriteString("COMMITGATE_EXIT=$?\n")
	b.WriteString("if [ $COMMITGATE_EXIT -eq 1 ]; then\n")
	fmt.Fprintf(&b, "  echo \"commitgate: %s, commit blocked\"\n", what)
	b.WriteString("  exit 1\n")
	b.WriteString("elif [ $COMMITGATE_EXIT -ge 2 ]; then\n")
	b.WriteString("  echo \"commitgate: warning: check failed with exit $COMMITGATE_EXIT, allowing commit\"\n")
	b.WriteString("fi\n")
	b.WriteString(end + "\n")
	return b.String()
}

func replaceHookSection(existing, hook, section string) string {
	start, end := hookMarkers(hook)
	startIdx := strings.Index(existing, start)
	endIdx := strings.Index(existing, end)

	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		if !strings.HasSuffix(existing, "\n") {
			existing += "\n"
		}
		return existing + section
	}

	before := existing[:startIdx]
	after := strings.TrimPrefix(existing[endIdx+len(end):], "\n")
	return before + section + after
}

func removeHookSection(existing, hook string) string {
	start, end := hookMarkers(hook)
	startIdx := strings.Index(existing, start)
	endIdx := strings.Index(existing, end)

	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		return existing
	}

	before := existing[:startIdx]
	after := strings.TrimPrefix(existing[endIdx+len(end):], "\n")
	return before + after
}

func onlyShebang(content string) bool {
	trimmed := strings.TrimSpace(content)
	return trimmed == "" || trimmed == "#!/bin/sh" || trimmed == "#!/bin/bash"
}

func init() {
	hookCmd.AddCommand(hookInstallCmd)
	hookCmd.AddCommand(hookUninstallCmd)
	hookCmd.PersistentFlags().StringVar(&flagHooks, "hooks", "", "Hooks to manage (pre-commit, commit-msg; default both)")
}
