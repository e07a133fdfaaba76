package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/commitgate/internal/gitctx"
)

// Shared diff source flags
var (
	flagExclude   string
	flagMergeBase bool
)

// diffHandler consumes a collected diff.
type diffHandler func(cmd *cobra.Command, d gitctx.DiffResult) error

// addSources attaches the staged, commit, range and file subcommands to
// parent. Each collects a diff and hands it to h.
func addSources(parent *cobra.Command, h diffHandler) {
	staged := &cobra.Command{
		Use:   "staged",
		Short: "Use staged changes (index vs HEAD)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cmd.Context())
			if err != nil {
				return fail(err)
			}
			d, err := repo.Staged(cmd.Context(), diffOptions(cfg))
			if err != nil {
				return fail(err)
			}
			return h(cmd, d)
		},
	}

	commit := &cobra.Command{
		Use:   "commit <sha>",
		Short: "Use the changes of one commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cmd.Context())
			if err != nil {
				return fail(err)
			}
			d, err := repo.Commit(cmd.Context(), args[0], diffOptions(cfg))
			if err != nil {
				return fail(err)
			}
			return h(cmd, d)
		},
	}

	rng := &cobra.Command{
		Use:   "range <revRange>",
		Short: "Use a revision range (e.g., origin/main..HEAD)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cmd.Context())
			if err != nil {
				return fail(err)
			}
			d, err := repo.Range(cmd.Context(), args[0], flagMergeBase, diffOptions(cfg))
			if err != nil {
				return fail(err)
			}
			return h(cmd, d)
		},
	}
	rng.Flags().BoolVar(&flagMergeBase, "merge-base", false, "Diff against the merge base of the range")

	file := &cobra.Command{
		Use:   "file <path>",
		Short: "Use a file's content as a newly added file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(args[0])
			if err != nil {
				return fail(err)
			}
			name := args[0]
			if name == "-" {
				name = "stdin"
			}
			return h(cmd, gitctx.File(name, content))
		},
	}

	for _, c := range []*cobra.Command{staged, commit, rng} {
		c.Flags().StringVar(&flagExclude, "exclude", "", "Exclude file path globs (comma-separated)")
	}
	parent.AddCommand(staged, commit, rng, file)
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
