package cli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/commitgate/internal/github"
	"github.com/dshills/commitgate/internal/gitctx"
	"github.com/dshills/commitgate/internal/output"
	"github.com/dshills/commitgate/internal/sanitize"
)

var (
	flagOverrideReason string
	flagOverrideBy     string
	flagComment        bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a diff for secrets and protected data",
	Long: `Scan a diff for credentials and protected health, personal or financial data.
Findings are redacted and the diff is blocked when a critical finding is
present, or a high finding without an override.`,
}

func runScan(cmd *cobra.Command, d gitctx.DiffResult) error {
	report, err := scanDiff(cmd.Context(), d)
	if err != nil {
		return fail(err)
	}
	return emit(report, report.Verdict == sanitize.VerdictAccept)
}

func scanDiff(ctx context.Context, d gitctx.DiffResult) (*sanitize.Report, error) {
	if d.Truncated {
		ui.Warning("diff truncated to %d bytes; later files were not scanned", cfg.MaxDiffBytes)
	}
	s, err := newSanitizer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	report := s.Sanitize(d.ID, d.Diff, override())
	mets.ObserveScan(report)
	log.Debug().
		Str("diff", d.ID).
		Str("verdict", string(report.Verdict)).
		Int("findings", len(report.Findings)).
		Msg("scan complete")
	return report, nil
}

var scanPRCmd = &cobra.Command{
	Use:   "pr <owner/repo#number>",
	Short: "Scan a GitHub pull request",
	Long:  "Fetch a pull request diff from GitHub and scan it. With --comment the markdown report is posted to the pull request.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pr, err := github.ParsePR(args[0])
		if err != nil {
			exitCode = ExitUsageError
			ui.Error("%v", err)
			return nil
		}
		if pr.Owner == "" {
			if pr, err = detectRepo(ctx, pr); err != nil {
				return fail(err)
			}
		}

		gh, err := github.NewClient()
		if err != nil {
			return fail(fmt.Errorf("%w: %v", github.ErrAuth, err))
		}
		ui.Info("Fetching %s...", pr)
		diff, err := gh.GetPRDiff(ctx, pr)
		if err != nil {
			return fail(err)
		}
		files, err := gh.GetPRFiles(ctx, pr)
		if err != nil {
			ui.Warning("could not fetch file list: %v", err)
		}

		report, err := scanDiff(ctx, gitctx.DiffResult{ID: pr.String(), Diff: diff, Files: files, Mode: "github-pr"})
		if err != nil {
			return fail(err)
		}
		if err := output.WriteTo(report, cfg.Format, flagOut); err != nil {
			return fail(fmt.Errorf("writing output: %w", err))
		}

		if flagComment {
			var body bytes.Buffer
			if err := (&output.MarkdownWriter{}).Write(&body, report); err != nil {
				return fail(err)
			}
			if err := gh.PostComment(ctx, pr, body.String()); err != nil {
				return fail(fmt.Errorf("posting comment: %w", err))
			}
			ui.Success("Report posted to %s", pr)
		}

		if report.Verdict == sanitize.VerdictBlock {
			block()
		}
		return nil
	},
}

// detectRepo fills owner and repo from the origin remote.
func detectRepo(ctx context.Context, pr github.PR) (github.PR, error) {
	repo, err := openRepo(ctx)
	if err != nil {
		return pr, err
	}
	url, err := repo.RemoteURL(ctx, "origin")
	if err != nil {
		return pr, fmt.Errorf("detecting repository: %w", err)
	}
	pr.Owner, pr.Repo, err = github.ParseRemoteURL(url)
	return pr, err
}

func init() {
	addSources(scanCmd, runScan)
	scanCmd.AddCommand(scanPRCmd)
	scanCmd.PersistentFlags().StringVar(&flagOverrideReason, "override-reason", "", "Accept high-severity findings with this recorded reason")
	scanCmd.PersistentFlags().StringVar(&flagOverrideBy, "override-by", "", "Who approved the override")
	scanPRCmd.Flags().BoolVar(&flagComment, "comment", false, "Post the report as a pull request comment")
}
