package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/commitgate/internal/audit"
	"github.com/dshills/commitgate/internal/bisect"
	"github.com/dshills/commitgate/internal/logging"
)

var (
	flagBisectCmd   string
	flagVerify      bool
	flagConfirm     bool
	flagMaxErrors   int
	flagService     string
	flagPHI         bool
	flagClinical    bool
	flagSecurity    bool
	flagParquetPath string
)

var bisectCmd = &cobra.Command{
	Use:   "bisect <good> <bad>",
	Short: "Find the commit that introduced a regression",
	Long: `Search the commits between a known good and a known bad ref for the first
bad one. The test command runs in a temporary worktree of each probed
commit: exit 0 is good, 125 skips the commit, 1 to 127 is bad.

Commits whose risk declarations match the incident are probed first near
the midpoint. The session is stored in the audit database.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagBisectCmd == "" {
			exitCode = ExitUsageError
			ui.Error("--cmd is required")
			return nil
		}
		ctx := cmd.Context()
		repo, err := openRepo(ctx)
		if err != nil {
			return fail(err)
		}
		good, err := repo.Resolve(ctx, args[0])
		if err != nil {
			return fail(err)
		}
		bad, err := repo.Resolve(ctx, args[1])
		if err != nil {
			return fail(err)
		}
		commits, err := repo.ListCommits(ctx, good+".."+bad, true)
		if err != nil {
			return fail(err)
		}
		shas := make([]string, len(commits))
		for i, c := range commits {
			shas[i] = c.SHA
		}
		ui.VerboseLog("%d candidate commit(s) between %s and %s", len(shas), args[0], args[1])

		store, err := openAudit(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		defer store.Close()
		scorer, err := newScorer(cfg, store)
		if err != nil {
			return fail(err)
		}

		inc := bisect.Incident{Service: flagService, PHI: flagPHI, Clinical: flagClinical, Security: flagSecurity}
		opts := []bisect.Option{
			bisect.WithHints(bisect.NewScoredHints(repo, scorer, inc, logging.Component(log, "hints"))),
			bisect.WithMaxErrors(maxErrors()),
			bisect.WithLogger(logging.Component(log, "bisect")),
		}
		if flagVerify || cfg.Bisect.Verify {
			opts = append(opts, bisect.WithVerifyEndpoints())
		}
		if flagConfirm || cfg.Bisect.Confirm {
			opts = append(opts, bisect.WithConfirm())
		}
		oracle := &bisect.ExecOracle{Command: flagBisectCmd, Workspace: repo.Worktrees()}

		sess, runErr := bisect.New(oracle, opts...).Localize(ctx, args[0], args[1], shas)
		mets.ObserveSession(sess)
		if err := store.SaveSession(context.WithoutCancel(ctx), sess, inc); err != nil {
			ui.Warning("session not recorded: %v", err)
		}
		if flagParquetPath != "" {
			n, err := audit.ExportSteps(flagParquetPath, sess)
			if err != nil {
				return fail(fmt.Errorf("exporting steps: %w", err))
			}
			ui.VerboseLog("wrote %d step(s) to %s", n, flagParquetPath)
		}
		if err := emit(sess, sess.State == bisect.StateFound); err != nil {
			return err
		}
		if runErr != nil {
			return fail(runErr)
		}
		return nil
	},
}

func maxErrors() int {
	if flagMaxErrors > 0 {
		return flagMaxErrors
	}
	return cfg.Bisect.MaxErrors
}

func init() {
	f := bisectCmd.Flags()
	f.StringVar(&flagBisectCmd, "cmd", "", "Test command run in each probed commit (required)")
	f.BoolVar(&flagVerify, "verify", false, "Check that good passes and bad fails before searching")
	f.BoolVar(&flagConfirm, "confirm", false, "Re-test the result and its parent before reporting")
	f.IntVar(&flagMaxErrors, "max-errors", 0, "Consecutive oracle errors tolerated before giving up")
	f.StringVar(&flagService, "incident-service", "", "Service the incident was observed in")
	f.BoolVar(&flagPHI, "phi", false, "The incident involves protected health information")
	f.BoolVar(&flagClinical, "clinical", false, "The incident affects clinical safety")
	f.BoolVar(&flagSecurity, "security", false, "The incident is security related")
	f.StringVar(&flagParquetPath, "parquet", "", "Export the probe steps to a Parquet file")
}
