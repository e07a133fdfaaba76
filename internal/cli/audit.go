package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/commitgate/internal/audit"
)

var (
	flagLimit       int
	flagIncidents   bool
	flagFailed      bool
	flagEnvironment string
	flagAuditCommit string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail of assessments and bisect sessions",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded assessments, or bisect sessions with --incidents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openAudit(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		defer store.Close()

		if flagIncidents {
			sums, err := store.ListSessions(ctx, flagLimit)
			if err != nil {
				return fail(err)
			}
			return emit(sums, true)
		}
		var recs []*audit.Record
		if flagAuditCommit != "" {
			recs, err = store.AssessmentHistory(ctx, flagAuditCommit)
		} else {
			recs, err = store.ListAssessments(ctx, flagLimit)
		}
		if err != nil {
			return fail(err)
		}
		return emit(recs, true)
	},
}

var auditIncidentCmd = &cobra.Command{
	Use:   "incident <id>",
	Short: "Show the full probe trace of a bisect session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openAudit(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		defer store.Close()

		sess, inc, err := store.GetSession(ctx, args[0])
		if err != nil {
			return fail(err)
		}
		log.Debug().Str("session", sess.ID).Interface("incident", inc).Msg("loaded session")
		if flagParquetPath != "" {
			n, err := audit.ExportSteps(flagParquetPath, sess)
			if err != nil {
				return fail(fmt.Errorf("exporting steps: %w", err))
			}
			ui.Success("Wrote %d step(s) to %s", n, flagParquetPath)
		}
		return emit(sess, true)
	},
}

var auditOutcomeCmd = &cobra.Command{
	Use:   "outcome <commit>",
	Short: "Record the deployment outcome of a commit",
	Long: `Record whether deploying a commit failed. Outcomes feed the historical
failure rate used when scoring later commits that touch the same paths.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		o := &audit.Outcome{CommitID: args[0], Environment: flagEnvironment, Failed: flagFailed, Paths: splitComma(flagPaths)}
		if len(o.Paths) == 0 {
			repo, err := openRepo(ctx)
			if err != nil {
				return fail(err)
			}
			if o.CommitID, err = repo.Resolve(ctx, args[0]); err != nil {
				return fail(err)
			}
			if o.Paths, err = repo.ChangedPaths(ctx, o.CommitID); err != nil {
				return fail(err)
			}
		}

		store, err := openAudit(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		defer store.Close()
		if err := store.RecordOutcome(ctx, o); err != nil {
			return fail(err)
		}
		ui.Success("Recorded %s outcome for %s (%d path(s))", outcomeLabel(o.Failed), o.CommitID, len(o.Paths))
		return nil
	},
}

func outcomeLabel(failed bool) string {
	if failed {
		return "failed"
	}
	return "successful"
}

func init() {
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditIncidentCmd)
	auditCmd.AddCommand(auditOutcomeCmd)
	auditListCmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum number of rows")
	auditListCmd.Flags().StringVar(&flagAuditCommit, "commit", "", "Show every assessment recorded for one commit, oldest first")
	auditListCmd.Flags().BoolVar(&flagIncidents, "incidents", false, "List bisect sessions instead of assessments")
	auditIncidentCmd.Flags().StringVar(&flagParquetPath, "parquet", "", "Export the probe steps to a Parquet file")
	auditOutcomeCmd.Flags().BoolVar(&flagFailed, "failed", false, "The deployment failed")
	auditOutcomeCmd.Flags().StringVar(&flagEnvironment, "env", "", "Deployment environment")
	auditOutcomeCmd.Flags().StringVar(&flagPaths, "paths", "", "Changed paths (comma-separated); read from git when omitted")
}
