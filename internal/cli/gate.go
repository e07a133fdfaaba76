package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/commitgate/internal/gate"
	"github.com/dshills/commitgate/internal/metadata"
	"github.com/dshills/commitgate/internal/output"
)

var (
	flagMessageFile string
	flagPaths       string
	flagCommit      string
	flagNoRecord    bool
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Run the full commit gate",
	Long: `Scan, write or check the commit message, validate compliance codes,
score deployment risk and record the assessment. When no message is given
one is generated from the sanitized diff.`,
}

var gateStagedCmd = &cobra.Command{
	Use:   "staged",
	Short: "Gate the staged changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, err := openRepo(ctx)
		if err != nil {
			return fail(err)
		}
		d, err := repo.Staged(ctx, diffOptions(cfg))
		if err != nil {
			return fail(err)
		}
		msg, err := messageFromFlag()
		if err != nil {
			return fail(err)
		}

		p, cleanup, err := newPipeline(ctx, cfg, pipelineOptions{generate: true, record: !flagNoRecord, policy: true})
		if err != nil {
			return fail(err)
		}
		defer cleanup()

		res, err := p.Run(ctx, gate.Input{ID: d.ID, Diff: d.Diff, Message: msg, Override: override()})
		if err != nil {
			return fail(err)
		}
		return emit(res, res.Passed())
	},
}

var gateCommitCmd = &cobra.Command{
	Use:   "commit <sha>...",
	Short: "Gate existing commits using their own messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, err := openRepo(ctx)
		if err != nil {
			return fail(err)
		}

		ins := make([]gate.Input, 0, len(args))
		for _, rev := range args {
			d, err := repo.Commit(ctx, rev, diffOptions(cfg))
			if err != nil {
				return fail(err)
			}
			msg, err := repo.CommitMessage(ctx, d.ID)
			if err != nil {
				return fail(err)
			}
			ins = append(ins, gate.Input{ID: d.ID, Diff: d.Diff, Message: msg, Override: override()})
		}

		p, cleanup, err := newPipeline(ctx, cfg, pipelineOptions{record: !flagNoRecord, policy: true})
		if err != nil {
			return fail(err)
		}
		defer cleanup()

		results, err := p.RunMany(ctx, ins)
		if err != nil {
			return fail(err)
		}
		passed := true
		for _, r := range results {
			passed = passed && r.Passed()
		}
		if len(results) == 1 {
			return emit(results[0], passed)
		}
		return emit(results, passed)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a commit message against the conventions and the code catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagMessageFile == "" {
			exitCode = ExitUsageError
			ui.Error("--message-file is required")
			return nil
		}
		msg, err := messageFromFlag()
		if err != nil {
			return fail(err)
		}
		p, cleanup, err := newPipeline(cmd.Context(), cfg, pipelineOptions{})
		if err != nil {
			return fail(err)
		}
		defer cleanup()

		res, err := p.Run(cmd.Context(), gate.Input{ID: "message", Message: msg, Paths: splitComma(flagPaths)})
		if err != nil {
			return fail(err)
		}
		return emit(res, res.Passed())
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score the deployment risk of a commit message",
	Long: `Score the deployment risk declared by a commit message. Use --commit to read
the message and changed paths of an existing commit instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, md, err := scoreInput(ctx)
		if err != nil {
			return fail(err)
		}

		store, err := openAudit(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		defer store.Close()
		sc, err := newScorer(cfg, store)
		if err != nil {
			return fail(err)
		}
		a, err := sc.Score(ctx, id, md)
		if err != nil {
			return fail(err)
		}
		mets.ObserveAssessment(a)
		return emit(&a, true)
	},
}

func scoreInput(ctx context.Context) (string, metadata.CommitMetadata, error) {
	if flagCommit != "" {
		repo, err := openRepo(ctx)
		if err != nil {
			return "", metadata.CommitMetadata{}, err
		}
		sha, err := repo.Resolve(ctx, flagCommit)
		if err != nil {
			return "", metadata.CommitMetadata{}, err
		}
		msg, err := repo.CommitMessage(ctx, sha)
		if err != nil {
			return "", metadata.CommitMetadata{}, err
		}
		md := metadata.Parse(msg)
		if md.ChangedPaths, err = repo.ChangedPaths(ctx, sha); err != nil {
			return "", metadata.CommitMetadata{}, err
		}
		return sha, md, nil
	}
	if flagMessageFile == "" {
		return "", metadata.CommitMetadata{}, fmt.Errorf("one of --message-file or --commit is required")
	}
	msg, err := messageFromFlag()
	if err != nil {
		return "", metadata.CommitMetadata{}, err
	}
	md := metadata.Parse(msg)
	md.ChangedPaths = splitComma(flagPaths)
	return "message", md, nil
}

func messageFromFlag() (string, error) {
	if flagMessageFile == "" {
		return "", nil
	}
	data, err := readInput(flagMessageFile)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// emit writes doc in the configured format and blocks unless passed.
func emit(doc any, passed bool) error {
	if err := output.WriteTo(doc, cfg.Format, flagOut); err != nil {
		return fail(fmt.Errorf("writing output: %w", err))
	}
	if !passed {
		block()
	}
	return nil
}

func init() {
	gateCmd.AddCommand(gateStagedCmd)
	gateCmd.AddCommand(gateCommitCmd)
	gateCmd.PersistentFlags().StringVar(&flagOverrideReason, "override-reason", "", "Accept high-severity findings with this recorded reason")
	gateCmd.PersistentFlags().StringVar(&flagOverrideBy, "override-by", "", "Who approved the override")
	gateCmd.PersistentFlags().StringVar(&flagExclude, "exclude", "", "Exclude file path globs (comma-separated)")
	gateCmd.PersistentFlags().BoolVar(&flagNoRecord, "no-record", false, "Do not write the assessment to the audit store")
	gateStagedCmd.Flags().StringVar(&flagMessageFile, "message-file", "", "Commit message file (- for stdin); generated when omitted")

	validateCmd.Flags().StringVar(&flagMessageFile, "message-file", "", "Commit message file (- for stdin)")
	validateCmd.Flags().StringVar(&flagPaths, "paths", "", "Changed paths (comma-separated)")

	scoreCmd.Flags().StringVar(&flagMessageFile, "message-file", "", "Commit message file (- for stdin)")
	scoreCmd.Flags().StringVar(&flagPaths, "paths", "", "Changed paths (comma-separated)")
	scoreCmd.Flags().StringVar(&flagCommit, "commit", "", "Score an existing commit")
}
