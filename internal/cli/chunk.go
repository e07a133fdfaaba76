package cli

import (
	"github.com/spf13/cobra"

	"github.com/dshills/commitgate/internal/chunk"
	"github.com/dshills/commitgate/internal/gitctx"
	"github.com/dshills/commitgate/internal/output"
)

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Show how a sanitized diff is split for the model's context window",
}

func runChunk(cmd *cobra.Command, d gitctx.DiffResult) error {
	report, err := scanDiff(cmd.Context(), d)
	if err != nil {
		return fail(err)
	}
	if err := report.Err(); err != nil {
		block()
		return fail(err)
	}

	lim := chunk.LimitFor(modelFor(cfg))
	lim.MaxTokens = cfg.Generation.ChunkBudget
	chunks, err := chunk.Split(d.ID, report.Redacted, lim)
	if err != nil {
		return fail(err)
	}
	mets.ObserveChunks(len(chunks))

	plan := output.ChunkPlan{DiffID: d.ID, Model: lim.Model, Budget: lim.Budget(), Chunks: chunks}
	return emit(plan, true)
}

func init() {
	addSources(chunkCmd, runChunk)
}
