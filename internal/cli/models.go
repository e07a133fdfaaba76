package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/commitgate/internal/chunk"
	"github.com/dshills/commitgate/internal/providers"
)

var providerNames = []string{"anthropic", "openai", "gemini", "ollama", "lmstudio"}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Provider and model management",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers, default models and chunk budgets",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		table := ui.Table([]string{"Provider", "Default model", "Context tokens", "Chunk budget"})
		for _, p := range providerNames {
			model := providers.DefaultModel(p)
			if p == cfg.Provider && cfg.Model != "" {
				model = cfg.Model
			}
			lim := chunk.LimitFor(model)
			ctxTokens := "unknown"
			if lim.ContextTokens > 0 {
				ctxTokens = strconv.Itoa(lim.ContextTokens)
			}
			_ = table.Append([]string{p, model, ctxTokens, strconv.Itoa(lim.Budget())})
		}
		_ = table.Render()
	},
}

var modelsDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the configured provider accepts requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gen, err := newGenerator(cfg)
		if err != nil {
			return fail(err)
		}
		if gen == nil {
			ui.Info("Generation is disabled (provider %q).", cfg.Provider)
			return nil
		}

		ui.Info("Checking %s (%s)...", gen.Name(), modelFor(cfg))
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		_, err = gen.Generate(ctx, providers.Request{
			System:    "Respond with exactly: ok",
			Prompt:    "ping",
			MaxTokens: 10,
		})
		if err != nil {
			return fail(err)
		}
		ui.Success("%s is configured and responding", gen.Name())
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsDoctorCmd)
}
