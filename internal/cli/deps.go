package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/commitgate/internal/audit"
	"github.com/dshills/commitgate/internal/cache"
	"github.com/dshills/commitgate/internal/compliance"
	"github.com/dshills/commitgate/internal/config"
	"github.com/dshills/commitgate/internal/gate"
	"github.com/dshills/commitgate/internal/gitctx"
	"github.com/dshills/commitgate/internal/logging"
	"github.com/dshills/commitgate/internal/patterns"
	"github.com/dshills/commitgate/internal/providers"
	"github.com/dshills/commitgate/internal/risk"
	"github.com/dshills/commitgate/internal/sanitize"
)

func loadPatterns(c config.Config) (*patterns.Catalog, error) {
	if c.Catalogs.Patterns != "" {
		return patterns.LoadCatalogFile(c.Catalogs.Patterns)
	}
	return patterns.DefaultCatalog()
}

func loadCodes(c config.Config) (*compliance.Catalog, error) {
	if c.Catalogs.Codes != "" {
		return compliance.LoadCatalogFile(c.Catalogs.Codes)
	}
	return compliance.DefaultCatalog()
}

// newSanitizer compiles the pattern catalog. With catalogs.watch set and a
// catalog file configured, the matcher is recompiled on change until ctx
// ends.
func newSanitizer(ctx context.Context, c config.Config) (*sanitize.Sanitizer, error) {
	cat, err := loadPatterns(c)
	if err != nil {
		return nil, fmt.Errorf("loading pattern catalog: %w", err)
	}
	m, err := patterns.Compile(cat)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern catalog: %w", err)
	}
	s := sanitize.New(m, sanitize.WithLogger(logging.Component(log, "sanitize")))
	if c.Catalogs.Watch && c.Catalogs.Patterns != "" {
		go func() {
			if err := sanitize.Watch(ctx, c.Catalogs.Patterns, s, logging.Component(log, "catalog")); err != nil {
				log.Error().Err(err).Msg("pattern catalog watch stopped")
			}
		}()
	}
	return s, nil
}

// newValidator loads the code catalog. With catalogs.watch set and a
// catalog file configured, it reloads the catalog until ctx ends.
func newValidator(ctx context.Context, c config.Config) (*compliance.Validator, error) {
	cat, err := loadCodes(c)
	if err != nil {
		return nil, fmt.Errorf("loading code catalog: %w", err)
	}
	v := compliance.NewValidator(cat)
	if c.Catalogs.Watch && c.Catalogs.Codes != "" {
		go func() {
			if err := compliance.Watch(ctx, c.Catalogs.Codes, v, logging.Component(log, "catalog")); err != nil {
				log.Error().Err(err).Msg("code catalog watch stopped")
			}
		}()
	}
	return v, nil
}

func newScorer(c config.Config, history risk.HistoryProvider) (*risk.Scorer, error) {
	tiers, err := risk.CompileTiers(c.Risk.Tiers)
	if err != nil {
		return nil, fmt.Errorf("compiling risk tiers: %w", err)
	}
	opts := []risk.Option{risk.WithTiers(tiers), risk.WithThresholds(c.Risk.Thresholds)}
	if history != nil {
		opts = append(opts, risk.WithHistory(history))
	}
	return risk.NewScorer(opts...), nil
}

func openAudit(ctx context.Context, c config.Config) (*audit.Store, error) {
	path, err := c.AuditPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	return audit.Open(ctx, path, audit.WithHistoryWindow(c.Risk.HistoryWindow))
}

func modelFor(c config.Config) string {
	if c.Model != "" {
		return c.Model
	}
	return providers.DefaultModel(c.Provider)
}

// newGenerator returns nil when generation is disabled.
func newGenerator(c config.Config) (providers.Generator, error) {
	if c.Provider == "" || c.Provider == "none" {
		return nil, nil
	}
	return providers.New(c.Provider, providers.Options{
		Model:      modelFor(c),
		Timeout:    c.Generation.Timeout,
		MaxRetries: c.Generation.MaxRetries,
	})
}

func newCache(c config.Config) (*cache.Cache, error) {
	if !c.Cache.Enabled {
		return cache.Disabled(), nil
	}
	return cache.New(c.Cache.Dir, c.Cache.TTL)
}

// pipelineOptions selects the optional stages of a gate pipeline.
type pipelineOptions struct {
	generate bool
	record   bool
	policy   bool
}

// newPipeline wires a gate pipeline from the configuration. The returned
// cleanup closes the audit store.
func newPipeline(ctx context.Context, c config.Config, po pipelineOptions) (*gate.Pipeline, func(), error) {
	cleanup := func() {}
	s, err := newSanitizer(ctx, c)
	if err != nil {
		return nil, cleanup, err
	}
	v, err := newValidator(ctx, c)
	if err != nil {
		return nil, cleanup, err
	}

	opts := []gate.Option{
		gate.WithRequiredFields(c.RequiredFields),
		gate.WithMetrics(mets),
		gate.WithConcurrency(c.Generation.Concurrency),
		gate.WithLogger(logging.Component(log, "gate")),
	}

	var history risk.HistoryProvider
	if po.record {
		store, err := openAudit(ctx, c)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("closing audit store")
			}
		}
		history = store
		opts = append(opts, gate.WithRecorder(store))
	}
	sc, err := newScorer(c, history)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	if po.generate {
		gen, err := newGenerator(c)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		if gen != nil {
			ch, err := newCache(c)
			if err != nil {
				cleanup()
				return nil, func() {}, err
			}
			opts = append(opts,
				gate.WithGenerator(gen, modelFor(c)),
				gate.WithGenerationParams(c.Generation.MaxTokens, c.Generation.Temperature),
				gate.WithRateLimit(c.Generation.RateLimit, c.Generation.Burst),
				gate.WithCache(ch),
			)
			if c.Generation.ChunkBudget > 0 {
				opts = append(opts, gate.WithChunkBudget(c.Generation.ChunkBudget))
			}
		}
	}

	if po.policy && c.Policy.Command != "" {
		opts = append(opts, gate.WithPolicy(&gate.ExecPolicy{Command: c.Policy.Command}))
	}
	return gate.New(s, v, sc, opts...), cleanup, nil
}

func openRepo(ctx context.Context) (*gitctx.Repo, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return gitctx.Open(ctx, wd)
}

func diffOptions(c config.Config) gitctx.DiffOptions {
	return gitctx.DiffOptions{
		ContextLines: c.ContextLines,
		MaxDiffBytes: c.MaxDiffBytes,
		Exclude:      append(append([]string(nil), c.Exclude...), splitComma(flagExclude)...),
	}
}

func override() *sanitize.Override {
	if flagOverrideReason == "" {
		return nil
	}
	return &sanitize.Override{Reason: flagOverrideReason, By: flagOverrideBy}
}
