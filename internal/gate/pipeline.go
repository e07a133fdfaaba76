package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dshills/commitgate/internal/audit"
	"github.com/dshills/commitgate/internal/cache"
	"github.com/dshills/commitgate/internal/chunk"
	"github.com/dshills/commitgate/internal/compliance"
	"github.com/dshills/commitgate/internal/metadata"
	"github.com/dshills/commitgate/internal/metrics"
	"github.com/dshills/commitgate/internal/providers"
	"github.com/dshills/commitgate/internal/risk"
	"github.com/dshills/commitgate/internal/sanitize"
)

const defaultConcurrency = 4

// Recorder persists assessments. *audit.Store implements it.
type Recorder interface {
	SaveAssessment(ctx context.Context, r *audit.Record) error
}

// Pipeline runs changes through sanitize, chunk, generate, validate,
// score, record and policy. It is safe for concurrent use.
type Pipeline struct {
	sanitizer *sanitize.Sanitizer
	validator *compliance.Validator
	scorer    *risk.Scorer

	gen         providers.Generator
	model       string
	limit       chunk.Limit
	maxTokens   int
	temperature float64
	limiter     *rate.Limiter
	cache       *cache.Cache

	required    []string
	recorder    Recorder
	policy      PolicyEvaluator
	metrics     *metrics.Metrics
	concurrency int
	log         zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGenerator enables message generation for inputs without a message.
// The chunk budget is derived from model.
func WithGenerator(g providers.Generator, model string) Option {
	return func(p *Pipeline) {
		p.gen = g
		p.model = model
		p.limit = chunk.LimitFor(model)
	}
}

// WithChunkBudget overrides the per-chunk token budget.
func WithChunkBudget(tokens int) Option {
	return func(p *Pipeline) { p.limit.MaxTokens = tokens }
}

// WithGenerationParams sets the response token cap and temperature.
func WithGenerationParams(maxTokens int, temperature float64) Option {
	return func(p *Pipeline) {
		p.maxTokens = maxTokens
		p.temperature = temperature
	}
}

// WithRateLimit paces generation calls to rps per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Pipeline) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithCache caches generated drafts.
func WithCache(c *cache.Cache) Option { return func(p *Pipeline) { p.cache = c } }

// WithRequiredFields sets the trailers a message must carry.
func WithRequiredFields(fields []string) Option {
	return func(p *Pipeline) { p.required = fields }
}

// WithRecorder stores every assessment.
func WithRecorder(r Recorder) Option { return func(p *Pipeline) { p.recorder = r } }

// WithPolicy consults an external policy after scoring.
func WithPolicy(e PolicyEvaluator) Option { return func(p *Pipeline) { p.policy = e } }

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithConcurrency bounds parallel generation calls and RunMany.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Pipeline) { p.log = l } }

// New creates a pipeline.
func New(s *sanitize.Sanitizer, v *compliance.Validator, sc *risk.Scorer, opts ...Option) *Pipeline {
	p := &Pipeline{
		sanitizer:   s,
		validator:   v,
		scorer:      sc,
		limit:       chunk.Limit{CharsPerToken: chunk.DefaultCharsPerToken},
		required:    metadata.DefaultRequired,
		concurrency: defaultConcurrency,
		log:         zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run gates one change. Gate failures are reported through Result.Err;
// the returned error is reserved for failures of the pipeline itself,
// such as a chunk over budget, a generation error or an audit write.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: ulid.Make().String(), ID: in.ID, Stage: StageScan}
	log := p.log.With().Str("run", res.RunID).Str("id", in.ID).Logger()
	defer func() { res.Timing.TotalMs = time.Since(start).Milliseconds() }()

	report := p.sanitizer.Sanitize(in.ID, in.Diff, in.Override)
	res.Scan = report
	res.Timing.ScanMs = time.Since(start).Milliseconds()
	p.metrics.ObserveScan(report)
	if report.Verdict == sanitize.VerdictBlock {
		log.Warn().Str("highest", string(report.HighestSeverity)).Msg("diff blocked by sanitizer")
		return res, nil
	}

	msg := in.Message
	if msg == "" && p.gen != nil && strings.TrimSpace(report.Redacted) != "" {
		res.Stage = StageGenerate
		genStart := time.Now()
		generated, err := p.generate(ctx, res, report)
		res.Timing.GenerateMs = time.Since(genStart).Milliseconds()
		if err != nil {
			return res, err
		}
		msg, res.Generated = generated, true
	}
	res.Message = msg

	res.Stage = StageValidate
	md := metadata.Parse(msg)
	md.ChangedPaths = in.Paths
	if len(md.ChangedPaths) == 0 {
		md.ChangedPaths = report.Paths()
	}
	res.Metadata = &md
	res.Problems = metadata.Lint(md)
	res.missing = md.Require(in.ID, p.required)

	eval := p.validator.Evaluate(md)
	res.Compliance = &eval
	for _, v := range eval.Invalid() {
		p.metrics.ObserveInvalidCode(v.Framework)
	}

	res.Stage = StageScore
	a, err := p.scorer.Score(ctx, in.ID, md)
	if err != nil {
		return res, fmt.Errorf("scoring %s: %w", in.ID, err)
	}
	res.Assessment = &a
	p.metrics.ObserveAssessment(a)

	if p.recorder != nil {
		rec := &audit.Record{
			CommitID:        in.ID,
			RunID:           res.RunID,
			Assessment:      a,
			ScanVerdict:     string(report.Verdict),
			HighestSeverity: string(report.HighestSeverity),
			CatalogVersion:  eval.CatalogVersion,
			CodesOK:         eval.OK(),
			Paths:           md.ChangedPaths,
		}
		if err := p.recorder.SaveAssessment(ctx, rec); err != nil {
			return res, fmt.Errorf("recording assessment: %w", err)
		}
	}

	if p.policy != nil {
		res.Stage = StagePolicy
		d, err := p.policy.Evaluate(ctx, PolicyInput{
			CommitID: in.ID,
			Metadata: md,
			Scan:     summarize(report),
			Risk:     a,
		})
		if err != nil {
			return res, fmt.Errorf("evaluating policy: %w", err)
		}
		res.Policy = &d
	}

	res.Stage = StageDone
	log.Info().
		Float64("score", a.Score).
		Str("level", string(a.Level)).
		Str("strategy", string(a.Strategy)).
		Bool("passed", res.Passed()).
		Msg("change gated")
	return res, nil
}

// RunMany gates independent changes in parallel. Results are returned in
// input order. The first pipeline failure cancels the rest.
func (p *Pipeline) RunMany(ctx context.Context, ins []Input) ([]*Result, error) {
	results := make([]*Result, len(ins))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, in := range ins {
		g.Go(func() error {
			res, err := p.Run(ctx, in)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// generate drafts a message per chunk of the redacted diff and merges the
// drafts when there is more than one.
func (p *Pipeline) generate(ctx context.Context, res *Result, report *sanitize.Report) (string, error) {
	chunks, err := chunk.Split(report.DiffID, report.Redacted, p.limit)
	if err != nil {
		return "", err
	}
	res.Chunks = chunks
	p.metrics.ObserveChunks(len(chunks))
	if len(chunks) == 0 {
		return "", nil
	}

	gens := make([]Generation, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			prompt := BuildChunkPrompt(chunk.Text(report.Redacted, c), c.Files, c.Index, c.Total)
			gen, err := p.call(gctx, SystemPrompt(), prompt)
			gen.Chunk = c.Index
			gens[i] = gen
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", withDiffID(err, report.DiffID)
	}
	res.Generations = gens

	if len(gens) == 1 {
		return cleanMessage(gens[0].Content), nil
	}
	drafts := make([]string, len(gens))
	for i, gen := range gens {
		drafts[i] = cleanMessage(gen.Content)
	}
	merged, err := p.call(ctx, combineSystemPrompt, BuildCombinePrompt(drafts))
	if err != nil {
		return "", withDiffID(err, report.DiffID)
	}
	merged.Chunk = -1
	res.Generations = append(res.Generations, merged)
	return cleanMessage(merged.Content), nil
}

// withDiffID tags a generation failure with the diff it was built from.
func withDiffID(err error, diffID string) error {
	var ge *providers.GenerationError
	if errors.As(err, &ge) && ge.DiffID == "" {
		ge.DiffID = diffID
	}
	return err
}

// call performs one paced, cached generation. Only sanitized text reaches
// this point.
func (p *Pipeline) call(ctx context.Context, system, prompt string) (Generation, error) {
	gen := Generation{Provider: p.gen.Name(), Model: p.model}
	key := cache.Key(gen.Provider, p.model, system+"\x00"+prompt)
	if e, ok := p.cache.Get(key); ok {
		gen.Content, gen.TokensUsed, gen.Cached = e.Content, e.TokensUsed, true
		return gen, nil
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return gen, fmt.Errorf("waiting for rate limiter: %w", providers.TimeoutError(gen.Provider, err))
		}
	}
	start := time.Now()
	resp, err := p.gen.Generate(ctx, providers.Request{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	p.metrics.ObserveGeneration(gen.Provider, time.Since(start), err)
	if err != nil {
		return gen, fmt.Errorf("generating message: %w", err)
	}
	gen.Content, gen.TokensUsed = resp.Content, resp.TokensUsed
	if resp.Model != "" {
		gen.Model = resp.Model
	}

	if err := p.cache.Put(key, cache.Entry{
		Provider:   gen.Provider,
		Model:      gen.Model,
		Content:    resp.Content,
		TokensUsed: resp.TokensUsed,
	}); err != nil {
		p.log.Warn().Err(err).Msg("cache write failed")
	}
	return gen, nil
}
