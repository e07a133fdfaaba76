package risk

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/dshills/commitgate/internal/metadata"
	"github.com/dshills/commitgate/internal/pathglob"
)

// Factor names.
const (
	FactorPathTier        = "path_tier"
	FactorPHIImpact       = "phi_impact"
	FactorClinicalSafety  = "clinical_safety"
	FactorFinancialImpact = "financial_impact"
	FactorFileCount       = "file_count"
	FactorBreaking        = "breaking_change"
	FactorHistory         = "history"
)

// Weights. The base factors total 100.
var (
	tierPoints      = map[int]float64{1: 30, 2: 18, 3: 8}
	phiPoints       = map[string]float64{"indirect": 10, "direct": 20}
	clinicalPoints  = map[string]float64{"low": 5, "medium": 10, "high": 15, "critical": 20}
	financialPoints = map[string]float64{"low": 5, "medium": 10, "high": 15}
)

const (
	maxFilePoints  = 5.0
	fileCountCap   = 50
	breakingPoints = 10.0
	historyShare   = 0.15
)

// HistoryProvider reports the observed failure rate, in [0, 1], of past
// deployments touching paths. ok is false when there is no data.
type HistoryProvider interface {
	FailureRate(ctx context.Context, paths []string) (rate float64, ok bool, err error)
}

// TierConfig lists path globs per tier; tier 1 is the most sensitive.
type TierConfig struct {
	Tier1 []string `json:"tier1" yaml:"tier1" mapstructure:"tier1"`
	Tier2 []string `json:"tier2" yaml:"tier2" mapstructure:"tier2"`
	Tier3 []string `json:"tier3" yaml:"tier3" mapstructure:"tier3"`
}

// DefaultTierConfig returns the built-in path tiers.
func DefaultTierConfig() TierConfig {
	return TierConfig{
		Tier1: []string{"services/phi-service/**", "services/medical-device/**", "**/*encryption*", "**/*crypto*"},
		Tier2: []string{"services/payment-gateway/**", "services/auth-service/**", "**/migrations/**"},
		Tier3: []string{"services/*/api/**", ".github/workflows/**", "**/Dockerfile", "deploy/**"},
	}
}

// Tiers is a compiled TierConfig.
type Tiers struct {
	sets [3]*pathglob.Set
}

// CompileTiers compiles cfg.
func CompileTiers(cfg TierConfig) (*Tiers, error) {
	t := &Tiers{}
	for i, globs := range [][]string{cfg.Tier1, cfg.Tier2, cfg.Tier3} {
		set, err := pathglob.Compile(globs)
		if err != nil {
			return nil, fmt.Errorf("tier %d: %w", i+1, err)
		}
		t.sets[i] = set
	}
	return t, nil
}

// Of returns the most sensitive tier any path falls in, or 0.
func (t *Tiers) Of(paths []string) int {
	for i, set := range t.sets {
		if set.MatchAny(paths) {
			return i + 1
		}
	}
	return 0
}

// Scorer computes assessments. It is safe for concurrent use.
type Scorer struct {
	tiers      *Tiers
	thresholds Thresholds
	history    HistoryProvider
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithTiers replaces the default path tiers.
func WithTiers(t *Tiers) Option {
	return func(s *Scorer) { s.tiers = t }
}

// WithThresholds replaces the default level thresholds.
func WithThresholds(th Thresholds) Option {
	return func(s *Scorer) { s.thresholds = th }
}

// WithHistory enables the history factor.
func WithHistory(h HistoryProvider) Option {
	return func(s *Scorer) { s.history = h }
}

// NewScorer returns a Scorer with the default tiers and thresholds.
func NewScorer(opts ...Option) *Scorer {
	tiers, err := CompileTiers(DefaultTierConfig())
	if err != nil {
		panic(err)
	}
	s := &Scorer{tiers: tiers, thresholds: DefaultThresholds()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Tier returns the path tier of paths under the scorer's configuration.
func (s *Scorer) Tier(paths []string) int { return s.tiers.Of(paths) }

// Score assesses md. The only error is a done context; a failing history
// provider degrades to an omitted factor.
func (s *Scorer) Score(ctx context.Context, commitID string, md metadata.CommitMetadata) (Assessment, error) {
	if err := ctx.Err(); err != nil {
		return Assessment{}, err
	}

	tier := s.tiers.Of(md.ChangedPaths)
	n := len(md.ChangedPaths)
	factors := []Factor{
		{Name: FactorPathTier, Value: tierLabel(tier), Points: tierPoints[tier]},
		{Name: FactorPHIImpact, Value: valueOrNone(md.Risk.PHIImpact), Points: phiPoints[md.Risk.PHIImpact]},
		{Name: FactorClinicalSafety, Value: valueOrNone(md.Risk.ClinicalSafety), Points: clinicalPoints[md.Risk.ClinicalSafety]},
		{Name: FactorFinancialImpact, Value: valueOrNone(md.Risk.FinancialImpact), Points: financialPoints[md.Risk.FinancialImpact]},
		{Name: FactorFileCount, Value: strconv.Itoa(n), Points: float64(min(n, fileCountCap)) / fileCountCap * maxFilePoints},
		{Name: FactorBreaking, Value: strconv.FormatBool(md.Breaking), Points: boolPoints(md.Breaking, breakingPoints)},
	}
	var base float64
	for _, f := range factors {
		base += f.Points
	}

	score := base
	hist := Factor{Name: FactorHistory, Omitted: true}
	switch {
	case s.history == nil:
		hist.Note = "no history provider"
	default:
		rate, ok, err := s.history.FailureRate(ctx, md.ChangedPaths)
		switch {
		case err != nil:
			hist.Note = "history unavailable: " + err.Error()
		case !ok:
			hist.Note = "no recorded outcomes"
		default:
			rate = math.Max(0, math.Min(1, rate))
			score = (1-historyShare)*base + historyShare*100*rate
			hist = Factor{
				Name:   FactorHistory,
				Value:  strconv.FormatFloat(rate, 'f', 3, 64),
				Points: score - base,
			}
		}
	}
	factors = append(factors, hist)

	score = round1(math.Max(0, math.Min(100, score)))
	level := LevelFor(score, s.thresholds)
	strategy, approvals := StrategyFor(level)
	return Assessment{
		CommitID:          commitID,
		Score:             score,
		Level:             level,
		Factors:           factors,
		Strategy:          strategy,
		RequiredApprovals: approvals,
		Recommendations:   Recommendations(level),
	}, nil
}

func tierLabel(t int) string {
	if t == 0 {
		return "none"
	}
	return "tier" + strconv.Itoa(t)
}

func valueOrNone(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

func boolPoints(b bool, p float64) float64 {
	if b {
		return p
	}
	return 0
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
