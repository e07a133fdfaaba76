package risk

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/commitgate/internal/metadata"
)

type fakeHistory struct {
	rate float64
	ok   bool
	err  error
}

func (f fakeHistory) FailureRate(context.Context, []string) (float64, bool, error) {
	return f.rate, f.ok, f.err
}

func paths(n int, first string) []string {
	out := []string{first}
	for i := 1; i < n; i++ {
		out = append(out, fmt.Sprintf("docs/page%d.md", i))
	}
	return out
}

func factor(a Assessment, name string) Factor {
	for _, f := range a.Factors {
		if f.Name == name {
			return f
		}
	}
	return Factor{}
}

func TestScore_Empty(t *testing.T) {
	a, err := NewScorer().Score(context.Background(), "c1", metadata.CommitMetadata{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, LevelLow, a.Level)
	assert.Equal(t, StrategyDirect, a.Strategy)
	assert.Equal(t, 0, a.RequiredApprovals)
	assert.Equal(t, "c1", a.CommitID)
	assert.NotEmpty(t, a.Recommendations)
	assert.True(t, factor(a, FactorHistory).Omitted)
}

func TestScore_Maximum(t *testing.T) {
	md := metadata.CommitMetadata{
		ChangedPaths: paths(60, "services/phi-service/store.go"),
		Breaking:     true,
		Risk:         metadata.Risk{PHIImpact: "direct", ClinicalSafety: "critical", FinancialImpact: "high"},
	}
	a, err := NewScorer().Score(context.Background(), "c1", md)
	require.NoError(t, err)
	assert.Equal(t, 100.0, a.Score)
	assert.Equal(t, LevelCritical, a.Level)
	assert.Equal(t, StrategyManualApproval, a.Strategy)
	assert.Equal(t, 2, a.RequiredApprovals)
	assert.Equal(t, "tier1", factor(a, FactorPathTier).Value)
}

func TestScore_Monotonic(t *testing.T) {
	s := NewScorer()
	ctx := context.Background()
	fields := map[string]struct {
		values []string
		set    func(*metadata.CommitMetadata, string)
	}{
		"phi":       {[]string{"", "none", "indirect", "direct"}, func(m *metadata.CommitMetadata, v string) { m.Risk.PHIImpact = v }},
		"clinical":  {[]string{"", "none", "low", "medium", "high", "critical"}, func(m *metadata.CommitMetadata, v string) { m.Risk.ClinicalSafety = v }},
		"financial": {[]string{"", "none", "low", "medium", "high"}, func(m *metadata.CommitMetadata, v string) { m.Risk.FinancialImpact = v }},
	}
	for name, f := range fields {
		t.Run(name, func(t *testing.T) {
			prev := -1.0
			for _, v := range f.values {
				md := metadata.CommitMetadata{ChangedPaths: []string{"services/auth-service/x.go"}}
				f.set(&md, v)
				a, err := s.Score(ctx, "c", md)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, a.Score, prev, "value %q lowered the score", v)
				prev = a.Score
			}
		})
	}

	prev := -1.0
	for n := 0; n <= 60; n += 5 {
		md := metadata.CommitMetadata{ChangedPaths: paths(max(n, 1), "docs/a.md")[:n]}
		a, err := s.Score(ctx, "c", md)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, a.Score, prev)
		prev = a.Score
	}
}

func TestScore_History(t *testing.T) {
	md := metadata.CommitMetadata{
		ChangedPaths: paths(10, "services/phi-service/store.go"),
		Risk:         metadata.Risk{PHIImpact: "indirect"},
	}
	ctx := context.Background()

	base, err := NewScorer().Score(ctx, "c", md)
	require.NoError(t, err)
	assert.InDelta(t, 41.0, base.Score, 0.001)

	a, err := NewScorer(WithHistory(fakeHistory{rate: 1, ok: true})).Score(ctx, "c", md)
	require.NoError(t, err)
	assert.InDelta(t, 0.85*41+15, a.Score, 0.06)
	assert.False(t, factor(a, FactorHistory).Omitted)

	a, err = NewScorer(WithHistory(fakeHistory{rate: 0, ok: true})).Score(ctx, "c", md)
	require.NoError(t, err)
	assert.InDelta(t, 0.85*41, a.Score, 0.06)

	a, err = NewScorer(WithHistory(fakeHistory{})).Score(ctx, "c", md)
	require.NoError(t, err)
	assert.Equal(t, base.Score, a.Score, "no data must be neutral")
	assert.True(t, factor(a, FactorHistory).Omitted)

	a, err = NewScorer(WithHistory(fakeHistory{err: errors.New("db locked")})).Score(ctx, "c", md)
	require.NoError(t, err)
	assert.Equal(t, base.Score, a.Score)
	h := factor(a, FactorHistory)
	assert.True(t, h.Omitted)
	assert.Contains(t, h.Note, "db locked")
}

func TestScore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScorer().Score(ctx, "c", metadata.CommitMetadata{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLevelFor(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{39.9, LevelLow},
		{40, LevelMedium},
		{69.9, LevelMedium},
		{70, LevelHigh},
		{89.9, LevelHigh},
		{90, LevelCritical},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.score, th), "score %v", tt.score)
	}
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		level     Level
		strategy  Strategy
		approvals int
	}{
		{LevelLow, StrategyDirect, 0},
		{LevelMedium, StrategyCanary, 0},
		{LevelHigh, StrategyBlueGreen, 1},
		{LevelCritical, StrategyManualApproval, 2},
	}
	for _, tt := range tests {
		s, n := StrategyFor(tt.level)
		assert.Equal(t, tt.strategy, s)
		assert.Equal(t, tt.approvals, n)
	}
}

func TestTiers(t *testing.T) {
	tiers, err := CompileTiers(DefaultTierConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, tiers.Of([]string{"README.md", "services/medical-device/pump.go"}))
	assert.Equal(t, 2, tiers.Of([]string{"services/auth-service/login.go"}))
	assert.Equal(t, 3, tiers.Of([]string{".github/workflows/ci.yml"}))
	assert.Equal(t, 0, tiers.Of([]string{"README.md"}))

	custom, err := CompileTiers(TierConfig{Tier2: []string{"billing/**"}})
	require.NoError(t, err)
	s := NewScorer(WithTiers(custom))
	assert.Equal(t, 2, s.Tier([]string{"billing/invoice.go"}))
	assert.Equal(t, 0, s.Tier([]string{"services/medical-device/pump.go"}))
}
