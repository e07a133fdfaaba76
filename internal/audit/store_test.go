package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/commitgate/internal/bisect"
	"github.com/dshills/commitgate/internal/metadata"
	"github.com/dshills/commitgate/internal/risk"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Compile-time check that the store plugs into the scorer.
var _ risk.HistoryProvider = (*Store)(nil)

func TestOpen_CreatesDirectoryAndMigratesOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audit.db")

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestSaveAssessment_AppendsPerRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &Record{
		CommitID:    "staged",
		RunID:       "run-1",
		Assessment:  risk.Assessment{CommitID: "staged", Score: 42.5, Level: risk.LevelMedium, Strategy: risk.StrategyCanary},
		ScanVerdict: "accept",
		CodesOK:     true,
		Paths:       []string{"services/phi-service/a.go"},
	}
	require.NoError(t, s.SaveAssessment(ctx, first))
	require.NotEmpty(t, first.ID)

	second := &Record{
		CommitID:   "staged",
		RunID:      "run-2",
		Assessment: risk.Assessment{CommitID: "staged", Score: 91, Level: risk.LevelCritical, Strategy: risk.StrategyManualApproval, RequiredApprovals: 2},
	}
	require.NoError(t, s.SaveAssessment(ctx, second))
	assert.NotEqual(t, first.ID, second.ID, "each run gets its own row")

	got, err := s.GetAssessment(ctx, "staged")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID, "latest record wins")
	assert.Equal(t, 91.0, got.Assessment.Score)
	assert.Equal(t, risk.LevelCritical, got.Assessment.Level)
	assert.Equal(t, 2, got.Assessment.RequiredApprovals)
	assert.False(t, got.CodesOK)
	assert.Empty(t, got.Paths)

	history, err := s.AssessmentHistory(ctx, "staged")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "run-1", history[0].RunID)
	assert.Equal(t, 42.5, history[0].Assessment.Score, "earlier record is left as saved")
	assert.True(t, history[0].CodesOK)
	assert.Equal(t, []string{"services/phi-service/a.go"}, history[0].Paths)

	list, err := s.ListAssessments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
}

func TestGetAssessment_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAssessment(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveAssessment_RequiresCommit(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveAssessment(context.Background(), &Record{}))
}

func TestFailureRate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.FailureRate(ctx, []string{"a.go"})
	require.NoError(t, err)
	assert.False(t, ok, "no outcomes recorded")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	outcomes := []Outcome{
		{CommitID: "c1", Failed: true, Paths: []string{"a.go", "b.go"}},
		{CommitID: "c2", Failed: false, Paths: []string{"a.go"}},
		{CommitID: "c3", Failed: false, Paths: []string{"a.go"}},
		{CommitID: "c4", Failed: true, Paths: []string{"c.go"}},
	}
	for i := range outcomes {
		outcomes[i].RecordedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.RecordOutcome(ctx, &outcomes[i]))
	}

	rate, ok, err := s.FailureRate(ctx, []string{"a.go"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 1.0/3.0, rate, 1e-9)

	rate, ok, err = s.FailureRate(ctx, []string{"b.go", "c.go"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, rate, 1e-9)

	_, ok, err = s.FailureRate(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailureRate_Window(t *testing.T) {
	s := newTestStore(t, WithHistoryWindow(2))
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, failed := range []bool{true, true, false, false} {
		o := &Outcome{CommitID: "c", Failed: failed, Paths: []string{"x.go"}, RecordedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, s.RecordOutcome(ctx, o))
	}
	rate, ok, err := s.FailureRate(ctx, []string{"x.go"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, rate, "only the two most recent outcomes count")
}

func TestScorerUsesStoreHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordOutcome(ctx, &Outcome{CommitID: "c1", Failed: true, Paths: []string{"README.md"}}))

	scorer := risk.NewScorer(risk.WithHistory(s))
	md := metadata.Parse("docs: update readme")
	md.ChangedPaths = []string{"README.md"}
	a, err := scorer.Score(ctx, "c2", md)
	require.NoError(t, err)
	// Base 0.1 for one file, blended with a 100% failure rate.
	assert.InDelta(t, 15.1, a.Score, 0.05)
}

func sampleSession() *bisect.Session {
	start := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	return &bisect.Session{
		ID:         "01JTESTSESSION000000000000",
		GoodRef:    "v1.0",
		BadRef:     "HEAD",
		Candidates: []string{"c1", "c2", "c3"},
		State:      bisect.StateFound,
		Result:     bisect.Result{Commit: "c2", Index: 1},
		Steps: []bisect.Step{
			{Seq: 1, Phase: bisect.PhaseSearch, Commit: "c2", Index: 1, Verdict: bisect.VerdictBad, Remaining: 3, At: start, Duration: 1500 * time.Millisecond},
			{Seq: 2, Phase: bisect.PhaseSearch, Commit: "c1", Index: 0, Priority: risk.LevelHigh, Verdict: bisect.VerdictError, Remaining: 2, Err: "exit 125", At: start.Add(2 * time.Second)},
		},
		Started:  start,
		Finished: start.Add(5 * time.Second),
	}
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := sampleSession()
	inc := bisect.Incident{Service: "phi-service", PHI: true}

	require.NoError(t, s.SaveSession(ctx, sess, inc))

	got, gotInc, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Result, got.Result)
	assert.Len(t, got.Steps, 2)
	assert.Equal(t, "exit 125", got.Steps[1].Err)
	assert.Equal(t, inc, gotInc)

	list, err := s.ListSessions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c2", list[0].Commit)
	assert.Equal(t, 2, list[0].OracleCalls)
	assert.Equal(t, bisect.StateFound, list[0].State)

	_, _, err = s.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExportSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.parquet")
	n, err := ExportSteps(path, sampleSession())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := ReadSteps(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c2", rows[0].Commit)
	assert.Nil(t, rows[0].Priority)
	assert.Equal(t, 1500.0, rows[0].DurationMs)
	require.NotNil(t, rows[1].Error)
	assert.Equal(t, "exit 125", *rows[1].Error)
	require.NotNil(t, rows[1].Priority)
	assert.Equal(t, "high", *rows[1].Priority)
}
