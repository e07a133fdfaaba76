package bisect

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/commitgate/internal/risk"
)

const goodRef = "good"

// commitRange returns c1..cn, oldest first.
func commitRange(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "c" + strconv.Itoa(i+1)
	}
	return out
}

func indexOf(commit string) int {
	if commit == goodRef {
		return goodIndex
	}
	n, err := strconv.Atoi(strings.TrimPrefix(commit, "c"))
	if err != nil {
		panic(commit)
	}
	return n - 1
}

// regression fails every commit at or after culprit.
func regression(culprit int, calls *atomic.Int32) Oracle {
	return OracleFunc(func(_ context.Context, commit string) (Verdict, error) {
		calls.Add(1)
		if indexOf(commit) >= culprit {
			return VerdictBad, nil
		}
		return VerdictGood, nil
	})
}

type levelHints map[string]risk.Level

func (h levelHints) Level(_ context.Context, commit string) risk.Level { return h[commit] }

func TestLocalize_Regression15of20(t *testing.T) {
	var calls atomic.Int32
	s, err := New(regression(14, &calls)).Localize(context.Background(), goodRef, "c20", commitRange(20))
	require.NoError(t, err)

	assert.Equal(t, StateFound, s.State)
	assert.Equal(t, "c15", s.Result.Commit)
	assert.False(t, s.Result.Exhausted)
	assert.LessOrEqual(t, int(calls.Load()), 5)
	assert.Equal(t, int(calls.Load()), s.OracleCalls())

	var probed []int
	for _, st := range s.Steps {
		probed = append(probed, st.Index)
		assert.Equal(t, PhaseSearch, st.Phase)
	}
	assert.Equal(t, []int{9, 14, 11, 12, 13}, probed)
	assert.Equal(t, 20, s.Steps[0].Remaining)
	assert.NotEmpty(t, s.ID)
	assert.Empty(t, s.Queue)
}

func TestLocalize_CorrectUnderAnyHints(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	levels := []risk.Level{"", risk.LevelLow, risk.LevelMedium, risk.LevelHigh, risk.LevelCritical}

	for n := 1; n <= 24; n++ {
		commits := commitRange(n)
		for culprit := 0; culprit < n; culprit++ {
			hints := levelHints{}
			for _, c := range commits {
				hints[c] = levels[rng.Intn(len(levels))]
			}
			var calls atomic.Int32
			s, err := New(regression(culprit, &calls), WithHints(hints)).
				Localize(context.Background(), goodRef, commits[n-1], commits)
			require.NoError(t, err)
			require.Equal(t, StateFound, s.State, "n=%d culprit=%d", n, culprit)
			assert.Equal(t, commits[culprit], s.Result.Commit, "n=%d culprit=%d", n, culprit)
			assert.Equal(t, culprit, s.Result.Index)
			assert.LessOrEqual(t, s.OracleCalls(), n, "n=%d culprit=%d", n, culprit)
		}
	}
}

func TestLocalize_HintsPreferRiskyCommit(t *testing.T) {
	var calls atomic.Int32
	hints := levelHints{"c13": risk.LevelCritical, "c2": risk.LevelCritical}
	s, err := New(regression(14, &calls), WithHints(hints)).
		Localize(context.Background(), goodRef, "c20", commitRange(20))
	require.NoError(t, err)

	// c2 is outside the middle half and must not be chosen first.
	assert.Equal(t, "c13", s.Steps[0].Commit)
	assert.Equal(t, risk.LevelCritical, s.Steps[0].Priority)
	assert.Equal(t, "c15", s.Result.Commit)
}

func TestLocalize_EmptyRange(t *testing.T) {
	var calls atomic.Int32
	s, err := New(regression(0, &calls)).Localize(context.Background(), goodRef, "bad", nil)
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, s.State)
	assert.Equal(t, ReasonEmptyRange, s.Result.Reason)
	assert.Zero(t, calls.Load())
}

func TestLocalize_SingleCommit(t *testing.T) {
	var calls atomic.Int32
	s, err := New(regression(0, &calls)).Localize(context.Background(), goodRef, "c1", commitRange(1))
	require.NoError(t, err)
	assert.Equal(t, "c1", s.Result.Commit)
	assert.Zero(t, s.OracleCalls())
}

func TestLocalize_SkipsErroringCandidate(t *testing.T) {
	oracle := OracleFunc(func(_ context.Context, commit string) (Verdict, error) {
		i := indexOf(commit)
		if i == 9 {
			return VerdictError, &OracleError{Commit: commit, Skip: true, Err: errors.New("build broken")}
		}
		if i >= 14 {
			return VerdictBad, nil
		}
		return VerdictGood, nil
	})
	s, err := New(oracle).Localize(context.Background(), goodRef, "c20", commitRange(20))
	require.NoError(t, err)

	assert.Equal(t, "c15", s.Result.Commit)
	require.NotEmpty(t, s.Steps)
	assert.Equal(t, VerdictError, s.Steps[0].Verdict)
	assert.Contains(t, s.Steps[0].Err, "build broken")
	assert.Equal(t, 8, s.Steps[1].Index)
}

func TestLocalize_UnreliableOracle(t *testing.T) {
	oracle := OracleFunc(func(context.Context, string) (Verdict, error) {
		return "", errors.New("runner offline")
	})
	s, err := New(oracle).Localize(context.Background(), goodRef, "c20", commitRange(20))
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, s.State)
	assert.Equal(t, ReasonUnreliable, s.Result.Reason)
	assert.Equal(t, defaultMaxErrors, s.OracleCalls())

	seen := map[string]bool{}
	for _, st := range s.Steps {
		assert.False(t, seen[st.Commit], "candidate %s retried", st.Commit)
		seen[st.Commit] = true
		assert.Equal(t, VerdictError, st.Verdict)
	}
}

func TestLocalize_AllCandidatesSkipped(t *testing.T) {
	oracle := OracleFunc(func(context.Context, string) (Verdict, error) {
		return VerdictError, errors.New("flaky fixture")
	})
	s, err := New(oracle, WithMaxErrors(10)).Localize(context.Background(), goodRef, "c3", commitRange(3))
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, s.State)
	assert.Equal(t, ReasonAllSkipped, s.Result.Reason)
	assert.Equal(t, 2, s.OracleCalls())
}

func TestLocalize_Confirm(t *testing.T) {
	var calls atomic.Int32
	s, err := New(regression(14, &calls), WithConfirm()).
		Localize(context.Background(), goodRef, "c20", commitRange(20))
	require.NoError(t, err)

	assert.Equal(t, "c15", s.Result.Commit)
	require.Equal(t, 7, s.OracleCalls())
	last := s.Steps[5:]
	assert.Equal(t, PhaseConfirm, last[0].Phase)
	assert.Equal(t, "c15", last[0].Commit)
	assert.Equal(t, "c14", last[1].Commit)
}

func TestLocalize_ConfirmUsesGoodRefAsParent(t *testing.T) {
	var calls atomic.Int32
	s, err := New(regression(0, &calls), WithConfirm()).
		Localize(context.Background(), goodRef, "c4", commitRange(4))
	require.NoError(t, err)
	assert.Equal(t, "c1", s.Result.Commit)
	assert.Equal(t, goodRef, s.Steps[len(s.Steps)-1].Commit)
}

func TestLocalize_FlakyOracle(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	oracle := OracleFunc(func(_ context.Context, commit string) (Verdict, error) {
		mu.Lock()
		seen[commit]++
		n := seen[commit]
		mu.Unlock()
		i := indexOf(commit)
		if i >= 14 || (i == 13 && n > 1) {
			return VerdictBad, nil
		}
		return VerdictGood, nil
	})
	s, err := New(oracle, WithConfirm()).Localize(context.Background(), goodRef, "c20", commitRange(20))
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, s.State)
	assert.Equal(t, ReasonFlakyOracle, s.Result.Reason)
	assert.Empty(t, s.Result.Commit)
}

func TestLocalize_ConfirmError(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	oracle := OracleFunc(func(_ context.Context, commit string) (Verdict, error) {
		mu.Lock()
		seen[commit]++
		n := seen[commit]
		mu.Unlock()
		if commit == "c15" && n > 1 {
			return VerdictError, errors.New("timeout")
		}
		if indexOf(commit) >= 14 {
			return VerdictBad, nil
		}
		return VerdictGood, nil
	})
	s, err := New(oracle, WithConfirm()).Localize(context.Background(), goodRef, "c20", commitRange(20))
	require.NoError(t, err)
	assert.Equal(t, ReasonUnreliable, s.Result.Reason)
}

func TestLocalize_VerifyEndpoints(t *testing.T) {
	var calls atomic.Int32
	s, err := New(regression(14, &calls), WithVerifyEndpoints()).
		Localize(context.Background(), goodRef, "c20", commitRange(20))
	require.NoError(t, err)

	assert.Equal(t, "c15", s.Result.Commit)
	// The first midpoint is probed during verification and not repeated.
	assert.Equal(t, 7, s.OracleCalls())
	require.GreaterOrEqual(t, len(s.Steps), 3)
	for i, want := range []string{goodRef, "c20", "c10"} {
		assert.Equal(t, PhaseVerify, s.Steps[i].Phase)
		assert.Equal(t, want, s.Steps[i].Commit)
	}
	for _, st := range s.Steps[3:] {
		assert.NotEqual(t, "c10", st.Commit)
	}
}

func TestLocalize_VerifyRunsInParallel(t *testing.T) {
	var arrived atomic.Int32
	release := make(chan struct{})
	oracle := OracleFunc(func(ctx context.Context, commit string) (Verdict, error) {
		if arrived.Add(1) == 3 {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
			return VerdictError, errors.New("probes ran sequentially")
		}
		if indexOf(commit) >= 1 {
			return VerdictBad, nil
		}
		return VerdictGood, nil
	})
	s, err := New(oracle, WithVerifyEndpoints()).Localize(context.Background(), goodRef, "c4", commitRange(4))
	require.NoError(t, err)
	assert.Equal(t, StateFound, s.State, "reason: %s", s.Result.Reason)
	assert.Equal(t, "c2", s.Result.Commit)
}

func TestLocalize_NonBisectable(t *testing.T) {
	tests := []struct {
		name   string
		oracle Oracle
	}{
		{"good ref fails", OracleFunc(func(context.Context, string) (Verdict, error) { return VerdictBad, nil })},
		{"bad ref passes", OracleFunc(func(context.Context, string) (Verdict, error) { return VerdictGood, nil })},
		{"endpoint errors", OracleFunc(func(_ context.Context, c string) (Verdict, error) {
			if c == goodRef {
				return VerdictError, errors.New("no such ref")
			}
			return VerdictBad, nil
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.oracle, WithVerifyEndpoints()).Localize(context.Background(), goodRef, "c8", commitRange(8))
			require.NoError(t, err)
			assert.Equal(t, StateExhausted, s.State)
			assert.Equal(t, ReasonNonBisectable, s.Result.Reason)
			assert.Equal(t, 3, s.OracleCalls())
		})
	}
}

func TestLocalize_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	oracle := OracleFunc(func(_ context.Context, commit string) (Verdict, error) {
		if calls.Add(1) == 2 {
			cancel()
		}
		return VerdictGood, nil
	})
	s, err := New(oracle).Localize(ctx, goodRef, "c20", commitRange(20))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateExhausted, s.State)
	assert.Equal(t, ReasonCanceled, s.Result.Reason)
	assert.Equal(t, 2, s.OracleCalls())
	assert.NotEmpty(t, s.Queue)
}

func TestLocalize_WrapsPlainErrors(t *testing.T) {
	oracle := OracleFunc(func(_ context.Context, commit string) (Verdict, error) {
		return VerdictError, fmt.Errorf("exit status %d", 3)
	})
	s, err := New(oracle, WithMaxErrors(1)).Localize(context.Background(), goodRef, "c5", commitRange(5))
	require.NoError(t, err)
	require.Len(t, s.Steps, 1)
	assert.Contains(t, s.Steps[0].Err, "oracle failed")
	assert.Equal(t, ReasonUnreliable, s.Result.Reason)
}
