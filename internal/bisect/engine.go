package bisect

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/commitgate/internal/risk"
)

// defaultMaxErrors is how many consecutive oracle errors end a search.
const defaultMaxErrors = 3

// RiskHint ranks commits so that riskier ones are tested first when the
// search has a choice. It only affects the order of probes, never the
// result.
type RiskHint interface {
	Level(ctx context.Context, commit string) risk.Level
}

// Engine localizes regressions by binary search over a commit range.
type Engine struct {
	oracle    Oracle
	hints     RiskHint
	verify    bool
	confirm   bool
	maxErrors int
	log       zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHints sets the risk hint used to order probes.
func WithHints(h RiskHint) Option { return func(e *Engine) { e.hints = h } }

// WithVerifyEndpoints tests the good ref, the bad ref and the first
// midpoint in parallel before searching.
func WithVerifyEndpoints() Option { return func(e *Engine) { e.verify = true } }

// WithConfirm re-tests the found commit and its parent in parallel.
func WithConfirm() Option { return func(e *Engine) { e.confirm = true } }

// WithMaxErrors sets how many consecutive oracle errors end the search.
func WithMaxErrors(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxErrors = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// New returns an Engine driven by oracle.
func New(oracle Oracle, opts ...Option) *Engine {
	e := &Engine{oracle: oracle, maxErrors: defaultMaxErrors, log: zerolog.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// probe is the outcome of one oracle call.
type probe struct {
	verdict Verdict
	err     error
	at      time.Time
	dur     time.Duration
}

func (p probe) ok() bool { return p.err == nil && (p.verdict == VerdictGood || p.verdict == VerdictBad) }

// run holds the mutable state of one Localize call.
type run struct {
	e       *Engine
	s       *Session
	commits []string
	// lo is known good (goodIndex for the good ref); hi is known bad.
	lo, hi      int
	skipped     map[int]bool
	levels      map[int]risk.Level
	cached      map[int]probe
	consecutive int
}

// Localize searches commits, ordered oldest first and ending with the bad
// commit, for the first one the oracle reports bad. goodRef is the known
// good parent of commits[0]. The returned session is terminal; the error
// is non-nil only when ctx ends the search.
func (e *Engine) Localize(ctx context.Context, goodRef, badRef string, commits []string) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:         newSessionID(now),
		GoodRef:    goodRef,
		BadRef:     badRef,
		Candidates: append([]string(nil), commits...),
		State:      StateRunning,
		Started:    now,
	}
	r := &run{
		e:       e,
		s:       s,
		commits: s.Candidates,
		lo:      goodIndex,
		hi:      len(commits) - 1,
		skipped: make(map[int]bool),
		levels:  make(map[int]risk.Level),
		cached:  make(map[int]probe),
	}
	log := e.log.With().Str("session", s.ID).Logger()
	log.Info().Str("good", goodRef).Str("bad", badRef).Int("commits", len(commits)).Msg("bisect started")

	err := r.localize(ctx)
	s.Queue = r.queue()
	s.Finished = time.Now()

	ev := log.Info().Str("state", string(s.State)).Int("oracle_calls", s.OracleCalls())
	if s.Result.Exhausted {
		ev = ev.Str("reason", s.Result.Reason)
	} else {
		ev = ev.Str("commit", s.Result.Commit)
	}
	ev.Msg("bisect finished")
	return s, err
}

func (r *run) localize(ctx context.Context) error {
	if len(r.commits) == 0 {
		r.s.exhaust(ReasonEmptyRange)
		return nil
	}
	if r.e.verify {
		if done := r.verifyEndpoints(ctx); done {
			return r.ctxErr(ctx)
		}
	}

	for r.hi-r.lo > 1 {
		if err := ctx.Err(); err != nil {
			r.s.exhaust(ReasonCanceled)
			return err
		}
		idx, ok := r.pick(ctx)
		if !ok {
			r.s.exhaust(ReasonAllSkipped)
			return nil
		}
		p, hit := r.cached[idx]
		if hit {
			delete(r.cached, idx)
		} else {
			p = r.test(ctx, idx)
			r.record(PhaseSearch, idx, p)
		}
		if err := ctx.Err(); err != nil {
			r.s.exhaust(ReasonCanceled)
			return err
		}
		if !r.apply(idx, p) {
			r.s.exhaust(ReasonUnreliable)
			return nil
		}
	}

	if r.e.confirm {
		if done := r.confirm(ctx); done {
			return r.ctxErr(ctx)
		}
	}
	r.s.found(r.commits, r.hi)
	return nil
}

func (r *run) ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		r.s.exhaust(ReasonCanceled)
		return err
	}
	return nil
}

// apply narrows the range with p. It returns false when the oracle has
// failed too many times in a row.
func (r *run) apply(idx int, p probe) bool {
	if !p.ok() {
		r.skipped[idx] = true
		r.consecutive++
		return r.consecutive < r.e.maxErrors
	}
	r.consecutive = 0
	if p.verdict == VerdictGood {
		r.lo = idx
	} else {
		r.hi = idx
	}
	return true
}

// pick chooses the next probe among untested candidates in (lo, hi). It
// prefers the middle half of the range so every probe removes at least a
// quarter of it; within that window the riskier commit wins, then the one
// closest to the midpoint, then the older one.
func (r *run) pick(ctx context.Context) (int, bool) {
	var cands []int
	for i := r.lo + 1; i < r.hi; i++ {
		if !r.skipped[i] {
			cands = append(cands, i)
		}
	}
	if len(cands) == 0 {
		return 0, false
	}
	span := r.hi - r.lo
	mid := r.lo + span/2
	q := span / 4

	var window []int
	for _, i := range cands {
		if i >= mid-q && i <= mid+q {
			window = append(window, i)
		}
	}
	if len(window) == 0 {
		window = cands
	}

	best, bestRank := window[0], r.rank(ctx, window[0])
	for _, i := range window[1:] {
		rk := r.rank(ctx, i)
		if rk > bestRank || (rk == bestRank && dist(i, mid) < dist(best, mid)) {
			best, bestRank = i, rk
		}
	}
	return best, true
}

func (r *run) rank(ctx context.Context, idx int) int {
	if r.e.hints == nil {
		return 0
	}
	l, ok := r.levels[idx]
	if !ok {
		l = r.e.hints.Level(ctx, r.commits[idx])
		r.levels[idx] = l
	}
	return l.Rank()
}

func dist(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func (r *run) commitAt(idx int) string {
	if idx == goodIndex {
		return r.s.GoodRef
	}
	return r.commits[idx]
}

func (r *run) test(ctx context.Context, idx int) probe {
	commit := r.commitAt(idx)
	start := time.Now()
	v, err := r.e.oracle.Test(ctx, commit)
	if err != nil {
		if _, ok := err.(*OracleError); !ok {
			err = &OracleError{Commit: commit, Err: err}
		}
		v = VerdictError
	}
	return probe{verdict: v, err: err, at: start, dur: time.Since(start)}
}

func (r *run) record(phase string, idx int, p probe) {
	st := Step{
		Seq:       len(r.s.Steps) + 1,
		Phase:     phase,
		Commit:    r.commitAt(idx),
		Index:     idx,
		Priority:  r.levels[idx],
		Verdict:   p.verdict,
		Remaining: r.hi - r.lo,
		At:        p.at,
		Duration:  p.dur,
	}
	if p.err != nil {
		st.Err = p.err.Error()
	}
	r.s.Steps = append(r.s.Steps, st)
	r.e.log.Debug().
		Str("session", r.s.ID).
		Str("phase", phase).
		Str("commit", st.Commit).
		Str("verdict", string(st.Verdict)).
		Int("remaining", st.Remaining).
		Str("error", st.Err).
		Msg("bisect step")
}

// parallel runs the oracle on every index concurrently. The probes are
// independent, so one failing does not cancel the others.
func (r *run) parallel(ctx context.Context, idxs []int) []probe {
	out := make([]probe, len(idxs))
	g, gctx := errgroup.WithContext(ctx)
	for i, idx := range idxs {
		g.Go(func() error {
			out[i] = r.test(gctx, idx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// verifyEndpoints checks that the good ref passes and the bad commit
// fails, probing the first midpoint at the same time. It reports true
// when the session ended.
func (r *run) verifyEndpoints(ctx context.Context) bool {
	idxs := []int{goodIndex, r.hi}
	mid, hasMid := r.pick(ctx)
	if hasMid {
		idxs = append(idxs, mid)
	}
	probes := r.parallel(ctx, idxs)
	for i, idx := range idxs {
		r.record(PhaseVerify, idx, probes[i])
	}
	if ctx.Err() != nil {
		return true
	}
	good, bad := probes[0], probes[1]
	if good.err != nil || bad.err != nil || good.verdict != VerdictGood || bad.verdict != VerdictBad {
		r.s.exhaust(ReasonNonBisectable)
		return true
	}
	if hasMid {
		r.cached[mid] = probes[2]
	}
	return false
}

// confirm re-tests the located commit and its parent. It reports true
// when the session ended.
func (r *run) confirm(ctx context.Context) bool {
	idxs := []int{r.hi, r.hi - 1}
	probes := r.parallel(ctx, idxs)
	for i, idx := range idxs {
		r.record(PhaseConfirm, idx, probes[i])
	}
	if ctx.Err() != nil {
		return true
	}
	culprit, parent := probes[0], probes[1]
	switch {
	case !culprit.ok() || !parent.ok():
		r.s.exhaust(ReasonUnreliable)
		return true
	case culprit.verdict != VerdictBad || parent.verdict != VerdictGood:
		r.s.exhaust(ReasonFlakyOracle)
		return true
	}
	return false
}

func (r *run) queue() []string {
	var q []string
	for i := r.lo + 1; i < r.hi; i++ {
		if !r.skipped[i] {
			q = append(q, r.commits[i])
		}
	}
	return q
}
