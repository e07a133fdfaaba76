package bisect

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dshills/commitgate/internal/risk"
)

// State is the lifecycle state of a session.
type State string

const (
	StateRunning   State = "running"
	StateFound     State = "found"
	StateExhausted State = "exhausted"
)

// Exhaustion reasons.
const (
	ReasonEmptyRange    = "empty range"
	ReasonNonBisectable = "non-bisectable"
	ReasonFlakyOracle   = "flaky oracle"
	ReasonUnreliable    = "unreliable oracle"
	ReasonAllSkipped    = "oracle errored on every remaining candidate"
	ReasonCanceled      = "canceled"
)

// Step phases.
const (
	PhaseVerify  = "verify"
	PhaseSearch  = "search"
	PhaseConfirm = "confirm"
)

// goodIndex is the position of the known-good ref, just before the
// first candidate.
const goodIndex = -1

// Step records one oracle call.
type Step struct {
	Seq       int           `json:"seq"`
	Phase     string        `json:"phase"`
	Commit    string        `json:"commit"`
	Index     int           `json:"index"`
	Priority  risk.Level    `json:"priority,omitempty"`
	Verdict   Verdict       `json:"verdict"`
	Remaining int           `json:"remaining"`
	Err       string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
	Duration  time.Duration `json:"duration"`
}

// Result is the terminal outcome of a session.
type Result struct {
	Commit    string `json:"commit,omitempty"`
	Index     int    `json:"index"`
	Exhausted bool   `json:"exhausted"`
	Reason    string `json:"reason,omitempty"`
}

// Session is the full trace of one localization. It is owned by the
// Localize call that created it and not shared while running.
type Session struct {
	ID         string    `json:"id"`
	GoodRef    string    `json:"goodRef"`
	BadRef     string    `json:"badRef"`
	Candidates []string  `json:"candidates"`
	Queue      []string  `json:"queue"`
	Steps      []Step    `json:"steps"`
	State      State     `json:"state"`
	Result     Result    `json:"result"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
}

// OracleCalls returns the number of oracle invocations made.
func (s *Session) OracleCalls() int { return len(s.Steps) }

func newSessionID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func (s *Session) found(commits []string, idx int) {
	s.State = StateFound
	s.Result = Result{Commit: commits[idx], Index: idx}
}

func (s *Session) exhaust(reason string) {
	s.State = StateExhausted
	s.Result = Result{Index: goodIndex, Exhausted: true, Reason: reason}
}
