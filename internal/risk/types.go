package risk

// Level is a coarse risk classification.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank orders levels, higher is riskier. Unknown levels rank 0.
func (l Level) Rank() int {
	switch l {
	case LevelCritical:
		return 4
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	default:
		return 0
	}
}

// Strategy is a rollout mechanism.
type Strategy string

const (
	StrategyDirect         Strategy = "direct"
	StrategyCanary         Strategy = "canary"
	StrategyBlueGreen      Strategy = "blue_green"
	StrategyManualApproval Strategy = "manual_approval"
)

// Factor is one term of the score.
type Factor struct {
	Name   string  `json:"name"`
	Value  string  `json:"value"`
	Points float64 `json:"points"`
	// Omitted marks a factor with no data; it did not move the score.
	Omitted bool   `json:"omitted,omitempty"`
	Note    string `json:"note,omitempty"`
}

// Assessment is the scored result for one commit.
type Assessment struct {
	CommitID          string   `json:"commitId"`
	Score             float64  `json:"score"`
	Level             Level    `json:"level"`
	Factors           []Factor `json:"factors"`
	Strategy          Strategy `json:"strategy"`
	RequiredApprovals int      `json:"requiredApprovals"`
	Recommendations   []string `json:"recommendations"`
}

// Thresholds are the lower bounds of the medium, high and critical levels.
type Thresholds struct {
	Medium   float64 `json:"medium" yaml:"medium" mapstructure:"medium"`
	High     float64 `json:"high" yaml:"high" mapstructure:"high"`
	Critical float64 `json:"critical" yaml:"critical" mapstructure:"critical"`
}

// DefaultThresholds returns 40/70/90.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 40, High: 70, Critical: 90}
}

// LevelFor classifies score.
func LevelFor(score float64, th Thresholds) Level {
	switch {
	case score >= th.Critical:
		return LevelCritical
	case score >= th.High:
		return LevelHigh
	case score >= th.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// StrategyFor maps a level to its rollout strategy and the number of
// approvals it needs.
func StrategyFor(l Level) (Strategy, int) {
	switch l {
	case LevelCritical:
		return StrategyManualApproval, 2
	case LevelHigh:
		return StrategyBlueGreen, 1
	case LevelMedium:
		return StrategyCanary, 0
	default:
		return StrategyDirect, 0
	}
}

// Recommendations returns the rollout steps for a level.
func Recommendations(l Level) []string {
	switch l {
	case LevelCritical:
		return []string{
			"Security team review required",
			"Compliance officer approval required",
			"Deploy to staging and run the full regression suite",
			"Deploy to a 5% canary and monitor for 48 hours",
			"Manual approval for full rollout",
		}
	case LevelHigh:
		return []string{
			"One approval from a code owner required",
			"Deploy to the idle environment and run smoke tests",
			"Switch traffic and keep the previous environment warm for rollback",
			"Monitor for 24 hours",
		}
	case LevelMedium:
		return []string{
			"Deploy to 10% of traffic and monitor for 4 hours",
			"Expand to 50% if healthy and monitor for 12 hours",
			"Roll back automatically if the error rate exceeds 0.1%",
		}
	default:
		return []string{
			"Deploy to production",
			"Monitor for 1 hour",
			"Roll back automatically if the error rate exceeds 1%",
		}
	}
}
