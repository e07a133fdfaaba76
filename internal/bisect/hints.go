package bisect

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/commitgate/internal/metadata"
	"github.com/dshills/commitgate/internal/risk"
)

// CommitSource reads the parts of a commit the hints need.
type CommitSource interface {
	CommitMessage(ctx context.Context, commit string) (string, error)
	ChangedPaths(ctx context.Context, commit string) ([]string, error)
}

// Incident describes the regression being chased. It moves commits that
// match its shape up the probe order.
type Incident struct {
	Service  string `json:"service,omitempty"`
	PHI      bool   `json:"phi,omitempty"`
	Clinical bool   `json:"clinical,omitempty"`
	Security bool   `json:"security,omitempty"`
}

// Relevance returns how well a commit matches the incident, 0 to 100.
func (inc Incident) Relevance(md metadata.CommitMetadata, msg string) int {
	score := 0
	if inc.PHI {
		switch md.Risk.PHIImpact {
		case "direct":
			score += 30
		case "indirect":
			score += 20
		}
	}
	if inc.Clinical {
		switch md.Risk.ClinicalSafety {
		case "critical":
			score += 30
		case "high":
			score += 20
		case "medium":
			score += 10
		}
	}
	if inc.Service != "" {
		if strings.EqualFold(md.Service, inc.Service) {
			score += 25
		}
		prefix := "services/" + inc.Service + "/"
		for _, p := range md.ChangedPaths {
			if strings.HasPrefix(p, prefix) {
				score += 15
				break
			}
		}
	}
	if inc.Security {
		for _, p := range md.ChangedPaths {
			if strings.Contains(p, "auth") {
				score += 20
				break
			}
		}
		if strings.Contains(strings.ToLower(msg), "security") {
			score += 10
		}
	}
	return min(score, 100)
}

// ScoredHints ranks commits by their risk assessment, raised by their
// relevance to an incident. Lookups that fail rank the commit lowest.
type ScoredHints struct {
	src      CommitSource
	scorer   *risk.Scorer
	incident Incident
	log      zerolog.Logger
}

// NewScoredHints returns hints reading commits from src.
func NewScoredHints(src CommitSource, scorer *risk.Scorer, inc Incident, log zerolog.Logger) *ScoredHints {
	return &ScoredHints{src: src, scorer: scorer, incident: inc, log: log}
}

var levelsByRank = []risk.Level{"", risk.LevelLow, risk.LevelMedium, risk.LevelHigh, risk.LevelCritical}

// Level implements RiskHint.
func (h *ScoredHints) Level(ctx context.Context, commit string) risk.Level {
	msg, err := h.src.CommitMessage(ctx, commit)
	if err != nil {
		h.log.Debug().Err(err).Str("commit", commit).Msg("hint: reading message")
		return ""
	}
	paths, err := h.src.ChangedPaths(ctx, commit)
	if err != nil {
		h.log.Debug().Err(err).Str("commit", commit).Msg("hint: reading paths")
		return ""
	}
	md := metadata.Parse(msg)
	md.ChangedPaths = paths
	a, err := h.scorer.Score(ctx, commit, md)
	if err != nil {
		return ""
	}
	return raise(a.Level, h.incident.Relevance(md, msg))
}

// raise lifts l one level for a relevance of 25 and two for 50.
func raise(l risk.Level, relevance int) risk.Level {
	r := l.Rank() + relevance/25
	if r > 2+l.Rank() {
		r = 2 + l.Rank()
	}
	if r >= len(levelsByRank) {
		r = len(levelsByRank) - 1
	}
	return levelsByRank[r]
}
