// Package ranker defines the external Ranker contract the signal pipeline
// coordinates over, plus one deterministic reference implementation used
// by tests and the offline backtest driver. The real ML predictor stays an
// external collaborator.
package ranker

import (
	"sort"

	"ashare-backtest/internal/bars"
)

// RankedCandidate is one entry in a Ranker's ordered output.
type RankedCandidate struct {
	Ticker   string
	TickerID bars.TickerID
	Score    float64
}

// Ranker returns, for a given date and universe, an ordered (best-first)
// candidate list — not just the top N, since the pipeline backfills past
// untradable candidates.
type Ranker interface {
	GenerateRanked(d bars.Date, universe []bars.TickerID, features map[bars.TickerID]map[string]float64) ([]RankedCandidate, error)
}

// ScoreRanker ranks candidates by a single caller-supplied feature column,
// descending. It is a deterministic reference implementation, not a
// trading strategy: production callers supply their own Ranker backed by a
// pre-fit model.
type ScoreRanker struct {
	FeatureColumn string
	TickerNames   func(bars.TickerID) string
}

// GenerateRanked implements Ranker.
func (r *ScoreRanker) GenerateRanked(d bars.Date, universe []bars.TickerID, features map[bars.TickerID]map[string]float64) ([]RankedCandidate, error) {
	out := make([]RankedCandidate, 0, len(universe))
	for _, tid := range universe {
		score := 0.0
		if row, ok := features[tid]; ok {
			score = row[r.FeatureColumn]
		}
		name := ""
		if r.TickerNames != nil {
			name = r.TickerNames(tid)
		}
		out = append(out, RankedCandidate{Ticker: name, TickerID: tid, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out, nil
}
