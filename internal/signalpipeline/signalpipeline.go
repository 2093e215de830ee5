// Package signalpipeline coordinates the external Ranker, backfills past
// untradable candidates, assigns weights, and applies the equity-curve and
// risk-budget scalers.
package signalpipeline

import (
	"sort"

	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/equitycurve"
	"ashare-backtest/internal/priceindex"
	"ashare-backtest/internal/ranker"
	"ashare-backtest/internal/riskbudget"
	"ashare-backtest/internal/tradability"

	"go.uber.org/zap"
)

// WeightMethod selects how accepted candidates are weighted.
type WeightMethod int

const (
	WeightEqual WeightMethod = iota
	WeightScore
)

// Config holds the pipeline's tunables.
type Config struct {
	TopN         int
	WeightMethod WeightMethod
}

// TargetWeight is one entry of the pipeline's output, keyed for
// consumption on D+1.
type TargetWeight struct {
	TickerID bars.TickerID
	Ticker   string
	Weight   float64
}

// Pipeline wires the Ranker through tradability filtering, weighting, and
// the two downstream scalers.
type Pipeline struct {
	cfg Config
	r   ranker.Ranker
	tm  *tradability.Map
	ecc *equitycurve.Controller
	rb  *riskbudget.Scaler
	log *zap.Logger
}

// New constructs a Pipeline.
func New(cfg Config, r ranker.Ranker, tm *tradability.Map, ecc *equitycurve.Controller, rb *riskbudget.Scaler, log *zap.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, r: r, tm: tm, ecc: ecc, rb: rb, log: log}
}

// Held reports whether a ticker is already held with a remaining holding
// period, used to exclude it from backfill consideration.
type Held func(bars.TickerID) bool

// Run executes the T-day pipeline for date d, checking tradability at
// fillDate (D+1), and returns the weighted, scaled target set. navHistory
// is the NAV series strictly before d, used by the equity-curve controller.
func (p *Pipeline) Run(d, fillDate bars.Date, universe []bars.TickerID, features map[bars.TickerID]map[string]float64, held Held, tickerNames func(bars.TickerID) string, idx *priceindex.PriceIndex, cal *bars.Calendar, navHistory []float64) ([]TargetWeight, error) {
	candidates, err := p.r.GenerateRanked(d, universe, features)
	if err != nil {
		return nil, err
	}

	accepted := make([]ranker.RankedCandidate, 0, p.cfg.TopN)
	for _, c := range candidates {
		if len(accepted) >= p.cfg.TopN {
			break
		}
		switch {
		case !idx.HasBar(fillDate, c.TickerID):
			p.log.Info("backfill: skipping candidate, missing bar on fill date", zap.String("ticker", c.Ticker))
		case held(c.TickerID):
			p.log.Info("backfill: skipping candidate, already held", zap.String("ticker", c.Ticker))
		case !p.tm.CanBuy(fillDate, c.TickerID):
			p.log.Info("backfill: skipping candidate, untradable on fill date", zap.String("ticker", c.Ticker))
		default:
			accepted = append(accepted, c)
		}
	}
	if len(accepted) < p.cfg.TopN {
		p.log.Warn("fewer than top_n candidates accepted after backfill",
			zap.Int("accepted", len(accepted)), zap.Int("top_n", p.cfg.TopN))
	}

	weights := make(map[bars.TickerID]float64, len(accepted))
	switch p.cfg.WeightMethod {
	case WeightScore:
		sum := 0.0
		clipped := make(map[bars.TickerID]float64, len(accepted))
		for _, c := range accepted {
			s := c.Score
			if s < 0 {
				s = 0
			}
			clipped[c.TickerID] = s
			sum += s
		}
		for tid, s := range clipped {
			if sum > 0 {
				weights[tid] = s / sum
			} else {
				weights[tid] = 1.0 / float64(len(accepted))
			}
		}
	default: // WeightEqual
		if len(accepted) > 0 {
			w := 1.0 / float64(len(accepted))
			for _, c := range accepted {
				weights[c.TickerID] = w
			}
		}
	}

	exposure, reason := p.ecc.Scale(navHistory)
	if exposure != 1.0 {
		p.log.Info("equity curve exposure applied", zap.Float64("exposure", exposure), zap.String("reason", reason))
	}
	for tid := range weights {
		weights[tid] *= exposure
	}

	weights = p.rb.Scale(weights, tickerNames, idx, cal, d)

	out := make([]TargetWeight, 0, len(weights))
	for tid, w := range weights {
		out = append(out, TargetWeight{TickerID: tid, Ticker: tickerNames(tid), Weight: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weight > out[j].Weight || (out[i].Weight == out[j].Weight && out[i].Ticker < out[j].Ticker) })
	return out, nil
}
