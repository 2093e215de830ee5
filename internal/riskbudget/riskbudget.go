// Package riskbudget implements the volatility-inverse reweighting of
// target weights, reading only pnl_price history strictly before the
// signal date so the scaler never looks ahead.
package riskbudget

import (
	"math"

	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/priceindex"

	"go.uber.org/zap"
)

// Config controls whether and how scaling is applied.
type Config struct {
	Enabled              bool
	VolWindow            int
	VolEpsilon           float64
	TradingDaysPerYear   int
}

// DefaultConfig uses a 20-day window, 252 trading days/year, and a small
// epsilon floor.
func DefaultConfig() Config {
	return Config{VolWindow: 20, VolEpsilon: 1e-4, TradingDaysPerYear: 252}
}

// Scaler computes volatility-inverse weights.
type Scaler struct {
	cfg Config
	log *zap.Logger
}

// New constructs a Scaler.
func New(cfg Config, log *zap.Logger) *Scaler {
	return &Scaler{cfg: cfg, log: log}
}

// Scale rescales weights in place by inverse trailing volatility of
// pnl_price, computed strictly on dates before d in cal, then renormalizes
// so the sum is preserved. If disabled, weights are returned unchanged.
func (s *Scaler) Scale(weights map[bars.TickerID]float64, tickerNames func(bars.TickerID) string, idx *priceindex.PriceIndex, cal *bars.Calendar, d bars.Date) map[bars.TickerID]float64 {
	if !s.cfg.Enabled || len(weights) == 0 {
		return weights
	}

	idxPos, ok := cal.IndexOf(d)
	if !ok {
		return weights
	}
	start := idxPos - s.cfg.VolWindow
	if start < 0 {
		start = 0
	}
	window := cal.Dates()[start:idxPos]

	origSum := 0.0
	for _, w := range weights {
		origSum += w
	}

	inv := make(map[bars.TickerID]float64, len(weights))
	invSum := 0.0
	for tid, w := range weights {
		sigma := s.trailingVol(idx, tid, window)
		if sigma < s.cfg.VolEpsilon {
			sigma = s.cfg.VolEpsilon
			if s.log != nil {
				name := ""
				if tickerNames != nil {
					name = tickerNames(tid)
				}
				s.log.Warn("insufficient history for volatility estimate, using epsilon floor",
					zap.String("ticker", name), zap.String("date", d))
			}
		}
		v := w / sigma
		inv[tid] = v
		invSum += v
	}

	out := make(map[bars.TickerID]float64, len(weights))
	if invSum == 0 {
		return weights
	}
	for tid, v := range inv {
		out[tid] = v / invSum * origSum
	}
	return out
}

func (s *Scaler) trailingVol(idx *priceindex.PriceIndex, tid bars.TickerID, window []bars.Date) float64 {
	var prices []float64
	for _, d := range window {
		if !idx.HasBar(d, tid) {
			continue
		}
		p, ok := idx.PnlPrice(d, tid)
		if !ok {
			continue
		}
		f, _ := p.Float64()
		prices = append(prices, f)
	}
	if len(prices) < 2 {
		return 0
	}
	logReturns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		logReturns = append(logReturns, math.Log(prices[i]/prices[i-1]))
	}
	if len(logReturns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range logReturns {
		mean += r
	}
	mean /= float64(len(logReturns))
	variance := 0.0
	for _, r := range logReturns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(logReturns) - 1)
	stdev := math.Sqrt(variance)
	years := float64(s.cfg.TradingDaysPerYear)
	return stdev * math.Sqrt(years)
}
