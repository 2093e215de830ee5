// Package scheduler determines whether a trading day is a rebalance day
// and, in batch mode, which tranche of the target universe is due.
package scheduler

import "ashare-backtest/internal/bars"

// BatchExposureScope resolves the open question on whether
// EquityCurveController scaling applies to the full target set before
// tranche splitting, or per-tranche. This implementation's choice (see
// DESIGN.md): scaling runs over the full set before tranches are carved,
// default "full_set".
type BatchExposureScope int

const (
	ScopeFullSet BatchExposureScope = iota
	ScopePerTranche
)

// Config configures rebalance cadence and optional batch mode.
type Config struct {
	RebalanceFreq      int // positive trading-day count
	BatchTranches      int // 0 or 1 disables batch mode
	BatchExposureScope BatchExposureScope
}

// Scheduler tracks the last rebalance date and, in batch mode, which
// tranche is next due.
type Scheduler struct {
	cfg               Config
	cal               *bars.Calendar
	lastRebalanceDate bars.Date
	hasRebalanced     bool
	nextTranche       int
}

// New constructs a Scheduler bound to cal.
func New(cfg Config, cal *bars.Calendar) *Scheduler {
	return &Scheduler{cfg: cfg, cal: cal}
}

// IsRebalanceDay reports whether d is a rebalance day: the first
// simulation day, or the trading-day count in (last_rebalance_date, d]
// equals rebalance_freq.
func (s *Scheduler) IsRebalanceDay(d bars.Date) bool {
	if !s.hasRebalanced {
		return true
	}
	n, err := s.cal.TradingDaysBetween(s.lastRebalanceDate, d)
	if err != nil {
		return false
	}
	return n == s.cfg.RebalanceFreq
}

// Mark records d as the last rebalance date and advances the batch
// tranche pointer. Call only after the signal pipeline has completed for d.
func (s *Scheduler) Mark(d bars.Date) {
	s.lastRebalanceDate = d
	s.hasRebalanced = true
	if s.cfg.BatchTranches > 1 {
		s.nextTranche = (s.nextTranche + 1) % s.cfg.BatchTranches
	}
}

// CurrentTranche returns which tranche (0-indexed) is due on the next
// rebalance, how many tranches the universe is split into, which exposure
// scope governs equity-curve scaling around the split, and whether batch
// mode is active at all (BatchTranches > 1).
func (s *Scheduler) CurrentTranche() (tranche, total int, scope BatchExposureScope, batchMode bool) {
	return s.nextTranche, s.cfg.BatchTranches, s.cfg.BatchExposureScope, s.cfg.BatchTranches > 1
}

// Tranche returns the contiguous slice of universe belonging to tranche
// (0-indexed) out of total tranches. Sizes differ by at most one ticker
// across tranches, the same chunk-boundary rule batchplan.Planner uses.
// total <= 1 returns universe unchanged.
func Tranche(universe []bars.TickerID, tranche, total int) []bars.TickerID {
	if total <= 1 {
		return universe
	}
	n := len(universe)
	base := n / total
	rem := n % total
	extra := tranche
	if extra > rem {
		extra = rem
	}
	start := tranche*base + extra
	size := base
	if tranche < rem {
		size++
	}
	end := start + size
	if start > n {
		start = n
	}
	if end > n {
		end = n
	}
	return universe[start:end]
}

// LastRebalanceDate returns the date of the most recent rebalance, and
// whether one has occurred yet.
func (s *Scheduler) LastRebalanceDate() (bars.Date, bool) {
	return s.lastRebalanceDate, s.hasRebalanced
}

// Restore reinitializes scheduler state from persisted values (paper mode
// reload).
func (s *Scheduler) Restore(lastRebalanceDate bars.Date, hasRebalanced bool, nextTranche int) {
	s.lastRebalanceDate = lastRebalanceDate
	s.hasRebalanced = hasRebalanced
	s.nextTranche = nextTranche
}
