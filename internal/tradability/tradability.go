// Package tradability derives per-(date, ticker) suspended/limit-up/
// limit-down flags from bar data and exposes the can_buy/can_sell
// predicates the rest of the engine consumes.
package tradability

import (
	"ashare-backtest/internal/apperrors"
	"ashare-backtest/internal/bars"

	"github.com/shopspring/decimal"
)

const (
	nonSTLimitPct = "9.9"
	stLimitPct    = "4.9"
)

// Flags is the three-boolean tradability record for one (date, ticker).
type Flags struct {
	Suspended bool
	LimitUp   bool
	LimitDown bool
}

// Map is immutable after Build and may be shared freely.
type Map struct {
	flags map[bars.Date]map[bars.TickerID]Flags
}

// Build derives Flags for every bar. When explicit is_limit_up/is_limit_down
// columns are present on the bar, they are used directly (price-based
// detection upstream is assumed authoritative). Otherwise limit status is
// derived from pct_change against the ST-aware threshold.
func Build(allBars []bars.Bar, in *bars.Interner) *Map {
	m := &Map{flags: make(map[bars.Date]map[bars.TickerID]Flags)}
	for _, b := range allBars {
		tid := in.Intern(b.Ticker)
		if _, ok := m.flags[b.Date]; !ok {
			m.flags[b.Date] = make(map[bars.TickerID]Flags)
		}
		f := Flags{
			Suspended: b.IsSuspended || b.Volume.Sign() <= 0,
		}
		if b.IsLimitUp || b.IsLimitDown {
			f.LimitUp = b.IsLimitUp
			f.LimitDown = b.IsLimitDown
		} else if b.HasPctChange {
			threshold := nonSTLimitPct
			if b.IsST {
				threshold = stLimitPct
			}
			limit, _ := decimal.NewFromString(threshold)
			f.LimitUp = b.PctChange.GreaterThanOrEqual(limit)
			f.LimitDown = b.PctChange.LessThanOrEqual(limit.Neg())
		}
		m.flags[b.Date][tid] = f
	}
	return m
}

// Lookup returns the Flags for (D, t), or ErrorKind::Missing if absent.
func (m *Map) Lookup(d bars.Date, t bars.TickerID) (Flags, error) {
	byTicker, ok := m.flags[d]
	if !ok {
		return Flags{}, apperrors.New(apperrors.KindMissing, "no tradability data for date").WithDate(d)
	}
	f, ok := byTicker[t]
	if !ok {
		return Flags{}, apperrors.New(apperrors.KindMissing, "no tradability data for ticker on date").WithDate(d)
	}
	return f, nil
}

// CanBuy reports whether a buy may fill on (D, t). A missing (D, t) is
// treated as untradable, never guessed at.
func (m *Map) CanBuy(d bars.Date, t bars.TickerID) bool {
	f, err := m.Lookup(d, t)
	if err != nil {
		return false
	}
	return !f.Suspended && !f.LimitUp
}

// CanSell reports whether a sell may fill on (D, t). A missing (D, t) is
// treated as untradable, never guessed at.
func (m *Map) CanSell(d bars.Date, t bars.TickerID) bool {
	f, err := m.Lookup(d, t)
	if err != nil {
		return false
	}
	return !f.Suspended && !f.LimitDown
}
