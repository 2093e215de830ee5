// Package stoploss implements the per-position drawdown/trailing/
// consecutive-limit-down stop-loss monitor. Grounded on the original
// StopLossMonitor's config shape and evaluation order.
package stoploss

import (
	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/portfolio"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TriggerKind names which rule fired.
type TriggerKind int

const (
	TriggerNone TriggerKind = iota
	TriggerDrawdown
	TriggerTrailing
	TriggerConsecutiveLimitDown
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerDrawdown:
		return "drawdown"
	case TriggerTrailing:
		return "trailing"
	case TriggerConsecutiveLimitDown:
		return "consecutive_limit_down"
	default:
		return "none"
	}
}

// Config mirrors the original StopLossConfig.
type Config struct {
	Enabled                  bool
	DrawdownPct              decimal.Decimal // e.g. 20 means 20%
	TrailingStopEnabled      bool
	TrailingStopPct          decimal.Decimal
	ConsecutiveLimitDownDays int
}

// PositionState is the per-ticker persistent state (survives
// serialization): high-water pnl_price and the consecutive-limit-down
// counter.
type PositionState struct {
	HighWaterPnlPrice       decimal.Decimal
	ConsecutiveLimitDownDay int
}

// Monitor evaluates stop-loss triggers. State is keyed by TickerID in
// lock-step with Portfolio's position map, a mirrored relation rather than
// an ownership edge: the monitor tracks high-water marks and consecutive
// limit-down streaks per held ticker but never mutates the portfolio.
type Monitor struct {
	cfg   Config
	state map[bars.TickerID]*PositionState
	log   *zap.Logger
}

// New constructs a Monitor.
func New(cfg Config, log *zap.Logger) *Monitor {
	return &Monitor{cfg: cfg, state: make(map[bars.TickerID]*PositionState), log: log}
}

// Trigger describes one fired stop-loss for the tick loop to act on.
type Trigger struct {
	TickerID bars.TickerID
	Ticker   string
	Kind     TriggerKind
	Reason   string
}

// UpdateAndCheck walks every open lot in pf, updates high-water price and
// the limit-down counter, evaluates the three rules in fixed order
// (drawdown, trailing, consecutive-limit-down), and returns the triggers
// that fired this tick. It also
// purges state for any ticker no longer held, and re-initializes state for
// any held ticker missing it (e.g. after a fresh reload).
func (m *Monitor) UpdateAndCheck(d bars.Date, pf *portfolio.Portfolio, isLimitDown func(bars.TickerID) bool) []Trigger {
	m.Sync(pf)

	if !m.cfg.Enabled {
		return nil
	}

	var triggers []Trigger
	for tid, lot := range pf.Positions {
		st, ok := m.state[tid]
		if !ok {
			st = &PositionState{HighWaterPnlPrice: lot.BuyPnlPrice}
			m.state[tid] = st
		}

		current, found := pf.CurrentPnlPrice(d, tid)
		if !found {
			continue
		}
		if current.GreaterThan(st.HighWaterPnlPrice) {
			st.HighWaterPnlPrice = current
		}
		limitDown := isLimitDown(tid)
		if limitDown {
			st.ConsecutiveLimitDownDay++
		} else {
			st.ConsecutiveLimitDownDay = 0
		}

		kind, reason := m.evaluate(lot.BuyPnlPrice, current, st)
		if kind != TriggerNone {
			triggers = append(triggers, Trigger{TickerID: tid, Ticker: lot.Ticker, Kind: kind, Reason: reason})
			if m.log != nil {
				m.log.Warn("stop loss triggered", zap.String("ticker", lot.Ticker), zap.String("kind", kind.String()), zap.String("reason", reason))
			}
		}
	}
	return triggers
}

func (m *Monitor) evaluate(buyPnlPrice, current decimal.Decimal, st *PositionState) (TriggerKind, string) {
	hundred := decimal.NewFromInt(100)

	drawdownThreshold := buyPnlPrice.Mul(hundred.Sub(m.cfg.DrawdownPct)).Div(hundred)
	if current.LessThanOrEqual(drawdownThreshold) {
		return TriggerDrawdown, "drawdown stop: price fell to or below " + drawdownThreshold.String()
	}

	if m.cfg.TrailingStopEnabled {
		trailingThreshold := st.HighWaterPnlPrice.Mul(hundred.Sub(m.cfg.TrailingStopPct)).Div(hundred)
		if current.LessThanOrEqual(trailingThreshold) {
			return TriggerTrailing, "trailing stop: price fell to or below " + trailingThreshold.String()
		}
	}

	if st.ConsecutiveLimitDownDay >= m.cfg.ConsecutiveLimitDownDays && m.cfg.ConsecutiveLimitDownDays > 0 {
		return TriggerConsecutiveLimitDown, "consecutive limit-down threshold reached"
	}

	return TriggerNone, ""
}

// Sync reconciles the monitor's tracked tickers with Portfolio's currently
// held positions: state for closed positions is purged, and state for
// newly opened lots (not yet seen by UpdateAndCheck) is initialized. This
// keeps the monitor's tracked key set equal to the portfolio's held-lot
// key set at the end of every tick, including ticks that only buy and
// never evaluate triggers.
func (m *Monitor) Sync(pf *portfolio.Portfolio) {
	held := make(map[bars.TickerID]struct{}, len(pf.Positions))
	for tid := range pf.Positions {
		held[tid] = struct{}{}
	}
	for tid := range m.state {
		if _, ok := held[tid]; !ok {
			delete(m.state, tid)
		}
	}
	for tid, lot := range pf.Positions {
		if _, ok := m.state[tid]; !ok {
			m.state[tid] = &PositionState{HighWaterPnlPrice: lot.BuyPnlPrice}
		}
	}
}

// Remove purges monitor state for a ticker after its lot is closed via any
// path.
func (m *Monitor) Remove(tid bars.TickerID) {
	delete(m.state, tid)
}

// HeldTickerIDs returns the set of tickers the monitor currently tracks
// state for.
func (m *Monitor) HeldTickerIDs() map[bars.TickerID]struct{} {
	out := make(map[bars.TickerID]struct{}, len(m.state))
	for tid := range m.state {
		out[tid] = struct{}{}
	}
	return out
}

// Snapshot returns the monitor's state for serialization.
func (m *Monitor) Snapshot() map[bars.TickerID]PositionState {
	out := make(map[bars.TickerID]PositionState, len(m.state))
	for tid, st := range m.state {
		out[tid] = *st
	}
	return out
}

// Restore replaces the monitor's state from a deserialized snapshot.
func (m *Monitor) Restore(snap map[bars.TickerID]PositionState) {
	m.state = make(map[bars.TickerID]*PositionState, len(snap))
	for tid, st := range snap {
		s := st
		m.state[tid] = &s
	}
}
