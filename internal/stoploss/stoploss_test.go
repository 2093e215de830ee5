package stoploss

import (
	"testing"

	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/costmodel"
	"ashare-backtest/internal/portfolio"
	"ashare-backtest/internal/priceindex"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func buildPortfolio(t *testing.T, closes map[bars.Date]string) (*portfolio.Portfolio, *bars.Interner, bars.TickerID) {
	in := bars.NewInterner()
	tid := in.Intern("T")
	var allBars []bars.Bar
	for d, c := range closes {
		px, _ := decimal.NewFromString(c)
		allBars = append(allBars, bars.Bar{Ticker: "T", Date: d, Close: px, Open: px, High: px, Low: px,
			Volume: decimal.NewFromInt(1000), Amount: px.Mul(decimal.NewFromInt(1000))})
	}
	idx, err := priceindex.Build(allBars, in, zap.NewNop())
	if err != nil {
		t.Fatalf("priceindex.Build: %v", err)
	}
	pf := portfolio.New(decimal.NewFromInt(1000000), idx, costmodel.New(costmodel.DefaultConfig()), zap.NewNop())
	return pf, in, tid
}

// Buy at close 10 on 20230104; closes fall 10, 9, 8.5, 8.0, 7.9 across
// 20230104..20230110; drawdown_pct=20 means the trigger threshold is
// 10 * 0.8 = 8.0, first breached (<=) on 20230109 at close 8.0.
func TestDrawdownTriggerFiresAtThreshold(t *testing.T) {
	closes := map[bars.Date]string{
		"20230104": "10", "20230105": "9", "20230106": "8.5",
		"20230109": "8.0", "20230110": "7.9",
	}
	pf, _, tid := buildPortfolio(t, closes)
	if _, err := pf.Buy("T", tid, decimal.NewFromInt(100000), "20230104", portfolio.AtClose, nil, 0); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	dd, _ := decimal.NewFromString("20")
	m := New(Config{Enabled: true, DrawdownPct: dd}, zap.NewNop())
	noLimitDown := func(bars.TickerID) bool { return false }

	for _, d := range []bars.Date{"20230105", "20230106"} {
		trig := m.UpdateAndCheck(d, pf, noLimitDown)
		if len(trig) != 0 {
			t.Fatalf("unexpected trigger on %s: %+v", d, trig)
		}
	}
	trig := m.UpdateAndCheck("20230109", pf, noLimitDown)
	if len(trig) != 1 || trig[0].Kind != TriggerDrawdown {
		t.Fatalf("expected a single drawdown trigger on 20230109, got %+v", trig)
	}
}

// Trigger precedence: when drawdown and trailing would both fire, drawdown
// wins because evaluate() checks it first.
func TestPrecedenceDrawdownBeforeTrailing(t *testing.T) {
	closes := map[bars.Date]string{
		"20230104": "10", "20230105": "12", "20230106": "8",
	}
	pf, _, tid := buildPortfolio(t, closes)
	if _, err := pf.Buy("T", tid, decimal.NewFromInt(100000), "20230104", portfolio.AtClose, nil, 0); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	dd, _ := decimal.NewFromString("20")   // threshold 8.0
	trail, _ := decimal.NewFromString("15") // threshold from high-water 12 -> 10.2
	m := New(Config{Enabled: true, DrawdownPct: dd, TrailingStopEnabled: true, TrailingStopPct: trail}, zap.NewNop())
	noLimitDown := func(bars.TickerID) bool { return false }

	m.UpdateAndCheck("20230105", pf, noLimitDown) // establishes high-water at 12
	trig := m.UpdateAndCheck("20230106", pf, noLimitDown)
	if len(trig) != 1 {
		t.Fatalf("expected exactly one trigger, got %+v", trig)
	}
	if trig[0].Kind != TriggerDrawdown {
		t.Fatalf("expected drawdown to take precedence over trailing, got %v", trig[0].Kind)
	}
}

// Consecutive limit-down days reaching the configured threshold fires
// even with no drawdown/trailing breach.
func TestConsecutiveLimitDownFiresAtThreshold(t *testing.T) {
	closes := map[bars.Date]string{
		"20230104": "10", "20230105": "9.7", "20230106": "9.4",
	}
	pf, _, tid := buildPortfolio(t, closes)
	if _, err := pf.Buy("T", tid, decimal.NewFromInt(100000), "20230104", portfolio.AtClose, nil, 0); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	dd, _ := decimal.NewFromString("90") // drawdown threshold far below reach
	m := New(Config{Enabled: true, DrawdownPct: dd, ConsecutiveLimitDownDays: 2}, zap.NewNop())
	isLimitDown := func(bars.TickerID) bool { return true }

	trig := m.UpdateAndCheck("20230105", pf, isLimitDown)
	if len(trig) != 0 {
		t.Fatalf("one limit-down day should not yet trigger, got %+v", trig)
	}
	trig = m.UpdateAndCheck("20230106", pf, isLimitDown)
	if len(trig) != 1 || trig[0].Kind != TriggerConsecutiveLimitDown {
		t.Fatalf("expected consecutive-limit-down trigger on second day, got %+v", trig)
	}
}

func TestSyncPurgesClosedAndInitializesNewLots(t *testing.T) {
	closes := map[bars.Date]string{"20230104": "10", "20230105": "9"}
	pf, _, tid := buildPortfolio(t, closes)
	if _, err := pf.Buy("T", tid, decimal.NewFromInt(100000), "20230104", portfolio.AtClose, nil, 0); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	m := New(Config{Enabled: true, DrawdownPct: decimal.NewFromInt(20)}, zap.NewNop())
	m.Sync(pf)
	if _, ok := m.HeldTickerIDs()[tid]; !ok {
		t.Fatal("expected monitor state to be initialized for the new lot")
	}

	if _, err := pf.Sell("T", tid, "20230105", portfolio.AtClose, portfolio.SellRebalance, ""); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	m.Sync(pf)
	if _, ok := m.HeldTickerIDs()[tid]; ok {
		t.Fatal("expected monitor state to be purged after the lot closed")
	}
}
