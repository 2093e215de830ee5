package portfolio

import (
	"testing"

	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/costmodel"
	"ashare-backtest/internal/priceindex"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestPortfolio(t *testing.T, closes map[bars.Date]string, ticker string) (*Portfolio, bars.TickerID) {
	in := bars.NewInterner()
	tid := in.Intern(ticker)
	var allBars []bars.Bar
	for d, c := range closes {
		px, _ := decimal.NewFromString(c)
		allBars = append(allBars, bars.Bar{Ticker: ticker, Date: d, Close: px, Open: px, High: px, Low: px,
			Volume: decimal.NewFromInt(1000), Amount: px.Mul(decimal.NewFromInt(1000))})
	}
	idx, err := priceindex.Build(allBars, in, zap.NewNop())
	if err != nil {
		t.Fatalf("priceindex.Build: %v", err)
	}
	pf := New(decimal.NewFromInt(1000000), idx, costmodel.New(costmodel.DefaultConfig()), zap.NewNop())
	return pf, tid
}

// I2: shares must be a positive multiple of 100 after a buy.
func TestBuySizesToLotMultiple(t *testing.T) {
	pf, tid := newTestPortfolio(t, map[bars.Date]string{"20230104": "10"}, "T")
	rec, err := pf.Buy("T", tid, decimal.NewFromInt(10050), "20230104", AtClose, nil, 0)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if rec.Shares <= 0 || rec.Shares%100 != 0 {
		t.Fatalf("Shares = %d, want a positive multiple of 100", rec.Shares)
	}
	// 10050/10 = 1005 -> floor to nearest 100 -> 1000 shares.
	if rec.Shares != 1000 {
		t.Fatalf("Shares = %d, want 1000", rec.Shares)
	}
}

// I4: a ticker cannot have two open lots at once.
func TestBuyRejectsAlreadyHeld(t *testing.T) {
	pf, tid := newTestPortfolio(t, map[bars.Date]string{"20230104": "10"}, "T")
	if _, err := pf.Buy("T", tid, decimal.NewFromInt(10000), "20230104", AtClose, nil, 0); err != nil {
		t.Fatalf("first Buy: %v", err)
	}
	if _, err := pf.Buy("T", tid, decimal.NewFromInt(10000), "20230104", AtClose, nil, 0); err == nil {
		t.Fatal("expected second Buy for an already-held ticker to fail")
	}
}

// I3: cash never goes negative; an over-budget buy is rejected outright.
func TestBuyRejectsInsufficientCash(t *testing.T) {
	in := bars.NewInterner()
	tid := in.Intern("T")
	px := decimal.NewFromInt(10)
	idx, err := priceindex.Build([]bars.Bar{{Ticker: "T", Date: "20230104", Close: px, Open: px, High: px, Low: px,
		Volume: decimal.NewFromInt(1000), Amount: px.Mul(decimal.NewFromInt(1000))}}, in, zap.NewNop())
	if err != nil {
		t.Fatalf("priceindex.Build: %v", err)
	}
	pf := New(decimal.NewFromInt(500), idx, costmodel.New(costmodel.DefaultConfig()), zap.NewNop())
	if _, err := pf.Buy("T", tid, decimal.NewFromInt(100000), "20230104", AtClose, nil, 0); err == nil {
		t.Fatal("expected Buy to reject a notional the portfolio cannot afford")
	}
	if pf.Cash.Sign() < 0 {
		t.Fatal("cash must never go negative")
	}
}

// I5: a sell removes the lot it matches, and the trade log records the same
// ticker/shares on both legs.
func TestSellMatchesPriorBuyInTradeLog(t *testing.T) {
	pf, tid := newTestPortfolio(t, map[bars.Date]string{"20230104": "10", "20230105": "11"}, "T")
	buyRec, err := pf.Buy("T", tid, decimal.NewFromInt(10000), "20230104", AtClose, nil, 0)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	sellRec, err := pf.Sell("T", tid, "20230105", AtClose, SellRebalance, "")
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if sellRec.Ticker != buyRec.Ticker || sellRec.Shares != buyRec.Shares {
		t.Fatalf("sell record (%s, %d) does not match buy record (%s, %d)",
			sellRec.Ticker, sellRec.Shares, buyRec.Ticker, buyRec.Shares)
	}
	if len(pf.TradeLog) != 2 || pf.TradeLog[0].Side != Buy || pf.TradeLog[1].Side != Sell {
		t.Fatalf("trade log should contain buy then sell, got %+v", pf.TradeLog)
	}
	if _, held := pf.Positions[tid]; held {
		t.Fatal("position should be closed after Sell")
	}
}

func TestSellRejectsUnheldTicker(t *testing.T) {
	pf, tid := newTestPortfolio(t, map[bars.Date]string{"20230104": "10"}, "T")
	if _, err := pf.Sell("T", tid, "20230104", AtClose, SellRebalance, ""); err == nil {
		t.Fatal("expected Sell on an unheld ticker to fail")
	}
}

// I1: cash + market value reconstructs total value, and nav is total value
// normalized by initial capital.
func TestMarkToMarketReconstructsTotalValue(t *testing.T) {
	pf, tid := newTestPortfolio(t, map[bars.Date]string{"20230104": "10", "20230105": "12"}, "T")
	if _, err := pf.Buy("T", tid, decimal.NewFromInt(10000), "20230104", AtClose, nil, 0); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	np := pf.MarkToMarket("20230105")

	want := pf.Cash.Add(np.MarketValue)
	if !np.TotalValue.Equal(want) {
		t.Fatalf("TotalValue = %v, want cash+marketValue = %v", np.TotalValue, want)
	}
	wantNav, _ := np.TotalValue.Div(pf.InitialCapital).Float64()
	if np.Nav != wantNav {
		t.Fatalf("Nav = %v, want %v", np.Nav, wantNav)
	}
}

func TestBuyRejectsNonPositiveTradePrice(t *testing.T) {
	in := bars.NewInterner()
	tid := in.Intern("T")
	idx, err := priceindex.Build([]bars.Bar{{Ticker: "T", Date: "20230104", Close: decimal.Zero, Open: decimal.Zero,
		High: decimal.Zero, Low: decimal.Zero, Volume: decimal.NewFromInt(1000)}}, in, zap.NewNop())
	if err != nil {
		t.Fatalf("priceindex.Build: %v", err)
	}
	pf := New(decimal.NewFromInt(100000), idx, costmodel.New(costmodel.DefaultConfig()), zap.NewNop())
	if _, err := pf.Buy("T", tid, decimal.NewFromInt(10000), "20230104", AtClose, nil, 0); err == nil {
		t.Fatal("expected Buy to reject a non-positive trade price")
	}
}
