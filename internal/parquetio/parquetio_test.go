package parquetio

import (
	"path/filepath"
	"testing"

	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/portfolio"
	"ashare-backtest/internal/signalpipeline"

	"github.com/shopspring/decimal"
)

func TestWriteReadNavRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nav.parquet")
	points := []portfolio.NavPoint{
		{
			Date:        "20230103",
			Cash:        decimal.NewFromInt(1000),
			MarketValue: decimal.NewFromInt(9000),
			TotalValue:  decimal.NewFromInt(10000),
			Nav:         1.0,
			DailyReturn: 0,
			HasDailyRet: false,
		},
		{
			Date:        "20230104",
			Cash:        decimal.NewFromInt(500),
			MarketValue: decimal.NewFromInt(9700),
			TotalValue:  decimal.NewFromInt(10200),
			Nav:         1.02,
			DailyReturn: 0.02,
			HasDailyRet: true,
		},
	}
	if err := WriteNav(path, points); err != nil {
		t.Fatalf("WriteNav: %v", err)
	}
	got, err := ReadNav(path)
	if err != nil {
		t.Fatalf("ReadNav: %v", err)
	}
	if len(got) != len(points) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(points))
	}
	if got[1].Date != "20230104" || !got[1].TotalValue.Equal(decimal.NewFromInt(10200)) {
		t.Fatalf("round trip mismatch on row 1: %+v", got[1])
	}
	if !got[1].HasDailyRet || got[1].DailyReturn != 0.02 {
		t.Fatalf("daily return round trip mismatch: %+v", got[1])
	}
}

func TestWriteReadPendingWeightsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.parquet")
	in := bars.NewInterner()
	tidA := in.Intern("A")
	weights := []signalpipeline.TargetWeight{
		{TickerID: tidA, Ticker: "A", Weight: 0.6},
	}
	if err := WritePendingWeights(path, weights); err != nil {
		t.Fatalf("WritePendingWeights: %v", err)
	}
	got, err := ReadPendingWeights(path)
	if err != nil {
		t.Fatalf("ReadPendingWeights: %v", err)
	}
	if len(got) != 1 || got[0].Ticker != "A" || got[0].Weight != 0.6 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestWriteReadTradesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.parquet")
	recs := []portfolio.TradeRecord{
		{
			Date:            "20230103",
			Ticker:          "A",
			Side:            portfolio.Buy,
			Shares:          100,
			TradePrice:      decimal.NewFromInt(10),
			PnlPrice:        decimal.NewFromInt(10),
			GrossAmount:     decimal.NewFromInt(1000),
			Commission:      decimal.NewFromFloat(0.3),
			StampTax:        decimal.Zero,
			Slippage:        decimal.Zero,
			Reason:          "rebalance",
			BuyTradePrice:   decimal.NewFromInt(10),
			BuyPnlPrice:     decimal.NewFromInt(10),
			PnlProfitAmount: decimal.Zero,
			PnlProfitPct:    0,
			SellType:        portfolio.SellUnspecified,
			StopLossKind:    "",
		},
	}
	if err := WriteTrades(path, recs); err != nil {
		t.Fatalf("WriteTrades: %v", err)
	}
	got, err := ReadTrades(path)
	if err != nil {
		t.Fatalf("ReadTrades: %v", err)
	}
	if len(got) != 1 || got[0].Ticker != "A" || got[0].Side != portfolio.Buy {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got[0].GrossAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("decimal round trip mismatch: %v", got[0].GrossAmount)
	}
}
