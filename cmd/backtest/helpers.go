package main

import (
	"encoding/csv"
	"os"
	"strconv"

	"ashare-backtest/internal/config"
	"ashare-backtest/internal/equitycurve"
	"ashare-backtest/internal/pendingqueue"
	"ashare-backtest/internal/portfolio"
	"ashare-backtest/internal/riskbudget"
	"ashare-backtest/internal/scheduler"
	"ashare-backtest/internal/stoploss"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func pendingQueueFrom(cfg config.Config) *pendingqueue.Queue {
	return pendingqueue.New(pendingqueue.Config{MaxRetries: cfg.MaxRetries, MaxRetryDays: cfg.MaxRetryDays}, nil)
}

func stopLossFrom(cfg config.Config, log *zap.Logger) *stoploss.Monitor {
	slCfg := stoploss.Config{Enabled: cfg.StopLossEnabled}
	if cfg.StopLossEnabled {
		slCfg.DrawdownPct = decimal.NewFromFloat(cfg.StopLossDrawdownPct)
		slCfg.TrailingStopEnabled = cfg.StopLossTrailingEnabled
		slCfg.TrailingStopPct = decimal.NewFromFloat(cfg.StopLossTrailingPct)
		slCfg.ConsecutiveLimitDownDays = cfg.StopLossConsecutiveLimitDown
	}
	return stoploss.New(slCfg, log)
}

func equityCurveFrom(cfg config.Config) equitycurve.Config {
	eccCfg := equitycurve.DefaultConfig()
	eccCfg.Enabled = cfg.EquityCurveEnabled
	if len(cfg.EquityCurveDrawdownThresholds) > 0 {
		eccCfg.DrawdownThresholds = cfg.EquityCurveDrawdownThresholds
	}
	if len(cfg.EquityCurveExposureLevels) > 0 {
		eccCfg.ExposureLevels = cfg.EquityCurveExposureLevels
	}
	if cfg.EquityCurveMAShortWindow > 0 {
		eccCfg.MAShortWindow = cfg.EquityCurveMAShortWindow
	}
	if cfg.EquityCurveMALongWindow > 0 {
		eccCfg.MALongWindow = cfg.EquityCurveMALongWindow
	}
	return eccCfg
}

func schedulerFrom(cfg config.Config) scheduler.Config {
	scope := scheduler.ScopeFullSet
	if cfg.BatchExposureScope == config.BatchScopePerTranche {
		scope = scheduler.ScopePerTranche
	}
	return scheduler.Config{
		RebalanceFreq:      cfg.RebalanceFreq,
		BatchTranches:      cfg.BatchTranches,
		BatchExposureScope: scope,
	}
}

func riskBudgetFrom(cfg config.Config) riskbudget.Config {
	rbCfg := riskbudget.DefaultConfig()
	rbCfg.Enabled = cfg.RiskBudgetEnabled
	if cfg.VolWindow > 0 {
		rbCfg.VolWindow = cfg.VolWindow
	}
	if cfg.VolEpsilon > 0 {
		rbCfg.VolEpsilon = cfg.VolEpsilon
	}
	return rbCfg
}

func writeTradesCSV(path string, recs []portfolio.TradeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"date", "ticker", "side", "shares", "trade_price", "pnl_price",
		"gross_amount", "commission", "stamp_tax", "slippage", "reason",
		"buy_trade_price", "buy_pnl_price", "pnl_profit_amount", "pnl_profit_pct",
		"sell_type", "stop_loss_kind"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			string(r.Date), r.Ticker, r.Side.String(), itoa64(r.Shares), r.TradePrice.String(), r.PnlPrice.String(),
			r.GrossAmount.String(), r.Commission.String(), r.StampTax.String(), r.Slippage.String(), r.Reason,
			r.BuyTradePrice.String(), r.BuyPnlPrice.String(), r.PnlProfitAmount.String(), ftoa(r.PnlProfitPct),
			r.SellType.String(), r.StopLossKind,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeNavCSV(path string, points []portfolio.NavPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"date", "cash", "market_value", "total_value", "nav", "daily_return"}); err != nil {
		return err
	}
	for _, p := range points {
		ret := ""
		if p.HasDailyRet {
			ret = ftoa(p.DailyReturn)
		}
		row := []string{string(p.Date), p.Cash.String(), p.MarketValue.String(), p.TotalValue.String(), ftoa(p.Nav), ret}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [24]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}
