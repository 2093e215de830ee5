// Package portfolio owns cash, open lots, and the append-only trade log.
// Buy and sell are the only mutators of cash and lots; mark-to-market only
// appends a point to the NAV history.
package portfolio

import (
	"sort"

	"ashare-backtest/internal/apperrors"
	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/costmodel"
	"ashare-backtest/internal/priceindex"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const lotSize = 100

// Side distinguishes buy from sell in a TradeRecord.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// SellType tags why a sell fired.
type SellType int

const (
	SellUnspecified SellType = iota
	SellHoldingPeriod
	SellStopLoss
	SellRebalance
	SellForced
)

func (t SellType) String() string {
	switch t {
	case SellHoldingPeriod:
		return "holding_period"
	case SellStopLoss:
		return "stop_loss"
	case SellRebalance:
		return "rebalance"
	case SellForced:
		return "forced"
	default:
		return "unspecified"
	}
}

// Lot is a single open position for one ticker.
type Lot struct {
	Ticker                  string
	TickerID                bars.TickerID
	Shares                  int64
	BuyTradePrice           decimal.Decimal
	BuyPnlPrice             decimal.Decimal
	BuyCostCash             decimal.Decimal
	BuyDate                 bars.Date
	ExitDueDate             bars.Date
	HasExitDueDate          bool
	HighWaterPnlPrice       decimal.Decimal
	ConsecutiveLimitDownDay int
}

// TradeRecord is one executed buy or sell, appended to the trade log.
type TradeRecord struct {
	Date            bars.Date
	Ticker          string
	Side            Side
	Shares          int64
	TradePrice      decimal.Decimal
	PnlPrice        decimal.Decimal
	GrossAmount     decimal.Decimal
	Commission      decimal.Decimal
	StampTax        decimal.Decimal
	Slippage        decimal.Decimal
	Reason          string
	BuyTradePrice   decimal.Decimal
	BuyPnlPrice     decimal.Decimal
	PnlProfitAmount decimal.Decimal
	PnlProfitPct    float64
	SellType        SellType
	StopLossKind    string
}

// NavPoint is one entry in the NAV history.
type NavPoint struct {
	Date         bars.Date
	Cash         decimal.Decimal
	MarketValue  decimal.Decimal
	TotalValue   decimal.Decimal
	Nav          float64
	DailyReturn  float64
	HasDailyRet  bool
}

// Portfolio owns cash, open lots keyed by TickerID, the NAV history, and
// the trade log.
type Portfolio struct {
	InitialCapital decimal.Decimal
	Cash           decimal.Decimal
	Positions      map[bars.TickerID]*Lot
	NavHistory     []NavPoint
	TradeLog       []TradeRecord

	priceIdx  *priceindex.PriceIndex
	costModel *costmodel.Model
	log       *zap.Logger
}

// New constructs an empty Portfolio with initialCapital as both cash and
// the NAV normalization base.
func New(initialCapital decimal.Decimal, idx *priceindex.PriceIndex, cm *costmodel.Model, log *zap.Logger) *Portfolio {
	return &Portfolio{
		InitialCapital: initialCapital,
		Cash:           initialCapital,
		Positions:      make(map[bars.TickerID]*Lot),
		priceIdx:       idx,
		costModel:      cm,
		log:            log,
	}
}

// PriceSource selects which column backs a fill price.
type PriceSource int

const (
	AtClose PriceSource = iota
	AtOpen
)

func (pf *Portfolio) fillPrices(d bars.Date, t bars.TickerID, src PriceSource) (tradePrice, pnlPrice decimal.Decimal, err error) {
	if src == AtOpen {
		tradePrice, err = pf.priceIdx.OpenPrice(d, t)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		p, _ := pf.priceIdx.PnlOpenPrice(d, t)
		return tradePrice, p, nil
	}
	tradePrice, err = pf.priceIdx.TradePrice(d, t)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	p, _ := pf.priceIdx.PnlPrice(d, t)
	return tradePrice, p, nil
}

// Buy executes a buy of targetNotional worth of ticker t on date d.
// holdingPeriod (trading days) is used to compute ExitDueDate via cal;
// pass nil for cal/0 for holdingPeriod to leave ExitDueDate unset.
func (pf *Portfolio) Buy(ticker string, t bars.TickerID, targetNotional decimal.Decimal, d bars.Date, src PriceSource, cal *bars.Calendar, holdingPeriod int) (*TradeRecord, error) {
	if _, held := pf.Positions[t]; held {
		return nil, apperrors.New(apperrors.KindAlreadyHeld, "ticker already has an open lot").WithTicker(ticker).WithDate(d)
	}

	tradePrice, pnlPrice, err := pf.fillPrices(d, t, src)
	if err != nil {
		return nil, err
	}
	if tradePrice.Sign() <= 0 {
		return nil, apperrors.New(apperrors.KindDataIntegrity, "non-positive trade price on buy").WithTicker(ticker).WithDate(d)
	}

	rawShares := targetNotional.Div(tradePrice).Floor()
	shares := rawShares.Sub(rawShares.Mod(decimal.NewFromInt(lotSize)))
	if shares.LessThan(decimal.NewFromInt(lotSize)) {
		return nil, apperrors.New(apperrors.KindInsufficientNotional, "target notional rounds down to fewer than one lot").WithTicker(ticker).WithDate(d)
	}

	notional := shares.Mul(tradePrice)
	fee, err := pf.costModel.BuyCost(notional)
	if err != nil {
		return nil, err
	}
	totalCost := notional.Add(fee)
	if pf.Cash.LessThan(totalCost) {
		return nil, apperrors.New(apperrors.KindInsufficientCash, "cash shortfall on buy").WithTicker(ticker).WithDate(d)
	}

	pf.Cash = pf.Cash.Sub(totalCost)
	lot := &Lot{
		Ticker:            ticker,
		TickerID:          t,
		Shares:            shares.IntPart(),
		BuyTradePrice:     tradePrice,
		BuyPnlPrice:       pnlPrice,
		BuyCostCash:       totalCost,
		BuyDate:           d,
		HighWaterPnlPrice: pnlPrice,
	}
	if cal != nil && holdingPeriod > 0 {
		if due, ok := cal.AddTradingDays(d, holdingPeriod); ok {
			lot.ExitDueDate = due
			lot.HasExitDueDate = true
		}
	}
	pf.Positions[t] = lot

	rec := TradeRecord{
		Date:        d,
		Ticker:      ticker,
		Side:        Buy,
		Shares:      lot.Shares,
		TradePrice:  tradePrice,
		PnlPrice:    pnlPrice,
		GrossAmount: notional,
		Reason:      "signal",
	}
	pf.splitFeeInto(&rec, notional, fee, false)
	pf.TradeLog = append(pf.TradeLog, rec)
	return &rec, nil
}

func (pf *Portfolio) splitFeeInto(rec *TradeRecord, notional, totalFee decimal.Decimal, sell bool) {
	commission := notional.Mul(pf.costModel_commissionRate())
	if commission.LessThan(pf.costModel_minCommission()) {
		commission = pf.costModel_minCommission()
	}
	rec.Commission = commission
	if sell {
		rec.StampTax = notional.Mul(pf.costModel_stampTaxRate())
	}
	rec.Slippage = totalFee.Sub(rec.Commission).Sub(rec.StampTax)
}

// Sell executes a sell of the full lot for ticker t.
func (pf *Portfolio) Sell(ticker string, t bars.TickerID, d bars.Date, src PriceSource, sellType SellType, stopLossKind string) (*TradeRecord, error) {
	lot, held := pf.Positions[t]
	if !held {
		return nil, apperrors.New(apperrors.KindNotHeld, "no open lot to sell").WithTicker(ticker).WithDate(d)
	}

	tradePrice, pnlPrice, err := pf.fillPrices(d, t, src)
	if err != nil {
		return nil, err
	}

	shares := decimal.NewFromInt(lot.Shares)
	notional := shares.Mul(tradePrice)
	fee, err := pf.costModel.SellCost(notional)
	if err != nil {
		return nil, err
	}
	pf.Cash = pf.Cash.Add(notional.Sub(fee))

	pnlBuyNotional := shares.Mul(lot.BuyPnlPrice)
	pnlSellNotional := shares.Mul(pnlPrice)
	buyLegFee := lot.BuyCostCash.Sub(shares.Mul(lot.BuyTradePrice))
	totalFees := buyLegFee.Add(fee)
	profitAmount := pnlSellNotional.Sub(pnlBuyNotional).Sub(totalFees)
	denom := pnlBuyNotional.Add(buyLegFee)
	profitPct := 0.0
	if denom.Sign() != 0 {
		profitPct, _ = profitAmount.Div(denom).Float64()
	}

	rec := TradeRecord{
		Date:            d,
		Ticker:          ticker,
		Side:            Sell,
		Shares:          lot.Shares,
		TradePrice:      tradePrice,
		PnlPrice:        pnlPrice,
		GrossAmount:     notional,
		Reason:          sellType.String(),
		BuyTradePrice:   lot.BuyTradePrice,
		BuyPnlPrice:     lot.BuyPnlPrice,
		PnlProfitAmount: profitAmount,
		PnlProfitPct:    profitPct,
		SellType:        sellType,
		StopLossKind:    stopLossKind,
	}
	pf.splitFeeInto(&rec, notional, fee, true)
	pf.TradeLog = append(pf.TradeLog, rec)
	delete(pf.Positions, t)
	return &rec, nil
}

// MarkToMarket computes cash + market value on d, using pnl_price with
// stale-price fallback for held tickers missing a bar on d (a warning is
// logged in that case), and appends a NavPoint.
func (pf *Portfolio) MarkToMarket(d bars.Date) NavPoint {
	marketValue := decimal.Zero
	tids := make([]bars.TickerID, 0, len(pf.Positions))
	for tid := range pf.Positions {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	for _, tid := range tids {
		lot := pf.Positions[tid]
		price, found := pf.priceIdx.PnlPrice(d, tid)
		if !found && pf.log != nil {
			pf.log.Warn("reusing stale pnl_price for mark-to-market",
				zap.String("ticker", lot.Ticker), zap.String("date", d))
		}
		marketValue = marketValue.Add(decimal.NewFromInt(lot.Shares).Mul(price))
	}
	total := pf.Cash.Add(marketValue)
	navFloat, _ := total.Div(pf.InitialCapital).Float64()

	np := NavPoint{
		Date:        d,
		Cash:        pf.Cash,
		MarketValue: marketValue,
		TotalValue:  total,
		Nav:         navFloat,
	}
	if n := len(pf.NavHistory); n > 0 {
		prev := pf.NavHistory[n-1].Nav
		if prev != 0 {
			np.DailyReturn = navFloat/prev - 1
			np.HasDailyRet = true
		}
	}
	pf.NavHistory = append(pf.NavHistory, np)
	return np
}

// CurrentPnlPrice exposes the price index's pnl_price lookup for a held
// ticker, used by the stop-loss monitor to evaluate triggers without
// reaching into PriceIndex directly.
func (pf *Portfolio) CurrentPnlPrice(d bars.Date, t bars.TickerID) (decimal.Decimal, bool) {
	return pf.priceIdx.PnlPrice(d, t)
}

// MarketValueAt returns cash + market value on d without appending a NAV
// point, used by the tick loop to size buys against intraday (open-of-day)
// portfolio value.
func (pf *Portfolio) MarketValueAt(d bars.Date) decimal.Decimal {
	marketValue := decimal.Zero
	for tid, lot := range pf.Positions {
		price, _ := pf.priceIdx.PnlOpenPrice(d, tid)
		marketValue = marketValue.Add(decimal.NewFromInt(lot.Shares).Mul(price))
	}
	return pf.Cash.Add(marketValue)
}

// the costmodel.Model fields are unexported; Portfolio needs its rate
// constants to split a combined fee into commission/tax/slippage for the
// trade log without recomputing rounding. Small accessor shim rather than
// exporting Model's internals broadly.
func (pf *Portfolio) costModel_commissionRate() decimal.Decimal { return pf.costModel.CommissionRate() }
func (pf *Portfolio) costModel_minCommission() decimal.Decimal  { return pf.costModel.MinCommission() }
func (pf *Portfolio) costModel_stampTaxRate() decimal.Decimal   { return pf.costModel.StampTaxRate() }
