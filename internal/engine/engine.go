// Package engine is the per-day tick loop: pending-order retry, stop-loss
// check, holding-period exits, T+1 buys, signal generation, mark-to-market.
// The fixed ordering of these sub-steps is the hard part of this package.
package engine

import (
	"sort"

	"ashare-backtest/internal/apperrors"
	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/pendingqueue"
	"ashare-backtest/internal/portfolio"
	"ashare-backtest/internal/priceindex"
	"ashare-backtest/internal/scheduler"
	"ashare-backtest/internal/signalpipeline"
	"ashare-backtest/internal/stoploss"
	"ashare-backtest/internal/tradability"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// FeatureProvider supplies the per-day feature table the signal pipeline
// needs. Returning ok=false tells the tick loop to skip signal generation
// for that day (logged as a warning), mirroring the original's
// BacktestEngineML._build_signal_data "return None to skip the day"
// behavior when a day's features are absent.
type FeatureProvider interface {
	Features(d bars.Date) (map[bars.TickerID]map[string]float64, bool)
}

// Config holds the engine's tunables that are not owned by a sub-component.
type Config struct {
	HoldingPeriod int
	BuySource     portfolio.PriceSource
	SellSource    portfolio.PriceSource
}

// Engine owns the Portfolio, PendingOrderQueue, and StopLossMonitor
// exclusively for the lifetime of one run. PriceIndex and TradabilityMap
// are shared, immutable inputs.
type Engine struct {
	cfg Config

	cal *bars.Calendar
	in  *bars.Interner
	idx *priceindex.PriceIndex
	tm  *tradability.Map

	pf       *portfolio.Portfolio
	pq       *pendingqueue.Queue
	sl       *stoploss.Monitor
	sched    *scheduler.Scheduler
	pipeline *signalpipeline.Pipeline
	features FeatureProvider

	universe []bars.TickerID

	pendingWeights map[bars.Date][]signalpipeline.TargetWeight

	Events EventLog
	Trace  Trace

	log *zap.Logger
}

// New constructs an Engine from its fully wired sub-components.
func New(
	cfg Config,
	cal *bars.Calendar,
	in *bars.Interner,
	idx *priceindex.PriceIndex,
	tm *tradability.Map,
	pf *portfolio.Portfolio,
	pq *pendingqueue.Queue,
	sl *stoploss.Monitor,
	sched *scheduler.Scheduler,
	pipeline *signalpipeline.Pipeline,
	features FeatureProvider,
	universe []bars.TickerID,
	log *zap.Logger,
) *Engine {
	return &Engine{
		cfg:            cfg,
		cal:            cal,
		in:             in,
		idx:            idx,
		tm:             tm,
		pf:             pf,
		pq:             pq,
		sl:             sl,
		sched:          sched,
		pipeline:       pipeline,
		features:       features,
		universe:       universe,
		pendingWeights: make(map[bars.Date][]signalpipeline.TargetWeight),
		log:            log,
	}
}

// Portfolio exposes the read-only getter surface external callers use
// after the run (get_trades, get_nav_curve).
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.pf }

// PendingQueue exposes the pending-order queue for persistence between
// paper-mode runs; the caller must not mutate it outside a tick.
func (e *Engine) PendingQueue() *pendingqueue.Queue { return e.pq }

// StopLossMonitor exposes the stop-loss monitor for persistence between
// paper-mode runs; the caller must not mutate it outside a tick.
func (e *Engine) StopLossMonitor() *stoploss.Monitor { return e.sl }

// Scheduler exposes the rebalance scheduler for persistence between
// paper-mode runs; the caller must not mutate it outside a tick.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// SeedPendingWeights installs target weights computed by a prior process
// invocation (persisted to the pending weights file and reloaded) so that
// runBuys on date d has something to fill, even though this Engine instance
// never ran the signal pipeline that produced them.
func (e *Engine) SeedPendingWeights(d bars.Date, weights []signalpipeline.TargetWeight) {
	e.pendingWeights[d] = weights
}

// PendingWeightsFor peeks at the target weights staged for date d without
// consuming them, so the caller can persist them for a future process
// invocation to pick up via SeedPendingWeights.
func (e *Engine) PendingWeightsFor(d bars.Date) ([]signalpipeline.TargetWeight, bool) {
	w, ok := e.pendingWeights[d]
	return w, ok
}

// Tick executes one simulated trading day D, in this fixed order:
// pending retries, stop-loss triggers, holding-period exits, T+1 buys,
// rebalance (signal generation for the next day), mark-to-market. A
// per-ticker operation failure is logged and that ticker is skipped;
// only corruption-class errors abort the tick.
func (e *Engine) Tick(d bars.Date) error {
	e.retryPending(d)
	e.runStopLoss(d)
	e.runHoldingPeriodExits(d)
	e.runBuys(d)
	if e.sched.IsRebalanceDay(d) {
		if err := e.runSignalPipeline(d); err != nil {
			if apperrors.KindOf(err) == apperrors.KindDataIntegrity {
				return err
			}
			e.log.Warn("signal pipeline skipped", zap.String("date", d), zap.Error(err))
		} else {
			e.sched.Mark(d)
		}
	}
	e.sl.Sync(e.pf)
	np := e.pf.MarkToMarket(d)
	e.Events.Append(Event{Date: d, Type: EventNavUpdated, Details: np.TotalValue.String()})
	return nil
}

func (e *Engine) retryPending(d bars.Date) {
	daysBetween := func(first, current bars.Date) int {
		n, err := e.cal.TradingDaysBetween(first, current)
		if err != nil {
			return 0
		}
		return n
	}
	toFill := e.pq.Retry(d, daysBetween, e.tm)
	for _, o := range toFill {
		if o.Side != pendingqueue.SideSell {
			continue
		}
		sellType := sellTypeFromTag(o.SellTypeTag)
		rec, err := e.pf.Sell(o.Ticker, o.TickerID, d, e.cfg.SellSource, sellType, o.StopLossKind)
		if err != nil {
			e.log.Warn("deferred sell failed on retry", zap.String("ticker", o.Ticker), zap.Error(err))
			continue
		}
		e.sl.Remove(o.TickerID)
		e.pq.MarkSuccess(o.Ticker, pendingqueue.SideSell)
		e.Events.Append(Event{Date: d, Type: EventSellFilled, Ticker: o.Ticker, Details: rec.Reason})
	}
}

func sellTypeFromTag(tag string) portfolio.SellType {
	switch tag {
	case "stop_loss":
		return portfolio.SellStopLoss
	case "holding_period":
		return portfolio.SellHoldingPeriod
	case "rebalance":
		return portfolio.SellRebalance
	case "forced":
		return portfolio.SellForced
	default:
		return portfolio.SellUnspecified
	}
}

func (e *Engine) isLimitDown(d bars.Date) func(bars.TickerID) bool {
	return func(tid bars.TickerID) bool {
		f, err := e.tm.Lookup(d, tid)
		if err != nil {
			return false
		}
		return f.LimitDown
	}
}

func (e *Engine) runStopLoss(d bars.Date) {
	triggers := e.sl.UpdateAndCheck(d, e.pf, e.isLimitDown(d))
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].Ticker < triggers[j].Ticker })
	for _, trig := range triggers {
		e.Events.Append(Event{Date: d, Type: EventStopLossTriggered, Ticker: trig.Ticker, Details: trig.Reason})
		e.Trace.Record(Decision{Date: d, Ticker: trig.Ticker, Kind: DecisionStopLossFired, Reason: trig.Reason})
		// The sell never executes same-day regardless of whether the
		// trigger day itself is tradable; it always targets the next
		// trading day. If that day is also untradable, the pending queue's
		// retry loop keeps deferring it.
		next, ok := e.cal.NextTradingDay(d)
		if !ok {
			continue
		}
		e.enqueueSell(trig.TickerID, trig.Ticker, next, "stop_loss", trig.Kind.String())
	}
}

func (e *Engine) enqueueSell(tid bars.TickerID, ticker string, d bars.Date, sellTypeTag, stopLossKind string) {
	lot, held := e.pf.Positions[tid]
	if !held {
		return
	}
	e.pq.Enqueue(pendingqueue.Order{
		Ticker:       ticker,
		TickerID:     tid,
		Side:         pendingqueue.SideSell,
		Shares:       lot.Shares,
		OriginDate:   d,
		Reason:       sellTypeTag + "-deferred",
		SellTypeTag:  sellTypeTag,
		StopLossKind: stopLossKind,
	}, d)
	e.Events.Append(Event{Date: d, Type: EventPendingEnqueued, Ticker: ticker, Details: sellTypeTag})
}

func (e *Engine) runHoldingPeriodExits(d bars.Date) {
	var due []bars.TickerID
	for tid, lot := range e.pf.Positions {
		if lot.HasExitDueDate && lot.ExitDueDate == d {
			due = append(due, tid)
		}
	}
	sort.Slice(due, func(i, j int) bool { return e.in.Name(due[i]) < e.in.Name(due[j]) })
	for _, tid := range due {
		lot := e.pf.Positions[tid]
		if e.tm.CanSell(d, tid) {
			rec, err := e.pf.Sell(lot.Ticker, tid, d, e.cfg.SellSource, portfolio.SellHoldingPeriod, "")
			if err != nil {
				e.log.Warn("holding period exit failed", zap.String("ticker", lot.Ticker), zap.Error(err))
				continue
			}
			e.sl.Remove(tid)
			e.Events.Append(Event{Date: d, Type: EventSellFilled, Ticker: lot.Ticker, Details: rec.Reason})
		} else {
			e.enqueueSell(tid, lot.Ticker, d, "holding_period", "")
		}
	}
}

func (e *Engine) runBuys(d bars.Date) {
	weights, ok := e.pendingWeights[d]
	if !ok {
		return
	}
	delete(e.pendingWeights, d)

	sorted := append([]signalpipeline.TargetWeight(nil), weights...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight > sorted[j].Weight
		}
		return sorted[i].Ticker < sorted[j].Ticker
	})

	baseValue := e.pf.MarketValueAt(d)
	for _, tw := range sorted {
		if !e.tm.CanBuy(d, tw.TickerID) {
			e.log.Warn("target weight dropped: untradable on fill date", zap.String("ticker", tw.Ticker), zap.String("date", d))
			e.Trace.Record(Decision{Date: d, Ticker: tw.Ticker, Kind: DecisionCandidateSkipped, Reason: "untradable on fill date"})
			continue
		}
		targetNotional := baseValue.Mul(decimalFromFloat(tw.Weight))
		rec, err := e.pf.Buy(tw.Ticker, tw.TickerID, targetNotional, d, e.cfg.BuySource, e.cal, e.cfg.HoldingPeriod)
		if err != nil {
			e.log.Warn("buy skipped", zap.String("ticker", tw.Ticker), zap.Error(err))
			e.Trace.Record(Decision{Date: d, Ticker: tw.Ticker, Kind: DecisionCandidateSkipped, Reason: err.Error()})
			continue
		}
		e.Events.Append(Event{Date: d, Type: EventBuyFilled, Ticker: tw.Ticker, Details: rec.Reason})
		e.Trace.Record(Decision{Date: d, Ticker: tw.Ticker, Kind: DecisionCandidateAccepted, Reason: "filled"})
	}
}

func (e *Engine) runSignalPipeline(d bars.Date) error {
	features, ok := e.features.Features(d)
	if !ok {
		e.log.Warn("no features for signal date, skipping rebalance", zap.String("date", d))
		return apperrors.New(apperrors.KindMissing, "no features for date").WithDate(d)
	}
	fillDate, ok := e.cal.NextTradingDay(d)
	if !ok {
		return apperrors.New(apperrors.KindMissing, "no next trading day after signal date").WithDate(d)
	}

	held := func(tid bars.TickerID) bool {
		_, ok := e.pf.Positions[tid]
		return ok
	}
	var navFloats []float64
	for _, np := range e.pf.NavHistory {
		navFloats = append(navFloats, np.Nav)
	}

	// In batch-rebalance mode, only one tranche of the universe is due
	// each rebalance. ScopePerTranche narrows the candidate pool the
	// ranker and equity-curve/risk-budget scalers see before the split, so
	// each tranche is weighted as if it were the whole book. ScopeFullSet
	// (the default) runs the pipeline over the full universe first and
	// only then drops every candidate outside the due tranche, so a
	// ticker's weight reflects its rank against the entire universe
	// regardless of which tranche happens to be due that day.
	tranche, total, scope, batchMode := e.sched.CurrentTranche()
	rankUniverse := e.universe
	if batchMode && scope == scheduler.ScopePerTranche {
		rankUniverse = scheduler.Tranche(e.universe, tranche, total)
	}

	weights, err := e.pipeline.Run(d, fillDate, rankUniverse, features, held, e.in.Name, e.idx, e.cal, navFloats)
	if err != nil {
		return err
	}

	if batchMode && scope == scheduler.ScopeFullSet {
		due := make(map[bars.TickerID]bool)
		for _, tid := range scheduler.Tranche(e.universe, tranche, total) {
			due[tid] = true
		}
		narrowed := weights[:0]
		for _, w := range weights {
			if due[w.TickerID] {
				narrowed = append(narrowed, w)
			}
		}
		weights = narrowed
	}

	if len(weights) == 0 {
		e.Trace.Record(Decision{Date: d, Kind: DecisionBackfillExhausted, Reason: "no tradable candidates"})
	}
	e.pendingWeights[fillDate] = weights
	e.Events.Append(Event{Date: d, Type: EventRebalanceRun, Details: "candidates=" + itoa(len(weights))})
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
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
