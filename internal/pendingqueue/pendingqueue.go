// Package pendingqueue holds deferred sell (and, in principle, buy) orders
// that could not fill when triggered, retried each tick until they succeed,
// exceed max_retries, or exceed max_retry_days. Grounded on the original
// PendingOrderManager's add/retry/expire/statistics surface.
package pendingqueue

import (
	"sort"

	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/tradability"

	"go.uber.org/zap"
)

// OrderSide distinguishes a deferred buy from a deferred sell. Buys are
// never actually deferred in this engine (T-day backfill already
// guarantees T+1 tradability) — the side exists so the queue's retry
// logic is symmetric and testable in isolation.
type OrderSide int

const (
	SideBuy OrderSide = iota
	SideSell
)

// Order is one deferred order.
type Order struct {
	Ticker         string
	TickerID       bars.TickerID
	Side           OrderSide
	TargetNotional string // decimal string, buys only
	Shares         int64  // sells only
	OriginDate     bars.Date
	FirstEnqueued  bars.Date
	RetriesUsed    int
	Reason         string
	// SellTypeTag and StopLossKind carry the portfolio.SellType/trigger-kind
	// string for a deferred sell, so the engine can reconstruct the right
	// TradeRecord tags when the order eventually fills. Kept as plain
	// strings here to avoid this package depending on portfolio's types.
	SellTypeTag  string
	StopLossKind string
}

// Config bounds retry behavior.
type Config struct {
	MaxRetries   int
	MaxRetryDays int
}

// Queue is the FIFO-ordered set of pending orders, keyed by (ticker, side)
// so a second enqueue for the same (ticker, side) updates the existing
// entry instead of duplicating it.
type Queue struct {
	cfg    Config
	orders map[string]*Order // key: ticker + side
	order  []string          // FIFO key order
	log    *zap.Logger

	TotalAdded     int
	TotalExpired   int
	TotalSucceeded int
}

// New constructs an empty Queue.
func New(cfg Config, log *zap.Logger) *Queue {
	return &Queue{cfg: cfg, orders: make(map[string]*Order), log: log}
}

func key(ticker string, side OrderSide) string {
	if side == SideBuy {
		return ticker + "|buy"
	}
	return ticker + "|sell"
}

// Enqueue adds or updates a pending order for (ticker, side) on date d.
func (q *Queue) Enqueue(o Order, d bars.Date) {
	k := key(o.Ticker, o.Side)
	if existing, ok := q.orders[k]; ok {
		existing.RetriesUsed++
		existing.Reason = o.Reason
		return
	}
	o.FirstEnqueued = d
	o.RetriesUsed = 0
	q.orders[k] = &o
	q.order = append(q.order, k)
	q.TotalAdded++
}

// Has reports whether a pending order exists for (ticker, side).
func (q *Queue) Has(ticker string, side OrderSide) bool {
	_, ok := q.orders[key(ticker, side)]
	return ok
}

// Len reports the current pending count.
func (q *Queue) Len() int {
	return len(q.orders)
}

// All returns the pending orders in FIFO insertion order.
func (q *Queue) All() []*Order {
	out := make([]*Order, 0, len(q.order))
	for _, k := range q.order {
		if o, ok := q.orders[k]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Retry is invoked first in every tick. It iterates
// pending orders in FIFO order, drops expired ones, and returns the
// orders that are now tradable and should be executed by the caller
// (the caller is responsible for actually calling Portfolio.Sell/Buy and
// then MarkSuccess on a fill; Retry itself increments RetriesUsed for each
// order that is still untradable).
func (q *Queue) Retry(d bars.Date, firstEnqueuedDays func(first, current bars.Date) int, tm *tradability.Map) (toFill []*Order) {
	var expiredKeys []string
	fifo := append([]string(nil), q.order...)
	for _, k := range fifo {
		o, ok := q.orders[k]
		if !ok {
			continue
		}
		if o.RetriesUsed > q.cfg.MaxRetries {
			q.logExpire(o, "max_retries exceeded")
			expiredKeys = append(expiredKeys, k)
			continue
		}
		if firstEnqueuedDays(o.FirstEnqueued, d) > q.cfg.MaxRetryDays {
			q.logExpire(o, "max_retry_days exceeded")
			expiredKeys = append(expiredKeys, k)
			continue
		}

		var tradable bool
		if o.Side == SideBuy {
			tradable = tm.CanBuy(d, o.TickerID)
		} else {
			tradable = tm.CanSell(d, o.TickerID)
		}
		if tradable {
			toFill = append(toFill, o)
		} else {
			o.RetriesUsed++
		}
	}
	for _, k := range expiredKeys {
		q.removeKey(k)
		q.TotalExpired++
	}
	// Deterministic ticker-string ordering for the orders handed back to
	// the caller this tick.
	sort.Slice(toFill, func(i, j int) bool { return toFill[i].Ticker < toFill[j].Ticker })
	return toFill
}

func (q *Queue) logExpire(o *Order, reason string) {
	if q.log != nil {
		q.log.Info("pending order expired",
			zap.String("ticker", o.Ticker), zap.String("reason", reason),
			zap.Int("retries_used", o.RetriesUsed))
	}
}

func (q *Queue) removeKey(k string) {
	delete(q.orders, k)
	for i, kk := range q.order {
		if kk == k {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// MarkSuccess removes an order after it has been filled by the caller.
func (q *Queue) MarkSuccess(ticker string, side OrderSide) {
	k := key(ticker, side)
	if _, ok := q.orders[k]; ok {
		q.removeKey(k)
		q.TotalSucceeded++
	}
}

// Snapshot returns the queue's pending orders in FIFO order, for
// serialization to pending_sells.json.
func (q *Queue) Snapshot() []Order {
	out := make([]Order, 0, len(q.order))
	for _, k := range q.order {
		if o, ok := q.orders[k]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// Restore replaces the queue's contents from a deserialized snapshot,
// preserving FIFO order. Totals are not part of the snapshot; they reset
// because they are lifetime counters logged per run, not required for
// correctness of the reloaded queue.
func (q *Queue) Restore(orders []Order) {
	q.orders = make(map[string]*Order, len(orders))
	q.order = make([]string, 0, len(orders))
	for i := range orders {
		o := orders[i]
		k := key(o.Ticker, o.Side)
		q.orders[k] = &o
		q.order = append(q.order, k)
	}
}
