package engine

import "ashare-backtest/internal/bars"

// EventType enumerates the kinds of events the engine records to its
// append-only log. Grounded on the EventLog/Event pattern used elsewhere
// in this code's lineage for crypto order/fill/stop events, re-keyed here
// to this domain's tick operations.
type EventType int

const (
	EventBuyFilled EventType = iota
	EventSellFilled
	EventStopLossTriggered
	EventPendingEnqueued
	EventPendingExpired
	EventRebalanceRun
	EventNavUpdated
)

func (t EventType) String() string {
	switch t {
	case EventBuyFilled:
		return "buy_filled"
	case EventSellFilled:
		return "sell_filled"
	case EventStopLossTriggered:
		return "stop_loss_triggered"
	case EventPendingEnqueued:
		return "pending_enqueued"
	case EventPendingExpired:
		return "pending_expired"
	case EventRebalanceRun:
		return "rebalance_run"
	case EventNavUpdated:
		return "nav_updated"
	default:
		return "unknown"
	}
}

// Event is one append-only log entry.
type Event struct {
	Date    bars.Date
	Type    EventType
	Ticker  string
	Details string
}

// EventLog is the engine's append-only event log, separate from the trade
// log (TradeRecord covers only executed fills; EventLog also records
// stop-loss triggers, pending enqueues, rebalance runs and NAV updates).
// Skipped candidates and pending-order expirations are not appended here.
type EventLog struct {
	Events []Event
}

// Append adds an event to the log.
func (l *EventLog) Append(e Event) {
	l.Events = append(l.Events, e)
}
