// Package bars holds the Bar/TradingCalendar data model and the BarSource
// loader interface behind which the external data provider lives.
package bars

import "github.com/shopspring/decimal"

// TickerID is an interned handle for a ticker string, used as the map key
// everywhere a ticker participates in a hot lookup (PriceIndex,
// TradabilityMap, Portfolio, StopLossMonitor).
type TickerID int32

// Date is a trading-calendar day in YYYYMMDD form, e.g. "20230103".
type Date = string

// Bar is one (Ticker, Date) daily observation.
type Bar struct {
	Ticker       string
	Date         Date
	Open         decimal.Decimal
	Close        decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	OpenAdj      decimal.Decimal
	CloseAdj     decimal.Decimal
	HasOpenAdj   bool
	HasCloseAdj  bool
	Volume       decimal.Decimal
	Amount       decimal.Decimal
	IsST         bool
	IsSuspended  bool
	IsLimitUp    bool
	IsLimitDown  bool
	PctChange    decimal.Decimal
	HasPctChange bool
}

// Interner assigns stable TickerIDs to ticker strings as they are first
// observed. Not safe for concurrent use; build once at engine construction.
type Interner struct {
	idOf  map[string]TickerID
	names []string
}

// NewInterner returns an empty Interner.
func NewInterner() *Interner {
	return &Interner{idOf: make(map[string]TickerID)}
}

// Intern returns the TickerID for ticker, assigning a new one if this is
// the first time ticker has been seen.
func (in *Interner) Intern(ticker string) TickerID {
	if id, ok := in.idOf[ticker]; ok {
		return id
	}
	id := TickerID(len(in.names))
	in.idOf[ticker] = id
	in.names = append(in.names, ticker)
	return id
}

// Lookup returns the TickerID for ticker without interning, and whether it
// was found.
func (in *Interner) Lookup(ticker string) (TickerID, bool) {
	id, ok := in.idOf[ticker]
	return id, ok
}

// Name returns the ticker string for id. Panics if id is out of range,
// which indicates a caller bug (an ID from a different Interner).
func (in *Interner) Name(id TickerID) string {
	return in.names[id]
}

// Len reports how many distinct tickers have been interned.
func (in *Interner) Len() int {
	return len(in.names)
}
