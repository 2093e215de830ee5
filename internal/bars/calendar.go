package bars

import "fmt"

// Calendar wraps the externally supplied, strictly increasing sequence of
// YYYYMMDD trading dates. The engine only ever steps through dates that
// appear in this sequence. Adapted from the intraday Session/Calendar
// pairing used elsewhere in this code's lineage for open/closed checks,
// generalized here to whole trading days instead of intraday windows.
type Calendar struct {
	dates   []Date
	indexOf map[Date]int
}

// NewCalendar builds a Calendar from an ordered, strictly increasing slice
// of YYYYMMDD dates. The caller owns validation of ordering; NewCalendar
// only builds the lookup index.
func NewCalendar(dates []Date) *Calendar {
	idx := make(map[Date]int, len(dates))
	for i, d := range dates {
		idx[d] = i
	}
	return &Calendar{dates: dates, indexOf: idx}
}

// IsTradingDay reports whether d appears in the calendar.
func (c *Calendar) IsTradingDay(d Date) bool {
	_, ok := c.indexOf[d]
	return ok
}

// NextTradingDay returns the first calendar date strictly after d. If d is
// itself a trading day, this is the following day; if d is not a trading
// day, this is the next trading day after d in natural order. ok is false
// if there is no later date in the calendar.
func (c *Calendar) NextTradingDay(d Date) (Date, bool) {
	if idx, ok := c.indexOf[d]; ok {
		if idx+1 < len(c.dates) {
			return c.dates[idx+1], true
		}
		return "", false
	}
	// d is not itself a trading day: find the first date greater than d.
	for _, cand := range c.dates {
		if cand > d {
			return cand, true
		}
	}
	return "", false
}

// RollForward returns d if it is a trading day, otherwise the next trading
// day strictly after d. ok is false if no such date exists.
func (c *Calendar) RollForward(d Date) (Date, bool) {
	if c.IsTradingDay(d) {
		return d, true
	}
	for _, cand := range c.dates {
		if cand > d {
			return cand, true
		}
	}
	return "", false
}

// AddTradingDays returns the trading date n positions after d in the
// calendar (n may be negative). ok is false if d is not a trading day or
// the result falls outside the calendar's range.
func (c *Calendar) AddTradingDays(d Date, n int) (Date, bool) {
	idx, ok := c.indexOf[d]
	if !ok {
		return "", false
	}
	target := idx + n
	if target < 0 || target >= len(c.dates) {
		return "", false
	}
	return c.dates[target], true
}

// TradingDaysBetween returns the count of trading days in (from, to], i.e.
// excluding from, including to. Both must be calendar dates and to >= from.
func (c *Calendar) TradingDaysBetween(from, to Date) (int, error) {
	fi, ok := c.indexOf[from]
	if !ok {
		return 0, fmt.Errorf("bars: %q is not a trading day", from)
	}
	ti, ok := c.indexOf[to]
	if !ok {
		return 0, fmt.Errorf("bars: %q is not a trading day", to)
	}
	if ti < fi {
		return 0, fmt.Errorf("bars: %q precedes %q", to, from)
	}
	return ti - fi, nil
}

// IndexOf returns the zero-based position of d in the calendar.
func (c *Calendar) IndexOf(d Date) (int, bool) {
	idx, ok := c.indexOf[d]
	return idx, ok
}

// Dates returns the full ordered date sequence. Callers must not mutate it.
func (c *Calendar) Dates() []Date {
	return c.dates
}

// First returns the first trading day in the calendar.
func (c *Calendar) First() (Date, bool) {
	if len(c.dates) == 0 {
		return "", false
	}
	return c.dates[0], true
}
