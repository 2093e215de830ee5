// Package priceindex provides constant-time lookup of trade_price (the
// unadjusted price at which a real trade executes) and pnl_price (the
// back-adjusted price used for return attribution) by (date, ticker).
//
// Keyed by date then ticker (a per-date map from TickerID to row), plus
// per-ticker ascending date lists that back the stale-price fallback.
package priceindex

import (
	"sort"

	"ashare-backtest/internal/apperrors"
	"ashare-backtest/internal/bars"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AdjSource selects which column backs a price lookup.
type AdjSource int

const (
	// Unadjusted selects the actual tradable price (close/open).
	Unadjusted AdjSource = iota
	// Adjusted selects the back-adjusted price (close_adj/open_adj).
	Adjusted
)

type row struct {
	tradeClose decimal.Decimal
	pnlClose   decimal.Decimal
	tradeOpen  decimal.Decimal
	pnlOpen    decimal.Decimal
}

// PriceIndex is immutable after Build and may be shared freely across
// goroutines: every lookup is a read-only map/slice access, with no
// lazily-populated cache to synchronize.
type PriceIndex struct {
	rows        map[bars.Date]map[bars.TickerID]row
	dates       []bars.Date
	tickerDates map[bars.TickerID][]bars.Date // ascending dates with a bar, per ticker
}

// Build constructs the index, rejecting a bar with an empty ticker. Close
// values are not validated here: a zero close is indexed as given
// (Portfolio.Buy rejects a non-positive trade price). If close_adj is missing for a bar, a warning is logged and close is used
// as that bar's pnl_price. Analogously for open/open_adj. The per-ticker
// date lists backing the mark-to-market fallback are also built here, so
// PnlPrice/PnlOpenPrice never need to mutate the index on a later read.
func Build(allBars []bars.Bar, in *bars.Interner, log *zap.Logger) (*PriceIndex, error) {
	idx := &PriceIndex{
		rows: make(map[bars.Date]map[bars.TickerID]row),
	}
	dateSet := make(map[bars.Date]struct{})
	tickerDateSet := make(map[bars.TickerID]map[bars.Date]struct{})
	for _, b := range allBars {
		if b.Close.IsZero() && b.Close.Sign() == 0 && b.Ticker == "" {
			return nil, apperrors.New(apperrors.KindDataIntegrity, "bar missing ticker")
		}
		tid := in.Intern(b.Ticker)

		pnlClose := b.Close
		if b.HasCloseAdj {
			pnlClose = b.CloseAdj
		} else {
			log.Warn("close_adj missing, falling back to unadjusted close",
				zap.String("ticker", b.Ticker), zap.String("date", b.Date))
		}
		pnlOpen := b.Open
		if b.HasOpenAdj {
			pnlOpen = b.OpenAdj
		} else {
			log.Warn("open_adj missing, falling back to unadjusted open",
				zap.String("ticker", b.Ticker), zap.String("date", b.Date))
		}

		if _, ok := idx.rows[b.Date]; !ok {
			idx.rows[b.Date] = make(map[bars.TickerID]row)
			dateSet[b.Date] = struct{}{}
		}
		idx.rows[b.Date][tid] = row{
			tradeClose: b.Close,
			pnlClose:   pnlClose,
			tradeOpen:  b.Open,
			pnlOpen:    pnlOpen,
		}

		if _, ok := tickerDateSet[tid]; !ok {
			tickerDateSet[tid] = make(map[bars.Date]struct{})
		}
		tickerDateSet[tid][b.Date] = struct{}{}
	}
	idx.dates = make([]bars.Date, 0, len(dateSet))
	for d := range dateSet {
		idx.dates = append(idx.dates, d)
	}
	sort.Strings(idx.dates)

	idx.tickerDates = make(map[bars.TickerID][]bars.Date, len(tickerDateSet))
	for tid, set := range tickerDateSet {
		ds := make([]bars.Date, 0, len(set))
		for d := range set {
			ds = append(ds, d)
		}
		sort.Strings(ds)
		idx.tickerDates[tid] = ds
	}
	return idx, nil
}

// lastBarBefore returns the most recent date strictly before d on which t
// has a bar, the asOf date PnlPrice/PnlOpenPrice fall back to.
func (p *PriceIndex) lastBarBefore(t bars.TickerID, d bars.Date) (bars.Date, bool) {
	ds := p.tickerDates[t]
	i := sort.Search(len(ds), func(i int) bool { return ds[i] >= d })
	if i == 0 {
		return "", false
	}
	return ds[i-1], true
}

// TradePrice returns the unadjusted close price for (D, t), or
// ErrorKind::Missing if no bar exists for that pair.
func (p *PriceIndex) TradePrice(d bars.Date, t bars.TickerID) (decimal.Decimal, error) {
	byTicker, ok := p.rows[d]
	if !ok {
		return decimal.Zero, apperrors.New(apperrors.KindMissing, "no bars for date").WithDate(d)
	}
	r, ok := byTicker[t]
	if !ok {
		return decimal.Zero, apperrors.New(apperrors.KindMissing, "no bar for ticker on date").WithDate(d)
	}
	return r.tradeClose, nil
}

// OpenPrice returns the unadjusted open price for (D, t), or
// ErrorKind::Missing if no bar exists for that pair, mirroring TradePrice
// for the open-price fill convention. It does not fall back to close: the
// bar's open is returned as is, even when zero.
func (p *PriceIndex) OpenPrice(d bars.Date, t bars.TickerID) (decimal.Decimal, error) {
	byTicker, ok := p.rows[d]
	if !ok {
		return decimal.Zero, apperrors.New(apperrors.KindMissing, "no bars for date").WithDate(d)
	}
	r, ok := byTicker[t]
	if !ok {
		return decimal.Zero, apperrors.New(apperrors.KindMissing, "no bar for ticker on date").WithDate(d)
	}
	return r.tradeOpen, nil
}

// PnlPrice returns the back-adjusted close price for (D, t). It never
// fails once the index is built: if (D, t) has no bar, it returns the last
// known pnl_price for t (mark-to-market fallback) and reports found=false
// so the caller can log the "reused stale price" warning itself.
func (p *PriceIndex) PnlPrice(d bars.Date, t bars.TickerID) (price decimal.Decimal, found bool) {
	if byTicker, ok := p.rows[d]; ok {
		if r, ok := byTicker[t]; ok {
			return r.pnlClose, true
		}
	}
	asOf, ok := p.lastBarBefore(t, d)
	if !ok {
		return decimal.Zero, false
	}
	return p.rows[asOf][t].pnlClose, false
}

// PnlOpenPrice is the open-price analogue of PnlPrice, used when
// sell_price/buy_price is configured to "open".
func (p *PriceIndex) PnlOpenPrice(d bars.Date, t bars.TickerID) (decimal.Decimal, bool) {
	if byTicker, ok := p.rows[d]; ok {
		if r, ok := byTicker[t]; ok {
			return r.pnlOpen, true
		}
	}
	asOf, ok := p.lastBarBefore(t, d)
	if !ok {
		return decimal.Zero, false
	}
	return p.rows[asOf][t].pnlOpen, false
}

// HasBar reports whether a bar exists for (D, t).
func (p *PriceIndex) HasBar(d bars.Date, t bars.TickerID) bool {
	byTicker, ok := p.rows[d]
	if !ok {
		return false
	}
	_, ok = byTicker[t]
	return ok
}
