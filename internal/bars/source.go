package bars

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"ashare-backtest/internal/apperrors"

	"github.com/shopspring/decimal"
)

// BarSource is the in-scope loader interface behind which the out-of-scope
// external data provider (raw ingestion, cleaning, feature construction)
// lives. Implementations need only return every bar they have; the engine
// builds its own indices from the result.
type BarSource interface {
	LoadBars() ([]Bar, error)
}

// CSVSource reads bars from a single CSV file with header row
// ticker,trade_date,open,close,high,low,open_adj,close_adj,volume,amount,
// is_st,is_suspended,is_limit_up,is_limit_down,pct_change. The *_adj,
// is_st, is_suspended, is_limit_up, is_limit_down and pct_change columns
// are optional. A missing *_adj or pct_change value is recorded on the Bar
// (HasOpenAdj, HasCloseAdj, HasPctChange); a missing is_* column reads as
// false.
type CSVSource struct {
	Path string
}

// LoadBars implements BarSource.
func (s *CSVSource) LoadBars() ([]Bar, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, apperrors.New(apperrors.KindDataIntegrity, err.Error())
	}
	defer f.Close()
	return parseCSVBars(f)
}

func parseCSVBars(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, apperrors.New(apperrors.KindDataIntegrity, "empty bar table: "+err.Error())
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	required := []string{"ticker", "trade_date", "open", "close", "high", "low", "volume", "amount"}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, apperrors.New(apperrors.KindDataIntegrity, "bar table missing required column "+name)
		}
	}

	var out []Bar
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.New(apperrors.KindDataIntegrity, err.Error())
		}
		b := Bar{
			Ticker: strings.TrimSpace(row[col["ticker"]]),
			Date:   strings.TrimSpace(row[col["trade_date"]]),
		}
		var parseErr error
		b.Open, parseErr = decimalAt(row, col, "open")
		if parseErr != nil {
			return nil, dataErr(b, parseErr)
		}
		b.Close, parseErr = decimalAt(row, col, "close")
		if parseErr != nil {
			return nil, dataErr(b, parseErr)
		}
		b.High, parseErr = decimalAt(row, col, "high")
		if parseErr != nil {
			return nil, dataErr(b, parseErr)
		}
		b.Low, parseErr = decimalAt(row, col, "low")
		if parseErr != nil {
			return nil, dataErr(b, parseErr)
		}
		b.Volume, parseErr = decimalAt(row, col, "volume")
		if parseErr != nil {
			return nil, dataErr(b, parseErr)
		}
		b.Amount, parseErr = decimalAt(row, col, "amount")
		if parseErr != nil {
			return nil, dataErr(b, parseErr)
		}
		if idx, ok := col["open_adj"]; ok && strings.TrimSpace(row[idx]) != "" {
			b.OpenAdj, parseErr = decimalAt(row, col, "open_adj")
			if parseErr != nil {
				return nil, dataErr(b, parseErr)
			}
			b.HasOpenAdj = true
		}
		if idx, ok := col["close_adj"]; ok && strings.TrimSpace(row[idx]) != "" {
			b.CloseAdj, parseErr = decimalAt(row, col, "close_adj")
			if parseErr != nil {
				return nil, dataErr(b, parseErr)
			}
			b.HasCloseAdj = true
		}
		b.IsST = boolAt(row, col, "is_st")
		b.IsSuspended = boolAt(row, col, "is_suspended")
		b.IsLimitUp = boolAt(row, col, "is_limit_up")
		b.IsLimitDown = boolAt(row, col, "is_limit_down")
		if idx, ok := col["pct_change"]; ok && strings.TrimSpace(row[idx]) != "" {
			b.PctChange, parseErr = decimalAt(row, col, "pct_change")
			if parseErr != nil {
				return nil, dataErr(b, parseErr)
			}
			b.HasPctChange = true
		}
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out, nil
}

func decimalAt(row []string, col map[string]int, name string) (decimal.Decimal, error) {
	idx, ok := col[name]
	if !ok {
		return decimal.Zero, nil
	}
	v := strings.TrimSpace(row[idx])
	if v == "" {
		return decimal.Zero, fmt.Errorf("empty value for required column %s", name)
	}
	return decimal.NewFromString(v)
}

func boolAt(row []string, col map[string]int, name string) bool {
	idx, ok := col[name]
	if !ok {
		return false
	}
	v := strings.TrimSpace(row[idx])
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v == "1" || strings.EqualFold(v, "true")
	}
	return b
}

func dataErr(b Bar, cause error) error {
	return apperrors.New(apperrors.KindDataIntegrity, cause.Error()).WithTicker(b.Ticker).WithDate(b.Date)
}

// Gap reports a missing expected trading date for a ticker.
type Gap struct {
	Ticker string
	Date   Date
}

// DetectGaps reports, for every (ticker, date) in the calendar's trading
// range that should have a bar but does not, a Gap entry. present is keyed
// "ticker|date". Generalized from millisecond-granularity intraday gap
// detection to whole trading-calendar dates: a ticker's coverage window is
// inferred from the first and last date it does appear for, so tickers that
// list or delist mid-calendar are not flagged outside their own window.
func DetectGaps(cal *Calendar, present map[string]bool, tickers []string) []Gap {
	firstSeen := map[string]int{}
	lastSeen := map[string]int{}
	for _, t := range tickers {
		firstSeen[t] = -1
		lastSeen[t] = -1
	}
	dates := cal.Dates()
	for i, d := range dates {
		for _, t := range tickers {
			if present[t+"|"+d] {
				if firstSeen[t] == -1 {
					firstSeen[t] = i
				}
				lastSeen[t] = i
			}
		}
	}
	var gaps []Gap
	for _, t := range tickers {
		if firstSeen[t] == -1 {
			continue
		}
		for i := firstSeen[t]; i <= lastSeen[t]; i++ {
			d := dates[i]
			if !present[t+"|"+d] {
				gaps = append(gaps, Gap{Ticker: t, Date: d})
			}
		}
	}
	return gaps
}
