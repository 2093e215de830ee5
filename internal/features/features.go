// Package features provides a reference engine.FeatureProvider backed by a
// flat CSV file, the feature-table analogue of bars.CSVSource: the real
// feature construction pipeline (technical indicators, fundamentals, a
// fitted model's predictions) is an external collaborator, out of scope
// here, but the offline driver and paper runner still need something
// concrete to build and test against.
package features

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"ashare-backtest/internal/apperrors"
	"ashare-backtest/internal/bars"
)

// CSVProvider reads a feature table with header row
// trade_date,ticker,<feature column>,<feature column>,... and serves it
// through engine.FeatureProvider's per-date lookup.
type CSVProvider struct {
	rows map[bars.Date]map[bars.TickerID]map[string]float64
}

// Load reads path and interns every ticker it sees through in, returning a
// CSVProvider ready to serve Features. Rows for tickers outside the
// universe the caller later queries are harmless; they are simply never
// looked up.
func Load(path string, in *bars.Interner) (*CSVProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.New(apperrors.KindDataIntegrity, err.Error())
	}
	defer f.Close()
	return parseCSV(f, in)
}

func parseCSV(r io.Reader, in *bars.Interner) (*CSVProvider, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, apperrors.New(apperrors.KindDataIntegrity, "empty feature table: "+err.Error())
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	dateIdx, ok := col["trade_date"]
	if !ok {
		return nil, apperrors.New(apperrors.KindDataIntegrity, "feature table missing required column trade_date")
	}
	tickerIdx, ok := col["ticker"]
	if !ok {
		return nil, apperrors.New(apperrors.KindDataIntegrity, "feature table missing required column ticker")
	}
	var featureCols []string
	for name, idx := range col {
		if idx != dateIdx && idx != tickerIdx {
			featureCols = append(featureCols, name)
		}
	}

	rows := make(map[bars.Date]map[bars.TickerID]map[string]float64)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.New(apperrors.KindDataIntegrity, err.Error())
		}
		d := bars.Date(strings.TrimSpace(row[dateIdx]))
		ticker := strings.TrimSpace(row[tickerIdx])
		tid := in.Intern(ticker)

		perTicker := make(map[string]float64, len(featureCols))
		for _, name := range featureCols {
			v := strings.TrimSpace(row[col[name]])
			if v == "" {
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, apperrors.New(apperrors.KindDataIntegrity, "feature column "+name+": "+err.Error()).WithTicker(ticker).WithDate(d)
			}
			perTicker[name] = f
		}
		if rows[d] == nil {
			rows[d] = make(map[bars.TickerID]map[string]float64)
		}
		rows[d][tid] = perTicker
	}
	return &CSVProvider{rows: rows}, nil
}

// Features implements engine.FeatureProvider.
func (p *CSVProvider) Features(d bars.Date) (map[bars.TickerID]map[string]float64, bool) {
	rows, ok := p.rows[d]
	return rows, ok
}

// Dates reports every trade date the provider has a feature row for,
// ascending, so a driver can choose which dates to treat as rebalance
// candidates without guessing at calendar coverage.
func (p *CSVProvider) Dates() []bars.Date {
	out := make([]bars.Date, 0, len(p.rows))
	for d := range p.rows {
		out = append(out, d)
	}
	sortDates(out)
	return out
}

func sortDates(d []bars.Date) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j-1] > d[j]; j-- {
			d[j-1], d[j] = d[j], d[j-1]
		}
	}
}
