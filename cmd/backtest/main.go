// Command backtest is the offline driver: load a bar table and a feature
// table, build the calendar and every engine sub-component, tick the
// engine across every trading day, then write the NAV series and trade
// log as CSV. Grounded on go-services/cmd/strategy_runner/main.go's
// flag-driven "load data, run, write output CSV" shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"ashare-backtest/internal/batchplan"
	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/clickhousestore"
	"ashare-backtest/internal/config"
	"ashare-backtest/internal/costmodel"
	"ashare-backtest/internal/engine"
	"ashare-backtest/internal/equitycurve"
	"ashare-backtest/internal/features"
	"ashare-backtest/internal/portfolio"
	"ashare-backtest/internal/priceindex"
	"ashare-backtest/internal/ranker"
	"ashare-backtest/internal/riskbudget"
	"ashare-backtest/internal/scheduler"
	"ashare-backtest/internal/signalpipeline"
	"ashare-backtest/internal/tradability"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"context"
)

func main() {
	barsCSV := flag.String("bars-csv", "", "path to a CSV bar table (mutually exclusive with -clickhouse-addr)")
	featuresCSV := flag.String("features-csv", "", "path to a CSV feature table (required)")
	chAddr := flag.String("clickhouse-addr", "", "ClickHouse address, e.g. localhost:9000")
	chDB := flag.String("clickhouse-db", "default", "ClickHouse database")
	configPath := flag.String("config", "", "path to a config.json; if empty, compiled defaults are used")
	tradesOut := flag.String("trades-out", "trades.csv", "output CSV path for the trade log")
	navOut := flag.String("nav-out", "nav.csv", "output CSV path for the NAV series")
	chunkSize := flag.Int("chunk-size", 0, "split the universe into chunks of at most this many tickers and run each as an independent backtest (0 disables chunking)")
	workers := flag.Int("workers", 1, "max concurrent chunk runs when -chunk-size is set")
	flag.Parse()

	if *featuresCSV == "" {
		fmt.Println("error: -features-csv is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = *loaded
	}

	allBars, err := loadBars(*barsCSV, *chAddr, *chDB)
	if err != nil {
		log.Fatalf("loading bars: %v", err)
	}
	log.Printf("loaded %d bars", len(allBars))

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer zlog.Sync()

	in := bars.NewInterner()
	universeTickers := make(map[string]bool)
	for _, b := range allBars {
		universeTickers[b.Ticker] = true
	}
	var tickerNames []string
	for t := range universeTickers {
		tickerNames = append(tickerNames, t)
	}
	sort.Strings(tickerNames)
	universe := make([]bars.TickerID, 0, len(tickerNames))
	for _, t := range tickerNames {
		universe = append(universe, in.Intern(t))
	}

	cal := bars.NewCalendar(uniqueDates(allBars))

	idx, err := priceindex.Build(allBars, in, zlog)
	if err != nil {
		log.Fatalf("building price index: %v", err)
	}
	tm := tradability.Build(allBars, in)

	fp, err := features.Load(*featuresCSV, in)
	if err != nil {
		log.Fatalf("loading features: %v", err)
	}

	dates := cal.Dates()

	// runChunk drives one independent backtest over a ticker subset, each
	// owning its own portfolio, queue, stop-loss monitor, scheduler and
	// signal pipeline. idx and tm are built once above and shared read-only
	// across every chunk, including concurrent ones under -chunk-size.
	runChunk := func(c batchplan.Chunk) error {
		pf := portfolio.New(decimal.NewFromFloat(cfg.InitialCapital), idx, costmodel.New(costmodel.DefaultConfig()), zlog)
		pq := pendingQueueFrom(cfg)
		sl := stopLossFrom(cfg, zlog)
		sched := scheduler.New(schedulerFrom(cfg), cal)

		r := &ranker.ScoreRanker{FeatureColumn: "score", TickerNames: in.Name}
		ecc := equitycurve.New(equityCurveFrom(cfg))
		rb := riskbudget.New(riskBudgetFrom(cfg), zlog)
		weightMethod := signalpipeline.WeightEqual
		if cfg.WeightMethod == config.WeightScore {
			weightMethod = signalpipeline.WeightScore
		}
		pipeline := signalpipeline.New(signalpipeline.Config{TopN: cfg.TopN, WeightMethod: weightMethod}, r, tm, ecc, rb, zlog)

		buySrc, sellSrc := portfolio.AtClose, portfolio.AtClose
		if cfg.BuyPrice == config.PriceOpen {
			buySrc = portfolio.AtOpen
		}
		if cfg.SellPrice == config.PriceOpen {
			sellSrc = portfolio.AtOpen
		}
		engineCfg := engine.Config{HoldingPeriod: cfg.HoldingPeriodDays, BuySource: buySrc, SellSource: sellSrc}
		e := engine.New(engineCfg, cal, in, idx, tm, pf, pq, sl, sched, pipeline, fp, c.Universe, zlog)

		for _, d := range dates {
			if err := e.Tick(d); err != nil {
				return fmt.Errorf("tick %s: %w", d, err)
			}
		}

		tradesPath, navPath := *tradesOut, *navOut
		if c.Label != "" {
			tradesPath = withSuffix(*tradesOut, c.Label)
			navPath = withSuffix(*navOut, c.Label)
		}
		if err := writeTradesCSV(tradesPath, pf.TradeLog); err != nil {
			return fmt.Errorf("writing trades csv: %w", err)
		}
		if err := writeNavCSV(navPath, pf.NavHistory); err != nil {
			return fmt.Errorf("writing nav csv: %w", err)
		}
		log.Printf("%s: ran %d trading days over %d tickers, wrote %s and %s", chunkName(c), len(dates), len(c.Universe), tradesPath, navPath)
		if len(pf.NavHistory) > 0 {
			final := pf.NavHistory[len(pf.NavHistory)-1]
			fmt.Printf("%s final NAV: %s (total value %s, cash %s)\n",
				chunkName(c), formatFloat(final.Nav), final.TotalValue.StringFixed(2), final.Cash.StringFixed(2))
		}
		return nil
	}

	if *chunkSize <= 0 {
		if err := runChunk(batchplan.Chunk{Universe: universe}); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	planner := batchplan.NewPlanner(*chunkSize, *workers)
	dispatcher := batchplan.NewDispatcher(planner, zlog)
	results, err := dispatcher.Run(universe, runChunk)
	if err != nil {
		log.Fatalf("dispatching chunks: %v", err)
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log.Printf("chunk %s failed: %v", r.Chunk.Label, r.Err)
		}
	}
	log.Printf("ran %d chunks across %d workers, %d failed", len(results), *workers, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func chunkName(c batchplan.Chunk) string {
	if c.Label == "" {
		return "run"
	}
	return c.Label
}

// withSuffix inserts "-label" before path's extension, e.g.
// withSuffix("trades.csv", "chunk-0") -> "trades-chunk-0.csv".
func withSuffix(path, label string) string {
	ext := ""
	base := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = path[i:]
		base = path[:i]
	}
	return base + "-" + label + ext
}

func loadBars(csvPath, chAddr, chDB string) ([]bars.Bar, error) {
	if chAddr != "" {
		store, err := clickhousestore.Open(context.Background(), clickhousestore.Options{Addr: chAddr, Database: chDB})
		if err != nil {
			return nil, err
		}
		return store.LoadBars()
	}
	if csvPath == "" {
		return nil, fmt.Errorf("one of -bars-csv or -clickhouse-addr is required")
	}
	src := &bars.CSVSource{Path: csvPath}
	return src.LoadBars()
}

func uniqueDates(allBars []bars.Bar) []bars.Date {
	seen := map[bars.Date]bool{}
	var out []bars.Date
	for _, b := range allBars {
		if !seen[b.Date] {
			seen[b.Date] = true
			out = append(out, b.Date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.6f", f)
}
