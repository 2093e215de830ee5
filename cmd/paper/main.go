// Command paper drives one trading day of the paper-trading workspace at a
// time: write the starting config, run a trade date, or inspect current
// positions. Grounded on go-services/cmd/strategy_runner/main.go's plain
// flag-driven CLI style (manual required-flag checks, log.Fatalf on fatal
// errors), extended here with one flag.NewFlagSet per verb since that
// tool and its siblings are all single-verb.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/clickhousestore"
	"ashare-backtest/internal/config"
	"ashare-backtest/internal/features"
	"ashare-backtest/internal/paperrunner"
	"ashare-backtest/internal/ranker"
	"ashare-backtest/internal/statusserver"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "config":
		runConfig(os.Args[2:])
	case "run":
		runRun(os.Args[2:])
	case "positions":
		runPositions(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: paper <config|run|positions|serve> [flags]")
	fmt.Println("  paper config -root <dir> [tunable flags...]     write the starting config.json")
	fmt.Println("  paper run -root <dir> -trade-date YYYYMMDD      run one trade date")
	fmt.Println("  paper positions -root <dir> -trade-date YYYYMMDD  print current positions")
	fmt.Println("  paper serve -root <dir> [-bars-csv <path>]      serve /healthz, /metrics, /positions")
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	root := fs.String("root", "", "paper workspace root directory (required)")
	topN := fs.Int("top-n", 0, "override default top_n")
	initialCapital := fs.Float64("initial-capital", 0, "override default initial_capital")
	rebalanceFreq := fs.Int("rebalance-freq", 0, "override default rebalance_freq")
	holdingPeriod := fs.Int("holding-period-days", 0, "override default holding_period_days")
	stopLoss := fs.Bool("stop-loss-enabled", false, "enable the drawdown stop-loss")
	stopLossPct := fs.Float64("stop-loss-drawdown-pct", 0, "stop-loss drawdown percentage")
	fs.Parse(args)

	if *root == "" {
		fmt.Println("error: -root is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg := config.Default()
	if *topN > 0 {
		cfg.TopN = *topN
	}
	if *initialCapital > 0 {
		cfg.InitialCapital = *initialCapital
	}
	if *rebalanceFreq > 0 {
		cfg.RebalanceFreq = *rebalanceFreq
	}
	if *holdingPeriod > 0 {
		cfg.HoldingPeriodDays = *holdingPeriod
	}
	if *stopLoss {
		cfg.StopLossEnabled = true
		cfg.StopLossDrawdownPct = *stopLossPct
	}

	run := newRunner(*root)
	if err := run.WriteConfig(&cfg); err != nil {
		log.Fatalf("writing config: %v", err)
	}
	log.Printf("wrote config.json under %s", *root)
}

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	root := fs.String("root", "", "paper workspace root directory (required)")
	tradeDate := fs.String("trade-date", "", "trade date YYYYMMDD (required)")
	barsCSV := fs.String("bars-csv", "", "path to a CSV bar table (mutually exclusive with -clickhouse-addr)")
	featuresCSV := fs.String("features-csv", "", "path to a CSV feature table")
	chAddr := fs.String("clickhouse-addr", "", "ClickHouse address, e.g. localhost:9000")
	chDB := fs.String("clickhouse-db", "default", "ClickHouse database")
	fs.Parse(args)

	if *root == "" || *tradeDate == "" {
		fmt.Println("error: -root and -trade-date are required")
		fs.Usage()
		os.Exit(1)
	}

	zlog, _ := zap.NewProduction()
	defer zlog.Sync()

	allBars, err := loadBars(*barsCSV, *chAddr, *chDB)
	if err != nil {
		log.Fatalf("loading bars: %v", err)
	}
	in := bars.NewInterner()
	var universeTickers []string
	seen := map[string]bool{}
	for _, b := range allBars {
		if !seen[b.Ticker] {
			seen[b.Ticker] = true
			universeTickers = append(universeTickers, b.Ticker)
		}
	}
	sort.Strings(universeTickers)
	universe := make([]bars.TickerID, 0, len(universeTickers))
	for _, t := range universeTickers {
		universe = append(universe, in.Intern(t))
	}
	cal := bars.NewCalendar(uniqueDates(allBars))

	var fp paperrunner.FeatureProvider
	if *featuresCSV != "" {
		fcsv, err := features.Load(*featuresCSV, in)
		if err != nil {
			log.Fatalf("loading features: %v", err)
		}
		fp = fcsv
	}

	r := &ranker.ScoreRanker{FeatureColumn: "score", TickerNames: in.Name}
	run := paperrunner.New(*root, cal, in, allBars, universe, nil, fp, r, zlog)

	if err := run.Run(bars.Date(*tradeDate)); err != nil {
		log.Fatalf("run failed: %v", err)
	}
	log.Printf("trade date %s processed", *tradeDate)
}

func runPositions(args []string) {
	fs := flag.NewFlagSet("positions", flag.ExitOnError)
	root := fs.String("root", "", "paper workspace root directory (required)")
	tradeDate := fs.String("trade-date", "", "trade date YYYYMMDD (required)")
	barsCSV := fs.String("bars-csv", "", "path to a CSV bar table")
	chAddr := fs.String("clickhouse-addr", "", "ClickHouse address")
	chDB := fs.String("clickhouse-db", "default", "ClickHouse database")
	fs.Parse(args)

	if *root == "" || *tradeDate == "" {
		fmt.Println("error: -root and -trade-date are required")
		fs.Usage()
		os.Exit(1)
	}

	zlog, _ := zap.NewProduction()
	defer zlog.Sync()

	allBars, err := loadBars(*barsCSV, *chAddr, *chDB)
	if err != nil {
		log.Fatalf("loading bars: %v", err)
	}
	in := bars.NewInterner()
	cal := bars.NewCalendar(uniqueDates(allBars))
	run := paperrunner.New(*root, cal, in, allBars, nil, nil, nil, nil, zlog)

	positions, err := run.Positions(bars.Date(*tradeDate))
	if err != nil {
		log.Fatalf("positions failed: %v", err)
	}
	if len(positions) == 0 {
		fmt.Println("no open positions")
		return
	}
	fmt.Printf("%-10s %10s %12s %12s %12s %12s\n", "ticker", "shares", "buy_price", "mkt_price", "mkt_value", "unreal_pnl")
	for _, p := range positions {
		fmt.Printf("%-10s %10d %12s %12s %12s %12s\n",
			p.Ticker, p.Shares, p.BuyPrice.StringFixed(2), p.MarketPrice.StringFixed(2),
			p.MarketValue.StringFixed(2), p.UnrealizedPnl.StringFixed(2))
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	root := fs.String("root", "", "paper workspace root directory (required)")
	barsCSV := fs.String("bars-csv", "", "path to a CSV bar table")
	chAddr := fs.String("clickhouse-addr", "", "ClickHouse address")
	chDB := fs.String("clickhouse-db", "default", "ClickHouse database")
	addr := fs.String("addr", ":8090", "address to listen on")
	fs.Parse(args)

	if *root == "" {
		fmt.Println("error: -root is required")
		fs.Usage()
		os.Exit(1)
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer zlog.Sync()

	allBars, err := loadBars(*barsCSV, *chAddr, *chDB)
	if err != nil {
		log.Fatalf("loading bars: %v", err)
	}
	in := bars.NewInterner()
	cal := bars.NewCalendar(uniqueDates(allBars))
	run := paperrunner.New(*root, cal, in, allBars, nil, nil, nil, nil, zlog)

	srv := statusserver.New(run, zlog)
	if err := srv.Run(*addr); err != nil {
		log.Fatalf("status server: %v", err)
	}
}

func newRunner(root string) *paperrunner.Runner {
	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	return paperrunner.New(root, bars.NewCalendar(nil), bars.NewInterner(), nil, nil, nil, nil, nil, zlog)
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
