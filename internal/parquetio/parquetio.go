// Package parquetio reads and writes the Parquet files in the paper
// workspace's pending/, trades/, and nav/ directories. Grounded on the
// schema-building idiom in services/arrowpipeline/pipeline.go (an
// arrow.Schema built field-by-field, one array.Builder per column), but
// targets Parquet rather than Arrow IPC, per the paper-mode file layout's
// exact format requirement. Money columns are written as decimal-string
// UTF8 columns, never float64, so round-tripping a file never loses a
// cent of precision.
package parquetio

import (
	"context"
	"fmt"
	"os"

	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/portfolio"
	"ashare-backtest/internal/signalpipeline"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/shopspring/decimal"
)

var pool = memory.NewGoAllocator()

// tradesSchema mirrors portfolio.TradeRecord.
var tradesSchema = arrow.NewSchema([]arrow.Field{
	{Name: "date", Type: arrow.BinaryTypes.String},
	{Name: "ticker", Type: arrow.BinaryTypes.String},
	{Name: "side", Type: arrow.BinaryTypes.String},
	{Name: "shares", Type: arrow.PrimitiveTypes.Int64},
	{Name: "trade_price", Type: arrow.BinaryTypes.String},
	{Name: "pnl_price", Type: arrow.BinaryTypes.String},
	{Name: "gross_amount", Type: arrow.BinaryTypes.String},
	{Name: "commission", Type: arrow.BinaryTypes.String},
	{Name: "stamp_tax", Type: arrow.BinaryTypes.String},
	{Name: "slippage", Type: arrow.BinaryTypes.String},
	{Name: "reason", Type: arrow.BinaryTypes.String},
	{Name: "buy_trade_price", Type: arrow.BinaryTypes.String},
	{Name: "buy_pnl_price", Type: arrow.BinaryTypes.String},
	{Name: "pnl_profit_amount", Type: arrow.BinaryTypes.String},
	{Name: "pnl_profit_pct", Type: arrow.PrimitiveTypes.Float64},
	{Name: "sell_type", Type: arrow.BinaryTypes.String},
	{Name: "stop_loss_kind", Type: arrow.BinaryTypes.String},
}, nil)

// navSchema mirrors portfolio.NavPoint.
var navSchema = arrow.NewSchema([]arrow.Field{
	{Name: "date", Type: arrow.BinaryTypes.String},
	{Name: "cash", Type: arrow.BinaryTypes.String},
	{Name: "market_value", Type: arrow.BinaryTypes.String},
	{Name: "total_value", Type: arrow.BinaryTypes.String},
	{Name: "nav", Type: arrow.PrimitiveTypes.Float64},
	{Name: "daily_return", Type: arrow.PrimitiveTypes.Float64},
	{Name: "has_daily_return", Type: arrow.FixedWidthTypes.Boolean},
}, nil)

// pendingWeightsSchema backs paper/pending/{date}.parquet: the target
// weights the T0 sub-step computed for date D, awaiting execution by the
// T1 sub-step on D — the cross-process handoff that lets run --trade-date
// D on a freshly restarted process pick up where a prior invocation's
// signal generation left off.
var pendingWeightsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "ticker_id", Type: arrow.PrimitiveTypes.Int32},
	{Name: "ticker", Type: arrow.BinaryTypes.String},
	{Name: "weight", Type: arrow.PrimitiveTypes.Float64},
}, nil)

func writerProps() *parquet.WriterProperties {
	return parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
}


// WriteTrades writes recs to path as a single-row-group Parquet file.
func WriteTrades(path string, recs []portfolio.TradeRecord) error {
	b := array.NewRecordBuilder(pool, tradesSchema)
	defer b.Release()
	for _, r := range recs {
		b.Field(0).(*array.StringBuilder).Append(string(r.Date))
		b.Field(1).(*array.StringBuilder).Append(r.Ticker)
		b.Field(2).(*array.StringBuilder).Append(r.Side.String())
		b.Field(3).(*array.Int64Builder).Append(r.Shares)
		b.Field(4).(*array.StringBuilder).Append(r.TradePrice.String())
		b.Field(5).(*array.StringBuilder).Append(r.PnlPrice.String())
		b.Field(6).(*array.StringBuilder).Append(r.GrossAmount.String())
		b.Field(7).(*array.StringBuilder).Append(r.Commission.String())
		b.Field(8).(*array.StringBuilder).Append(r.StampTax.String())
		b.Field(9).(*array.StringBuilder).Append(r.Slippage.String())
		b.Field(10).(*array.StringBuilder).Append(r.Reason)
		b.Field(11).(*array.StringBuilder).Append(r.BuyTradePrice.String())
		b.Field(12).(*array.StringBuilder).Append(r.BuyPnlPrice.String())
		b.Field(13).(*array.StringBuilder).Append(r.PnlProfitAmount.String())
		b.Field(14).(*array.Float64Builder).Append(r.PnlProfitPct)
		b.Field(15).(*array.StringBuilder).Append(r.SellType.String())
		b.Field(16).(*array.StringBuilder).Append(r.StopLossKind)
	}
	rec := b.NewRecord()
	defer rec.Release()
	return writeParquet(path, tradesSchema, rec)
}

// WriteNav writes points to path as a single-row-group Parquet file.
func WriteNav(path string, points []portfolio.NavPoint) error {
	b := array.NewRecordBuilder(pool, navSchema)
	defer b.Release()
	for _, p := range points {
		b.Field(0).(*array.StringBuilder).Append(string(p.Date))
		b.Field(1).(*array.StringBuilder).Append(p.Cash.String())
		b.Field(2).(*array.StringBuilder).Append(p.MarketValue.String())
		b.Field(3).(*array.StringBuilder).Append(p.TotalValue.String())
		b.Field(4).(*array.Float64Builder).Append(p.Nav)
		b.Field(5).(*array.Float64Builder).Append(p.DailyReturn)
		b.Field(6).(*array.BooleanBuilder).Append(p.HasDailyRet)
	}
	rec := b.NewRecord()
	defer rec.Release()
	return writeParquet(path, navSchema, rec)
}

// WritePendingWeights writes weights to path, the T0 sub-step's output
// for a trade date awaiting the T1 fill sub-step.
func WritePendingWeights(path string, weights []signalpipeline.TargetWeight) error {
	b := array.NewRecordBuilder(pool, pendingWeightsSchema)
	defer b.Release()
	for _, w := range weights {
		b.Field(0).(*array.Int32Builder).Append(int32(w.TickerID))
		b.Field(1).(*array.StringBuilder).Append(w.Ticker)
		b.Field(2).(*array.Float64Builder).Append(w.Weight)
	}
	rec := b.NewRecord()
	defer rec.Release()
	return writeParquet(path, pendingWeightsSchema, rec)
}

func writeParquet(path string, schema *arrow.Schema, rec arrow.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	fw, err := pqarrow.NewFileWriter(schema, f, writerProps(), pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("opening parquet writer for %s: %w", path, err)
	}
	defer fw.Close()
	if err := fw.Write(rec); err != nil {
		return fmt.Errorf("writing parquet record to %s: %w", path, err)
	}
	return nil
}

func readParquetTable(path string) (arrow.Table, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer rdr.Close()

	arrowRdr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("building arrow reader for %s: %w", path, err)
	}
	table, err := arrowRdr.ReadTable(context.Background())
	if err != nil {
		return nil, fmt.Errorf("reading table from %s: %w", path, err)
	}
	return table, nil
}

// chunkAt locates the chunk and in-chunk offset for global row i of
// column col, since a table's columns may be split across multiple
// record-batch-sized chunks even though every file this package writes
// contains exactly one.
func chunkAt(table arrow.Table, col, i int) (arrow.Array, int) {
	chunked := table.Column(col).Data()
	offset := i
	for _, chunk := range chunked.Chunks() {
		if offset < chunk.Len() {
			return chunk, offset
		}
		offset -= chunk.Len()
	}
	return nil, 0
}

func stringCol(table arrow.Table, col, i int) string {
	chunk, off := chunkAt(table, col, i)
	return chunk.(*array.String).Value(off)
}

func int64Col(table arrow.Table, col, i int) int64 {
	chunk, off := chunkAt(table, col, i)
	return chunk.(*array.Int64).Value(off)
}

func float64Col(table arrow.Table, col, i int) float64 {
	chunk, off := chunkAt(table, col, i)
	return chunk.(*array.Float64).Value(off)
}

func boolCol(table arrow.Table, col, i int) bool {
	chunk, off := chunkAt(table, col, i)
	return chunk.(*array.Boolean).Value(off)
}

func mustDecimalCol(table arrow.Table, col, i int) decimal.Decimal {
	d, err := decimal.NewFromString(stringCol(table, col, i))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func sideFromString(s string) portfolio.Side {
	if s == "buy" {
		return portfolio.Buy
	}
	return portfolio.Sell
}

func sellTypeFromString(s string) portfolio.SellType {
	switch s {
	case "holding_period":
		return portfolio.SellHoldingPeriod
	case "stop_loss":
		return portfolio.SellStopLoss
	case "rebalance":
		return portfolio.SellRebalance
	case "forced":
		return portfolio.SellForced
	default:
		return portfolio.SellUnspecified
	}
}

// ReadNav reads back a nav.parquet file written by WriteNav.
func ReadNav(path string) ([]portfolio.NavPoint, error) {
	table, err := readParquetTable(path)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	n := int(table.NumRows())
	out := make([]portfolio.NavPoint, n)
	for i := 0; i < n; i++ {
		out[i] = portfolio.NavPoint{
			Date:        stringCol(table, 0, i),
			Cash:        mustDecimalCol(table, 1, i),
			MarketValue: mustDecimalCol(table, 2, i),
			TotalValue:  mustDecimalCol(table, 3, i),
			Nav:         float64Col(table, 4, i),
			DailyReturn: float64Col(table, 5, i),
			HasDailyRet: boolCol(table, 6, i),
		}
	}
	return out, nil
}

func int32Col(table arrow.Table, col, i int) int32 {
	chunk, off := chunkAt(table, col, i)
	return chunk.(*array.Int32).Value(off)
}

// ReadPendingWeights reads back a pending/{date}.parquet file written by
// WritePendingWeights.
func ReadPendingWeights(path string) ([]signalpipeline.TargetWeight, error) {
	table, err := readParquetTable(path)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	n := int(table.NumRows())
	out := make([]signalpipeline.TargetWeight, n)
	for i := 0; i < n; i++ {
		out[i] = signalpipeline.TargetWeight{
			TickerID: bars.TickerID(int32Col(table, 0, i)),
			Ticker:   stringCol(table, 1, i),
			Weight:   float64Col(table, 2, i),
		}
	}
	return out, nil
}

// ReadTrades reads back a trades.parquet file written by WriteTrades.
func ReadTrades(path string) ([]portfolio.TradeRecord, error) {
	table, err := readParquetTable(path)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	n := int(table.NumRows())
	out := make([]portfolio.TradeRecord, n)
	for i := 0; i < n; i++ {
		out[i] = portfolio.TradeRecord{
			Date:         stringCol(table, 0, i),
			Ticker:       stringCol(table, 1, i),
			Side:         sideFromString(stringCol(table, 2, i)),
			Shares:       int64Col(table, 3, i),
			TradePrice:   mustDecimalCol(table, 4, i),
			PnlPrice:     mustDecimalCol(table, 5, i),
			GrossAmount:  mustDecimalCol(table, 6, i),
			Commission:   mustDecimalCol(table, 7, i),
			StampTax:     mustDecimalCol(table, 8, i),
			Slippage:     mustDecimalCol(table, 9, i),
			Reason:       stringCol(table, 10, i),
			BuyTradePrice:   mustDecimalCol(table, 11, i),
			BuyPnlPrice:     mustDecimalCol(table, 12, i),
			PnlProfitAmount: mustDecimalCol(table, 13, i),
			PnlProfitPct:    float64Col(table, 14, i),
			SellType:        sellTypeFromString(stringCol(table, 15, i)),
			StopLossKind:    stringCol(table, 16, i),
		}
	}
	return out, nil
}
