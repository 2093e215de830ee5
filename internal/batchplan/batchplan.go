// Package batchplan splits a ticker universe into independent chunks and
// dispatches one backtest run per chunk across a bounded worker pool.
// Grounded on services/engine/planner.go's Planner/Chunk/Backpressure
// trio, generalized from (symbols, time-range) chunks meant for a single
// streaming ingest pipeline to (ticker subset) chunks meant for wholly
// independent engine.Engine instances. Parallelism here is strictly
// across runs; nothing inside a single Engine tick is ever parallelized.
package batchplan

import (
	"sync"

	"ashare-backtest/internal/apperrors"
	"ashare-backtest/internal/bars"

	"go.uber.org/zap"
)

// Chunk is one slice of the universe to run as an independent backtest.
type Chunk struct {
	Label    string
	Universe []bars.TickerID
}

// Planner divides a universe into chunks of at most MaxChunkSize tickers
// each, the unit of work a Dispatcher hands to one worker.
type Planner struct {
	MaxChunkSize int
	MaxWorkers   int
}

// NewPlanner constructs a Planner. maxChunkSize <= 0 is treated as "one
// chunk holding the whole universe"; maxWorkers <= 0 is treated as 1.
func NewPlanner(maxChunkSize, maxWorkers int) *Planner {
	return &Planner{MaxChunkSize: maxChunkSize, MaxWorkers: maxWorkers}
}

// PlanChunks splits universe into contiguous chunks of at most
// p.MaxChunkSize tickers. Chunk order is stable (input order preserved)
// so repeated planning of the same universe always yields the same
// labeling, which matters for run sentinels keyed by chunk label.
func (p *Planner) PlanChunks(universe []bars.TickerID) []Chunk {
	size := p.MaxChunkSize
	if size <= 0 || size > len(universe) {
		size = len(universe)
	}
	if size == 0 {
		return nil
	}
	var chunks []Chunk
	for i := 0; i < len(universe); i += size {
		end := i + size
		if end > len(universe) {
			end = len(universe)
		}
		chunks = append(chunks, Chunk{
			Label:    "chunk-" + itoa(len(chunks)),
			Universe: universe[i:end],
		})
	}
	return chunks
}

// Backpressure bounds the number of chunks in flight at once, independent
// of worker count: a Dispatcher can run fewer workers than
// Backpressure.MaxQueueSize permits in flight if a run's own resource use
// (memory per loaded bar table, open file handles) is the tighter limit.
type Backpressure struct {
	MaxQueueSize int
	QueueLen     int
}

// CanAccept reports whether one more chunk may start.
func (bp *Backpressure) CanAccept() bool {
	return bp.QueueLen < bp.MaxQueueSize
}

// Accept records one more chunk starting.
func (bp *Backpressure) Accept() {
	bp.QueueLen++
}

// Release records one chunk finishing.
func (bp *Backpressure) Release() {
	if bp.QueueLen > 0 {
		bp.QueueLen--
	}
}

// RunFunc drives one chunk's backtest to completion. It owns and
// constructs its own engine.Engine instance; nothing about the engine is
// shared across chunks, so RunFunc needs no synchronization of its own.
type RunFunc func(c Chunk) error

// Result is one chunk's outcome.
type Result struct {
	Chunk Chunk
	Err   error
}

// Dispatcher runs a Planner's chunks across a bounded pool of goroutines,
// each goroutine calling run for exactly one chunk at a time.
type Dispatcher struct {
	planner *Planner
	log     *zap.Logger
}

// NewDispatcher constructs a Dispatcher over planner.
func NewDispatcher(planner *Planner, log *zap.Logger) *Dispatcher {
	return &Dispatcher{planner: planner, log: log}
}

// Run plans universe into chunks and runs each through run, bounded to at
// most d.planner.MaxWorkers concurrent chunks. Results are returned in
// chunk order, not completion order, so a caller aggregating trade logs
// or NAV series across chunks gets a stable, reproducible ordering.
func (d *Dispatcher) Run(universe []bars.TickerID, run RunFunc) ([]Result, error) {
	if run == nil {
		return nil, apperrors.New(apperrors.KindUnknown, "batchplan: nil RunFunc")
	}
	chunks := d.planner.PlanChunks(universe)
	results := make([]Result, len(chunks))

	workers := d.planner.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(chunks) {
		workers = len(chunks)
	}
	if workers == 0 {
		return results, nil
	}

	bp := &Backpressure{MaxQueueSize: workers}
	var mu sync.Mutex
	work := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				c := chunks[i]
				mu.Lock()
				bp.Accept()
				mu.Unlock()
				if d.log != nil {
					d.log.Info("batch chunk starting", zap.String("label", c.Label), zap.Int("tickers", len(c.Universe)))
				}
				err := run(c)
				if err != nil && d.log != nil {
					d.log.Error("batch chunk failed", zap.String("label", c.Label), zap.Error(err))
				}
				results[i] = Result{Chunk: c, Err: err}
				mu.Lock()
				bp.Release()
				mu.Unlock()
			}
		}()
	}

	for i := range chunks {
		work <- i
	}
	close(work)
	wg.Wait()

	return results, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
