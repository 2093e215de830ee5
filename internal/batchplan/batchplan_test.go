package batchplan

import (
	"sync/atomic"
	"testing"

	"ashare-backtest/internal/bars"
)

func universeOf(n int) []bars.TickerID {
	out := make([]bars.TickerID, n)
	for i := range out {
		out[i] = bars.TickerID(i)
	}
	return out
}

func TestPlanChunksSplitsEvenly(t *testing.T) {
	p := NewPlanner(3, 2)
	chunks := p.PlanChunks(universeOf(7))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 7 tickers at chunk size 3, got %d", len(chunks))
	}
	if len(chunks[0].Universe) != 3 || len(chunks[1].Universe) != 3 || len(chunks[2].Universe) != 1 {
		t.Fatalf("unexpected chunk sizes: %+v", chunks)
	}
}

func TestPlanChunksZeroSizeIsOneChunk(t *testing.T) {
	p := NewPlanner(0, 1)
	chunks := p.PlanChunks(universeOf(5))
	if len(chunks) != 1 || len(chunks[0].Universe) != 5 {
		t.Fatalf("expected a single chunk holding the whole universe, got %+v", chunks)
	}
}

func TestPlanChunksEmptyUniverse(t *testing.T) {
	p := NewPlanner(3, 2)
	if chunks := p.PlanChunks(nil); chunks != nil {
		t.Fatalf("expected no chunks for an empty universe, got %+v", chunks)
	}
}

func TestBackpressureTracksInFlight(t *testing.T) {
	bp := &Backpressure{MaxQueueSize: 2}
	if !bp.CanAccept() {
		t.Fatal("expected room for the first chunk")
	}
	bp.Accept()
	bp.Accept()
	if bp.CanAccept() {
		t.Fatal("expected no room once MaxQueueSize chunks are in flight")
	}
	bp.Release()
	if !bp.CanAccept() {
		t.Fatal("expected room again after a release")
	}
}

func TestBackpressureReleaseNeverGoesNegative(t *testing.T) {
	bp := &Backpressure{MaxQueueSize: 2}
	bp.Release()
	if bp.QueueLen != 0 {
		t.Fatalf("releasing an empty backpressure tracker should stay at zero, got %d", bp.QueueLen)
	}
}

// Every chunk runs exactly once, results land in chunk order regardless of
// completion order, and at most MaxWorkers chunks ever run concurrently.
func TestDispatcherRunsEveryChunkExactlyOnce(t *testing.T) {
	p := NewPlanner(2, 2)
	d := NewDispatcher(p, nil)

	var inFlight, maxInFlight int32
	var seen int32
	results, err := d.Run(universeOf(9), func(c Chunk) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		atomic.AddInt32(&seen, int32(len(c.Universe)))
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 chunks for 9 tickers at chunk size 2, got %d", len(results))
	}
	if int(seen) != 9 {
		t.Fatalf("expected every ticker visited exactly once across chunks, got %d", seen)
	}
	if maxInFlight > 2 {
		t.Fatalf("expected at most 2 concurrent chunks, saw %d", maxInFlight)
	}
	for i, r := range results {
		if r.Chunk.Label != "chunk-"+itoa(i) {
			t.Fatalf("results out of chunk order at index %d: got label %s", i, r.Chunk.Label)
		}
	}
}

func TestDispatcherPropagatesChunkErrors(t *testing.T) {
	p := NewPlanner(0, 1)
	d := NewDispatcher(p, nil)
	boom := errDummy("boom")
	results, err := d.Run(universeOf(3), func(c Chunk) error { return boom })
	if err != nil {
		t.Fatalf("Run itself should not fail just because a chunk did: %v", err)
	}
	if len(results) != 1 || results[0].Err != boom {
		t.Fatalf("expected the chunk's error surfaced on its Result, got %+v", results)
	}
}

type errDummy string

func (e errDummy) Error() string { return string(e) }
