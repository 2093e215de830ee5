package paperstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/config"
	"ashare-backtest/internal/costmodel"
	"ashare-backtest/internal/pendingqueue"
	"ashare-backtest/internal/portfolio"
	"ashare-backtest/internal/stoploss"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestLayoutPathsAreUnderRoot(t *testing.T) {
	l := Layout{Root: "/tmp/paper"}
	for _, p := range []string{
		l.ConfigPath(), l.AccountStatePath(), l.StopLossStatePath(),
		l.PendingSellsPath(), l.TradesPath(), l.NavPath(), l.RebalanceStatePath(),
		l.PendingWeightsPath("20230103"), l.T0RunPath("20230103"), l.T1RunPath("20230103"),
	} {
		if filepath.Dir(p) == "" {
			t.Fatalf("path %q has no directory component", p)
		}
	}
}

func TestEnsureDirsCreatesEveryDir(t *testing.T) {
	root := t.TempDir()
	l := Layout{Root: root}
	if err := l.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, sub := range []string{"state", "pending_sells", "pending", "trades", "nav", "runs"} {
		if info, err := os.Stat(filepath.Join(root, sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", sub)
		}
	}
}

func TestNewRunRecordStampsUniqueRunIDAndFingerprint(t *testing.T) {
	cfg := config.Default()
	rec1, err := NewRunRecord("20230103", "t0", &cfg, "test/1", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("NewRunRecord: %v", err)
	}
	rec2, err := NewRunRecord("20230103", "t0", &cfg, "test/1", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("NewRunRecord: %v", err)
	}
	if rec1.RunID == "" || rec2.RunID == "" {
		t.Fatal("RunID should never be empty")
	}
	if rec1.RunID == rec2.RunID {
		t.Fatal("two distinct NewRunRecord calls should mint distinct RunIDs")
	}
	if rec1.ConfigHash != rec2.ConfigHash {
		t.Fatal("identical configs should fingerprint identically")
	}
}

func TestStoreSaveLoadAccountRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	if err := s.Layout().EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}

	cm := costmodel.New(costmodel.DefaultConfig())
	pf := portfolio.New(decimal.NewFromInt(100000), nil, cm, zap.NewNop())

	if err := s.SaveAccount(pf); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	var loaded AccountState
	if err := s.LoadAccount(&loaded); err != nil {
		t.Fatalf("LoadAccount: %v", err)
	}
	if loaded.InitialCapital != pf.InitialCapital.String() {
		t.Fatalf("InitialCapital round trip mismatch: got %s want %s", loaded.InitialCapital, pf.InitialCapital.String())
	}
}

func TestStoreHasRunAndRecordRun(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	if err := s.Layout().EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	if s.HasRun("20230103", "t0") {
		t.Fatal("HasRun should be false before any record is written")
	}
	cfg := config.Default()
	rec, err := NewRunRecord("20230103", "t0", &cfg, "test/1", time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordRun(rec); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if !s.HasRun("20230103", "t0") {
		t.Fatal("HasRun should be true after RecordRun")
	}
	if s.HasRun("20230103", "t1") {
		t.Fatal("t0 and t1 sentinels should be tracked independently")
	}
}

func TestChecksumBarsStableAndSensitive(t *testing.T) {
	rowsA := []bars.Bar{{Ticker: "A", Date: "20230103", Close: decimal.NewFromInt(10)}}
	rowsB := []bars.Bar{{Ticker: "A", Date: "20230103", Close: decimal.NewFromInt(11)}}
	if ChecksumBars(rowsA) != ChecksumBars(rowsA) {
		t.Fatal("checksum should be stable across identical inputs")
	}
	if ChecksumBars(rowsA) == ChecksumBars(rowsB) {
		t.Fatal("checksum should differ when price data differs")
	}
}

func TestStopLossAndPendingSellsRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	if err := s.Layout().EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}

	in := bars.NewInterner()
	tid := in.Intern("A")
	mon := stoploss.New(stoploss.Config{Enabled: true, DrawdownPct: decimal.NewFromInt(10)}, zap.NewNop())
	mon.Restore(map[bars.TickerID]stoploss.PositionState{tid: {HighWaterPnlPrice: decimal.NewFromInt(10)}})
	if err := s.SaveStopLoss(mon); err != nil {
		t.Fatalf("SaveStopLoss: %v", err)
	}
	var loadedSL StopLossState
	if err := s.LoadStopLoss(&loadedSL); err != nil {
		t.Fatalf("LoadStopLoss: %v", err)
	}
	if _, ok := loadedSL.Positions[tid]; !ok {
		t.Fatal("expected stop-loss state for the restored ticker")
	}

	q := pendingqueue.New(pendingqueue.Config{MaxRetries: 5, MaxRetryDays: 5}, zap.NewNop())
	q.Enqueue(pendingqueue.Order{Ticker: "A", TickerID: tid, Side: pendingqueue.SideSell, Shares: 100}, "20230103")
	if err := s.SavePendingSells(q); err != nil {
		t.Fatalf("SavePendingSells: %v", err)
	}
	var loadedPS PendingSellsState
	if err := s.LoadPendingSells(&loadedPS); err != nil {
		t.Fatalf("LoadPendingSells: %v", err)
	}
	if len(loadedPS.Orders) != 1 {
		t.Fatalf("expected 1 pending order, got %d", len(loadedPS.Orders))
	}
}
