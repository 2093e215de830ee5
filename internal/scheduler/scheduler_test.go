package scheduler

import (
	"testing"

	"ashare-backtest/internal/bars"
)

func testCalendar() *bars.Calendar {
	return bars.NewCalendar([]bars.Date{
		"20230103", "20230104", "20230105", "20230106", "20230109",
		"20230110", "20230111", "20230112", "20230113", "20230116",
	})
}

func TestFirstDayIsAlwaysRebalanceDay(t *testing.T) {
	s := New(Config{RebalanceFreq: 5}, testCalendar())
	if !s.IsRebalanceDay("20230103") {
		t.Fatal("first tick should always be a rebalance day")
	}
}

func TestRebalanceDayAtExactFrequency(t *testing.T) {
	s := New(Config{RebalanceFreq: 3}, testCalendar())
	s.Mark("20230103")
	if s.IsRebalanceDay("20230104") {
		t.Fatal("1 trading day elapsed, should not be a rebalance day yet")
	}
	if s.IsRebalanceDay("20230105") {
		t.Fatal("2 trading days elapsed, should not be a rebalance day yet")
	}
	if !s.IsRebalanceDay("20230106") {
		t.Fatal("3 trading days elapsed, should be a rebalance day")
	}
}

func TestMarkAdvancesTrancheInBatchMode(t *testing.T) {
	s := New(Config{RebalanceFreq: 1, BatchTranches: 3}, testCalendar())
	tranche, total, _, batch := s.CurrentTranche()
	if !batch || tranche != 0 || total != 3 {
		t.Fatalf("expected batch mode tranche 0 of 3, got tranche=%d total=%d batch=%v", tranche, total, batch)
	}
	s.Mark("20230103")
	tranche, _, _, _ = s.CurrentTranche()
	if tranche != 1 {
		t.Fatalf("tranche after one Mark = %d, want 1", tranche)
	}
	s.Mark("20230104")
	s.Mark("20230105")
	tranche, _, _, _ = s.CurrentTranche()
	if tranche != 0 {
		t.Fatalf("tranche should wrap back to 0, got %d", tranche)
	}
}

func TestNoBatchModeWhenTranchesNotAboveOne(t *testing.T) {
	s := New(Config{RebalanceFreq: 1, BatchTranches: 1}, testCalendar())
	_, _, _, batch := s.CurrentTranche()
	if batch {
		t.Fatal("BatchTranches=1 should not be batch mode")
	}
}

func TestRestoreReinitializesState(t *testing.T) {
	s := New(Config{RebalanceFreq: 5}, testCalendar())
	s.Restore("20230109", true, 2)
	last, has := s.LastRebalanceDate()
	if !has || last != "20230109" {
		t.Fatalf("Restore did not set last rebalance date: %v %v", last, has)
	}
	tranche, _, _, _ := s.CurrentTranche()
	if tranche != 2 {
		t.Fatalf("Restore did not set tranche: %d", tranche)
	}
}

func TestTrancheSplitsUniverseContiguously(t *testing.T) {
	universe := []bars.TickerID{0, 1, 2, 3, 4, 5, 6}
	got := Tranche(universe, 0, 3)
	if len(got) != 3 {
		t.Fatalf("tranche 0 of 3 over 7 tickers: got %d, want 3", len(got))
	}
	got = Tranche(universe, 2, 3)
	if len(got) != 2 {
		t.Fatalf("tranche 2 of 3 over 7 tickers: got %d, want 2", len(got))
	}
	full := Tranche(universe, 0, 1)
	if len(full) != len(universe) {
		t.Fatalf("total<=1 should return the universe unchanged, got %d tickers", len(full))
	}
}
