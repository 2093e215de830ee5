// Package paperstate persists and reloads the paper runner's on-disk
// state: account, stop-loss, and pending-sell snapshots, plus the run
// sentinel files that make each trade date's T0/T1 sub-step idempotent.
// Grounded on services/engine/config.go's ConfigManager/ConfigSnapshot
// pairing, generalized from an in-memory snapshot map to the paper
// runner's exact file layout.
package paperstate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"ashare-backtest/internal/apperrors"
	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/config"
	"ashare-backtest/internal/pendingqueue"
	"ashare-backtest/internal/portfolio"
	"ashare-backtest/internal/scheduler"
	"ashare-backtest/internal/stoploss"

	"github.com/google/uuid"
)

// Layout resolves the fixed directory and file names under a paper
// workspace root.
type Layout struct {
	Root string
}

func (l Layout) ConfigPath() string          { return filepath.Join(l.Root, "config.json") }
func (l Layout) AccountStatePath() string    { return filepath.Join(l.Root, "state", "account.json") }
func (l Layout) StopLossStatePath() string   { return filepath.Join(l.Root, "state", "stop_loss_state.json") }
func (l Layout) PendingSellsPath() string    { return filepath.Join(l.Root, "pending_sells", "pending_sells.json") }
func (l Layout) PendingWeightsPath(d bars.Date) string {
	return filepath.Join(l.Root, "pending", string(d)+".parquet")
}
func (l Layout) TradesPath() string          { return filepath.Join(l.Root, "trades", "trades.parquet") }
func (l Layout) NavPath() string             { return filepath.Join(l.Root, "nav", "nav.parquet") }
func (l Layout) RebalanceStatePath() string  { return filepath.Join(l.Root, "runs", "rebalance_state.json") }
func (l Layout) T0RunPath(d bars.Date) string {
	return filepath.Join(l.Root, "runs", "t0_"+string(d)+".json")
}
func (l Layout) T1RunPath(d bars.Date) string {
	return filepath.Join(l.Root, "runs", "t1_"+string(d)+".json")
}

// EnsureDirs creates every directory the layout writes into.
func (l Layout) EnsureDirs() error {
	for _, sub := range []string{"state", "pending_sells", "pending", "trades", "nav", "runs"} {
		if err := os.MkdirAll(filepath.Join(l.Root, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// AccountState is the account.json document: cash, positions, NAV
// history, and the trade log, the serializable subset of Portfolio's
// exported fields.
type AccountState struct {
	InitialCapital string                          `json:"initial_capital"`
	Cash           string                          `json:"cash"`
	Positions      map[bars.TickerID]*portfolio.Lot `json:"positions"`
	NavHistory     []portfolio.NavPoint            `json:"nav_history"`
	TradeLog       []portfolio.TradeRecord         `json:"trade_log"`
}

// StopLossState is the stop_loss_state.json document.
type StopLossState struct {
	Positions map[bars.TickerID]stoploss.PositionState `json:"positions"`
}

// PendingSellsState is the pending_sells.json document.
type PendingSellsState struct {
	Orders []pendingqueue.Order `json:"orders"`
}

// RebalanceState is the runs/rebalance_state.json document: the
// scheduler's last-rebalance bookkeeping.
type RebalanceState struct {
	LastRebalanceDate bars.Date `json:"last_rebalance_date"`
	HasRebalanced     bool      `json:"has_rebalanced"`
	NextTranche       int       `json:"next_tranche"`
}

// RunRecord is one runs/t0_{date}.json or runs/t1_{date}.json sentinel,
// written after a sub-step completes so re-invoking the runner for a
// trade date already processed is a safe no-op (KindIdempotencyConflict).
// Carries a job identity plus the config fingerprint and a completion
// timestamp, enough to prove which run produced a given day's state
// without replaying it.
type RunRecord struct {
	RunID          string    `json:"run_id"`
	TradeDate      bars.Date `json:"trade_date"`
	Step           string    `json:"step"` // "t0" or "t1"
	ConfigHash     string    `json:"config_hash"`
	CompletedAt    string    `json:"completed_at"`
	DataChecksum   string    `json:"data_checksum,omitempty"`
	EngineVersion  string    `json:"engine_version"`
}

// NewRunRecord builds a RunRecord, hashing cfg the same way
// config.Fingerprint does so a RunRecord proves which configuration
// produced it. RunID is a fresh uuid, the idempotency sentinel's own
// identity independent of its (trade date, step) file path, so two
// sentinels with the same path can still be told apart in an audit log.
func NewRunRecord(tradeDate bars.Date, step string, cfg *config.Config, engineVersion string, completedAt time.Time) (RunRecord, error) {
	hash, err := cfg.Fingerprint()
	if err != nil {
		return RunRecord{}, err
	}
	return RunRecord{
		RunID:         uuid.New().String(),
		TradeDate:     tradeDate,
		Step:          step,
		ConfigHash:    hash,
		CompletedAt:   completedAt.UTC().Format(time.RFC3339),
		EngineVersion: engineVersion,
	}, nil
}

// Store bundles a Layout with a held file lock, serializing every write
// across process invocations: state mutation and persistence happen at
// tick boundaries, under a lock that a second concurrently-invoked run
// waits for (Lock blocks; it does not fail fast).
type Store struct {
	layout Layout
	lockFh *os.File
}

// NewStore constructs a Store over root without acquiring the lock yet.
func NewStore(root string) *Store {
	return &Store{layout: Layout{Root: root}}
}

// Layout exposes the resolved file paths.
func (s *Store) Layout() Layout { return s.layout }

// Lock acquires an exclusive advisory lock on a sentinel file under the
// workspace root, so that two run verbs invoked concurrently against the
// same paper workspace never interleave their writes: the second blocks
// until the first unlocks. Only Runner.Run takes the lock; the positions
// and config verbs do not. flock is used
// directly (not a pack library) because no example repo in this module's
// lineage carries a cross-platform file-locking dependency; this is the
// one piece of paperstate built on the standard library rather than a
// third-party package, and is recorded as such in the design ledger.
func (s *Store) Lock() error {
	if err := s.layout.EnsureDirs(); err != nil {
		return err
	}
	path := filepath.Join(s.layout.Root, ".lock")
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}
	if err := syscall.Flock(int(fh.Fd()), syscall.LOCK_EX); err != nil {
		fh.Close()
		return fmt.Errorf("acquiring lock: %w", err)
	}
	s.lockFh = fh
	return nil
}

// Unlock releases the lock acquired by Lock.
func (s *Store) Unlock() error {
	if s.lockFh == nil {
		return nil
	}
	err := syscall.Flock(int(s.lockFh.Fd()), syscall.LOCK_UN)
	s.lockFh.Close()
	s.lockFh = nil
	return err
}

// writeJSONAtomic marshals v and writes it to path via a temp file plus
// rename, so a crash mid-write never leaves a half-written state file
// behind for the next tick to load: abort rather than silently continue
// with stale state.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return apperrors.New(apperrors.KindPersistence, "reading state file: "+err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.New(apperrors.KindPersistence, "state file "+path+" is corrupt: "+err.Error())
	}
	return nil
}

// SaveAccount persists the portfolio's account.json.
func (s *Store) SaveAccount(pf *portfolio.Portfolio) error {
	st := AccountState{
		InitialCapital: pf.InitialCapital.String(),
		Cash:           pf.Cash.String(),
		Positions:      pf.Positions,
		NavHistory:     pf.NavHistory,
		TradeLog:       pf.TradeLog,
	}
	return writeJSONAtomic(s.layout.AccountStatePath(), st)
}

// LoadAccount reads account.json into st. Returns os.ErrNotExist-wrapping
// error (via errors.Is) when no prior state exists, the caller's signal
// to start a fresh run at initial capital.
func (s *Store) LoadAccount(st *AccountState) error {
	return readJSON(s.layout.AccountStatePath(), st)
}

// SaveStopLoss persists the stop-loss monitor's per-ticker state.
func (s *Store) SaveStopLoss(m *stoploss.Monitor) error {
	return writeJSONAtomic(s.layout.StopLossStatePath(), StopLossState{Positions: m.Snapshot()})
}

// LoadStopLoss reads stop_loss_state.json into st.
func (s *Store) LoadStopLoss(st *StopLossState) error {
	return readJSON(s.layout.StopLossStatePath(), st)
}

// SavePendingSells persists the pending-order queue.
func (s *Store) SavePendingSells(q *pendingqueue.Queue) error {
	return writeJSONAtomic(s.layout.PendingSellsPath(), PendingSellsState{Orders: q.Snapshot()})
}

// LoadPendingSells reads pending_sells.json into st.
func (s *Store) LoadPendingSells(st *PendingSellsState) error {
	return readJSON(s.layout.PendingSellsPath(), st)
}

// SaveRebalanceState persists the scheduler's last-rebalance bookkeeping.
func (s *Store) SaveRebalanceState(sched *scheduler.Scheduler) error {
	last, has := sched.LastRebalanceDate()
	tranche, _, _, _ := sched.CurrentTranche()
	return writeJSONAtomic(s.layout.RebalanceStatePath(), RebalanceState{
		LastRebalanceDate: last,
		HasRebalanced:     has,
		NextTranche:       tranche,
	})
}

// LoadRebalanceState reads runs/rebalance_state.json into st.
func (s *Store) LoadRebalanceState(st *RebalanceState) error {
	return readJSON(s.layout.RebalanceStatePath(), st)
}

// HasRun reports whether the sentinel file for (tradeDate, step) already
// exists: re-invoking run for an already-completed trade date is an
// info-logged no-op rather than a replay.
func (s *Store) HasRun(tradeDate bars.Date, step string) bool {
	path := s.layout.T0RunPath(tradeDate)
	if step == "t1" {
		path = s.layout.T1RunPath(tradeDate)
	}
	_, err := os.Stat(path)
	return err == nil
}

// RecordRun writes the t0/t1 sentinel file for tradeDate.
func (s *Store) RecordRun(rec RunRecord) error {
	path := s.layout.T0RunPath(rec.TradeDate)
	if rec.Step == "t1" {
		path = s.layout.T1RunPath(rec.TradeDate)
	}
	return writeJSONAtomic(path, rec)
}

// ChecksumBars returns a stable sha256 hex digest over the raw bar rows
// fed into a tick, recorded in the run sentinel as DataChecksum so a
// reproducibility audit can tell whether a re-run saw the same upstream
// data.
func ChecksumBars(rows []bars.Bar) string {
	h := sha256.New()
	for _, b := range rows {
		fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s\n", b.Ticker, b.Date, b.Open, b.High, b.Low, b.Close)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
