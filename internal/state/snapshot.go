// Package state persists what the agent shows the outside world: the
// dashboard snapshot, the session file and the CSV history logs.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"futures-agent/internal/position"
)

// SymbolScan is the per-symbol line of the market scan table
type SymbolScan struct {
	Price      float64  `json:"price"`
	Trend      int      `json:"trend"`
	SlowTrend  int      `json:"slow_trend"`
	RSI        float64  `json:"rsi"`
	ADX        float64  `json:"adx"`
	Signal     string   `json:"signal"`
	Score      float64  `json:"score"`
	Position   float64  `json:"pos"`
	PnL        float64  `json:"pnl"`
	Rejections []string `json:"rejections,omitempty"`
}

// Snapshot is the dashboard state written after every cycle
type Snapshot struct {
	Timestamp        time.Time                 `json:"timestamp"`
	Cycle            int64                     `json:"cycle"`
	Balance          float64                   `json:"balance"`
	AvailableBalance float64                   `json:"available_balance"`
	InitialBalance   float64                   `json:"initial_balance"`
	HighWaterMark    float64                   `json:"high_water_mark"`
	Drawdown         float64                   `json:"drawdown"`
	Positions        map[string]position.State `json:"positions"`
	MarketScan       map[string]SymbolScan     `json:"market_scan"`
	Sentiment        float64                   `json:"sentiment"`
	Blacklist        map[string]string         `json:"blacklist"`
	RealizedPnL      float64                   `json:"realized_pnl"`
	Halted           bool                      `json:"halted"`
	HaltReason       string                    `json:"halt_reason,omitempty"`
	PaperTrading     bool                      `json:"paper_trading"`
}

// SnapshotStore writes the snapshot atomically and keeps the last one in
// memory for the API
type SnapshotStore struct {
	path string

	mu   sync.RWMutex
	last *Snapshot
}

// NewSnapshotStore creates a store writing to path
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Save persists snap. Readers never observe a partially written file.
func (s *SnapshotStore) Save(snap Snapshot) error {
	if err := WriteJSONAtomic(s.path, snap); err != nil {
		return err
	}
	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()
	return nil
}

// Latest returns the last saved snapshot, falling back to the file
func (s *SnapshotStore) Latest() (Snapshot, error) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last != nil {
		return *last, nil
	}

	var snap Snapshot
	if err := readJSON(s.path, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// WriteJSONAtomic marshals v to a temp file in the target directory and
// renames it over path
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Session records the balance the run is measured against
type Session struct {
	InitialBalance float64   `json:"initial_balance"`
	StartTime      time.Time `json:"start_time"`
}

// ResumeSession loads the session at path, or starts a new one at balance.
// resumed reports whether an existing session was found.
func ResumeSession(path string, balance float64, now time.Time) (sess Session, resumed bool, err error) {
	err = readJSON(path, &sess)
	switch {
	case err == nil && sess.InitialBalance > 0:
		return sess, true, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return Session{}, false, err
	}

	sess = Session{InitialBalance: balance, StartTime: now.UTC()}
	if err := WriteJSONAtomic(path, sess); err != nil {
		return sess, false, err
	}
	return sess, false, nil
}
