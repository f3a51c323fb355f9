package state

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"futures-agent/internal/position"
	"futures-agent/internal/trading"
)

func TestSnapshotSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "dashboard_state.json")
	store := NewSnapshotStore(path)

	snap := Snapshot{
		Timestamp: time.Now().UTC(),
		Cycle:     7,
		Balance:   1000,
		Positions: map[string]position.State{"BTCUSDT": {Symbol: "BTCUSDT", Size: 0.5, EntryPrice: 100}},
		Blacklist: map[string]string{"LUNAUSDT": "invalid_symbol"},
		Sentiment: 0.6,
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A fresh store reads the file
	loaded, err := NewSnapshotStore(path).Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if loaded.Cycle != 7 || loaded.Positions["BTCUSDT"].Size != 0.5 {
		t.Errorf("Expected cycle 7 with BTCUSDT 0.5, got %+v", loaded)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected only the snapshot file, got %d entries", len(entries))
	}
}

func TestResumeSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_info.json")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sess, resumed, err := ResumeSession(path, 1000, now)
	if err != nil || resumed {
		t.Fatalf("Expected new session, got resumed=%v err=%v", resumed, err)
	}
	if sess.InitialBalance != 1000 {
		t.Errorf("Expected 1000, got %f", sess.InitialBalance)
	}

	sess, resumed, err = ResumeSession(path, 1200, now.Add(time.Hour))
	if err != nil || !resumed {
		t.Fatalf("Expected resumed session, got resumed=%v err=%v", resumed, err)
	}
	if sess.InitialBalance != 1000 {
		t.Errorf("Expected resumed balance 1000, got %f", sess.InitialBalance)
	}
}

type memorySink struct {
	cycles int
	trades int
}

func (m *memorySink) InsertCycle(ctx context.Context, rec trading.CycleRecord) error {
	m.cycles++
	return nil
}

func (m *memorySink) InsertTrade(ctx context.Context, rec trading.TradeRecord) error {
	m.trades++
	return nil
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestRecorderWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	sink := &memorySink{}
	rec := NewRecorder(filepath.Join(dir, "balance_history.csv"), filepath.Join(dir, "trades_log.csv"), sink)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rec.RecordCycle(ctx, trading.CycleRecord{Timestamp: time.Now(), Balance: 1000, PositionCount: i}); err != nil {
			t.Fatal(err)
		}
	}
	_ = rec.RecordTrade(ctx, trading.TradeRecord{Symbol: "BTCUSDT", Side: trading.SideBuy, Quantity: 1, Price: 100, Reason: trading.ReasonBreakout, Status: trading.TradeFilled})

	history := readCSV(t, filepath.Join(dir, "balance_history.csv"))
	if len(history) != 4 {
		t.Fatalf("Expected header plus 3 rows, got %d", len(history))
	}
	if history[0][0] != "timestamp" || history[0][5] != "realized_pnl" {
		t.Errorf("Unexpected header %v", history[0])
	}

	trades := readCSV(t, filepath.Join(dir, "trades_log.csv"))
	if len(trades) != 2 || trades[1][1] != "BTCUSDT" || trades[1][6] != trading.TradeFilled {
		t.Errorf("Unexpected trade log %v", trades)
	}
	if sink.cycles != 3 || sink.trades != 1 {
		t.Errorf("Expected 3 cycles and 1 trade mirrored, got %d and %d", sink.cycles, sink.trades)
	}
}
