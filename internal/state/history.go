package state

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"futures-agent/internal/trading"
)

var (
	historyHeader = []string{"timestamp", "balance", "open_pnl", "position_count", "sentiment", "realized_pnl"}
	tradeHeader   = []string{"timestamp", "symbol", "side", "amount", "price", "reason", "status"}
)

// csvLog appends rows to a CSV file, writing the header when the file is new
type csvLog struct {
	mu     sync.Mutex
	path   string
	header []string
}

func (l *csvLog) append(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	_, statErr := os.Stat(l.path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(l.header); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Sink mirrors history rows into a database
type Sink interface {
	InsertCycle(ctx context.Context, rec trading.CycleRecord) error
	InsertTrade(ctx context.Context, rec trading.TradeRecord) error
}

// Recorder writes the balance history and trade journal CSV files and
// mirrors them to an optional database sink
type Recorder struct {
	history *csvLog
	trades  *csvLog
	sink    Sink
}

// NewRecorder creates a recorder; sink may be nil
func NewRecorder(historyPath, tradePath string, sink Sink) *Recorder {
	return &Recorder{
		history: &csvLog{path: historyPath, header: historyHeader},
		trades:  &csvLog{path: tradePath, header: tradeHeader},
		sink:    sink,
	}
}

// RecordCycle appends one balance history row
func (r *Recorder) RecordCycle(ctx context.Context, rec trading.CycleRecord) error {
	err := r.history.append([]string{
		rec.Timestamp.UTC().Format(time.RFC3339),
		formatFloat(rec.Balance),
		formatFloat(rec.OpenPnL),
		strconv.Itoa(rec.PositionCount),
		formatFloat(rec.Sentiment),
		formatFloat(rec.RealizedPnL),
	})
	if r.sink != nil {
		err = errors.Join(err, r.sink.InsertCycle(ctx, rec))
	}
	return err
}

// RecordTrade appends one trade journal row
func (r *Recorder) RecordTrade(ctx context.Context, rec trading.TradeRecord) error {
	err := r.trades.append([]string{
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Symbol,
		string(rec.Side),
		formatFloat(rec.Quantity),
		formatFloat(rec.Price),
		string(rec.Reason),
		rec.Status,
	})
	if r.sink != nil {
		err = errors.Join(err, r.sink.InsertTrade(ctx, rec))
	}
	return err
}
