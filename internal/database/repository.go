package database

import (
	"context"
	"fmt"
	"time"

	"futures-agent/internal/trading"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// CYCLE HISTORY
// ============================================================================

// InsertCycle appends one history row
func (r *Repository) InsertCycle(ctx context.Context, rec trading.CycleRecord) error {
	query := `
		INSERT INTO cycle_history (cycle, recorded_at, balance, available_balance, open_pnl,
			position_count, sentiment, realized_pnl, drawdown, halted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.Cycle, rec.Timestamp, rec.Balance, rec.AvailableBalance, rec.OpenPnL,
		rec.PositionCount, rec.Sentiment, rec.RealizedPnL, rec.Drawdown, rec.Halted,
	)
	if err != nil {
		return fmt.Errorf("insert cycle %d: %w", rec.Cycle, err)
	}
	return nil
}

// RecentCycles returns history rows newer than since, oldest first
func (r *Repository) RecentCycles(ctx context.Context, since time.Time, limit int) ([]trading.CycleRecord, error) {
	query := `
		SELECT cycle, recorded_at, balance, available_balance, open_pnl,
		       position_count, sentiment, realized_pnl, drawdown, halted
		FROM cycle_history
		WHERE recorded_at >= $1
		ORDER BY recorded_at ASC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycle history: %w", err)
	}
	defer rows.Close()

	var out []trading.CycleRecord
	for rows.Next() {
		var rec trading.CycleRecord
		if err := rows.Scan(
			&rec.Cycle, &rec.Timestamp, &rec.Balance, &rec.AvailableBalance, &rec.OpenPnL,
			&rec.PositionCount, &rec.Sentiment, &rec.RealizedPnL, &rec.Drawdown, &rec.Halted,
		); err != nil {
			return nil, fmt.Errorf("scan cycle history: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ============================================================================
// TRADE JOURNAL
// ============================================================================

// InsertTrade journals one execution outcome
func (r *Repository) InsertTrade(ctx context.Context, rec trading.TradeRecord) error {
	query := `
		INSERT INTO trade_journal (recorded_at, symbol, side, quantity, price, reason, status,
			client_order_id, reduce_only, realized_pnl, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.Timestamp, rec.Symbol, string(rec.Side), rec.Quantity, rec.Price, string(rec.Reason),
		rec.Status, rec.ClientOrderID, rec.ReduceOnly, rec.RealizedPnL, rec.Attempts,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", rec.Symbol, err)
	}
	return nil
}

// RecentTrades returns the newest journal entries, newest first
func (r *Repository) RecentTrades(ctx context.Context, limit int) ([]trading.TradeRecord, error) {
	query := `
		SELECT recorded_at, symbol, side, quantity, price, reason, status,
		       COALESCE(client_order_id, ''), reduce_only, COALESCE(realized_pnl, 0), attempts
		FROM trade_journal
		ORDER BY recorded_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade journal: %w", err)
	}
	defer rows.Close()

	var out []trading.TradeRecord
	for rows.Next() {
		var rec trading.TradeRecord
		var side, reason string
		if err := rows.Scan(
			&rec.Timestamp, &rec.Symbol, &side, &rec.Quantity, &rec.Price, &reason, &rec.Status,
			&rec.ClientOrderID, &rec.ReduceOnly, &rec.RealizedPnL, &rec.Attempts,
		); err != nil {
			return nil, fmt.Errorf("scan trade journal: %w", err)
		}
		rec.Side = trading.Side(side)
		rec.Reason = trading.ReasonCode(reason)
		out = append(out, rec)
	}
	return out, rows.Err()
}
