package trading

import "time"

// CycleRecord is the compact per-cycle history row
type CycleRecord struct {
	Cycle            int64     `json:"cycle"`
	Timestamp        time.Time `json:"timestamp"`
	Balance          float64   `json:"balance"`
	AvailableBalance float64   `json:"available_balance"`
	OpenPnL          float64   `json:"open_pnl"`
	PositionCount    int       `json:"position_count"`
	Sentiment        float64   `json:"sentiment"`
	RealizedPnL      float64   `json:"realized_pnl"`
	Drawdown         float64   `json:"drawdown"`
	Halted           bool      `json:"halted"`
}

// Trade statuses recorded in the journal
const (
	TradeFilled        = "FILLED"
	TradeAlreadyClosed = "ALREADY_CLOSED"
	TradeFailed        = "FAILED"
	TradeAborted       = "ABORTED"
	TradeSkipped       = "SKIPPED"
)

// TradeRecord is one journaled execution outcome
type TradeRecord struct {
	Timestamp     time.Time  `json:"timestamp"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Quantity      float64    `json:"quantity"`
	Price         float64    `json:"price"`
	Reason        ReasonCode `json:"reason"`
	Status        string     `json:"status"`
	ClientOrderID string     `json:"client_order_id,omitempty"`
	ReduceOnly    bool       `json:"reduce_only"`
	RealizedPnL   float64    `json:"realized_pnl"`
	Attempts      int        `json:"attempts"`
}
