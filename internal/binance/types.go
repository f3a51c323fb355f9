package binance

import "time"

// Kline is one OHLCV candle
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"closeTime"`
}

// OpenAt returns the candle open time
func (k Kline) OpenAt() time.Time {
	return time.UnixMilli(k.OpenTime)
}

// CloseAt returns the candle close time
func (k Kline) CloseAt() time.Time {
	return time.UnixMilli(k.CloseTime)
}

// Account is the subset of the USD-M account the agent consumes
type Account struct {
	WalletBalance    float64    `json:"walletBalance"`
	AvailableBalance float64    `json:"availableBalance"`
	UnrealizedProfit float64    `json:"unrealizedProfit"`
	Positions        []Position `json:"positions"`
}

// Position is the exchange's record of an open position (one-way mode)
type Position struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt"` // Signed: >0 long, <0 short
	EntryPrice       float64 `json:"entryPrice"`
	MarkPrice        float64 `json:"markPrice"`
	UnrealizedProfit float64 `json:"unrealizedProfit"`
	Leverage         int     `json:"leverage"`
}

// OrderRequest is a market order submission
type OrderRequest struct {
	Symbol        string
	Side          string // BUY or SELL
	Quantity      float64
	ReduceOnly    bool
	ClientOrderID string
}

// OrderResult is the exchange acknowledgement of a market order
type OrderResult struct {
	OrderID       int64   `json:"orderId"`
	ClientOrderID string  `json:"clientOrderId"`
	Status        string  `json:"status"`
	ExecutedQty   float64 `json:"executedQty"`
	AvgPrice      float64 `json:"avgPrice"`
}

// SymbolFilters holds the trading rules for one symbol
type SymbolFilters struct {
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"`
	MinQty      float64 `json:"minQty"`
	MaxQty      float64 `json:"maxQty"`
	StepSize    float64 `json:"stepSize"`
	MinNotional float64 `json:"minNotional"`
}

// Tradable reports whether the symbol accepts orders
func (f SymbolFilters) Tradable() bool {
	return f.Status == "" || f.Status == SymbolStatusTrading
}

// SymbolStatusTrading is the exchange status of an open market
const SymbolStatusTrading = "TRADING"
