package orders

import "futures-agent/internal/trading"

// OrderType represents the order purpose in a position lifecycle
type OrderType string

const (
	OrderTypeEntry     OrderType = "E"  // New position
	OrderTypeDCA       OrderType = "D"  // DCA defence add
	OrderTypePyramid   OrderType = "P"  // Pyramid add
	OrderTypePartialTP OrderType = "TP" // Partial take profit
	OrderTypeExit      OrderType = "X"  // Full signal exit
	OrderTypeForced    OrderType = "F"  // Governor, breaker, rotation or operator close
)

// AllOrderTypes returns all valid order types
func AllOrderTypes() []OrderType {
	return []OrderType{
		OrderTypeEntry,
		OrderTypeDCA,
		OrderTypePyramid,
		OrderTypePartialTP,
		OrderTypeExit,
		OrderTypeForced,
	}
}

// TypeFor maps an intent to the order type encoded in its client order ID
func TypeFor(intent trading.ActionIntent) OrderType {
	switch {
	case intent.Augment == trading.AugmentDCA:
		return OrderTypeDCA
	case intent.Augment == trading.AugmentPyramid:
		return OrderTypePyramid
	case intent.PartialTakeProfit:
		return OrderTypePartialTP
	case !intent.ReduceOnly:
		return OrderTypeEntry
	}
	switch intent.Reason {
	case trading.ReasonSentimentMismatch, trading.ReasonToxic, trading.ReasonStale, trading.ReasonZombie,
		trading.ReasonCircuitBreaker, trading.ReasonCloseAll, trading.ReasonRotation:
		return OrderTypeForced
	}
	return OrderTypeExit
}
