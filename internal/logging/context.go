package logging

import (
	"github.com/rs/zerolog"
)

// Component derives a logger tagged with a component name
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Symbol derives a logger for per-symbol work
func Symbol(l zerolog.Logger, symbol string) zerolog.Logger {
	return l.With().Str("symbol", symbol).Logger()
}

// Order derives a logger for a single order submission
func Order(l zerolog.Logger, symbol, side, clientOrderID string, quantity float64, reduceOnly bool) zerolog.Logger {
	return l.With().
		Str("symbol", symbol).
		Str("side", side).
		Str("client_order_id", clientOrderID).
		Float64("quantity", quantity).
		Bool("reduce_only", reduceOnly).
		Logger()
}

// Cycle derives a logger for one orchestrator cycle
func Cycle(l zerolog.Logger, cycle int64) zerolog.Logger {
	return l.With().Int64("cycle", cycle).Logger()
}
