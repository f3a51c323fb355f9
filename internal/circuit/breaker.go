package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"futures-agent/internal/trading"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed BreakerState = "closed" // Normal operation
	StateOpen   BreakerState = "open"   // HALTED: entries suspended until an operator reset
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled     bool    `json:"enabled"`
	MaxDrawdown float64 `json:"max_drawdown"` // Fraction of the high-water mark
}

// Stats is the breaker view exposed to the snapshot and API
type Stats struct {
	State        BreakerState `json:"state"`
	TripReason   string       `json:"trip_reason,omitempty"`
	LastTripTime time.Time    `json:"last_trip_time,omitempty"`
	LastDrawdown float64      `json:"last_drawdown"`
	MaxDrawdown  float64      `json:"max_drawdown"`
	ResetBy      string       `json:"reset_by,omitempty"`
	LastReset    time.Time    `json:"last_reset,omitempty"`
	TripCount    int          `json:"trip_count"`
}

// Breaker latches HALTED when account drawdown exceeds the limit. Unlike a
// cooldown breaker it never recovers on its own; only Reset clears it.
type Breaker struct {
	config       Config
	state        BreakerState
	tripReason   string
	lastTripTime time.Time
	lastDrawdown float64
	tripCount    int
	resetBy      string
	lastReset    time.Time
	mu           sync.RWMutex
	onTrip       func(reason string, drawdown float64)
	onReset      func(operator string)
}

// NewBreaker creates a closed breaker
func NewBreaker(config Config) *Breaker {
	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// OnTrip sets callback for when breaker trips
func (b *Breaker) OnTrip(handler func(reason string, drawdown float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset sets callback for when breaker resets
func (b *Breaker) OnReset(handler func(operator string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// Check evaluates the account drawdown. It returns tripped=true only on the
// transition into the open state; Halted reports the latched state.
func (b *Breaker) Check(account trading.AccountSnapshot) (tripped bool, drawdown float64) {
	drawdown = trading.ComputeDrawdown(account.HighWaterMark, account.WalletBalance)
	if math.IsNaN(drawdown) || math.IsInf(drawdown, 0) {
		drawdown = 0
	}

	b.mu.Lock()
	b.lastDrawdown = drawdown
	if !b.config.Enabled || b.state == StateOpen || drawdown <= b.config.MaxDrawdown {
		b.mu.Unlock()
		return false, drawdown
	}

	reason := fmt.Sprintf("drawdown %.2f%% exceeds %.2f%% (hwm %.2f, wallet %.2f)",
		drawdown*100, b.config.MaxDrawdown*100, account.HighWaterMark, account.WalletBalance)
	b.trip(reason)
	handler := b.onTrip
	b.mu.Unlock()

	if handler != nil {
		handler(reason, drawdown)
	}
	return true, drawdown
}

// trip opens the circuit breaker; caller holds the lock
func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.lastTripTime = time.Now()
	b.tripReason = reason
	b.tripCount++
}

// Halted reports whether the breaker is latched open
func (b *Breaker) Halted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == StateOpen
}

// Reset clears the latch. It is the only way out of HALTED and returns false
// when the breaker was already closed.
func (b *Breaker) Reset(operator string) bool {
	b.mu.Lock()
	if b.state != StateOpen {
		b.mu.Unlock()
		return false
	}
	b.state = StateClosed
	b.tripReason = ""
	b.resetBy = operator
	b.lastReset = time.Now()
	handler := b.onReset
	b.mu.Unlock()

	if handler != nil {
		handler(operator)
	}
	return true
}

// Restore re-latches a trip recorded before a restart
func (b *Breaker) Restore(reason string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateOpen
	b.tripReason = reason
	b.lastTripTime = at
}

// GetState returns current breaker state
func (b *Breaker) GetState() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// GetStats returns current statistics
func (b *Breaker) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		State:        b.state,
		TripReason:   b.tripReason,
		LastTripTime: b.lastTripTime,
		LastDrawdown: b.lastDrawdown,
		MaxDrawdown:  b.config.MaxDrawdown,
		ResetBy:      b.resetBy,
		LastReset:    b.lastReset,
		TripCount:    b.tripCount,
	}
}

// IsEnabled returns if circuit breaker is enabled
func (b *Breaker) IsEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.Enabled
}
