// Package trading holds the domain types shared by the signal, risk,
// execution and orchestration layers.
package trading

import (
	"fmt"
	"math"
	"time"
)

// Side is the order side sent to the exchange
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position opened with s
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// Direction is +1 long, -1 short, 0 flat
type Direction int

const (
	Short Direction = -1
	Flat  Direction = 0
	Long  Direction = 1
)

// DirectionOf returns the direction of a signed size
func DirectionOf(size float64) Direction {
	switch {
	case size > 0:
		return Long
	case size < 0:
		return Short
	default:
		return Flat
	}
}

// EntrySide is the side that opens or adds to a position in direction d
func (d Direction) EntrySide() Side {
	if d == Short {
		return SideSell
	}
	return SideBuy
}

// ExitSide is the side that reduces a position in direction d
func (d Direction) ExitSide() Side {
	return d.EntrySide().Opposite()
}

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// ReasonCode identifies which rule produced an intent
type ReasonCode string

const (
	ReasonNone ReasonCode = ""

	// Entries
	ReasonBreakout     ReasonCode = "BREAKOUT_DONCHIAN"
	ReasonPullback     ReasonCode = "TREND_ALIGNED"
	ReasonContinuation ReasonCode = "TREND_CONTINUATION"
	ReasonReversal     ReasonCode = "REVERSAL_SNIPER"

	// Exits
	ReasonClimax        ReasonCode = "EXIT_CLIMAX"
	ReasonHardTP        ReasonCode = "EXIT_TP_HARD"
	ReasonTrendReversal ReasonCode = "EXIT_TREND_REVERSAL"
	ReasonPartialTP     ReasonCode = "EXIT_PARTIAL_TP"
	ReasonTrailingStop  ReasonCode = "EXIT_TRAIL_STOP"
	ReasonChopScalp     ReasonCode = "EXIT_CHOP_SCALP"
	ReasonTimeStop      ReasonCode = "EXIT_TIME_STOP"
	ReasonStagnation    ReasonCode = "EXIT_STAGNATION"

	// Augmentation
	ReasonDCA     ReasonCode = "DCA_DEFENSE"
	ReasonPyramid ReasonCode = "PYRAMID_ADD"

	// Governor and operator
	ReasonSentimentMismatch ReasonCode = "SENTIMENT_MISMATCH"
	ReasonToxic             ReasonCode = "TOXIC_ASSET_PURGE"
	ReasonStale             ReasonCode = "STALE_TRADE"
	ReasonZombie            ReasonCode = "ZOMBIE_TRADE"
	ReasonCircuitBreaker    ReasonCode = "CIRCUIT_BREAKER"
	ReasonCloseAll          ReasonCode = "CLOSE_ALL_COMMAND"
	ReasonRotation          ReasonCode = "ROTATION"
)

// IsExit reports whether the reason closes or reduces a position
func (r ReasonCode) IsExit() bool {
	switch r {
	case ReasonBreakout, ReasonPullback, ReasonContinuation, ReasonReversal, ReasonDCA, ReasonPyramid, ReasonNone:
		return false
	}
	return true
}

// MaxPriority is the score carried by governor, breaker and operator intents.
// It is finite so intents stay JSON encodable.
const MaxPriority = math.MaxFloat64

// AugmentKind tags augmentation intents
type AugmentKind string

const (
	AugmentNone    AugmentKind = ""
	AugmentDCA     AugmentKind = "DCA"
	AugmentPyramid AugmentKind = "PYRAMID"
)

// ActionIntent is a proposed order produced and consumed within one cycle
type ActionIntent struct {
	Symbol            string      `json:"symbol"`
	Side              Side        `json:"side"`
	Quantity          float64     `json:"quantity"`
	RefPrice          float64     `json:"ref_price"`
	Reason            ReasonCode  `json:"reason"`
	Detail            string      `json:"detail,omitempty"`
	Score             float64     `json:"score"`
	ReduceOnly        bool        `json:"reduce_only"`
	PartialTakeProfit bool        `json:"partial_take_profit"`
	Augment           AugmentKind `json:"augment,omitempty"`
}

// IsAugmentation reports whether the intent adds to an existing position
func (a ActionIntent) IsAugmentation() bool {
	return a.Augment != AugmentNone
}

// IncreasesRisk reports whether the intent commits new margin
func (a ActionIntent) IncreasesRisk() bool {
	return !a.ReduceOnly
}

// Notional returns quantity times reference price
func (a ActionIntent) Notional() float64 {
	return a.Quantity * a.RefPrice
}

func (a ActionIntent) String() string {
	return fmt.Sprintf("%s %s %.6f @ %.6f [%s score=%.2f reduceOnly=%v]",
		a.Side, a.Symbol, a.Quantity, a.RefPrice, a.Reason, a.Score, a.ReduceOnly)
}

// AccountSnapshot is the account view for one cycle
type AccountSnapshot struct {
	WalletBalance    float64   `json:"wallet_balance"`
	AvailableBalance float64   `json:"available_balance"`
	RealizedPnL      float64   `json:"realized_pnl"`
	InitialBalance   float64   `json:"initial_balance"`
	HighWaterMark    float64   `json:"high_water_mark"`
	Drawdown         float64   `json:"drawdown"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Observe folds a fresh wallet reading into the snapshot. The high-water mark
// never decreases and drawdown is recomputed on every call.
func (a *AccountSnapshot) Observe(wallet, available float64, now time.Time) {
	a.WalletBalance = wallet
	a.AvailableBalance = available
	if a.InitialBalance <= 0 {
		a.InitialBalance = wallet
	}
	if wallet > a.HighWaterMark {
		a.HighWaterMark = wallet
	}
	a.RealizedPnL = wallet - a.InitialBalance
	a.Drawdown = ComputeDrawdown(a.HighWaterMark, wallet)
	a.UpdatedAt = now
}

// ComputeDrawdown returns (hwm - balance) / hwm, or 0 for a non-positive mark
func ComputeDrawdown(highWaterMark, balance float64) float64 {
	if highWaterMark <= 0 {
		return 0
	}
	return (highWaterMark - balance) / highWaterMark
}
