package position

import (
	"math"
	"time"

	"futures-agent/internal/trading"
)

// State is the locally tracked view of one open position. Size, EntryPrice,
// MarkPrice and UnrealizedPnL mirror the exchange; the remaining fields are
// lifecycle data only this process knows.
type State struct {
	Symbol        string    `json:"symbol"`
	Size          float64   `json:"size"` // Signed: >0 long, <0 short
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Leverage      int       `json:"leverage"`
	EntryTime     time.Time `json:"entry_time"`

	PeakPrice      float64 `json:"peak_price"`    // Highest price seen while long
	TroughPrice    float64 `json:"trough_price"`  // Lowest price seen while short
	TrailingStop   float64 `json:"trailing_stop"` // 0 until first set
	DCACount       int     `json:"dca_count"`
	PyramidCount   int     `json:"pyramid_count"`
	PartialTPCount int     `json:"partial_tp_count"`
}

// Direction returns the side of the position
func (s *State) Direction() trading.Direction {
	return trading.DirectionOf(s.Size)
}

// Quantity is the unsigned size
func (s *State) Quantity() float64 {
	return math.Abs(s.Size)
}

// PnLPerUnit is the favourable price move per unit at price
func (s *State) PnLPerUnit(price float64) float64 {
	switch {
	case s.Size > 0:
		return price - s.EntryPrice
	case s.Size < 0:
		return s.EntryPrice - price
	}
	return 0
}

// ROI is the unlevered return at price
func (s *State) ROI(price float64) float64 {
	if s.EntryPrice <= 0 {
		return 0
	}
	return s.PnLPerUnit(price) / s.EntryPrice
}

// PeakGain is the best favourable move per unit since entry
func (s *State) PeakGain() float64 {
	switch {
	case s.Size > 0 && s.PeakPrice > 0:
		return s.PeakPrice - s.EntryPrice
	case s.Size < 0 && s.TroughPrice > 0:
		return s.EntryPrice - s.TroughPrice
	}
	return 0
}

// HeldFor is the time since entry
func (s *State) HeldFor(now time.Time) time.Duration {
	if s.EntryTime.IsZero() {
		return 0
	}
	return now.Sub(s.EntryTime)
}

// Margin estimates the initial margin locked by the position
func (s *State) Margin() float64 {
	lev := s.Leverage
	if lev <= 0 {
		lev = 1
	}
	return s.Quantity() * s.EntryPrice / float64(lev)
}

// Notional is the position value at the mark price, or entry when unknown
func (s *State) Notional() float64 {
	price := s.MarkPrice
	if price <= 0 {
		price = s.EntryPrice
	}
	return s.Quantity() * price
}

// Lifecycle returns the fields that must survive a restart
func (s *State) Lifecycle() Lifecycle {
	return Lifecycle{
		Symbol:         s.Symbol,
		Direction:      int(s.Direction()),
		EntryTime:      s.EntryTime,
		PeakPrice:      s.PeakPrice,
		TroughPrice:    s.TroughPrice,
		TrailingStop:   s.TrailingStop,
		DCACount:       s.DCACount,
		PyramidCount:   s.PyramidCount,
		PartialTPCount: s.PartialTPCount,
	}
}

// Lifecycle is the persisted local-only part of a position
type Lifecycle struct {
	Symbol         string    `json:"symbol"`
	Direction      int       `json:"direction"`
	EntryTime      time.Time `json:"entry_time"`
	PeakPrice      float64   `json:"peak_price"`
	TroughPrice    float64   `json:"trough_price"`
	TrailingStop   float64   `json:"trailing_stop"`
	DCACount       int       `json:"dca_count"`
	PyramidCount   int       `json:"pyramid_count"`
	PartialTPCount int       `json:"partial_tp_count"`
	SavedAt        time.Time `json:"saved_at"`
}

func (l Lifecycle) applyTo(s *State) {
	if !l.EntryTime.IsZero() {
		s.EntryTime = l.EntryTime
	}
	s.PeakPrice = l.PeakPrice
	s.TroughPrice = l.TroughPrice
	s.TrailingStop = l.TrailingStop
	s.DCACount = l.DCACount
	s.PyramidCount = l.PyramidCount
	s.PartialTPCount = l.PartialTPCount
}
