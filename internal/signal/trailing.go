package signal

import (
	"math"

	"futures-agent/internal/indicators"
	"futures-agent/internal/position"
	"futures-agent/internal/trading"
)

// TrailTier tightens the chandelier multiplier once peak gain exceeds
// PeakATR multiples of ATR
type TrailTier struct {
	PeakATR float64
	Mult    float64
}

// RatchetFloor locks LockATR of profit once peak gain exceeds PeakATR
type RatchetFloor struct {
	PeakATR float64
	LockATR float64
}

// DefaultTrailTiers are ordered by ascending PeakATR
var DefaultTrailTiers = []TrailTier{
	{PeakATR: 1, Mult: 1.5},
	{PeakATR: 2, Mult: 1.0},
	{PeakATR: 4, Mult: 0.5},
}

// DefaultRatchetFloors are ordered by ascending PeakATR
var DefaultRatchetFloors = []RatchetFloor{
	{PeakATR: 1, LockATR: 0.1},
	{PeakATR: 2, LockATR: 0.5},
	{PeakATR: 3, LockATR: 1.5},
}

// StopUpdate is the trailing stop state after one observation
type StopUpdate struct {
	Peak       float64 // Long extreme, 0 for shorts
	Trough     float64 // Short extreme, 0 for longs
	Stop       float64
	Multiplier float64
	Triggered  bool
}

// chandelier computes the stop for pos at the snapshot price. The stop only
// moves up for longs and down for shorts.
func (e *Engine) chandelier(pos *position.State, snap indicators.Snapshot) StopUpdate {
	price := snap.Price
	atr := snap.ATR
	entry := pos.EntryPrice
	dir := pos.Direction()

	var u StopUpdate
	var peakGain float64
	if dir == trading.Long {
		u.Peak = math.Max(math.Max(pos.PeakPrice, entry), price)
		peakGain = u.Peak - entry
	} else {
		u.Trough = price
		if pos.TroughPrice > 0 {
			u.Trough = math.Min(u.Trough, pos.TroughPrice)
		}
		if entry > 0 {
			u.Trough = math.Min(u.Trough, entry)
		}
		peakGain = entry - u.Trough
	}

	u.Stop = pos.TrailingStop
	if atr <= 0 || price <= 0 {
		u.Triggered = breached(dir, price, u.Stop)
		return u
	}

	mult := e.trailBase
	for _, tier := range e.trailTiers {
		if peakGain > atr*tier.PeakATR {
			mult = tier.Mult
		}
	}
	if pos.ROI(price) > 0.01 {
		overLong := dir == trading.Long && price > snap.BBUpper && snap.RSI > 75
		overShort := dir == trading.Short && snap.BBLower > 0 && price < snap.BBLower && snap.RSI < 25
		if overLong || overShort {
			mult = e.trailClimax
		}
	}
	u.Multiplier = mult

	var candidate float64
	if dir == trading.Long {
		candidate = u.Peak - atr*mult
		for _, f := range e.ratchets {
			if peakGain > atr*f.PeakATR {
				candidate = math.Max(candidate, entry+atr*f.LockATR)
			}
		}
		if u.Stop == 0 || candidate > u.Stop {
			u.Stop = candidate
		}
	} else {
		candidate = u.Trough + atr*mult
		for _, f := range e.ratchets {
			if peakGain > atr*f.PeakATR {
				candidate = math.Min(candidate, entry-atr*f.LockATR)
			}
		}
		if u.Stop == 0 || candidate < u.Stop {
			u.Stop = candidate
		}
	}

	u.Triggered = breached(dir, price, u.Stop)
	return u
}

func breached(dir trading.Direction, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	if dir == trading.Long {
		return price < stop
	}
	return price > stop
}
