package position

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"futures-agent/internal/binance"
	"futures-agent/internal/trading"
)

// ErrNoPosition is returned when a symbol has no tracked position
var ErrNoPosition = errors.New("no open position")

// LifecycleRepository persists lifecycle fields across restarts
type LifecycleRepository interface {
	SaveLifecycle(ctx context.Context, l Lifecycle) error
	DeleteLifecycle(ctx context.Context, symbol string) error
	LoadLifecycles(ctx context.Context) (map[string]Lifecycle, error)
}

// Fill is an executed order applied to the store
type Fill struct {
	Side       trading.Side
	Quantity   float64
	Price      float64
	ReduceOnly bool
	PartialTP  bool
	Augment    trading.AugmentKind
	Leverage   int
	DustQty    float64 // Remaining size at or below this counts as flat
	Time       time.Time
}

// FillResult reports what a fill did to the position
type FillResult struct {
	Opened      bool
	Closed      bool    // Position removed
	ClosedQty   float64 // Quantity that reduced the position
	RealizedPnL float64 // Net of the round-trip fee estimate
	Fee         float64
}

// ReconcileReport lists what a sync changed
type ReconcileReport struct {
	Adopted []string
	Dropped []string
	Flipped []string
}

// Store is the authoritative local cache of open positions. It is mutated
// only by the orchestrator's serial path; readers get copies.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*State
	restored  map[string]Lifecycle
	removed   map[string]struct{}
	dust      float64
	feeRate   float64
}

// NewStore creates an empty store. dust is the relative size below which a
// position counts as closed; feeRate is the per-side taker fee estimate.
func NewStore(dust, feeRate float64) *Store {
	return &Store{
		positions: make(map[string]*State),
		restored:  make(map[string]Lifecycle),
		removed:   make(map[string]struct{}),
		dust:      dust,
		feeRate:   feeRate,
	}
}

// Get returns a copy of the position for symbol
func (s *Store) Get(symbol string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return State{}, false
	}
	return *pos, true
}

// Has reports whether symbol has an open position
func (s *Store) Has(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.positions[symbol]
	return ok
}

// Len returns the number of open positions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// All returns copies of every position ordered by symbol
func (s *Store) All() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]State, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Snapshot returns copies keyed by symbol
func (s *Store) Snapshot() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.positions))
	for sym, pos := range s.positions {
		out[sym] = *pos
	}
	return out
}

// Set replaces the tracked position for state.Symbol
func (s *Store) Set(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := state
	s.positions[state.Symbol] = &cp
	delete(s.removed, state.Symbol)
}

// Remove drops symbol from the store
func (s *Store) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(symbol)
}

func (s *Store) removeLocked(symbol string) {
	if _, ok := s.positions[symbol]; ok {
		delete(s.positions, symbol)
		s.removed[symbol] = struct{}{}
	}
}

// CommittedMargin sums the estimated margin of all open positions
func (s *Store) CommittedMargin() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0.0
	for _, pos := range s.positions {
		total += pos.Margin()
	}
	return total
}

// OpenPnL sums the exchange-reported unrealized PnL
func (s *Store) OpenPnL() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0.0
	for _, pos := range s.positions {
		total += pos.UnrealizedPnL
	}
	return total
}

// SideCounts returns the number of long and short positions
func (s *Store) SideCounts() (longs, shorts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pos := range s.positions {
		if pos.Size > 0 {
			longs++
		} else if pos.Size < 0 {
			shorts++
		}
	}
	return longs, shorts
}

// ApplyFill books an executed order. Same-direction fills average the entry
// price; opposing fills realize PnL net of the fee estimate and remove the
// position once the remainder is dust.
func (s *Store) ApplyFill(symbol string, f Fill) FillResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res FillResult
	if f.Quantity <= 0 || f.Price <= 0 {
		return res
	}
	if f.Time.IsZero() {
		f.Time = time.Now()
	}
	signed := f.Side.Sign() * f.Quantity
	pos := s.positions[symbol]

	if pos == nil {
		if f.ReduceOnly {
			return res
		}
		s.openLocked(symbol, signed, f)
		res.Opened = true
		return res
	}

	if pos.Size*signed > 0 {
		total := math.Abs(pos.Size) + f.Quantity
		pos.EntryPrice = (pos.EntryPrice*math.Abs(pos.Size) + f.Price*f.Quantity) / total
		pos.Size += signed
		switch f.Augment {
		case trading.AugmentDCA:
			pos.DCACount++
		case trading.AugmentPyramid:
			pos.PyramidCount++
		}
		if f.Leverage > 0 {
			pos.Leverage = f.Leverage
		}
		return res
	}

	prevAbs := math.Abs(pos.Size)
	closed := math.Min(f.Quantity, prevAbs)
	dir := float64(pos.Direction())
	gross := (f.Price - pos.EntryPrice) * closed * dir
	res.Fee = s.feeRate * (pos.EntryPrice + f.Price) * closed
	res.RealizedPnL = gross - res.Fee
	res.ClosedQty = closed
	pos.Size -= dir * closed
	if f.PartialTP {
		pos.PartialTPCount++
	}

	dust := math.Max(f.DustQty, s.dust*prevAbs)
	if math.Abs(pos.Size) <= dust {
		s.removeLocked(symbol)
		res.Closed = true
	}

	// A plain order larger than the position flips it
	if remainder := f.Quantity - closed; remainder > dust && !f.ReduceOnly {
		s.openLocked(symbol, f.Side.Sign()*remainder, f)
		res.Opened = true
	}
	return res
}

func (s *Store) openLocked(symbol string, signed float64, f Fill) {
	s.positions[symbol] = &State{
		Symbol:      symbol,
		Size:        signed,
		EntryPrice:  f.Price,
		MarkPrice:   f.Price,
		Leverage:    f.Leverage,
		EntryTime:   f.Time,
		PeakPrice:   f.Price,
		TroughPrice: f.Price,
	}
	delete(s.removed, symbol)
}

// UpdateLifecycle folds worker-computed extremes and the trailing stop into
// the position. Peak only rises, trough only falls, and the stop only moves
// in the position's favour.
func (s *Store) UpdateLifecycle(symbol string, peak, trough, stop float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return
	}
	if peak > pos.PeakPrice {
		pos.PeakPrice = peak
	}
	if trough > 0 && (pos.TroughPrice == 0 || trough < pos.TroughPrice) {
		pos.TroughPrice = trough
	}
	if stop <= 0 {
		return
	}
	switch {
	case pos.Size > 0 && stop > pos.TrailingStop:
		pos.TrailingStop = stop
	case pos.Size < 0 && (pos.TrailingStop == 0 || stop < pos.TrailingStop):
		pos.TrailingStop = stop
	}
}

// Reconcile merges the exchange's positions into the store. Exchange fields
// win; lifecycle fields survive while the direction is unchanged. Positions
// the exchange no longer reports are dropped.
func (s *Store) Reconcile(exchange []binance.Position, now time.Time) ReconcileReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report ReconcileReport
	seen := make(map[string]bool, len(exchange))
	for _, ex := range exchange {
		if ex.PositionAmt == 0 {
			continue
		}
		seen[ex.Symbol] = true
		mark := ex.MarkPrice
		if mark <= 0 && ex.PositionAmt != 0 && ex.EntryPrice > 0 {
			mark = ex.EntryPrice + ex.UnrealizedProfit/ex.PositionAmt
		}

		pos, ok := s.positions[ex.Symbol]
		switch {
		case !ok:
			pos = &State{
				Symbol:      ex.Symbol,
				EntryTime:   now,
				PeakPrice:   ex.EntryPrice,
				TroughPrice: ex.EntryPrice,
			}
			if l, found := s.restored[ex.Symbol]; found && l.Direction == int(trading.DirectionOf(ex.PositionAmt)) {
				l.applyTo(pos)
			}
			delete(s.restored, ex.Symbol)
			s.positions[ex.Symbol] = pos
			delete(s.removed, ex.Symbol)
			report.Adopted = append(report.Adopted, ex.Symbol)
		case pos.Size*ex.PositionAmt < 0:
			*pos = State{
				Symbol:      ex.Symbol,
				EntryTime:   now,
				PeakPrice:   ex.EntryPrice,
				TroughPrice: ex.EntryPrice,
			}
			report.Flipped = append(report.Flipped, ex.Symbol)
		}

		pos.Size = ex.PositionAmt
		pos.EntryPrice = ex.EntryPrice
		pos.MarkPrice = mark
		pos.UnrealizedPnL = ex.UnrealizedProfit
		if ex.Leverage > 0 {
			pos.Leverage = ex.Leverage
		}
	}

	for sym := range s.positions {
		if !seen[sym] {
			s.removeLocked(sym)
			report.Dropped = append(report.Dropped, sym)
		}
	}
	sort.Strings(report.Adopted)
	sort.Strings(report.Dropped)
	return report
}

// Restore loads persisted lifecycles; they are applied when the matching
// exchange position is first adopted.
func (s *Store) Restore(ctx context.Context, repo LifecycleRepository) (int, error) {
	lifecycles, err := repo.LoadLifecycles(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, l := range lifecycles {
		s.restored[sym] = l
	}
	return len(lifecycles), nil
}

// Persist writes lifecycles of open positions and deletes closed ones
func (s *Store) Persist(ctx context.Context, repo LifecycleRepository) error {
	s.mu.Lock()
	lifecycles := make([]Lifecycle, 0, len(s.positions))
	for _, pos := range s.positions {
		lifecycles = append(lifecycles, pos.Lifecycle())
	}
	removed := make([]string, 0, len(s.removed))
	for sym := range s.removed {
		removed = append(removed, sym)
	}
	s.removed = make(map[string]struct{})
	s.mu.Unlock()

	var errs []error
	for _, l := range lifecycles {
		if err := repo.SaveLifecycle(ctx, l); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sym := range removed {
		if err := repo.DeleteLifecycle(ctx, sym); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
