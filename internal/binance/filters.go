package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

// RoundDownToStep truncates quantity to a multiple of step. Decimal math
// avoids float artefacts such as 0.30000000000000004 being sent as a quantity.
func RoundDownToStep(quantity, step float64) float64 {
	if quantity <= 0 {
		return 0
	}
	if step <= 0 {
		return quantity
	}
	q := decimal.NewFromFloat(quantity)
	s := decimal.NewFromFloat(step)
	out, _ := q.Div(s).Floor().Mul(s).Float64()
	return out
}

// RoundUpToStep rounds quantity up to the next multiple of step
func RoundUpToStep(quantity, step float64) float64 {
	if quantity <= 0 {
		return 0
	}
	if step <= 0 {
		return quantity
	}
	q := decimal.NewFromFloat(quantity)
	s := decimal.NewFromFloat(step)
	out, _ := q.Div(s).Ceil().Mul(s).Float64()
	return out
}

// FormatQuantity renders quantity with the precision implied by step
func FormatQuantity(quantity, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(quantity, 'f', -1, 64)
	}
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(quantity).StringFixed(places)
}

// MinimumQuantity returns the smallest tradable quantity at price: the larger
// of minQty and minNotional/price, rounded up to the step.
func (f SymbolFilters) MinimumQuantity(price float64) float64 {
	minQty := f.MinQty
	if f.MinNotional > 0 && price > 0 {
		byNotional := decimal.NewFromFloat(f.MinNotional).Div(decimal.NewFromFloat(price))
		if n, _ := byNotional.Float64(); n > minQty {
			minQty = n
		}
	}
	return RoundUpToStep(minQty, f.StepSize)
}

// Round truncates quantity to the step and clamps it to MaxQty
func (f SymbolFilters) Round(quantity float64) float64 {
	q := RoundDownToStep(quantity, f.StepSize)
	if f.MaxQty > 0 && q > f.MaxQty {
		q = RoundDownToStep(f.MaxQty, f.StepSize)
	}
	return q
}

// filterBook caches exchange filters per symbol
type filterBook struct {
	mu      sync.RWMutex
	filters map[string]SymbolFilters
	load    func(ctx context.Context) (map[string]SymbolFilters, error)
}

func newFilterBook(load func(ctx context.Context) (map[string]SymbolFilters, error)) *filterBook {
	return &filterBook{
		filters: make(map[string]SymbolFilters),
		load:    load,
	}
}

func (b *filterBook) get(ctx context.Context, symbol string) (SymbolFilters, error) {
	b.mu.RLock()
	f, ok := b.filters[symbol]
	empty := len(b.filters) == 0
	b.mu.RUnlock()
	if ok {
		return f, nil
	}

	if empty {
		if err := b.reload(ctx); err != nil {
			return SymbolFilters{}, err
		}
		b.mu.RLock()
		f, ok = b.filters[symbol]
		b.mu.RUnlock()
		if ok {
			return f, nil
		}
	}
	return SymbolFilters{}, NewError("symbol_filters", symbol, CodeInvalidSymbol,
		fmt.Sprintf("invalid symbol: %s not listed", symbol))
}

func (b *filterBook) reload(ctx context.Context) error {
	filters, err := b.load(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.filters = filters
	b.mu.Unlock()
	return nil
}

func (b *filterBook) set(f SymbolFilters) {
	b.mu.Lock()
	b.filters[f.Symbol] = f
	b.mu.Unlock()
}
