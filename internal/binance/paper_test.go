package binance

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

type staticMarket struct {
	prices map[string]float64
}

func (m *staticMarket) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	p := m.prices[symbol]
	return []Kline{{Open: p, High: p, Low: p, Close: p, Volume: 1}}, nil
}

func (m *staticMarket) FundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func newTestPaper(balance float64) *PaperGateway {
	market := &staticMarket{prices: map[string]float64{"BTCUSDT": 100}}
	return NewPaperGateway(market, PaperConfig{Balance: balance, FeeRate: 0.0005, Leverage: 5}, zerolog.Nop())
}

func TestPaperOpenAndClose(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(1000)

	if _, err := p.PlaceMarketOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Quantity: 1}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	positions, _ := p.FetchPositions(ctx)
	if len(positions) != 1 || positions[0].PositionAmt != 1 {
		t.Fatalf("Expected one long of 1, got %+v", positions)
	}

	p.SetPrice("BTCUSDT", 110)
	if _, err := p.PlaceMarketOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: "SELL", Quantity: 1, ReduceOnly: true}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	positions, _ = p.FetchPositions(ctx)
	if len(positions) != 0 {
		t.Fatalf("Expected flat, got %+v", positions)
	}

	acc, _ := p.FetchAccount(ctx)
	// +10 gross, fees 0.05 + 0.055
	if !floatEquals(acc.WalletBalance, 1009.895, 1e-9) {
		t.Errorf("Expected wallet 1009.895, got %v", acc.WalletBalance)
	}
}

func TestPaperReduceOnlyWhenFlat(t *testing.T) {
	p := newTestPaper(1000)
	_, err := p.PlaceMarketOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: "SELL", Quantity: 1, ReduceOnly: true})
	if CategoryOf(err) != CategoryReduceOnlyConflict {
		t.Errorf("Expected reduce-only conflict, got %v", err)
	}
}

func TestPaperInsufficientMargin(t *testing.T) {
	p := newTestPaper(10)
	_, err := p.PlaceMarketOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Quantity: 5})
	if CategoryOf(err) != CategoryInsufficientMargin {
		t.Errorf("Expected insufficient margin, got %v", err)
	}
}

func TestPaperDuplicateClientID(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(1000)
	req := OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Quantity: 0.1, ClientOrderID: "abc"}
	if _, err := p.PlaceMarketOrder(ctx, req); err != nil {
		t.Fatalf("first order failed: %v", err)
	}
	_, err := p.PlaceMarketOrder(ctx, req)
	if CategoryOf(err) != CategoryDuplicateOrder {
		t.Errorf("Expected duplicate order, got %v", err)
	}
}

func TestPaperWeightedEntry(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(10000)
	p.PlaceMarketOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Quantity: 1})
	p.SetPrice("BTCUSDT", 130)
	p.PlaceMarketOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Quantity: 0.5})

	positions, _ := p.FetchPositions(ctx)
	if len(positions) != 1 {
		t.Fatalf("Expected one position, got %d", len(positions))
	}
	if !floatEquals(positions[0].EntryPrice, 110, 1e-9) {
		t.Errorf("Expected entry 110, got %v", positions[0].EntryPrice)
	}
}
