package risk

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-agent/config"
	"futures-agent/internal/circuit"
	"futures-agent/internal/position"
	"futures-agent/internal/trading"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newGovernor() *Governor {
	cfg := config.Default().Risk
	return NewGovernor(cfg, circuit.NewBreaker(circuit.Config{Enabled: true, MaxDrawdown: cfg.MaxDrawdown}), zerolog.Nop())
}

func TestCleanupRules(t *testing.T) {
	tests := []struct {
		name      string
		pos       position.State
		sentiment float64
		want      trading.ReasonCode
	}{
		{
			name:      "long against bear sentiment",
			pos:       position.State{Symbol: "A", Size: 1, EntryPrice: 100, MarkPrice: 98, EntryTime: now.Add(-time.Hour)},
			sentiment: 0.2,
			want:      trading.ReasonSentimentMismatch,
		},
		{
			name:      "short against bull sentiment",
			pos:       position.State{Symbol: "B", Size: -1, EntryPrice: 100, MarkPrice: 102, EntryTime: now.Add(-time.Hour)},
			sentiment: 0.8,
			want:      trading.ReasonSentimentMismatch,
		},
		{
			name:      "toxic loss velocity",
			pos:       position.State{Symbol: "C", Size: 1, EntryPrice: 100, MarkPrice: 94, EntryTime: now.Add(-10 * time.Minute)},
			sentiment: 0.5,
			want:      trading.ReasonToxic,
		},
		{
			name:      "stale trade",
			pos:       position.State{Symbol: "D", Size: 1, EntryPrice: 100, MarkPrice: 100.2, EntryTime: now.Add(-5 * time.Hour)},
			sentiment: 0.5,
			want:      trading.ReasonStale,
		},
		{
			name:      "healthy position",
			pos:       position.State{Symbol: "E", Size: 1, EntryPrice: 100, MarkPrice: 103, EntryTime: now.Add(-5 * time.Hour)},
			sentiment: 0.5,
			want:      trading.ReasonNone,
		},
		{
			name:      "mismatch needs a loss",
			pos:       position.State{Symbol: "F", Size: 1, EntryPrice: 100, MarkPrice: 99, EntryTime: now.Add(-time.Hour)},
			sentiment: 0.1,
			want:      trading.ReasonNone,
		},
	}

	g := newGovernor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intents := g.Cleanup([]position.State{tt.pos}, tt.sentiment, now)
			if tt.want == trading.ReasonNone {
				if len(intents) != 0 {
					t.Errorf("Expected no cleanup, got %v", intents)
				}
				return
			}
			if len(intents) != 1 {
				t.Fatalf("Expected one intent, got %d", len(intents))
			}
			in := intents[0]
			if in.Reason != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, in.Reason)
			}
			if !in.ReduceOnly || in.Score != trading.MaxPriority || in.Quantity != tt.pos.Quantity() {
				t.Errorf("Expected full reduce-only close at max priority, got %s", in)
			}
			if in.Side != tt.pos.Direction().ExitSide() {
				t.Errorf("Expected exit side %s, got %s", tt.pos.Direction().ExitSide(), in.Side)
			}
		})
	}
}

func TestZombieWhenStaleThresholdRelaxed(t *testing.T) {
	cfg := config.Default().Risk
	cfg.StaleROI = -1 // disable staleness
	g := NewGovernor(cfg, circuit.NewBreaker(circuit.Config{Enabled: true, MaxDrawdown: 0.25}), zerolog.Nop())

	pos := position.State{Symbol: "Z", Size: -2, EntryPrice: 50, MarkPrice: 50.1, EntryTime: now.Add(-7 * time.Hour)}
	intents := g.Cleanup([]position.State{pos}, 0.5, now)
	if len(intents) != 1 || intents[0].Reason != trading.ReasonZombie {
		t.Fatalf("Expected zombie cleanup, got %v", intents)
	}
}

func TestCircuitBreakerDrawdown(t *testing.T) {
	g := newGovernor()

	triggered, dd := g.CircuitBreaker(trading.AccountSnapshot{HighWaterMark: 1000, WalletBalance: 740})
	if !triggered {
		t.Fatal("Expected breaker to trigger")
	}
	if math.Abs(dd-0.26) > 1e-9 {
		t.Errorf("Expected drawdown 0.26, got %v", dd)
	}
	if !g.Halted() {
		t.Error("Expected governor to report halted")
	}

	// Second evaluation is not a new trip
	if triggered, _ := g.CircuitBreaker(trading.AccountSnapshot{HighWaterMark: 1000, WalletBalance: 700}); triggered {
		t.Error("Expected latched breaker not to re-trigger")
	}

	g.Breaker().Reset("operator")
	if g.Halted() {
		t.Error("Expected reset to clear halted")
	}
}

func TestShadowedRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.RiskConfig, *config.StrategyConfig)
		want   []string
	}{
		{"defaults", func(*config.RiskConfig, *config.StrategyConfig) {}, []string{"zombie", "stagnation"}},
		{"staleness disabled", func(r *config.RiskConfig, _ *config.StrategyConfig) { r.StaleROI = -1 }, nil},
		{"zombie before staleness", func(r *config.RiskConfig, _ *config.StrategyConfig) { r.ZombieHours = 3 }, []string{"stagnation"}},
		{"stagnation before staleness", func(_ *config.RiskConfig, s *config.StrategyConfig) { s.StagnationMinutes = 180 }, []string{"zombie"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg.Risk, &cfg.Strategy)
			got := ShadowedRules(cfg.Risk, cfg.Strategy)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestStalenessClosesLosersBeforeZombie(t *testing.T) {
	g := newGovernor()
	// Losing and held past both the stale and zombie windows
	pos := position.State{Symbol: "Z", Size: 1, EntryPrice: 100, MarkPrice: 99.5, EntryTime: now.Add(-7 * time.Hour)}

	intents := g.Cleanup([]position.State{pos}, 0.5, now)
	if len(intents) != 1 || intents[0].Reason != trading.ReasonStale {
		t.Fatalf("Expected stale cleanup to win with defaults, got %v", intents)
	}
}
