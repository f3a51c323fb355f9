package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func paperDefault() *Config {
	cfg := Default()
	cfg.Exchange.PaperTrading = true
	return cfg
}

func TestDefaultPaperConfigIsValid(t *testing.T) {
	if err := paperDefault().Validate(); err != nil {
		t.Fatalf("Expected default paper config to validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"live without credentials", func(c *Config) { c.Exchange.PaperTrading = false }, true},
		{"live with vault", func(c *Config) { c.Exchange.PaperTrading = false; c.Vault.Enabled = true }, false},
		{"live with credentials", func(c *Config) {
			c.Exchange.PaperTrading = false
			c.Exchange.APIKey = "k"
			c.Exchange.SecretKey = "s"
		}, false},
		{"leverage out of range", func(c *Config) { c.Exchange.Leverage = 200 }, true},
		{"zero max positions", func(c *Config) { c.Risk.MaxPositions = 0 }, true},
		{"dca window inverted", func(c *Config) { c.Strategy.DCAMinROI = c.Strategy.DCAMaxROI }, true},
		{"sentiment bands inverted", func(c *Config) { c.Risk.SentimentBear = c.Risk.SentimentBull }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := paperDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadOverlaysFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"exchange": {"paper_trading": true, "leverage": 3}, "risk": {"max_positions": 4}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENT_CONFIG", path)
	t.Setenv("MAX_POSITIONS", "6")
	t.Setenv("SYMBOLS", " btc/usdt, ethusdt ,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected config to load, got %v", err)
	}
	if cfg.Exchange.Leverage != 3 {
		t.Errorf("Expected leverage 3 from file, got %d", cfg.Exchange.Leverage)
	}
	if cfg.Risk.MaxPositions != 6 {
		t.Errorf("Expected env to override max positions to 6, got %d", cfg.Risk.MaxPositions)
	}
	if want := []string{"BTCUSDT", "ETHUSDT"}; !reflect.DeepEqual(cfg.Exchange.Symbols, want) {
		t.Errorf("Expected symbols %v, got %v", want, cfg.Exchange.Symbols)
	}
	// Keys absent from the file keep their defaults
	if cfg.Exchange.Timeframe != "5m" {
		t.Errorf("Expected default timeframe 5m, got %s", cfg.Exchange.Timeframe)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("AGENT_CONFIG", filepath.Join(t.TempDir(), "absent.json"))
	t.Setenv("PAPER_TRADING", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected defaults to load, got %v", err)
	}
	if cfg.Risk.MaxDrawdown != 0.25 {
		t.Errorf("Expected drawdown limit 0.25, got %v", cfg.Risk.MaxDrawdown)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGENT_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Error("Expected parse error")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	cfg.Orchestrator.PollIntervalSeconds = 30
	cfg.Risk.CooldownMinutes = 15
	cfg.Exchange.RequestTimeoutSeconds = 7

	if got := cfg.Orchestrator.PollInterval(); got != 30*time.Second {
		t.Errorf("Expected 30s, got %v", got)
	}
	if got := cfg.Risk.Cooldown(); got != 15*time.Minute {
		t.Errorf("Expected 15m, got %v", got)
	}
	if got := cfg.Exchange.RequestTimeout(); got != 7*time.Second {
		t.Errorf("Expected 7s, got %v", got)
	}
}

func TestGenerateSampleConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	if err := loadFromFile(path, cfg); err != nil {
		t.Fatalf("Expected sample to parse, got %v", err)
	}
	if cfg.Exchange.APIKey != "YOUR_BINANCE_API_KEY" {
		t.Errorf("Expected placeholder key, got %q", cfg.Exchange.APIKey)
	}
}
