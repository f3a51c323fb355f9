package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all agent configuration
type Config struct {
	Exchange     ExchangeConfig     `json:"exchange"`
	Strategy     StrategyConfig     `json:"strategy"`
	Risk         RiskConfig         `json:"risk"`
	Execution    ExecutionConfig    `json:"execution"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Persistence  PersistenceConfig  `json:"persistence"`
	Database     DatabaseConfig     `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Vault        VaultConfig        `json:"vault"`
	API          APIConfig          `json:"api"`
	Telegram     TelegramConfig     `json:"telegram"`
	Metrics      MetricsConfig      `json:"metrics"`
	Logging      LoggingConfig      `json:"logging"`
}

// ExchangeConfig holds Binance USD-M futures connectivity settings
type ExchangeConfig struct {
	APIKey                string   `json:"api_key"`
	SecretKey             string   `json:"secret_key"`
	TestNet               bool     `json:"testnet"`
	PaperTrading          bool     `json:"paper_trading"`  // Simulated fills, real market data
	PaperBalance          float64  `json:"paper_balance"`  // Starting wallet for paper mode
	Symbols               []string `json:"symbols" validate:"min=1,dive,required"`
	Timeframe             string   `json:"timeframe" validate:"required"`
	CandleLimit           int      `json:"candle_limit" validate:"gte=50,lte=1500"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds" validate:"gt=0"`
	RequestsPerSecond     float64  `json:"requests_per_second" validate:"gt=0"`
	RequestBurst          int      `json:"request_burst" validate:"gt=0"`
	Leverage              int      `json:"leverage" validate:"gte=1,lte=125"`
}

// StrategyConfig holds signal thresholds. Every value is tunable.
type StrategyConfig struct {
	ADXTrendThreshold   float64 `json:"adx_trend_threshold" validate:"gte=0"`
	MinEntryScore       float64 `json:"min_entry_score" validate:"gte=0"`
	VolumeFilterMult    float64 `json:"volume_filter_mult" validate:"gte=0"`
	BreakoutVolumeMult  float64 `json:"breakout_volume_mult" validate:"gte=0"`
	PullbackRSILong     float64 `json:"pullback_rsi_long" validate:"gt=0,lt=100"`
	PullbackRSIShort    float64 `json:"pullback_rsi_short" validate:"gt=0,lt=100"`
	SentimentRSIShift   float64 `json:"sentiment_rsi_shift" validate:"gte=0"`
	ContinuationADX     float64 `json:"continuation_adx" validate:"gte=0"`
	ReversalMinADX      float64 `json:"reversal_min_adx" validate:"gte=0"`
	FundingThreshold    float64 `json:"funding_threshold" validate:"gte=0"`
	FundingBias         float64 `json:"funding_bias" validate:"gte=0"`
	ClimaxVolumeMult    float64 `json:"climax_volume_mult" validate:"gt=0"`
	TPATRMult           float64 `json:"tp_atr_mult" validate:"gt=0"`
	TPStrongTrendBonus  float64 `json:"tp_strong_trend_bonus" validate:"gte=0"`
	PartialTPATRMult    float64 `json:"partial_tp_atr_mult" validate:"gt=0"`
	PartialTPFraction   float64 `json:"partial_tp_fraction" validate:"gt=0,lt=1"`
	ChopADX             float64 `json:"chop_adx" validate:"gte=0"`
	ChopIndexMax        float64 `json:"chop_index_max" validate:"gte=0"`
	ChopScalpROI        float64 `json:"chop_scalp_roi" validate:"gte=0"`
	TimeStopMinutes     int     `json:"time_stop_minutes" validate:"gt=0"`
	TimeStopMinATRGain  float64 `json:"time_stop_min_atr_gain" validate:"gte=0"`
	StagnationMinutes   int     `json:"stagnation_minutes" validate:"gt=0"`
	DCAMinROI           float64 `json:"dca_min_roi" validate:"lt=0"`
	DCAMaxROI           float64 `json:"dca_max_roi" validate:"lt=0"`
	DCAFraction         float64 `json:"dca_fraction" validate:"gt=0"`
	MaxDCA              int     `json:"max_dca" validate:"gte=0"`
	PyramidMinROI       float64 `json:"pyramid_min_roi" validate:"gt=0"`
	PyramidMinADX       float64 `json:"pyramid_min_adx" validate:"gte=0"`
	PyramidMaxEMADist   float64 `json:"pyramid_max_ema_distance" validate:"gt=0"`
	PyramidFraction     float64 `json:"pyramid_fraction" validate:"gt=0"`
	MaxPyramid          int     `json:"max_pyramid" validate:"gte=0"`
	DonchianWindow      int     `json:"donchian_window" validate:"gt=1"`
	StopATRMultiple     float64 `json:"stop_atr_multiple" validate:"gt=0"`
	TrailBaseMult       float64 `json:"trail_base_mult" validate:"gt=0"`
	TrailClimaxMult     float64 `json:"trail_climax_mult" validate:"gt=0"`
	DecisionLogEnabled  bool    `json:"decision_log_enabled"`
}

// RiskConfig holds account-level and per-position risk limits
type RiskConfig struct {
	LeverageCap           float64 `json:"leverage_cap" validate:"gt=0"`
	RiskPerTrade          float64 `json:"risk_per_trade" validate:"gt=0,lt=1"`
	HighConvictionRiskPct float64 `json:"high_conviction_risk_pct" validate:"gt=0,lt=1"`
	HighConvictionScore   float64 `json:"high_conviction_score" validate:"gt=0"`
	MarginSafetyFactor    float64 `json:"margin_safety_factor" validate:"gt=0,lte=1"`
	MaxNotionalShare      float64 `json:"max_notional_share" validate:"gte=0,lte=1"`
	MinNotional           float64 `json:"min_notional" validate:"gte=0"`
	MinNotionalTolerance  float64 `json:"min_notional_tolerance" validate:"gte=0"`
	MaxPositions          int     `json:"max_positions" validate:"gt=0"`
	CooldownMinutes       int     `json:"cooldown_minutes" validate:"gte=0"`
	MaxDrawdown           float64 `json:"max_drawdown" validate:"gt=0,lt=1"`
	MaxSideImbalance      float64 `json:"max_side_imbalance" validate:"gt=0.5,lte=1"`
	ImbalanceMinPositions int     `json:"imbalance_min_positions" validate:"gte=0"`
	SentimentBear         float64 `json:"sentiment_bear" validate:"gte=0,lte=1"`
	SentimentBull         float64 `json:"sentiment_bull" validate:"gte=0,lte=1"`
	MismatchROI           float64 `json:"mismatch_roi" validate:"lt=0"`
	ToxicROI              float64 `json:"toxic_roi" validate:"lt=0"`
	ToxicWindowMinutes    int     `json:"toxic_window_minutes" validate:"gt=0"`
	StaleHours            float64 `json:"stale_hours" validate:"gt=0"`
	StaleROI              float64 `json:"stale_roi"`
	ZombieHours           float64 `json:"zombie_hours" validate:"gt=0"`
}

// ExecutionConfig holds order submission and retry settings
type ExecutionConfig struct {
	MaxAttempts       int     `json:"max_attempts" validate:"gte=1,lte=20"`
	BaseBackoffMillis int     `json:"base_backoff_millis" validate:"gte=0"`
	MaxBackoffMillis  int     `json:"max_backoff_millis" validate:"gte=0"`
	SafetyMultiple    float64 `json:"safety_multiple" validate:"gte=1"`
	FeeRate           float64 `json:"fee_rate" validate:"gte=0"`
	DustTolerance     float64 `json:"dust_tolerance" validate:"gte=0"`
	MinResizeMargin   float64 `json:"min_resize_margin" validate:"gte=0"`
}

// OrchestratorConfig holds cycle driver settings
type OrchestratorConfig struct {
	PollIntervalSeconds   int     `json:"poll_interval_seconds" validate:"gt=0"`
	ErrorBackoffSeconds   int     `json:"error_backoff_seconds" validate:"gt=0"`
	Workers               int     `json:"workers" validate:"gte=1,lte=64"`
	WorkerTimeoutSeconds  int     `json:"worker_timeout_seconds" validate:"gt=0"`
	CloseAllSettleSeconds int     `json:"close_all_settle_seconds" validate:"gte=0"`
	RotationHighScore     float64 `json:"rotation_high_score"`
	RotationHighPnL       float64 `json:"rotation_high_pnl"`
	RotationStrongScore   float64 `json:"rotation_strong_score"`
	RotationStrongPnL     float64 `json:"rotation_strong_pnl"`
	Once                  bool    `json:"once"` // Run a single cycle then exit
}

// PersistenceConfig holds file locations for snapshot, history and command files
type PersistenceConfig struct {
	StateFile    string `json:"state_file" validate:"required"`
	SessionFile  string `json:"session_file" validate:"required"`
	HistoryFile  string `json:"history_file" validate:"required"`
	TradeLogFile string `json:"trade_log_file" validate:"required"`
	CommandFile  string `json:"command_file" validate:"required"`
}

// DatabaseConfig holds PostgreSQL settings for the history sink
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host" validate:"required_if=Enabled true"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name" validate:"required_if=Enabled true"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address" validate:"required_if=Enabled true"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	PoolSize  int    `json:"pool_size"`
	KeyPrefix string `json:"key_prefix"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address" validate:"required_if=Enabled true"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV v2 mount
	SecretPath string `json:"secret_path"` // Path of the exchange credential secret
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// APIConfig holds the operator API settings
type APIConfig struct {
	Enabled              bool     `json:"enabled"`
	Host                 string   `json:"host"`
	Port                 int      `json:"port" validate:"gte=0,lte=65535"`
	ProductionMode       bool     `json:"production_mode"`
	JWTSecret            string   `json:"jwt_secret" validate:"required_if=Enabled true"`
	TokenTTLMinutes      int      `json:"token_ttl_minutes"`
	OperatorPasswordHash string   `json:"operator_password_hash"` // bcrypt hash
	AllowedOrigins       []string `json:"allowed_origins"`
}

// TelegramConfig holds notification settings
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token" validate:"required_if=Enabled true"`
	ChatID  int64  `json:"chat_id"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"` // Standalone listener when the API is disabled
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string `json:"level"`        // debug, info, warn, error
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// DefaultSymbols is the liquid USD-M basket traded when none is configured
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "DOGEUSDT",
	"XRPUSDT", "ADAUSDT", "AVAXUSDT", "DOTUSDT", "LINKUSDT",
	"LTCUSDT", "TRXUSDT", "UNIUSDT", "ATOMUSDT", "NEARUSDT",
	"APTUSDT", "FILUSDT", "SUIUSDT", "ARBUSDT", "OPUSDT",
	"INJUSDT", "STXUSDT", "IMXUSDT", "GRTUSDT", "SNXUSDT",
	"VETUSDT", "THETAUSDT", "LDOUSDT", "TIAUSDT", "SEIUSDT",
	"ORDIUSDT", "FETUSDT", "ALGOUSDT", "FLOWUSDT", "XLMUSDT",
	"CRVUSDT",
}

// Default returns a configuration populated with production defaults
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			TestNet:               true,
			PaperBalance:          10000,
			Symbols:               append([]string(nil), DefaultSymbols...),
			Timeframe:             "5m",
			CandleLimit:           500,
			RequestTimeoutSeconds: 15,
			RequestsPerSecond:     10,
			RequestBurst:          20,
			Leverage:              5,
		},
		Strategy: StrategyConfig{
			ADXTrendThreshold:  20,
			MinEntryScore:      8.0,
			VolumeFilterMult:   0.8,
			BreakoutVolumeMult: 1.5,
			PullbackRSILong:    55,
			PullbackRSIShort:   45,
			SentimentRSIShift:  5,
			ContinuationADX:    25,
			ReversalMinADX:     25,
			FundingThreshold:   0.0005,
			FundingBias:        0.5,
			ClimaxVolumeMult:   3.0,
			TPATRMult:          3.5,
			TPStrongTrendBonus: 1.0,
			PartialTPATRMult:   1.5,
			PartialTPFraction:  0.5,
			ChopADX:            25,
			ChopIndexMax:       61.8,
			ChopScalpROI:       0.015,
			TimeStopMinutes:    45,
			TimeStopMinATRGain: 0.25,
			StagnationMinutes:  240,
			DCAMinROI:          -0.06,
			DCAMaxROI:          -0.02,
			DCAFraction:        0.5,
			MaxDCA:             1,
			PyramidMinROI:      0.015,
			PyramidMinADX:      30,
			PyramidMaxEMADist:  0.03,
			PyramidFraction:    0.5,
			MaxPyramid:         2,
			DonchianWindow:     96,
			StopATRMultiple:    1.5,
			TrailBaseMult:      2.5,
			TrailClimaxMult:    0.2,
		},
		Risk: RiskConfig{
			LeverageCap:           5,
			RiskPerTrade:          0.015,
			HighConvictionRiskPct: 0.05,
			HighConvictionScore:   9.0,
			MarginSafetyFactor:    0.95,
			MaxNotionalShare:      0.15,
			MinNotional:           6,
			MinNotionalTolerance:  2,
			MaxPositions:          20,
			CooldownMinutes:       15,
			MaxDrawdown:           0.25,
			MaxSideImbalance:      0.7,
			ImbalanceMinPositions: 4,
			SentimentBear:         0.25,
			SentimentBull:         0.75,
			MismatchROI:           -0.015,
			ToxicROI:              -0.05,
			ToxicWindowMinutes:    30,
			StaleHours:            4,
			StaleROI:              0.005,
			ZombieHours:           6,
		},
		Execution: ExecutionConfig{
			MaxAttempts:       5,
			BaseBackoffMillis: 500,
			MaxBackoffMillis:  5000,
			SafetyMultiple:    3,
			FeeRate:           0.0005,
			DustTolerance:     1e-9,
			MinResizeMargin:   10,
		},
		Orchestrator: OrchestratorConfig{
			PollIntervalSeconds:   10,
			ErrorBackoffSeconds:   5,
			Workers:               8,
			WorkerTimeoutSeconds:  30,
			CloseAllSettleSeconds: 5,
			RotationHighScore:     9,
			RotationHighPnL:       5,
			RotationStrongScore:   8,
			RotationStrongPnL:     1,
		},
		Persistence: PersistenceConfig{
			StateFile:    "state/dashboard_state.json",
			SessionFile:  "state/session_info.json",
			HistoryFile:  "logs/balance_history.csv",
			TradeLogFile: "logs/trades_log.csv",
			CommandFile:  "state/bot_commands.json",
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "agent",
			Name:    "futures_agent",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "agent",
		},
		Vault: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "futures-agent/binance",
		},
		API: APIConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			TokenTTLMinutes: 60,
			AllowedOrigins:  []string{"http://localhost:5173"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9100",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}

// Load reads .env, then config.json (or AGENT_CONFIG), then environment
// overrides, and validates the result.
func Load() (*Config, error) {
	// Missing .env is normal in containers
	_ = godotenv.Load()

	cfg := Default()
	path := getEnvOrDefault("AGENT_CONFIG", "config.json")
	if err := loadFromFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Strategy.DCAMinROI >= c.Strategy.DCAMaxROI {
		return fmt.Errorf("invalid configuration: dca_min_roi (%.4f) must be below dca_max_roi (%.4f)",
			c.Strategy.DCAMinROI, c.Strategy.DCAMaxROI)
	}
	if c.Risk.SentimentBear >= c.Risk.SentimentBull {
		return fmt.Errorf("invalid configuration: sentiment_bear must be below sentiment_bull")
	}
	if !c.Exchange.PaperTrading && !c.Vault.Enabled && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
		return fmt.Errorf("invalid configuration: exchange credentials required unless paper trading or vault is enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Exchange
	cfg.Exchange.APIKey = strings.TrimSpace(getEnvOrDefault("BINANCE_API_KEY", cfg.Exchange.APIKey))
	cfg.Exchange.SecretKey = strings.TrimSpace(getEnvOrDefault("BINANCE_SECRET_KEY", cfg.Exchange.SecretKey))
	cfg.Exchange.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.Exchange.TestNet)
	cfg.Exchange.PaperTrading = getEnvBoolOrDefault("PAPER_TRADING", cfg.Exchange.PaperTrading)
	cfg.Exchange.PaperBalance = getEnvFloatOrDefault("PAPER_BALANCE", cfg.Exchange.PaperBalance)
	if symbols := os.Getenv("SYMBOLS"); symbols != "" {
		cfg.Exchange.Symbols = splitList(symbols)
	}
	cfg.Exchange.Timeframe = getEnvOrDefault("TIMEFRAME", cfg.Exchange.Timeframe)
	cfg.Exchange.Leverage = getEnvIntOrDefault("LEVERAGE", cfg.Exchange.Leverage)

	// Risk
	cfg.Risk.LeverageCap = getEnvFloatOrDefault("LEVERAGE_CAP", cfg.Risk.LeverageCap)
	cfg.Risk.RiskPerTrade = getEnvFloatOrDefault("RISK_PER_TRADE", cfg.Risk.RiskPerTrade)
	cfg.Risk.MaxPositions = getEnvIntOrDefault("MAX_POSITIONS", cfg.Risk.MaxPositions)
	cfg.Risk.CooldownMinutes = getEnvIntOrDefault("COOLDOWN_MINUTES", cfg.Risk.CooldownMinutes)
	cfg.Risk.MaxDrawdown = getEnvFloatOrDefault("CIRCUIT_BREAKER_DRAWDOWN", cfg.Risk.MaxDrawdown)

	// Strategy
	cfg.Strategy.ADXTrendThreshold = getEnvFloatOrDefault("ADX_TREND_THRESHOLD", cfg.Strategy.ADXTrendThreshold)
	cfg.Strategy.DecisionLogEnabled = getEnvBoolOrDefault("DECISION_LOG", cfg.Strategy.DecisionLogEnabled)

	// Orchestrator
	cfg.Orchestrator.PollIntervalSeconds = getEnvIntOrDefault("POLL_INTERVAL_SECONDS", cfg.Orchestrator.PollIntervalSeconds)
	cfg.Orchestrator.Workers = getEnvIntOrDefault("SCAN_WORKERS", cfg.Orchestrator.Workers)
	cfg.Orchestrator.Once = getEnvBoolOrDefault("AGENT_ONCE", cfg.Orchestrator.Once)

	// Database
	cfg.Database.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnvOrDefault("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	// Redis
	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	// Vault
	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	// API
	cfg.API.Enabled = getEnvBoolOrDefault("API_ENABLED", cfg.API.Enabled)
	cfg.API.Port = getEnvIntOrDefault("API_PORT", cfg.API.Port)
	cfg.API.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.API.JWTSecret)
	cfg.API.OperatorPasswordHash = getEnvOrDefault("OPERATOR_PASSWORD_HASH", cfg.API.OperatorPasswordHash)
	cfg.API.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.API.ProductionMode)

	// Telegram
	cfg.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.Telegram.Enabled)
	cfg.Telegram.Token = getEnvOrDefault("TELEGRAM_TOKEN", cfg.Telegram.Token)
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}

	// Metrics
	cfg.Metrics.Enabled = getEnvBoolOrDefault("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Address = getEnvOrDefault("METRICS_ADDRESS", cfg.Metrics.Address)

	// Logging
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
}

// loadFromFile overlays the JSON file onto cfg; absent keys keep their defaults
func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", filename, err)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, strings.ReplaceAll(part, "/", ""))
		}
	}
	return out
}

// Duration helpers keep the JSON surface in plain integers.

func (c ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c OrchestratorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c OrchestratorConfig) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffSeconds) * time.Second
}

func (c OrchestratorConfig) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSeconds) * time.Second
}

func (c OrchestratorConfig) CloseAllSettle() time.Duration {
	return time.Duration(c.CloseAllSettleSeconds) * time.Second
}

func (c RiskConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// GenerateSampleConfig writes the default configuration to filename
func GenerateSampleConfig(filename string) error {
	cfg := Default()
	cfg.Exchange.APIKey = "YOUR_BINANCE_API_KEY"
	cfg.Exchange.SecretKey = "YOUR_BINANCE_SECRET_KEY"
	cfg.API.JWTSecret = "change-me"

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
