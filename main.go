package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"futures-agent/config"
	"futures-agent/internal/api"
	"futures-agent/internal/auth"
	"futures-agent/internal/binance"
	"futures-agent/internal/circuit"
	"futures-agent/internal/command"
	"futures-agent/internal/database"
	"futures-agent/internal/events"
	"futures-agent/internal/execution"
	"futures-agent/internal/logging"
	"futures-agent/internal/metrics"
	"futures-agent/internal/notification"
	"futures-agent/internal/orchestrator"
	"futures-agent/internal/risk"
	"futures-agent/internal/signal"
	"futures-agent/internal/sizing"
	"futures-agent/internal/state"
	"futures-agent/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
	})

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Agent exited with error")
	}
	logger.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Credentials from Vault take precedence over the environment
	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if vaultClient.IsEnabled() {
		if err := vaultClient.Health(ctx); err != nil {
			return err
		}
		applied, err := vaultClient.Apply(ctx, &cfg.Exchange)
		if err != nil {
			return fmt.Errorf("load exchange credentials: %w", err)
		}
		logger.Info().Bool("applied", applied).Msg("Vault credentials checked")
	}
	if !cfg.Exchange.PaperTrading && (cfg.Exchange.APIKey == "" || cfg.Exchange.SecretKey == "") {
		return errors.New("live trading requires exchange credentials")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = database.NewRedisClient(ctx, database.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		defer redisClient.Close()
	}

	var sink state.Sink
	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return err
		}
		sink = database.NewRepository(db)
	}

	bus := events.NewEventBus()

	gateway, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}

	breaker := circuit.NewBreaker(circuit.Config{Enabled: true, MaxDrawdown: cfg.Risk.MaxDrawdown})
	breaker.OnReset(func(operator string) {
		bus.PublishCircuitBreaker("reset", "reset by "+operator, 0)
	})
	governor := risk.NewGovernor(cfg.Risk, breaker, logger)
	sizer := sizing.New(sizing.FromConfig(cfg.Risk, cfg.Strategy))
	signals := signal.New(cfg.Strategy, cfg.Risk, sizer, logger)

	recorder := state.NewRecorder(cfg.Persistence.HistoryFile, cfg.Persistence.TradeLogFile, sink)
	snapshots := state.NewSnapshotStore(cfg.Persistence.StateFile)
	executor := execution.NewLayer(gateway, execution.Config{
		MaxAttempts:    cfg.Execution.MaxAttempts,
		BaseBackoff:    time.Duration(cfg.Execution.BaseBackoffMillis) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Execution.MaxBackoffMillis) * time.Millisecond,
		SafetyMultiple: cfg.Execution.SafetyMultiple,
		Leverage:       cfg.Exchange.Leverage,
	}, bus, recorder, logger)

	// The file channel keeps the dashboard's command file working; Redis is
	// what the API and Telegram submit to when it is configured
	fileCommands := command.NewFileChannel(cfg.Persistence.CommandFile)
	commands := command.Multi{fileCommands}
	var submitter command.Submitter = fileCommands
	if redisClient != nil {
		redisCommands := command.NewRedisChannel(redisClient, cfg.Redis.KeyPrefix)
		commands = append(commands, redisCommands)
		submitter = redisCommands
	}

	deps := orchestrator.Deps{
		Gateway:   gateway,
		Signals:   signals,
		Governor:  governor,
		Executor:  executor,
		Commands:  commands,
		Snapshots: snapshots,
		Recorder:  recorder,
		Bus:       bus,
		Logger:    logger,
	}
	if redisClient != nil {
		deps.Lifecycles = database.NewRedisPositionStateRepository(redisClient, cfg.Redis.KeyPrefix, logger)
		deps.RunState = database.NewRedisRunStateRepository(redisClient, cfg.Redis.KeyPrefix, logger)
	}
	agent := orchestrator.New(cfg, deps)

	notifier := notification.NewManager(logger)
	telegram, err := notification.NewTelegramNotifier(notification.TelegramConfig{
		Token:   cfg.Telegram.Token,
		ChatID:  cfg.Telegram.ChatID,
		Enabled: cfg.Telegram.Enabled,
	}, func() string {
		snap, err := snapshots.Latest()
		if err != nil {
			return "No cycle has completed yet"
		}
		return notification.FormatStatus(snap)
	}, submitter, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Telegram disabled")
	} else if telegram.IsEnabled() {
		notifier.AddNotifier(telegram)
	}
	notifier.Attach(bus)

	if err := agent.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := agent.Run(gctx)
		// A single-cycle run takes the servers down with it
		if cfg.Orchestrator.Once {
			cancel()
		}
		return err
	})

	if telegram != nil && telegram.IsEnabled() {
		g.Go(func() error {
			go telegram.Start()
			<-gctx.Done()
			telegram.Stop()
			return nil
		})
	}

	if cfg.API.Enabled {
		authCfg := auth.DefaultConfig()
		authCfg.JWTSecret = cfg.API.JWTSecret
		authCfg.OperatorPasswordHash = cfg.API.OperatorPasswordHash
		if cfg.API.TokenTTLMinutes > 0 {
			authCfg.AccessTokenDuration = time.Duration(cfg.API.TokenTTLMinutes) * time.Minute
		}
		server := api.NewServer(api.ServerConfig{
			Host:           cfg.API.Host,
			Port:           cfg.API.Port,
			ProductionMode: cfg.API.ProductionMode,
			AllowedOrigins: cfg.API.AllowedOrigins,
			ServeMetrics:   cfg.Metrics.Enabled,
		}, api.Deps{
			Snapshots: snapshots,
			Commands:  submitter,
			Breaker:   breaker,
			Auth:      auth.NewService(authCfg, logger),
			Bus:       bus,
			Logger:    logger,
		})
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	} else if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.Metrics.Address).Msg("Serving metrics")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// buildGateway returns the live futures gateway, or a paper gateway that
// fills locally on top of live market data
func buildGateway(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (binance.Gateway, error) {
	futures := binance.NewFuturesGateway(binance.FuturesGatewayConfig{
		APIKey:            cfg.Exchange.APIKey,
		SecretKey:         cfg.Exchange.SecretKey,
		TestNet:           cfg.Exchange.TestNet,
		RequestTimeout:    cfg.Exchange.RequestTimeout(),
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Burst:             cfg.Exchange.RequestBurst,
	}, logger)

	if cfg.Exchange.PaperTrading {
		logger.Warn().Float64("balance", cfg.Exchange.PaperBalance).Msg("PAPER TRADING: orders are simulated")
		return binance.NewPaperGateway(futures, binance.PaperConfig{
			Balance:  cfg.Exchange.PaperBalance,
			FeeRate:  cfg.Execution.FeeRate,
			Leverage: cfg.Exchange.Leverage,
		}, logger), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Exchange.RequestTimeout())
	defer cancel()
	if err := futures.EnsureOneWayMode(callCtx); err != nil {
		return nil, fmt.Errorf("set one-way position mode: %w", err)
	}
	logger.Warn().Bool("testnet", cfg.Exchange.TestNet).Msg("LIVE TRADING: orders go to the exchange")
	return futures, nil
}
