package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dex-trading-bot/config"
	"dex-trading-bot/internal/api"
	"dex-trading-bot/internal/auth"
	"dex-trading-bot/internal/bot"
	"dex-trading-bot/internal/database"
	"dex-trading-bot/internal/events"
	"dex-trading-bot/internal/logging"
	"dex-trading-bot/internal/marketfeed"
	"dex-trading-bot/internal/metrics"
	"dex-trading-bot/internal/notification"
	"dex-trading-bot/internal/order"
	"dex-trading-bot/internal/risk"
	"dex-trading-bot/internal/strategy"
	"dex-trading-bot/internal/vault"
	"dex-trading-bot/internal/venue"
)

func main() {
	configPath := flag.String("config", os.Getenv("BOT_CONFIG_FILE"), "path to a json/yaml/toml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := cfg.Logging
	logCfg.Component = "main"
	logger := logging.New(&logCfg)
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Trading bot exited with error")
	}
	logger.Info().Msg("Shutdown complete")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus(logger)
	metrics.Attach(bus)

	signer, err := loadSigner(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info().Str("address", signer.Address()).Msg("Signer loaded")

	// Persistence is optional; without it the session starts from the configured balance.
	var repo *database.Repository
	var snapshot *risk.Snapshot
	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, cfg.Database.Config, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		repo = database.NewRepository(db, cfg.Trading.SessionID)

		snapshot, err = repo.LoadRiskSnapshot(ctx)
		switch {
		case errors.Is(err, database.ErrNoSnapshot):
			logger.Info().Str("session", cfg.Trading.SessionID).Msg("No saved risk state, starting fresh")
		case err != nil:
			return fmt.Errorf("failed to load risk state: %w", err)
		default:
			logger.Info().Str("session", cfg.Trading.SessionID).Time("saved_at", snapshot.SavedAt).Msg("Restoring risk state")
		}
	}

	riskOpts := []risk.Option{risk.WithEventBus(bus)}
	if snapshot != nil {
		riskOpts = append(riskOpts, risk.WithSnapshot(snapshot))
	}
	engine, err := risk.NewEngine(cfg.Risk, cfg.Trading.InitialBalance, logger, riskOpts...)
	if err != nil {
		return err
	}

	coordinator, err := strategy.NewCoordinator(cfg.Coordinator, []strategy.Strategy{
		strategy.NewBreakout(cfg.Strategies.Breakout),
		strategy.NewSupport(cfg.Strategies.Support),
		strategy.NewRSIReversal(cfg.Strategies.RSI),
	}, logger, strategy.WithEventBus(bus))
	if err != nil {
		return err
	}

	var tradingBot *bot.TradingBot
	builder, err := venue.NewBuilder(signer, cfg.Risk.SlippageBps, func(symbol string) (float64, bool) {
		return tradingBot.LatestPrice(symbol)
	})
	if err != nil {
		return err
	}

	orderOpts := []order.Option{order.WithExitBuilder(builder), order.WithEventBus(bus)}
	if cfg.Redis.Enabled {
		client, err := database.NewRedisClient(ctx, cfg.Redis.RedisConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		tracker := database.NewRedisOrderTracker(client, cfg.Redis.PendingTTL, logger)
		reportStale(ctx, tracker, logger)
		orderOpts = append(orderOpts, order.WithTracker(tracker))
	}

	paper := venue.NewPaper(cfg.Trading.Paper, logger)
	orders, err := order.NewManager(cfg.Orders, paper, paper, logger, orderOpts...)
	if err != nil {
		return err
	}
	defer orders.Close()

	deps := bot.Deps{
		Risk:        engine,
		Coordinator: coordinator,
		Orders:      orders,
		Builder:     builder,
		Exits:       risk.NewExitMonitor(cfg.Exits, logger),
		Bus:         bus,
	}
	if repo != nil {
		deps.Store = repo
	}
	tradingBot, err = bot.NewTradingBot(cfg.Trading.Config, deps, logger)
	if err != nil {
		return err
	}

	// The bridge outlives ctx so alerts published while stopping are still delivered.
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()
	if cfg.Notification.Enabled {
		bridge, closeNotifiers := setupNotifications(cfg, logger)
		bridge.Attach(bus)
		bridge.Start(bridgeCtx)
		defer func() {
			stopBridge()
			bridge.Wait()
			closeNotifiers()
		}()
	}

	var server *api.Server
	if cfg.Server.Enabled {
		server, err = setupServer(cfg, engine, coordinator, orders, repo, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("Admin API stopped")
			}
		}()
	}

	var feed *marketfeed.Client
	if cfg.Feed.Enabled {
		feed, err = marketfeed.NewClient(cfg.Feed.Config, marketfeed.Handlers{
			OnMarketEvent: func(ev strategy.MarketEvent) {
				if _, err := tradingBot.HandleMarketEvent(ctx, ev); err != nil {
					logger.Warn().Err(err).Str("symbol", ev.Symbol).Msg("Market event not processed")
				}
			},
			OnBalance: tradingBot.OnBalance,
		}, logger)
		if err != nil {
			return err
		}
	}

	tradingBot.Start(ctx)

	feedDone := make(chan struct{})
	if feed != nil {
		go func() {
			defer close(feedDone)
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Market feed stopped")
			}
		}()
	} else {
		close(feedDone)
		logger.Warn().Msg("Market feed disabled, waiting for operator commands only")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Admin API shutdown failed")
		}
		cancel()
	}
	<-feedDone
	tradingBot.Stop()
	return nil
}

func loadSigner(ctx context.Context, cfg *config.Config) (*venue.Signer, error) {
	seed := cfg.Signer.Seed
	if seed == "" {
		client, err := vault.NewClient(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault client: %w", err)
		}
		seed, err = client.LoadSignerSeed(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load signer seed from vault: %w", err)
		}
	}
	raw, err := venue.ParseSeed(seed)
	if err != nil {
		return nil, err
	}
	return venue.NewSigner(raw)
}

func reportStale(ctx context.Context, tracker *database.RedisOrderTracker, logger zerolog.Logger) {
	stale, err := tracker.SweepStale(ctx, time.Now())
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to sweep pending order mirror")
		return
	}
	for _, info := range stale {
		logger.Warn().
			Str("signature", info.Signature).
			Str("symbol", info.Symbol).
			Msg("Pending order from a previous run was never confirmed")
	}
}

func setupNotifications(cfg *config.Config, logger zerolog.Logger) (*notification.Bridge, func()) {
	manager := notification.NewManager(notification.ParseSeverity(cfg.Notification.MinSeverity), logger)
	closers := []func() error{}

	if cfg.Notification.Telegram.Enabled {
		manager.AddNotifier(notification.NewTelegramNotifier(cfg.Notification.Telegram))
		logger.Info().Msg("Telegram notifications enabled")
	}
	if cfg.Notification.Discord.Enabled {
		manager.AddNotifier(notification.NewDiscordNotifier(cfg.Notification.Discord))
		logger.Info().Msg("Discord notifications enabled")
	}
	if cfg.Notification.Kafka.Enabled {
		kafka := notification.NewKafkaNotifier(cfg.Notification.Kafka)
		manager.AddNotifier(kafka)
		closers = append(closers, kafka.Close)
		logger.Info().Strs("brokers", cfg.Notification.Kafka.Brokers).Str("topic", cfg.Notification.Kafka.Topic).Msg("Kafka notifications enabled")
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close notifier")
			}
		}
	}
	return notification.NewBridge(manager, cfg.Notification.QueueSize, logger), closeAll
}

func setupServer(cfg *config.Config, engine *risk.Engine, coordinator *strategy.Coordinator, orders *order.Manager, repo *database.Repository, logger zerolog.Logger) (*api.Server, error) {
	deps := api.Deps{
		Risk:       engine,
		Strategies: coordinator,
		Orders:     orders,
	}
	if repo != nil {
		deps.Health = repo
	}
	if cfg.Auth.Enabled {
		jwtManager, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT manager: %w", err)
		}
		deps.JWT = jwtManager
	}
	return api.NewServer(cfg.Server.ServerConfig, deps, logger)
}
