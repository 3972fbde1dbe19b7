package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptoMultiBot/config"
	"cryptoMultiBot/internal/adapters/binanceclient"
	"cryptoMultiBot/internal/adapters/logger"
	"cryptoMultiBot/internal/adapters/redistate"
	"cryptoMultiBot/internal/adapters/sqlite"
	"cryptoMultiBot/internal/app"
	"cryptoMultiBot/internal/dashboard"
	"cryptoMultiBot/internal/events"
	"cryptoMultiBot/internal/executor"
	"cryptoMultiBot/internal/risk"
	"cryptoMultiBot/internal/store"
	"cryptoMultiBot/internal/trace"
)

const (
	bootTimeout     = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger and Tracing
	appLogger := logger.NewZeroLogger(cfg.LogLevel, cfg.LogFormat)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{
		"level":  cfg.LogLevel.String(),
		"format": cfg.LogFormat,
	})
	if err := trace.Init(trace.Config{Enabled: cfg.TracingEnabled}); err != nil {
		appLogger.Warn(context.Background(), "Tracing disabled: exporter setup failed", map[string]interface{}{"error": err.Error()})
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := trace.Shutdown(flushCtx); err != nil {
			appLogger.Error(context.Background(), err, "Error flushing trace spans")
		}
	}()

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		HedgeMode:  cfg.HedgeMode,
		Asset:      cfg.BalanceAsset,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), bootTimeout)
	if err := binanceClient.Ping(bootCtx); err != nil {
		cancelBoot()
		appLogger.Error(context.Background(), err, "FATAL: Exchange unreachable")
		log.Fatalf("FATAL: Exchange unreachable: %v", err)
	}
	// Signed requests fail on clock drift, so sync the time offset up front.
	if err := binanceClient.SetServerTime(bootCtx); err != nil {
		cancelBoot()
		appLogger.Error(context.Background(), err, "FATAL: Failed to sync exchange server time")
		log.Fatalf("FATAL: Failed to sync exchange server time: %v", err)
	}
	cancelBoot()
	appLogger.Info(context.Background(), "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	// 5. Initialize Event Bus
	bus := events.NewBus()

	// 6. Initialize Position Store
	st, err := store.NewStore(store.Config{Repo: repo.Positions, Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize position store")
		log.Fatalf("FATAL: Failed to initialize position store: %v", err)
	}
	hydrateCtx, cancelHydrate := context.WithTimeout(context.Background(), bootTimeout)
	if err := st.Hydrate(hydrateCtx); err != nil {
		cancelHydrate()
		// Trading against a stale position view risks doubled entries.
		appLogger.Error(context.Background(), err, "FATAL: Failed to hydrate position store")
		log.Fatalf("FATAL: Failed to hydrate position store: %v", err)
	}
	cancelHydrate()
	appLogger.Info(context.Background(), "Position store hydrated", map[string]interface{}{"open_positions": st.Count()})

	// 7. Initialize Risk Manager
	riskMgr, err := risk.NewManager(risk.Config{
		PositionSizePct:  cfg.PositionSizePct,
		MaxPositionSize:  cfg.MaxPositionSize,
		MaxOpenPositions: cfg.MaxOpenPosition,
		MaxDailyLoss:     cfg.MaxDailyLoss,
		MinBalance:       cfg.MinBalance,
		StopLossPct:      cfg.DefaultStopLossPct,
		TakeProfitPct:    cfg.DefaultTakeProfitPct,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk manager")
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	// 8. Initialize Order Executor
	exec, err := executor.NewExecutor(executor.Config{
		Leverage:        cfg.Leverage,
		TakerFeeRate:    cfg.TakerFeeRate,
		MaxOrderRetries: cfg.MaxOrderRetries,
		RetryBackoffMin: cfg.RetryBackoffMin,
		RetryBackoffMax: cfg.RetryBackoffMax,
		CallTimeout:     cfg.CallTimeout,
	}, binanceClient, st, repo.Trades, bus, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize order executor")
		log.Fatalf("FATAL: Failed to initialize order executor: %v", err)
	}

	// 9. Initialize Strategy Manager and Reconciler
	manager, err := app.NewManager(app.ManagerConfig{
		MaxStrategies:   cfg.MaxStrategies,
		DefaultInterval: cfg.TickInterval,
		CallTimeout:     cfg.CallTimeout,
		Leverage:        cfg.Leverage,
	}, app.Deps{
		Feed:     binanceClient,
		Exchange: binanceClient,
		Store:    st,
		Executor: exec,
		Risk:     riskMgr,
		Configs:  repo.Configs,
		Signals:  repo.Signals,
		Bus:      bus,
		Logger:   appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize strategy manager")
		log.Fatalf("FATAL: Failed to initialize strategy manager: %v", err)
	}
	rec, err := app.NewReconciler(app.ReconcilerConfig{
		Interval:     cfg.ReconcileInterval,
		CallTimeout:  cfg.CallTimeout,
		TakerFeeRate: cfg.TakerFeeRate,
	}, binanceClient, st, repo.Trades, riskMgr, bus, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize reconciler")
		log.Fatalf("FATAL: Failed to initialize reconciler: %v", err)
	}

	// 10. Initialize Dashboard Read Model
	agg, err := dashboard.NewAggregator(dashboard.Config{
		SignalHistory: cfg.SignalHistoryLimit,
		TradeHistory:  cfg.TradeHistoryLimit,
	}, st, bus, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize dashboard aggregator")
		log.Fatalf("FATAL: Failed to initialize dashboard aggregator: %v", err)
	}
	historyCtx, cancelHistory := context.WithTimeout(context.Background(), bootTimeout)
	if err := agg.Hydrate(historyCtx, repo.Trades, repo.Signals); err != nil {
		// The read model is advisory; trading continues without history.
		appLogger.Warn(context.Background(), "Dashboard history not hydrated", map[string]interface{}{"error": err.Error()})
	}
	if pnl, err := repo.Trades.GetTotalPnL(historyCtx); err == nil {
		appLogger.Info(context.Background(), "Lifetime realized PnL", map[string]interface{}{"pnl": pnl})
	}
	cancelHistory()

	// 11. Initialize Redis State Mirror
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing Redis client")
			}
		}()
	}
	mirror, err := redistate.New(redistate.Config{Client: redisClient, Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Redis state mirror")
		log.Fatalf("FATAL: Failed to initialize Redis state mirror: %v", err)
	}

	// 12. Restore Persisted Strategies and Start Configured Ones
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.RestoreAll(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to restore persisted strategies")
		log.Fatalf("FATAL: Failed to restore persisted strategies: %v", err)
	}
	for _, spec := range cfg.Strategies {
		res := manager.Start(ctx, spec.Symbol, spec.Mode, cfg.TickInterval, nil)
		switch {
		case res.Started:
		case res.Reason == app.ReasonAlreadyRunning:
			appLogger.Debug(ctx, "Configured strategy already restored", map[string]interface{}{"symbol": spec.Symbol})
		default:
			appLogger.Warn(ctx, "Configured strategy not started", map[string]interface{}{
				"symbol": spec.Symbol, "reason": res.Reason,
			})
		}
	}

	go rec.Run(ctx)
	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := mirror.Publish(ctx, agg.Snapshot()); err != nil {
					appLogger.Warn(ctx, "Dashboard snapshot publish failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()

	// 13. Run Until Signalled
	appLogger.Info(ctx, "Trading engine running", map[string]interface{}{
		"strategies":    len(manager.Status()),
		"tick_interval": cfg.TickInterval.String(),
	})
	<-ctx.Done()
	stop()
	appLogger.Info(context.Background(), "Shutdown signal received, draining strategy runners")

	// Shutdown drains the runners but keeps the persisted configs, so the
	// next boot restores the same set.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	drained := manager.Shutdown(drainCtx)
	cancelDrain()

	publishCtx, cancelPublish := context.WithTimeout(context.Background(), 5*time.Second)
	if err := mirror.Publish(publishCtx, agg.Snapshot()); err != nil {
		appLogger.Warn(context.Background(), "Final snapshot publish failed", map[string]interface{}{"error": err.Error()})
	}
	cancelPublish()

	dayStats := riskMgr.Stats()
	appLogger.Info(context.Background(), "Daily realized stats at shutdown", map[string]interface{}{
		"pnl": dayStats.PnL, "trades": dayStats.Trades, "wins": dayStats.Wins, "losses": dayStats.Losses,
	})

	appLogger.Info(context.Background(), "Application finished gracefully.", map[string]interface{}{"drained": drained})
}
