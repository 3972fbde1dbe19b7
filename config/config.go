package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoMultiBot/internal/adapters/logger" // Import the logger package for LogLevel
	"cryptoMultiBot/internal/domain"
)

// StrategySpec is one entry of the STRATEGIES bootstrap list.
type StrategySpec struct {
	Symbol string
	Mode   domain.Mode
}

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey       string
	SecretKey    string
	IsTestnet    bool
	HedgeMode    bool   // Must match the account's position mode on the exchange
	BalanceAsset string // Quote asset used for balance lookups

	// Engine
	TickInterval      time.Duration // Runner tick interval, independent of candle timeframe
	CallTimeout       time.Duration // Hard per-call timeout on every exchange request
	ReconcileInterval time.Duration // How often the reconciler syncs against the exchange
	MaxStrategies     int           // Upper bound on concurrently running strategies

	// Trading Parameters
	Leverage        int
	TakerFeeRate    float64 // Taker fee as a fraction of notional (e.g., 0.0005 for 0.05%)
	PositionSizePct float64 // Fraction of available balance committed per entry
	MaxPositionSize float64 // Hard cap on position size in base asset units
	MaxOpenPosition int     // Max simultaneously open positions across all symbols
	MaxDailyLoss    float64 // Daily realized loss fraction of balance that halts new entries
	MinBalance      float64 // Minimum available balance required for new entries

	// Default protective levels, overridable per strategy via params
	DefaultStopLossPct   float64 // e.g., 0.02 for 2% below entry (long)
	DefaultTakeProfitPct float64 // e.g., 0.04 for 4% above entry (long)

	// Order retry policy for transient failures
	MaxOrderRetries int
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration

	// Database
	DBPath string

	// Redis snapshot mirror (optional; empty address disables it)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Dashboard history buffers
	SignalHistoryLimit int
	TradeHistoryLimit  int

	// Strategies to ensure running at startup (SYMBOL:mode entries). Symbols
	// restored from the database keep their persisted settings.
	Strategies []StrategySpec

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "console" or "json"

	// Tracing
	TracingEnabled bool
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.HedgeMode = getEnvAsBool("HEDGE_MODE", false)
	cfg.BalanceAsset = getEnv("BALANCE_ASSET", "USDT")

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Engine
	tickSeconds := getEnvAsInt("TICK_INTERVAL_SECONDS", 15)
	if tickSeconds <= 0 {
		errs = append(errs, "TICK_INTERVAL_SECONDS must be positive")
	}
	cfg.TickInterval = time.Duration(tickSeconds) * time.Second

	callTimeoutSeconds := getEnvAsInt("CALL_TIMEOUT_SECONDS", 5)
	if callTimeoutSeconds <= 0 {
		errs = append(errs, "CALL_TIMEOUT_SECONDS must be positive")
	}
	cfg.CallTimeout = time.Duration(callTimeoutSeconds) * time.Second

	reconcileSeconds := getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 30)
	if reconcileSeconds <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL_SECONDS must be positive")
	}
	cfg.ReconcileInterval = time.Duration(reconcileSeconds) * time.Second

	cfg.MaxStrategies, err = getEnvAsIntRequired("MAX_STRATEGIES", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_STRATEGIES: %v", err))
	} else if cfg.MaxStrategies <= 0 {
		errs = append(errs, "MAX_STRATEGIES must be positive")
	}

	// Trading Parameters
	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 4)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.TakerFeeRate, err = getEnvAsFloatRequired("TAKER_FEE_RATE", 0.0005)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKER_FEE_RATE: %v", err))
	} else if cfg.TakerFeeRate < 0 || cfg.TakerFeeRate >= 0.01 {
		errs = append(errs, "TAKER_FEE_RATE must be between 0.0 and 0.01")
	}

	cfg.PositionSizePct, err = getEnvAsFloatRequired("POSITION_SIZE_PCT", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POSITION_SIZE_PCT: %v", err))
	} else if cfg.PositionSizePct <= 0 || cfg.PositionSizePct > 1.0 {
		errs = append(errs, "POSITION_SIZE_PCT must be between 0.0 and 1.0")
	}

	cfg.MaxPositionSize, err = getEnvAsFloatRequired("MAX_POSITION_SIZE", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_SIZE: %v", err))
	} else if cfg.MaxPositionSize <= 0 {
		errs = append(errs, "MAX_POSITION_SIZE must be positive")
	}

	cfg.MaxOpenPosition = getEnvAsInt("MAX_OPEN_POSITIONS", 5)
	if cfg.MaxOpenPosition <= 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS must be positive")
	}

	cfg.MaxDailyLoss, err = getEnvAsFloatRequired("MAX_DAILY_LOSS", 0.05)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_LOSS: %v", err))
	} else if cfg.MaxDailyLoss <= 0 || cfg.MaxDailyLoss >= 1.0 {
		errs = append(errs, "MAX_DAILY_LOSS must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.MinBalance, err = getEnvAsFloatRequired("MIN_AVAILABLE_BALANCE", 100.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_AVAILABLE_BALANCE: %v", err))
	} else if cfg.MinBalance < 0 {
		errs = append(errs, "MIN_AVAILABLE_BALANCE cannot be negative")
	}

	cfg.DefaultStopLossPct, err = getEnvAsFloatRequired("DEFAULT_STOP_LOSS_PCT", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_STOP_LOSS_PCT: %v", err))
	} else if cfg.DefaultStopLossPct <= 0 || cfg.DefaultStopLossPct >= 1.0 {
		errs = append(errs, "DEFAULT_STOP_LOSS_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.DefaultTakeProfitPct, err = getEnvAsFloatRequired("DEFAULT_TAKE_PROFIT_PCT", 0.04)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_TAKE_PROFIT_PCT: %v", err))
	} else if cfg.DefaultTakeProfitPct <= 0 {
		errs = append(errs, "DEFAULT_TAKE_PROFIT_PCT must be positive")
	}

	// Order retry policy
	cfg.MaxOrderRetries = getEnvAsInt("MAX_ORDER_RETRIES", 3)
	if cfg.MaxOrderRetries < 0 {
		errs = append(errs, "MAX_ORDER_RETRIES cannot be negative")
	}
	retryMinMillis := getEnvAsInt("RETRY_BACKOFF_MIN_MS", 500)
	retryMaxMillis := getEnvAsInt("RETRY_BACKOFF_MAX_MS", 5000)
	if retryMinMillis <= 0 || retryMaxMillis < retryMinMillis {
		errs = append(errs, "retry backoff bounds must be positive and MIN <= MAX")
	}
	cfg.RetryBackoffMin = time.Duration(retryMinMillis) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(retryMaxMillis) * time.Millisecond

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trading_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Redis (optional)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)

	// Dashboard history buffers
	cfg.SignalHistoryLimit = getEnvAsInt("SIGNAL_HISTORY_LIMIT", 200)
	cfg.TradeHistoryLimit = getEnvAsInt("TRADE_HISTORY_LIMIT", 500)
	if cfg.SignalHistoryLimit <= 0 || cfg.TradeHistoryLimit <= 0 {
		errs = append(errs, "history limits must be positive")
	}

	// Strategy bootstrap list
	cfg.Strategies, err = parseStrategies(getEnv("STRATEGIES", ""))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STRATEGIES: %v", err))
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")
	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be 'console' or 'json'")
	}

	// Tracing
	cfg.TracingEnabled = getEnvAsBool("TRACING_ENABLED", false)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// parseStrategies parses a comma-separated list of SYMBOL:mode entries, e.g.
// "ETHUSDT:bull,BTCUSDT:scalp".
func parseStrategies(raw string) ([]StrategySpec, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var specs []StrategySpec
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid strategy entry %q, expected SYMBOL:mode", entry)
		}
		mode := domain.Mode(strings.ToLower(strings.TrimSpace(parts[1])))
		if !mode.IsValid() {
			return nil, fmt.Errorf("unknown strategy mode %q for symbol %s", parts[1], parts[0])
		}
		specs = append(specs, StrategySpec{
			Symbol: strings.ToUpper(strings.TrimSpace(parts[0])),
			Mode:   mode,
		})
	}
	return specs, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
