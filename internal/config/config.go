package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	// Trading loop
	Symbols        []string      `env:"SYMBOLS" envDefault:""`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"14"`
	LoopInterval   time.Duration `env:"LOOP_INTERVAL" envDefault:"5s"`
	TradeThreshold float64       `env:"TRADE_THRESHOLD" envDefault:"0.45"`
	ScoreThreshold float64       `env:"SCORE_THRESHOLD" envDefault:"0.3"`
	InitialBalance float64       `env:"INITIAL_BALANCE" envDefault:"1000"`
	StateFile      string        `env:"STATE_FILE" envDefault:"trading_state.json"`

	// Indicator periods
	RSIPeriod        int     `env:"RSI_PERIOD" envDefault:"14"`
	MACDFastPeriod   int     `env:"MACD_FAST_PERIOD" envDefault:"12"`
	MACDSlowPeriod   int     `env:"MACD_SLOW_PERIOD" envDefault:"26"`
	MACDSignalPeriod int     `env:"MACD_SIGNAL_PERIOD" envDefault:"9"`
	BBPeriod         int     `env:"BB_PERIOD" envDefault:"20"`
	BBStdDev         float64 `env:"BB_STD_DEV" envDefault:"2.0"`
	EMAShortPeriod   int     `env:"EMA_SHORT_PERIOD" envDefault:"12"`
	EMALongPeriod    int     `env:"EMA_LONG_PERIOD" envDefault:"26"`
	ATRPeriod        int     `env:"ATR_PERIOD" envDefault:"14"`
	ATRMultiplier    float64 `env:"ATR_MULTIPLIER" envDefault:"2.0"`
	VolumeBins       int     `env:"VOLUME_BINS" envDefault:"100"`

	// Adaptive weighting
	MinWeight            float64       `env:"MIN_WEIGHT" envDefault:"0.05"`
	MaxWeight            float64       `env:"MAX_WEIGHT" envDefault:"0.40"`
	WeightUpdateInterval time.Duration `env:"WEIGHT_UPDATE_INTERVAL" envDefault:"300s"`

	// Outbound HTTP
	RequestsPerSec int           `env:"REQUESTS_PER_SEC" envDefault:"5"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// Optional LLM advisory (disabled when URL is empty)
	AdvisorURL     string        `env:"ADVISOR_URL" envDefault:""`
	AdvisorModel   string        `env:"ADVISOR_MODEL" envDefault:"llama3"`
	AdvisorTimeout time.Duration `env:"ADVISOR_TIMEOUT" envDefault:"30s"`
	AdvisorRetries int           `env:"ADVISOR_RETRIES" envDefault:"3"`

	// Optional PostgreSQL store (in-memory only when host is empty)
	DBHost     string `env:"DB_HOST" envDefault:""`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:""`
	DBName     string `env:"DB_NAME" envDefault:"papertrade"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// Optional Telegram notifications (disabled when token is empty)
	TelegramToken  string `env:"TELEGRAM_TOKEN" envDefault:""`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID" envDefault:"0"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	cfg := Config{
		Symbols:        getEnvListWithDefault("SYMBOLS", nil),
		BatchSize:      getEnvIntWithDefault("BATCH_SIZE", 14),
		LoopInterval:   getEnvDurationWithDefault("LOOP_INTERVAL", 5*time.Second),
		TradeThreshold: getEnvFloatWithDefault("TRADE_THRESHOLD", 0.45),
		ScoreThreshold: getEnvFloatWithDefault("SCORE_THRESHOLD", 0.3),
		InitialBalance: getEnvFloatWithDefault("INITIAL_BALANCE", 1000),
		StateFile:      getEnvWithDefault("STATE_FILE", "trading_state.json"),

		RSIPeriod:        getEnvIntWithDefault("RSI_PERIOD", 14),
		MACDFastPeriod:   getEnvIntWithDefault("MACD_FAST_PERIOD", 12),
		MACDSlowPeriod:   getEnvIntWithDefault("MACD_SLOW_PERIOD", 26),
		MACDSignalPeriod: getEnvIntWithDefault("MACD_SIGNAL_PERIOD", 9),
		BBPeriod:         getEnvIntWithDefault("BB_PERIOD", 20),
		BBStdDev:         getEnvFloatWithDefault("BB_STD_DEV", 2.0),
		EMAShortPeriod:   getEnvIntWithDefault("EMA_SHORT_PERIOD", 12),
		EMALongPeriod:    getEnvIntWithDefault("EMA_LONG_PERIOD", 26),
		ATRPeriod:        getEnvIntWithDefault("ATR_PERIOD", 14),
		ATRMultiplier:    getEnvFloatWithDefault("ATR_MULTIPLIER", 2.0),
		VolumeBins:       getEnvIntWithDefault("VOLUME_BINS", 100),

		MinWeight:            getEnvFloatWithDefault("MIN_WEIGHT", 0.05),
		MaxWeight:            getEnvFloatWithDefault("MAX_WEIGHT", 0.40),
		WeightUpdateInterval: getEnvDurationWithDefault("WEIGHT_UPDATE_INTERVAL", 300*time.Second),

		RequestsPerSec: getEnvIntWithDefault("REQUESTS_PER_SEC", 5),
		RequestTimeout: getEnvDurationWithDefault("REQUEST_TIMEOUT", 30*time.Second),

		AdvisorURL:     os.Getenv("ADVISOR_URL"),
		AdvisorModel:   getEnvWithDefault("ADVISOR_MODEL", "llama3"),
		AdvisorTimeout: getEnvDurationWithDefault("ADVISOR_TIMEOUT", 30*time.Second),
		AdvisorRetries: getEnvIntWithDefault("ADVISOR_RETRIES", 3),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnvWithDefault("DB_PORT", "5432"),
		DBUser:     getEnvWithDefault("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnvWithDefault("DB_NAME", "papertrade"),
		DBSSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),

		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: getEnvInt64WithDefault("TELEGRAM_CHAT_ID", 0),

		LogLevel: getEnvWithDefault("LOG_LEVEL", "info"),
	}

	return &cfg, nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvListWithDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64WithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
