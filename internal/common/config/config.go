package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/uma-arai/sbcntr-parking/internal/common/database"
	"github.com/uma-arai/sbcntr-parking/internal/common/tracing"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	localJWTSecret = "local_dev_secret"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	SpaceTTL time.Duration
}

type HTTPConfig struct {
	Port         string
	JWTSecret    string
	RateLimitRPS float64
}

type ReservationConfig struct {
	TaxRate       float64
	ProcessingFee float64
	CheckInLead   time.Duration
	AutoConfirm   bool
}

type Config struct {
	Env   string
	Store string
	// SeedFile はメモリストアに読み込むスペース定義のJSONファイルです
	SeedFile    string
	DB          database.Config
	Redis       RedisConfig
	HTTP        HTTPConfig
	Reservation ReservationConfig
	SFN         struct {
		TaskToken string
	}
	EnableTracing bool
}

// IsLocal はローカル実行かを返します
func (c *Config) IsLocal() bool {
	return strings.EqualFold(c.Env, "LOCAL")
}

// ValidateHTTP はAPIサーバーの起動に必要な設定を確認します
// バッチは JWT_SECRET を使わないため LoadConfig では確認しません
func (c *Config) ValidateHTTP() error {
	if c.HTTP.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when ENV is %s", c.Env)
	}
	return nil
}

// LoadConfig は設定を読み込みます
// カレントディレクトリに .env があれば先に読み込み、既存の環境変数は上書きしません
func LoadConfig(taskToken string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Failed to load .env file: %v", err)
	}

	cfg := &Config{
		Env:      getEnvOrDefault("ENV", "LOCAL"),
		Store:    getEnvOrDefault("STORE", StorePostgres),
		SeedFile: os.Getenv("STORE_SEED_FILE"),
		DB: database.Config{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvAsIntOrDefault("DB_PORT", 5432),
			UserName: getEnvOrDefault("DB_USERNAME", "sbcntrapp"),
			Password: getEnvOrDefault("DB_PASSWORD", "password"),
			DBName:   getEnvOrDefault("DB_NAME", "sbcntrapp"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvAsIntOrDefault("REDIS_DB", 0),
			SpaceTTL: getEnvAsDurationOrDefault("SPACE_CACHE_TTL", time.Minute),
		},
		HTTP: HTTPConfig{
			Port:         getEnvOrDefault("HTTP_PORT", "8080"),
			JWTSecret:    os.Getenv("JWT_SECRET"),
			RateLimitRPS: getEnvAsFloatOrDefault("RATE_LIMIT_RPS", 20),
		},
		Reservation: ReservationConfig{
			TaxRate:       getEnvAsFloatOrDefault("RESERVATION_TAX_RATE", 0.08),
			ProcessingFee: getEnvAsFloatOrDefault("RESERVATION_PROCESSING_FEE", 2.50),
			CheckInLead:   getEnvAsDurationOrDefault("RESERVATION_CHECKIN_LEAD", 15*time.Minute),
			AutoConfirm:   getEnvAsBoolOrDefault("RESERVATION_AUTO_CONFIRM", false),
		},
		EnableTracing: false,
	}
	cfg.SFN.TaskToken = taskToken

	// 署名鍵の既定値はローカル実行の場合のみ使う
	if cfg.HTTP.JWTSecret == "" && cfg.IsLocal() {
		log.Printf("Environment variable JWT_SECRET is not set, using local default value")
		cfg.HTTP.JWTSecret = localJWTSecret
	}

	// 環境変数[SBCNTR_ENABLE_TRACING]を見てトレースを有効にする。対応しているTracingはAWS_XRAYのみ。
	// 環境変数[AWS_XRAY_SDK_DISABLED]がtrueの場合は必ずトレースを無効にする。
	enableKey := os.Getenv("SBCNTR_ENABLE_TRACING")
	if !sdkDisabled() && (strings.ToLower(enableKey) == "true" || enableKey == "1") {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "FALSE")
		cfg.EnableTracing = true
	} else {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
		cfg.EnableTracing = false
	}
	tracing.Enable(cfg.EnableTracing)

	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		return nil, errors.New("STORE must be either postgres or memory")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	log.Printf("Environment variable %s is not set, using default value", key)
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("Environment variable %s is not an integer, using default value", key)
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("Environment variable %s is not a number, using default value", key)
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Environment variable %s is not a duration, using default value", key)
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// Check if SDK is disabled
func sdkDisabled() bool {
	disableKey := os.Getenv("AWS_XRAY_SDK_DISABLED")
	return strings.ToLower(disableKey) == "true"
}
