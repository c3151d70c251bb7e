package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the trading adapter
type Config struct {
	Binance Binance `json:"binance"`
	Adapter Adapter `json:"adapter"`
	Server  Server  `json:"server"`
	Logging Logging `json:"logging"`
}

// Binance holds venue API configuration
type Binance struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`

	BaseURL string `json:"base_url"`
	WSURL   string `json:"ws_url"`

	Testnet    bool          `json:"testnet"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	RecvWindow int64         `json:"recv_window"`

	// Requests per second for the non-order (account/market data) client.
	// The order placement client is not throttled here; the dispatch
	// queue enforces the order-count windows.
	PublicRPS float64 `json:"public_rps"`
}

// Adapter holds the adapter's runtime settings
type Adapter struct {
	TickInterval     time.Duration `json:"tick_interval"`
	PingInterval     time.Duration `json:"ping_interval"`
	ListenKeyRenewal time.Duration `json:"listen_key_renewal"`
}

// Server holds the status HTTP server configuration
type Server struct {
	Enabled         bool          `json:"enabled"`
	Port            int           `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json or console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Binance: Binance{
			APIKey:     getEnv("BINANCE_API_KEY", ""),
			SecretKey:  getEnv("BINANCE_SECRET_KEY", ""),
			BaseURL:    getEnv("BINANCE_FUTURES_BASE_URL", "https://fapi.binance.com"),
			WSURL:      getEnv("BINANCE_FUTURES_WS_URL", "wss://fstream.binance.com/ws"),
			Testnet:    getEnvAsBool("BINANCE_TESTNET", false),
			Timeout:    getEnvAsDuration("BINANCE_TIMEOUT", "10s"),
			MaxRetries: getEnvAsInt("BINANCE_MAX_RETRIES", 3),
			RecvWindow: getEnvAsInt64("BINANCE_RECV_WINDOW", 5000),
			PublicRPS:  getEnvAsFloat("BINANCE_PUBLIC_RPS", 3),
		},
		Adapter: Adapter{
			TickInterval:     getEnvAsDuration("ADAPTER_TICK_INTERVAL", "5s"),
			PingInterval:     getEnvAsDuration("ADAPTER_PING_INTERVAL", "10s"),
			ListenKeyRenewal: getEnvAsDuration("ADAPTER_LISTEN_KEY_RENEWAL", "30m"),
		},
		Server: Server{
			Enabled:         getEnvAsBool("SERVER_ENABLED", true),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", "15s"),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", "10s"),
		},
		Logging: Logging{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}

	if config.Binance.Testnet {
		config.Binance.BaseURL = getEnv("BINANCE_FUTURES_BASE_URL", "https://testnet.binancefuture.com")
		config.Binance.WSURL = getEnv("BINANCE_FUTURES_WS_URL", "wss://stream.binancefuture.com/ws")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Binance.APIKey == "" {
		return fmt.Errorf("BINANCE_API_KEY is required")
	}
	if c.Binance.SecretKey == "" {
		return fmt.Errorf("BINANCE_SECRET_KEY is required")
	}
	if c.Binance.PublicRPS <= 0 {
		return fmt.Errorf("public RPS must be positive")
	}
	if c.Adapter.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Adapter.ListenKeyRenewal <= 0 {
		return fmt.Errorf("listen key renewal interval must be positive")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if int64Value, err := strconv.ParseInt(value, 10, 64); err == nil {
			return int64Value
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
