package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr         string
	StoreMode          string
	DatabaseURL        string
	TokenEncryptionKey string
	AdminUsername      string
	AdminPassword      string
	JWTSecret          string

	GatewayBaseURL       string
	GatewayTimeout       time.Duration
	GatewayMaxRetries    int
	GatewayRetryBase     time.Duration
	GatewayRetryMax      time.Duration
	GatewayProbeAmount   float64
	GatewayWebhookSecret string

	LedgerBaseURL    string
	LedgerTimeout    time.Duration
	LedgerMaxRetries int
	LedgerRetryBase  time.Duration
	LedgerRetryMax   time.Duration

	WidgetMountTimeout time.Duration

	MaxPaymentAmount   float64
	OfflineMethods     string
	DefaultUndeposited bool

	TelegramBotToken string
	TelegramChatID   string
}

func Load() Config {
	return Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":18090"),
		StoreMode:          getEnv("STORE_MODE", "postgres"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:      getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:          getEnv("JWT_SECRET", "change-this-secret"),

		GatewayBaseURL:       getEnv("GATEWAY_BASE_URL", ""),
		GatewayTimeout:       getDuration("GATEWAY_TIMEOUT", 10*time.Second),
		GatewayMaxRetries:    getInt("GATEWAY_MAX_RETRIES", 2),
		GatewayRetryBase:     getDuration("GATEWAY_RETRY_BASE", 500*time.Millisecond),
		GatewayRetryMax:      getDuration("GATEWAY_RETRY_MAX", 5*time.Second),
		GatewayProbeAmount:   getFloat("GATEWAY_PROBE_AMOUNT", 0.01),
		GatewayWebhookSecret: getEnv("GATEWAY_WEBHOOK_SECRET", ""),

		LedgerBaseURL:    getEnv("LEDGER_BASE_URL", ""),
		LedgerTimeout:    getDuration("LEDGER_TIMEOUT", 15*time.Second),
		LedgerMaxRetries: getInt("LEDGER_MAX_RETRIES", 0),
		LedgerRetryBase:  getDuration("LEDGER_RETRY_BASE", 500*time.Millisecond),
		LedgerRetryMax:   getDuration("LEDGER_RETRY_MAX", 5*time.Second),

		WidgetMountTimeout: getDuration("WIDGET_MOUNT_TIMEOUT", 15*time.Second),

		MaxPaymentAmount:   getFloat("MAX_PAYMENT_AMOUNT", 100000),
		OfflineMethods:     getEnv("OFFLINE_METHODS", "check,ach,wire"),
		DefaultUndeposited: getBool("DEFAULT_UNDEPOSITED_FUNDS", true),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
