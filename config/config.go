package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Gate defaults, used when an event carries no configuration of its own
	MaxConcurrentUsers int
	SessionTimeout     time.Duration
	CheckoutTimeout    time.Duration

	// Background task intervals
	QueuePositionUpdate time.Duration
	ExpirySweepInterval time.Duration
	CleanupInterval     time.Duration
	AbandonmentWindow   time.Duration

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Gate defaults
		MaxConcurrentUsers: getEnvAsInt("MAX_CONCURRENT_USERS", 10),
		SessionTimeout:     getEnvAsDuration("SESSION_TIMEOUT", "10m"),
		CheckoutTimeout:    getEnvAsDuration("CHECKOUT_TIMEOUT", "5m"),

		// Background tasks
		QueuePositionUpdate: getEnvAsDuration("QUEUE_POSITION_UPDATE", "2s"),
		ExpirySweepInterval: getEnvAsDuration("EXPIRY_SWEEP_INTERVAL", "15s"),
		CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", "1h"),
		AbandonmentWindow:   getEnvAsDuration("ABANDONMENT_WINDOW", "2h"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
