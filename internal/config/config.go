package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr              string
	LogLevel          string
	RoutingConfigPath string
	RedisURL          string
	OTLPEndpoint      string

	// Per-provider retry budget before failover moves on.
	MaxTries uint

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	RateLimitRPM   int

	// Graceful shutdown
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration

	// Horizontal scaling features
	UseDistributedHealth bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                 getEnv("ADDR", ":8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		RoutingConfigPath:    getEnv("ROUTING_CONFIG", "routing.json"),
		RedisURL:             getEnv("REDIS_URL", ""),
		OTLPEndpoint:         getEnv("OTLP_ENDPOINT", ""),
		MaxTries:             uint(getIntEnv("MAX_TRIES", 3)),
		RequestTimeout:       getDurationEnv("REQUEST_TIMEOUT", 300*time.Second),
		CacheTTL:             getDurationEnv("CACHE_TTL", 300*time.Second),
		RateLimitRPM:         getIntEnv("RATE_LIMIT_RPM", 0),
		ShutdownTimeout:      getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:         getDurationEnv("DRAIN_TIMEOUT", 15*time.Second),
		UseDistributedHealth: getEnv("USE_DISTRIBUTED_HEALTH", "false") == "true",
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
