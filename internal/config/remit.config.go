package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr     string
	RedisAddr    string
	RedisPass    string
	KafkaBrokers []string
	JWTSecret    string

	// Policy knobs. These are configuration, not inferred business rules.
	AttemptTTL          time.Duration
	RateLockTTL         time.Duration
	RateSpreadBps       int64
	OTPTTL              time.Duration
	OTPMaxAttempts      int
	OTPAmountThreshold  float64 // USD-equivalent above which OTP is forced
	RiskBlockThreshold  float64 // hard ceiling for new-trust recipients
	RunnerInterval      time.Duration
	RunnerConcurrency   int64
	MaxRunFailures      int // consecutive failures before a schedule goes failed
	MaxRetriesPerDay    int
	FreePlanSchedules   int
	PlusPlanSchedules   int
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8041"),
		RedisAddr:    getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass:    getEnv("REDIS_PASS", ""),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),
		JWTSecret:    getEnv("JWT_SECRET", ""),

		AttemptTTL:         getEnvDuration("ATTEMPT_TTL", 2*time.Minute),
		RateLockTTL:        getEnvDuration("RATE_LOCK_TTL", 45*time.Second),
		RateSpreadBps:      getEnvInt64("RATE_SPREAD_BPS", 75),
		OTPTTL:             getEnvDuration("OTP_TTL", 5*time.Minute),
		OTPMaxAttempts:     getEnvInt("OTP_MAX_ATTEMPTS", 5),
		OTPAmountThreshold: getEnvFloat("OTP_AMOUNT_THRESHOLD", 500),
		RiskBlockThreshold: getEnvFloat("RISK_BLOCK_THRESHOLD", 10000),
		RunnerInterval:     getEnvDuration("RUNNER_INTERVAL", 5*time.Minute),
		RunnerConcurrency:  getEnvInt64("RUNNER_CONCURRENCY", 8),
		MaxRunFailures:     getEnvInt("SCHEDULE_MAX_FAILURES", 3),
		MaxRetriesPerDay:   getEnvInt("RUNNER_MAX_RETRIES_PER_DAY", 4),
		FreePlanSchedules:  getEnvInt("FREE_PLAN_SCHEDULES", 1),
		PlusPlanSchedules:  getEnvInt("PLUS_PLAN_SCHEDULES", 10),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
