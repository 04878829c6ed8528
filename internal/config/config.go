package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	TxMaxAttempts         int
	SeedFile              string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	OrderCacheTTL         time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	StoreTimezone         string
	OrderTimeout          time.Duration
	KafkaBrokers          []string
	KafkaAuditTopic       string
	ServiceName           string
	OTelEndpoint          string
	OTelAuthHeader        string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		TxMaxAttempts:         getPositiveInt("TX_MAX_ATTEMPTS", 3),
		SeedFile:              strings.TrimSpace(os.Getenv("SEED_FILE")),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		OrderCacheTTL:         time.Duration(getPositiveInt("ORDER_CACHE_TTL_SECONDS", 300)) * time.Second,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		StoreTimezone:         getEnv("STORE_TIMEZONE", "UTC"),
		OrderTimeout:          time.Duration(getPositiveInt("ORDER_TIMEOUT_SECONDS", 10)) * time.Second,
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaAuditTopic:       getEnv("KAFKA_AUDIT_TOPIC", "storeops.audit"),
		ServiceName:           getEnv("SERVICE_NAME", "storeops-backend"),
		OTelEndpoint:          strings.TrimSpace(os.Getenv("OTEL_EXPORTER_ENDPOINT")),
		OTelAuthHeader:        os.Getenv("OTEL_AUTH_HEADER"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
