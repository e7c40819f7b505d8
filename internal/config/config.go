package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds application configuration
type Config struct {
	DatabaseURL          string
	ServerPort           string
	BaseURL              string
	FrontendURL          string
	RedisURL             string
	RabbitMQURL          string
	RabbitMQPrefetch     int
	TokenSecret          string
	MagicLinkSecret      string
	TokenIssuer          string
	EmailProviderURL     string
	EmailProviderKey     string
	EmailFromAddress     string
	AnonFingerprintIdem  bool
	EnableHSTS           bool
	ServerDebugMode      bool
	WorkerDebugMode      bool
	OTELEnabled          bool
	OTELEndpoint         string
	AdminAPIKey          string
	MagicLinkRequestRate string
	OAuthCallbackRate    string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		ServerPort:           getEnv("SERVER_PORT", "8080"),
		BaseURL:              getEnv("BASE_URL", "http://localhost:8080"),
		FrontendURL:          getEnv("FRONTEND_URL", "http://localhost:3000"),
		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RabbitMQURL:          getEnv("RABBITMQ_URL", ""),
		RabbitMQPrefetch:     getEnvInt("RABBITMQ_PREFETCH", 1),
		TokenSecret:          getEnv("TOKEN_SECRET", ""),
		MagicLinkSecret:      getEnv("MAGIC_LINK_SECRET", ""),
		TokenIssuer:          getEnv("TOKEN_ISSUER", "quantpulse-identity"),
		EmailProviderURL:     getEnv("EMAIL_PROVIDER_URL", ""),
		EmailProviderKey:     getEnv("EMAIL_PROVIDER_KEY", ""),
		EmailFromAddress:     getEnv("EMAIL_FROM_ADDRESS", "no-reply@quantpulse.io"),
		AnonFingerprintIdem:  getEnvBool("ANON_FINGERPRINT_IDEMPOTENT", false),
		EnableHSTS:           getEnvBool("ENABLE_HSTS", true),
		ServerDebugMode:      getEnvBool("SERVER_DEBUG_MODE", false),
		WorkerDebugMode:      getEnvBool("WORKER_DEBUG_MODE", false),
		OTELEnabled:          getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:         getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		AdminAPIKey:          getEnv("ADMIN_API_KEY", ""),
		MagicLinkRequestRate: getEnv("MAGIC_LINK_REQUEST_RATE", "5-H"),
		OAuthCallbackRate:    getEnv("OAUTH_CALLBACK_RATE", "20-M"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required for signing session tokens")
	}

	if cfg.MagicLinkSecret == "" {
		// Single-secret deployments sign links with the token secret.
		cfg.MagicLinkSecret = cfg.TokenSecret
	}

	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required for magic-link email dispatch")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
