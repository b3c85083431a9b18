package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// App Store configuration
	AppStoreSharedSecret string
	AppStoreBundleID     string
	AppleRootCAPath      string

	// Service authentication (backend-facing routes)
	APIKey string

	// Webhook configuration (entitlement change notifications)
	WebhookCallbackURL string
	WebhookSecret      string

	// Brevo email configuration (fraud alerts)
	BrevoAPIKey     string
	BrevoFromEmail  string
	FraudAlertEmail string

	// Validation tuning
	GatewayTimeoutSeconds int
	ReplayWindowMinutes   int
	ServiceName           string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                  getEnv("PORT", "8080"),
		Mode:                  getEnv("GIN_MODE", "debug"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379/0"),
		AppStoreSharedSecret:  getEnv("APPSTORE_SHARED_SECRET", ""),
		AppStoreBundleID:      getEnv("APPSTORE_BUNDLE_ID", "com.screentimeapp"),
		AppleRootCAPath:       getEnv("APPLE_ROOT_CA_PATH", ""),
		APIKey:                getEnv("API_KEY", ""),
		WebhookCallbackURL:    getEnv("WEBHOOK_CALLBACK_URL", ""),
		WebhookSecret:         getEnv("WEBHOOK_SECRET", ""),
		BrevoAPIKey:           getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:        getEnv("BREVO_FROM_EMAIL", ""),
		FraudAlertEmail:       getEnv("FRAUD_ALERT_EMAIL", ""),
		GatewayTimeoutSeconds: getEnvInt("GATEWAY_TIMEOUT_SECONDS", 30),
		ReplayWindowMinutes:   getEnvInt("REPLAY_WINDOW_MINUTES", 60),
		ServiceName:           getEnv("SERVICE_NAME", "Entitlement Service"),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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
