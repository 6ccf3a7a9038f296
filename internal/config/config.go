package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const sandboxGatewayURL = "https://sandbox.gateway.local/v1"
const productionGatewayURL = "https://production.gateway.local/v1"

// GatewayConfig is handed to the gateway client at construction time
type GatewayConfig struct {
	BaseURL    string
	PublicKey  string
	PrivateKey string
	Sandbox    bool
	Timeout    time.Duration

	// AcceptanceTokenTTL bounds how long a fetched merchant acceptance token is reused
	AcceptanceTokenTTL time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

type WahaConfig struct {
	BaseURL            string
	APIKey             string
	Session            string
	DefaultCountryCode string
}

// Config holds every setting the server and worker processes need
type Config struct {
	Port                    string
	DatabaseURL             string
	DBLogLevel              string
	RedisURL                string
	RabbitMQURL             string
	EventsExchange          string
	LogLevel                string
	FirebaseCredentialsPath string

	Gateway GatewayConfig
	SMTP    SMTPConfig
	Waha    WahaConfig

	// StepUpExpiry is the age after which a non-terminal attempt is swept to ERROR
	StepUpExpiry   time.Duration
	RenewalLockTTL time.Duration
	WorkerSchedule string
}

// Load reads an optional .env file from dir and overlays environment variables
func Load(dir string) (Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil {
		log.Println("No .env file found, using system environment")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_LOG_LEVEL", "warn")
	v.SetDefault("EVENTS_EXCHANGE", "payment_events")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json")
	v.SetDefault("GATEWAY_SANDBOX", true)
	v.SetDefault("GATEWAY_TIMEOUT", "20s")
	v.SetDefault("ACCEPTANCE_TOKEN_TTL", "10m")
	v.SetDefault("STEP_UP_EXPIRY", "30m")
	v.SetDefault("RENEWAL_LOCK_TTL", "2m")
	v.SetDefault("WORKER_SCHEDULE", "@every 1m")
	v.SetDefault("WAHA_BASE_URL", "http://waha:3000")
	v.SetDefault("WAHA_SESSION", "default")
	v.SetDefault("DEFAULT_COUNTRY_CODE", "57")

	cfg := Config{
		Port:                    v.GetString("PORT"),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		DBLogLevel:              v.GetString("DB_LOG_LEVEL"),
		RedisURL:                v.GetString("REDIS_URL"),
		RabbitMQURL:             v.GetString("RABBITMQ_URL"),
		EventsExchange:          v.GetString("EVENTS_EXCHANGE"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		FirebaseCredentialsPath: v.GetString("FIREBASE_CREDENTIALS_PATH"),
		Gateway: GatewayConfig{
			BaseURL:            v.GetString("GATEWAY_BASE_URL"),
			PublicKey:          v.GetString("GATEWAY_PUBLIC_KEY"),
			PrivateKey:         v.GetString("GATEWAY_PRIVATE_KEY"),
			Sandbox:            v.GetBool("GATEWAY_SANDBOX"),
			Timeout:            v.GetDuration("GATEWAY_TIMEOUT"),
			AcceptanceTokenTTL: v.GetDuration("ACCEPTANCE_TOKEN_TTL"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetString("SMTP_PORT"),
			User:     v.GetString("SMTP_USER"),
			Password: v.GetString("SMTP_PASS"),
			From:     v.GetString("EMAIL_FROM"),
		},
		Waha: WahaConfig{
			BaseURL:            v.GetString("WAHA_BASE_URL"),
			APIKey:             v.GetString("WAHA_API_KEY"),
			Session:            v.GetString("WAHA_SESSION"),
			DefaultCountryCode: v.GetString("DEFAULT_COUNTRY_CODE"),
		},
		StepUpExpiry:   v.GetDuration("STEP_UP_EXPIRY"),
		RenewalLockTTL: v.GetDuration("RENEWAL_LOCK_TTL"),
		WorkerSchedule: v.GetString("WORKER_SCHEDULE"),
	}

	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = productionGatewayURL
		if cfg.Gateway.Sandbox {
			cfg.Gateway.BaseURL = sandboxGatewayURL
		}
	}

	if cfg.Gateway.Timeout <= 0 {
		return cfg, fmt.Errorf("GATEWAY_TIMEOUT must be a positive duration")
	}

	return cfg, nil
}
