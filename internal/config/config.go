package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Providers ProviderConfig
	Checkout  CheckoutConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	OrderCreated   string
	OrderPaid      string
	OrderCancelled string
}

// ProviderConfig holds per-gateway credentials. Webhook secrets are looked up
// by provider name; an empty secret means the webhook endpoint fails closed.
type ProviderConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	YampiAPIURL         string
	YampiWebhookSecret  string
	AppmaxAPIURL        string
	AppmaxAPIKey        string
	AppmaxWebhookSecret string
}

type CheckoutConfig struct {
	HoldTTL        time.Duration
	SweepInterval  time.Duration
	RequestTimeout time.Duration
	TokenSecret    string
	TokenTTL       time.Duration
}

type AuthConfig struct {
	OIDCIssuer   string
	JWTSecret    string
	ServiceToken string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8086"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_ADDR", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				OrderCreated:   getEnv("KAFKA_TOPIC_ORDER_CREATED", "checkout.order.created"),
				OrderPaid:      getEnv("KAFKA_TOPIC_ORDER_PAID", "checkout.order.paid"),
				OrderCancelled: getEnv("KAFKA_TOPIC_ORDER_CANCELLED", "checkout.order.cancelled"),
			},
		},
		Providers: ProviderConfig{
			StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			YampiAPIURL:         getEnv("YAMPI_API_URL", "https://api.yampi.com.br"),
			YampiWebhookSecret:  getEnv("YAMPI_WEBHOOK_SECRET", ""),
			AppmaxAPIURL:        getEnv("APPMAX_API_URL", "https://admin.appmax.com.br/api/v3"),
			AppmaxAPIKey:        getEnv("APPMAX_API_KEY", ""),
			AppmaxWebhookSecret: getEnv("APPMAX_WEBHOOK_SECRET", ""),
		},
		Checkout: CheckoutConfig{
			HoldTTL:        time.Duration(getEnvInt("ORDER_HOLD_TTL_MINUTES", 15)) * time.Minute,
			SweepInterval:  time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", 5)) * time.Minute,
			RequestTimeout: time.Duration(getEnvInt("CHECKOUT_TIMEOUT_SECONDS", 20)) * time.Second,
			TokenSecret:    getEnv("ORDER_TOKEN_SECRET", ""),
			TokenTTL:       time.Duration(getEnvInt("ORDER_TOKEN_TTL_MINUTES", 30)) * time.Minute,
		},
		Auth: AuthConfig{
			OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
			JWTSecret:    getEnv("JWT_SECRET", ""),
			ServiceToken: getEnv("SERVICE_TOKEN", ""),
		},
	}
}

// WebhookSecret returns the shared secret for a provider's webhook endpoint.
func (p ProviderConfig) WebhookSecret(provider string) string {
	switch provider {
	case "stripe":
		return p.StripeWebhookSecret
	case "yampi":
		return p.YampiWebhookSecret
	case "appmax":
		return p.AppmaxWebhookSecret
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
