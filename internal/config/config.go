package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBConfig struct {
		Host     string `env:"STORE_DB_HOST"`
		Port     int    `env:"STORE_DB_PORT"`
		User     string `env:"STORE_DB_USER"`
		Password string `env:"STORE_DB_PASSWORD"`
		Name     string `env:"STORE_DB_NAME"`
		SSLMode  string `env:"STORE_DB_SSLMODE"`
	}

	HTTPPort       int    `env:"HTTP_PORT"`
	MigrationsPath string `env:"MIGRATIONS_PATH"`
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`

	KafkaBrokerURL           string `env:"KAFKA_BROKER_URL"`
	KafkaOrderEventsTopic    string `env:"KAFKA_ORDER_EVENTS_TOPIC"`
	KafkaPaymentEventsTopic  string `env:"KAFKA_PAYMENT_EVENTS_TOPIC"`
	KafkaGatewayEventsTopic  string `env:"KAFKA_GATEWAY_EVENTS_TOPIC"`
	KafkaConsumerGroup       string `env:"KAFKA_CONSUMER_GROUP"`
	GatewayEventRelayEnabled bool   `env:"GATEWAY_EVENT_RELAY_ENABLED"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL"`
	OutboxPollTimeout  time.Duration `env:"OUTBOX_POLL_TIMEOUT"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS"`

	StripeAPIKey          string        `env:"STRIPE_API_KEY"`
	WebhookSigningSecret  string        `env:"PAYMENT_WEBHOOK_SECRET"`
	WebhookTolerance      time.Duration `env:"PAYMENT_WEBHOOK_TOLERANCE"`
	GatewayTimeout        time.Duration `env:"PAYMENT_GATEWAY_TIMEOUT"`
	Currency              string        `env:"STORE_CURRENCY"`
	ShippingFlatFee       int64         `env:"SHIPPING_FLAT_FEE"`
	FreeShippingThreshold int64         `env:"SHIPPING_FREE_THRESHOLD"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DBConfig.Host = getEnvOrDefault("STORE_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("STORE_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("STORE_DB_USER", "postgres")
	cfg.DBConfig.Password = getEnvOrDefault("STORE_DB_PASSWORD", "postgres")
	cfg.DBConfig.Name = getEnvOrDefault("STORE_DB_NAME", "store_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("STORE_DB_SSLMODE", "disable")

	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", 8080)
	cfg.MigrationsPath = getEnvOrDefault("MIGRATIONS_PATH", "file:///app/migrations")
	cfg.AllowedOrigins = getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaOrderEventsTopic = getEnvOrDefault("KAFKA_ORDER_EVENTS_TOPIC", "order_status_events")
	cfg.KafkaPaymentEventsTopic = getEnvOrDefault("KAFKA_PAYMENT_EVENTS_TOPIC", "payment_events")
	cfg.KafkaGatewayEventsTopic = getEnvOrDefault("KAFKA_GATEWAY_EVENTS_TOPIC", "payment_gateway_events")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "storefront-orchestrator")
	cfg.GatewayEventRelayEnabled = getEnvAsBool("GATEWAY_EVENT_RELAY_ENABLED", false)

	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 5*time.Second)
	cfg.OutboxBatchSize = getEnvAsInt("OUTBOX_BATCH_SIZE", 50)
	cfg.OutboxMaxAttempts = getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10)

	cfg.StripeAPIKey = getEnvOrDefault("STRIPE_API_KEY", "")
	cfg.WebhookSigningSecret = getEnvOrDefault("PAYMENT_WEBHOOK_SECRET", "")
	cfg.WebhookTolerance = getEnvAsDuration("PAYMENT_WEBHOOK_TOLERANCE", 5*time.Minute)
	cfg.GatewayTimeout = getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second)
	cfg.Currency = strings.ToLower(getEnvOrDefault("STORE_CURRENCY", "usd"))
	cfg.ShippingFlatFee = int64(getEnvAsInt("SHIPPING_FLAT_FEE", 500))
	cfg.FreeShippingThreshold = int64(getEnvAsInt("SHIPPING_FREE_THRESHOLD", 5000))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is required")
	}
	if c.WebhookSigningSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("PAYMENT_GATEWAY_TIMEOUT must be positive, got %s", c.GatewayTimeout)
	}
	if c.ShippingFlatFee < 0 || c.FreeShippingThreshold < 0 {
		return fmt.Errorf("shipping fee and free shipping threshold must not be negative")
	}
	return nil
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	brokers := strings.Split(c.KafkaBrokerURL, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return brokers
}

func (c *Config) GetAllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnvOrDefault(key, strconv.FormatBool(defaultValue))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
