package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the listing pipeline.
type Config struct {
	// Paths
	DataDir  string
	InboxDir string

	// HTTP API
	Port string

	// Queue
	WorkerCount  int
	PollInterval time.Duration

	// Retry policy (per pipeline stage)
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	StageTimeout   time.Duration

	// Listing defaults
	AutoPublish      bool
	DefaultPrice     string
	DefaultCondition string
	MaxImages        int

	// Marketplace credentials and endpoints
	UserToken          string
	TaxonomyURL        string
	InventoryURL       string
	MediaURL           string
	DrafterURL         string
	FulfillmentPolicy  string
	PaymentPolicy      string
	ReturnPolicy       string
	MerchantLocation   string
	MarketplaceID      string

	// Job store backend: "file" or "postgres"
	StoreBackend  string
	PostgresDSN   string
	MigrationsDir string

	// NATS submission bus
	UseNATS bool
	NATSURL string
}

// Load reads configuration from a .env file (if present) and the environment.
func Load() Config {
	// Credentials historically live in a .env next to the binary. Missing
	// file is fine; the environment wins either way.
	_ = godotenv.Load()

	return Config{
		DataDir:  getEnv("DC_DATA_DIR", "data"),
		InboxDir: getEnv("DC_INBOX_DIR", "inbox"),

		Port: getEnv("DC_PORT", "8080"),

		WorkerCount:  getEnvInt("DC_WORKER_COUNT", 2),
		PollInterval: getEnvDuration("DC_POLL_INTERVAL", time.Second),

		MaxAttempts:    getEnvInt("DC_MAX_ATTEMPTS", 3),
		RetryBaseDelay: getEnvDuration("DC_RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:  getEnvDuration("DC_RETRY_MAX_DELAY", 5*time.Minute),
		StageTimeout:   getEnvDuration("DC_STAGE_TIMEOUT", 2*time.Minute),

		AutoPublish:      getEnv("DC_AUTO_PUBLISH", "true") == "true",
		DefaultPrice:     getEnv("DC_DEFAULT_PRICE", "29.99"),
		DefaultCondition: getEnv("DC_DEFAULT_CONDITION", "USED_GOOD"),
		MaxImages:        getEnvInt("DC_MAX_IMAGES", 12),

		UserToken:         getEnv("EBAY_USER_TOKEN", ""),
		TaxonomyURL:       getEnv("EBAY_TAXONOMY_URL", "https://api.ebay.com/commerce/taxonomy/v1"),
		InventoryURL:      getEnv("EBAY_INVENTORY_URL", "https://api.ebay.com/sell/inventory/v1"),
		MediaURL:          getEnv("EBAY_MEDIA_URL", "https://apim.ebay.com/commerce/media/v1_beta"),
		DrafterURL:        getEnv("DC_DRAFTER_URL", "http://localhost:8090/draft"),
		FulfillmentPolicy: getEnv("EBAY_FULFILLMENT_POLICY", ""),
		PaymentPolicy:     getEnv("EBAY_PAYMENT_POLICY", ""),
		ReturnPolicy:      getEnv("EBAY_RETURN_POLICY", ""),
		MerchantLocation:  getEnv("EBAY_MERCHANT_LOCATION", ""),
		MarketplaceID:     getEnv("EBAY_MARKETPLACE_ID", "EBAY_US"),

		StoreBackend:  getEnv("DC_STORE_BACKEND", "file"),
		PostgresDSN:   getEnv("DC_POSTGRES_DSN", "postgres://localhost:5432/draftcommander?sslmode=disable"),
		MigrationsDir: getEnv("DC_MIGRATIONS_DIR", "migrations"),

		UseNATS: getEnv("USE_NATS", "false") == "true",
		NATSURL: getEnv("NATS_URL", "nats://localhost:4222"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
