package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string
	LogLevel     string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// Upstream provider slots. A slot with an empty URL is disabled.
	Providers []ProviderSlot

	// ProviderTimeout bounds every single upstream call during a fallback
	// race. ExecuteTimeout bounds a whole billable call end to end.
	ProviderTimeout time.Duration
	ExecuteTimeout  time.Duration

	// DomainsFile optionally points at a YAML file overriding the
	// built-in domain TTLs (see domains.go).
	DomainsFile string

	// AdminStreamToken guards the admin live-event stream. Empty
	// disables the endpoint.
	AdminStreamToken string

	SeedCatalog bool
}

// ProviderSlot configures one upstream data provider.
type ProviderSlot struct {
	Name   string
	URL    string
	APIKey string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "veriplex"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		LogLevel:     getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "veriplex"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Providers: loadProviderSlots(),

		ProviderTimeout: getenvDuration("PROVIDER_TIMEOUT", 5*time.Second),
		ExecuteTimeout:  getenvDuration("EXECUTE_TIMEOUT", 15*time.Second),

		DomainsFile:      getenv("DOMAINS_FILE", ""),
		AdminStreamToken: getenv("ADMIN_STREAM_TOKEN", ""),
		SeedCatalog:      getenvBool("SEED_CATALOG", true),
	}

	return cfg
}

func loadProviderSlots() []ProviderSlot {
	slots := make([]ProviderSlot, 0, 3)
	for i := 1; i <= 3; i++ {
		idx := strconv.Itoa(i)
		url := strings.TrimSpace(getenv("EXTERNAL_API_"+idx+"_URL", ""))
		if url == "" {
			continue
		}
		slots = append(slots, ProviderSlot{
			Name:   "provider_" + idx,
			URL:    strings.TrimRight(url, "/"),
			APIKey: strings.TrimSpace(getenv("EXTERNAL_API_"+idx+"_KEY", "")),
		})
	}
	return slots
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
