package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	Port   string
	AppEnv string

	LedgerBackend string
	MongoURI      string
	MongoDatabase string
	DBPath        string
	TxTimeout     time.Duration

	CatalogPath string

	RedisAddr     string
	RedisPassword string
	DedupTTL      time.Duration

	InternalServiceKey string
	JWTPublicKeyPath   string
	JWTIssuer          string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8788"),
		AppEnv:             getEnv("APP_ENV", "development"),
		LedgerBackend:      strings.ToLower(getEnv("LEDGER_BACKEND", BackendMongo)),
		MongoDatabase:      getEnv("MONGO_DATABASE", "mindvault"),
		DBPath:             getEnv("DB_PATH", "./wallet.db"),
		TxTimeout:          getDuration("TX_TIMEOUT", 5*time.Second),
		CatalogPath:        getEnv("CATALOG_PATH", getEnv("JSON_PATH", "../mindvaultai_bundles_psp.json")),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		DedupTTL:           getDuration("DEDUP_TTL", 24*time.Hour),
		InternalServiceKey: getEnv("INTERNAL_SERVICE_KEY", "dev-internal-key"),
		JWTPublicKeyPath:   getEnv("JWT_PUBLIC_KEY_PATH", ""),
		JWTIssuer:          getEnv("JWT_ISSUER", "mindvault-auth"),
	}

	switch cfg.LedgerBackend {
	case BackendMongo:
		cfg.MongoURI = mustGetEnv("MONGO_URI")
	case BackendSQLite, BackendMemory:
	default:
		log.Fatalf("unknown LEDGER_BACKEND %q (want mongo, sqlite or memory)", cfg.LedgerBackend)
	}
	return cfg
}

func mustGetEnv(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	log.Fatalf("required env %s is not set", key)
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("[config] ignoring invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}
