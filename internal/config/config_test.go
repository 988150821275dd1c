package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("PORT", "")
	t.Setenv("CATALOG_PATH", "")
	t.Setenv("JSON_PATH", "")
	t.Setenv("DEDUP_TTL", "")

	cfg := Load()

	assert.Equal(t, "8788", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.LedgerBackend)
	assert.Equal(t, "./wallet.db", cfg.DBPath)
	assert.Equal(t, "../mindvaultai_bundles_psp.json", cfg.CatalogPath)
	assert.Equal(t, 24*time.Hour, cfg.DedupTTL)
	assert.Empty(t, cfg.MongoURI)
}

func TestLoadCatalogPathFallsBackToJSONPath(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "sqlite")
	t.Setenv("CATALOG_PATH", "")
	t.Setenv("JSON_PATH", "/etc/bundles.json")

	cfg := Load()
	assert.Equal(t, "/etc/bundles.json", cfg.CatalogPath)
}

func TestLoadMongoBackend(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "MONGO")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0")

	cfg := Load()
	assert.Equal(t, BackendMongo, cfg.LedgerBackend)
	assert.Equal(t, "mongodb://localhost:27017/?replicaSet=rs0", cfg.MongoURI)
}

func TestGetDuration(t *testing.T) {
	t.Setenv("TX_TIMEOUT", "250ms")
	assert.Equal(t, 250*time.Millisecond, getDuration("TX_TIMEOUT", time.Second))

	t.Setenv("TX_TIMEOUT", "soon")
	assert.Equal(t, time.Second, getDuration("TX_TIMEOUT", time.Second))

	t.Setenv("TX_TIMEOUT", "-5s")
	assert.Equal(t, time.Second, getDuration("TX_TIMEOUT", time.Second))
}
