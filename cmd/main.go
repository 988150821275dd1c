package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mindvault/credit-service/internal/auth"
	"mindvault/credit-service/internal/catalog"
	"mindvault/credit-service/internal/config"
	"mindvault/credit-service/internal/dedup"
	"mindvault/credit-service/internal/handler"
	"mindvault/credit-service/internal/ledger"
	"mindvault/credit-service/internal/ledger/memstore"
	"mindvault/credit-service/internal/ledger/mongostore"
	"mindvault/credit-service/internal/ledger/sqlstore"
)

func main() {
	cfg := config.Load()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Catalog load failed (%s): %v", cfg.CatalogPath, err)
	}
	log.Printf("[catalog] version=%s bundles=%d", cat.Version(), cat.Len())

	store := openStore(cfg)

	// --- Redis (dedup fast path + credit notifications), optional ---
	var guard *dedup.Guard
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("[redis] ping failed, continuing without it until it recovers: %v", err)
		}
		guard = dedup.New(rdb, cfg.DedupTTL)
	}

	var validator *auth.Validator
	if cfg.JWTPublicKeyPath != "" {
		validator, err = auth.NewValidator(cfg.JWTPublicKeyPath, cfg.JWTIssuer)
		if err != nil {
			log.Fatalf("JWT validator init failed: %v", err)
		}
	}

	// Guard methods are nil-safe, so a missing Redis just disables the fast path.
	engine := ledger.NewEngine(store, guard)

	// --- Fiber App ---
	app := fiber.New(fiber.Config{
		AppName:      "MindVault Credit Service",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	app.Use(logger.New())
	app.Use(recover.New())

	h := handler.New(engine, cat, guard, cfg.TxTimeout, cfg.LedgerBackend)
	h.Register(app, validator, cfg.InternalServiceKey)

	// --- Graceful Shutdown ---
	go func() {
		log.Printf("Credit service on :%s (ledger=%s, env=%s)", cfg.Port, cfg.LedgerBackend, cfg.AppEnv)
		if err := app.Listen(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Credit server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit
	log.Println("Shutting down credit-service...")
	_ = app.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		log.Printf("[ledger] close: %v", err)
	}
}

func openStore(cfg *config.Config) ledger.Store {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.LedgerBackend {
	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("MongoDB connect error: %v", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			log.Fatalf("MongoDB ping error: %v", err)
		}
		store := mongostore.New(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			log.Fatalf("MongoDB index setup failed: %v", err)
		}
		return store
	case config.BackendSQLite:
		store, err := sqlstore.Open(ctx, cfg.DBPath)
		if err != nil {
			log.Fatalf("SQLite open error (%s): %v", cfg.DBPath, err)
		}
		return store
	default:
		log.Println("[ledger] using in-memory store; balances are lost on restart")
		return memstore.New()
	}
}
