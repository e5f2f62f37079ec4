// Command seed-db prepares a database for local development: products, the
// store configuration row, and a demo user with a known session token.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mingrao/skewer-shop/internal/repository"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Category string          `json:"category"`
	Image    string          `json:"image"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		sessionToken string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&sessionToken, "session-token", "", "bearer token to seed for the demo user (or SKEWER_SEED_TOKEN env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if sessionToken == "" {
		sessionToken = os.Getenv("SKEWER_SEED_TOKEN")
	}
	if sessionToken == "" {
		slog.Error("session token is required: set --session-token or SKEWER_SEED_TOKEN")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, sessionToken); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, sessionToken string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedStoreConfig(ctx, pool); err != nil {
		return errors.Wrap(err, "seed store config")
	}
	if err := seedDemoUser(ctx, pool, sessionToken); err != nil {
		return errors.Wrap(err, "seed demo user")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	const upsertProductSQL = `INSERT INTO products (id, name, price, stock, category, image, on_sale)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
			category = EXCLUDED.category, image = EXCLUDED.image, on_sale = TRUE`

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Stock, p.Category, p.Image); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedStoreConfig(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding store config")

	const upsertStoreSQL = `INSERT INTO store_config (id, name, delivery_enabled, free_delivery_threshold, delivery_fee)
		VALUES (1, $1, TRUE, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			free_delivery_threshold = EXCLUDED.free_delivery_threshold,
			delivery_fee = EXCLUDED.delivery_fee`

	_, err := pool.Exec(ctx, upsertStoreSQL, "Skewer Shop", decimal.NewFromInt(50), decimal.NewFromInt(5))
	if err != nil {
		return errors.Wrap(err, "upsert store config")
	}
	return nil
}

func seedDemoUser(ctx context.Context, pool *pgxpool.Pool, token string) error {
	slog.Info("seeding demo user and session")

	const upsertUserSQL = `INSERT INTO users (id, nickname) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`

	if _, err := pool.Exec(ctx, upsertUserSQL, "demo", "Demo User"); err != nil {
		return errors.Wrap(err, "upsert demo user")
	}

	sum := sha256.Sum256([]byte(token))
	hash := hex.EncodeToString(sum[:])

	const upsertSessionSQL = `INSERT INTO sessions (token_hash, user_id) VALUES ($1, $2)
		ON CONFLICT (token_hash) DO NOTHING`

	if _, err := pool.Exec(ctx, upsertSessionSQL, hash, "demo"); err != nil {
		return errors.Wrap(err, "upsert demo session")
	}

	slog.Info("seeded session", slog.String("user_id", "demo"))
	return nil
}
