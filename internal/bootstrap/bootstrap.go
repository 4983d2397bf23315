// Package bootstrap holds the startup wiring shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/config"
	"github.com/rosepetal/storefront/internal/migration"
	"github.com/rosepetal/storefront/internal/store"
)

func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("log_level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// OpenStore connects the configured driver. With migrate set, pending schema
// migrations are applied before the store is returned.
func OpenStore(ctx context.Context, cfg *config.Config, migrate bool, logger *logrus.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("Using in-memory store; data is lost on restart")
		mem := store.NewMemory()
		SeedDemo(mem)
		return mem, nil
	case "postgres", "":
		pg, err := store.OpenPostgres(ctx, cfg.DSN(), cfg.DBMaxConns, 30, logger)
		if err != nil {
			return nil, err
		}
		if migrate {
			result, err := migration.NewMigrator(pg.DB(), logger).Migrate(ctx)
			if err != nil {
				pg.Close()
				return nil, fmt.Errorf("migrate schema: %w", err)
			}
			logger.WithField("applied", result.Applied).Info("Schema up to date")
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// SeedDemo fills an empty memory store with a small catalog for local runs.
func SeedDemo(mem *store.MemoryStore) {
	mem.AddUser("demo", "demo@example.com")
	mem.AddProduct("Red Rose Bouquet", decimal.RequireFromString("24.90"))
	mem.AddProduct("White Tulips", decimal.RequireFromString("18.50"))
	mem.AddProduct("Sunflower Bunch", decimal.RequireFromString("12.00"))
}
