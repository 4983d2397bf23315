package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/bootstrap"
	"github.com/rosepetal/storefront/internal/config"
	"github.com/rosepetal/storefront/internal/migration"
	"github.com/rosepetal/storefront/internal/store"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "list pending migrations without applying them")
	status := flag.Bool("status", false, "print current and pending versions and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := store.OpenPostgres(ctx, cfg.DSN(), 2, 10, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer pg.Close()

	migrator := migration.NewMigrator(pg.DB(), logger)

	if *status {
		st, err := migrator.Status(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Failed to read migration status")
		}
		fmt.Printf("current version: %d\npending: %v\n", st.Current, st.Pending)
		return
	}

	migrator.SetDryRun(*dryRun)
	result, err := migrator.Migrate(ctx)
	if err != nil {
		logger.WithError(err).Error("Migration failed")
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"applied":         result.Applied,
		"skipped":         result.Skipped,
		"dry_run":         result.DryRun,
		"processing_time": result.ProcessingTime.String(),
	}).Info("Migration completed")
}
