package main

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"househunter/internal/config"
	"househunter/internal/domain"
	"househunter/internal/logger"
	"househunter/internal/store/postgres"
	"househunter/internal/store/sqlite"
)

// stores is the set of repositories for the configured driver.
type stores struct {
	db       *sql.DB
	users    domain.UserRepository
	listings domain.ListingRepository
	messages domain.MessageRepository
	blocks   domain.BlockRepository
	payments domain.PaymentRepository
}

// openStore opens the configured database and applies migrations.
func openStore(cfg *config.Config) (*stores, error) {
	log := logger.GetLogger()

	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("database ready", zap.String("driver", "postgres"))
		return &stores{
			db:       db,
			users:    postgres.NewUserRepo(db),
			listings: postgres.NewListingRepo(db),
			messages: postgres.NewMessageRepo(db),
			blocks:   postgres.NewBlockRepo(db),
			payments: postgres.NewPaymentRepo(db),
		}, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		log.Info("database ready", zap.String("driver", "sqlite"), zap.String("path", cfg.SQLitePath))
		return &stores{
			db:       db,
			users:    sqlite.NewUserRepo(db),
			listings: sqlite.NewListingRepo(db),
			messages: sqlite.NewMessageRepo(db),
			blocks:   sqlite.NewBlockRepo(db),
			payments: sqlite.NewPaymentRepo(db),
		}, nil
	}
}

// setup loads configuration and installs the process logger.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		ServiceName: cfg.AppName,
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}
