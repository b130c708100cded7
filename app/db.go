package app

import (
	"context"
	"fmt"

	"github.com/fiffu/dealwatch/config"
	"github.com/fiffu/dealwatch/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if !cfg.IsDevelopment() {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	dsn := cfg.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite takes one writer at a time.
	sqlDB.SetMaxOpenConns(1)
	log.Info("Database started", zap.String("path", cfg.DatabasePath))

	log.Info("Starting migrations")
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return sqlDB.Close()
		},
	})
	return db, nil
}

// NewStore seeds the catalog's sources on start. Sources already stored keep
// their state.
func NewStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, db *gorm.DB) *store.Store {
	st := store.New(db)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sources := cfg.Catalog().SourceModels()
			n, err := st.SeedSources(ctx, sources)
			if err != nil {
				return err
			}
			log.Sugar().Infow("Seeded sources", "configured", len(sources), "created", n)
			return nil
		},
	})
	return st
}
