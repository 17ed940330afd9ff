package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lila-repro/lila/internal/data/db"
	"github.com/lila-repro/lila/internal/sql"
	"github.com/lila-repro/lila/pkg/types"
)

// DatabaseInitializer opens the database described by a config.
type DatabaseInitializer interface {
	Initialize(ctx context.Context, config *sql.DatabaseConfig, logger types.Logger) (*gorm.DB, error)
}

type defaultDatabaseInitializer struct{}

func (d *defaultDatabaseInitializer) Initialize(ctx context.Context, config *sql.DatabaseConfig,
	logger types.Logger) (*gorm.DB, error) {
	connector, err := sql.CreateDBConnector(*config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	if config.Type == sql.TypeSQLite || config.Type == "" {
		logger.Info("Using local SQLite database", zap.String("dbPath", config.Path))
	} else {
		logger.Info("Connecting to database", zap.String("type", config.Type))
	}
	dbConn, err := connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return dbConn, nil
}

// DatabaseMigrator brings the schema of a connection up to date.
type DatabaseMigrator interface {
	Migrate(dbConn *gorm.DB) error
}

type autoMigratingMigrator struct{}

func (d *autoMigratingMigrator) Migrate(dbConn *gorm.DB) error {
	if err := db.Migrate(dbConn); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

type migratingDatabaseInitializer struct {
	initializer DatabaseInitializer
	migrator    DatabaseMigrator
}

// DefaultDatabaseInitializer connects and migrates.
var DefaultDatabaseInitializer DatabaseInitializer = &migratingDatabaseInitializer{
	initializer: &defaultDatabaseInitializer{},
	migrator:    &autoMigratingMigrator{},
}

func (d *migratingDatabaseInitializer) Initialize(ctx context.Context, config *sql.DatabaseConfig,
	logger types.Logger) (*gorm.DB, error) {
	dbConn, err := d.initializer.Initialize(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}

	if err := d.migrator.Migrate(dbConn); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return dbConn, nil
}
