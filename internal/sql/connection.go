// Package sql opens gorm connections for the supported database backends.
package sql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeCloudSQL = "cloudsql"
)

var errUnknownType = errors.New("unknown database type")

// DatabaseConfig selects and parameterizes a backend.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	// Path is the sqlite file, or ":memory:".
	Path string `yaml:"path"`
	// URL is a postgres connection string; when set it takes precedence over the discrete fields.
	URL                    string `yaml:"url"`
	Host                   string `yaml:"host"`
	Port                   string `yaml:"port"`
	User                   string `yaml:"user"`
	Password               string `yaml:"password"`
	Name                   string `yaml:"name"`
	SSLMode                string `yaml:"sslmode"`
	InstanceConnectionName string `yaml:"instance_connection_name"`
}

// DSN returns the postgres connection string of the config.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("user=%s password=%s dbname=%s sslmode=%s", c.User, c.Password, c.Name, sslMode)
	if c.Host != "" {
		dsn += " host=" + c.Host
	}
	if c.Port != "" {
		dsn += " port=" + c.Port
	}
	return dsn
}

// DBConnector is an interface for database connections.
type DBConnector interface {
	Connect(ctx context.Context) (*gorm.DB, error)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}
}

// SQLiteConnector implements DBConnector for SQLite connections.
type SQLiteConnector struct {
	dbPath string
}

// Connect opens the sqlite file, creating its directory if needed.
func (c *SQLiteConnector) Connect(_ context.Context) (*gorm.DB, error) {
	if c.dbPath == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if c.dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for database: %w", err)
		}
	}
	database, err := gorm.Open(sqlite.Open(c.dbPath), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	return database, nil
}

// PostgresConnector implements DBConnector for a directly reachable postgres server.
type PostgresConnector struct {
	dsn string
}

// Connect opens the postgres database through pgx.
func (c *PostgresConnector) Connect(_ context.Context) (*gorm.DB, error) {
	database, err := gorm.Open(postgres.Open(c.dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres database: %w", err)
	}
	return database, nil
}

// CloudSQLConnector implements DBConnector for Cloud SQL connections.
type CloudSQLConnector struct {
	instanceConnectionName string
	dsn                    string
}

// Connect connects to the database using the Cloud SQL connection.
func (c *CloudSQLConnector) Connect(ctx context.Context) (*gorm.DB, error) {
	if c.instanceConnectionName == "" {
		return nil, errors.New("instance connection name cannot be empty")
	}
	dialer, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
	if err != nil {
		// fall back to password authentication
		dialer, err = cloudsqlconn.NewDialer(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create dialer: %w", err)
		}
	}

	config, err := pgx.ParseConfig(c.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	config.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
		conn, err := dialer.Dial(ctx, c.instanceConnectionName)
		if err != nil {
			return nil, fmt.Errorf("failed to dial Cloud SQL instance: %w", err)
		}
		return conn, nil
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: stdlib.OpenDB(*config),
	}), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gorm with pgx connection: %w", err)
	}
	return gormDB, nil
}

// CreateDBConnector returns the connector for cfg.Type.
func CreateDBConnector(cfg DatabaseConfig) (DBConnector, error) {
	switch cfg.Type {
	case TypeSQLite, "":
		return &SQLiteConnector{dbPath: cfg.Path}, nil
	case TypePostgres:
		return &PostgresConnector{dsn: cfg.DSN()}, nil
	case TypeCloudSQL:
		return &CloudSQLConnector{
			instanceConnectionName: cfg.InstanceConnectionName,
			dsn:                    cfg.DSN(),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownType, cfg.Type)
}
