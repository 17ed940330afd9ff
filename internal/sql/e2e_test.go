package sql

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDBConnector(t *testing.T) {
	tests := []struct {
		name         string
		config       DatabaseConfig
		expectedType string
		wantErr      bool
	}{
		{
			name:         "SQLiteConnector",
			config:       DatabaseConfig{Type: TypeSQLite, Path: "lila.db"},
			expectedType: "*sql.SQLiteConnector",
		},
		{
			name:         "DefaultIsSQLite",
			config:       DatabaseConfig{Path: "lila.db"},
			expectedType: "*sql.SQLiteConnector",
		},
		{
			name:         "PostgresConnector",
			config:       DatabaseConfig{Type: TypePostgres, Host: "localhost", Port: "5432", User: "user", Password: "password", Name: "dbname"},
			expectedType: "*sql.PostgresConnector",
		},
		{
			name:         "CloudSQLConnector",
			config:       DatabaseConfig{Type: TypeCloudSQL, InstanceConnectionName: "project:region:instance", User: "user", Name: "dbname"},
			expectedType: "*sql.CloudSQLConnector",
		},
		{
			name:    "Unknown",
			config:  DatabaseConfig{Type: "oracle"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connector, err := CreateDBConnector(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errUnknownType))
				return
			}
			require.NoError(t, err)
			if gotType := fmt.Sprintf("%T", connector); gotType != tt.expectedType {
				t.Errorf("CreateDBConnector() = %v, want %v", gotType, tt.expectedType)
			}
		})
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	tests := []struct {
		name   string
		config DatabaseConfig
		want   string
	}{
		{
			name:   "url wins",
			config: DatabaseConfig{URL: "postgres://u:p@db/lila", User: "ignored"},
			want:   "postgres://u:p@db/lila",
		},
		{
			name:   "discrete fields",
			config: DatabaseConfig{Host: "db", Port: "5433", User: "u", Password: "p", Name: "lila", SSLMode: "require"},
			want:   "user=u password=p dbname=lila sslmode=require host=db port=5433",
		},
		{
			name:   "sslmode defaults to disable",
			config: DatabaseConfig{User: "u", Password: "p", Name: "lila"},
			want:   "user=u password=p dbname=lila sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}

func TestSQLiteConnectorConnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lila.db")
	connector, err := CreateDBConnector(DatabaseConfig{Type: TypeSQLite, Path: path})
	require.NoError(t, err)

	gormDB, err := connector.Connect(context.Background())
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	require.NoError(t, sqlDB.Ping())
}

func TestSQLiteConnectorEmptyPath(t *testing.T) {
	connector := &SQLiteConnector{}
	_, err := connector.Connect(context.Background())
	require.Error(t, err)
}

func TestCloudSQLConnectorEmptyInstance(t *testing.T) {
	connector := &CloudSQLConnector{dsn: "user=u dbname=lila"}
	_, err := connector.Connect(context.Background())
	require.Error(t, err)
}
