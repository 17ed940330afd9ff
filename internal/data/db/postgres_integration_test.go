//go:build integration

package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/internal/sql"
	"github.com/lila-repro/lila/pkg/repro"
)

func setupPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		t.Skip("SKIP_DOCKER_TESTS is set")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "lila",
				"POSTGRES_PASSWORD": "lila",
				"POSTGRES_DB":       "lila",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	connector, err := sql.CreateDBConnector(sql.DatabaseConfig{
		Type:     sql.TypePostgres,
		Host:     host,
		Port:     port.Port(),
		User:     "lila",
		Password: "lila",
		Name:     "lila",
	})
	require.NoError(t, err)
	gormDB, err := connector.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, Migrate(gormDB))
	return gormDB
}

func TestConcurrentSubmittersPostgres(t *testing.T) {
	gormDB := setupPostgresDB(t)
	manager, err := NewGormAttestationManager(gormDB)
	require.NoError(t, err)

	const submitters = 16
	var group errgroup.Group
	for i := 1; i <= submitters; i++ {
		user := uint(i)
		group.Go(func() error {
			_, err := manager.RecordAttestations(context.Background(), "shared-drv", user, []external.AttestationDTO{
				{OutputDigest: "abc", OutputName: "hello", OutputHash: "H1", OutputSig: fmt.Sprintf("sig-%d", user)},
			})
			return err
		})
	}
	require.NoError(t, group.Wait())

	var derivations int64
	require.NoError(t, gormDB.Model(&model.Derivation{}).Where("drv_hash = ?", "shared-drv").Count(&derivations).Error)
	assert.Equal(t, int64(1), derivations)

	summaries, err := manager.PathSummaries(context.Background(), []string{helloPath})
	require.NoError(t, err)
	assert.Equal(t, repro.SuccessfullyReproduced, summaries[helloPath])

	tallies, err := manager.PathTallies(context.Background(), []string{helloPath})
	require.NoError(t, err)
	assert.Equal(t, submitters, tallies[helloPath].Total)
}
