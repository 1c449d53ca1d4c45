// Package util provides database helpers for integration and e2e tests.
package util

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatlift/skypeetl/pkg/config"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// SetupTestDatabase provisions an isolated schema on the shared PostgreSQL
// instance and returns a DatabaseConfig pinned to it. The schema is dropped
// when the test finishes.
//
// CI points at an external server through CI_DATABASE_URL; local runs share
// one testcontainer per package.
func SetupTestDatabase(t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	connStr := getOrCreateSharedDatabase(t)
	schemaName := GenerateSchemaName(t)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "CREATE SCHEMA "+schemaName)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, err := db.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schemaName+" CASCADE")
		if err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schemaName, err)
		}
		_ = db.Close()
	})

	dbCfg, err := parseConnString(connStr)
	require.NoError(t, err)
	dbCfg.SearchPath = schemaName
	dbCfg.ApplicationName = "skypeetl-test"
	return dbCfg
}

func getOrCreateSharedDatabase(t *testing.T) string {
	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		return ciDatabaseURL
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared PostgreSQL testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("failed to get connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	require.NoError(t, containerErr, "failed to set up shared test container")
	return sharedConnStr
}

// GenerateSchemaName creates a unique, PostgreSQL-safe schema name from the
// test name plus a random suffix.
func GenerateSchemaName(t *testing.T) string {
	testName := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToLower(t.Name()))
	if len(testName) > 40 {
		testName = testName[:40]
	}

	randomBytes := make([]byte, 4)
	_, err := rand.Read(randomBytes)
	require.NoError(t, err)
	return fmt.Sprintf("test_%s_%s", testName, hex.EncodeToString(randomBytes))
}

// parseConnString converts a postgres:// URL into a DatabaseConfig.
func parseConnString(connStr string) (config.DatabaseConfig, error) {
	var cfg config.DatabaseConfig

	trimmed := strings.TrimPrefix(strings.TrimPrefix(connStr, "postgres://"), "postgresql://")
	if trimmed == connStr {
		return cfg, fmt.Errorf("unexpected connection string format: %s", connStr)
	}

	// user:password@host:port/dbname?params
	creds, rest, found := strings.Cut(trimmed, "@")
	if !found {
		return cfg, fmt.Errorf("connection string has no credentials: %s", connStr)
	}
	cfg.User, cfg.Password, _ = strings.Cut(creds, ":")

	hostPort, tail, _ := strings.Cut(rest, "/")
	host, portStr, found := strings.Cut(hostPort, ":")
	if !found {
		return cfg, fmt.Errorf("connection string has no port: %s", connStr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return cfg, fmt.Errorf("invalid port in connection string: %w", err)
	}
	cfg.Host = host
	cfg.Port = port

	dbname, params, _ := strings.Cut(tail, "?")
	cfg.DBName = dbname
	cfg.SSLMode = "disable"
	for _, param := range strings.Split(params, "&") {
		if v, ok := strings.CutPrefix(param, "sslmode="); ok {
			cfg.SSLMode = v
		}
	}
	return cfg, nil
}
