package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
database:
  dbname: skype
  user: etl
etl:
  chunk_size: 250
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	// File values survive the merge.
	assert.Equal(t, "skype", cfg.Database.DBName)
	assert.Equal(t, 250, cfg.ETL.ChunkSize)

	// Unset values come from defaults.
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 1000, cfg.ETL.BatchSize)
	assert.Equal(t, "./output", cfg.ETL.OutputDir)
	assert.True(t, cfg.ETL.ParallelProcessing)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DB_NAME", "skype")
	t.Setenv("DB_USER", "etl")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "skype", cfg.Database.DBName)
	assert.Equal(t, "etl", cfg.Database.User)
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "database: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, path, loadErr.File)
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TEST_DB_NAME", "expanded")
	t.Setenv("DB_USER", "etl")

	path := writeConfigFile(t, `
database:
  dbname: "{{.TEST_DB_NAME}}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded", cfg.Database.DBName)
}

func TestLoadFileWinsOverEnvFallback(t *testing.T) {
	t.Setenv("DB_HOST", "env-host")
	t.Setenv("DB_NAME", "env-db")
	t.Setenv("DB_USER", "env-user")

	path := writeConfigFile(t, `
database:
  host: file-host
  dbname: file-db
  user: file-user
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-host", cfg.Database.Host)
	assert.Equal(t, "file-db", cfg.Database.DBName)
	assert.Equal(t, "file-user", cfg.Database.User)
}

func TestLoadEnvWinsOverBuiltinDefault(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_NAME", "skype")
	t.Setenv("DB_USER", "etl")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
}

func TestLoadValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
database:
  dbname: skype
  user: etl
etl:
  chunk_size: -1
`)
	_, err := Load(path)
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "etl.chunk_size", valErr.Field)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Defaults()
		cfg.Database.DBName = "skype"
		cfg.Database.User = "etl"
		return cfg
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Database.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ETL.MemoryLimitMB = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Attachments.Download = true
	assert.Error(t, cfg.Validate(), "download without a directory must fail")
	cfg.Attachments.Dir = "/tmp/attachments"
	assert.NoError(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "db", Port: 5432, User: "etl", Password: "pw",
		DBName: "skype", SSLMode: "disable",
		ConnectionTimeout: 10, ApplicationName: "skypeetl",
	}
	dsn := db.DSN()
	assert.Contains(t, dsn, "host=db")
	assert.Contains(t, dsn, "connect_timeout=10")
	assert.Contains(t, dsn, "application_name=skypeetl")

	db.ConnectionTimeout = 0
	db.ApplicationName = ""
	dsn = db.DSN()
	assert.NotContains(t, dsn, "connect_timeout")
	assert.NotContains(t, dsn, "application_name")
	assert.NotContains(t, dsn, "statement_timeout")

	db.StatementTimeoutMS = 5000
	assert.Contains(t, db.DSN(), "options='-c statement_timeout=5000'")
}
