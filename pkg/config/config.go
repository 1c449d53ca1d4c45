// Package config loads and validates the ETL configuration: database
// connection settings, pipeline tuning, and attachment options.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config is the complete configuration for one pipeline run.
type Config struct {
	Database    DatabaseConfig   `yaml:"database"`
	ETL         ETLConfig        `yaml:"etl"`
	Attachments AttachmentConfig `yaml:"attachments"`
}

// DatabaseConfig holds PostgreSQL connection settings. Fields left empty in
// the config file fall back to the DB_* environment variables.
type DatabaseConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	DBName            string `yaml:"dbname"`
	User              string `yaml:"user"`
	Password          string `yaml:"password"`
	SSLMode           string `yaml:"sslmode"`
	ConnectionTimeout int    `yaml:"connection_timeout"` // seconds
	ApplicationName   string `yaml:"application_name"`
	// SearchPath pins the schema for every connection. Empty uses the
	// server default.
	SearchPath string `yaml:"search_path"`
	// StatementTimeoutMS aborts any statement running longer, in
	// milliseconds. Zero leaves the server setting in place.
	StatementTimeoutMS int `yaml:"statement_timeout_ms"`
}

// DSN builds a pgx-compatible connection string.
func (d DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
	if d.ConnectionTimeout > 0 {
		dsn += fmt.Sprintf(" connect_timeout=%d", d.ConnectionTimeout)
	}
	if d.ApplicationName != "" {
		dsn += " application_name=" + d.ApplicationName
	}
	if d.SearchPath != "" {
		dsn += " search_path=" + d.SearchPath
	}
	if d.StatementTimeoutMS > 0 {
		dsn += fmt.Sprintf(" options='-c statement_timeout=%d'", d.StatementTimeoutMS)
	}
	return dsn
}

// ETLConfig tunes the pipeline engine.
type ETLConfig struct {
	OutputDir          string `yaml:"output_dir"`
	MemoryLimitMB      int    `yaml:"memory_limit_mb"`
	ParallelProcessing bool   `yaml:"parallel_processing"`
	ChunkSize          int    `yaml:"chunk_size"`
	BatchSize          int    `yaml:"batch_size"`
	MaxWorkers         int    `yaml:"max_workers"`
	DumpRaw            bool   `yaml:"dump_raw"`
}

// AttachmentConfig controls optional attachment enrichment.
type AttachmentConfig struct {
	Download           bool   `yaml:"download"`
	Dir                string `yaml:"dir"`
	GenerateThumbnails bool   `yaml:"generate_thumbnails"`
	ExtractMetadata    bool   `yaml:"extract_metadata"`
}

// Pool sizing applied when the config file does not override them.
const (
	DefaultMinConnections    = 1
	DefaultMaxConnections    = 5
	DefaultConnectionTimeout = 30 * time.Second
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultMaxConnectionAge  = 30 * time.Minute
)

// Defaults returns the baseline configuration merged under any user-provided
// values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:              "localhost",
			Port:              5432,
			SSLMode:           "disable",
			ConnectionTimeout: 30,
			ApplicationName:   "skypeetl",
		},
		ETL: ETLConfig{
			OutputDir:          "./output",
			MemoryLimitMB:      1024,
			ParallelProcessing: true,
			ChunkSize:          1000,
			BatchSize:          1000,
			MaxWorkers:         runtime.NumCPU(),
		},
	}
}

// Validate checks the configuration before the pipeline starts. Validation
// failures are fatal per the error policy.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return NewValidationError("database.host", "required")
	}
	if c.Database.DBName == "" {
		return NewValidationError("database.dbname", "required")
	}
	if c.Database.User == "" {
		return NewValidationError("database.user", "required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return NewValidationError("database.port", "must be in 1..65535")
	}
	if c.ETL.OutputDir == "" {
		return NewValidationError("etl.output_dir", "required")
	}
	if c.ETL.MemoryLimitMB <= 0 {
		return NewValidationError("etl.memory_limit_mb", "must be positive")
	}
	if c.ETL.ChunkSize <= 0 {
		return NewValidationError("etl.chunk_size", "must be positive")
	}
	if c.ETL.BatchSize <= 0 {
		return NewValidationError("etl.batch_size", "must be positive")
	}
	if c.ETL.MaxWorkers <= 0 {
		return NewValidationError("etl.max_workers", "must be positive")
	}
	if c.Attachments.Download && c.Attachments.Dir == "" {
		return NewValidationError("attachments.dir", "required when download is enabled")
	}
	return nil
}
