package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/haoxai/import-engine/pkg/models"
)

// Config holds all configuration for the import engine.
// Configuration can come from a YAML file or environment variables;
// environment variables override YAML values. Secrets (the database
// password) must only come from environment variables.
type Config struct {
	// Target database connection
	Database DatabaseConfig `yaml:"database"`

	// Import engine tunables
	Import ImportConfig `yaml:"import"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

// DatabaseConfig holds the target database connection settings.
type DatabaseConfig struct {
	// Engine selects the adapter: "postgres" or "mssql".
	Engine   string `yaml:"engine" env:"DB_ENGINE" env-default:"postgres"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	Database string `yaml:"database" env:"DB_NAME" env-default:"haoxai"`
	// Schema is the namespace to introspect and write to. Empty picks the
	// engine default ("public" or "dbo").
	Schema   string `yaml:"schema" env:"DB_SCHEMA" env-default:""`
	Username string `yaml:"username" env:"DB_USER" env-default:"haoxai"`
	Password string `yaml:"-" env:"DB_PASSWORD"` // Secret - not in YAML
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSLMODE" env-default:"disable"`
}

// ImportConfig holds engine behavior settings.
type ImportConfig struct {
	// ExcludedTablesStr is a comma-separated list of tables that are never
	// import targets.
	ExcludedTablesStr string `yaml:"excluded_tables" env:"IMPORT_EXCLUDED_TABLES" env-default:"users,user_sessions,roles,permissions,audit_log,sequences,consensus_sequences,blast_results,blast_hits,recycle_bin,schema_migrations"`

	// AutoCreateKindsStr is a comma-separated list of table-name fragments
	// whose referenced rows may be created on the fly during foreign key
	// resolution.
	AutoCreateKindsStr string `yaml:"auto_create_kinds" env:"IMPORT_AUTO_CREATE_KINDS" env-default:"location,taxonom,environment,team"`

	// DefaultMode applies when the caller does not pick one.
	DefaultMode string `yaml:"default_mode" env:"IMPORT_DEFAULT_MODE" env-default:"skip"`

	// CreatedBy is stamped into created_by on inserted rows when the target
	// table has that column.
	CreatedBy string `yaml:"created_by" env:"IMPORT_CREATED_BY" env-default:""`

	// Parsed forms of the comma-separated fields.
	ExcludedTables  []string `yaml:"-"`
	AutoCreateKinds []string `yaml:"-"`
}

// Load reads configuration from path with environment variable overrides.
// An empty path, or a missing file, falls back to environment variables and
// defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			cfg.parseComplexFields()
			return cfg, cfg.validate()
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read config from environment: %w", err)
	}
	cfg.parseComplexFields()
	return cfg, cfg.validate()
}

// parseComplexFields splits the comma-separated list fields.
func (c *Config) parseComplexFields() {
	c.Import.ExcludedTables = splitList(c.Import.ExcludedTablesStr)
	c.Import.AutoCreateKinds = splitList(c.Import.AutoCreateKindsStr)
}

func (c *Config) validate() error {
	if c.Database.Engine != "postgres" && c.Database.Engine != "mssql" {
		return fmt.Errorf("unsupported database engine %q", c.Database.Engine)
	}
	if !models.ImportMode(c.Import.DefaultMode).Valid() {
		return fmt.Errorf("invalid default import mode %q", c.Import.DefaultMode)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
