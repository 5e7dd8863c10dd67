package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppName names the config and data directories.
const AppName = "recordsync"

// Config holds all application configuration
type Config struct {
	RecordsPath     string         `mapstructure:"records_path" validate:"required,dir"`
	Database        DatabaseConfig `mapstructure:"database"`
	Index           IndexConfig    `mapstructure:"index"`
	Sync            SyncConfig     `mapstructure:"sync"`
	Log             LogConfig      `mapstructure:"log"`
	IgnorePatterns  []string       `mapstructure:"ignore_patterns"`
	IncludePatterns []string       `mapstructure:"include_patterns"`
	// Types and Statuses extend the core registry values.
	Types    []string `mapstructure:"types" validate:"dive,max=64"`
	Statuses []string `mapstructure:"statuses" validate:"dive,max=64"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	Host     string `mapstructure:"host" validate:"required_if=Driver postgres"`
	Port     int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	User     string `mapstructure:"user" validate:"required_if=Driver postgres"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database" validate:"required_if=Driver postgres"`
	Schema   string `mapstructure:"schema"` // Optional: derived from the records folder if not specified
	SSLMode  string `mapstructure:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path" validate:"required_if=Driver sqlite"`
}

// IndexConfig controls index generation
type IndexConfig struct {
	Path    string `mapstructure:"path"`
	Workers int    `mapstructure:"workers" validate:"min=0"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	ConflictResolution string `mapstructure:"conflict_resolution" validate:"oneof=file-wins database-wins timestamp manual"`
	DebounceMs         int    `mapstructure:"debounce_ms" validate:"min=0"`
	TimeoutS           int    `mapstructure:"timeout_s" validate:"min=1"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	// Unqualified table names resolve to the records schema
	if d.Schema != "" {
		q.Set("search_path", d.Schema+",public")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Port:    5432,
			SSLMode: "require",
		},
		Sync: SyncConfig{
			ConflictResolution: "file-wins",
			DebounceMs:         2000,
			TimeoutS:           60,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		IgnorePatterns: []string{
			".git/**",
			".trash/**",
			"**/.DS_Store",
			"**/node_modules/**",
		},
	}
}

// Load reads configuration from a .env file, the config file and the
// environment, in increasing precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("database.driver", defaults.Database.Driver)
	v.SetDefault("database.port", defaults.Database.Port)
	v.SetDefault("database.sslmode", defaults.Database.SSLMode)
	v.SetDefault("sync.conflict_resolution", defaults.Sync.ConflictResolution)
	v.SetDefault("sync.debounce_ms", defaults.Sync.DebounceMs)
	v.SetDefault("sync.timeout_s", defaults.Sync.TimeoutS)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("ignore_patterns", defaults.IgnorePatterns)

	// Registered so AutomaticEnv can override keys absent from the file
	for _, key := range []string{
		"records_path", "database.host", "database.user", "database.password",
		"database.database", "database.schema", "database.path",
		"index.path", "log.file",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("index.workers", 0)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("RECORDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.RecordsPath = expandPath(cfg.RecordsPath)
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Index.Path = expandPath(cfg.Index.Path)
	cfg.Log.File = expandPath(cfg.Log.File)

	cfg.applyDerived()

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDerived fills settings that default from other settings.
func (c *Config) applyDerived() {
	name := SanitizeIdentifier(filepath.Base(c.RecordsPath))
	if c.Database.Schema == "" {
		c.Database.Schema = name
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = filepath.Join(DataDir(), name+".db")
	}
	if c.Index.Path == "" && c.RecordsPath != "" {
		c.Index.Path = filepath.Join(c.RecordsPath, "index.json")
	}
}

var identifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Validate checks a loaded or hand-built configuration.
func Validate(cfg *Config) error {
	validate := validator.New()

	validate.RegisterValidation("dir", func(fl validator.FieldLevel) bool {
		path := fl.Field().String()
		if path == "" {
			return false
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		return info.IsDir()
	})

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// The schema is interpolated into DDL, so it must be a plain identifier
	if cfg.Database.Driver == "postgres" && !identifierRegex.MatchString(cfg.Database.Schema) {
		return fmt.Errorf("config validation failed: invalid schema name %q", cfg.Database.Schema)
	}

	return nil
}

// ConfigDir returns the directory searched for config.yaml.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DataDir returns the directory holding local SQLite projections.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}

// SanitizeIdentifier converts a records folder name into a valid PostgreSQL
// identifier (schema name) and SQLite file stem.
// Rules:
// - Lowercase only
// - Starts with letter or underscore
// - Contains only letters, digits, underscores
// - Spaces and hyphens become underscores
// - Max 63 characters (PostgreSQL limit)
func SanitizeIdentifier(name string) string {
	name = strings.ToLower(name)

	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")

	reg := regexp.MustCompile(`[^a-z0-9_]`)
	name = reg.ReplaceAllString(name, "")

	reg = regexp.MustCompile(`_+`)
	name = reg.ReplaceAllString(name, "_")

	name = strings.Trim(name, "_")

	// Ensure it starts with a letter (prepend 'records_' if it starts with digit or is empty)
	if len(name) == 0 {
		name = "records"
	} else if unicode.IsDigit(rune(name[0])) {
		name = "records_" + name
	}

	if len(name) > 63 {
		name = name[:63]
		// Make sure we don't end with underscore after truncation
		name = strings.TrimRight(name, "_")
	}

	return name
}
