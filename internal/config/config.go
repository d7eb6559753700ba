// Package config resolves run settings from defaults, an optional dotenv
// file, the process environment and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"moviesetl/internal/logging"
	"moviesetl/internal/storage/postgres"
)

// EnvFileFlag names the flag pointing at the dotenv file.
const EnvFileFlag = "env-file"

// Config holds every setting of a run.
type Config struct {
	SQLiteDB string `mapstructure:"sqlite_db"`

	DBHost     string `mapstructure:"db_host"`
	DBPort     int    `mapstructure:"db_port"`
	DBName     string `mapstructure:"db_name"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`
	DBSSLMode  string `mapstructure:"db_sslmode"`
	DBSchema   string `mapstructure:"db_schema"`

	BatchSize int    `mapstructure:"batch_size"`
	FailFast  bool   `mapstructure:"fail_fast"`
	Job       string `mapstructure:"job"`

	LogLevel    string `mapstructure:"log_level"`
	LogEncoding string `mapstructure:"log_encoding"`

	MetricsBackend string `mapstructure:"metrics_backend"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	DogStatsdAddr  string `mapstructure:"dogstatsd_addr"`
}

type setting struct {
	key   string
	def   any
	usage string
}

var settings = []setting{
	{"sqlite_db", "db.sqlite", "path to the source SQLite database"},
	{"db_host", "127.0.0.1", "PostgreSQL host"},
	{"db_port", 5432, "PostgreSQL port"},
	{"db_name", "", "PostgreSQL database name"},
	{"db_user", "", "PostgreSQL user"},
	{"db_password", "", "PostgreSQL password"},
	{"db_sslmode", "disable", "PostgreSQL sslmode"},
	{"db_schema", "content", "destination schema"},
	{"batch_size", 100, "rows per extracted batch"},
	{"fail_fast", false, "stop the consistency check at the first mismatching table"},
	{"job", "moviesetl", "job name used for metrics labels"},
	{"log_level", "info", "log level (debug, info, warn, error)"},
	{"log_encoding", "console", "log encoding (console or json)"},
	{"metrics_backend", "none", "metrics backend (none, pushgateway, datadog)"},
	{"pushgateway_url", "http://localhost:9091", "Prometheus Pushgateway URL"},
	{"dogstatsd_addr", "127.0.0.1:8125", "DogStatsD address"},
}

func flagName(key string) string { return strings.ReplaceAll(key, "_", "-") }

// AddFlags registers one flag per setting plus --env-file on fs.
func AddFlags(fs *pflag.FlagSet) {
	for _, s := range settings {
		name := flagName(s.key)
		switch d := s.def.(type) {
		case string:
			fs.String(name, d, s.usage)
		case int:
			fs.Int(name, d, s.usage)
		case bool:
			fs.Bool(name, d, s.usage)
		}
	}
	fs.String(EnvFileFlag, ".env", "dotenv file with settings (ignored when missing)")
}

// Load resolves the configuration. flags may be nil; when set, only flags
// the user changed override other sources.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
	}

	envFile := ".env"
	if flags != nil {
		if f := flags.Lookup(EnvFileFlag); f != nil {
			envFile = f.Value.String()
		}
	}
	if err := applyEnvFile(v, envFile); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	if flags != nil {
		for _, s := range settings {
			f := flags.Lookup(flagName(s.key))
			if f == nil {
				continue
			}
			if err := v.BindPFlag(s.key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// applyEnvFile layers dotenv values above the defaults without touching the
// process environment, so real environment variables still win.
func applyEnvFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	vals, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	for _, s := range settings {
		if val, ok := vals[strings.ToUpper(s.key)]; ok {
			v.SetDefault(s.key, val)
		}
	}
	return nil
}

// Postgres returns the destination connection parameters.
func (c *Config) Postgres() postgres.Params {
	return postgres.Params{
		Host:     c.DBHost,
		Port:     c.DBPort,
		Name:     c.DBName,
		User:     c.DBUser,
		Password: c.DBPassword,
		SSLMode:  c.DBSSLMode,
	}
}

func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Encoding: c.LogEncoding}
}
