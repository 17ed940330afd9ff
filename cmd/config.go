package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lila-repro/lila/internal/evaluator"
	"github.com/lila-repro/lila/internal/server"
	"github.com/lila-repro/lila/internal/sql"
)

// errFlagRetrieval is the error message for when a flag cannot be retrieved.
var errFlagRetrieval = errors.New("error getting flag")

// errRequiredFlagEmpty is the error message for a required flag that is empty.
var errRequiredFlagEmpty = errors.New("is required and cannot be empty")

// defaultEnvFile is loaded when present; a missing default file is not an error.
const defaultEnvFile = ".env"

// Config is the configuration of the lila server and its maintenance commands.
type Config struct {
	Database  sql.DatabaseConfig `yaml:"database"`
	Server    server.Config      `yaml:"server"`
	LogLevel  string             `yaml:"log_level"`
	PprofAddr string             `yaml:"pprof_addr"`
	Evaluator string             `yaml:"evaluator"`
}

func defaultConfig() Config {
	return Config{
		Database: sql.DatabaseConfig{
			Type: sql.TypeSQLite,
			Path: "lila.db",
		},
		Server: server.Config{
			Addr: ":8000",
		},
		LogLevel:  "info",
		Evaluator: evaluator.DefaultBinary,
	}
}

// loadConfig layers the defaults, the YAML file at path, the environment and
// finally the flags explicitly set on cmd.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	cfg := defaultConfig()

	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return nil, fmt.Errorf("%w: env-file: %w", errFlagRetrieval, err)
	}
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("%w: config: %w", errFlagRetrieval, err)
	}
	if path != "" {
		if err := readConfigFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if path == defaultEnvFile && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", path, err)
}

func readConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with LILA_* variables and DATABASE_URL.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LILA_DB_TYPE":     &cfg.Database.Type,
		"LILA_DB_PATH":     &cfg.Database.Path,
		"LILA_DB_HOST":     &cfg.Database.Host,
		"LILA_DB_USER":     &cfg.Database.User,
		"LILA_DB_PASSWORD": &cfg.Database.Password,
		"LILA_DB_NAME":     &cfg.Database.Name,
		"LILA_DB_SSL_MODE": &cfg.Database.SSLMode,
		"LILA_DB_INSTANCE": &cfg.Database.InstanceConnectionName,
		"LILA_ADDR":        &cfg.Server.Addr,
		"LILA_LOG_LEVEL":   &cfg.LogLevel,
		"LILA_PPROF_ADDR":  &cfg.PprofAddr,
		"LILA_EVALUATOR":   &cfg.Evaluator,
		"LILA_DB_PORT":     &cfg.Database.Port,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		cfg.Database.URL = v
		if _, typed := lookup("LILA_DB_TYPE"); !typed {
			cfg.Database.Type = sql.TypePostgres
		}
	}
	if v, ok := lookup("LILA_CORS_ORIGINS"); ok && v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup("LILA_SAMPLE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LILA_SAMPLE_SIZE %q: %w", v, err)
		}
		cfg.Server.SampleSize = n
	}
	return nil
}

// applyFlags overrides cfg with the flags the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *Config) error {
	strs := map[string]*string{
		"db-type":     &cfg.Database.Type,
		"db-path":     &cfg.Database.Path,
		"db-url":      &cfg.Database.URL,
		"db-host":     &cfg.Database.Host,
		"db-port":     &cfg.Database.Port,
		"db-user":     &cfg.Database.User,
		"db-password": &cfg.Database.Password,
		"db-name":     &cfg.Database.Name,
		"db-ssl-mode": &cfg.Database.SSLMode,
		"db-instance": &cfg.Database.InstanceConnectionName,
		"log-level":   &cfg.LogLevel,
		"addr":        &cfg.Server.Addr,
		"pprof-addr":  &cfg.PprofAddr,
		"evaluator":   &cfg.Evaluator,
	}
	flags := cmd.Flags()
	for name, dst := range strs {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}
		value, err := flags.GetString(name)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", errFlagRetrieval, name, err)
		}
		*dst = value
	}
	if flags.Lookup("cors-origins") != nil && flags.Changed("cors-origins") {
		origins, err := flags.GetStringSlice("cors-origins")
		if err != nil {
			return fmt.Errorf("%w: cors-origins: %w", errFlagRetrieval, err)
		}
		cfg.Server.AllowedOrigins = origins
	}
	if flags.Lookup("sample-size") != nil && flags.Changed("sample-size") {
		n, err := flags.GetInt("sample-size")
		if err != nil {
			return fmt.Errorf("%w: sample-size: %w", errFlagRetrieval, err)
		}
		cfg.Server.SampleSize = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
