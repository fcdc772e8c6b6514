// Package config resolves the dashboard runtime configuration from defaults,
// an optional YAML file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort int

	RedisAddr      string
	RedisNamespace string
	RedisPoolSize  int
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	PageSize       int
	StatsPrefix    string
	MetricsRefresh time.Duration

	PostgresDSN string

	EmailAPIKey string
	FromName    string
	FromAddress string
	DigestTo    []string
}

type configFile struct {
	Server struct {
		HTTPPort       int    `yaml:"http_port"`
		PageSize       int    `yaml:"page_size"`
		StatsPrefix    string `yaml:"stats_prefix"`
		MetricsRefresh string `yaml:"metrics_refresh"`
	} `yaml:"server"`
	Redis struct {
		Addr         string  `yaml:"addr"`
		Namespace    *string `yaml:"namespace"`
		PoolSize     int     `yaml:"pool_size"`
		DialTimeout  string  `yaml:"dial_timeout"`
		ReadTimeout  string  `yaml:"read_timeout"`
		WriteTimeout string  `yaml:"write_timeout"`
	} `yaml:"redis"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Digest struct {
		FromName    string   `yaml:"from_name"`
		FromAddress string   `yaml:"from_address"`
		To          []string `yaml:"to"`
	} `yaml:"digest"`
}

func Default() Config {
	return Config{
		HTTPPort:       8080,
		RedisAddr:      "localhost:6379",
		RedisNamespace: "resque",
		RedisPoolSize:  10,
		DialTimeout:    2 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		PageSize:       20,
		StatsPrefix:    "resque",
		MetricsRefresh: 10 * time.Second,
	}
}

// Load applies defaults, then the YAML file at path (a missing file is not an
// error), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.HTTPPort = envInt("PORT", cfg.HTTPPort)
	cfg.RedisAddr = envOrDefault("REDIS_ADDR", envOrDefault("REDIS_URL", cfg.RedisAddr))
	if ns, ok := os.LookupEnv("REDIS_NAMESPACE"); ok {
		cfg.RedisNamespace = ns
	}
	cfg.RedisPoolSize = envInt("REDIS_POOL_SIZE", cfg.RedisPoolSize)
	cfg.PageSize = envInt("PAGE_SIZE", cfg.PageSize)
	cfg.StatsPrefix = envOrDefault("STATS_PREFIX", cfg.StatsPrefix)
	cfg.PostgresDSN = envOrDefault("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.EmailAPIKey = envOrDefault("EMAIL_API_KEY", cfg.EmailAPIKey)
	cfg.FromName = envOrDefault("FROM_NAME", cfg.FromName)
	cfg.FromAddress = envOrDefault("FROM_ADDRESS", cfg.FromAddress)
	cfg.DigestTo = envCSV("DIGEST_TO", cfg.DigestTo)

	if cfg.RedisAddr == "" {
		return Config{}, errors.New("missing REDIS_ADDR")
	}
	if cfg.PageSize <= 0 {
		return Config{}, fmt.Errorf("page size must be positive, got %d", cfg.PageSize)
	}

	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Server.HTTPPort > 0 {
		cfg.HTTPPort = f.Server.HTTPPort
	}
	if f.Server.PageSize > 0 {
		cfg.PageSize = f.Server.PageSize
	}
	if f.Server.StatsPrefix != "" {
		cfg.StatsPrefix = f.Server.StatsPrefix
	}
	if f.Redis.Addr != "" {
		cfg.RedisAddr = f.Redis.Addr
	}
	if f.Redis.Namespace != nil {
		cfg.RedisNamespace = *f.Redis.Namespace
	}
	if f.Redis.PoolSize > 0 {
		cfg.RedisPoolSize = f.Redis.PoolSize
	}
	if f.Postgres.DSN != "" {
		cfg.PostgresDSN = f.Postgres.DSN
	}
	if f.Digest.FromName != "" {
		cfg.FromName = f.Digest.FromName
	}
	if f.Digest.FromAddress != "" {
		cfg.FromAddress = f.Digest.FromAddress
	}
	if len(f.Digest.To) > 0 {
		cfg.DigestTo = f.Digest.To
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{f.Server.MetricsRefresh, &cfg.MetricsRefresh},
		{f.Redis.DialTimeout, &cfg.DialTimeout},
		{f.Redis.ReadTimeout, &cfg.ReadTimeout},
		{f.Redis.WriteTimeout, &cfg.WriteTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
		*d.dst = parsed
	}

	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func envCSV(name string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
