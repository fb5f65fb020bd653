// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration knobs for the HTTP server, the serialized
// access gate and the catalog store.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	CatalogPath       string
	LedgerPath        string
	LedgerMax         int
	ChangesetCacheMax int

	GateQueueCap int

	MaxBodyBytes int64
	AuthEnabled  bool
	AuthToken    string

	RateLimitRPS   int
	RateLimitBurst int

	LogFormat string
}

// fileConfig mirrors the optional YAML config file. Every knob is also an
// environment variable; env wins over file, file wins over defaults.
type fileConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
	CatalogPath        string `yaml:"catalog_path"`
	LedgerPath         string `yaml:"ledger_path"`
	LedgerMax          int    `yaml:"ledger_max"`
	ChangesetCacheMax  int    `yaml:"changeset_cache_max"`
	GateQueueCap       int    `yaml:"gate_queue_cap"`
	MaxBodyBytes       int64  `yaml:"max_body_bytes"`
	AuthEnabled        bool   `yaml:"auth_enabled"`
	AuthToken          string `yaml:"auth_token"`
	RateLimitRPS       int    `yaml:"rate_limit_rps"`
	RateLimitBurst     int    `yaml:"rate_limit_burst"`
	LogFormat          string `yaml:"log_format"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolenv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

// Load collects configuration from an optional YAML file (CONFIG_FILE) and
// the environment, with environment values taking precedence.
func Load() Config {
	fc := fileConfig{
		HTTPAddr:           ":8080",
		ShutdownTimeoutSec: 15,
		CatalogPath:        "data/product_data.json",
		LedgerPath:         "data/catalog_changes.json",
		LedgerMax:          2000,
		ChangesetCacheMax:  200,
		GateQueueCap:       256,
		MaxBodyBytes:       64 * 1024,
		RateLimitRPS:       50,
		RateLimitBurst:     100,
		LogFormat:          "json",
	}
	if path := getenv("CONFIG_FILE", ""); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &fc)
		}
	}
	return Config{
		HTTPAddr:          getenv("HTTP_ADDR", fc.HTTPAddr),
		ShutdownTimeout:   durenvs("SHUTDOWN_TIMEOUT", fc.ShutdownTimeoutSec),
		CatalogPath:       getenv("CATALOG_PATH", fc.CatalogPath),
		LedgerPath:        getenv("LEDGER_PATH", fc.LedgerPath),
		LedgerMax:         atoienv("LEDGER_MAX", fc.LedgerMax),
		ChangesetCacheMax: atoienv("CHANGESET_CACHE_MAX", fc.ChangesetCacheMax),
		GateQueueCap:      atoienv("GATE_QUEUE_CAP", fc.GateQueueCap),
		MaxBodyBytes:      int64(atoienv("MAX_BODY_BYTES", int(fc.MaxBodyBytes))),
		AuthEnabled:       boolenv("AUTH_ENABLED", fc.AuthEnabled),
		AuthToken:         getenv("AUTH_TOKEN", fc.AuthToken),
		RateLimitRPS:      atoienv("RATE_LIMIT_RPS", fc.RateLimitRPS),
		RateLimitBurst:    atoienv("RATE_LIMIT_BURST", fc.RateLimitBurst),
		LogFormat:         getenv("LOG_FORMAT", fc.LogFormat),
	}
}
