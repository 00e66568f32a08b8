package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	Relayer    RelayerConfig    `yaml:"relayer"`
	Queue      QueueConfig      `yaml:"queue"`
	DeadLetter DeadLetterConfig `yaml:"deadletter"`
	Chains     []Chain          `yaml:"chains"`
}

type ServerConfig struct {
	Port          int    `yaml:"port"`
	WebhookSecret string `yaml:"webhook_secret"`
	SecretHeader  string `yaml:"secret_header"`
}

type RelayerConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

type QueueConfig struct {
	RedisHost         string `yaml:"redis_host"`
	RedisPort         string `yaml:"redis_port"`
	RedisPassword     string `yaml:"redis_password"`
	RedisDB           int    `yaml:"redis_db"`
	KeyPrefix         string `yaml:"key_prefix"`
	Concurrency       int    `yaml:"concurrency"`
	MaxAttempts       int    `yaml:"max_attempts"`
	BackoffBase       string `yaml:"backoff_base"`
	VisibilityTimeout string `yaml:"visibility_timeout"`
	Retention         string `yaml:"retention"`
}

type DeadLetterConfig struct {
	DBPath string `yaml:"db_path"`
}

// Chain describes one supported chain: its symbolic name, numeric id, the
// bridge contracts deployed on it (used for address-based classification),
// and name fragments used as a last-resort heuristic.
type Chain struct {
	Name      string   `yaml:"name"`
	ChainID   uint64   `yaml:"chain_id"`
	Contracts []string `yaml:"contracts"`
	Aliases   []string `yaml:"aliases"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies defaults, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.SecretHeader == "" {
		c.Server.SecretHeader = "X-Webhook-Secret"
	}
	if c.Relayer.Timeout == "" {
		c.Relayer.Timeout = "10s"
	}
	if c.Queue.RedisHost == "" {
		c.Queue.RedisHost = "localhost"
	}
	if c.Queue.RedisPort == "" {
		c.Queue.RedisPort = "6379"
	}
	if c.Queue.KeyPrefix == "" {
		c.Queue.KeyPrefix = "relay"
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = 5
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BackoffBase == "" {
		c.Queue.BackoffBase = "2s"
	}
	if c.Queue.VisibilityTimeout == "" {
		c.Queue.VisibilityTimeout = "60s"
	}
	if c.Queue.Retention == "" {
		c.Queue.Retention = "24h"
	}
	if c.DeadLetter.DBPath == "" {
		c.DeadLetter.DBPath = "deadletter.db"
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.Server.WebhookSecret == "" {
		return errors.New("server.webhook_secret is required")
	}
	if c.Relayer.BaseURL == "" {
		return errors.New("relayer.base_url is required")
	}
	if len(c.Chains) == 0 {
		return errors.New("at least one chain is required")
	}

	for _, field := range []struct{ name, value string }{
		{"relayer.timeout", c.Relayer.Timeout},
		{"queue.backoff_base", c.Queue.BackoffBase},
		{"queue.visibility_timeout", c.Queue.VisibilityTimeout},
		{"queue.retention", c.Queue.Retention},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", field.name, field.value)
		}
	}

	names := map[string]struct{}{}
	for _, ch := range c.Chains {
		if _, exists := names[ch.Name]; exists {
			return fmt.Errorf("duplicate chain name: %s", ch.Name)
		}
		names[ch.Name] = struct{}{}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chain %s: %w", ch.Name, err)
		}
	}

	return nil
}

func (ch *Chain) Validate() error {
	if ch.Name == "" {
		return errors.New("name is required")
	}
	if ch.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	for _, addr := range ch.Contracts {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid contract address: %s", addr)
		}
	}
	return nil
}

// RelayerTimeout returns the outbound HTTP timeout; Validate guarantees the
// stored string parses.
func (c *Config) RelayerTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Relayer.Timeout)
	return d
}

// BackoffBaseDuration returns the queue retry backoff base duration.
func (q *QueueConfig) BackoffBaseDuration() time.Duration {
	d, _ := time.ParseDuration(q.BackoffBase)
	return d
}

// VisibilityTimeoutDuration returns how long a lease may be held before the
// job becomes eligible for re-lease.
func (q *QueueConfig) VisibilityTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(q.VisibilityTimeout)
	return d
}

// RetentionDuration returns how long completed-job dedup markers are kept.
func (q *QueueConfig) RetentionDuration() time.Duration {
	d, _ := time.ParseDuration(q.Retention)
	return d
}

// RedisAddr returns host:port for the queue backing store.
func (q *QueueConfig) RedisAddr() string {
	return q.RedisHost + ":" + q.RedisPort
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
