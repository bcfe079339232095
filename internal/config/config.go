// Package config loads deployment configuration from an optional YAML file
// with environment variable overrides on top. Environment always wins, so
// containerized deployments can ship one file and vary secrets per env.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" or "2h" parse.
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings and integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full deployment configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	Store       StoreConfig       `yaml:"store"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Model       ModelConfig       `yaml:"model"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	NATS        NATSConfig        `yaml:"nats"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Compressor  CompressorConfig  `yaml:"compressor"`
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "redis", "badger".
	Backend string `yaml:"backend"`

	Redis struct {
		Addr     string   `yaml:"addr"`
		Password string   `yaml:"password"`
		DB       int      `yaml:"db"`
		TTL      Duration `yaml:"ttl"`
	} `yaml:"redis"`

	BadgerPath string `yaml:"badger_path"`

	// LockTTL bounds the distributed turn lock (redis backend only).
	LockTTL Duration `yaml:"lock_ttl"`
}

// PersistenceConfig enables at-rest protections on the state store.
type PersistenceConfig struct {
	// EncryptionKey is a base64-encoded 32-byte AES-256 key. Empty
	// disables encryption at rest.
	EncryptionKey string `yaml:"encryption_key"`

	// EncryptionFallbackKeys are previous keys (base64) tried on reads
	// during key rotation.
	EncryptionFallbackKeys []string `yaml:"encryption_fallback_keys"`

	// PIIPatterns are regexes matched against field names; matching values
	// are masked before they reach the store.
	PIIPatterns []string `yaml:"pii_patterns"`
}

// ModelConfig configures the completion model.
type ModelConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
}

// PostgresConfig configures the catalog/profile database. Empty URL means
// the in-memory demo catalog.
type PostgresConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// NATSConfig configures escalation event publishing. Empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Subject string `yaml:"subject"`
}

// CheckpointConfig tunes pause expiry.
type CheckpointConfig struct {
	// Expiry is how long a pause awaits review. Zero means forever.
	Expiry Duration `yaml:"expiry"`
	// SweepInterval is how often expired checkpoints are reclaimed.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// CompressorConfig tunes history compression.
type CompressorConfig struct {
	Threshold int `yaml:"threshold"`
	Tail      int `yaml:"tail"`
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	cfg := Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Model: ModelConfig{
			Model: "gpt-4o-mini",
		},
		Checkpoint: CheckpointConfig{
			Expiry:        Duration(24 * time.Hour),
			SweepInterval: Duration(time.Minute),
		},
		Compressor: CompressorConfig{
			Threshold: 10,
			Tail:      4,
		},
	}
	cfg.Store.Backend = "memory"
	cfg.Store.LockTTL = Duration(30 * time.Second)
	return cfg
}

// Load reads the YAML file at path (optional, "" skips it) and applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = envStr("ESPALIER_LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = envStr("ESPALIER_LOG_LEVEL", c.LogLevel)

	c.Store.Backend = envStr("ESPALIER_STORE_BACKEND", c.Store.Backend)
	c.Store.Redis.Addr = envStr("ESPALIER_REDIS_ADDR", c.Store.Redis.Addr)
	c.Store.Redis.Password = envStr("ESPALIER_REDIS_PASSWORD", c.Store.Redis.Password)
	c.Store.Redis.DB = envInt("ESPALIER_REDIS_DB", c.Store.Redis.DB)
	c.Store.BadgerPath = envStr("ESPALIER_BADGER_PATH", c.Store.BadgerPath)

	c.Persistence.EncryptionKey = envStr("ESPALIER_ENCRYPTION_KEY", c.Persistence.EncryptionKey)

	c.Model.APIKey = envStr("OPENAI_API_KEY", c.Model.APIKey)
	c.Model.Model = envStr("ESPALIER_MODEL", c.Model.Model)
	c.Model.BaseURL = envStr("ESPALIER_MODEL_BASE_URL", c.Model.BaseURL)

	c.Postgres.DatabaseURL = envStr("DATABASE_URL", c.Postgres.DatabaseURL)

	c.NATS.URL = envStr("NATS_URL", c.NATS.URL)
	c.NATS.Token = envStr("NATS_TOKEN", c.NATS.Token)
	c.NATS.Subject = envStr("ESPALIER_NATS_SUBJECT", c.NATS.Subject)

	c.Checkpoint.Expiry = envDuration("ESPALIER_CHECKPOINT_EXPIRY", c.Checkpoint.Expiry)
	c.Checkpoint.SweepInterval = envDuration("ESPALIER_SWEEP_INTERVAL", c.Checkpoint.SweepInterval)

	c.Compressor.Threshold = envInt("ESPALIER_COMPRESS_THRESHOLD", c.Compressor.Threshold)
	c.Compressor.Tail = envInt("ESPALIER_COMPRESS_TAIL", c.Compressor.Tail)
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "redis", "badger":
	default:
		return fmt.Errorf("unknown store backend %q (want memory, redis or badger)", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("redis backend requires store.redis.addr")
	}
	if c.Store.Backend == "badger" && c.Store.BadgerPath == "" {
		return fmt.Errorf("badger backend requires store.badger_path")
	}
	if c.Compressor.Threshold > 0 && c.Compressor.Tail >= c.Compressor.Threshold {
		return fmt.Errorf("compressor tail (%d) must be smaller than threshold (%d)", c.Compressor.Tail, c.Compressor.Threshold)
	}
	if _, _, err := c.Persistence.Keys(); err != nil {
		return err
	}
	for _, p := range c.Persistence.PIIPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid pii pattern %q: %w", p, err)
		}
	}
	return nil
}

// Keys decodes the configured encryption keys. The active key is nil when
// encryption is disabled.
func (p PersistenceConfig) Keys() (active []byte, fallbacks [][]byte, err error) {
	if p.EncryptionKey == "" {
		return nil, nil, nil
	}
	active, err = decodeKey(p.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("persistence.encryption_key: %w", err)
	}
	for i, k := range p.EncryptionFallbackKeys {
		fb, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("persistence.encryption_fallback_keys[%d]: %w", i, err)
		}
		fallbacks = append(fallbacks, fb)
	}
	return active, fallbacks, nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback Duration) Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return Duration(d)
		}
	}
	return fallback
}
