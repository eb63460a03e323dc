// Package config loads walletd's configuration from the environment, with
// an optional YAML defaults file for local development.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/waleed-se/walletd/pkg/money"
)

// Config holds every setting walletd needs to boot.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string `yaml:"database_url"`

	// DatabaseMaxOpenConns sizes the connection pool.
	DatabaseMaxOpenConns int `yaml:"database_max_open_conns"`

	// AESEncryptionKeyHex is the 64-hex-character (32-byte) key wallets'
	// private keys are encrypted under at rest.
	AESEncryptionKeyHex string `yaml:"aes_encryption_key_hex"`
	AESEncryptionKey    []byte `yaml:"-"`

	// JWTSecret signs bearer tokens issued at login.
	JWTSecret string `yaml:"jwt_secret"`

	// PendingTTL is how long an admitted transaction may sit in the
	// mempool before the janitor releases its UTXO reservation.
	PendingTTL time.Duration `yaml:"pending_ttl"`

	// JanitorInterval is how often the janitor sweep runs.
	JanitorInterval time.Duration `yaml:"janitor_interval"`

	// MaxClockSkew is passed to txservice.New. Admission does not compare
	// any timestamp against it: transaction timestamps are generated by the
	// server at admission time.
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`

	// MempoolBatchSize bounds how many pending transactions a single
	// mined block may include (MAX_BATCH).
	MempoolBatchSize int `yaml:"mempool_batch_size"`

	// InitialReward is the coinbase reward paid before any halving, in
	// base units (see pkg/money). Set from INITIAL_REWARD (base units) or
	// BLOCK_REWARD_INITIAL (a decimal coin amount, e.g. "500").
	InitialReward uint64 `yaml:"initial_reward"`

	// HalvingInterval is the block height interval the reward halves at.
	HalvingInterval int64 `yaml:"halving_interval"`

	// MiningDifficulty is the number of leading hex-zero nibbles a block
	// hash must have to be valid proof of work.
	MiningDifficulty int `yaml:"mining_difficulty"`

	// TxFee is the flat fee, in base units, charged against the sender of
	// every non-coinbase transaction and paid to the miner.
	TxFee uint64 `yaml:"tx_fee"`

	// LogLevel controls pkg/logging verbosity.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a Config populated with development defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:           ":8080",
		DatabaseURL:          "postgres://localhost:5432/walletd?sslmode=disable",
		DatabaseMaxOpenConns: 20,
		JWTSecret:            "dev-secret-change-me",
		PendingTTL:           86400 * time.Second,
		JanitorInterval:      60 * time.Second,
		MaxClockSkew:         15 * time.Minute,
		MempoolBatchSize:     500,
		InitialReward:        50000000000,
		HalvingInterval:      5,
		MiningDifficulty:     3,
		TxFee:                10000000,
		LogLevel:             "info",
	}
}

// Load builds a Config from, in increasing priority: built-in defaults, an
// optional YAML file at yamlPath (skipped if it does not exist), then
// environment variables.
func Load(yamlPath string) (*Config, error) {
	cfg := DefaultConfig()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.AESEncryptionKeyHex == "" {
		return nil, fmt.Errorf("config: AES_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(cfg.AESEncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("config: AES_ENCRYPTION_KEY must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: AES_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.AESEncryptionKey = key

	return cfg, nil
}

// Save writes cfg to a YAML file under a generated-file header.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	header := []byte("# walletd configuration\n# generated automatically on first run\n\n")
	if err := os.WriteFile(path, append(header, data...), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("DATABASE_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DatabaseMaxOpenConns = n
		}
	}
	if v := os.Getenv("AES_ENCRYPTION_KEY"); v != "" {
		cfg.AESEncryptionKeyHex = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("PENDING_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PendingTTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("JANITOR_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JanitorInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("MAX_CLOCK_SKEW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxClockSkew = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("MEMPOOL_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MempoolBatchSize = n
		}
	}
	if v := os.Getenv("INITIAL_REWARD"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.InitialReward = n
		}
	}
	if v := os.Getenv("BLOCK_REWARD_INITIAL"); v != "" {
		if n, err := money.Parse(v); err == nil {
			cfg.InitialReward = n
		}
	}
	if v := os.Getenv("HALVING_INTERVAL"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.HalvingInterval = n
		}
	}
	if v := os.Getenv("MINING_DIFFICULTY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MiningDifficulty = n
		}
	}
	if v := os.Getenv("TX_FEE"); v != "" {
		if n, err := money.Parse(v); err == nil {
			cfg.TxFee = n
		}
	}
	if v := os.Getenv("MAX_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MempoolBatchSize = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
