package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxBatchLimit is the largest records.batch_limit accepted.
const MaxBatchLimit = 1000

type Institution struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	QueryPrice         uint64 `yaml:"query_price"`
	RewardShareRatio   uint32 `yaml:"reward_share_ratio"`
	DataServiceEnabled bool   `yaml:"data_service_enabled"`
}

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Crypto struct {
		MasterKey string `yaml:"master_key"`
	} `yaml:"crypto"`
	Ledger struct {
		Endpoints         []string `yaml:"endpoints"`
		WSEndpoints       []string `yaml:"ws_endpoints"`
		FailoverThreshold int      `yaml:"failover_threshold"`
		TimeoutSeconds    int      `yaml:"timeout_seconds"`
		TreasuryAccount   string   `yaml:"treasury_account"`
	} `yaml:"ledger"`
	Settlement struct {
		QueueSize    int   `yaml:"queue_size"`
		Workers      int   `yaml:"workers"`
		MaxAttempts  int   `yaml:"max_attempts"`
		BackoffMS    int64 `yaml:"backoff_ms"`
		ReceiptLimit int   `yaml:"receipt_limit"`
	} `yaml:"settlement"`
	Records struct {
		BatchLimit int `yaml:"batch_limit"`
	} `yaml:"records"`
	Institutions []Institution `yaml:"institutions"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config, applies env overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MasterKey returns the decoded crypto master key, or nil when none is configured.
func (c *Config) MasterKey() ([]byte, error) {
	if c.Crypto.MasterKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Crypto.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("crypto.master_key: %w", err)
	}
	return key, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if len(c.Ledger.Endpoints) == 0 {
		return errors.New("ledger.endpoints is required")
	}
	if c.Ledger.TreasuryAccount == "" {
		return errors.New("ledger.treasury_account is required")
	}
	if key, err := c.MasterKey(); err != nil {
		return err
	} else if key != nil && len(key) != 32 {
		return errors.New("crypto.master_key must be 32 bytes")
	}
	if c.Records.BatchLimit <= 0 {
		return errors.New("records.batch_limit must be positive")
	}
	if c.Records.BatchLimit > MaxBatchLimit {
		return fmt.Errorf("records.batch_limit must not exceed %d", MaxBatchLimit)
	}
	if c.Settlement.ReceiptLimit < 0 {
		return errors.New("settlement.receipt_limit must not be negative")
	}
	seen := map[string]struct{}{}
	for _, inst := range c.Institutions {
		if inst.ID == "" {
			return errors.New("institution id is required")
		}
		if _, ok := seen[inst.ID]; ok {
			return fmt.Errorf("duplicate institution %s", inst.ID)
		}
		seen[inst.ID] = struct{}{}
		if inst.RewardShareRatio > 100 {
			return fmt.Errorf("institution %s: reward_share_ratio above 100", inst.ID)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Ledger.FailoverThreshold <= 0 {
		cfg.Ledger.FailoverThreshold = 3
	}
	if cfg.Ledger.TimeoutSeconds <= 0 {
		cfg.Ledger.TimeoutSeconds = 10
	}
	if cfg.Settlement.QueueSize <= 0 {
		cfg.Settlement.QueueSize = 1024
	}
	if cfg.Settlement.Workers <= 0 {
		cfg.Settlement.Workers = 1
	}
	if cfg.Settlement.MaxAttempts <= 0 {
		cfg.Settlement.MaxAttempts = 3
	}
	if cfg.Settlement.BackoffMS <= 0 {
		cfg.Settlement.BackoffMS = 500
	}
	if cfg.Settlement.ReceiptLimit == 0 {
		cfg.Settlement.ReceiptLimit = 10000
	}
	if cfg.Records.BatchLimit == 0 {
		cfg.Records.BatchLimit = MaxBatchLimit
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("CRYPTO_MASTER_KEY"); v != "" {
		cfg.Crypto.MasterKey = v
	}
	if v := os.Getenv("LEDGER_ENDPOINTS"); v != "" {
		cfg.Ledger.Endpoints = splitCommaList(v)
	}
	if v := os.Getenv("LEDGER_WS_ENDPOINTS"); v != "" {
		cfg.Ledger.WSEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("LEDGER_TREASURY_ACCOUNT"); v != "" {
		cfg.Ledger.TreasuryAccount = v
	}
	if v := os.Getenv("SETTLEMENT_QUEUE_SIZE"); v != "" {
		cfg.Settlement.QueueSize = atoiOr(cfg.Settlement.QueueSize, v)
	}
	if v := os.Getenv("SETTLEMENT_WORKERS"); v != "" {
		cfg.Settlement.Workers = atoiOr(cfg.Settlement.Workers, v)
	}
	if v := os.Getenv("SETTLEMENT_MAX_ATTEMPTS"); v != "" {
		cfg.Settlement.MaxAttempts = atoiOr(cfg.Settlement.MaxAttempts, v)
	}
	if v := os.Getenv("SETTLEMENT_BACKOFF_MS"); v != "" {
		cfg.Settlement.BackoffMS = atoi64Or(cfg.Settlement.BackoffMS, v)
	}
	if v := os.Getenv("SETTLEMENT_RECEIPT_LIMIT"); v != "" {
		cfg.Settlement.ReceiptLimit = atoiOr(cfg.Settlement.ReceiptLimit, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
