// config.go - Configuration management for the dark-pool daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the daemon configuration.
type Config struct {
	// HTTP surface
	ListenAddr string `json:"listen_addr"`

	// Compliance whitelist: JSON array of participant addresses, ordered as
	// registered on-chain.
	WhitelistPath string `json:"whitelist_path"`

	// Circuit artifacts
	CircuitWasmPath  string `json:"circuit_wasm_path"`
	CircuitZkeyPath  string `json:"circuit_zkey_path"`
	VerifyingKeyPath string `json:"verifying_key_path"`
	ProofWorkers     int    `json:"proof_workers"` // 0 = one per CPU

	// Settlement
	SettlementRelayerURL    string `json:"settlement_relayer_url"`
	SignatureTimeoutSeconds int    `json:"signature_timeout_seconds"` // 0 = order expiry
	AutoProcessMatches      bool   `json:"auto_process_matches"`

	// Durable log; empty disables persistence.
	DataDir string `json:"data_dir"`

	// Event mirror; empty broker list disables it.
	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`

	// Pub/sub
	SubscriberQueueSize int `json:"subscriber_queue_size"`
	PingIntervalSeconds int `json:"ping_interval_seconds"`

	// Logging
	LogLevel     string `json:"log_level"`
	LogFile      string `json:"log_file"`
	AuditLogPath string `json:"audit_log_path"`

	// Per-trader submission rate limit
	RateLimitBurst  int `json:"rate_limit_burst"`
	RateLimitPerMin int `json:"rate_limit_per_min"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":8547",
		WhitelistPath:       "whitelist.json",
		CircuitWasmPath:     "artifacts/settlement_proof.wasm",
		CircuitZkeyPath:     "artifacts/settlement_proof_final.zkey",
		ProofWorkers:        0,
		AutoProcessMatches:  true,
		DataDir:             "data",
		KafkaTopic:          "darkpool.events",
		SubscriberQueueSize: 256,
		PingIntervalSeconds: 30,
		LogLevel:            "info",
		LogFile:             "darkpool.log",
		AuditLogPath:        "audit.log",
		RateLimitBurst:      30,
		RateLimitPerMin:     60,
	}
}

// LoadConfig loads configuration from file or creates the default.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file.
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.WhitelistPath == "" {
		return fmt.Errorf("whitelist_path must be set")
	}
	if c.CircuitWasmPath == "" || c.CircuitZkeyPath == "" {
		return fmt.Errorf("circuit artifact paths must be set")
	}
	if c.ProofWorkers < 0 {
		return fmt.Errorf("proof_workers must not be negative")
	}
	if c.SignatureTimeoutSeconds < 0 {
		return fmt.Errorf("signature_timeout_seconds must not be negative")
	}
	if c.SubscriberQueueSize <= 0 {
		return fmt.Errorf("subscriber_queue_size must be positive")
	}
	if c.PingIntervalSeconds <= 0 {
		return fmt.Errorf("ping_interval_seconds must be positive")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("kafka_topic must be set when brokers are configured")
	}
	if c.RateLimitBurst <= 0 || c.RateLimitPerMin <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

// LoadWhitelist reads the ordered participant address list.
func LoadWhitelist(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read whitelist: %w", err)
	}
	var addrs []string
	if err := json.Unmarshal(data, &addrs); err != nil {
		return nil, fmt.Errorf("failed to decode whitelist: %w", err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("whitelist is empty")
	}
	return addrs, nil
}
