// Package config loads and validates the process-wide configuration
// surface: queue limits, Sumeragi timing, network parameters, chain-wide
// bounds, and genesis material. It deliberately
// owns only parsing and validation, not the command-line or environment
// layer that selects a config file in the first place.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueConfig bounds the transaction queue.
type QueueConfig struct {
	Capacity               int           `yaml:"capacity"`
	CapacityPerUser        int           `yaml:"capacity_per_user"`
	TransactionTimeToLive  time.Duration `yaml:"transaction_time_to_live"`
	FutureThreshold        time.Duration `yaml:"future_threshold"`
}

// SumeragiConfig times the consensus protocol.
type SumeragiConfig struct {
	BlockTime      time.Duration `yaml:"block_time"`
	CommitTime     time.Duration `yaml:"commit_time"`
	TxReceiptTime  time.Duration `yaml:"tx_receipt_time"`
	TrustedPeers   []TrustedPeer `yaml:"trusted_peers"`
	GossipPeriod   time.Duration `yaml:"gossip_period"`
	GossipBatchSize int          `yaml:"gossip_batch_size"`
}

// TrustedPeer is one entry of the initial committee membership list.
type TrustedPeer struct {
	Address   string `yaml:"address"`
	PublicKey string `yaml:"public_key"` // hex-encoded raw key bytes
	Algorithm string `yaml:"algorithm"`  // "ed25519" or "secp256k1"
}

// NetworkConfig bounds the peer transport.
type NetworkConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	ListenAddr  string        `yaml:"listen_addr"`
}

// ChainWideConfig bounds block production independent of the queue.
type ChainWideConfig struct {
	MaxTransactionsInBlock int `yaml:"max_transactions_in_block"`
}

// GenesisConfig names the initial block material.
type GenesisConfig struct {
	PublicKey string `yaml:"public_key"`
	File      string `yaml:"file"`
}

// Config is the top-level document recognized by the core.
type Config struct {
	Queue      QueueConfig     `yaml:"queue"`
	Sumeragi   SumeragiConfig  `yaml:"sumeragi"`
	Network    NetworkConfig   `yaml:"network"`
	ChainWide  ChainWideConfig `yaml:"chain_wide"`
	Genesis    GenesisConfig   `yaml:"genesis"`
}

// Default returns a Config populated with conservative defaults suitable
// for a single-node development deployment.
func Default() Config {
	return Config{
		Queue: QueueConfig{
			Capacity:              1 << 16,
			CapacityPerUser:       256,
			TransactionTimeToLive: 24 * time.Hour,
			FutureThreshold:       time.Minute,
		},
		Sumeragi: SumeragiConfig{
			BlockTime:       2 * time.Second,
			CommitTime:      4 * time.Second,
			TxReceiptTime:   2 * time.Second,
			GossipPeriod:    time.Second,
			GossipBatchSize: 64,
		},
		Network: NetworkConfig{
			IdleTimeout: 10 * time.Second,
			ListenAddr:  "0.0.0.0:10001",
		},
		ChainWide: ChainWideConfig{
			MaxTransactionsInBlock: 4096,
		},
	}
}

// Load reads and parses a YAML configuration file at path, then validates
// it. A malformed file or a failed validation is a fatal configuration
// error.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every field recognized by the core is internally
// consistent. It never inspects the filesystem or network.
func (c Config) Validate() error {
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("config: queue.capacity must be positive")
	}
	if c.Queue.CapacityPerUser <= 0 {
		return fmt.Errorf("config: queue.capacity_per_user must be positive")
	}
	if c.Queue.CapacityPerUser > c.Queue.Capacity {
		return fmt.Errorf("config: queue.capacity_per_user cannot exceed queue.capacity")
	}
	if c.Queue.TransactionTimeToLive <= 0 {
		return fmt.Errorf("config: queue.transaction_time_to_live must be positive")
	}
	if c.Queue.FutureThreshold < 0 {
		return fmt.Errorf("config: queue.future_threshold cannot be negative")
	}
	if c.Sumeragi.BlockTime <= 0 || c.Sumeragi.CommitTime <= 0 || c.Sumeragi.TxReceiptTime <= 0 {
		return fmt.Errorf("config: sumeragi timing fields must be positive")
	}
	if c.Sumeragi.GossipPeriod <= 0 {
		return fmt.Errorf("config: sumeragi.gossip_period must be positive")
	}
	if c.Sumeragi.GossipBatchSize <= 0 {
		return fmt.Errorf("config: sumeragi.gossip_batch_size must be positive")
	}
	if len(c.Sumeragi.TrustedPeers) == 0 {
		return fmt.Errorf("config: sumeragi.trusted_peers must not be empty")
	}
	for i, p := range c.Sumeragi.TrustedPeers {
		if p.Address == "" {
			return fmt.Errorf("config: sumeragi.trusted_peers[%d].address is required", i)
		}
		if p.PublicKey == "" {
			return fmt.Errorf("config: sumeragi.trusted_peers[%d].public_key is required", i)
		}
		switch p.Algorithm {
		case "ed25519", "secp256k1":
		default:
			return fmt.Errorf("config: sumeragi.trusted_peers[%d].algorithm %q is unsupported", i, p.Algorithm)
		}
	}
	if c.Network.IdleTimeout <= 0 {
		return fmt.Errorf("config: network.idle_timeout must be positive")
	}
	if c.Network.ListenAddr == "" {
		return fmt.Errorf("config: network.listen_addr is required")
	}
	if c.ChainWide.MaxTransactionsInBlock <= 0 {
		return fmt.Errorf("config: chain_wide.max_transactions_in_block must be positive")
	}
	return nil
}
