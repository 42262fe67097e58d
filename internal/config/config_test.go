package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irohad/sumeragi/internal/config"
)

const sampleYAML = `
queue:
  capacity: 1024
  capacity_per_user: 16
  transaction_time_to_live: 1h
  future_threshold: 1m
sumeragi:
  block_time: 2s
  commit_time: 4s
  tx_receipt_time: 2s
  gossip_period: 1s
  gossip_batch_size: 32
  trusted_peers:
    - address: "127.0.0.1:10001"
      public_key: "deadbeef"
      algorithm: "ed25519"
network:
  idle_timeout: 10s
  listen_addr: "0.0.0.0:10001"
chain_wide:
  max_transactions_in_block: 512
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesAndValidatesSample(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Queue.Capacity)
	assert.Equal(t, 16, cfg.Queue.CapacityPerUser)
	assert.Len(t, cfg.Sumeragi.TrustedPeers, 1)
	assert.Equal(t, "127.0.0.1:10001", cfg.Sumeragi.TrustedPeers[0].Address)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsEmptyTrustedPeers(t *testing.T) {
	path := writeTemp(t, `
queue:
  capacity: 1024
  capacity_per_user: 16
  transaction_time_to_live: 1h
  future_threshold: 1m
sumeragi:
  block_time: 2s
  commit_time: 4s
  tx_receipt_time: 2s
  gossip_period: 1s
  gossip_batch_size: 32
network:
  idle_timeout: 10s
  listen_addr: "0.0.0.0:10001"
chain_wide:
  max_transactions_in_block: 512
`)
	_, err := config.Load(path)
	assert.ErrorContains(t, err, "trusted_peers")
}

func TestValidateRejectsPerUserExceedingCapacity(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.CapacityPerUser = cfg.Queue.Capacity + 1
	cfg.Sumeragi.TrustedPeers = []config.TrustedPeer{{Address: "a", PublicKey: "b", Algorithm: "ed25519"}}
	cfg.Network.ListenAddr = "0.0.0.0:1"

	err := cfg.Validate()
	assert.ErrorContains(t, err, "capacity_per_user")
}

func TestValidateRejectsUnsupportedAlgorithm(t *testing.T) {
	cfg := config.Default()
	cfg.Network.ListenAddr = "0.0.0.0:1"
	cfg.Sumeragi.TrustedPeers = []config.TrustedPeer{{Address: "a", PublicKey: "b", Algorithm: "rsa"}}

	err := cfg.Validate()
	assert.ErrorContains(t, err, "unsupported")
}
