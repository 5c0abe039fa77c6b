package config

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"atlasledger/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk daemon configuration for atlasledgerd.
type Config struct {
	ListenAddress  string   `toml:"ListenAddress"`
	RPCAddress     string   `toml:"RPCAddress"`
	DataDir        string   `toml:"DataDir"`
	ValidatorKey   string   `toml:"ValidatorKey"`
	BootstrapPeers []string `toml:"BootstrapPeers"`

	// AdminPublicKey is the hex-encoded Ed25519 public key authorized to
	// submit privileged system transactions (core/txengine.Engine's
	// AdminPublicKey). Empty disables privileged transactions entirely.
	AdminPublicKey string `toml:"AdminPublicKey"`

	// GenesisFile points at the allocation file consumed by
	// core/genesis.Load on first start: JSON, or YAML for .yaml/.yml.
	GenesisFile string `toml:"GenesisFile"`
}

// WALDir, IndexDir and ShardDir lay out DataDir's sub-directories, keeping
// the write-ahead log, secondary index, and per-account shard store on
// separate paths so each storage layer owns its own directory tree.
func (c *Config) WALDir() string   { return filepath.Join(c.DataDir, "wal") }
func (c *Config) IndexDir() string { return filepath.Join(c.DataDir, "index") }
func (c *Config) ShardDir() string { return filepath.Join(c.DataDir, "shards") }

// ValidatorKeyBytes decodes ValidatorKey into a crypto.PrivateKey.
func (c *Config) ValidatorKeyBytes() (*crypto.PrivateKey, error) {
	raw, err := hex.DecodeString(c.ValidatorKey)
	if err != nil {
		return nil, err
	}
	return crypto.PrivateKeyFromBytes(raw)
}

// AdminPublicKeyBytes decodes AdminPublicKey, returning nil if unset.
func (c *Config) AdminPublicKeyBytes() ([]byte, error) {
	if c.AdminPublicKey == "" {
		return nil, nil
	}
	return hex.DecodeString(c.AdminPublicKey)
}

// Load loads the configuration from the given path, generating a default
// file (with a fresh validator key) if none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.ValidatorKey == "" {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		cfg.ValidatorKey = hex.EncodeToString(key.Bytes())

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, os.ModePerm)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:  ":6001",
		RPCAddress:     ":8080",
		DataDir:        "./atlasledger-data",
		ValidatorKey:   hex.EncodeToString(key.Bytes()),
		BootstrapPeers: []string{},
		GenesisFile:    "./genesis.json",
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
