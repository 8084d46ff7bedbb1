package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"time"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// QUICAddress is the QUIC protocol listen address.
	QUICAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 signing key.
	PrivateKey ed25519.PrivateKey

	// MaxCallPayload is the per-step call payload budget in bytes.
	// Zero selects the engine default.
	MaxCallPayload int

	// ArchiveDir is the export directory for finalized records.
	// Empty disables archiving.
	ArchiveDir string

	// ArchiveInterval is the pause between archive sweeps.
	ArchiveInterval time.Duration

	// LogLevel is the minimum log level.
	LogLevel string
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC protocol address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.IntVar(&cfg.MaxCallPayload, "max-call-payload", 0, "Per-step call payload budget in bytes (0 uses the engine default)")
	flag.StringVar(&cfg.ArchiveDir, "archive-dir", "", "Directory for finalized record exports (empty disables archiving)")
	flag.DurationVar(&cfg.ArchiveInterval, "archive-interval", 0, "Pause between archive sweeps (0 uses the default)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")
	flag.Parse()

	return cfg
}

// Validate checks the configuration for values no node can run with.
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data path is empty")
	}

	if c.HTTPAddress == "" {
		return fmt.Errorf("http address is empty")
	}

	if c.QUICAddress == "" {
		return fmt.Errorf("quic address is empty")
	}

	if c.MaxCallPayload < 0 {
		return fmt.Errorf("max call payload %d is negative", c.MaxCallPayload)
	}

	if c.ArchiveInterval < 0 {
		return fmt.Errorf("archive interval %s is negative", c.ArchiveInterval)
	}

	return nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
