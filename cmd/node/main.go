package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"SigLedger/internal/logger"
)

func main() {
	cfg := parseFlags()
	logger.Init(cfg.LogLevel)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	var err error
	cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	pubKey := cfg.PrivateKey.Public().(ed25519.PublicKey)

	logger.Info("starting sigledger node",
		"pubkey", hex.EncodeToString(pubKey),
		"http", cfg.HTTPAddress,
		"quic", cfg.QUICAddress,
		"data", cfg.DataPath,
	)

	if cfg.ArchiveDir != "" {
		logger.Info("archive sweeps enabled",
			"dir", cfg.ArchiveDir,
			"interval", cfg.ArchiveInterval.String(),
		)
	}
}
