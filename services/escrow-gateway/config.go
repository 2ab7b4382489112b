package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/x402kamiyo/x402resolve/native/escrow"
)

// Config captures runtime configuration for the escrow gateway service.
type Config struct {
	ListenAddress     string  `toml:"listen"`
	Environment       string  `toml:"environment"`
	JournalPath       string  `toml:"journal_path"`
	VerifierKey       string  `toml:"verifier_key"`
	OracleFeed        string  `toml:"oracle_feed"`
	ReserveFloor      uint64  `toml:"reserve_floor"`
	RequestsPerMinute float64 `toml:"requests_per_minute"`
	RequestBurst      int     `toml:"request_burst"`
	DevFaucet         bool    `toml:"dev_faucet"`
}

// LoadConfig reads the TOML configuration file when path is non-empty and then
// applies environment overrides and defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ListenAddress:     ":8084",
		JournalPath:       "escrow-gateway.db",
		RequestsPerMinute: 600,
		RequestBurst:      60,
	}
	if strings.TrimSpace(path) != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("X402_GATEWAY_LISTEN")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("X402_GATEWAY_ENV")); v != "" {
		cfg.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("X402_GATEWAY_JOURNAL")); v != "" {
		cfg.JournalPath = v
	}
	if v := strings.TrimSpace(os.Getenv("X402_GATEWAY_VERIFIER_KEY")); v != "" {
		cfg.VerifierKey = v
	}
	if v := strings.TrimSpace(os.Getenv("X402_GATEWAY_ORACLE_FEED")); v != "" {
		cfg.OracleFeed = v
	}
	if v := strings.TrimSpace(os.Getenv("X402_GATEWAY_RESERVE_FLOOR")); v != "" {
		floor, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse X402_GATEWAY_RESERVE_FLOOR: %w", err)
		}
		cfg.ReserveFloor = floor
	}
	if cfg.ReserveFloor == 0 {
		cfg.ReserveFloor = escrow.DefaultReserveFloor
	}
	if cfg.VerifierKey == "" {
		return Config{}, errors.New("verifier_key is required")
	}
	return cfg, nil
}

// VerifierKeyBytes decodes the configured hex verifier public key.
func (c Config) VerifierKeyBytes() ([escrow.VerifierKeyLength]byte, error) {
	var key [escrow.VerifierKeyLength]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(c.VerifierKey), "0x"))
	if err != nil {
		return key, fmt.Errorf("decode verifier_key: %w", err)
	}
	if len(raw) != escrow.VerifierKeyLength {
		return key, fmt.Errorf("verifier_key must be %d bytes, got %d", escrow.VerifierKeyLength, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// OracleFeedAddress decodes the configured hex oracle feed address. A zero
// address is returned when no feed is configured.
func (c Config) OracleFeedAddress() ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(c.OracleFeed), "0x")
	if trimmed == "" {
		return addr, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("decode oracle_feed: %w", err)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("oracle_feed must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}
