package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/txmux/internal/protocol"
	"github.com/danmuck/txmux/internal/transport"
)

// ClientOptions is the txmuxctl runtime configuration: defaults, then keys
// defined in an optional TOML file, then explicit command-line flags.
type ClientOptions struct {
	Network  string
	Addr     string
	Profile  protocol.ProfileID
	Timeout  time.Duration
	Attempts int
	Security transport.SecurityConfig
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Network:  "tcp",
		Addr:     "127.0.0.1:9410",
		Timeout:  5 * time.Second,
		Attempts: 5,
	}
}

// clientFile is the flat client config shape: every key optional, applied
// only when defined in the file.
type clientFile struct {
	Network   string         `toml:"network"`
	Addr      string         `toml:"addr"`
	ProfileID int64          `toml:"profile_id"`
	Timeout   string         `toml:"timeout"`
	Attempts  int            `toml:"attempts"`
	Security  SecurityConfig `toml:"security"`
}

// LoadClientOptions applies keys defined in the file at path over opts.
func LoadClientOptions(path string, opts ClientOptions) (ClientOptions, error) {
	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientOptions{}, fmt.Errorf("client config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("network") {
		opts.Network = strings.TrimSpace(raw.Network)
	}
	if meta.IsDefined("addr") {
		opts.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("profile_id") {
		if raw.ProfileID < 0 || raw.ProfileID > 0xFFFF {
			return ClientOptions{}, fmt.Errorf("profile_id out of range: %#x", raw.ProfileID)
		}
		opts.Profile = protocol.ProfileID(raw.ProfileID)
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return ClientOptions{}, fmt.Errorf("parse timeout: %w", err)
		}
		opts.Timeout = d
	}
	if meta.IsDefined("attempts") {
		opts.Attempts = raw.Attempts
	}
	if meta.IsDefined("security") {
		opts.Security = raw.Security.Transport()
	}
	return opts, nil
}
