package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/txmux/internal/protocol"
	"github.com/danmuck/txmux/internal/transport"
)

var (
	ErrMissingNodeID     = errors.New("config: node id required")
	ErrMissingListenAddr = errors.New("config: listen addr required")
	ErrInvalidNetwork    = errors.New("config: unsupported listen network")
	ErrMissingProfileID  = errors.New("config: profile id required")
	ErrInvalidMaxPending = errors.New("config: max pending out of range")
	ErrMissingAdminAddr  = errors.New("config: admin addr required")
)

// Config is the daemon configuration for txmuxd.
type Config struct {
	Node     NodeConfig     `toml:"node"`
	Listen   ListenConfig   `toml:"listen"`
	Admin    AdminConfig    `toml:"admin"`
	Security SecurityConfig `toml:"security"`
}

type NodeConfig struct {
	ID string `toml:"id"`
}

type ListenConfig struct {
	Network string `toml:"network"`
	Addr    string `toml:"addr"`

	// ProfileID is the protocol family served on accepted links; inbound
	// messages for other profiles are rejected by the engine.
	ProfileID uint16 `toml:"profile_id"`

	// MaxPending bounds outstanding outbound transactions per peer,
	// 1..16; zero selects the full label space.
	MaxPending int `toml:"max_pending"`

	// MaxMessage bounds one packetized message in bytes; zero selects the
	// transport default.
	MaxMessage int `toml:"max_message"`
}

type AdminConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
}

type SecurityConfig struct {
	Mode string    `toml:"mode"`
	TLS  TLSConfig `toml:"tls"`
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// Transport maps the TOML security block onto the transport layer's config.
func (c SecurityConfig) Transport() transport.SecurityConfig {
	return transport.SecurityConfig{
		Mode: transport.SecurityMode(c.Mode),
		TLS: transport.TLSConfig{
			Enabled:            c.TLS.Enabled,
			Mutual:             c.TLS.Mutual,
			CertFile:           c.TLS.CertFile,
			KeyFile:            c.TLS.KeyFile,
			CAFile:             c.TLS.CAFile,
			ServerName:         c.TLS.ServerName,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		},
	}
}

func (c ListenConfig) Profile() protocol.ProfileID {
	return protocol.ProfileID(c.ProfileID)
}

// Default returns the configuration txmuxd runs with when no file is given,
// minus the profile id, which has no sensible default and must be set.
func Default() Config {
	return Config{
		Node: NodeConfig{ID: "txmuxd"},
		Listen: ListenConfig{
			Network: "tcp",
			Addr:    ":9410",
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    ":9411",
		},
	}
}

// Load reads path, fills defaults and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Node.ID) == "" {
		cfg.Node.ID = "txmuxd"
	}
	if strings.TrimSpace(cfg.Listen.Network) == "" {
		cfg.Listen.Network = "tcp"
	}
	if strings.TrimSpace(cfg.Listen.Addr) == "" {
		cfg.Listen.Addr = ":9410"
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		cfg.Admin.Addr = ":9411"
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Node.ID) == "" {
		return ErrMissingNodeID
	}
	if strings.TrimSpace(cfg.Listen.Addr) == "" {
		return ErrMissingListenAddr
	}
	switch cfg.Listen.Network {
	case "tcp", "tcp4", "tcp6", "unix", "unixpacket":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidNetwork, cfg.Listen.Network)
	}
	if cfg.Listen.ProfileID == 0 {
		return ErrMissingProfileID
	}
	if cfg.Listen.MaxPending < 0 || cfg.Listen.MaxPending > protocol.LabelSpaceSize {
		return fmt.Errorf("%w: %d", ErrInvalidMaxPending, cfg.Listen.MaxPending)
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return ErrMissingAdminAddr
	}
	if err := cfg.Security.Transport().ValidateServer(); err != nil {
		return err
	}
	return nil
}
