package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/txmux/internal/config"
)

// fileConfig is the flat override shape: every key optional, applied only
// when defined in the file.
type fileConfig struct {
	NodeID       string   `toml:"node_id"`
	Network      string   `toml:"network"`
	ListenAddr   string   `toml:"listen_addr"`
	ProfileID    int64    `toml:"profile_id"`
	MaxPending   int      `toml:"max_pending"`
	MaxMessage   int      `toml:"max_message"`
	AdminEnabled bool     `toml:"admin_enabled"`
	AdminAddr    string   `toml:"admin_addr"`
	CORSOrigins  []string `toml:"cors_origins"`
	SecurityMode string   `toml:"security_mode"`
}

func applyOverrides(path string, cfg config.Config) (config.Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.Config{}, fmt.Errorf("load txmuxd overrides: %w", err)
	}

	if meta.IsDefined("node_id") {
		if id := strings.TrimSpace(raw.NodeID); id != "" {
			cfg.Node.ID = id
		}
	}
	if meta.IsDefined("network") {
		cfg.Listen.Network = strings.TrimSpace(raw.Network)
	}
	if meta.IsDefined("listen_addr") {
		cfg.Listen.Addr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("profile_id") {
		if raw.ProfileID < 0 || raw.ProfileID > 0xFFFF {
			return config.Config{}, fmt.Errorf("profile_id out of range: %#x", raw.ProfileID)
		}
		cfg.Listen.ProfileID = uint16(raw.ProfileID)
	}
	if meta.IsDefined("max_pending") {
		cfg.Listen.MaxPending = raw.MaxPending
	}
	if meta.IsDefined("max_message") {
		cfg.Listen.MaxMessage = raw.MaxMessage
	}
	if meta.IsDefined("admin_enabled") {
		cfg.Admin.Enabled = raw.AdminEnabled
	}
	if meta.IsDefined("admin_addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Admin.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	if meta.IsDefined("security_mode") {
		cfg.Security.Mode = strings.TrimSpace(raw.SecurityMode)
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
