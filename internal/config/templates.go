package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "node":
		return nodeTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const nodeTemplate = `[node]
id = "txmuxd"

[listen]
network = "tcp"
addr = ":9410"
profile_id = 0x1124
max_pending = 16

[admin]
enabled = true
addr = ":9411"
cors_origins = ["http://localhost:3000"]

[security]
mode = "development"

[security.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`

const clientTemplate = `network = "tcp"
addr = "127.0.0.1:9410"
profile_id = 0x1124
timeout = "5s"
attempts = 5

[security]
mode = "development"
`
