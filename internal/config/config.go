package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath   string `envconfig:"DATA_PATH" default:"/var/lib/firewall365"`
	LogPath    string `envconfig:"LOG_PATH" default:""`

	// AgentKey is the base64 fernet key used to verify device-bound
	// agent credentials. Generated with --generate-key.
	AgentKey string `envconfig:"AGENT_KEY" default:""`

	// APIKeyHash is the bcrypt hash of the management API key. When
	// empty the management API is unauthenticated (development only).
	APIKeyHash string `envconfig:"API_KEY_HASH" default:""`

	// DeviceFile is an optional YAML allowlist of device identities
	// permitted to register an agent connection.
	DeviceFile string `envconfig:"DEVICE_FILE" default:""`

	// AuditPath is the sqlite file for the session event log. Empty
	// disables auditing.
	AuditPath string `envconfig:"AUDIT_PATH" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("FW365", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
