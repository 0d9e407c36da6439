package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Allowlist restricts which device identities may register an agent
// connection. A nil Allowlist (no device file configured) allows every
// device.
type Allowlist struct {
	ids map[string]string // device id -> display name
}

type deviceFile struct {
	Devices []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"devices"`
}

// LoadAllowlist reads the YAML device file. An empty path returns nil,
// meaning no restriction.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device file %s: %w", path, err)
	}

	var df deviceFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("parse device file %s: %w", path, err)
	}

	al := &Allowlist{ids: make(map[string]string, len(df.Devices))}
	for _, d := range df.Devices {
		if d.ID == "" {
			return nil, fmt.Errorf("device file %s: entry with empty id", path)
		}
		al.ids[d.ID] = d.Name
	}
	return al, nil
}

// Allowed reports whether the device may register. A nil receiver
// allows everything.
func (a *Allowlist) Allowed(deviceID string) bool {
	if a == nil {
		return true
	}
	_, ok := a.ids[deviceID]
	return ok
}

// Len returns the number of allowlisted devices.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.ids)
}
