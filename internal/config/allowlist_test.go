package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDeviceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write device file: %v", err)
	}
	return path
}

func TestLoadAllowlist(t *testing.T) {
	path := writeDeviceFile(t, `
devices:
  - id: fw-0001
    name: Matriz
  - id: fw-0002
    name: Filial SP
`)

	al, err := LoadAllowlist(path)
	if err != nil {
		t.Fatalf("load allowlist: %v", err)
	}
	if al.Len() != 2 {
		t.Errorf("expected 2 devices, got %d", al.Len())
	}
	if !al.Allowed("fw-0001") || !al.Allowed("fw-0002") {
		t.Error("listed devices should be allowed")
	}
	if al.Allowed("fw-9999") {
		t.Error("unlisted device should be refused")
	}
}

func TestLoadAllowlistEmptyPath(t *testing.T) {
	al, err := LoadAllowlist("")
	if err != nil {
		t.Fatalf("empty path should not error: %v", err)
	}
	if al != nil {
		t.Fatal("empty path should return nil allowlist")
	}
	// nil allowlist allows everything
	if !al.Allowed("any-device") {
		t.Error("nil allowlist must allow all devices")
	}
}

func TestLoadAllowlistMissingFile(t *testing.T) {
	if _, err := LoadAllowlist("/does/not/exist.yaml"); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestLoadAllowlistBadYAML(t *testing.T) {
	path := writeDeviceFile(t, "devices: [oops")
	if _, err := LoadAllowlist(path); err == nil {
		t.Fatal("malformed yaml must error")
	}
}

func TestLoadAllowlistEmptyID(t *testing.T) {
	path := writeDeviceFile(t, `
devices:
  - id: ""
    name: Broken
`)
	if _, err := LoadAllowlist(path); err == nil {
		t.Fatal("empty device id must error")
	}
}
