package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIsStableAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DataDirEnv, dir)

	first, path, dataDir, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if dataDir != dir || path != filepath.Join(dir, "config.json") {
		t.Fatalf("paths = %q, %q", dataDir, path)
	}
	if _, err := os.Stat(filepath.Join(dir, "keys")); err != nil {
		t.Fatalf("keys directory missing: %v", err)
	}
	if first.DeviceID == "" || first.GroupPort != DefaultGroupPort || first.TagAID != DefaultTagAID {
		t.Fatalf("defaults not applied: %+v", first)
	}

	second, _, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}
	if *second != *first {
		t.Fatalf("config changed between runs:\n%+v\n%+v", first, second)
	}
}

func TestLoadOrCreateRepairsInvalidFields(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DataDirEnv, dir)
	if err := EnsureDataDirectories(dir); err != nil {
		t.Fatalf("EnsureDataDirectories: %v", err)
	}
	if err := Save(ConfigPath(dir), &DeviceConfig{
		DeviceID:         "kept-device",
		DeviceName:       "Kept",
		GroupPort:        70000,
		RadioServiceUUID: "not-a-uuid",
		TagAID:           "XYZ",
		LogLevel:         "LOUD",
		FeedAddress:      "127.0.0.1:9999",
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg, path, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	tests := []struct {
		name      string
		got, want any
	}{
		{"device id", cfg.DeviceID, "kept-device"},
		{"device name", cfg.DeviceName, "Kept"},
		{"group port", cfg.GroupPort, DefaultGroupPort},
		{"service uuid", cfg.RadioServiceUUID, DefaultRadioServiceUUID},
		{"service name", cfg.RadioServiceName, DefaultRadioServiceName},
		{"tag aid", cfg.TagAID, DefaultTagAID},
		{"log level", cfg.LogLevel, DefaultLogLevel},
		{"feed address", cfg.FeedAddress, "127.0.0.1:9999"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	onDisk, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *onDisk != *cfg {
		t.Fatalf("repaired config not persisted: %+v", onDisk)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidAID(t *testing.T) {
	for aid, want := range map[string]bool{
		DefaultTagAID:      true,
		"f0010203040506":   true,
		"D276":             false,
		"D2760000850101Z0": false,
		"":                 false,
	} {
		if got := validAID(aid); got != want {
			t.Errorf("validAID(%q) = %v, want %v", aid, got, want)
		}
	}
}
