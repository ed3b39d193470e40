package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "peerlink"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "PEERLINK_DATA_DIR"
	// DefaultGroupPort is the TCP port the group owner listens on.
	DefaultGroupPort = 13099
	// DefaultRadioServiceName is the RFCOMM service record name.
	DefaultRadioServiceName = "Simpoo"
	// DefaultRadioServiceUUID is the RFCOMM service class UUID shared by both sides.
	DefaultRadioServiceUUID = "d51e2d9f-4846-4963-b3cc-ae6d7b0bf8b5"
	// DefaultTagAID is the application identifier selected on the tag host.
	DefaultTagAID = "D2760000850101"
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"
	// DefaultFeedAddress is the websocket feed bind address.
	DefaultFeedAddress = "127.0.0.1:8765"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// DeviceConfig contains persistent local-device settings.
type DeviceConfig struct {
	DeviceID         string `json:"device_id"`
	DeviceName       string `json:"device_name"`
	GroupPort        int    `json:"group_port"`
	RadioServiceName string `json:"radio_service_name"`
	RadioServiceUUID string `json:"radio_service_uuid"`
	TagAID           string `json:"tag_aid"`
	VaultSecretPath  string `json:"vault_secret_path"`
	LogLevel         string `json:"log_level"`
	FeedAddress      string `json:"feed_address"`
}

// ResolveDataDir returns DataDirEnv when set, otherwise AppDirectoryName
// under the user configuration directory.
func ResolveDataDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(DataDirEnv)); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(base, AppDirectoryName), nil
}

// ConfigPath returns where the configuration for dataDir is kept.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates dataDir and its keys directory.
func EnsureDataDirectories(dataDir string) error {
	keys := filepath.Join(dataDir, "keys")
	if err := os.MkdirAll(keys, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

// Load decodes the configuration at path.
func Load(path string) (*DeviceConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer file.Close()

	cfg := new(DeviceConfig)
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, readable by the owner only.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadOrCreate resolves the data directory, loads its configuration and
// fills in missing or invalid fields, writing the file back when anything
// changed. It returns the config, its path and the data directory.
func LoadOrCreate() (*DeviceConfig, string, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", "", err
	}

	path := ConfigPath(dataDir)
	cfg, err := Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = &DeviceConfig{}
	case err != nil:
		return nil, "", "", err
	}

	if applyDefaults(cfg, dataDir) {
		if err := Save(path, cfg); err != nil {
			return nil, "", "", err
		}
	}
	return cfg, path, dataDir, nil
}

// applyDefaults repairs every field that is unset or out of range and
// reports whether any was changed.
func applyDefaults(cfg *DeviceConfig, dataDir string) bool {
	fixes := []struct {
		invalid bool
		fix     func()
	}{
		{cfg.DeviceID == "", func() { cfg.DeviceID = uuid.NewString() }},
		{strings.TrimSpace(cfg.DeviceName) == "", func() { cfg.DeviceName = defaultDeviceName() }},
		{cfg.GroupPort <= 0 || cfg.GroupPort > 65535, func() { cfg.GroupPort = DefaultGroupPort }},
		{cfg.RadioServiceName == "", func() { cfg.RadioServiceName = DefaultRadioServiceName }},
		{!validUUID(cfg.RadioServiceUUID), func() { cfg.RadioServiceUUID = DefaultRadioServiceUUID }},
		{!validAID(cfg.TagAID), func() { cfg.TagAID = DefaultTagAID }},
		{cfg.VaultSecretPath == "", func() { cfg.VaultSecretPath = filepath.Join(dataDir, "keys", "vault_secret.pem") }},
		{!knownLogLevel(cfg.LogLevel), func() { cfg.LogLevel = DefaultLogLevel }},
		{cfg.FeedAddress == "", func() { cfg.FeedAddress = DefaultFeedAddress }},
	}

	changed := false
	for _, f := range fixes {
		if f.invalid {
			f.fix()
			changed = true
		}
	}
	return changed
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "peerlink"
}

func validUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func knownLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// validAID accepts 5 to 16 bytes of hex.
func validAID(aid string) bool {
	raw, err := hex.DecodeString(aid)
	return err == nil && len(raw) >= 5 && len(raw) <= 16
}
