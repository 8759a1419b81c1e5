package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robplow/ebike-monitor/internal/ble"
	"github.com/robplow/ebike-monitor/internal/decode"
)

// Config holds all application configuration.
type Config struct {
	Bike        BikeConfig        `yaml:"bike"`
	Bluetooth   BluetoothConfig   `yaml:"bluetooth"`
	DataParsing DataParsingConfig `yaml:"dataParsing"`
	DataLog     DataLogConfig     `yaml:"dataLog"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	HTTP        HTTPConfig        `yaml:"http"`
	Storage     StorageConfig     `yaml:"storage"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	LED         LEDConfig         `yaml:"led"`
	Hotkey      HotkeyConfig      `yaml:"hotkey"`
	LogLevel    string            `yaml:"logLevel"`
}

// BikeConfig identifies the bike.
type BikeConfig struct {
	MACAddress string `yaml:"macAddress"` // MAC, or peripheral UUID on macOS
	Name       string `yaml:"name"`
}

// BluetoothConfig holds GATT identifiers and timeouts.
type BluetoothConfig struct {
	Services         ServicesConfig `yaml:"services"`
	ScanTimeoutMs    int            `yaml:"scanTimeoutMs"`
	ConnectTimeoutMs int            `yaml:"connectTimeoutMs"`
}

// ServicesConfig names the status service and its notifying characteristic.
type ServicesConfig struct {
	StatusServiceUUID        string `yaml:"statusServiceUuid"`
	StatusCharacteristicUUID string `yaml:"statusCharacteristicUuid"`
}

// DataParsingConfig holds the byte-offset patterns used to decode
// notifications.
type DataParsingConfig struct {
	BatteryPattern []int   `yaml:"batteryPattern"`
	AssistPattern  []int   `yaml:"assistPattern"`
	SpeedPattern   []int   `yaml:"speedPattern"` // empty disables speed
	SpeedScale     float64 `yaml:"speedScale"`
}

// DataLogConfig bounds the in-memory data log.
type DataLogConfig struct {
	MaxEntries int `yaml:"maxEntries"`
}

// MQTTConfig holds broker settings. An empty Broker disables publishing.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. "tcp://localhost:1883"
	ClientID    string `yaml:"clientId"`
	TopicPrefix string `yaml:"topicPrefix"`
}

// HTTPConfig holds the API listener settings. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig holds reading history settings. An empty Path disables it.
type StorageConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retentionDays"`
}

// ScheduleConfig holds cron specs for periodic jobs. Empty disables a job.
type ScheduleConfig struct {
	Heartbeat string `yaml:"heartbeat"`
	Prune     string `yaml:"prune"`
}

// LEDConfig selects the GPIO line driving the status LED. Pin < 0 disables it.
type LEDConfig struct {
	Chip string `yaml:"chip"`
	Pin  int    `yaml:"pin"`
}

// HotkeyConfig holds the connect/disconnect toggle combo. Empty disables it.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
}

// Source says where a loaded config came from.
type Source string

const (
	SourceUser    Source = "user"
	SourceDefault Source = "default"
)

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ebike-monitor")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "bike_config.yaml")
}

// Default returns the bundled default configuration. It has no bike address;
// one must be saved or picked from a scan.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dbPath := filepath.Join(home, ".local", "share", "ebike-monitor", "readings.db")

	return &Config{
		Bike: BikeConfig{
			Name: "Bosch eBike",
		},
		Bluetooth: BluetoothConfig{
			Services: ServicesConfig{
				StatusServiceUUID:        "00000010-eaa2-11e9-81b4-2a2ae2dbcce4",
				StatusCharacteristicUUID: "00000011-eaa2-11e9-81b4-2a2ae2dbcce4",
			},
			ScanTimeoutMs:    15000,
			ConnectTimeoutMs: 10000,
		},
		DataParsing: DataParsingConfig{
			BatteryPattern: []int{2},
			AssistPattern:  []int{3},
			SpeedPattern:   []int{},
			SpeedScale:     1,
		},
		DataLog: DataLogConfig{
			MaxEntries: 100,
		},
		MQTT: MQTTConfig{
			ClientID:    "ebike-monitor",
			TopicPrefix: "ebike",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Storage: StorageConfig{
			Path:          dbPath,
			RetentionDays: 30,
		},
		Schedule: ScheduleConfig{
			Heartbeat: "@every 15m",
			Prune:     "@daily",
		},
		LED: LEDConfig{
			Chip: "gpiochip0",
			Pin:  -1,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in storage.path is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Storage.Path = expandTilde(cfg.Storage.Path)

	return cfg, nil
}

// LoadWithFallback loads the user-saved config at userPath (the default path
// when empty). When it is missing or unreadable the bundled default is
// returned instead.
func LoadWithFallback(userPath string) (*Config, Source) {
	if userPath == "" {
		userPath = DefaultConfigPath()
	}

	if _, err := os.Stat(userPath); err != nil {
		slog.Debug("[CONFIG] no saved config", "path", userPath)
		return Default(), SourceDefault
	}

	cfg, err := Load(userPath)
	if err != nil {
		slog.Warn("[CONFIG] saved config unusable, using defaults", "path", userPath, "error", err)
		return Default(), SourceDefault
	}
	return cfg, SourceUser
}

// Save writes cfg to path, replacing any existing file atomically.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return writeAtomic(path, data)
}

const defaultHeader = `# ebike-monitor configuration
#
# bike.macAddress is the bike's MAC address ("AA:BB:CC:DD:EE:FF"), or its
# peripheral UUID on macOS. Run "ebike-monitor -scan" to find it.
#
# dataParsing patterns are lists of byte offsets into the status
# notification, combined little-endian. speedPattern is optional.
#
# mqtt.broker, http.addr, storage.path and hotkey.keys may be left empty to
# disable that feature. led.pin < 0 disables the status LED.

`

// WriteDefault writes a commented default config to DefaultConfigPath if no
// file exists there. It returns the path written, or "" if one existed.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := writeAtomic(path, append([]byte(defaultHeader), data...)); err != nil {
		return "", err
	}
	return path, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bike_config-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

// Validate checks the config for invalid values and reports every problem
// found.
func (c *Config) Validate() error {
	var errs []error

	if c.Bike.MACAddress != "" {
		if err := ble.ValidateAddress(c.Bike.MACAddress); err != nil {
			errs = append(errs, fmt.Errorf("bike.macAddress: %w", err))
		}
	}
	if err := ble.ValidateUUID(c.Bluetooth.Services.StatusServiceUUID); err != nil {
		errs = append(errs, fmt.Errorf("bluetooth.services.statusServiceUuid: %w", err))
	}
	if err := ble.ValidateUUID(c.Bluetooth.Services.StatusCharacteristicUUID); err != nil {
		errs = append(errs, fmt.Errorf("bluetooth.services.statusCharacteristicUuid: %w", err))
	}
	if c.Bluetooth.ScanTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("bluetooth.scanTimeoutMs must be > 0"))
	}
	if c.Bluetooth.ConnectTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("bluetooth.connectTimeoutMs must be > 0"))
	}

	if len(c.DataParsing.BatteryPattern) == 0 {
		errs = append(errs, fmt.Errorf("dataParsing.batteryPattern must not be empty"))
	}
	if len(c.DataParsing.AssistPattern) == 0 {
		errs = append(errs, fmt.Errorf("dataParsing.assistPattern must not be empty"))
	}
	for name, pattern := range map[string][]int{
		"batteryPattern": c.DataParsing.BatteryPattern,
		"assistPattern":  c.DataParsing.AssistPattern,
		"speedPattern":   c.DataParsing.SpeedPattern,
	} {
		if err := validatePattern(pattern); err != nil {
			errs = append(errs, fmt.Errorf("dataParsing.%s: %w", name, err))
		}
	}
	if c.DataParsing.SpeedScale < 0 {
		errs = append(errs, fmt.Errorf("dataParsing.speedScale must be >= 0"))
	}

	if c.DataLog.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("dataLog.maxEntries must be > 0"))
	}
	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		errs = append(errs, fmt.Errorf("mqtt.topicPrefix must not be empty when mqtt.broker is set"))
	}
	if c.Storage.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("storage.retentionDays must be >= 0"))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validatePattern(pattern []int) error {
	if len(pattern) > decode.MaxPatternLen {
		return fmt.Errorf("at most %d offsets, got %d", decode.MaxPatternLen, len(pattern))
	}
	for _, off := range pattern {
		if off < 0 {
			return fmt.Errorf("negative offset %d", off)
		}
	}
	return nil
}

// ParseLogLevel maps a logLevel value to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logLevel must be debug, info, warn, or error, got %q", level)
}

// Patterns returns the decode patterns.
func (c *Config) Patterns() decode.Patterns {
	return decode.Patterns{
		Battery:    c.DataParsing.BatteryPattern,
		Assist:     c.DataParsing.AssistPattern,
		Speed:      c.DataParsing.SpeedPattern,
		SpeedScale: c.DataParsing.SpeedScale,
	}
}

// ScanTimeout returns bluetooth.scanTimeoutMs as a duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Bluetooth.ScanTimeoutMs) * time.Millisecond
}

// ConnectTimeout returns bluetooth.connectTimeoutMs as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Bluetooth.ConnectTimeoutMs) * time.Millisecond
}

// Retention returns how long readings are kept, or 0 to keep them forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Storage.RetentionDays) * 24 * time.Hour
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
