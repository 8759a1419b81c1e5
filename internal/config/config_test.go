package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Bike.MACAddress != "" {
		t.Errorf("Bike.MACAddress = %q, want empty", cfg.Bike.MACAddress)
	}
	if cfg.Bluetooth.ScanTimeoutMs != 15000 {
		t.Errorf("Bluetooth.ScanTimeoutMs = %d, want 15000", cfg.Bluetooth.ScanTimeoutMs)
	}
	if cfg.Bluetooth.ConnectTimeoutMs != 10000 {
		t.Errorf("Bluetooth.ConnectTimeoutMs = %d, want 10000", cfg.Bluetooth.ConnectTimeoutMs)
	}
	if len(cfg.DataParsing.BatteryPattern) != 1 || cfg.DataParsing.BatteryPattern[0] != 2 {
		t.Errorf("DataParsing.BatteryPattern = %v, want [2]", cfg.DataParsing.BatteryPattern)
	}
	if len(cfg.DataParsing.AssistPattern) != 1 || cfg.DataParsing.AssistPattern[0] != 3 {
		t.Errorf("DataParsing.AssistPattern = %v, want [3]", cfg.DataParsing.AssistPattern)
	}
	if cfg.DataLog.MaxEntries != 100 {
		t.Errorf("DataLog.MaxEntries = %d, want 100", cfg.DataLog.MaxEntries)
	}
	if cfg.LED.Pin != -1 {
		t.Errorf("LED.Pin = %d, want -1", cfg.LED.Pin)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
bike:
  macAddress: "AA:BB:CC:DD:EE:FF"
  name: "Commuter"
bluetooth:
  services:
    statusServiceUuid: "0000fff0-0000-1000-8000-00805f9b34fb"
    statusCharacteristicUuid: "0000fff1-0000-1000-8000-00805f9b34fb"
  scanTimeoutMs: 1000
dataParsing:
  batteryPattern: [4]
  assistPattern: [5]
  speedPattern: [6, 7]
  speedScale: 0.1
mqtt:
  broker: "tcp://localhost:1883"
logLevel: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "bike_config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bike.MACAddress != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Bike.MACAddress = %q", cfg.Bike.MACAddress)
	}
	if cfg.Bike.Name != "Commuter" {
		t.Errorf("Bike.Name = %q, want %q", cfg.Bike.Name, "Commuter")
	}
	if cfg.Bluetooth.Services.StatusServiceUUID != "0000fff0-0000-1000-8000-00805f9b34fb" {
		t.Errorf("StatusServiceUUID = %q", cfg.Bluetooth.Services.StatusServiceUUID)
	}
	if cfg.ScanTimeout() != time.Second {
		t.Errorf("ScanTimeout() = %v, want 1s", cfg.ScanTimeout())
	}
	// Fields absent from the file keep their defaults.
	if cfg.ConnectTimeout() != 10*time.Second {
		t.Errorf("ConnectTimeout() = %v, want 10s", cfg.ConnectTimeout())
	}
	if cfg.MQTT.TopicPrefix != "ebike" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "ebike")
	}

	p := cfg.Patterns()
	if len(p.Battery) != 1 || p.Battery[0] != 4 || len(p.Assist) != 1 || p.Assist[0] != 5 {
		t.Errorf("Patterns() = %+v", p)
	}
	if len(p.Speed) != 2 || p.SpeedScale != 0.1 {
		t.Errorf("speed pattern = %v scale %v", p.Speed, p.SpeedScale)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	// JSON is a subset of YAML.
	jsonContent := `{
  "bike": {"macAddress": "AA:BB:CC:DD:EE:FF", "name": "Bosch eBike"},
  "bluetooth": {"scanTimeoutMs": 5000},
  "dataParsing": {"batteryPattern": [2], "assistPattern": [3]}
}`
	cfgPath := filepath.Join(t.TempDir(), "bike_config.json")
	if err := os.WriteFile(cfgPath, []byte(jsonContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bike.MACAddress != "AA:BB:CC:DD:EE:FF" || cfg.Bluetooth.ScanTimeoutMs != 5000 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
storage:
  path: ~/ebike/readings.db
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "bike_config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "ebike/readings.db")
	if cfg.Storage.Path != expected {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/bike_config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadWithFallback(t *testing.T) {
	t.Run("user config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bike_config.yaml")
		if err := os.WriteFile(path, []byte("bike:\n  name: Saved\n"), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, src := LoadWithFallback(path)
		if src != SourceUser {
			t.Errorf("source = %q, want %q", src, SourceUser)
		}
		if cfg.Bike.Name != "Saved" {
			t.Errorf("Bike.Name = %q, want Saved", cfg.Bike.Name)
		}
	})

	t.Run("missing", func(t *testing.T) {
		cfg, src := LoadWithFallback(filepath.Join(t.TempDir(), "nope.yaml"))
		if src != SourceDefault {
			t.Errorf("source = %q, want %q", src, SourceDefault)
		}
		if cfg.Bike.Name != Default().Bike.Name {
			t.Errorf("Bike.Name = %q, want default", cfg.Bike.Name)
		}
	})

	t.Run("unparseable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bike_config.yaml")
		if err := os.WriteFile(path, []byte("bike: [unclosed"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, src := LoadWithFallback(path); src != SourceDefault {
			t.Errorf("source = %q, want %q", src, SourceDefault)
		}
	})

	t.Run("default path", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		if _, src := LoadWithFallback(""); src != SourceDefault {
			t.Errorf("source = %q, want %q", src, SourceDefault)
		}
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bike_config.yaml")

	cfg := Default()
	cfg.Bike.MACAddress = "11:22:33:44:55:66"
	cfg.DataParsing.SpeedPattern = []int{6, 7}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Bike.MACAddress != "11:22:33:44:55:66" {
		t.Errorf("Bike.MACAddress = %q", loaded.Bike.MACAddress)
	}
	if len(loaded.DataParsing.SpeedPattern) != 2 {
		t.Errorf("SpeedPattern = %v", loaded.DataParsing.SpeedPattern)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "valid mac address",
			modify:  func(c *Config) { c.Bike.MACAddress = "aa-bb-cc-dd-ee-ff" },
			wantErr: false,
		},
		{
			name:    "valid peripheral uuid address",
			modify:  func(c *Config) { c.Bike.MACAddress = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E" },
			wantErr: false,
		},
		{
			name:    "invalid mac address",
			modify:  func(c *Config) { c.Bike.MACAddress = "AA:BB:CC" },
			wantErr: true,
		},
		{
			name:    "invalid service uuid",
			modify:  func(c *Config) { c.Bluetooth.Services.StatusServiceUUID = "fff0" },
			wantErr: true,
		},
		{
			name:    "invalid characteristic uuid",
			modify:  func(c *Config) { c.Bluetooth.Services.StatusCharacteristicUUID = "" },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.Bluetooth.ScanTimeoutMs = 0 },
			wantErr: true,
		},
		{
			name:    "negative connect timeout",
			modify:  func(c *Config) { c.Bluetooth.ConnectTimeoutMs = -1 },
			wantErr: true,
		},
		{
			name:    "empty battery pattern",
			modify:  func(c *Config) { c.DataParsing.BatteryPattern = nil },
			wantErr: true,
		},
		{
			name:    "empty assist pattern",
			modify:  func(c *Config) { c.DataParsing.AssistPattern = []int{} },
			wantErr: true,
		},
		{
			name:    "negative offset",
			modify:  func(c *Config) { c.DataParsing.SpeedPattern = []int{4, -1} },
			wantErr: true,
		},
		{
			name:    "pattern too long",
			modify:  func(c *Config) { c.DataParsing.BatteryPattern = []int{0, 1, 2, 3, 4, 5, 6, 7, 8} },
			wantErr: true,
		},
		{
			name:    "zero log size",
			modify:  func(c *Config) { c.DataLog.MaxEntries = 0 },
			wantErr: true,
		},
		{
			name:    "mqtt without prefix",
			modify:  func(c *Config) { c.MQTT.Broker = "tcp://localhost:1883"; c.MQTT.TopicPrefix = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Bike.MACAddress = "bogus"
	cfg.DataParsing.BatteryPattern = nil
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, want := range []string{"bike.macAddress", "batteryPattern", "logLevel"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("ParseLogLevel(verbose) should fail")
	}
}

func TestRetention(t *testing.T) {
	cfg := Default()
	if got := cfg.Retention(); got != 30*24*time.Hour {
		t.Errorf("Retention() = %v, want 720h", got)
	}
	cfg.Storage.RetentionDays = 0
	if got := cfg.Retention(); got != 0 {
		t.Errorf("Retention() = %v, want 0", got)
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "ebike-monitor", "bike_config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# ebike-monitor") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Bluetooth.ScanTimeoutMs != 15000 {
		t.Errorf("written config ScanTimeoutMs = %d, want 15000", cfg.Bluetooth.ScanTimeoutMs)
	}
	if cfg.Schedule.Prune != "@daily" {
		t.Errorf("written config Schedule.Prune = %q, want @daily", cfg.Schedule.Prune)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "ebike-monitor")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("bike:\n  macAddress: \"AA:BB:CC:DD:EE:FF\"\n")
	configPath := filepath.Join(configDir, "bike_config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}
