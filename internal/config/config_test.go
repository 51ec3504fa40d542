package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "COM6", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.Equal(t, time.Second, cfg.Serial.ReadTimeout)
	assert.Equal(t, "history.xml", cfg.History.Path)
	assert.False(t, cfg.History.CreateIfMissing)
	assert.Equal(t, PolicyFail, cfg.Parser.OnMalformed)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.MQTT.Enabled)
	assert.False(t, cfg.Monitor.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB0
  read_timeout: 250ms
history:
  path: /var/lib/serial-logger/history.xml
  create_if_missing: true
parser:
  on_malformed: skip
redis:
  enabled: true
  addr: redis:6379
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, 9600, cfg.Serial.Baud, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/serial-logger/history.xml", cfg.History.Path)
	assert.True(t, cfg.History.CreateIfMissing)
	assert.Equal(t, "HISTORY", cfg.History.RootElement)
	assert.Equal(t, PolicySkip, cfg.Parser.OnMalformed)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "serial_events", cfg.Redis.Channel)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeConfig(t, "serial: [unclosed")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero baud",
			mutate:  func(c *Config) { c.Serial.Baud = 0 },
			wantErr: "serial.baud",
		},
		{
			name:    "empty port",
			mutate:  func(c *Config) { c.Serial.Port = "" },
			wantErr: "serial.port",
		},
		{
			name:    "bad parity",
			mutate:  func(c *Config) { c.Serial.Parity = "X" },
			wantErr: "serial.parity",
		},
		{
			name:    "bad stop bits",
			mutate:  func(c *Config) { c.Serial.StopBits = 3 },
			wantErr: "serial.stop_bits",
		},
		{
			name:    "zero read timeout",
			mutate:  func(c *Config) { c.Serial.ReadTimeout = 0 },
			wantErr: "serial.read_timeout",
		},
		{
			name:    "negative read timeout",
			mutate:  func(c *Config) { c.Serial.ReadTimeout = -time.Second },
			wantErr: "serial.read_timeout",
		},
		{
			name:    "empty history path",
			mutate:  func(c *Config) { c.History.Path = "" },
			wantErr: "history.path",
		},
		{
			name: "bootstrap without root",
			mutate: func(c *Config) {
				c.History.CreateIfMissing = true
				c.History.RootElement = ""
			},
			wantErr: "history.root_element",
		},
		{
			name:    "unknown policy",
			mutate:  func(c *Config) { c.Parser.OnMalformed = "ignore" },
			wantErr: "parser.on_malformed",
		},
		{
			name: "mqtt qos",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: "mqtt.qos",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
