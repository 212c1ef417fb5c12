package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func intPtr(v int) *int { return &v }

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
general:
  sleep_for: 300
  verbosity: debug
  rtltcp_host: "127.0.0.1:1234"
mqtt:
  host: "broker.local"
  port: 1883
  base_topic: "meters"
meters:
  - id: "33333333"
    protocol: "SCM+"
    name: "gas"
    format: "######.##"
  - id: "44444444"
    protocol: "r900"
    decimals: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.General.SleepFor.Std())
	assert.Equal(t, 300*time.Second, cfg.General.RestartDelay.Std(), "restart delay defaults to sleep_for")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, "meters", cfg.MQTT.BaseTopic)
	require.Len(t, cfg.Meters, 2)
	assert.Equal(t, "scm+", cfg.Meters[0].Protocol)
	assert.Equal(t, "Meter 44444444", cfg.Meters[1].Name)
	assert.Equal(t, "total_increasing", cfg.Meters[1].StateClass)
	require.NotNil(t, cfg.Meters[1].Decimals)
	assert.Equal(t, 3, *cfg.Meters[1].Decimals)
	assert.Equal(t, []string{"33333333", "44444444"}, cfg.MeterIDs())
}

func TestLoad_JSONOptions(t *testing.T) {
	path := writeConfig(t, `{
  "general": {"sleep_for": 0, "verbosity": "info", "restart_delay": "5s"},
  "mqtt": {"host": "core-mosquitto"},
  "meters": [{"id": "1234", "protocol": "idm"}]
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.General.SleepFor.Std())
	assert.Equal(t, 5*time.Second, cfg.General.RestartDelay.Std())
	assert.Equal(t, "core-mosquitto", cfg.MQTT.Host)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
general:
  sleep_for: "soon"
meters:
  - id: "1"
    protocol: scm
`))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvMock, "")
	t.Setenv(EnvMQTTHost, "env-broker")
	t.Setenv(EnvMQTTUser, "meter")
	t.Setenv(EnvMQTTPassword, "secret")

	cfg, err := Load(writeConfig(t, `
mqtt:
  host: "file-broker"
meters:
  - id: "1"
    protocol: scm
`))
	require.NoError(t, err)

	assert.True(t, cfg.General.Mock)
	assert.Equal(t, "env-broker", cfg.MQTT.Host)
	assert.Equal(t, "meter", cfg.MQTT.User)
	assert.Equal(t, "secret", cfg.MQTT.Password)
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Meters = []MeterConfig{{ID: "12345", Protocol: "scm"}}
	cfg.normalise()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "unknown verbosity",
			mutate:  func(c *Config) { c.General.Verbosity = "chatty" },
			wantErr: "general.verbosity",
		},
		{
			name:    "negative sleep",
			mutate:  func(c *Config) { c.General.SleepFor = -1 },
			wantErr: "sleep_for",
		},
		{
			name:    "rtltcp host without port",
			mutate:  func(c *Config) { c.General.RTLTCPHost = "127.0.0.1" },
			wantErr: "rtltcp_host",
		},
		{
			name:    "no meters",
			mutate:  func(c *Config) { c.Meters = nil },
			wantErr: "at least one meter",
		},
		{
			name: "duplicate meter",
			mutate: func(c *Config) {
				c.Meters = append(c.Meters, MeterConfig{ID: "12345", Protocol: "scm"})
			},
			wantErr: "duplicated",
		},
		{
			name:    "non numeric meter id",
			mutate:  func(c *Config) { c.Meters[0].ID = "abc" },
			wantErr: "must be numeric",
		},
		{
			name:    "unsupported protocol",
			mutate:  func(c *Config) { c.Meters[0].Protocol = "zigbee" },
			wantErr: "not supported",
		},
		{
			name:    "mask without placeholder",
			mutate:  func(c *Config) { c.Meters[0].Format = "000.00" },
			wantErr: "format",
		},
		{
			name:    "decimals out of range",
			mutate:  func(c *Config) { c.Meters[0].Decimals = intPtr(-2) },
			wantErr: "decimals",
		},
		{
			name:    "wildcard base topic",
			mutate:  func(c *Config) { c.MQTT.BaseTopic = "rtlamr/#" },
			wantErr: "base_topic",
		},
		{
			name:    "bad mqtt port",
			mutate:  func(c *Config) { c.MQTT.Port = 70000 },
			wantErr: "mqtt.port",
		},
		{
			name: "metrics without listen address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = ""
			},
			wantErr: "metrics.listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.General.Verbosity = "loud"
	cfg.MQTT.Host = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "general.verbosity")
	assert.Contains(t, err.Error(), "mqtt.host")
}

func TestSplitHostPort(t *testing.T) {
	host, port, err := SplitHostPort("10.0.0.5:1234")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", host)
	assert.Equal(t, 1234, port)

	for _, bad := range []string{"", "host", ":1234", "host:0", "host:x"} {
		_, _, err := SplitHostPort(bad)
		assert.Error(t, err, bad)
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"sleep_for: 60", 60 * time.Second},
		{"sleep_for: 1.5", 1500 * time.Millisecond},
		{"sleep_for: 2m", 2 * time.Minute},
		{`sleep_for: "250ms"`, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var g GeneralConfig
			require.NoError(t, yaml.Unmarshal([]byte(tt.in), &g))
			assert.Equal(t, tt.want, g.SleepFor.Std())
		})
	}
}
