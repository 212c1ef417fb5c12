package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognised by Load.
const (
	// EnvMock enables mock mode when present (any value). Mock mode skips
	// USB enumeration and reset and uses MockDeviceID.
	EnvMock = "RTLAMR2MQTT_USE_MOCK"

	EnvMQTTHost     = "RTLAMR2MQTT_MQTT_HOST"
	EnvMQTTUser     = "RTLAMR2MQTT_MQTT_USER"
	EnvMQTTPassword = "RTLAMR2MQTT_MQTT_PASSWORD"
)

// Default readiness markers printed by the child processes on startup.
const (
	DefaultTunerReadyMarker   = "listening..."
	DefaultDecoderReadyMarker = "GainCount:"
)

// Verbosity levels accepted by general.verbosity, lowest first.
var verbosityLevels = []string{"none", "error", "warning", "info", "debug"}

// Protocols understood by rtlamr's -msgtype flag.
var knownProtocols = map[string]bool{
	"scm":     true,
	"scm+":    true,
	"idm":     true,
	"netidm":  true,
	"r900":    true,
	"r900bcd": true,
}

// Config is the root configuration structure for rtlamr2mqtt.
// It is loaded once at startup and treated as read-only afterwards.
type Config struct {
	General          GeneralConfig    `yaml:"general"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
	CustomParameters CustomParameters `yaml:"custom_parameters"`
	Meters           []MeterConfig    `yaml:"meters"`
	Logging          LoggingConfig    `yaml:"logging"`
	Metrics          MetricsConfig    `yaml:"metrics"`
}

// GeneralConfig holds process supervision and scheduling settings.
type GeneralConfig struct {
	// SleepFor is the pause between read cycles. Zero disables cycling:
	// the processes run continuously.
	SleepFor Duration `yaml:"sleep_for"`

	// Verbosity is one of none, error, warning, info, debug.
	Verbosity string `yaml:"verbosity"`

	// DeviceID selects the RTL-SDR dongle as "bus:device" (e.g. "001:004").
	// "0" selects the first dongle found.
	DeviceID string `yaml:"device_id"`

	// RTLTCPHost is the host:port of the rtl_tcp server. A non-loopback
	// host means rtl_tcp runs elsewhere and is not started locally.
	RTLTCPHost string `yaml:"rtltcp_host"`

	RTLTCPBinary string `yaml:"rtltcp_binary"`
	RTLAMRBinary string `yaml:"rtlamr_binary"`

	// Unbuffer is an optional wrapper (e.g. /usr/bin/unbuffer) that forces
	// line-buffered output from the child processes.
	Unbuffer string `yaml:"unbuffer"`

	TunerReadyMarker   string `yaml:"tuner_ready_marker"`
	DecoderReadyMarker string `yaml:"decoder_ready_marker"`

	// ReadyTimeout bounds the wait for a readiness marker.
	ReadyTimeout Duration `yaml:"ready_timeout"`

	// RestartDelay is waited before restarting a crashed decoder.
	// Defaults to SleepFor.
	RestartDelay Duration `yaml:"restart_delay"`

	// PollInterval is the fixed delay applied on every loop iteration.
	PollInterval Duration `yaml:"poll_interval"`

	// DiscoveryDelay is the pause after announcing a meter, giving the
	// home automation platform time to register it.
	DiscoveryDelay Duration `yaml:"discovery_delay"`

	// FilterMeters passes -filterid and -msgtype to rtlamr derived from the
	// meter table. Unconfigured meters are then never discovered.
	FilterMeters bool `yaml:"filter_meters"`

	// Mock is set from RTLAMR2MQTT_USE_MOCK, never from the file.
	Mock bool `yaml:"-"`
}

// MQTTConfig contains MQTT broker connection and topic settings.
type MQTTConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TLSEnabled  bool   `yaml:"tls_enabled"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	TLSCA       string `yaml:"tls_ca"`
	TLSCert     string `yaml:"tls_cert"`
	TLSKeyfile  string `yaml:"tls_keyfile"`

	BaseTopic            string `yaml:"base_topic"`
	HAStatusTopic        string `yaml:"ha_status_topic"`
	HAAutodiscoveryTopic string `yaml:"ha_autodiscovery_topic"`

	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// CustomParameters are extra command-line flags appended to each process.
type CustomParameters struct {
	RTLTCP string `yaml:"rtltcp"`
	RTLAMR string `yaml:"rtlamr"`
}

// MeterConfig describes one configured meter.
type MeterConfig struct {
	ID       string `yaml:"id"`
	Protocol string `yaml:"protocol"`
	Name     string `yaml:"name"`

	// Format is a display mask where each '#' is replaced by a digit.
	Format string `yaml:"format"`

	// Decimals, when set, inserts a decimal point that many digits from the
	// right. Takes priority over Format.
	Decimals *int `yaml:"decimals"`

	UnitOfMeasurement string `yaml:"unit_of_measurement"`
	Icon              string `yaml:"icon"`
	DeviceClass       string `yaml:"device_class"`
	StateClass        string `yaml:"state_class"`
	ExpireAfter       int    `yaml:"expire_after"`
	ForceUpdate       bool   `yaml:"force_update"`
}

// LoggingConfig contains logging settings.
// Level mirrors general.verbosity.
type LoggingConfig struct {
	Level  string `yaml:"-"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads configuration from a YAML (or JSON) file and applies
// environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults)
//  3. Environment variables (override file values)
//  4. Derived values (restart delay, logging level)
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			Verbosity:          "info",
			DeviceID:           "0",
			RTLTCPHost:         "127.0.0.1:1234",
			RTLTCPBinary:       "/usr/bin/rtl_tcp",
			RTLAMRBinary:       "/usr/bin/rtlamr",
			TunerReadyMarker:   DefaultTunerReadyMarker,
			DecoderReadyMarker: DefaultDecoderReadyMarker,
			ReadyTimeout:       Duration(30 * time.Second),
			RestartDelay:       -1,
			PollInterval:       Duration(time.Second),
			DiscoveryDelay:     Duration(time.Second),
		},
		MQTT: MQTTConfig{
			Host:                 "localhost",
			Port:                 1883,
			BaseTopic:            "rtlamr",
			HAStatusTopic:        "homeassistant/status",
			HAAutodiscoveryTopic: "homeassistant",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if _, ok := os.LookupEnv(EnvMock); ok {
		cfg.General.Mock = true
	}
	if v := os.Getenv(EnvMQTTHost); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv(EnvMQTTUser); v != "" {
		cfg.MQTT.User = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		cfg.MQTT.Password = v
	}
}

// normalise fills values derived from other fields.
func (c *Config) normalise() {
	c.General.Verbosity = strings.ToLower(strings.TrimSpace(c.General.Verbosity))
	c.Logging.Level = c.General.Verbosity

	if c.General.RestartDelay < 0 {
		c.General.RestartDelay = c.General.SleepFor
	}

	for i := range c.Meters {
		m := &c.Meters[i]
		m.ID = strings.TrimSpace(m.ID)
		m.Protocol = strings.ToLower(strings.TrimSpace(m.Protocol))
		if m.Name == "" {
			m.Name = "Meter " + m.ID
		}
		if m.StateClass == "" {
			m.StateClass = "total_increasing"
		}
	}
}

var meterIDPattern = regexp.MustCompile(`^[0-9]+$`)

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	if !isVerbosity(c.General.Verbosity) {
		errs = append(errs, fmt.Sprintf("general.verbosity must be one of %s", strings.Join(verbosityLevels, ", ")))
	}
	if c.General.SleepFor < 0 {
		errs = append(errs, "general.sleep_for must not be negative")
	}
	if _, _, err := SplitHostPort(c.General.RTLTCPHost); err != nil {
		errs = append(errs, fmt.Sprintf("general.rtltcp_host: %v", err))
	}
	if c.General.RTLAMRBinary == "" {
		errs = append(errs, "general.rtlamr_binary is required")
	}
	if c.General.TunerReadyMarker == "" || c.General.DecoderReadyMarker == "" {
		errs = append(errs, "general ready markers must not be empty")
	}
	if c.General.ReadyTimeout <= 0 {
		errs = append(errs, "general.ready_timeout must be positive")
	}
	if c.General.PollInterval < 0 || c.General.DiscoveryDelay < 0 {
		errs = append(errs, "general.poll_interval and general.discovery_delay must not be negative")
	}

	if c.MQTT.Host == "" {
		errs = append(errs, "mqtt.host is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}
	if c.MQTT.BaseTopic == "" || strings.ContainsAny(c.MQTT.BaseTopic, "+#") {
		errs = append(errs, "mqtt.base_topic is required and must not contain wildcards")
	}
	if c.MQTT.HAAutodiscoveryTopic == "" {
		errs = append(errs, "mqtt.ha_autodiscovery_topic is required")
	}

	if len(c.Meters) == 0 {
		errs = append(errs, "at least one meter must be configured")
	}
	seen := make(map[string]bool, len(c.Meters))
	for i, m := range c.Meters {
		prefix := fmt.Sprintf("meters[%d]", i)
		switch {
		case m.ID == "":
			errs = append(errs, prefix+".id is required")
		case !meterIDPattern.MatchString(m.ID):
			errs = append(errs, fmt.Sprintf("%s.id %q must be numeric", prefix, m.ID))
		case seen[m.ID]:
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, m.ID))
		}
		seen[m.ID] = true

		if !knownProtocols[m.Protocol] {
			errs = append(errs, fmt.Sprintf("%s.protocol %q is not supported", prefix, m.Protocol))
		}
		if m.Decimals != nil && (*m.Decimals < 0 || *m.Decimals > 18) {
			errs = append(errs, prefix+".decimals must be between 0 and 18")
		}
		if m.Format != "" && !strings.Contains(m.Format, "#") {
			errs = append(errs, prefix+".format must contain at least one '#'")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func isVerbosity(v string) bool {
	for _, l := range verbosityLevels {
		if v == l {
			return true
		}
	}
	return false
}

// SplitHostPort splits a host:port string and validates the port.
func SplitHostPort(hostport string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, fmt.Errorf("invalid host:port %q: %w", hostport, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid host:port %q: empty host", hostport)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", hostport)
	}
	return host, port, nil
}

// MeterIDs returns configured meter IDs in configuration order.
func (c *Config) MeterIDs() []string {
	ids := make([]string, 0, len(c.Meters))
	for _, m := range c.Meters {
		ids = append(ids, m.ID)
	}
	return ids
}

// BrokerAddress returns host:port of the MQTT broker.
func (c *MQTTConfig) BrokerAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
