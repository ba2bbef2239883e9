package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the meshgate border router.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site         SiteConfig         `yaml:"site"`
	BorderRouter BorderRouterConfig `yaml:"border_router"`
	Backhaul     BackhaulConfig     `yaml:"backhaul"`
	Mesh         MeshConfig         `yaml:"mesh"`
	Stack        StackConfig        `yaml:"stack"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// SiteConfig identifies the border router installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BorderRouterConfig contains the connection state machine settings.
type BorderRouterConfig struct {
	// ShutdownDelay is how long the DHCPv6 prefix delegation server is kept
	// after the backhaul loses its bootstrap. Short backhaul flaps inside this
	// window do not disturb mesh clients.
	// Default: 2m
	ShutdownDelay time.Duration `yaml:"shutdown_delay"`

	// DHCPLeaseTime is the lease handed to mesh-side DHCPv6 clients.
	// Default: 200s
	DHCPLeaseTime time.Duration `yaml:"dhcp_lease_time"`

	// DHCPShutdownPolicy is "withdraw" (keep the server, clear the default
	// route flag) or "delete" (also stop the server instance).
	// Default: withdraw
	DHCPShutdownPolicy string `yaml:"dhcp_shutdown_policy"`

	// PrefixLength is the length of the prefix delegated onto the mesh.
	// Default: 64
	PrefixLength int `yaml:"prefix_length"`

	// StatusInterval is the period of the status and routing table report.
	// Zero disables the report.
	// Default: 20s
	StatusInterval time.Duration `yaml:"status_interval"`
}

// BackhaulConfig describes the upstream IP interface.
type BackhaulConfig struct {
	// Driver is one of "eth", "slip", "emac" or "cell".
	Driver string `yaml:"driver"`

	// DriverID is the identifier the stack uses for the backhaul driver in
	// driver status events.
	DriverID int `yaml:"driver_id"`

	// Bootstrap is "autonomous" (SLAAC/DHCP from upstream) or "static".
	Bootstrap string `yaml:"bootstrap"`

	// Prefix is the static backhaul prefix, e.g. "2001:db8:1::/64".
	// Required when Bootstrap is "static".
	Prefix string `yaml:"prefix"`

	// DefaultRoute is added on the backhaul after a static bootstrap.
	DefaultRoute RouteConfig `yaml:"default_route"`

	// Metric is the interface metric applied after bring-up.
	Metric int `yaml:"metric"`
}

// RouteConfig is a static route.
type RouteConfig struct {
	Prefix  string `yaml:"prefix"`
	NextHop string `yaml:"next_hop"`
}

// MeshConfig describes the low-power wireless mesh interface.
type MeshConfig struct {
	// Mode is one of "lowpan-nd", "thread" or "wisun".
	Mode string `yaml:"mode"`

	// DriverID is the identifier the stack uses for the radio driver.
	DriverID int `yaml:"driver_id"`

	NetworkName string `yaml:"network_name"`
	PANID       int    `yaml:"pan_id"`
	Channel     int    `yaml:"channel"`
	Metric      int    `yaml:"metric"`

	// Reconnect enables automatic bootstrap retries after mesh failures.
	// Default: true
	Reconnect bool `yaml:"reconnect"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig bounds the mesh bootstrap retry backoff.
// Zero for Max or MaxAttempts disables the respective limit.
type RetryConfig struct {
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// StackConfig contains settings for the external mesh stack daemon.
type StackConfig struct {
	// RequestTimeout bounds every request/response exchange with the stack.
	// Default: 5s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Daemon DaemonConfig `yaml:"daemon"`
}

// DaemonConfig contains settings for supervising the stack daemon process.
type DaemonConfig struct {
	// Managed indicates whether meshgate starts and supervises the daemon.
	// If false, the daemon is expected to run externally (e.g. as a systemd service).
	Managed bool `yaml:"managed"`

	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`

	// RestartOnFailure enables automatic restart if the daemon exits.
	// Default: true
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelay is the first restart delay; it doubles up to MaxRestartDelay.
	// Default: 2s
	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestartDelay caps the restart backoff.
	// Default: 1m
	MaxRestartDelay time.Duration `yaml:"max_restart_delay"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	// Default: 10
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MESHGATE_SECTION_KEY
// For example: MESHGATE_DATABASE_PATH, MESHGATE_MESH_MODE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "br-001",
			Name: "meshgate",
		},
		BorderRouter: BorderRouterConfig{
			ShutdownDelay:      2 * time.Minute,
			DHCPLeaseTime:      200 * time.Second,
			DHCPShutdownPolicy: "withdraw",
			PrefixLength:       64,
			StatusInterval:     20 * time.Second,
		},
		Backhaul: BackhaulConfig{
			Driver:    "eth",
			DriverID:  0,
			Bootstrap: "autonomous",
			Metric:    0,
		},
		Mesh: MeshConfig{
			Mode:        "thread",
			DriverID:    1,
			NetworkName: "meshgate",
			PANID:       0x0691,
			Channel:     12,
			Metric:      1000,
			Reconnect:   true,
			Retry: RetryConfig{
				Initial:     3 * time.Second,
				Max:         9 * time.Second,
				MaxAttempts: 0,
			},
		},
		Stack: StackConfig{
			RequestTimeout: 5 * time.Second,
			Daemon: DaemonConfig{
				RestartOnFailure:   true,
				RestartDelay:       2 * time.Second,
				MaxRestartDelay:    time.Minute,
				MaxRestartAttempts: 10,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/meshgate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meshgate",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			URL:           "http://localhost:8086",
			Org:           "meshgate",
			Bucket:        "meshgate",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MESHGATE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MESHGATE_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}

	if v := os.Getenv("MESHGATE_BACKHAUL_DRIVER"); v != "" {
		cfg.Backhaul.Driver = v
	}
	if v := os.Getenv("MESHGATE_MESH_MODE"); v != "" {
		cfg.Mesh.Mode = v
	}

	if v := os.Getenv("MESHGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("MESHGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MESHGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MESHGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("MESHGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	br := c.BorderRouter
	if br.ShutdownDelay < 0 {
		errs = append(errs, "border_router.shutdown_delay must not be negative")
	}
	if br.DHCPLeaseTime <= 0 {
		errs = append(errs, "border_router.dhcp_lease_time must be positive")
	}
	if br.PrefixLength < 1 || br.PrefixLength > 128 {
		errs = append(errs, "border_router.prefix_length must be between 1 and 128")
	}
	if br.DHCPShutdownPolicy != "withdraw" && br.DHCPShutdownPolicy != "delete" {
		errs = append(errs, fmt.Sprintf("border_router.dhcp_shutdown_policy %q must be withdraw or delete", br.DHCPShutdownPolicy))
	}
	if br.StatusInterval < 0 {
		errs = append(errs, "border_router.status_interval must not be negative")
	}

	errs = append(errs, c.validateBackhaul()...)
	errs = append(errs, c.validateMesh()...)

	if c.Stack.RequestTimeout <= 0 {
		errs = append(errs, "stack.request_timeout must be positive")
	}
	if c.Stack.Daemon.Managed && c.Stack.Daemon.Binary == "" {
		errs = append(errs, "stack.daemon.binary is required when the daemon is managed")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when enabled")
		}
		if c.InfluxDB.BatchSize < 0 || c.InfluxDB.FlushInterval < 0 {
			errs = append(errs, "influxdb batch settings must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateBackhaul() []string {
	var errs []string

	switch c.Backhaul.Driver {
	case "eth", "slip", "emac", "cell":
	default:
		errs = append(errs, fmt.Sprintf("backhaul.driver %q must be eth, slip, emac, or cell", c.Backhaul.Driver))
	}

	switch c.Backhaul.Bootstrap {
	case "autonomous":
	case "static":
		if _, err := netip.ParsePrefix(c.Backhaul.Prefix); err != nil {
			errs = append(errs, "backhaul.prefix must be a valid IPv6 prefix for static bootstrap")
		}
	default:
		errs = append(errs, fmt.Sprintf("backhaul.bootstrap %q must be autonomous or static", c.Backhaul.Bootstrap))
	}

	if r := c.Backhaul.DefaultRoute; r.NextHop != "" {
		if _, err := netip.ParseAddr(r.NextHop); err != nil {
			errs = append(errs, "backhaul.default_route.next_hop must be an IPv6 address")
		}
		if r.Prefix != "" {
			if _, err := netip.ParsePrefix(r.Prefix); err != nil {
				errs = append(errs, "backhaul.default_route.prefix must be an IPv6 prefix")
			}
		}
	}

	if c.Backhaul.DriverID == c.Mesh.DriverID {
		errs = append(errs, "backhaul.driver_id and mesh.driver_id must differ")
	}

	return errs
}

func (c *Config) validateMesh() []string {
	var errs []string

	switch c.Mesh.Mode {
	case "lowpan-nd", "thread", "wisun":
	default:
		errs = append(errs, fmt.Sprintf("mesh.mode %q must be lowpan-nd, thread, or wisun", c.Mesh.Mode))
	}

	if c.Mesh.Channel < 0 {
		errs = append(errs, "mesh.channel must not be negative")
	}

	r := c.Mesh.Retry
	if r.Initial < 0 || r.Max < 0 {
		errs = append(errs, "mesh.retry delays must not be negative")
	}
	if r.MaxAttempts < 0 {
		errs = append(errs, "mesh.retry.max_attempts must not be negative")
	}

	return errs
}

// StaticBackhaulPrefix returns the parsed static backhaul prefix.
// ok is false when the backhaul bootstraps autonomously.
func (c *Config) StaticBackhaulPrefix() (prefix netip.Prefix, ok bool) {
	if c.Backhaul.Bootstrap != "static" {
		return netip.Prefix{}, false
	}
	p, err := netip.ParsePrefix(c.Backhaul.Prefix)
	if err != nil {
		return netip.Prefix{}, false
	}
	return p, true
}
