package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic Hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Database  DatabaseConfig  `yaml:"database"`
	Identity  IdentityConfig  `yaml:"identity"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Modules   ModulesConfig   `yaml:"modules"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Security  SecurityConfig  `yaml:"security"`
}

// HubConfig contains hub-wide behaviour settings.
type HubConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// AutoDiscover starts discovery on every module as soon as it loads.
	AutoDiscover bool `yaml:"auto_discover"`

	// DiscoverWindow is how long auto-discovery runs before it is
	// force-stopped, in seconds. Default: 5
	DiscoverWindow int `yaml:"discover_window"`

	// DeviceTimeout bounds every driver call, in seconds. Default: 10
	DeviceTimeout int `yaml:"device_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// IdentityConfig selects the backend of the device identity store.
type IdentityConfig struct {
	// Backend is "sqlite" (default) or "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// ModulesConfig lists the modules loaded at startup and the registry
// constraints applied to installs.
type ModulesConfig struct {
	Load     []ModuleEntry  `yaml:"load"`
	Registry RegistryConfig `yaml:"registry"`
}

// ModuleEntry declares one module instance.
type ModuleEntry struct {
	// Name is the instance name, unique across the hub.
	Name string `yaml:"name"`

	// Driver selects the factory from the module catalogue.
	Driver string `yaml:"driver"`

	Version string `yaml:"version"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Options are passed to the module factory untouched.
	Options map[string]any `yaml:"options,omitempty"`
}

// IsEnabled reports whether the entry should be loaded.
func (m ModuleEntry) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// RegistryConfig constrains installFromRegistry.
type RegistryConfig struct {
	// AllowedHosts restricts install sources. Empty allows any host.
	AllowedHosts []string `yaml:"allowed_hosts"`
	MaxURLLength int      `yaml:"max_url_length"`

	// InstallDir is where fetched manifests are kept.
	InstallDir string `yaml:"install_dir"`
}

// OAuthConfig contains settings for devices that authorise through an
// external OAuth provider.
type OAuthConfig struct {
	// StateSecret signs the state parameter round-tripped through the provider.
	StateSecret string `yaml:"state_secret"`

	// StateTTL is the validity of a pending authorisation, in seconds. Default: 600
	StateTTL int `yaml:"state_ttl"`

	// CallbackURL is the public URL of GET /api/v1/oauth/callback.
	CallbackURL string `yaml:"callback_url"`

	// Providers is keyed by module name.
	Providers map[string]OAuthProviderConfig `yaml:"providers"`
}

// OAuthProviderConfig describes one provider.
type OAuthProviderConfig struct {
	// Version is "1.0" or "2.0".
	Version      string   `yaml:"version"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes,omitempty"`

	// OAuth 2.0 endpoints.
	AuthURL  string `yaml:"auth_url,omitempty"`
	TokenURL string `yaml:"token_url,omitempty"`

	// OAuth 1.0 endpoints. AuthURL is reused as the authorise endpoint.
	RequestTokenURL string `yaml:"request_token_url,omitempty"`
	AccessTokenURL  string `yaml:"access_token_url,omitempty"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	SecretHash SecretHashConfig `yaml:"secret_hash"`
}

// SecretHashConfig holds the Argon2id parameters used for device credentials.
type SecretHashConfig struct {
	Time       uint32 `yaml:"time"`
	MemoryKiB  uint32 `yaml:"memory_kib"`
	Threads    uint8  `yaml:"threads"`
	KeyLength  uint32 `yaml:"key_length"`
	SaltLength uint32 `yaml:"salt_length"`
}

var moduleNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_HUB_SECTION_KEY
// For example: GRAYLOGIC_HUB_DATABASE_PATH, GRAYLOGIC_HUB_MQTT_HOST
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

// Default returns the built-in configuration, used when no file is given.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			ID:             "hub-001",
			Name:           "Gray Logic Hub",
			AutoDiscover:   true,
			DiscoverWindow: 5,
			DeviceTimeout:  10,
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-hub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Identity: IdentityConfig{
			Backend: "sqlite",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "graylogic:hub:identity:",
			},
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-hub",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Modules: ModulesConfig{
			Registry: RegistryConfig{
				MaxURLLength: 2048,
				InstallDir:   "./data/modules",
			},
		},
		OAuth: OAuthConfig{
			StateTTL: 600,
		},
		Security: SecurityConfig{
			SecretHash: SecretHashConfig{
				Time:       1,
				MemoryKiB:  64 * 1024,
				Threads:    4,
				KeyLength:  32,
				SaltLength: 16,
			},
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_HUB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_HUB_IDENTITY_BACKEND"); v != "" {
		cfg.Identity.Backend = v
	}
	if v := os.Getenv("GRAYLOGIC_HUB_REDIS_ADDR"); v != "" {
		cfg.Identity.Redis.Addr = v
	}
	if v := os.Getenv("GRAYLOGIC_HUB_REDIS_PASSWORD"); v != "" {
		cfg.Identity.Redis.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_HUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_HUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_HUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_HUB_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_HUB_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYLOGIC_HUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_HUB_OAUTH_STATE_SECRET"); v != "" {
		cfg.OAuth.StateSecret = v
	}

	if v := os.Getenv("GRAYLOGIC_HUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Hub.ID == "" {
		errs = append(errs, "hub.id is required")
	}
	if c.Hub.DeviceTimeout <= 0 {
		errs = append(errs, "hub.device_timeout must be positive")
	}
	if c.Hub.DiscoverWindow <= 0 {
		errs = append(errs, "hub.discover_window must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Identity.Backend {
	case "sqlite":
	case "redis":
		if c.Identity.Redis.Addr == "" {
			errs = append(errs, "identity.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("identity.backend %q must be sqlite or redis", c.Identity.Backend))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	seen := make(map[string]bool, len(c.Modules.Load))
	for i, m := range c.Modules.Load {
		if !moduleNamePattern.MatchString(m.Name) {
			errs = append(errs, fmt.Sprintf("modules.load[%d].name %q is invalid", i, m.Name))
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Sprintf("modules.load[%d].name %q is duplicated", i, m.Name))
		}
		seen[m.Name] = true
		if m.Driver == "" {
			errs = append(errs, fmt.Sprintf("modules.load[%d].driver is required", i))
		}
	}
	if c.Modules.Registry.MaxURLLength <= 0 {
		errs = append(errs, "modules.registry.max_url_length must be positive")
	}

	const minStateSecretLength = 32
	if len(c.OAuth.Providers) > 0 {
		if len(c.OAuth.StateSecret) < minStateSecretLength {
			errs = append(errs, "oauth.state_secret must be at least 32 characters (set GRAYLOGIC_HUB_OAUTH_STATE_SECRET)")
		}
		if c.OAuth.CallbackURL == "" {
			errs = append(errs, "oauth.callback_url is required when providers are configured")
		}
	}
	for name, p := range c.OAuth.Providers {
		if p.Version != "1.0" && p.Version != "2.0" {
			errs = append(errs, fmt.Sprintf("oauth.providers.%s.version %q must be 1.0 or 2.0", name, p.Version))
		}
	}

	if c.Security.SecretHash.Time == 0 || c.Security.SecretHash.MemoryKiB == 0 ||
		c.Security.SecretHash.Threads == 0 || c.Security.SecretHash.KeyLength == 0 {
		errs = append(errs, "security.secret_hash parameters must be non-zero")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetDeviceTimeout returns the driver call bound as a Duration.
func (c *Config) GetDeviceTimeout() time.Duration {
	return time.Duration(c.Hub.DeviceTimeout) * time.Second
}

// GetDiscoverWindow returns the auto-discovery window as a Duration.
func (c *Config) GetDiscoverWindow() time.Duration {
	return time.Duration(c.Hub.DiscoverWindow) * time.Second
}

// GetOAuthStateTTL returns the OAuth state validity as a Duration.
func (c *Config) GetOAuthStateTTL() time.Duration {
	return time.Duration(c.OAuth.StateTTL) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
