package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the proxy process.
type Config struct {
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	DB        DBConfig        `mapstructure:"db"`
	Events    EventsConfig    `mapstructure:"events"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Log       LogConfig       `mapstructure:"log"`
}

// ProxyConfig configures the forwarding listener and its single upstream target.
type ProxyConfig struct {
	Port                  string        `mapstructure:"port"`
	Target                string        `mapstructure:"target"`
	TargetDescription     string        `mapstructure:"target_description"`
	PreserveHost          bool          `mapstructure:"preserve_host"`
	ProxyProtocol         bool          `mapstructure:"proxy_protocol"`
	InsecureSkipVerify    bool          `mapstructure:"insecure_skip_verify"`
	MaxBodyCapture        int64         `mapstructure:"max_body_capture"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`

	// TargetURL is Target parsed by Validate.
	TargetURL *url.URL `mapstructure:"-"`
}

// DashboardConfig configures the observer listener.
type DashboardConfig struct {
	Port           string     `mapstructure:"port"`
	AllowedOrigins []string   `mapstructure:"allowed_origins"`
	Auth           AuthConfig `mapstructure:"auth"`
}

// AuthConfig controls access to the observer stream.
type AuthConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type EventsConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type RelayConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig enables the Redis relay when Addr is set.
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}

// StatsConfig holds a cron spec for the periodic stream report; empty disables it.
type StatsConfig struct {
	Schedule string `mapstructure:"schedule"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Defaults.
const (
	DefaultProxyPort      = "4000"
	DefaultTarget         = "http://localhost"
	DefaultDashboardPort  = "8080"
	DefaultQueueSize      = 256
	DefaultMaxBodyCapture = 1 << 20 // 1 MiB
	DefaultTokenTTL       = time.Hour
	DefaultRelayChannel   = "proxy:log"
	DefaultStatsSchedule  = "@every 1m"

	envPrefix = "LOGPROXY"
)

var (
	ErrInvalidTarget    = errors.New("invalid proxy target")
	ErrInvalidPort      = errors.New("invalid port")
	ErrInvalidQueueSize = errors.New("events.queue_size must be > 0")
	ErrMissingKey       = errors.New("dashboard.auth.signing_key is required when auth is enabled")
)

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("proxy.port", DefaultProxyPort)
	v.SetDefault("proxy.target", DefaultTarget)
	v.SetDefault("proxy.target_description", "")
	v.SetDefault("proxy.preserve_host", true)
	v.SetDefault("proxy.proxy_protocol", false)
	v.SetDefault("proxy.insecure_skip_verify", false)
	v.SetDefault("proxy.max_body_capture", DefaultMaxBodyCapture)
	v.SetDefault("proxy.dial_timeout", 10*time.Second)
	v.SetDefault("proxy.response_header_timeout", time.Duration(0))

	v.SetDefault("dashboard.port", DefaultDashboardPort)
	v.SetDefault("dashboard.allowed_origins", []string{})
	v.SetDefault("dashboard.auth.enabled", false)
	v.SetDefault("dashboard.auth.signing_key", "")
	v.SetDefault("dashboard.auth.token_ttl", DefaultTokenTTL)

	v.SetDefault("db.path", "app.db")
	v.SetDefault("events.queue_size", DefaultQueueSize)
	v.SetDefault("relay.redis.addr", "")
	v.SetDefault("relay.redis.channel", DefaultRelayChannel)
	v.SetDefault("stats.schedule", DefaultStatsSchedule)
	v.SetDefault("log.level", "info")
}

// Load reads configs/config.yml (or the explicit file) on top of defaults and
// environment variables, then validates the result. A missing config file is
// not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath("configs") // configs/config.yml
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes the configuration in place and reports the first problem.
func (c *Config) Validate() error {
	target, err := ParseTarget(c.Proxy.Target)
	if err != nil {
		return err
	}
	c.Proxy.TargetURL = target
	c.Proxy.Target = target.String()
	if strings.TrimSpace(c.Proxy.TargetDescription) == "" {
		c.Proxy.TargetDescription = c.Proxy.Target
	}

	for name, port := range map[string]string{"proxy.port": c.Proxy.Port, "dashboard.port": c.Dashboard.Port} {
		if err := validatePort(port); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Events.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	if c.Proxy.MaxBodyCapture <= 0 {
		c.Proxy.MaxBodyCapture = DefaultMaxBodyCapture
	}
	if c.Dashboard.Auth.Enabled && strings.TrimSpace(c.Dashboard.Auth.SigningKey) == "" {
		return ErrMissingKey
	}
	if c.Dashboard.Auth.TokenTTL <= 0 {
		c.Dashboard.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Relay.Redis.Channel == "" {
		c.Relay.Redis.Channel = DefaultRelayChannel
	}
	return nil
}

// ParseTarget accepts "host", "host:port" or a full http(s) URL.
func ParseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultTarget
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidTarget, raw)
	}
	return u, nil
}

// validatePort accepts "8080" or ":8080".
func validatePort(port string) error {
	p := strings.TrimPrefix(port, ":")
	n, err := strconv.Atoi(p)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidPort, port)
	}
	return nil
}
