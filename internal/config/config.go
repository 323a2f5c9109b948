package config

import "time"

// Config represents the complete relay configuration. It is read once at
// startup and treated as immutable afterwards.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	SMTP      SMTPConfig      `mapstructure:"smtp" yaml:"smtp"`
	Email     EmailConfig     `mapstructure:"email" yaml:"email"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// MaxBodySize limits the /send-email request body, e.g. "1MiB".
	MaxBodySize string `mapstructure:"max_body_size" yaml:"max_body_size"`

	// TrustProxy rewrites the peer address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `mapstructure:"trust_proxy" yaml:"trust_proxy"`
	// AdminToken enables POST /admin/signal when set.
	AdminToken string `mapstructure:"admin_token" yaml:"admin_token"`

	// Keys from app_config.json.
	LegacyHost   string `mapstructure:"server_host" yaml:"-"`
	LegacyPort   int    `mapstructure:"server_port" yaml:"-"`
	LegacyAPIKey string `mapstructure:"api_key" yaml:"-"`
}

// SMTPConfig describes the upstream mail server.
type SMTPConfig struct {
	Server   string `mapstructure:"server" yaml:"server"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Account  string `mapstructure:"account" yaml:"account"`
	Password string `mapstructure:"password" yaml:"password"`

	// Security is one of auto, tls, starttls, opportunistic. "auto" derives
	// the mode from the port.
	Security string `mapstructure:"security" yaml:"security"`

	// Timeout bounds a single send attempt.
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HeloName     string        `mapstructure:"helo_name" yaml:"helo_name"`
	MaxPerSecond float64       `mapstructure:"max_per_second" yaml:"max_per_second"`
	SkipVerify   bool          `mapstructure:"skip_verify" yaml:"skip_verify"`
}

// EmailConfig holds the message defaults applied when a request omits them.
type EmailConfig struct {
	From       string `mapstructure:"from" yaml:"from"`
	To         string `mapstructure:"to" yaml:"to"`
	SenderName string `mapstructure:"sender_name" yaml:"sender_name"`

	// Keys from app_config.json.
	LegacySMTPServer string `mapstructure:"smtp_server" yaml:"-"`
	LegacySMTPPort   int    `mapstructure:"smtp_port" yaml:"-"`
	LegacyAccount    string `mapstructure:"email_account" yaml:"-"`
	LegacyPassword   string `mapstructure:"email_password" yaml:"-"`
	LegacyFrom       string `mapstructure:"email_from" yaml:"-"`
	LegacyTo         string `mapstructure:"email_to" yaml:"-"`
}

// AuthConfig holds the shared API key.
type AuthConfig struct {
	APIKey       string `mapstructure:"api_key" yaml:"api_key"`
	ConstantTime bool   `mapstructure:"constant_time" yaml:"constant_time"`
}

// RateLimitConfig configures the per-identity sliding window.
type RateLimitConfig struct {
	Window   time.Duration `mapstructure:"window" yaml:"window"`
	Capacity int           `mapstructure:"capacity" yaml:"capacity"`

	// IdentitySource is "header" (the X-Forwarded-For value as sent) or
	// "peer" (remote address).
	IdentitySource string `mapstructure:"identity_source" yaml:"identity_source"`
}

// StoreConfig contains database configuration for the libsql delivery log
type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated Prometheus exporter port. The main server
	// proxies it at /metrics.
	Port int `mapstructure:"port" yaml:"port"`
}
