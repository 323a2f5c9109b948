// Package config loads relay settings from viper (config file, environment
// and defaults) into a typed Config.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	units "github.com/docker/go-units"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mailrelay/mailrelay/internal/core/engine"
	"github.com/mailrelay/mailrelay/internal/transport"
)

const (
	// AppName is the binary and config directory name.
	AppName = "mailrelay"
	// EnvPrefix prefixes every environment override, e.g. MAILRELAY_SMTP_SERVER.
	EnvPrefix = "MAILRELAY"

	DefaultHost        = "0.0.0.0"
	DefaultPort        = 3000
	DefaultSMTPPort    = 587
	DefaultMaxBodySize = "1MiB"

	IdentityFromHeader = "header"
	IdentityFromPeer   = "peer"

	redacted = "********"
)

// SetDefaults registers defaults for every key so that environment
// overrides are visible to AllSettings. Keys with an app_config.json alias
// default to their zero value and are filled in by normalize.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_size", DefaultMaxBodySize)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.server_host", "")
	v.SetDefault("server.server_port", 0)
	v.SetDefault("server.api_key", "")

	v.SetDefault("smtp.server", "")
	v.SetDefault("smtp.port", 0)
	v.SetDefault("smtp.account", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.security", "auto")
	v.SetDefault("smtp.timeout", engine.DefaultSendTimeout.String())
	v.SetDefault("smtp.helo_name", "localhost")
	v.SetDefault("smtp.max_per_second", 0)
	v.SetDefault("smtp.skip_verify", false)

	v.SetDefault("email.from", "")
	v.SetDefault("email.to", "")
	v.SetDefault("email.sender_name", "")
	v.SetDefault("email.smtp_server", "")
	v.SetDefault("email.smtp_port", 0)
	v.SetDefault("email.email_account", "")
	v.SetDefault("email.email_password", "")
	v.SetDefault("email.email_from", "")
	v.SetDefault("email.email_to", "")

	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.constant_time", false)

	v.SetDefault("rate_limit.window", engine.DefaultWindow.String())
	v.SetDefault("rate_limit.capacity", engine.DefaultCapacity)
	v.SetDefault("rate_limit.identity_source", IdentityFromHeader)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

// BindEnv enables MAILRELAY_* overrides with "." mapped to "_".
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the merged viper settings.
func Load(v *viper.Viper) (*Config, error) {
	return Decode(v.AllSettings())
}

// Decode converts a raw settings map into a normalized Config. It does not
// validate; call Validate before using the result to serve traffic.
func Decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize folds app_config.json keys into their current names and fills
// defaults that depend on them.
func (c *Config) normalize() {
	c.Server.Host = firstSet(c.Server.Host, c.Server.LegacyHost, DefaultHost)
	c.Server.Port = firstPositive(c.Server.Port, c.Server.LegacyPort, DefaultPort)
	c.Auth.APIKey = firstSet(c.Auth.APIKey, c.Server.LegacyAPIKey)

	c.SMTP.Server = firstSet(c.SMTP.Server, c.Email.LegacySMTPServer)
	c.SMTP.Port = firstPositive(c.SMTP.Port, c.Email.LegacySMTPPort, DefaultSMTPPort)
	c.SMTP.Account = firstSet(c.SMTP.Account, c.Email.LegacyAccount)
	c.SMTP.Password = firstSet(c.SMTP.Password, c.Email.LegacyPassword)
	c.Email.From = firstSet(c.Email.From, c.Email.LegacyFrom)
	c.Email.To = firstSet(c.Email.To, c.Email.LegacyTo)

	if c.SMTP.Timeout <= 0 {
		c.SMTP.Timeout = engine.DefaultSendTimeout
	}
	if strings.TrimSpace(c.Server.MaxBodySize) == "" {
		c.Server.MaxBodySize = DefaultMaxBodySize
	}
	c.RateLimit.IdentitySource = strings.ToLower(strings.TrimSpace(c.RateLimit.IdentitySource))
	if c.RateLimit.IdentitySource == "" {
		c.RateLimit.IdentitySource = IdentityFromHeader
	}

	if strings.TrimSpace(c.Store.Driver) == "" {
		c.Store.Driver = "libsql"
	}
	if strings.TrimSpace(c.Store.URL) == "" && strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = DefaultStorePath()
	}
}

// Validate reports every problem that would stop the relay from serving.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if _, err := c.MaxBodyBytes(); err != nil {
		problems = append(problems, err.Error())
	}

	if strings.TrimSpace(c.SMTP.Server) == "" {
		problems = append(problems, "smtp.server is required")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("smtp.port %d is out of range", c.SMTP.Port))
	}
	if (c.SMTP.Account == "") != (c.SMTP.Password == "") {
		problems = append(problems, "smtp.account and smtp.password must be set together")
	}
	if _, err := c.SecurityMode(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.SMTP.MaxPerSecond < 0 {
		problems = append(problems, "smtp.max_per_second must not be negative")
	}

	if _, err := engine.ParseAddress("email.from", c.Email.From); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := engine.ParseAddress("email.to", c.Email.To); err != nil {
		problems = append(problems, err.Error())
	}

	if c.Auth.APIKey == "" {
		problems = append(problems, "auth.api_key is required")
	}

	if c.RateLimit.Window <= 0 {
		problems = append(problems, "rate_limit.window must be positive")
	}
	if c.RateLimit.Capacity <= 0 {
		problems = append(problems, "rate_limit.capacity must be positive")
	}
	switch c.RateLimit.IdentitySource {
	case IdentityFromHeader, IdentityFromPeer:
	default:
		problems = append(problems, fmt.Sprintf("rate_limit.identity_source %q must be %q or %q",
			c.RateLimit.IdentitySource, IdentityFromHeader, IdentityFromPeer))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxBodyBytes parses server.max_body_size.
func (c *Config) MaxBodyBytes() (int64, error) {
	size, err := units.RAMInBytes(c.Server.MaxBodySize)
	if err != nil {
		return 0, fmt.Errorf("server.max_body_size %q: %w", c.Server.MaxBodySize, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("server.max_body_size %q must be positive", c.Server.MaxBodySize)
	}
	return size, nil
}

// SecurityMode resolves smtp.security against smtp.port.
func (c *Config) SecurityMode() (transport.SecurityMode, error) {
	return transport.ResolveSecurityMode(c.SMTP.Security, c.SMTP.Port)
}

// TransportConfig converts the smtp section for the transport package.
func (c *Config) TransportConfig() (transport.Config, error) {
	mode, err := c.SecurityMode()
	if err != nil {
		return transport.Config{}, err
	}
	return transport.Config{
		Host:               c.SMTP.Server,
		Port:               c.SMTP.Port,
		Username:           c.SMTP.Account,
		Password:           c.SMTP.Password,
		Security:           mode,
		HeloName:           c.SMTP.HeloName,
		DialTimeout:        c.SMTP.Timeout,
		MaxPerSecond:       c.SMTP.MaxPerSecond,
		InsecureSkipVerify: c.SMTP.SkipVerify,
	}, nil
}

// SendTimeout bounds one transport attempt.
func (c *Config) SendTimeout() time.Duration {
	return c.SMTP.Timeout
}

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() Config {
	out := *c
	out.SMTP.Password = mask(out.SMTP.Password)
	out.Auth.APIKey = mask(out.Auth.APIKey)
	out.Store.AuthToken = mask(out.Store.AuthToken)
	out.Server.AdminToken = mask(out.Server.AdminToken)
	return out
}

// YAML renders the redacted configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

// DefaultStorePath returns the delivery log location under the XDG data dir.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// ConfigDir returns the XDG config directory for the relay.
func ConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return redacted
}

func firstSet(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
