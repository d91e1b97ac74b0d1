package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "SQUARES"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = DriverSQLite
	defaultDatabasePath        = "squares.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultCookieName          = "app_session"
	defaultSessionIssuer       = "tauth"
	defaultSessionLeeway       = 30 * time.Second
	defaultPresenceTTL         = 20 * time.Minute
	defaultPresenceMaxTTL      = 12 * time.Hour
	defaultCompactionInterval  = 5 * time.Minute
	defaultXPTimezone          = "UTC"
	defaultOperationTimeout    = 5 * time.Second
	defaultNotificationCap     = 50
	defaultRedisChannelPrefix  = "squares"
	defaultAllowedOriginsValue = "*"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string

	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	SessionLeeway     time.Duration

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel  string
	LogFormat string

	PresenceTTL                time.Duration
	PresenceMaxTTL             time.Duration
	PresenceCompactionInterval time.Duration
	XPLocation                 *time.Location
	OperationTimeout           time.Duration
	NotificationCapacity       int

	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	RedisChannelPrefix string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", defaultAllowedOriginsValue)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.leeway", defaultSessionLeeway)
	configViper.SetDefault("presence.ttl", defaultPresenceTTL)
	configViper.SetDefault("presence.max_ttl", defaultPresenceMaxTTL)
	configViper.SetDefault("presence.compaction_interval", defaultCompactionInterval)
	configViper.SetDefault("xp.timezone", defaultXPTimezone)
	configViper.SetDefault("store.operation_timeout", defaultOperationTimeout)
	configViper.SetDefault("notifications.capacity", defaultNotificationCap)
	configViper.SetDefault("redis.channel_prefix", defaultRedisChannelPrefix)
	configViper.SetDefault("redis.db", 0)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:                configViper.GetString("http.address"),
		AllowedOrigins:             splitList(configViper.GetString("http.allowed_origins")),
		SessionSigningKey:          configViper.GetString("session.signing_secret"),
		SessionIssuer:              configViper.GetString("session.issuer"),
		SessionCookieName:          configViper.GetString("session.cookie_name"),
		SessionLeeway:              configViper.GetDuration("session.leeway"),
		DatabaseDriver:             strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:               configViper.GetString("database.path"),
		DatabaseDSN:                configViper.GetString("database.dsn"),
		LogLevel:                   configViper.GetString("log.level"),
		LogFormat:                  configViper.GetString("log.format"),
		PresenceTTL:                configViper.GetDuration("presence.ttl"),
		PresenceMaxTTL:             configViper.GetDuration("presence.max_ttl"),
		PresenceCompactionInterval: configViper.GetDuration("presence.compaction_interval"),
		OperationTimeout:           configViper.GetDuration("store.operation_timeout"),
		NotificationCapacity:       configViper.GetInt("notifications.capacity"),
		RedisAddress:               configViper.GetString("redis.address"),
		RedisPassword:              configViper.GetString("redis.password"),
		RedisDB:                    configViper.GetInt("redis.db"),
		RedisChannelPrefix:         configViper.GetString("redis.channel_prefix"),
	}

	location, err := time.LoadLocation(strings.TrimSpace(configViper.GetString("xp.timezone")))
	if err != nil {
		return AppConfig{}, fmt.Errorf("xp.timezone is invalid: %w", err)
	}
	cfg.XPLocation = location

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.SessionLeeway < 0 {
		return fmt.Errorf("session.leeway must not be negative")
	}
	if c.PresenceTTL <= 0 {
		return fmt.Errorf("presence.ttl must be positive")
	}
	if c.PresenceMaxTTL < c.PresenceTTL {
		return fmt.Errorf("presence.max_ttl must not be below presence.ttl")
	}
	if c.PresenceCompactionInterval < 0 {
		return fmt.Errorf("presence.compaction_interval must not be negative")
	}
	if c.OperationTimeout < 0 {
		return fmt.Errorf("store.operation_timeout must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
