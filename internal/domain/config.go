package domain

import (
	"slices"
	"time"
)

// Config holds the complete Harrier configuration.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`
	Auth   AuthConfig   `json:"auth" yaml:"auth"`

	// RuleTableDir optionally adds or overrides the embedded statutory tables.
	RuleTableDir string `json:"ruleTableDir" yaml:"rule_table_dir"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`
	RateLimit  RateLimitConfig  `json:"rateLimit" yaml:"rate_limit"`
	AuditRules AuditRulesConfig `json:"auditRules" yaml:"audit_rules"`

	// Persist completed computations through the worker.
	PersistResults bool `json:"persistResults" yaml:"persist_results"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// AuthConfig configures identity token validation.
type AuthConfig struct {
	// JWTSecret is the HS256 shared secret. Tokens are issued elsewhere.
	JWTSecret string `json:"-" yaml:"jwt_secret"`
	Issuer    string `json:"issuer" yaml:"issuer"`
	Audience  string `json:"audience" yaml:"audience"`

	// OperatorSubjects may change the custom audit rules shared by every
	// identity. Empty means nobody can.
	OperatorSubjects []string `json:"operatorSubjects" yaml:"operator_subjects"`
}

// IsOperator reports whether subject may manage custom audit rules.
func (c AuthConfig) IsOperator(subject string) bool {
	return subject != "" && slices.Contains(c.OperatorSubjects, subject)
}

// RateLimitConfig bounds requests per identity within a window.
type RateLimitConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	Requests      int  `json:"requests" yaml:"requests"`
	WindowSeconds int  `json:"windowSeconds" yaml:"window_seconds"`
}

// Window returns the rate limit window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// AuditRulesConfig controls how stored custom audit rules are loaded.
type AuditRulesConfig struct {
	// ReloadSchedule is a cron expression ("@every 5m", "*/10 * * * *"). Empty disables it.
	ReloadSchedule string `json:"reloadSchedule" yaml:"reload_schedule"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory cache
// and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ResultTTL:    10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Requests:      120,
			WindowSeconds: 60,
		},
		PersistResults: true,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}
