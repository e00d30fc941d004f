// Package config
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable application configuration, loaded once at startup
// and passed into each component.
type Config struct {
	LoadSampleMonitors bool `yaml:"load_sample_monitors"`

	InternalMonitorsNotification InternalMonitorsNotificationConfig `yaml:"internal_monitors_notification"`

	MonitorsLoadSchedule string `yaml:"monitors_load_schedule"`

	Logging LoggingConfig `yaml:"logging"`

	ApplicationDatabaseSettings ApplicationDatabaseConfig `yaml:"application_database_settings"`
	ApplicationQueue            QueueConfig               `yaml:"application_queue"`
	HTTPServer                  HTTPServerConfig          `yaml:"http_server"`

	TimeZone string `yaml:"time_zone"`

	ControllerProcessSchedule string                     `yaml:"controller_process_schedule"`
	ControllerConcurrency     int                        `yaml:"controller_concurrency"`
	ControllerProcedures      map[string]ProcedureConfig `yaml:"controller_procedures"`

	ExecutorConcurrency          int `yaml:"executor_concurrency"`
	ExecutorSleep                int `yaml:"executor_sleep"`
	ExecutorMonitorTimeout       int `yaml:"executor_monitor_timeout"`
	ExecutorReactionTimeout      int `yaml:"executor_reaction_timeout"`
	ExecutorRequestTimeout       int `yaml:"executor_request_timeout"`
	ExecutorMonitorHeartbeatTime int `yaml:"executor_monitor_heartbeat_time"`

	MaxIssuesCreation int `yaml:"max_issues_creation"`

	DatabaseDefaultAcquireTimeout int  `yaml:"database_default_acquire_timeout"`
	DatabaseDefaultQueryTimeout   int  `yaml:"database_default_query_timeout"`
	DatabaseCloseTimeout          int  `yaml:"database_close_timeout"`
	DatabaseLogQueryMetrics       bool `yaml:"database_log_query_metrics"`

	DatabasesPoolsConfigs map[string]PoolConfig `yaml:"databases_pools_configs"`

	LogAllEvents bool `yaml:"log_all_events"`
}

type InternalMonitorsNotificationConfig struct {
	Enabled           bool           `yaml:"enabled"`
	NotificationClass string         `yaml:"notification_class"`
	Params            map[string]any `yaml:"params"`
}

type LoggingConfig struct {
	Mode   string            `yaml:"mode"` // friendly or json
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Fields map[string]string `yaml:"fields"`
}

type ApplicationDatabaseConfig struct {
	// DSN comes from the DATABASE_APPLICATION environment variable, not
	// the config file.
	DSN      string `yaml:"-"`
	PoolSize int    `yaml:"pool_size"`
}

// QueueConfig selects and configures the work queue. Type is "internal" for
// the in-process FIFO or "sqs" for the AWS SQS adapter.
type QueueConfig struct {
	Type                 string `yaml:"type"`
	QueueWaitMessageTime int    `yaml:"queue_wait_message_time"`
	QueueVisibilityTime  int    `yaml:"queue_visibility_time"`

	// Internal queue options.
	InternalQueueSize int `yaml:"internal_queue_size"`

	// SQS options.
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Region      string `yaml:"region"`
	CreateQueue bool   `yaml:"create_queue"`
}

type HTTPServerConfig struct {
	Port int            `yaml:"port"`
	Auth HTTPAuthConfig `yaml:"auth"`
}

type HTTPAuthConfig struct {
	AdminUsername  string `yaml:"admin_username"`
	AdminPassword  string `yaml:"admin_password"`
	JWTSecret      string `yaml:"jwt_secret"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours"`
}

// ProcedureConfig schedules one controller janitorial procedure.
type ProcedureConfig struct {
	Schedule string         `yaml:"schedule"`
	Params   map[string]any `yaml:"params"`
}

type PoolConfig struct {
	// DSN comes from the DATABASE_<NAME> environment variable.
	DSN      string `yaml:"-"`
	PoolSize int    `yaml:"pool_size"`
}

// Load reads the configuration from the file pointed to by the CONFIGS_FILE
// environment variable (default configs.yaml) and applies environment
// overrides.
func Load() (*Config, error) {
	path := os.Getenv("CONFIGS_FILE")
	if path == "" {
		path = "configs.yaml"
	}
	return LoadFile(path)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		MonitorsLoadSchedule:          "* * * * *",
		ControllerProcessSchedule:     "* * * * *",
		ControllerConcurrency:         10,
		ExecutorConcurrency:           4,
		ExecutorSleep:                 2,
		ExecutorMonitorTimeout:        60,
		ExecutorReactionTimeout:       10,
		ExecutorRequestTimeout:        10,
		ExecutorMonitorHeartbeatTime:  10,
		MaxIssuesCreation:             100,
		DatabaseDefaultAcquireTimeout: 10,
		DatabaseDefaultQueryTimeout:   30,
		DatabaseCloseTimeout:          10,
		TimeZone:                      "UTC",
		Logging:                       LoggingConfig{Mode: "friendly", Level: "info"},
		ApplicationDatabaseSettings:   ApplicationDatabaseConfig{PoolSize: 10},
		ApplicationQueue: QueueConfig{
			Type:                 "internal",
			QueueWaitMessageTime: 2,
			QueueVisibilityTime:  30,
			InternalQueueSize:    1000,
		},
		HTTPServer: HTTPServerConfig{Port: 8080, Auth: HTTPAuthConfig{JWTExpiryHours: 8}},
	}
}

// applyEnvOverrides wires the DSN environment variables into the config.
// DATABASE_APPLICATION is the engine's own store; every other DATABASE_<NAME>
// variable becomes a pool exposed to monitor callbacks under <name>
// lowercased.
func applyEnvOverrides(cfg *Config) {
	if cfg.DatabasesPoolsConfigs == nil {
		cfg.DatabasesPoolsConfigs = map[string]PoolConfig{}
	}

	for _, entry := range os.Environ() {
		name, value, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(name, "DATABASE_") {
			continue
		}

		poolName := strings.ToLower(strings.TrimPrefix(name, "DATABASE_"))
		if poolName == "application" {
			cfg.ApplicationDatabaseSettings.DSN = value
			// The application database is also exposed as a pool so
			// the internal monitors can watch the engine itself.
		}

		pool := cfg.DatabasesPoolsConfigs[poolName]
		pool.DSN = value
		cfg.DatabasesPoolsConfigs[poolName] = pool
	}

	if v := os.Getenv("SENTINELA_HTTP_JWT_SECRET"); v != "" {
		cfg.HTTPServer.Auth.JWTSecret = v
	}
	if v := os.Getenv("SENTINELA_HTTP_ADMIN_PASSWORD"); v != "" {
		cfg.HTTPServer.Auth.AdminPassword = v
	}
}

// Validate ensures the required configuration values are set.
func (c *Config) Validate() error {
	if c.ApplicationDatabaseSettings.DSN == "" {
		return fmt.Errorf("DATABASE_APPLICATION is required")
	}
	if c.ApplicationDatabaseSettings.PoolSize <= 0 {
		return fmt.Errorf("application_database_settings.pool_size must be positive")
	}

	switch c.ApplicationQueue.Type {
	case "internal":
	case "sqs":
		if c.ApplicationQueue.Name == "" && c.ApplicationQueue.URL == "" {
			return fmt.Errorf("application_queue requires a name or url for type sqs")
		}
	default:
		return fmt.Errorf("invalid application_queue.type %q", c.ApplicationQueue.Type)
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
	}

	if c.ControllerConcurrency <= 0 {
		return fmt.Errorf("controller_concurrency must be positive")
	}
	if c.ExecutorConcurrency <= 0 {
		return fmt.Errorf("executor_concurrency must be positive")
	}
	if c.ExecutorMonitorHeartbeatTime <= 0 {
		return fmt.Errorf("executor_monitor_heartbeat_time must be positive")
	}

	if !c.Logging.IsLogLevelValid() {
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}

	return nil
}

// Location returns the configured time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func (c *Config) GetExecutorSleep() time.Duration           { return seconds(c.ExecutorSleep) }
func (c *Config) GetExecutorMonitorTimeout() time.Duration  { return seconds(c.ExecutorMonitorTimeout) }
func (c *Config) GetExecutorReactionTimeout() time.Duration { return seconds(c.ExecutorReactionTimeout) }
func (c *Config) GetExecutorRequestTimeout() time.Duration  { return seconds(c.ExecutorRequestTimeout) }

func (c *Config) GetExecutorMonitorHeartbeatTime() time.Duration {
	return seconds(c.ExecutorMonitorHeartbeatTime)
}

func (c *Config) GetDatabaseAcquireTimeout() time.Duration {
	return seconds(c.DatabaseDefaultAcquireTimeout)
}

func (c *Config) GetDatabaseQueryTimeout() time.Duration {
	return seconds(c.DatabaseDefaultQueryTimeout)
}

func (c *Config) GetDatabaseCloseTimeout() time.Duration { return seconds(c.DatabaseCloseTimeout) }

// GetQueueWaitMessageTime returns how long a receive waits for a message.
func (q QueueConfig) GetQueueWaitMessageTime() time.Duration {
	return seconds(q.QueueWaitMessageTime)
}

// GetQueueVisibilityTime returns the visibility lease for received messages.
func (q QueueConfig) GetQueueVisibilityTime() time.Duration {
	return seconds(q.QueueVisibilityTime)
}

// GetJWTExpiry returns the JWT expiry as a duration.
func (a HTTPAuthConfig) GetJWTExpiry() time.Duration {
	return time.Duration(a.JWTExpiryHours) * time.Hour
}

// IsLogLevelValid checks if the log level is valid.
func (l *LoggingConfig) IsLogLevelValid() bool {
	if l.Level == "" {
		return true
	}
	validLevels := []string{"debug", "info", "warn", "error"}
	return slices.Contains(validLevels, strings.ToLower(l.Level))
}
