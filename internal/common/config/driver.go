// Package config provides viper-backed configuration loading for the
// driver and worker binaries: environment variables, an optional
// driver.yaml or worker.yaml, and defaults layered in that precedence order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DriverConfig holds every configuration section the driver process reads
// at startup.
type DriverConfig struct {
	DriverID  string          `mapstructure:"driverId"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration shared by driver and worker.
type ServerConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	CorsOrigin          string `mapstructure:"corsOrigin"`
	ReadTimeout         int    `mapstructure:"readTimeout"`         // seconds
	WriteTimeout        int    `mapstructure:"writeTimeout"`        // seconds
	TaskSubmitRateLimit int    `mapstructure:"taskSubmitRateLimit"` // requests/sec allowed on POST /tasks
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// SchedulerConfig controls worker selection, priority, and retry policy.
type SchedulerConfig struct {
	LoadBalancingStrategy string             `mapstructure:"loadBalancingStrategy"` // round-robin | least-loaded | capability-based | affinity-based
	PriorityWeights       map[string]int     `mapstructure:"priorityWeights"`
	CategoryAffinities    map[string]float64 `mapstructure:"categoryAffinities"`
	RetryAttempts         int                `mapstructure:"retryAttempts"`
	RetryDelaySeconds     int                `mapstructure:"retryDelay"`
}

// RetryDelayDuration returns the retry cooldown as a time.Duration.
func (s SchedulerConfig) RetryDelayDuration() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// ExecutionConfig controls global dispatch behavior on the driver.
type ExecutionConfig struct {
	MaxConcurrentTasks          int  `mapstructure:"maxConcurrentTasks"`
	TaskTimeoutMS                int  `mapstructure:"taskTimeout"`
	WorkerHealthCheckIntervalMS   int  `mapstructure:"workerHealthCheckInterval"`
	ResultAggregationTimeoutMS   int  `mapstructure:"resultAggregationTimeout"`
	EnableTaskDecomposition      bool `mapstructure:"enableTaskDecomposition"`
	EnableResultMerging          bool `mapstructure:"enableResultMerging"`
	RetryFailedTasks             bool `mapstructure:"retryFailedTasks"`
}

// TaskTimeout returns the per-task timeout as a time.Duration.
func (e ExecutionConfig) TaskTimeout() time.Duration {
	return time.Duration(e.TaskTimeoutMS) * time.Millisecond
}

// WorkerHealthCheckInterval returns the health-check cadence as a time.Duration.
func (e ExecutionConfig) WorkerHealthCheckInterval() time.Duration {
	return time.Duration(e.WorkerHealthCheckIntervalMS) * time.Millisecond
}

// ResultAggregationTimeout returns the decomposition merge timeout as a time.Duration.
func (e ExecutionConfig) ResultAggregationTimeout() time.Duration {
	return time.Duration(e.ResultAggregationTimeoutMS) * time.Millisecond
}

// CheckpointConfig selects the optional durable checkpoint backend for
// driver state (tasks, results, sessions). The driver's primary state is
// always in-memory; checkpointing is a best-effort mirror for restart
// recovery, never a synchronous dependency of the scheduling loop.
type CheckpointConfig struct {
	Driver   string `mapstructure:"driver"` // memory | sqlite | postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// DSN returns the PostgreSQL connection string for pgx.
func (c CheckpointConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// NATSConfig holds event bus transport configuration. An empty URL means
// events stay in-process via the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig namespaces queue-group subscribers across deployments.
type EventsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CLAUDECLUSTER_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDriverDefaults(v *viper.Viper) {
	v.SetDefault("driverId", "driver-1")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.corsOrigin", "*")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.taskSubmitRateLimit", 50)

	v.SetDefault("scheduler.loadBalancingStrategy", "capability-based")
	v.SetDefault("scheduler.priorityWeights", map[string]int{
		"critical": 100, "high": 75, "normal": 50, "low": 25, "background": 10,
	})
	v.SetDefault("scheduler.categoryAffinities", map[string]float64{})
	v.SetDefault("scheduler.retryAttempts", 3)
	v.SetDefault("scheduler.retryDelay", 5)

	v.SetDefault("execution.maxConcurrentTasks", 50)
	v.SetDefault("execution.taskTimeout", 30*60*1000)
	v.SetDefault("execution.workerHealthCheckInterval", 30*1000)
	v.SetDefault("execution.resultAggregationTimeout", 60*1000)
	v.SetDefault("execution.enableTaskDecomposition", true)
	v.SetDefault("execution.enableResultMerging", true)
	v.SetDefault("execution.retryFailedTasks", true)

	v.SetDefault("checkpoint.driver", "memory")
	v.SetDefault("checkpoint.path", "./claudecluster-driver.db")
	v.SetDefault("checkpoint.host", "localhost")
	v.SetDefault("checkpoint.port", 5432)
	v.SetDefault("checkpoint.user", "claudecluster")
	v.SetDefault("checkpoint.dbName", "claudecluster")
	v.SetDefault("checkpoint.sslMode", "disable")
	v.SetDefault("checkpoint.maxConns", 10)
	v.SetDefault("checkpoint.minConns", 2)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "claudecluster")
	v.SetDefault("nats.clientId", "driver")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// LoadDriverConfig reads driver configuration from environment variables
// (prefix CLAUDECLUSTER_), an optional driver.yaml, and defaults.
func LoadDriverConfig() (*DriverConfig, error) {
	return LoadDriverConfigWithPath("")
}

// LoadDriverConfigWithPath is LoadDriverConfig with an explicit config file
// search directory, used by tests to avoid picking up a developer's
// ambient driver.yaml.
func LoadDriverConfigWithPath(configPath string) (*DriverConfig, error) {
	v := viper.New()
	setDriverDefaults(v)

	v.SetEnvPrefix("CLAUDECLUSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("driver")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/claudecluster/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading driver config file: %w", err)
		}
	}

	var cfg DriverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling driver config: %w", err)
	}

	if err := validateDriverConfig(&cfg); err != nil {
		return nil, fmt.Errorf("driver config validation failed: %w", err)
	}

	return &cfg, nil
}

func validateDriverConfig(cfg *DriverConfig) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validStrategies := map[string]bool{
		"round-robin": true, "least-loaded": true, "capability-based": true, "affinity-based": true,
	}
	if !validStrategies[cfg.Scheduler.LoadBalancingStrategy] {
		errs = append(errs, "scheduler.loadBalancingStrategy must be one of: round-robin, least-loaded, capability-based, affinity-based")
	}
	if cfg.Scheduler.RetryAttempts < 0 {
		errs = append(errs, "scheduler.retryAttempts must be non-negative")
	}

	validCheckpointDrivers := map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	if !validCheckpointDrivers[cfg.Checkpoint.Driver] {
		errs = append(errs, "checkpoint.driver must be one of: memory, sqlite, postgres")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
