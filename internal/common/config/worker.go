package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig holds every configuration section the worker process reads
// at startup.
type WorkerConfig struct {
	WorkerID   string            `mapstructure:"workerId"`
	Server     ServerConfig      `mapstructure:"server"`
	Execution  WorkerExecConfig  `mapstructure:"execution"`
	ProcessPool ProcessPoolConfig `mapstructure:"processPool"`
	Container  ContainerConfig   `mapstructure:"container"`
	DriverURL  string            `mapstructure:"driverUrl"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// WorkerExecConfig controls the worker's own concurrency bound and default
// execution mode.
type WorkerExecConfig struct {
	MaxConcurrentTasks  int    `mapstructure:"maxConcurrentTasks"`
	RequestTimeoutMS    int    `mapstructure:"requestTimeout"`
	DefaultMode         string `mapstructure:"executionMode"` // process_pool | container_agentic
}

// RequestTimeout returns the per-request timeout as a time.Duration.
func (e WorkerExecConfig) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutMS) * time.Millisecond
}

// ProcessPoolConfig configures the process-pool executor variant.
type ProcessPoolConfig struct {
	MaxProcesses    int    `mapstructure:"maxProcesses"`
	ProcessTimeoutMS int   `mapstructure:"processTimeout"`
	AgentCommandPath string `mapstructure:"agentCommandPath"`
	ReuseProcesses   bool   `mapstructure:"reuseProcesses"`
}

// ProcessTimeout returns the per-task process timeout as a time.Duration.
func (p ProcessPoolConfig) ProcessTimeout() time.Duration {
	return time.Duration(p.ProcessTimeoutMS) * time.Millisecond
}

// ContainerConfig configures the container executor variant.
type ContainerConfig struct {
	DockerHost     string            `mapstructure:"dockerHost"`
	APIVersion     string            `mapstructure:"apiVersion"`
	TLSVerify      bool              `mapstructure:"tlsVerify"`
	Image          string            `mapstructure:"image"`
	DefaultNetwork string            `mapstructure:"defaultNetwork"`
	VolumeBasePath string            `mapstructure:"volumeBasePath"`
	AutoRemove     bool              `mapstructure:"autoRemove"`
	ResourceLimits ContainerResourceLimits `mapstructure:"resourceLimits"`
	EnvironmentVariables map[string]string `mapstructure:"environmentVariables"`
}

// DockerConfig returns the subset of container settings the docker.Client
// constructor needs to negotiate with the daemon.
func (c ContainerConfig) DockerConfig() DockerConfig {
	return DockerConfig{Host: c.DockerHost, APIVersion: c.APIVersion}
}

// DockerConfig holds Docker client connection settings.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
}

// ContainerResourceLimits are the defaults applied to every container the
// worker creates, overridable per task/session.
type ContainerResourceLimits struct {
	MemoryMB       int `mapstructure:"memory"`
	CPUCores       float64 `mapstructure:"cpu"`
	TimeoutSeconds int `mapstructure:"timeout"`
}

func detectDefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

func defaultDockerVolumePath() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
		return filepath.Join(localAppData, "claudecluster", "volumes")
	}
	return "/var/lib/claudecluster/volumes"
}

func setWorkerDefaults(v *viper.Viper) {
	v.SetDefault("workerId", "worker-1")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("execution.maxConcurrentTasks", 10)
	v.SetDefault("execution.requestTimeout", 10*1000)
	v.SetDefault("execution.executionMode", string("process_pool"))

	v.SetDefault("processPool.maxProcesses", 4)
	v.SetDefault("processPool.processTimeout", 10*60*1000)
	v.SetDefault("processPool.agentCommandPath", "claude-agent")
	v.SetDefault("processPool.reuseProcesses", true)

	v.SetDefault("container.dockerHost", detectDefaultDockerHost())
	v.SetDefault("container.apiVersion", "1.41")
	v.SetDefault("container.tlsVerify", false)
	v.SetDefault("container.image", "claudecluster/agent-runtime:latest")
	v.SetDefault("container.defaultNetwork", "claudecluster-network")
	v.SetDefault("container.volumeBasePath", defaultDockerVolumePath())
	v.SetDefault("container.autoRemove", true)
	v.SetDefault("container.resourceLimits.memory", 4096)
	v.SetDefault("container.resourceLimits.cpu", 2.0)
	v.SetDefault("container.resourceLimits.timeout", 3600)
	v.SetDefault("container.environmentVariables", map[string]string{})

	v.SetDefault("driverUrl", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// LoadWorkerConfig reads worker configuration from environment variables
// (prefix CLAUDECLUSTER_), an optional worker.yaml, and defaults.
func LoadWorkerConfig() (*WorkerConfig, error) {
	return LoadWorkerConfigWithPath("")
}

// LoadWorkerConfigWithPath is LoadWorkerConfig with an explicit config file
// search directory.
func LoadWorkerConfigWithPath(configPath string) (*WorkerConfig, error) {
	v := viper.New()
	setWorkerDefaults(v)

	v.SetEnvPrefix("CLAUDECLUSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("worker")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/claudecluster/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading worker config file: %w", err)
		}
	}

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling worker config: %w", err)
	}

	if err := validateWorkerConfig(&cfg); err != nil {
		return nil, fmt.Errorf("worker config validation failed: %w", err)
	}

	return &cfg, nil
}

func validateWorkerConfig(cfg *WorkerConfig) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Execution.MaxConcurrentTasks <= 0 {
		errs = append(errs, "execution.maxConcurrentTasks must be positive")
	}
	validModes := map[string]bool{"process_pool": true, "container_agentic": true}
	if !validModes[cfg.Execution.DefaultMode] {
		errs = append(errs, "execution.executionMode must be one of: process_pool, container_agentic")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
