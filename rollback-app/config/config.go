package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Backend strategy names accepted in configuration.
const (
	StrategySequential = "sequential"
	StrategyAtomic     = "atomic"
)

// Backend modes accepted in configuration.
const (
	ModeMemory = "memory"
	ModeEth    = "eth"
)

// Config holds the complete application configuration
type Config struct {
	API     APIServerConfig `mapstructure:"api"     yaml:"api"`
	Metrics MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig       `mapstructure:"log"     yaml:"log"`
	Roles   RolesConfig     `mapstructure:"roles"   yaml:"roles"`
	Policy  PolicyConfig    `mapstructure:"policy"  yaml:"policy"`
	Backend BackendConfig   `mapstructure:"backend" yaml:"backend"`
}

// APIServerConfig holds HTTP API server configuration
type APIServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr"         yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"       yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"        yaml:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"    yaml:"max_header_bytes"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `mapstructure:"path"    yaml:"path"    env:"METRICS_PATH"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// RolesConfig holds the initial admin and guardian identities
type RolesConfig struct {
	Admin    string `mapstructure:"admin"    yaml:"admin"    env:"ROLES_ADMIN"`
	Guardian string `mapstructure:"guardian" yaml:"guardian" env:"ROLES_GUARDIAN"`
}

// PolicyConfig holds queueing window parameters
type PolicyConfig struct {
	QueueableDuration    time.Duration `mapstructure:"queueable_duration"     yaml:"queueable_duration"     env:"POLICY_QUEUEABLE_DURATION"`
	MinQueueableDuration time.Duration `mapstructure:"min_queueable_duration" yaml:"min_queueable_duration" env:"POLICY_MIN_QUEUEABLE_DURATION"`
}

// BackendConfig selects and parameterizes the execution backend
type BackendConfig struct {
	Strategy string              `mapstructure:"strategy" yaml:"strategy" env:"BACKEND_STRATEGY"`
	Mode     string              `mapstructure:"mode"     yaml:"mode"     env:"BACKEND_MODE"`
	Memory   MemoryBackendConfig `mapstructure:"memory"   yaml:"memory"`
	Eth      EthBackendConfig    `mapstructure:"eth"      yaml:"eth"`
}

// MemoryBackendConfig parameterizes the in-process backend
type MemoryBackendConfig struct {
	Delay time.Duration `mapstructure:"delay" yaml:"delay" env:"BACKEND_MEMORY_DELAY"`
}

// EthBackendConfig parameterizes the contract-backed backend
type EthBackendConfig struct {
	RPCEndpoint      string `mapstructure:"rpc_endpoint"      yaml:"rpc_endpoint"      env:"BACKEND_ETH_RPC_ENDPOINT"`
	PrivateKey       string `mapstructure:"private_key"       yaml:"private_key"       env:"BACKEND_ETH_PRIVATE_KEY"`
	ExecutorContract string `mapstructure:"executor_contract" yaml:"executor_contract" env:"BACKEND_ETH_EXECUTOR_CONTRACT"`
	TimelockContract string `mapstructure:"timelock_contract" yaml:"timelock_contract" env:"BACKEND_ETH_TIMELOCK_CONTRACT"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Fallback env aliases so secrets never have to live in the file
	if strings.TrimSpace(cfg.Backend.Eth.PrivateKey) == "" {
		if v := strings.TrimSpace(os.Getenv("BACKEND_ETH_PRIVATE_KEY")); v != "" {
			cfg.Backend.Eth.PrivateKey = v
		}
	}
	if strings.TrimSpace(cfg.Backend.Eth.RPCEndpoint) == "" {
		if v := strings.TrimSpace(os.Getenv("BACKEND_ETH_RPC_ENDPOINT")); v != "" {
			cfg.Backend.Eth.RPCEndpoint = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.listen_addr", ":8081")
	v.SetDefault("api.read_header_timeout", "5s")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")
	v.SetDefault("api.max_header_bytes", 1048576)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("roles.admin", "")
	v.SetDefault("roles.guardian", "")

	v.SetDefault("policy.queueable_duration", "336h")     // 14 days
	v.SetDefault("policy.min_queueable_duration", "24h")

	v.SetDefault("backend.strategy", StrategySequential)
	v.SetDefault("backend.mode", ModeMemory)
	v.SetDefault("backend.memory.delay", "48h")
	v.SetDefault("backend.eth.rpc_endpoint", "")
	v.SetDefault("backend.eth.private_key", "")
	v.SetDefault("backend.eth.executor_contract", "")
	v.SetDefault("backend.eth.timelock_contract", "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateRoles(); err != nil {
		return err
	}
	if err := c.validatePolicy(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRoles() error {
	if !common.IsHexAddress(c.Roles.Admin) {
		return fmt.Errorf("roles.admin must be a hex address, got %q", c.Roles.Admin)
	}
	if !common.IsHexAddress(c.Roles.Guardian) {
		return fmt.Errorf("roles.guardian must be a hex address, got %q", c.Roles.Guardian)
	}
	if common.HexToAddress(c.Roles.Admin) == (common.Address{}) {
		return fmt.Errorf("roles.admin must not be the zero address")
	}
	if common.HexToAddress(c.Roles.Guardian) == (common.Address{}) {
		return fmt.Errorf("roles.guardian must not be the zero address")
	}
	return nil
}

func (c *Config) validatePolicy() error {
	if c.Policy.MinQueueableDuration <= 0 {
		return fmt.Errorf("policy.min_queueable_duration must be positive")
	}
	if c.Policy.QueueableDuration < c.Policy.MinQueueableDuration {
		return fmt.Errorf("policy.queueable_duration %s is below the floor %s",
			c.Policy.QueueableDuration, c.Policy.MinQueueableDuration)
	}
	return nil
}

func (c *Config) validateBackend() error {
	switch c.Backend.Strategy {
	case StrategySequential, StrategyAtomic:
	default:
		return fmt.Errorf("backend.strategy must be %q or %q, got %q",
			StrategySequential, StrategyAtomic, c.Backend.Strategy)
	}

	switch c.Backend.Mode {
	case ModeMemory:
		if c.Backend.Memory.Delay <= 0 {
			return fmt.Errorf("backend.memory.delay must be positive")
		}
	case ModeEth:
		if strings.TrimSpace(c.Backend.Eth.RPCEndpoint) == "" {
			return fmt.Errorf("backend.eth.rpc_endpoint is required in eth mode")
		}
		if strings.TrimSpace(c.Backend.Eth.PrivateKey) == "" {
			return fmt.Errorf("backend.eth.private_key is required in eth mode")
		}
		switch c.Backend.Strategy {
		case StrategySequential:
			if !common.IsHexAddress(c.Backend.Eth.ExecutorContract) {
				return fmt.Errorf("backend.eth.executor_contract must be a hex address in sequential mode")
			}
		case StrategyAtomic:
			if !common.IsHexAddress(c.Backend.Eth.TimelockContract) {
				return fmt.Errorf("backend.eth.timelock_contract must be a hex address in atomic mode")
			}
		}
	default:
		return fmt.Errorf("backend.mode must be %q or %q, got %q", ModeMemory, ModeEth, c.Backend.Mode)
	}

	return nil
}

// Dump renders the effective configuration as YAML. The signing key is
// masked.
func (c *Config) Dump() (string, error) {
	masked := *c
	if masked.Backend.Eth.PrivateKey != "" {
		masked.Backend.Eth.PrivateKey = "***"
	}
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(out), nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		API: APIServerConfig{
			ListenAddr:        ":8081",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
		Policy: PolicyConfig{
			QueueableDuration:    14 * 24 * time.Hour,
			MinQueueableDuration: 24 * time.Hour,
		},
		Backend: BackendConfig{
			Strategy: StrategySequential,
			Mode:     ModeMemory,
			Memory:   MemoryBackendConfig{Delay: 48 * time.Hour},
		},
	}
}
