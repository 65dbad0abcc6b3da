// Package config loads and validates this node's runtime configuration,
// following the teacher's viper-backed, mapstructure-tagged,
// defaults-then-override-then-validate shape.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/openendpoint/replicator/internal/repairqueue"
)

// Config is the top-level configuration tree for a replicator node.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Cluster     ClusterConfig     `mapstructure:"cluster"`
	RepairQueue RepairQueueConfig `mapstructure:"repair_queue"`
	Throttle    ThrottleConfig    `mapstructure:"throttle"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig binds the node's cluster-facing HTTP listener — the
// endpoint other nodes cast remote writes to (internal/transport).
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// StorageConfig configures the local object store (internal/storage).
type StorageConfig struct {
	DataDir       string `mapstructure:"data_dir"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// AuthConfig holds a shared cluster secret, a minimal stand-in for the
// teacher's access-key/secret-key pair now that there is no S3 client
// surface to authenticate. Validate requires it to be set and at least
// 8 characters long; the internal replicate cast and its callback do
// not send or check it.
type AuthConfig struct {
	SecretKey string `mapstructure:"secret_key"`
}

// ClusterConfig configures cluster membership, the redundancy map, and
// the per-request replication parameters.
type ClusterConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	NodeID            string   `mapstructure:"node_id"`
	BindAddr          string   `mapstructure:"bind_addr"`
	BindPort          int      `mapstructure:"bind_port"`
	JoinPeers         []string `mapstructure:"join_peers"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
	RequestTimeoutMS  int      `mapstructure:"request_timeout_ms"`
	CallbackBase      string   `mapstructure:"callback_base"`
}

// WriteQuorum derives the default write quorum from the configured
// replication factor: floor(N/2)+1, same formula as cluster.ReplicationFactor.
func (c ClusterConfig) WriteQuorum() int {
	return c.ReplicationFactor/2 + 1
}

// RepairQueueConfig configures the durable repair queue.
type RepairQueueConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// ThrottleConfig is the load-aware throttle / watchdog knob spec.md §1
// models as an external policy: it bounds the repair queue's background
// drain loop batch size and poll interval. This node does not itself
// sense host load; it only clamps to whatever bounds operations hands
// it, and an external watchdog is expected to narrow them under
// pressure.
type ThrottleConfig struct {
	MaxBatchSize  int `mapstructure:"max_batch_size"`
	MinIntervalMS int `mapstructure:"min_interval_ms"`
	MaxIntervalMS int `mapstructure:"max_interval_ms"`
}

// ToPolicy converts the configured bounds into the repair queue's
// ThrottlePolicy shape.
func (t ThrottleConfig) ToPolicy() repairqueue.ThrottlePolicy {
	return repairqueue.ThrottlePolicy{
		MaxBatchSize: t.MaxBatchSize,
		MinInterval:  time.Duration(t.MinIntervalMS) * time.Millisecond,
		MaxInterval:  time.Duration(t.MaxIntervalMS) * time.Millisecond,
	}
}

// MetricsConfig configures the prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig configures both the structured zap operational log and
// the rotating audit trail (internal/audit).
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	AuditPath     string `mapstructure:"audit_path"`
	AuditMaxBytes int64  `mapstructure:"audit_max_bytes"`
}

// DefaultConfig returns the configuration this node starts from before
// any file or environment override is applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  60,
		},
		Storage: StorageConfig{
			DataDir:       "/var/lib/openendpoint/data",
			MaxConcurrent: 25,
		},
		Auth: AuthConfig{
			SecretKey: "changeme-replicator-secret",
		},
		Cluster: ClusterConfig{
			Enabled:           false,
			BindAddr:          "0.0.0.0",
			BindPort:          7946,
			ReplicationFactor: 3,
			RequestTimeoutMS:  5000,
			CallbackBase:      "http://127.0.0.1:8080",
		},
		RepairQueue: RepairQueueConfig{
			DataDir: "/var/lib/openendpoint/repair",
		},
		Throttle: ThrottleConfig{
			MaxBatchSize:  100,
			MinIntervalMS: 500,
			MaxIntervalMS: 30000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:         "info",
			AuditPath:     "/var/log/openendpoint/audit.log",
			AuditMaxBytes: 100 * 1024 * 1024,
		},
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)

	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.max_concurrent", cfg.Storage.MaxConcurrent)

	v.SetDefault("auth.secret_key", cfg.Auth.SecretKey)

	v.SetDefault("cluster.enabled", cfg.Cluster.Enabled)
	v.SetDefault("cluster.bind_addr", cfg.Cluster.BindAddr)
	v.SetDefault("cluster.bind_port", cfg.Cluster.BindPort)
	v.SetDefault("cluster.replication_factor", cfg.Cluster.ReplicationFactor)
	v.SetDefault("cluster.request_timeout_ms", cfg.Cluster.RequestTimeoutMS)
	v.SetDefault("cluster.callback_base", cfg.Cluster.CallbackBase)

	v.SetDefault("repair_queue.data_dir", cfg.RepairQueue.DataDir)

	v.SetDefault("throttle.max_batch_size", cfg.Throttle.MaxBatchSize)
	v.SetDefault("throttle.min_interval_ms", cfg.Throttle.MinIntervalMS)
	v.SetDefault("throttle.max_interval_ms", cfg.Throttle.MaxIntervalMS)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.audit_path", cfg.Logging.AuditPath)
	v.SetDefault("logging.audit_max_bytes", cfg.Logging.AuditMaxBytes)
}

// LoadConfig reads configuration from file and environment into v,
// layered over DefaultConfig, and returns the validated result. Callers
// own v so tests can point it at an isolated search path.
func LoadConfig(v *viper.Viper) (*Config, error) {
	setDefaults(v, DefaultConfig())

	v.SetConfigName("replicator")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/openendpoint")
	v.AddConfigPath("$HOME/.config/openendpoint")

	v.SetEnvPrefix("REPLICATOR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the required fields and range constraints the
// teacher's config layer enforced, extended with this node's cluster
// and replication-factor bounds.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data directory is required")
	}
	if err := isWritable(c.Storage.DataDir); err != nil {
		return fmt.Errorf("storage data directory: %w", err)
	}

	if c.Auth.SecretKey == "" {
		return fmt.Errorf("auth secret key is required")
	}
	if len(c.Auth.SecretKey) < 8 {
		return fmt.Errorf("auth secret key must be at least 8 characters")
	}

	if c.Cluster.Enabled {
		if c.Cluster.NodeID == "" {
			return fmt.Errorf("cluster node ID is required")
		}
		if c.Cluster.ReplicationFactor < 1 || c.Cluster.ReplicationFactor > 7 {
			return fmt.Errorf("cluster replication factor must be between 1 and 7")
		}
	}

	return nil
}

// isWritable reports whether dir is, or can be made, a writable
// directory — creating it when it does not yet exist, matching the
// teacher's "data directory may be provisioned on first boot" behavior.
func isWritable(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	probe := filepath.Join(dir, ".write_test")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	f.Close()
	os.Remove(probe)
	return nil
}
