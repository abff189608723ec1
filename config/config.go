// Package config loads the beamline execution-core configuration via Viper.
package config

import "time"

// Config represents the core beamline configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Container ContainerConfig `mapstructure:"container"`
	Launcher  LauncherConfig  `mapstructure:"launcher"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig configures the SQLite record store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ClusterConfig configures the remote workload manager connection.
// When Host is empty, cluster execution is disabled and only LOCAL jobs run.
type ClusterConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	User                  string `mapstructure:"user"`
	KeyFile               string `mapstructure:"key_file"`
	SubmitCommand         string `mapstructure:"submit_command"` // checked against the allow-list at submit time
	CancelCommand         string `mapstructure:"cancel_command"`
	Partition             string `mapstructure:"partition"`
	ConnectTimeoutSecs    int    `mapstructure:"connect_timeout_seconds"`
	MaxReconnectDelaySecs int    `mapstructure:"max_reconnect_delay_seconds"`
}

// ConnectTimeout returns the bounded wait for a shared-session connect attempt.
func (c ClusterConfig) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

// MaxReconnectDelay returns the backoff ceiling for autonomous reconnects.
func (c ClusterConfig) MaxReconnectDelay() time.Duration {
	if c.MaxReconnectDelaySecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.MaxReconnectDelaySecs) * time.Second
}

// Enabled reports whether cluster execution is configured at all.
func (c ClusterConfig) Enabled() bool {
	return c.Host != ""
}

// ContainerConfig configures the containerized runtime jobs are wrapped in.
// When Runtime is empty, commands run unwrapped.
type ContainerConfig struct {
	Runtime string   `mapstructure:"runtime"` // e.g. "apptainer"
	Image   string   `mapstructure:"image"`   // e.g. "/opt/images/relion.sif"
	Binds   []string `mapstructure:"binds"`   // bind-mount specs passed with --bind
	GPUFlag string   `mapstructure:"gpu_flag"` // accelerator flag, added only when gpus > 0
}

// Enabled reports whether a containerized runtime is configured.
func (c ContainerConfig) Enabled() bool {
	return c.Runtime != "" && c.Image != ""
}

// LauncherConfig configures the parallel process launcher
type LauncherConfig struct {
	Command   string `mapstructure:"command"`    // e.g. "mpirun"
	NProcFlag string `mapstructure:"nproc_flag"` // e.g. "-n"
}

// StorageConfig configures project storage roots for the relocation engine
type StorageConfig struct {
	ActiveRoot      string `mapstructure:"active_root"`
	ArchiveRoot     string `mapstructure:"archive_root"`
	MoveTimeoutMins int    `mapstructure:"move_timeout_minutes"`
}

// MoveTimeout returns the extended ceiling for bulk filesystem moves.
func (s StorageConfig) MoveTimeout() time.Duration {
	if s.MoveTimeoutMins <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.MoveTimeoutMins) * time.Minute
}

// ProgressConfig configures the filesystem progress estimator
type ProgressConfig struct {
	CacheTTLSecs   int    `mapstructure:"cache_ttl_seconds"`
	DescriptorFile string `mapstructure:"descriptor_file"` // optional YAML override of the built-in table
}

// CacheTTL returns the progress cache entry lifetime.
func (p ProgressConfig) CacheTTL() time.Duration {
	if p.CacheTTLSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.CacheTTLSecs) * time.Second
}

// LoggingConfig configures log output
type LoggingConfig struct {
	JSON bool `mapstructure:"json"`
}
