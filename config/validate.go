package config

import (
	"path/filepath"

	"github.com/scopetools/beamline/errors"
)

// Validate checks configuration consistency.
// Misconfiguration is rejected here, before any session or process is touched.
func Validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return errors.NewConfigurationError("database.path must be set")
	}

	if cfg.Cluster.Enabled() {
		if cfg.Cluster.User == "" {
			return errors.NewConfigurationError("cluster.user must be set when cluster.host is configured")
		}
		if cfg.Cluster.Port <= 0 || cfg.Cluster.Port > 65535 {
			return errors.NewConfigurationError("cluster.port %d out of range", cfg.Cluster.Port)
		}
	}

	if cfg.Storage.ActiveRoot != "" && !filepath.IsAbs(cfg.Storage.ActiveRoot) {
		return errors.NewConfigurationError("storage.active_root must be absolute, got %q", cfg.Storage.ActiveRoot)
	}
	if cfg.Storage.ArchiveRoot != "" && !filepath.IsAbs(cfg.Storage.ArchiveRoot) {
		return errors.NewConfigurationError("storage.archive_root must be absolute, got %q", cfg.Storage.ArchiveRoot)
	}

	if cfg.Container.Runtime != "" && cfg.Container.Image == "" {
		return errors.NewConfigurationError("container.image must be set when container.runtime is configured")
	}

	return nil
}
