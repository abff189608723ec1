package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithViper(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, "sbatch", cfg.Cluster.SubmitCommand)
	assert.Equal(t, "scancel", cfg.Cluster.CancelCommand)
	assert.Equal(t, 22, cfg.Cluster.Port)
	assert.Equal(t, "mpirun", cfg.Launcher.Command)
	assert.False(t, cfg.Cluster.Enabled())
	assert.False(t, cfg.Container.Enabled())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beamline.toml")
	content := `
[database]
path = "/var/lib/beamline/beamline.db"

[cluster]
host = "hpc.example.org"
user = "pipeline"
partition = "gpu"

[container]
runtime = "apptainer"
image = "/opt/images/relion.sif"
binds = ["/scratch:/scratch", "/data:/data"]

[storage]
active_root = "/data/projects"
archive_root = "/archive/projects"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.Cluster.Enabled())
	assert.Equal(t, "hpc.example.org", cfg.Cluster.Host)
	assert.Equal(t, "gpu", cfg.Cluster.Partition)
	assert.True(t, cfg.Container.Enabled())
	assert.Len(t, cfg.Container.Binds, 2)
	assert.Equal(t, "/archive/projects", cfg.Storage.ArchiveRoot)
}

func TestValidateRejectsClusterWithoutUser(t *testing.T) {
	v := newTestViper()
	v.Set("cluster.host", "hpc.example.org")

	_, err := LoadWithViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster.user")
}

func TestValidateRejectsRelativeStorageRoot(t *testing.T) {
	v := newTestViper()
	v.Set("storage.active_root", "projects")

	_, err := LoadWithViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active_root")
}

func TestValidateRejectsRuntimeWithoutImage(t *testing.T) {
	v := newTestViper()
	v.Set("container.runtime", "apptainer")

	_, err := LoadWithViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container.image")
}

func TestDurationHelpers(t *testing.T) {
	var c ClusterConfig
	assert.Equal(t, "30s", c.ConnectTimeout().String())
	assert.Equal(t, "1m0s", c.MaxReconnectDelay().String())

	var s StorageConfig
	assert.Equal(t, "30m0s", s.MoveTimeout().String())

	var p ProgressConfig
	assert.Equal(t, "5s", p.CacheTTL().String())
}
