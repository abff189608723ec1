package config

import "github.com/spf13/viper"

// SetDefaults registers default values for all configuration keys
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "beamline.db")

	v.SetDefault("cluster.port", 22)
	v.SetDefault("cluster.submit_command", "sbatch")
	v.SetDefault("cluster.cancel_command", "scancel")
	v.SetDefault("cluster.connect_timeout_seconds", 30)
	v.SetDefault("cluster.max_reconnect_delay_seconds", 60)

	v.SetDefault("container.gpu_flag", "--nv")

	v.SetDefault("launcher.command", "mpirun")
	v.SetDefault("launcher.nproc_flag", "-n")

	v.SetDefault("storage.move_timeout_minutes", 30)

	v.SetDefault("progress.cache_ttl_seconds", 5)

	v.SetDefault("logging.json", false)
}
