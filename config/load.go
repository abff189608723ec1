package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/scopetools/beamline/errors"
)

// Load reads the beamline configuration using Viper.
// Precedence: defaults < config file < BEAMLINE_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("BEAMLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	v.SetConfigName("beamline")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.beamline")
	v.AddConfigPath("/etc/beamline")

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine - defaults plus env vars still apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	return LoadWithViper(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
