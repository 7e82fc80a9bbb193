package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type options struct {
	envPrefix string
}

type Option func(*options)

// WithEnvPrefix only lets environment variables starting with prefix override the file.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// Load config from file into the config struct, config must be a pointer to the config struct.
// Values already set in config act as defaults, the file overrides them and the environment
// overrides the file (key "room.roundtimer" is read from ROOM_ROUNDTIMER).
func Load(file string, config any, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	m := make(map[string]any)

	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetConfigFile(file)
	if o.envPrefix != "" {
		v.SetEnvPrefix(o.envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config from file %s: %v", file, err)
	}

	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(config, hooks); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
