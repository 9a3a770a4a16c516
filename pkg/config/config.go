package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"boarcore.com/pkg/logger"
)

// LoadAndWatch reads config/{service}.yaml (or ./{service}.yaml) into out and
// keeps out in sync with the file. Environment variables prefixed with the
// upper-cased service name override keys, dots becoming underscores:
//
//	BOARCORE_QUEUE_LANES overrides queue.lanes
//
// onChange, when non-nil, runs after every successful reload.
func LoadAndWatch(service string, out interface{}, onChange func()) (*viper.Viper, error) {
	v, err := Load(service, out, "./config", ".")
	if err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		ctx := context.Background()
		logger.Info(ctx, "config file changed", zap.String("service", service), zap.String("file", e.Name))

		if err := v.Unmarshal(out); err != nil {
			logger.Error(ctx, "reload config", zap.String("service", service), zap.Error(err))
			return
		}
		if onChange != nil {
			onChange()
		}
	})

	return v, nil
}

// Load reads the config once from the first matching path without watching it.
func Load(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(strings.ToUpper(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	logger.Info(context.Background(), "config loaded",
		zap.String("service", service), zap.String("file", v.ConfigFileUsed()))
	return v, nil
}
