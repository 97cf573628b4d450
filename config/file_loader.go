package config

import (
	"path"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/marketbay/client-go/core/tag"
	"github.com/marketbay/client-go/core/validator"
	"github.com/marketbay/client-go/errors"
)

// FileLoader loads configuration from a file with environment overrides.
type FileLoader struct {
	viper    *viper.Viper
	validate validator.Validator
	name     string
	paths    []string
}

// NewFileLoader creates a loader for the named file searched in paths. The
// config type is inferred from the file extension; environment variables
// override file values (dots replaced by underscores).
func NewFileLoader(name string, paths []string, v *viper.Viper, validate validator.Validator) *FileLoader {
	configType := strings.TrimPrefix(path.Ext(name), ".")

	for _, configPath := range paths {
		v.AddConfigPath(configPath)
	}

	v.SetConfigName(name)
	v.SetConfigType(configType)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &FileLoader{
		viper:    v,
		paths:    paths,
		name:     name,
		validate: validate,
	}
}

// Load implements Loader. Struct-tag defaults are applied before
// unmarshalling so fields absent from the file keep their defaults.
func (l *FileLoader) Load(target any) error {
	if err := tag.ApplyDefaults(target); err != nil {
		return errors.Internal("failed to apply defaults: %v", err)
	}

	if err := l.viper.ReadInConfig(); err != nil {
		return errors.NotFound("config file not found: %v", err)
	}

	// Config structs carry json tags; decode by those instead of
	// mapstructure's field-name matching.
	if err := l.viper.Unmarshal(target, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	}); err != nil {
		return errors.Internal("config parse error: %v", err)
	}

	if l.validate != nil {
		if err := l.validate.Struct(target); err != nil {
			return errors.BadRequest("config validation failed: %v", err)
		}
	}

	return nil
}

// Watch implements Loader using viper's fsnotify-backed watcher.
func (l *FileLoader) Watch(callback func()) error {
	l.viper.OnConfigChange(func(e fsnotify.Event) {
		if callback != nil {
			callback()
		}
	})

	l.viper.WatchConfig()
	return nil
}
