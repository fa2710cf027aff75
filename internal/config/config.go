// Package config loads streamhls's runtime configuration from defaults,
// an optional YAML file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete, validated runtime configuration. A single value
// is loaded once in main and passed down by constructor injection; nothing
// in the core reads configuration through a package-level getter.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Streaming StreamingConfig `yaml:"streaming"`
	Tools     ToolsConfig     `yaml:"tools"`
	Media     MediaConfig     `yaml:"media"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string        `yaml:"host" env:"STREAMHLS_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" env:"STREAMHLS_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"STREAMHLS_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"STREAMHLS_WRITE_TIMEOUT" default:"30s"`
}

// StreamingConfig controls the JIT transcoding and segment caching core.
type StreamingConfig struct {
	CacheRoot              string `yaml:"cache_root" env:"STREAMHLS_CACHE_ROOT" default:"./data/cache"`
	TargetSegmentSeconds   float64 `yaml:"target_segment_seconds" env:"STREAMHLS_SEGMENT_SECONDS" default:"6"`
	SegmentFilenameDigits  int    `yaml:"segment_filename_digits" env:"STREAMHLS_SEGMENT_DIGITS" default:"3"`
	MaxConcurrentEncodes   int    `yaml:"max_concurrent_encodes" env:"STREAMHLS_MAX_ENCODES" default:"0"`
}

// ToolsConfig locates the external probe/encoder binaries.
type ToolsConfig struct {
	ProbeBinaryPath   string `yaml:"probe_binary_path" env:"STREAMHLS_PROBE_BIN" default:"ffprobe"`
	EncoderBinaryPath string `yaml:"encoder_binary_path" env:"STREAMHLS_ENCODER_BIN" default:"ffmpeg"`
}

// MediaConfig locates the media metadata store.
type MediaConfig struct {
	DatabasePath string `yaml:"database_path" env:"STREAMHLS_DB_PATH" default:"./data/streamhls.db"`
}

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"STREAMHLS_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"STREAMHLS_LOG_FORMAT" default:"auto"`
}

// Default returns the built-in configuration before any file or
// environment overlay is applied.
func Default() *Config {
	cfg := &Config{}
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), true); err != nil {
		panic(fmt.Errorf("config: invalid defaults: %w", err))
	}
	return cfg
}

// Load builds the configuration: defaults, then an optional YAML file at
// path (skipped if path is empty or the file does not exist), then
// environment variable overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), false); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	applyDerived(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// loadStructFromEnv walks v by reflection, applying env var overrides (or,
// when defaultsOnly is true, only the struct tag defaults) to every field
// carrying an `env` tag.
func loadStructFromEnv(v reflect.Value, defaultsOnly bool) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, defaultsOnly); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		defaultTag := fieldType.Tag.Get("default")
		value := defaultTag
		if !defaultsOnly {
			if envValue := os.Getenv(envTag); envValue != "" {
				value = envValue
			} else if field.Kind() != reflect.Struct && !isZero(field) {
				// A file already set this field; don't clobber it with a
				// struct-tag default when no environment variable is present.
				continue
			}
		}

		if value == "" {
			continue
		}

		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func isZero(field reflect.Value) bool {
	return field.IsZero()
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind: %v", field.Kind())
	}
	return nil
}

func applyDerived(cfg *Config) {
	if cfg.Streaming.MaxConcurrentEncodes <= 0 {
		cfg.Streaming.MaxConcurrentEncodes = DetectCPUCount()
	}
}

// DetectCPUCount reports the default max_concurrent_encodes when the
// config leaves it unset. It defaults to runtime.NumCPU; cmd/streamhls
// overrides it with a gopsutil-backed logical core count (internal/sysinfo)
// before calling Load, so this package itself does not depend on gopsutil.
var DetectCPUCount = func() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Streaming.CacheRoot == "" {
		return fmt.Errorf("streaming.cache_root must not be empty")
	}
	if cfg.Streaming.TargetSegmentSeconds <= 0 {
		return fmt.Errorf("streaming.target_segment_seconds must be positive, got %v", cfg.Streaming.TargetSegmentSeconds)
	}
	if cfg.Streaming.SegmentFilenameDigits < 3 {
		return fmt.Errorf("streaming.segment_filename_digits must be >= 3, got %d", cfg.Streaming.SegmentFilenameDigits)
	}
	if cfg.Streaming.MaxConcurrentEncodes <= 0 {
		return fmt.Errorf("streaming.max_concurrent_encodes must be positive, got %d", cfg.Streaming.MaxConcurrentEncodes)
	}
	if cfg.Tools.ProbeBinaryPath == "" {
		return fmt.Errorf("tools.probe_binary_path must not be empty")
	}
	if cfg.Tools.EncoderBinaryPath == "" {
		return fmt.Errorf("tools.encoder_binary_path must not be empty")
	}
	return nil
}
