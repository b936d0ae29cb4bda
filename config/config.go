package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr         = "127.0.0.1:8080"
	DefaultStorageDir   = "store"
	DefaultMaxBodyBytes = 10 << 20
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"

	DriverDisk = "disk"
	DriverGCS  = "gcs"

	envPrefix = "CDN_"
)

type Storage struct {
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Addr         string  `yaml:"addr"`
	MaxBodyBytes int64   `yaml:"max_body_bytes"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Storage      Storage `yaml:"storage"`
	Log          Log     `yaml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:         DefaultAddr,
		MaxBodyBytes: DefaultMaxBodyBytes,
		Storage: Storage{
			Driver: DriverDisk,
			Dir:    DefaultStorageDir,
		},
		Log: Log{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load builds the configuration from the defaults, the YAML file at path
// (skipped when path is empty) and CDN_* environment variables, in that
// order, and validates the result.
func Load(path string) (*Config, error) {
	c := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ADDR":           &c.Addr,
		"OTLP_ENDPOINT":  &c.OTLPEndpoint,
		"STORAGE_DRIVER": &c.Storage.Driver,
		"STORAGE_DIR":    &c.Storage.Dir,
		"GCS_BUCKET":     &c.Storage.Bucket,
		"GCS_PREFIX":     &c.Storage.Prefix,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(envPrefix + "MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_BODY_BYTES %q: %w", envPrefix, v, err)
		}
		c.MaxBodyBytes = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	}

	switch c.Storage.Driver {
	case DriverDisk:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for the disk driver")
		}
	case DriverGCS:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}
	return nil
}
