// Package config loads runtime settings from an optional greenhouse.yaml and
// GREENHOUSE_* environment variables.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"greenhouse/internal/blob"
	blobcore "greenhouse/internal/blob/core"
	"greenhouse/internal/core"
	"greenhouse/internal/infra/blob/s3"
)

// EnvPrefix namespaces environment overrides, e.g. GREENHOUSE_STORAGE_DRIVER.
const EnvPrefix = "GREENHOUSE"

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
}

type BlobConfig struct {
	Driver string   `mapstructure:"driver"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

type ReportsConfig struct {
	Prefix    string `mapstructure:"prefix"`
	QueueSize int    `mapstructure:"queue_size"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type GreenhouseConfig struct {
	DefaultCapacity int `mapstructure:"default_capacity"`
}

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Reports    ReportsConfig    `mapstructure:"reports"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Greenhouse GreenhouseConfig `mapstructure:"greenhouse"`
}

// keys lists every leaf so env overrides apply without a config file.
var keys = []string{
	"server.addr", "server.shutdown_timeout", "server.cors_origins",
	"log.level", "log.pretty",
	"storage.driver", "storage.sqlite_path", "storage.postgres_dsn",
	"blob.driver", "blob.fs_root",
	"blob.s3.bucket", "blob.s3.region", "blob.s3.endpoint", "blob.s3.path_style",
	"blob.s3.access_key_id", "blob.s3.secret_access_key", "blob.s3.prefix",
	"reports.prefix", "reports.queue_size",
	"catalog.path",
	"greenhouse.default_capacity",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("storage.driver", string(core.StorageMemory))
	v.SetDefault("storage.sqlite_path", "greenhouse.db")
	v.SetDefault("blob.driver", string(blobcore.DriverMemory))
	v.SetDefault("blob.fs_root", "./blobdata")
	v.SetDefault("reports.prefix", "reports")
	v.SetDefault("reports.queue_size", 32)
	v.SetDefault("greenhouse.default_capacity", core.DefaultGreenhouseCapacity)
}

// Load reads greenhouse.yaml from dir (if present) and applies env overrides.
// A missing file is not an error. An explicit file path is also accepted.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		v.SetConfigFile(path)
	} else {
		if path == "" {
			path = "."
		}
		v.AddConfigPath(path)
		v.SetConfigName("greenhouse")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StorageOptions converts the storage section for core.OpenPersistentStore.
func (c Config) StorageOptions() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(strings.ToLower(c.Storage.Driver)),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// BlobOptions converts the blob section for blob.Open.
func (c Config) BlobOptions() blob.Config {
	return blob.Config{
		Driver: blobcore.Driver(strings.ToLower(c.Blob.Driver)),
		FSRoot: c.Blob.FSRoot,
		S3: s3.Config{
			Bucket:          c.Blob.S3.Bucket,
			Region:          c.Blob.S3.Region,
			Endpoint:        c.Blob.S3.Endpoint,
			PathStyle:       c.Blob.S3.PathStyle,
			AccessKeyID:     c.Blob.S3.AccessKeyID,
			SecretAccessKey: c.Blob.S3.SecretAccessKey,
			Prefix:          c.Blob.S3.Prefix,
		},
	}
}
