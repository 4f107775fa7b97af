package config

import (
	"fmt"
	"time"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"

	"github.com/spf13/viper"
)

const (
	StorageS3   = "s3"
	StorageDisk = "disk"
)

// Settings 是 Viper 配置的强类型视图
type Settings struct {
	Storage  StorageSettings  `mapstructure:"storage"`
	Cache    CacheSettings    `mapstructure:"cache"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Meta     MetaSettings     `mapstructure:"meta"`
	Transfer TransferSettings `mapstructure:"transfer"`
	Metrics  MetricsSettings  `mapstructure:"metrics"`
	Log      LogSettings      `mapstructure:"log"`
}

type StorageSettings struct {
	Type string `mapstructure:"type"` // "s3" | "disk"
	Path string `mapstructure:"path"` // disk 后端的根目录

	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	CreateBucket    bool   `mapstructure:"create_bucket"`
}

type CacheSettings struct {
	Dir             string `mapstructure:"dir"`
	RemoteDirectory string `mapstructure:"remote_directory"`
}

type RedisSettings struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type MetaSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type TransferSettings struct {
	Concurrency    int      `mapstructure:"concurrency"`
	IgnoreFile     string   `mapstructure:"ignore_file"`
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
}

type MetricsSettings struct {
	Pushgateway string        `mapstructure:"pushgateway"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Current 从全局 Viper 读取配置
// 必须在 Load 之后调用，否则只有零值
func Current() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &s, nil
}

// Validate 只检查会导致后续组件无法构造的问题
func (s *Settings) Validate() error {
	switch s.Storage.Type {
	case StorageS3:
		if s.Storage.Bucket == "" {
			return fmt.Errorf("%w: storage.bucket is required for s3", storage.ErrInvalidConfig)
		}
	case StorageDisk:
		if s.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for disk", storage.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported storage type: %q", storage.ErrInvalidConfig, s.Storage.Type)
	}

	if s.Cache.RemoteDirectory == "" {
		return fmt.Errorf("%w: cache.remote_directory is required", storage.ErrInvalidConfig)
	}
	if s.Transfer.Concurrency < 0 {
		return fmt.Errorf("%w: transfer.concurrency must not be negative", storage.ErrInvalidConfig)
	}
	if s.Meta.Enabled && s.Meta.Driver != "sqlite" && s.Meta.Driver != "postgres" {
		return fmt.Errorf("%w: unsupported meta driver: %q", storage.ErrInvalidConfig, s.Meta.Driver)
	}
	return nil
}
