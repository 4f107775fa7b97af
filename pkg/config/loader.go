package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 否则按优先级搜索
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：
		// 1. 当前目录
		viper.AddConfigPath(".")
		// 2. 当前目录下的 .dcache
		viper.AddConfigPath(".dcache")
		// 3. 用户主目录下的 .dcache
		viper.AddConfigPath(filepath.Join(home, ".dcache"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (DCACHE_STORAGE_BUCKET 等)
	viper.SetEnvPrefix("DCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没找到配置文件不算错，可能全部来自环境变量
		// 但如果是配置文件格式错，那就是错
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		// stdout 留给命令输出
		fmt.Fprintln(os.Stderr, "🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	// 存储默认值
	viper.SetDefault("storage.type", StorageS3)
	viper.SetDefault("storage.path", "")
	viper.SetDefault("storage.bucket", "")
	viper.SetDefault("storage.region", "")
	viper.SetDefault("storage.endpoint", "")
	viper.SetDefault("storage.access_key_id", "")
	viper.SetDefault("storage.secret_access_key", "")
	viper.SetDefault("storage.session_token", "")
	viper.SetDefault("storage.force_path_style", false)
	viper.SetDefault("storage.create_bucket", false)

	// 本地目录
	viper.SetDefault("cache.dir", filepath.Join(".dcache", "cache"))
	viper.SetDefault("cache.remote_directory", defaultRemoteDirectory())

	// Redis 标记缓存，默认关闭
	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.ttl", "24h")

	// 台账，默认关闭
	viper.SetDefault("meta.enabled", false)
	viper.SetDefault("meta.driver", "sqlite")
	viper.SetDefault("meta.dsn", filepath.Join(".dcache", "ledger.db"))
	viper.SetDefault("meta.host", "localhost")
	viper.SetDefault("meta.port", 5432)
	viper.SetDefault("meta.user", "")
	viper.SetDefault("meta.password", "")
	viper.SetDefault("meta.dbname", "dcache")
	viper.SetDefault("meta.sslmode", "disable")

	viper.SetDefault("transfer.concurrency", 8)
	viper.SetDefault("transfer.ignore_file", "")
	viper.SetDefault("transfer.ignore_patterns", []string{})

	viper.SetDefault("metrics.pushgateway", "")
	viper.SetDefault("metrics.timeout", "5s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// defaultRemoteDirectory 放在用户缓存目录下，取不到时退回临时目录
func defaultRemoteDirectory() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "dcache", "remote")
}
