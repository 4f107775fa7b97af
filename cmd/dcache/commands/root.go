package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/app"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/config"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/logging"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	DC *app.App
)

var rootCmd = &cobra.Command{
	Use:   "dcache",
	Short: "Distributed build cache backed by S3",
	Long: `dcache shares task outputs between machines through an S3 bucket.
An entry is only visible to readers after its commit marker has been written.`,
	SilenceUsage: true,
	// 【关键】PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Current()
		if err != nil {
			return err
		}

		logger, err := logging.Setup(settings.Log.Level, settings.Log.Format, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		// 统一初始化 App
		DC, err = app.NewApp(cmd.Context(), settings, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize dcache: %w", err)
		}
		return nil
	},
}

// Execute 是入口
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx)
}

func execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	shutdown()
	return err
}

// shutdown 推送指标并释放连接，命令失败时也要执行
func shutdown() {
	if DC == nil {
		return
	}
	if err := DC.PushMetrics(); err != nil {
		DC.Logger.Warn("failed to push metrics", "error", err)
	}
	if err := DC.Close(); err != nil {
		DC.Logger.Warn("failed to close app", "error", err)
	}
	DC = nil
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dcache/config.yaml)")

	// 2. 其余全局参数绑定到 Viper
	// 这样用户既可以在 yaml 里写，也可以用命令行覆盖
	flags := []struct {
		name, key, usage string
	}{
		{"log-level", "log.level", "debug, info, warn or error"},
		{"log-format", "log.format", "text or json"},
		{"remote-directory", "cache.remote_directory", "local reflection of the remote cache"},
		{"cache-dir", "cache.dir", "task engine cache directory"},
		{"bucket", "storage.bucket", "S3 bucket holding cache entries"},
	}
	for _, f := range flags {
		rootCmd.PersistentFlags().String(f.name, "", f.usage)
		if err := viper.BindPFlag(f.key, rootCmd.PersistentFlags().Lookup(f.name)); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}
}

// parseHash 校验命令行传入的 Hash
func parseHash(arg string) (types.Hash, error) {
	hash := types.Hash(arg)
	if err := hash.Validate(); err != nil {
		return "", err
	}
	return hash, nil
}
