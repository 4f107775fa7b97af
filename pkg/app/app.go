// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/config"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/coordinator"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/ignore"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/meta"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/metrics"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage/cache"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage/disk"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage/s3"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/transfer"

	"github.com/prometheus/client_golang/prometheus"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有"单例"服务
type App struct {
	Settings    *config.Settings
	Logger      *slog.Logger
	Store       storage.BlobStore
	Transfer    *transfer.Transfer
	Coordinator *coordinator.Coordinator
	Metrics     *metrics.Metrics

	// Ledger 在 meta.enabled=false 时为 nil
	Ledger *meta.Repository

	closers []func() error
}

// NewApp 是工厂函数，负责组装这一台机器
// 它只认识 Settings，不知道具体的 CLI 命令
func NewApp(ctx context.Context, s *config.Settings, logger *slog.Logger) (*App, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Settings: s,
		Logger:   logger,
		Metrics:  metrics.New(prometheus.NewRegistry()),
	}

	// 1. 初始化存储层 (Dependency Injection)
	store, err := initStore(ctx, s, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	// 2. (可选) Redis 提交标记缓存
	if s.Redis.URL != "" {
		cached, err := cache.NewMarkerStore(store, cache.Config{
			RedisURL: s.Redis.URL,
			TTL:      s.Redis.TTL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init marker cache: %w", err)
		}
		a.closers = append(a.closers, cached.Close)
		store = cached
	}
	a.Store = store

	// 3. 传输层
	matcher, err := ignore.NewMatcher(s.Transfer.IgnoreFile, s.Transfer.IgnorePatterns...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}
	a.Transfer = transfer.New(store, transfer.Options{
		Concurrency: s.Transfer.Concurrency,
		Matcher:     matcher,
		Metrics:     a.Metrics,
		Logger:      logger,
	})

	// 4. (可选) 台账
	opts := coordinator.Options{
		RemoteDirectory: s.Cache.RemoteDirectory,
		Metrics:         a.Metrics,
		Logger:          logger,
	}
	if s.Meta.Enabled {
		db, err := meta.NewDB(ctx, meta.Config{
			Driver:   s.Meta.Driver,
			DSN:      s.Meta.DSN,
			Host:     s.Meta.Host,
			Port:     s.Meta.Port,
			User:     s.Meta.User,
			Password: s.Meta.Password,
			DBName:   s.Meta.DBName,
			SSLMode:  s.Meta.SSLMode,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init ledger: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.Ledger = meta.NewRepository(db)
		opts.Recorder = a.Ledger
	}

	// 5. 协调器
	a.Coordinator, err = coordinator.New(store, a.Transfer, opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func initStore(ctx context.Context, s *config.Settings, logger *slog.Logger) (storage.BlobStore, error) {
	switch s.Storage.Type {
	case config.StorageDisk:
		store, err := disk.NewAdapter(s.Storage.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageS3:
		store, err := s3.NewAdapter(ctx, s3.Config{
			Bucket:          s.Storage.Bucket,
			Region:          s.Storage.Region,
			Endpoint:        s.Storage.Endpoint,
			AccessKeyID:     s.Storage.AccessKeyID,
			SecretAccessKey: s.Storage.SecretAccessKey,
			SessionToken:    s.Storage.SessionToken,
			ForcePathStyle:  s.Storage.ForcePathStyle,
			CreateBucket:    s.Storage.CreateBucket,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unsupported storage type: %s", storage.ErrInvalidConfig, s.Storage.Type)
	}
}

// PushMetrics 在配置了 Pushgateway 时推送一次指标
func (a *App) PushMetrics() error {
	return a.Metrics.Push(a.Settings.Metrics.Pushgateway, a.Settings.Metrics.Timeout)
}

// Close 释放 Redis、数据库等连接
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
