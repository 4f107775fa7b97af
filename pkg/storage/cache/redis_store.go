package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/core"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/types"

	"github.com/redis/go-redis/v9"
)

// MarkerStore 是一个装饰器，它为底层 storage.BlobStore 的提交标记读取添加 Redis 缓存层
//
// 只缓存 "存在" 的结果：标记一旦写入，在 Entry 的生命周期内就不会变。
// "不存在" 永远穿透到底层，否则另一台机器刚提交的 Entry 会被误判为 Miss。
type MarkerStore struct {
	backend storage.BlobStore // 被装饰的底层存储 (如 S3)
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
	Logger   *slog.Logger
}

// NewMarkerStore 解析 URL 并做 fail-fast 连接检查
func NewMarkerStore(backend storage.BlobStore, cfg Config) (*MarkerStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis url: %w", storage.ErrInvalidConfig, err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(backend, client, cfg.TTL, cfg.Logger), nil
}

// NewWithClient 复用已有的 Redis 客户端
func NewWithClient(backend storage.BlobStore, client *redis.Client, ttl time.Duration, logger *slog.Logger) *MarkerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkerStore{backend: backend, client: client, ttl: ttl, logger: logger}
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *MarkerStore) cacheKey(key string) string {
	return "dcache:marker:" + key
}

func isMarker(key string) bool {
	return strings.HasSuffix(key, types.CommitSuffix)
}

// Get 对提交标记优先查 Redis
func (s *MarkerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !isMarker(key) {
		return s.backend.Get(ctx, key)
	}

	ck := s.cacheKey(key)

	// 1. 查 Redis
	raw, err := s.client.Get(ctx, ck).Bytes()
	switch {
	case err == nil:
		record, decErr := core.DecodeMarkerRecord(raw)
		if decErr == nil {
			return record.Body, nil
		}
		// 脏数据，删掉后回源
		s.logger.Warn("corrupted marker cache entry", slog.String("key", key), slog.Any("err", decErr))
		s.client.Del(ctx, ck)
	case err != redis.Nil:
		// 缓存故障降级：Redis 挂了就退化为无缓存模式
		s.logger.Warn("redis error, falling back to backend", slog.String("key", key), slog.Any("err", err))
	}

	// 2. 缓存未命中，查底层存储
	body, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// 3. 缓存回填，异步进行，不阻塞主流程
	go s.fill(ck, body)

	return body, nil
}

// Put 先写底层，成功之后才写缓存
func (s *MarkerStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.backend.Put(ctx, key, data); err != nil {
		return err
	}
	if isMarker(key) {
		s.set(ctx, s.cacheKey(key), data)
	}
	return nil
}

// List 透传 - 不缓存列表
func (s *MarkerStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	return s.backend.List(ctx, prefix)
}

func (s *MarkerStore) Close() error {
	return s.client.Close()
}

func (s *MarkerStore) fill(ck string, body []byte) {
	// 使用独立 ctx，上层取消时回填依然可以完成
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.set(ctx, ck, body)
}

func (s *MarkerStore) set(ctx context.Context, ck string, body []byte) {
	raw, err := core.MarkerRecord{Body: body, CachedAt: time.Now().Unix()}.Encode()
	if err != nil {
		return
	}
	// 这里的 Set 错误可以忽略，不影响主流程
	if err := s.client.Set(ctx, ck, raw, s.ttl).Err(); err != nil {
		s.logger.Debug("failed to cache marker", slog.String("key", ck), slog.Any("err", err))
	}
}
