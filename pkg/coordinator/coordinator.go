package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/core"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/logging"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/metrics"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/transfer"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/types"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidConfig = errors.New("invalid coordinator configuration")
	// ErrNotCached 本地缓存目录里没有可以上传的产物 (内容目录或提交标记缺失)
	ErrNotCached = errors.New("no local artifacts for hash")
)

// Recorder 接收缓存活动，用于台账
// 返回的错误只会被记录日志，不影响 Retrieve/Store 的结果
type Recorder interface {
	RecordRetrieve(ctx context.Context, hash types.Hash, outcome types.Outcome, d time.Duration) error
	RecordStore(ctx context.Context, m *core.Manifest, d time.Duration) error
}

type Options struct {
	// RemoteDirectory 是远端命名空间在本机的只读镜像根目录，必填
	RemoteDirectory string
	Recorder        Recorder
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// Coordinator 实现远端缓存的两个操作: Retrieve 和 Store
//
// 远端布局: "<hash>/<path>" 是内容，"<hash>.commit" 是提交标记
// 提交标记永远最后写，读取时永远最先查，只有带标记的内容才会被信任
type Coordinator struct {
	store     storage.BlobStore
	xfer      *transfer.Transfer
	remoteDir string
	recorder  Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// 同一进程内对同一个 Hash 的并发 Retrieve 只下载一次
	inflight singleflight.Group
}

func New(store storage.BlobStore, xfer *transfer.Transfer, opts Options) (*Coordinator, error) {
	if store == nil || xfer == nil {
		return nil, fmt.Errorf("%w: store and transfer are required", ErrInvalidConfig)
	}
	if opts.RemoteDirectory == "" {
		return nil, fmt.Errorf("%w: remote directory is required", ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		xfer:      xfer,
		remoteDir: opts.RemoteDirectory,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "coordinator"),
	}, nil
}

// RemoteDirectory 返回本地镜像根目录
func (c *Coordinator) RemoteDirectory() string { return c.remoteDir }

// Retrieve 尝试把 hash 对应的产物恢复到 cacheDir/<hash> 和 cacheDir/<hash>.commit
//
// 返回 (true, nil) 表示命中；(false, nil) 表示正常未命中
// (false, err) 表示远端故障或下载不完整，对调用方来说仍然是未命中
func (c *Coordinator) Retrieve(ctx context.Context, hash types.Hash, cacheDir string) (bool, error) {
	start := time.Now()
	if err := hash.Validate(); err != nil {
		return false, err
	}

	outcome, err := c.retrieve(ctx, hash, cacheDir)
	if err != nil {
		outcome = types.OutcomeError
	}
	elapsed := time.Since(start)

	c.metrics.ObserveRetrieve(outcome, elapsed)
	c.record(func() error { return c.recorder.RecordRetrieve(ctx, hash, outcome, elapsed) })

	logging.Operation(ctx, c.logger, "retrieve", hash.String(), outcome.String(), elapsed, err)
	return outcome.IsHit(), err
}

func (c *Coordinator) retrieve(ctx context.Context, hash types.Hash, cacheDir string) (types.Outcome, error) {
	// 1. 调用方目录里已经有产物: 不碰网络
	if isDir(filepath.Join(cacheDir, hash.String())) {
		return types.OutcomeHitLocal, nil
	}

	// 2. 本地镜像没有的话，先从远端填充镜像
	outcome := types.OutcomeHitLocal
	if !c.hasReflection(hash) {
		// 共享的填充不跟随某一个调用方的取消，每个调用方各自等待自己的 ctx
		ch := c.inflight.DoChan(hash.String(), func() (any, error) {
			return c.fillReflection(context.WithoutCancel(ctx), hash)
		})
		var res singleflight.Result
		select {
		case <-ctx.Done():
			return types.OutcomeError, ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			return types.OutcomeError, res.Err
		}
		outcome = res.Val.(types.Outcome)
		if outcome == types.OutcomeMiss {
			return outcome, nil
		}
	}

	// 3. 下载后再确认一次，再拷贝到调用方期望的布局
	if !c.hasReflection(hash) {
		return types.OutcomeMiss, nil
	}
	if err := c.exportReflection(hash, cacheDir); err != nil {
		return types.OutcomeError, err
	}
	return outcome, nil
}

// fillReflection 先查提交标记，再下载内容到 RemoteDirectory
// 标记不存在时本地不会创建任何东西；内容先下载到临时目录，完整之后才换到镜像位置
func (c *Coordinator) fillReflection(ctx context.Context, hash types.Hash) (types.Outcome, error) {
	// 排队期间可能已经被别的调用填好了
	if c.hasReflection(hash) {
		return types.OutcomeHitLocal, nil
	}

	marker, err := c.store.Get(ctx, hash.CommitKey())
	if errors.Is(err, storage.ErrNotFound) {
		return types.OutcomeMiss, nil
	}
	if err != nil {
		return types.OutcomeError, fmt.Errorf("probe commit marker: %w", err)
	}

	// 1. 下载到临时目录，不碰已有的镜像
	tmp, err := c.stage()
	if err != nil {
		return types.OutcomeError, err
	}
	defer os.RemoveAll(tmp)

	staged := filepath.Join(tmp, hash.String())
	if err := os.MkdirAll(staged, 0755); err != nil {
		return types.OutcomeError, err
	}
	res, err := c.xfer.DownloadAll(ctx, hash.ContentPrefix(), tmp)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		// 不完整的下载随临时目录一起丢掉
		return types.OutcomeError, fmt.Errorf("download %s: %w", hash, err)
	}

	// 2. 下载期间另一个进程可能已经发布了完整镜像
	if c.hasReflection(hash) {
		return types.OutcomeHitRemote, nil
	}

	// 3. 内容到位之后才写本地标记
	if err := c.publish(hash, staged, marker); err != nil {
		return types.OutcomeError, fmt.Errorf("publish reflection %s: %w", hash, err)
	}

	c.logger.Debug("reflection filled", "hash", hash, "files", res.Files, "size", humanize.Bytes(uint64(res.Bytes)))
	return types.OutcomeHitRemote, nil
}

// Store 把 cacheDir/<hash> 上传到远端并提交
//
// 第一阶段上传所有内容对象并等待全部完成；只有全部成功才进入第二阶段写提交标记
// 任何上传失败都会返回错误，远端可能留下没有标记的内容，它们对读者不可见
func (c *Coordinator) Store(ctx context.Context, hash types.Hash, cacheDir string) (bool, error) {
	start := time.Now()
	if err := hash.Validate(); err != nil {
		return false, err
	}

	manifest, err := c.storeEntry(ctx, hash, cacheDir)
	elapsed := time.Since(start)
	c.metrics.ObserveStore(err, elapsed)

	if err != nil {
		logging.Operation(ctx, c.logger, "store", hash.String(), types.OutcomeError.String(), elapsed, err)
		return false, err
	}

	c.record(func() error { return c.recorder.RecordStore(ctx, manifest, elapsed) })
	logging.Operation(ctx, c.logger, "store", hash.String(), types.OutcomeStored.String(), elapsed, nil)
	c.logger.Debug("cache entry contents",
		"hash", hash,
		"files", len(manifest.Files),
		"size", humanize.Bytes(uint64(manifest.TotalSize)),
	)
	return true, nil
}

func (c *Coordinator) storeEntry(ctx context.Context, hash types.Hash, cacheDir string) (*core.Manifest, error) {
	contentDir := filepath.Join(cacheDir, hash.String())
	if !isDir(contentDir) {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, contentDir)
	}
	marker, err := os.ReadFile(contentDir + types.CommitSuffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCached, err)
	}

	// Phase 1: 内容
	res, err := c.xfer.UploadAll(ctx, contentDir, hash.ContentPrefix())
	if err != nil {
		return nil, err
	}

	// Phase 2: 提交标记
	if err := c.store.Put(ctx, hash.CommitKey(), marker); err != nil {
		return nil, fmt.Errorf("write commit marker: %w", err)
	}

	// 远端已经提交，镜像失败只影响下次的快速路径
	if err := c.mirror(hash, contentDir, marker); err != nil {
		c.logger.Warn("mirror to remote directory failed", "hash", hash, "error", err)
	}

	return core.NewManifest(hash, res.Objects), nil
}

func (c *Coordinator) record(fn func() error) {
	if c.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		c.logger.Warn("failed to record cache event", "error", err)
	}
}
