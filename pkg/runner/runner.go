package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/types"
)

// 注入给子进程的环境变量
const (
	EnvOutputDir = "DCACHE_OUTPUT_DIR"
	EnvHash      = "DCACHE_HASH"
)

// workDirPattern 命令执行期间的临时输出目录
const workDirPattern = ".dcache-out-*"

// markerBody 是本地提交标记的内容，只用来表示产物已经完整写出
var markerBody = []byte("true")

// Cache 是 Runner 需要的缓存能力，*coordinator.Coordinator 实现了它
type Cache interface {
	Retrieve(ctx context.Context, hash types.Hash, cacheDir string) (bool, error)
	Store(ctx context.Context, hash types.Hash, cacheDir string) (bool, error)
}

// Report 描述一次 Run 做了什么
type Report struct {
	Hit      bool  // 命中缓存，命令没有执行
	Ran      bool  // 命令执行成功
	Stored   bool  // 产物已提交到远端
	StoreErr error // Store 失败不影响命令结果，只在这里报告
}

type Options struct {
	CacheDir string
	Stdout   io.Writer
	Stderr   io.Writer
	Logger   *slog.Logger
}

// Runner 包装任意命令：命中缓存就跳过，否则执行并上传产物
type Runner struct {
	cache    Cache
	cacheDir string
	stdout   io.Writer
	stderr   io.Writer
	logger   *slog.Logger
}

func New(cache Cache, opts Options) (*Runner, error) {
	if cache == nil {
		return nil, errors.New("runner requires a cache")
	}
	if opts.CacheDir == "" {
		return nil, errors.New("runner requires a cache directory")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		cache:    cache,
		cacheDir: opts.CacheDir,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		logger:   opts.Logger,
	}, nil
}

// Run 执行一个可缓存的任务
// 命令的产物必须写到 $DCACHE_OUTPUT_DIR
func (r *Runner) Run(ctx context.Context, hash types.Hash, argv []string) (Report, error) {
	var report Report
	if err := hash.Validate(); err != nil {
		return report, err
	}
	if len(argv) == 0 {
		return report, errors.New("no command given")
	}

	// 1. 先查缓存，远端故障只当作未命中
	hit, err := r.cache.Retrieve(ctx, hash, r.cacheDir)
	if err != nil {
		r.logger.Warn("remote cache unavailable, running command", "hash", hash, "error", err)
	}
	if hit {
		report.Hit = true
		return report, nil
	}

	// 2. 在临时目录里执行命令，<cacheDir>/<hash> 只在成功后出现
	// 执行期间别的 Retrieve 看不到半成品，进程被杀也只会留下临时目录
	workDir, err := r.prepare()
	if err != nil {
		return report, err
	}
	defer os.RemoveAll(workDir)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		EnvOutputDir+"="+workDir,
		EnvHash+"="+hash.String(),
	)
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if err := cmd.Run(); err != nil {
		return report, fmt.Errorf("command failed: %w", err)
	}
	report.Ran = true

	// 3. 产物到位，写本地提交标记，然后上传
	outputDir := filepath.Join(r.cacheDir, hash.String())
	if err := r.commit(workDir, outputDir); err != nil {
		return report, err
	}

	stored, err := r.cache.Store(ctx, hash, r.cacheDir)
	if err != nil {
		r.logger.Warn("failed to store artifacts, continuing", "hash", hash, "error", err)
		report.StoreErr = err
	}
	report.Stored = stored
	return report, nil
}

// prepare 在缓存目录下创建命令的临时输出目录
func (r *Runner) prepare() (string, error) {
	if err := os.MkdirAll(r.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	workDir, err := os.MkdirTemp(r.cacheDir, workDirPattern)
	if err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return workDir, nil
}

// commit 用 rename 把临时输出换到 outputDir，再写提交标记
func (r *Runner) commit(workDir, outputDir string) error {
	// 1. 清掉上次残留的产物和标记
	if err := os.Remove(outputDir + types.CommitSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale commit marker: %w", err)
	}
	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("remove stale output: %w", err)
	}

	// 2. 换到正式位置；同一个 Hash 的另一次执行抢先完成时沿用它的产物
	if err := os.Rename(workDir, outputDir); err != nil {
		info, statErr := os.Stat(outputDir)
		if statErr != nil || !info.IsDir() {
			return fmt.Errorf("move output into place: %w", err)
		}
		r.logger.Debug("output already produced by a concurrent run", "path", outputDir)
	}

	if err := os.WriteFile(outputDir+types.CommitSuffix, markerBody, 0644); err != nil {
		return fmt.Errorf("write local commit marker: %w", err)
	}
	return nil
}
