package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/ignore"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/metrics"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency 是上传时同时在途的 Put 数量上限
const DefaultConcurrency = 8

// TransferError 描述单个文件的传输失败
type TransferError struct {
	Op   string // "upload" / "download"
	Path string // 远端 Key
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Result 汇总一次批量传输
type Result struct {
	Files   int
	Bytes   int64
	Objects []storage.ObjectInfo // 成功传输的对象，按 Key 排序
	Failed  []*TransferError
}

// Err 把所有单文件失败合并成一个 error，没有失败时返回 nil
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

type Options struct {
	Concurrency int
	Matcher     *ignore.Matcher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Transfer 负责本地目录树和远端前缀之间的批量搬运
// 它不持有任何单次调用的状态，可以并发使用
type Transfer struct {
	store       storage.BlobStore
	concurrency int
	matcher     *ignore.Matcher
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func New(store storage.BlobStore, opts Options) *Transfer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Transfer{
		store:       store,
		concurrency: opts.Concurrency,
		matcher:     opts.Matcher,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// EnumerateLocal 返回 root 下所有普通文件的相对路径 ("/" 分隔，已排序)
func (t *Transfer) EnumerateLocal(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("enumerate %s: not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if t.matcher.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case d.IsDir():
			return nil
		case d.Type()&fs.ModeSymlink != 0:
			// 指向文件的链接按文件处理，指向目录的链接不展开 (避免环)
			target, err := os.Stat(p)
			if err != nil {
				return fmt.Errorf("resolve symlink %s: %w", rel, err)
			}
			if target.Mode().IsRegular() {
				files = append(files, rel)
			}
			return nil
		case d.Type().IsRegular():
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

// UploadAll 把 root 下的文件写到 prefix/<relPath>
// 所有 Put 都结束后才返回；任意一个失败都会返回错误，已上传的对象不回滚
func (t *Transfer) UploadAll(ctx context.Context, root, prefix string) (Result, error) {
	files, err := t.EnumerateLocal(root)
	if err != nil {
		return Result{}, err
	}

	var (
		mu  sync.Mutex
		res Result
		g   errgroup.Group
	)
	g.SetLimit(t.concurrency)

	for _, rel := range files {
		key := path.Join(prefix, rel)
		local := filepath.Join(root, filepath.FromSlash(rel))

		g.Go(func() error {
			data, err := os.ReadFile(local)
			if err == nil {
				err = t.store.Put(ctx, key, data)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				terr := &TransferError{Op: "upload", Path: key, Err: err}
				res.Failed = append(res.Failed, terr)
				t.metrics.AddFailure(metrics.DirectionUpload)
				return terr
			}
			res.Files++
			res.Bytes += int64(len(data))
			res.Objects = append(res.Objects, storage.ObjectInfo{Key: key, Size: int64(len(data))})
			return nil
		})
	}

	// 屏障：等待所有 Put 返回
	err = g.Wait()

	sortObjects(res.Objects)
	t.metrics.AddBytes(metrics.DirectionUpload, res.Bytes)
	t.logger.Debug("upload finished",
		"prefix", prefix,
		"files", res.Files,
		"size", humanize.Bytes(uint64(res.Bytes)),
		"failed", len(res.Failed),
	)
	return res, err
}

// DownloadAll 把 prefix 下的所有对象顺序拉取到 localRoot/<key>
// 单个文件失败只记录不终止；只有 List 本身失败时才返回 error
func (t *Transfer) DownloadAll(ctx context.Context, prefix, localRoot string) (Result, error) {
	objects, err := t.store.List(ctx, prefix)
	if err != nil {
		return Result{}, fmt.Errorf("list %s: %w", prefix, err)
	}

	t.logger.Info("downloading cached artifacts",
		"prefix", prefix,
		"files", len(objects),
		"size", humanize.Bytes(uint64(storage.TotalSize(objects))),
	)

	var res Result
	for _, obj := range objects {
		if err := t.fetch(ctx, obj.Key, localRoot); err != nil {
			terr := &TransferError{Op: "download", Path: obj.Key, Err: err}
			res.Failed = append(res.Failed, terr)
			t.metrics.AddFailure(metrics.DirectionDownload)
			t.logger.Warn("download failed", "key", obj.Key, "error", err)
			continue
		}
		res.Files++
		res.Bytes += obj.Size
		res.Objects = append(res.Objects, obj)
	}

	sortObjects(res.Objects)
	t.metrics.AddBytes(metrics.DirectionDownload, res.Bytes)
	return res, nil
}

func (t *Transfer) fetch(ctx context.Context, key, localRoot string) error {
	native := filepath.FromSlash(key)
	if !filepath.IsLocal(native) {
		return errors.New("key escapes local root")
	}

	data, err := t.store.Get(ctx, key)
	if err != nil {
		return err
	}

	target := filepath.Join(localRoot, native)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	return os.WriteFile(target, data, 0644)
}

func sortObjects(objs []storage.ObjectInfo) {
	sort.Slice(objs, func(i, j int) bool {
		return objs[i].Key < objs[j].Key
	})
}
