package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"
)

// 临时文件前缀，List 时需要跳过
const tempPrefix = ".dcache-tmp-"

// Adapter 实现了 storage.BlobStore 接口
// 远端命名空间直接映射到一个目录 (例如挂载的 NFS 共享卷)
type Adapter struct {
	rootPath string // 比如: /mnt/shared/dcache
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string) (*Adapter, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: disk root path is required", storage.ErrInvalidConfig)
	}
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
}

// Root 返回根目录
func (s *Adapter) Root() string { return s.rootPath }

// layout 返回 Key 对应的物理路径
// Key 使用 "/" 分隔，不允许逃逸出根目录
func (s *Adapter) layout(key string) (string, error) {
	native := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(native) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.rootPath, native), nil
}

func (s *Adapter) Put(ctx context.Context, key string, data []byte) error {
	targetPath, err := s.layout(key)
	if err != nil {
		return storage.Unavailable("disk put", err)
	}

	// 1. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return storage.Unavailable("disk put", err)
	}

	// 2. 原子写入 (Atomic Write)
	// 先写到临时文件再 Rename，保证读者要么看不到文件，要么看到完整文件
	tempFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return storage.Unavailable("disk put", err)
	}
	// 成功 Rename 之后这个删除是无害的
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return storage.Unavailable("disk put", err)
	}
	if err := tempFile.Close(); err != nil {
		return storage.Unavailable("disk put", err)
	}

	// 3. 移动到最终位置 (覆盖旧对象)
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return storage.Unavailable("disk put", err)
	}
	return nil
}

func (s *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	targetPath, err := s.layout(key)
	if err != nil {
		return nil, storage.Unavailable("disk get", err)
	}

	data, err := os.ReadFile(targetPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		// 目录被当作对象读取等情况
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) && isDirectory(targetPath) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Unavailable("disk get", err)
	}
	return data, nil
}

// List 枚举 prefix 目录下的所有文件
// prefix 不存在时返回空列表，而不是错误
func (s *Adapter) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	dir, err := s.layout(prefix)
	if err != nil {
		return nil, storage.Unavailable("disk list", err)
	}

	var objects []storage.ObjectInfo
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		objects = append(objects, storage.ObjectInfo{
			Key:  path.Join(prefix, filepath.ToSlash(rel)),
			Size: info.Size(),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("disk list", err)
	}
	return objects, nil
}

func isDirectory(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
