package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound 指定的 Key 在远端不存在
	ErrNotFound = errors.New("object not found")
	// ErrUnavailable 传输层/鉴权/后端故障
	ErrUnavailable = errors.New("blob store unavailable")
	// ErrInvalidConfig 构造时缺少必填配置 (例如 bucket)
	ErrInvalidConfig = errors.New("invalid blob store configuration")
)

// ObjectInfo 是 List 返回的一条远端对象描述
type ObjectInfo struct {
	Key  string
	Size int64
}

// BlobStore 是对远端对象命名空间的无状态抽象
// 它不理解 Hash 和目录，只认识 Key
// 实现可以是 S3、本地磁盘 (共享卷) 或者带缓存的装饰器
type BlobStore interface {
	// List 枚举所有 Key 以 prefix + "/" 开头的对象
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Get 读取一个对象的完整内容
	// Key 不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put 写入/覆盖一个对象
	// 注意：不假设后端提供原子写，中断的 Put 可能留下截断的对象
	Put(ctx context.Context, key string, data []byte) error
}

// Unavailable 把后端原生错误包装为 ErrUnavailable，同时保留原始错误链
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// TotalSize 汇总一组对象的字节数
func TotalSize(objects []ObjectInfo) int64 {
	var total int64
	for _, o := range objects {
		total += o.Size
	}
	return total
}
