package coordinator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/types"
)

// 本地镜像 (RemoteDirectory) 的布局和远端一致:
//   <remoteDir>/<hash>/...
//   <remoteDir>/<hash>.commit
//
// 镜像和导出都先在同一目录下的临时目录里组装，完整之后再 rename 到位
// 读者要么看到旧的完整目录，要么看到新的完整目录

const (
	stagingPattern = ".staging-*"
	exportPattern  = ".dcache-export-*"
)

func (c *Coordinator) reflectionPath(hash types.Hash) string {
	return filepath.Join(c.remoteDir, hash.String())
}

// hasReflection 内容目录和提交标记都在才算完整
func (c *Coordinator) hasReflection(hash types.Hash) bool {
	p := c.reflectionPath(hash)
	return isDir(p) && isFile(p+types.CommitSuffix)
}

// stage 在 remoteDir 下创建一个临时目录，调用方负责 RemoveAll
func (c *Coordinator) stage() (string, error) {
	if err := os.MkdirAll(c.remoteDir, 0755); err != nil {
		return "", err
	}
	return os.MkdirTemp(c.remoteDir, stagingPattern)
}

// publish 把组装好的 staged 目录换到镜像位置，最后写提交标记
// 旧目录被挪到 staged 旁边，跟着临时目录一起清理
func (c *Coordinator) publish(hash types.Hash, staged string, marker []byte) error {
	dst := c.reflectionPath(hash)

	// 1. 先撤掉标记，替换过程中镜像不算完整
	if err := os.Remove(dst + types.CommitSuffix); err != nil && !os.IsNotExist(err) {
		return err
	}

	// 2. 旧内容挪开 (不就地删除，正在读的人不会读到半截文件)
	if err := os.Rename(dst, staged+".old"); err != nil && !os.IsNotExist(err) {
		return err
	}

	// 3. 新内容到位，再写标记
	if err := os.Rename(staged, dst); err != nil {
		return err
	}
	return writeFileAtomic(dst+types.CommitSuffix, marker)
}

// exportReflection 把镜像拷贝到调用方的缓存目录
func (c *Coordinator) exportReflection(hash types.Hash, cacheDir string) error {
	src := c.reflectionPath(hash)
	dst := filepath.Join(cacheDir, hash.String())

	marker, err := os.ReadFile(src + types.CommitSuffix)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(cacheDir, exportPattern)
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := copyTree(tmp, src); err != nil {
		return fmt.Errorf("export %s: %w", hash, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		// 另一个调用已经导出了同样的内容
		if !isDir(dst) {
			return fmt.Errorf("export %s: %w", hash, err)
		}
	}
	return writeFileAtomic(dst+types.CommitSuffix, marker)
}

// mirror 用刚上传的内容刷新本地镜像
func (c *Coordinator) mirror(hash types.Hash, contentDir string, marker []byte) error {
	tmp, err := c.stage()
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	staged := filepath.Join(tmp, hash.String())
	if err := copyTree(staged, contentDir); err != nil {
		return err
	}
	return c.publish(hash, staged, marker)
}

// copyTree 把 src 目录复制到 dst (dst 不存在或为空)
func copyTree(dst, src string) error {
	return os.CopyFS(dst, os.DirFS(src))
}

// writeFileAtomic 先写临时文件再 rename，读者不会看到截断的内容
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	defer os.Remove(tmpName)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
