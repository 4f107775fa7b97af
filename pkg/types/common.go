// pkg/types/common.go
package types

import (
	"errors"
	"fmt"
	"strings"
)

// CommitSuffix 是提交标记 (Commit Marker) 的 Key 后缀
const CommitSuffix = ".commit"

var ErrInvalidHash = errors.New("invalid hash")

// Hash 代表一次任务执行的输入指纹，由外部任务引擎计算
// 对本系统来说它是不透明的，只作为寻址 Key 使用
type Hash string

func (h Hash) String() string { return string(h) }

func (h Hash) IsZero() bool { return h == "" }

// ContentPrefix 返回远端内容对象的 Key 前缀: "<hash>"
// 实际对象位于 "<hash>/<relative-path>"
func (h Hash) ContentPrefix() string { return string(h) }

// CommitKey 返回提交标记的 Key: "<hash>.commit"
func (h Hash) CommitKey() string { return string(h) + CommitSuffix }

// Validate 检查 Hash 能否安全地同时作为本地路径段和远端 Key 前缀使用
func (h Hash) Validate() error {
	s := string(h)
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrInvalidHash)
	case s == "." || s == "..":
		return fmt.Errorf("%w: %q", ErrInvalidHash, s)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidHash, s)
	case strings.HasSuffix(s, CommitSuffix):
		// 否则 "<x>.commit" 的内容前缀会和 "<x>" 的提交标记撞车
		return fmt.Errorf("%w: %q ends with %s", ErrInvalidHash, s, CommitSuffix)
	}
	return nil
}

// Outcome 描述一次缓存操作的结果，用于日志、指标和台账
type Outcome string

const (
	OutcomeHitLocal  Outcome = "hit_local"  // 本地镜像命中，没有网络请求
	OutcomeHitRemote Outcome = "hit_remote" // 远端命中并下载
	OutcomeMiss      Outcome = "miss"
	OutcomeStored    Outcome = "stored"
	OutcomeError     Outcome = "error"
)

func (o Outcome) String() string { return string(o) }

// IsHit 对两种命中都返回 true
func (o Outcome) IsHit() bool { return o == OutcomeHitLocal || o == OutcomeHitRemote }
