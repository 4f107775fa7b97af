package ignore

import (
	"fmt"
	"os"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Matcher 封装了上传时的排除逻辑
// 它负责判断产物目录里的某个文件是否不应该进入远端缓存
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 使用 gitignore 语法编译排除规则
// ignoreFile: 可选，规则文件路径
// patterns:   可选，额外的规则 (来自配置)
// 两者都为空时返回 nil，nil Matcher 不排除任何文件
func NewMatcher(ignoreFile string, patterns ...string) (*Matcher, error) {
	if ignoreFile == "" && len(patterns) == 0 {
		return nil, nil
	}

	var ignorer *gitignore.GitIgnore
	var err error

	if ignoreFile != "" {
		// 显式指定的规则文件必须存在，写错路径应该尽早暴露
		if _, errStat := os.Stat(ignoreFile); errStat != nil {
			return nil, fmt.Errorf("ignore file: %w", errStat)
		}
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFile, patterns...)
	} else {
		ignorer = gitignore.CompileIgnoreLines(patterns...)
	}
	if err != nil {
		return nil, err
	}

	return &Matcher{ignorer: ignorer}, nil
}

// Matches 检查给定的路径是否匹配排除规则
// path: 相对于产物根目录的路径 (例如 "dist/main.js.map")
// 返回: true 表示应该跳过
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(path)
}
