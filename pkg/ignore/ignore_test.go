package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Empty(t *testing.T) {
	matcher, err := NewMatcher("")
	require.NoError(t, err)
	assert.Nil(t, matcher)

	// nil Matcher 不排除任何东西
	assert.False(t, matcher.Matches("anything.txt"))
}

func TestMatcher_Patterns(t *testing.T) {
	matcher, err := NewMatcher("", "*.map", "tmp/")
	require.NoError(t, err)

	tests := []struct {
		path     string
		shouldIg bool
	}{
		{"main.js.map", true},
		{"dist/main.js.map", true}, // 递归生效
		{"tmp/scratch", true},
		{"main.js", false},
		{"dist/index.html", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_WithFile(t *testing.T) {
	tmpDir := t.TempDir()

	ignoreContent := `
# 这是注释
*.log
!important.log
`
	ignoreFile := filepath.Join(tmpDir, ".dcacheignore")
	require.NoError(t, os.WriteFile(ignoreFile, []byte(ignoreContent), 0644))

	matcher, err := NewMatcher(ignoreFile, ".DS_Store")
	require.NoError(t, err)

	tests := []struct {
		path     string
		shouldIg bool
	}{
		{"build.log", true},
		{"logs/error.log", true},
		{".DS_Store", true}, // 配置里的额外规则
		{"main.js", false},
		{"important.log", false}, // 负向规则
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_MissingFile(t *testing.T) {
	_, err := NewMatcher(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
