package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupIntegrationEnv 搭建一个使用 真实文件系统 + sqlite 台账 的集成环境
// 远端用 disk 后端模拟，返回配置文件路径和工作目录
func setupIntegrationEnv(t *testing.T, ledger bool) (string, string) {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := fmt.Sprintf(`
storage:
  type: disk
  path: %s
cache:
  remote_directory: %s
meta:
  enabled: %t
  driver: sqlite
  dsn: %s
log:
  level: warn
`,
		filepath.Join(tmpDir, "bucket"),
		filepath.Join(tmpDir, "reflection"),
		ledger,
		filepath.Join(tmpDir, "ledger.db"),
	)
	cfgFile := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(cfg), 0644))
	return cfgFile, tmpDir
}

// runCLI 执行一次完整的命令 (包括配置加载和 App 组装)
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// rootCmd 是全局的，上一次执行设置的 flag 要清掉
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)

	err := execute(context.Background())
	return out.String(), err
}

// writeArtifact 模拟任务引擎写出产物和本地标记
func writeArtifact(t *testing.T, cacheDir, hash, name, content string) {
	t.Helper()
	dir := filepath.Join(cacheDir, hash)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	require.NoError(t, os.WriteFile(dir+".commit", []byte("true"), 0644))
}

func TestCLI_StoreRetrieveFlow(t *testing.T) {
	cfgFile, tmpDir := setupIntegrationEnv(t, true)
	machineA := filepath.Join(tmpDir, "a")
	machineB := filepath.Join(tmpDir, "b")

	writeArtifact(t, machineA, "abc123", "out.txt", "hello")

	// 1. store
	out, err := runCLI(t, "--config", cfgFile, "--cache-dir", machineA, "store", "abc123")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored abc123")

	// 2. ls
	out, err = runCLI(t, "--config", cfgFile, "--cache-dir", machineA, "ls", "abc123")
	require.NoError(t, err)
	assert.Contains(t, out, "abc123/out.txt")
	assert.Contains(t, out, "committed")

	// 3. 另一台机器 retrieve (独立的镜像目录)
	out, err = runCLI(t, "--config", cfgFile, "--cache-dir", machineB,
		"--remote-directory", filepath.Join(tmpDir, "reflection-b"), "retrieve", "abc123")
	require.NoError(t, err)
	assert.Contains(t, out, "HIT abc123")

	data, err := os.ReadFile(filepath.Join(machineB, "abc123", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// 4. stats
	out, err = runCLI(t, "--config", cfgFile, "--cache-dir", machineB, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "1 entries")
	assert.Contains(t, out, "hit_remote")
}

func TestCLI_RetrieveMiss(t *testing.T) {
	cfgFile, tmpDir := setupIntegrationEnv(t, false)
	cacheDir := filepath.Join(tmpDir, "cache")

	out, err := runCLI(t, "--config", cfgFile, "--cache-dir", cacheDir, "retrieve", "missing")
	require.NoError(t, err, "未命中不是错误")
	assert.Contains(t, out, "MISS missing")
	assert.NoDirExists(t, filepath.Join(cacheDir, "missing"))
}

func TestCLI_InvalidHash(t *testing.T) {
	cfgFile, tmpDir := setupIntegrationEnv(t, false)

	_, err := runCLI(t, "--config", cfgFile, "--cache-dir", tmpDir, "retrieve", "../etc")
	assert.Error(t, err)
}

func TestCLI_StatsWithoutLedger(t *testing.T) {
	cfgFile, tmpDir := setupIntegrationEnv(t, false)

	_, err := runCLI(t, "--config", cfgFile, "--cache-dir", tmpDir, "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger is disabled")
}

func TestCLI_Exec(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cfgFile, tmpDir := setupIntegrationEnv(t, false)
	machineA := filepath.Join(tmpDir, "a")
	machineB := filepath.Join(tmpDir, "b")

	script := `printf built > "$DCACHE_OUTPUT_DIR/out.txt"; echo ran`
	out, err := runCLI(t, "--config", cfgFile, "--cache-dir", machineA, "exec", "job1", "--", "sh", "-c", script)
	require.NoError(t, err)
	assert.Contains(t, out, "ran")

	// 第二台机器命中，命令不会执行 (否则会失败)
	out, err = runCLI(t, "--config", cfgFile, "--cache-dir", machineB,
		"--remote-directory", filepath.Join(tmpDir, "reflection-b"), "exec", "job1", "--", "sh", "-c", "exit 1")
	require.NoError(t, err)
	assert.NotContains(t, out, "ran")

	data, err := os.ReadFile(filepath.Join(machineB, "job1", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built", string(data))
}
