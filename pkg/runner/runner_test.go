package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/coordinator"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage/disk"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/transfer"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache 记录调用并返回预设结果
type fakeCache struct {
	hit         bool
	retrieveErr error
	storeErr    error
	retrieves   int
	stores      int
}

func (f *fakeCache) Retrieve(ctx context.Context, hash types.Hash, cacheDir string) (bool, error) {
	f.retrieves++
	return f.hit, f.retrieveErr
}

func (f *fakeCache) Store(ctx context.Context, hash types.Hash, cacheDir string) (bool, error) {
	f.stores++
	if f.storeErr != nil {
		return false, f.storeErr
	}
	return true, nil
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newTestRunner(t *testing.T, cache Cache, cacheDir string) (*Runner, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	r, err := New(cache, Options{CacheDir: cacheDir, Stdout: &out, Stderr: &out})
	require.NoError(t, err)
	return r, &out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{CacheDir: "x"})
	assert.Error(t, err)
	_, err = New(&fakeCache{}, Options{})
	assert.Error(t, err)
}

func TestRun_HitSkipsCommand(t *testing.T) {
	cache := &fakeCache{hit: true}
	r, out := newTestRunner(t, cache, t.TempDir())

	report, err := r.Run(context.Background(), "abc123", []string{"false"})
	require.NoError(t, err)
	assert.True(t, report.Hit)
	assert.False(t, report.Ran)
	assert.Zero(t, cache.stores)
	assert.Empty(t, out.String())
}

func TestRun_MissRunsAndStores(t *testing.T) {
	requireShell(t)
	cache := &fakeCache{}
	cacheDir := t.TempDir()
	r, out := newTestRunner(t, cache, cacheDir)

	script := `echo "built $DCACHE_HASH"; printf hello > "$DCACHE_OUTPUT_DIR/out.txt"`
	report, err := r.Run(context.Background(), "abc123", []string{"sh", "-c", script})
	require.NoError(t, err)

	assert.False(t, report.Hit)
	assert.True(t, report.Ran)
	assert.True(t, report.Stored)
	assert.Equal(t, 1, cache.stores)
	assert.Contains(t, out.String(), "built abc123")

	data, err := os.ReadFile(filepath.Join(cacheDir, "abc123", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.FileExists(t, filepath.Join(cacheDir, "abc123.commit"))
}

func TestRun_CommandFailureIsNotStored(t *testing.T) {
	requireShell(t)
	cache := &fakeCache{}
	cacheDir := t.TempDir()
	r, _ := newTestRunner(t, cache, cacheDir)

	script := `printf partial > "$DCACHE_OUTPUT_DIR/out.txt"; exit 3`
	_, err := r.Run(context.Background(), "broken", []string{"sh", "-c", script})
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())

	assert.Zero(t, cache.stores)
	// 残留产物会被下次 Retrieve 当成本地命中
	assert.NoDirExists(t, filepath.Join(cacheDir, "broken"))
	assert.NoFileExists(t, filepath.Join(cacheDir, "broken.commit"))

	// 临时输出目录也被清理
	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_StoreFailureDoesNotFailCommand(t *testing.T) {
	requireShell(t)
	boom := errors.New("bucket gone")
	cache := &fakeCache{storeErr: boom, retrieveErr: errors.New("network down")}
	r, _ := newTestRunner(t, cache, t.TempDir())

	report, err := r.Run(context.Background(), "h", []string{"sh", "-c", "true"})
	require.NoError(t, err)
	assert.True(t, report.Ran)
	assert.False(t, report.Stored)
	assert.ErrorIs(t, report.StoreErr, boom)
}

func TestRun_InvalidInput(t *testing.T) {
	r, _ := newTestRunner(t, &fakeCache{}, t.TempDir())

	_, err := r.Run(context.Background(), "../x", []string{"true"})
	assert.ErrorIs(t, err, types.ErrInvalidHash)

	_, err = r.Run(context.Background(), "ok", nil)
	assert.Error(t, err)
}

func TestRun_WithCoordinator(t *testing.T) {
	requireShell(t)
	ctx := context.Background()

	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	newCoordinator := func() *coordinator.Coordinator {
		c, err := coordinator.New(store, transfer.New(store, transfer.Options{}), coordinator.Options{
			RemoteDirectory: t.TempDir(),
		})
		require.NoError(t, err)
		return c
	}

	script := `printf hello > "$DCACHE_OUTPUT_DIR/out.txt"`

	// 机器 A: 未命中，执行并上传
	a, _ := newTestRunner(t, newCoordinator(), t.TempDir())
	report, err := a.Run(ctx, "abc123", []string{"sh", "-c", script})
	require.NoError(t, err)
	assert.True(t, report.Ran)
	assert.True(t, report.Stored)

	// 机器 B: 命中远端，不执行命令
	dirB := t.TempDir()
	b, _ := newTestRunner(t, newCoordinator(), dirB)
	report, err = b.Run(ctx, "abc123", []string{"sh", "-c", "exit 1"})
	require.NoError(t, err)
	assert.True(t, report.Hit)

	data, err := os.ReadFile(filepath.Join(dirB, "abc123", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestRun_OutputInvisibleWhileRunning(t *testing.T) {
	requireShell(t)
	ctx := context.Background()

	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	c, err := coordinator.New(store, transfer.New(store, transfer.Options{}), coordinator.Options{
		RemoteDirectory: t.TempDir(),
	})
	require.NoError(t, err)

	cacheDir := t.TempDir()
	signals := t.TempDir()
	started := filepath.Join(signals, "started")
	release := filepath.Join(signals, "release")

	// 命令先写一部分产物，然后等待放行
	script := `printf partial > "$DCACHE_OUTPUT_DIR/out.txt"; touch "` + started + `"
while [ ! -f "` + release + `" ]; do sleep 0.05; done
printf built > "$DCACHE_OUTPUT_DIR/out.txt"`

	r, _ := newTestRunner(t, c, cacheDir)
	type result struct {
		report Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := r.Run(ctx, "job", []string{"sh", "-c", script})
		done <- result{report, err}
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(started)
		return err == nil
	}, 10*time.Second, 10*time.Millisecond)

	// 命令还在执行: 同一个缓存目录上的 Retrieve 必须是未命中
	hit, err := c.Retrieve(ctx, "job", cacheDir)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoDirExists(t, filepath.Join(cacheDir, "job"))

	require.NoError(t, os.WriteFile(release, nil, 0644))
	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.report.Ran)
	assert.True(t, res.report.Stored)

	data, err := os.ReadFile(filepath.Join(cacheDir, "job", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built", string(data))
	assert.FileExists(t, filepath.Join(cacheDir, "job.commit"))

	hit, err = c.Retrieve(ctx, "job", cacheDir)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestRun_IgnoresLeftoverWorkDir(t *testing.T) {
	requireShell(t)
	cacheDir := t.TempDir()

	// 上一次执行被杀掉，只留下临时目录
	leftover := filepath.Join(cacheDir, ".dcache-out-123")
	require.NoError(t, os.MkdirAll(leftover, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(leftover, "out.txt"), []byte("partial"), 0644))

	cache := &fakeCache{}
	r, _ := newTestRunner(t, cache, cacheDir)
	report, err := r.Run(context.Background(), "job", []string{"sh", "-c", `printf built > "$DCACHE_OUTPUT_DIR/out.txt"`})
	require.NoError(t, err)
	assert.True(t, report.Ran)

	data, err := os.ReadFile(filepath.Join(cacheDir, "job", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built", string(data))
}
