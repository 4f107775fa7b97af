package core

import (
	"testing"
	"time"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManifest(t *testing.T) {
	m := NewManifest("abc123", []storage.ObjectInfo{
		{Key: "abc123/z.txt", Size: 3},
		{Key: "abc123/dir/a.txt", Size: 5},
	})

	assert.Equal(t, int64(8), m.TotalSize)
	assert.Equal(t, []FileEntry{
		{Path: "dir/a.txt", Size: 5},
		{Path: "z.txt", Size: 3},
	}, m.Files, "路径应该去掉前缀并排序")
}

func TestManifest_DigestIsOrderIndependent(t *testing.T) {
	// 上传是并发的，完成顺序不确定，Digest 必须稳定
	a := NewManifest("h", []storage.ObjectInfo{{Key: "h/a", Size: 1}, {Key: "h/b", Size: 2}})
	b := NewManifest("h", []storage.ObjectInfo{{Key: "h/b", Size: 2}, {Key: "h/a", Size: 1}})

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)

	c := NewManifest("h", []storage.ObjectInfo{{Key: "h/a", Size: 1}})
	dc, err := c.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}

func TestManifest_EncodeDecode(t *testing.T) {
	m := NewManifest("abc123", []storage.ObjectInfo{{Key: "abc123/out.txt", Size: 5}})

	data, err := m.Encode()
	require.NoError(t, err)

	decoded, err := DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestMarkerRecord(t *testing.T) {
	r := MarkerRecord{Body: []byte("true"), CachedAt: time.Unix(1700000000, 0).Unix()}
	data, err := r.Encode()
	require.NoError(t, err)

	got, err := DecodeMarkerRecord(data)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = DecodeMarkerRecord([]byte{0xff, 0x00})
	assert.Error(t, err)
}
