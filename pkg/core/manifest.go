package core

import (
	"sort"
	"strings"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/types"
)

// FileEntry 是 Cache Entry 里的一个文件
type FileEntry struct {
	Path string `cbor:"p" json:"path"` // 相对于产物根目录，使用 "/" 分隔
	Size int64  `cbor:"s" json:"size"`
}

// Manifest 描述一个 Cache Entry 的内容，用于台账和排查
// 它不会被上传到远端，远端布局只有 "<hash>/..." 和 "<hash>.commit"
type Manifest struct {
	Hash      types.Hash  `cbor:"h" json:"hash"`
	Files     []FileEntry `cbor:"f" json:"files"`
	TotalSize int64       `cbor:"n" json:"total_size"`
}

// NewManifest 根据远端对象列表构造 Manifest
// objects 的 Key 形如 "<hash>/<path>"，这里会剥掉前缀并按路径排序
func NewManifest(hash types.Hash, objects []storage.ObjectInfo) *Manifest {
	prefix := hash.ContentPrefix() + "/"
	m := &Manifest{Hash: hash, Files: make([]FileEntry, 0, len(objects))}
	for _, o := range objects {
		m.Files = append(m.Files, FileEntry{
			Path: strings.TrimPrefix(o.Key, prefix),
			Size: o.Size,
		})
		m.TotalSize += o.Size
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	return m
}

// Digest 返回 Manifest 的内容指纹
// 同一个 Hash 的两次 Store 如果产物一致，Digest 也一致
func (m *Manifest) Digest() (string, error) {
	return Digest(m)
}

func (m *Manifest) Encode() ([]byte, error) {
	return Encode(m)
}

func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := Decode(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkerRecord 是提交标记在 Redis 中的缓存形式
type MarkerRecord struct {
	Body     []byte `cbor:"b"`
	CachedAt int64  `cbor:"t"`
}

func (r MarkerRecord) Encode() ([]byte, error) {
	return Encode(r)
}

func DecodeMarkerRecord(data []byte) (MarkerRecord, error) {
	var r MarkerRecord
	err := Decode(data, &r)
	return r, err
}
