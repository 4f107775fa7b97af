package meta

import (
	"time"

	"gorm.io/datatypes"
)

// EntryModel 是一个远端 Cache Entry 的台账记录
// 远端本身只有内容和提交标记，这里补充大小、文件清单和命中统计，方便排查
type EntryModel struct {
	// Hash 是主键 (任务输入指纹)
	Hash string `gorm:"primaryKey;type:varchar(255)"`

	Files     int   `gorm:"not null;default:0"`
	SizeBytes int64 `gorm:"not null;default:0"`

	// Manifest: 文件清单 [{"path": "...", "size": 1}]
	Manifest datatypes.JSON
	// ManifestDigest 是 Manifest 的 CBOR 规范编码指纹，两次 Store 产物不一致时会变化
	ManifestDigest string `gorm:"type:char(64)"`

	StoredAt  time.Time `gorm:"index"`
	LastHitAt *time.Time
	Hits      int64 `gorm:"not null;default:0"`
}

func (EntryModel) TableName() string {
	return "entries"
}

// EventModel 是一次 Retrieve/Store 的流水记录
type EventModel struct {
	ID         uint   `gorm:"primaryKey"`
	Hash       string `gorm:"index;type:varchar(255);not null"`
	Kind       string `gorm:"index;type:varchar(32);not null"` // types.Outcome
	DurationMS int64
	CreatedAt  time.Time `gorm:"index"`
}

func (EventModel) TableName() string {
	return "events"
}

// Models 返回需要迁移的全部表
func Models() []any {
	return []any{&EntryModel{}, &EventModel{}}
}
