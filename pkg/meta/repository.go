package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/core"
	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEntryNotFound = errors.New("cache entry not found in ledger")

// Stats 是台账的汇总视图
type Stats struct {
	Entries    int64
	TotalBytes int64
	Hits       int64 // hit_local + hit_remote
	Misses     int64
	Stores     int64
	Errors     int64
}

// HitRatio 命中次数 / 查询次数，没有查询时为 0
func (s Stats) HitRatio() float64 {
	lookups := s.Hits + s.Misses + s.Errors
	if lookups == 0 {
		return 0
	}
	return float64(s.Hits) / float64(lookups)
}

// Repository 封装所有对 SQL 数据库的操作
// 它实现了 coordinator.Recorder
type Repository struct {
	db  *DB
	now func() time.Time
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// -----------------------------------------------------------------------------
// 1. 写入 (Recorder)
// -----------------------------------------------------------------------------

// RecordStore 记录一次成功的 Store
// 同一个 Hash 再次 Store 时覆盖清单，保留命中统计
func (r *Repository) RecordStore(ctx context.Context, m *core.Manifest, d time.Duration) error {
	manifestJSON, err := json.Marshal(m.Files)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	digest, err := m.Digest()
	if err != nil {
		return fmt.Errorf("failed to digest manifest: %w", err)
	}

	now := r.now()
	entry := EntryModel{
		Hash:           m.Hash.String(),
		Files:          len(m.Files),
		SizeBytes:      m.TotalSize,
		Manifest:       datatypes.JSON(manifestJSON),
		ManifestDigest: digest,
		StoredAt:       now,
	}

	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"files", "size_bytes", "manifest", "manifest_digest", "stored_at"}),
		}).Create(&entry).Error
		if err != nil {
			return fmt.Errorf("failed to upsert entry: %w", err)
		}
		return tx.Create(&EventModel{
			Hash:       entry.Hash,
			Kind:       types.OutcomeStored.String(),
			DurationMS: d.Milliseconds(),
			CreatedAt:  now,
		}).Error
	})
}

// RecordRetrieve 记录一次 Retrieve，命中时累加 Entry 的命中次数
func (r *Repository) RecordRetrieve(ctx context.Context, hash types.Hash, outcome types.Outcome, d time.Duration) error {
	now := r.now()
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&EventModel{
			Hash:       hash.String(),
			Kind:       outcome.String(),
			DurationMS: d.Milliseconds(),
			CreatedAt:  now,
		}).Error; err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		if !outcome.IsHit() {
			return nil
		}

		// SQL: UPDATE entries SET hits = hits + 1, last_hit_at = ? WHERE hash = ?
		result := tx.Model(&EntryModel{}).
			Where("hash = ?", hash.String()).
			Updates(map[string]any{
				"hits":        gorm.Expr("hits + 1"),
				"last_hit_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		// 别的机器写入的 Entry，本机台账里还没有
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&EntryModel{
			Hash:      hash.String(),
			LastHitAt: &now,
			Hits:      1,
		}).Error
	})
}

// -----------------------------------------------------------------------------
// 2. 查询
// -----------------------------------------------------------------------------

func (r *Repository) GetEntry(ctx context.Context, hash types.Hash) (*EntryModel, error) {
	var entry EntryModel
	err := r.db.GetConn().WithContext(ctx).
		Where("hash = ?", hash.String()).
		First(&entry).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecentEvents 返回最新的 limit 条流水，最新的在前
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]EventModel, error) {
	var events []EventModel
	err := r.db.GetConn().WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	conn := r.db.GetConn().WithContext(ctx)

	if err := conn.Model(&EntryModel{}).Count(&s.Entries).Error; err != nil {
		return s, err
	}
	if err := conn.Model(&EntryModel{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&s.TotalBytes).Error; err != nil {
		return s, err
	}

	var rows []struct {
		Kind  string
		Count int64
	}
	if err := conn.Model(&EventModel{}).
		Select("kind, COUNT(*) AS count").
		Group("kind").
		Scan(&rows).Error; err != nil {
		return s, err
	}
	for _, row := range rows {
		switch types.Outcome(row.Kind) {
		case types.OutcomeHitLocal, types.OutcomeHitRemote:
			s.Hits += row.Count
		case types.OutcomeMiss:
			s.Misses += row.Count
		case types.OutcomeStored:
			s.Stores += row.Count
		case types.OutcomeError:
			s.Errors += row.Count
		}
	}
	return s, nil
}
