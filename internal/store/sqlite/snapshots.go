package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lpwatch/internal/store"
	"lpwatch/internal/store/model"
	"lpwatch/internal/types"

	"gorm.io/gorm"
)

type SnapshotRepo struct {
	db *gorm.DB
}

var _ store.SnapshotLog = (*SnapshotRepo)(nil)

func (r *SnapshotRepo) Append(ctx context.Context, kind store.Kind, snap types.Snapshot) error {
	if !kind.Valid() {
		return fmt.Errorf("sqlite: unknown kind %q", kind)
	}
	if snap.Key == "" {
		return fmt.Errorf("sqlite: empty key")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	row := &model.SnapshotModel{
		Kind:      string(kind),
		Key:       snap.Key,
		Timestamp: snap.Timestamp.UnixNano(),
		PoolID:    snap.PoolID,
		Payload:   payload,
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *SnapshotRepo) Load(ctx context.Context, kind store.Kind, key string, since time.Time) ([]types.Snapshot, error) {
	var rows []model.SnapshotModel
	q := r.db.WithContext(ctx).
		Where("kind = ? AND snap_key = ?", string(kind), key)
	if !since.IsZero() {
		q = q.Where("ts_ns >= ?", since.UnixNano())
	}
	if err := q.Order("ts_ns ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Snapshot, 0, len(rows))
	for _, row := range rows {
		var snap types.Snapshot
		if err := json.Unmarshal(row.Payload, &snap); err != nil {
			log.Warnf("跳过无法解析的快照 id=%d key=%s err=%v", row.ID, row.Key, err)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (r *SnapshotRepo) Prune(ctx context.Context, kind store.Kind, key string, before time.Time) (int, error) {
	res := r.db.WithContext(ctx).
		Where("kind = ? AND snap_key = ? AND ts_ns < ?", string(kind), key, before.UnixNano()).
		Delete(&model.SnapshotModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *SnapshotRepo) Keys(ctx context.Context, kind store.Kind) ([]string, error) {
	var keys []string
	if err := r.db.WithContext(ctx).
		Model(&model.SnapshotModel{}).
		Where("kind = ?", string(kind)).
		Distinct().
		Order("snap_key ASC").
		Pluck("snap_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// Close is a no-op; the owning SqliteStore closes the connection.
func (r *SnapshotRepo) Close() error { return nil }
