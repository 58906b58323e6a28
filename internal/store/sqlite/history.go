package sqlite

import (
	"context"
	"encoding/json"

	"lpwatch/internal/logger"
	"lpwatch/internal/store"
	"lpwatch/internal/store/model"
	"lpwatch/internal/types"

	"gorm.io/gorm"
)

var log = logger.Named("store.sqlite")

type HistoryRepo struct {
	db *gorm.DB
}

var _ store.HistoryLog = (*HistoryRepo)(nil)

func (r *HistoryRepo) Append(ctx context.Context, entry types.RebalanceHistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model.RebalanceHistoryModel{
		EntryID:       entry.ID,
		Timestamp:     entry.Timestamp.UnixNano(),
		PoolID:        entry.PoolID,
		OldPositionID: entry.OldPositionID,
		NewPositionID: entry.NewPositionID,
		Reason:        string(entry.Reason),
		Payload:       payload,
	}).Error
}

func (r *HistoryRepo) List(ctx context.Context, filter store.HistoryFilter) ([]types.RebalanceHistoryEntry, error) {
	var rows []model.RebalanceHistoryModel
	q := r.db.WithContext(ctx)
	if filter.PoolID != "" {
		q = q.Where("pool_id = ?", filter.PoolID)
	}
	if filter.PositionID != "" {
		q = q.Where("old_position_id = ? OR new_position_id = ?", filter.PositionID, filter.PositionID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("ts_ns >= ?", filter.Since.UnixNano())
	}
	q = q.Order("ts_ns DESC, id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.RebalanceHistoryEntry, 0, len(rows))
	for _, row := range rows {
		var e types.RebalanceHistoryEntry
		if err := json.Unmarshal(row.Payload, &e); err != nil {
			log.Warnf("跳过无法解析的调仓记录 id=%d err=%v", row.ID, err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *HistoryRepo) Close() error { return nil }
