package model

import (
	"gorm.io/datatypes"
)

// SnapshotModel 以 (kind, key, ts_ns) 建联合索引，ts_ns 为纳秒时间戳。
type SnapshotModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	Kind      string         `gorm:"column:kind;index:idx_snapshot_lookup,priority:1"`
	Key       string         `gorm:"column:snap_key;index:idx_snapshot_lookup,priority:2"`
	Timestamp int64          `gorm:"column:ts_ns;index:idx_snapshot_lookup,priority:3"`
	PoolID    string         `gorm:"column:pool_id"`
	Payload   datatypes.JSON `gorm:"column:payload;type:TEXT"`
}

func (SnapshotModel) TableName() string { return "snapshots" }

type RebalanceHistoryModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	EntryID       string         `gorm:"column:entry_id;uniqueIndex"`
	Timestamp     int64          `gorm:"column:ts_ns;index"`
	PoolID        string         `gorm:"column:pool_id;index"`
	OldPositionID string         `gorm:"column:old_position_id;index"`
	NewPositionID string         `gorm:"column:new_position_id;index"`
	Reason        string         `gorm:"column:reason"`
	Payload       datatypes.JSON `gorm:"column:payload;type:TEXT"`
}

func (RebalanceHistoryModel) TableName() string { return "rebalance_history" }
