package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lpwatch/internal/logger"
	"lpwatch/internal/types"

	_ "modernc.org/sqlite"
)

// DefaultRetention 决策日志默认保留 30 天。
const DefaultRetention = 30 * 24 * time.Hour

// DecisionLogStore 记录每一次调仓决策（无论是否执行），方便事后排查。
type DecisionLogStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

// DecisionLogRecord 代表一条决策记录；Decision 为完整的决策结果。
type DecisionLogRecord struct {
	ID              int64                   `json:"id"`
	TraceID         string                  `json:"trace_id"`
	Timestamp       int64                   `json:"ts"`
	PositionID      string                  `json:"position_id"`
	PoolID          string                  `json:"pool_id"`
	Policy          string                  `json:"policy"`
	Trigger         string                  `json:"trigger"`
	Urgency         types.Urgency           `json:"urgency"`
	ShouldRebalance bool                    `json:"should_rebalance"`
	Applied         bool                    `json:"applied"`
	Error           string                  `json:"error,omitempty"`
	Decision        types.RebalanceDecision `json:"decision"`
}

// DecisionQuery 用于筛选决策日志。
type DecisionQuery struct {
	PositionID string
	PoolID     string
	MinUrgency types.Urgency
	Limit      int
	Offset     int
}

// NewDecisionLogStore 初始化 SQLite 存储。
func NewDecisionLogStore(path string) (*DecisionLogStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("decision log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureDecisionLogSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DecisionLogStore{db: db, path: path, ownsDB: true}, nil
}

// UseExternalDB 复用外部已打开的连接（例如快照库），避免多连接锁冲突。
func (s *DecisionLogStore) UseExternalDB(db *sql.DB) error {
	if s == nil {
		return fmt.Errorf("decision log store 未初始化")
	}
	if db == nil {
		return fmt.Errorf("external db 不能为空")
	}
	if err := ensureDecisionLogSchema(db); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownsDB && s.db != nil && s.db != db {
		_ = s.db.Close()
	}
	s.db = db
	s.ownsDB = false
	return nil
}

// Close 关闭底层 DB。
func (s *DecisionLogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *DecisionLogStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("decision log store 未初始化")
	}
	return db, nil
}

func ensureDecisionLogSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rebalance_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT,
			ts INTEGER NOT NULL,
			position_id TEXT NOT NULL,
			pool_id TEXT,
			policy TEXT,
			trigger_name TEXT,
			urgency INTEGER NOT NULL DEFAULT 0,
			should_rebalance INTEGER NOT NULL DEFAULT 0,
			applied INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			decision_json TEXT,
			created_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rebalance_decisions_ts ON rebalance_decisions(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_rebalance_decisions_position ON rebalance_decisions(position_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert 写入一条日志。
func (s *DecisionLogStore) Insert(ctx context.Context, rec DecisionLogRecord) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	ts := rec.Timestamp
	if ts == 0 {
		if !rec.Decision.EvaluatedAt.IsZero() {
			ts = rec.Decision.EvaluatedAt.UnixMilli()
		} else {
			ts = time.Now().UnixMilli()
		}
	}
	if rec.PositionID == "" {
		rec.PositionID = rec.Decision.PositionID
	}
	if rec.PoolID == "" {
		rec.PoolID = rec.Decision.PoolID
	}
	if rec.TraceID == "" {
		rec.TraceID = rec.Decision.TraceID
	}
	if rec.Policy == "" {
		rec.Policy = rec.Decision.Policy
	}
	if rec.Trigger == "" {
		rec.Trigger = rec.Decision.Trigger
	}
	payload, err := json.Marshal(rec.Decision)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO rebalance_decisions
			(trace_id, ts, position_id, pool_id, policy, trigger_name, urgency, should_rebalance,
			 applied, error, decision_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID,
		ts,
		rec.PositionID,
		rec.PoolID,
		rec.Policy,
		rec.Trigger,
		int(rec.Decision.Urgency),
		boolToInt(rec.Decision.ShouldRebalance),
		boolToInt(rec.Applied),
		rec.Error,
		string(payload),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// RecordDecision 是 Insert 的便捷封装。
func (s *DecisionLogStore) RecordDecision(ctx context.Context, d types.RebalanceDecision, applied bool, execErr error) error {
	rec := DecisionLogRecord{Decision: d, Applied: applied}
	if execErr != nil {
		rec.Error = execErr.Error()
	}
	_, err := s.Insert(ctx, rec)
	return err
}

func buildDecisionFilter(q DecisionQuery) (string, []interface{}) {
	var args []interface{}
	var sb strings.Builder
	sb.WriteString(" WHERE 1=1")
	if id := strings.TrimSpace(q.PositionID); id != "" {
		sb.WriteString(" AND position_id=?")
		args = append(args, id)
	}
	if id := strings.TrimSpace(q.PoolID); id != "" {
		sb.WriteString(" AND pool_id=?")
		args = append(args, id)
	}
	if q.MinUrgency > types.UrgencyNone {
		sb.WriteString(" AND urgency>=?")
		args = append(args, int(q.MinUrgency))
	}
	return sb.String(), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const selectColumns = `SELECT id, trace_id, ts, position_id, pool_id, policy, trigger_name, urgency,
		should_rebalance, applied, error, decision_json FROM rebalance_decisions`

func scanDecisionLogRecord(scanner rowScanner) (DecisionLogRecord, error) {
	var (
		rec      DecisionLogRecord
		traceID  sql.NullString
		poolID   sql.NullString
		policy   sql.NullString
		trigger  sql.NullString
		urgency  int
		should   sql.NullInt64
		applied  sql.NullInt64
		errorStr sql.NullString
		payload  sql.NullString
	)
	if err := scanner.Scan(&rec.ID, &traceID, &rec.Timestamp, &rec.PositionID, &poolID, &policy, &trigger,
		&urgency, &should, &applied, &errorStr, &payload); err != nil {
		return rec, err
	}
	rec.TraceID = traceID.String
	rec.PoolID = poolID.String
	rec.Policy = policy.String
	rec.Trigger = trigger.String
	rec.Urgency = types.Urgency(urgency)
	rec.ShouldRebalance = nullIntToBool(should)
	rec.Applied = nullIntToBool(applied)
	rec.Error = errorStr.String
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &rec.Decision); err != nil {
			logger.Warnf("decision log %d: decode payload: %v", rec.ID, err)
		}
	}
	return rec, nil
}

// GetDecision 根据主键 ID 返回单条记录。
func (s *DecisionLogStore) GetDecision(ctx context.Context, id int64) (DecisionLogRecord, error) {
	var rec DecisionLogRecord
	if id <= 0 {
		return rec, fmt.Errorf("invalid decision id")
	}
	db, err := s.handle()
	if err != nil {
		return rec, err
	}
	row := db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	return scanDecisionLogRecord(row)
}

// ListDecisions 返回最新的决策日志。
func (s *DecisionLogStore) ListDecisions(ctx context.Context, q DecisionQuery) ([]DecisionLogRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	filterSQL, args := buildDecisionFilter(q)
	var sb strings.Builder
	sb.WriteString(selectColumns)
	sb.WriteString(filterSQL)
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []DecisionLogRecord
	for rows.Next() {
		rec, err := scanDecisionLogRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// Prune 删除早于 before 的记录。
func (s *DecisionLogStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM rebalance_decisions WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIntToBool(v sql.NullInt64) bool {
	return v.Valid && v.Int64 != 0
}
