package app

import (
	"fmt"
	"path/filepath"
	"strings"

	brcfg "lpwatch/internal/config"
	"lpwatch/internal/logger"
	"lpwatch/internal/store"
	"lpwatch/internal/store/decisionlog"
	"lpwatch/internal/store/jsonfile"
	"lpwatch/internal/store/sqlite"
)

// StorageStack 为快照日志、调仓历史与决策日志三类存储。Decisions 可为空（memory 后端）。
type StorageStack struct {
	Backend   string
	Snapshots store.SnapshotLog
	History   store.HistoryLog
	Decisions *decisionlog.DecisionLogStore

	closers []func() error
}

// Close 按创建的逆序释放资源。
func (s *StorageStack) Close() error {
	if s == nil {
		return nil
	}
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

func buildStorageStack(cfg brcfg.StorageConfig) (*StorageStack, error) {
	stack := &StorageStack{Backend: cfg.Backend}
	success := false
	defer func() {
		if !success {
			_ = stack.Close()
		}
	}()

	switch cfg.Backend {
	case brcfg.BackendMemory:
		stack.Snapshots = store.NewMemorySnapshotLog()
		stack.History = store.NewMemoryHistoryLog()
		logger.Warnf("storage.backend=memory：快照与调仓历史不会持久化，决策日志未启用")
	case brcfg.BackendJSONFile:
		snaps, err := jsonfile.NewSnapshotLog(cfg.Dir)
		if err != nil {
			return nil, err
		}
		history, err := jsonfile.NewHistoryLog(filepath.Join(cfg.Dir, "history.json"))
		if err != nil {
			return nil, err
		}
		stack.Snapshots, stack.History = snaps, history
		if err := stack.openDecisionLog(cfg.DecisionLogPath); err != nil {
			return nil, err
		}
	case brcfg.BackendSQLite:
		db, err := sqlite.NewSqliteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("初始化 sqlite 存储失败: %w", err)
		}
		stack.closers = append(stack.closers, db.Close)
		stack.Snapshots, stack.History = db.Snapshots(), db.History()
		if samePath(cfg.DecisionLogPath, cfg.SQLitePath) {
			// 决策日志与快照共用同一个库，避免多连接锁冲突
			sqlDB, err := db.SQLDB()
			if err != nil {
				return nil, fmt.Errorf("获取 SQL DB 失败: %w", err)
			}
			logs := &decisionlog.DecisionLogStore{}
			if err := logs.UseExternalDB(sqlDB); err != nil {
				return nil, fmt.Errorf("绑定决策日志存储失败: %w", err)
			}
			stack.Decisions = logs
		} else if err := stack.openDecisionLog(cfg.DecisionLogPath); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	stack.closers = append(stack.closers, stack.Snapshots.Close, stack.History.Close)
	success = true
	logger.Infof("✓ 存储后端: %s (decision log: %v)", cfg.Backend, stack.Decisions != nil)
	return stack, nil
}

func (s *StorageStack) openDecisionLog(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	logs, err := decisionlog.NewDecisionLogStore(path)
	if err != nil {
		return fmt.Errorf("初始化决策日志失败: %w", err)
	}
	s.Decisions = logs
	s.closers = append(s.closers, logs.Close)
	return nil
}

func samePath(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
