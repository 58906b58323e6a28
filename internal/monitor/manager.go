package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	cfgloader "lpwatch/internal/config/loader"
	"lpwatch/internal/decision"
	"lpwatch/internal/scheduler"
	"lpwatch/internal/types"
)

// Manager 持有唯一的调度器；每次 Replace 先停止旧任务再按新配置启动。
type Manager struct {
	svc      *Service
	sched    *scheduler.Scheduler
	cadences CadenceSet

	mu      sync.Mutex
	baseCtx context.Context
	version int64
}

func NewManager(svc *Service, sched *scheduler.Scheduler, cadences CadenceSet) *Manager {
	if sched == nil {
		sched = scheduler.New()
	}
	return &Manager{svc: svc, sched: sched, cadences: cadences, baseCtx: context.Background()}
}

// Start binds the scheduler lifetime to ctx and applies cfg.
func (m *Manager) Start(ctx context.Context, cfg types.MonitoringConfig) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
	return m.Replace(cfg)
}

// Replace 整体替换监控配置。未启用任何档位时旧调度器同样被停止。
// 配置与任务先全部校验，失败时旧配置与旧调度器保持不变。
func (m *Manager) Replace(cfg types.MonitoringConfig) error {
	if cfg.Policy != "" {
		if _, err := decision.PolicyByName(cfg.Policy); err != nil {
			return err
		}
	}
	if err := cfgloader.ValidateOwner(strings.TrimSpace(cfg.Owner)); err != nil {
		return err
	}
	jobs := m.svc.Jobs(cfg, m.cadences)
	if err := scheduler.ValidateJobs(jobs...); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.svc.Config()
	m.version++
	cfg.Version = m.version
	m.svc.SetConfig(cfg)

	handle, err := m.sched.Start(m.baseCtx, jobs...)
	if errors.Is(err, scheduler.ErrNoJobs) {
		log.Warnf("monitoring v%d: 未启用任何档位，调度器已停止", cfg.Version)
		return nil
	}
	if err != nil {
		m.svc.SetConfig(prev)
		m.version--
		return fmt.Errorf("start scheduler: %w", err)
	}
	log.Infof("monitoring v%d: owner=%s policy=%s auto_apply=%v positions=%d pools=%d jobs=%v",
		cfg.Version, cfg.Owner, cfg.Policy, cfg.AutoApply, len(cfg.Positions), len(cfg.Pools), handle.Jobs())
	return nil
}

// Current returns the active config.
func (m *Manager) Current() types.MonitoringConfig { return m.svc.Config() }

// Running reports the names of the jobs currently armed.
func (m *Manager) Running() []string {
	h := m.sched.Active()
	if h == nil || h.Stopped() {
		return nil
	}
	return h.Jobs()
}

func (m *Manager) Service() *Service { return m.svc }

// LastRuns returns the most recent run summary of every job.
func (m *Manager) LastRuns() []JobStatus { return m.svc.LastRuns() }

// Analyze 手动分析单个仓位，policy 为空时使用当前配置的策略。
func (m *Manager) Analyze(ctx context.Context, positionID, policy string) (types.RebalanceDecision, error) {
	return m.svc.Analyze(ctx, positionID, policy)
}

// Stop stops the scheduler and waits for in-flight runs.
func (m *Manager) Stop(ctx context.Context) error {
	return m.sched.Shutdown(ctx)
}
