package livehttp

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lpwatch/internal/analysis/trend"
	"lpwatch/internal/analysis/visual"
	"lpwatch/internal/config/loader"
	"lpwatch/internal/decision"
	"lpwatch/internal/logger"
	"lpwatch/internal/monitor"
	"lpwatch/internal/scheduler"
	"lpwatch/internal/snapshot"
	"lpwatch/internal/store"
	"lpwatch/internal/store/decisionlog"
	"lpwatch/internal/types"

	"github.com/gin-gonic/gin"
)

const defaultWindow = 24 * time.Hour

// Monitor 为调度管理器暴露给 HTTP 的能力。
type Monitor interface {
	Current() types.MonitoringConfig
	Replace(cfg types.MonitoringConfig) error
	Running() []string
	LastRuns() []monitor.JobStatus
	Analyze(ctx context.Context, positionID, policy string) (types.RebalanceDecision, error)
}

type SnapshotReader interface {
	Range(ctx context.Context, kind store.Kind, key string, window time.Duration) snapshot.Window
}

type HistoryReader interface {
	List(ctx context.Context, filter store.HistoryFilter) ([]types.RebalanceHistoryEntry, error)
}

type DecisionReader interface {
	ListDecisions(ctx context.Context, q decisionlog.DecisionQuery) ([]decisionlog.DecisionLogRecord, error)
	GetDecision(ctx context.Context, id int64) (decisionlog.DecisionLogRecord, error)
}

// Reloader 重新读取 monitoring 文件；成功后由订阅方调用 Monitor.Replace。
type Reloader interface {
	Reload() (loader.Snapshot, error)
}

// renderPNG 可在测试中替换，避免依赖本地 Chrome。
var renderPNG = visual.RenderPNG

// Router 暴露监控状态、快照与决策的查询接口。
type Router struct {
	cfg ServerConfig
}

// NewRouter 构造 HTTP router。
func NewRouter(cfg ServerConfig) *Router {
	return &Router{cfg: cfg}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/monitoring", r.handleMonitoringGet)
	group.PUT("/monitoring", r.handleMonitoringPut)
	group.POST("/monitoring/reload", r.handleMonitoringReload)
	group.GET("/snapshots/:kind/:key", r.handleSnapshots)
	group.GET("/snapshots/:kind/:key/trend", r.handleTrend)
	group.GET("/snapshots/:kind/:key/chart", r.handleChart)
	group.POST("/positions/:id/analyze", r.handleAnalyze)
	group.GET("/history", r.handleHistory)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/decisions/:id", r.handleDecisionByID)
}

func (r *Router) handleStatus(c *gin.Context) {
	cfg := r.cfg.Monitor.Current()
	senders := r.cfg.Senders
	if senders == nil {
		senders = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"version":    cfg.Version,
		"owner":      cfg.Owner,
		"policy":     cfg.Policy,
		"auto_apply": cfg.AutoApply,
		"cadences":   cfg.Cadences,
		"running":    r.cfg.Monitor.Running(),
		"last_runs":  r.cfg.Monitor.LastRuns(),
		"notifiers":  senders,
	})
}

func (r *Router) handleMonitoringGet(c *gin.Context) {
	c.JSON(http.StatusOK, r.cfg.Monitor.Current())
}

func (r *Router) handleMonitoringPut(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty monitoring body"})
		return
	}
	// 与 monitoring.yaml 走同一套校验：schema、owner 公钥、cadences 缺省全开
	cfg, err := loader.ParseMonitoring(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.cfg.Monitor.Replace(cfg); err != nil {
		logger.Warnf("[api] monitoring replace rejected ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] monitoring replaced ip=%s", c.ClientIP())
	c.JSON(http.StatusOK, r.cfg.Monitor.Current())
}

func (r *Router) handleMonitoringReload(c *gin.Context) {
	if r.cfg.Reloader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitoring 文件未配置"})
		return
	}
	snap, err := r.cfg.Reloader.Reload()
	if err != nil {
		logger.Errorf("[api] monitoring reload failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file_version": snap.Version,
		"loaded_at":    snap.LoadedAt,
		"active":       r.cfg.Monitor.Current(),
	})
}

// snapshotWindow 解析 :kind/:key 与 window 参数，失败时已写入响应。
func (r *Router) snapshotWindow(c *gin.Context) (snapshot.Window, store.Kind, bool) {
	if r.cfg.Snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "快照存储未启用"})
		return snapshot.Window{}, "", false
	}
	kind := store.Kind(strings.ToLower(c.Param("kind")))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be intraday or portfolio"})
		return snapshot.Window{}, "", false
	}
	window, ok := parseWindow(c.Query("window"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window"})
		return snapshot.Window{}, "", false
	}
	return r.cfg.Snapshots.Range(c.Request.Context(), kind, c.Param("key"), window), kind, true
}

func (r *Router) handleSnapshots(c *gin.Context) {
	w, kind, ok := r.snapshotWindow(c)
	if !ok {
		return
	}
	items := w.Items
	if items == nil {
		items = []types.Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{
		"kind":             kind,
		"key":              c.Param("key"),
		"count":            len(items),
		"items":            items,
		"price_change_pct": w.PriceChangePct(),
		"value_change":     w.ValueChange(),
	})
}

func (r *Router) handleTrend(c *gin.Context) {
	w, _, ok := r.snapshotWindow(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, trend.Analyze(w.Items))
}

func (r *Router) handleChart(c *gin.Context) {
	w, _, ok := r.snapshotWindow(c)
	if !ok {
		return
	}
	if w.Empty() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshots in window"})
		return
	}
	rep := trend.Analyze(w.Items)
	input := visual.ChartInput{Title: c.Param("key"), Snapshots: w.Items, Report: &rep}
	if strings.EqualFold(c.Query("format"), "png") {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		img, err := renderPNG(ctx, input)
		if err != nil {
			logger.Warnf("[api] chart png failed key=%s err=%v", c.Param("key"), err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", "inline; filename=\""+img.Filename+"\"")
		c.Data(http.StatusOK, "image/png", img.Bytes)
		return
	}
	html, _, err := visual.RenderHTML(input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (r *Router) handleAnalyze(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	d, err := r.cfg.Monitor.Analyze(c.Request.Context(), id, c.Query("policy"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"decision": d, "summary": decision.Summary(d)})
	case errors.Is(err, monitor.ErrPositionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, decision.ErrUnknownPolicy):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, monitor.ErrNotConfigured):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Errorf("[api] analyze failed ip=%s position=%s err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.cfg.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "调仓历史未启用"})
		return
	}
	filter := store.HistoryFilter{
		PoolID:     strings.TrimSpace(c.Query("pool")),
		PositionID: strings.TrimSpace(c.Query("position")),
		Limit:      clampLimit(c.DefaultQuery("limit", "100")),
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, ok := parseSince(raw, time.Now())
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		filter.Since = since
	}
	entries, err := r.cfg.History.List(c.Request.Context(), filter)
	if err != nil {
		logger.Errorf("[api] history list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []types.RebalanceHistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.cfg.Decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "决策日志未启用"})
		return
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	q := decisionlog.DecisionQuery{
		PositionID: strings.TrimSpace(c.Query("position")),
		PoolID:     strings.TrimSpace(c.Query("pool")),
		Limit:      clampLimit(c.DefaultQuery("limit", "100")),
		Offset:     offset,
	}
	if raw := strings.TrimSpace(c.Query("min_urgency")); raw != "" {
		u, err := types.ParseUrgency(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q.MinUrgency = u
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	logs, err := r.cfg.Decisions.ListDecisions(ctx, q)
	if err != nil {
		logger.Errorf("[api] decisions list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []decisionlog.DecisionLogRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "limit": q.Limit, "offset": q.Offset})
}

func (r *Router) handleDecisionByID(c *gin.Context) {
	if r.cfg.Decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "决策日志未启用"})
		return
	}
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision id"})
		return
	}
	rec, err := r.cfg.Decisions.GetDecision(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
			return
		}
		logger.Errorf("[api] decision detail failed ip=%s id=%d err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// parseWindow 支持 "24h"、"7d" 等写法，空值为 24h。
func parseWindow(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultWindow, true
	}
	if d, ok := scheduler.ParseIntervalDuration(raw); ok {
		return d, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// parseSince accepts RFC3339 or a lookback such as "7d".
func parseSince(raw string, now time.Time) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if d, ok := parseWindow(raw); ok {
		return now.Add(-d), true
	}
	return time.Time{}, false
}

func clampLimit(raw string) int {
	n, _ := strconv.Atoi(raw)
	if n <= 0 {
		return 100
	}
	if n > 500 {
		return 500
	}
	return n
}
