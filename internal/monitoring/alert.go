package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/storage"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 告警
type Alert struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Level      AlertLevel `json:"level"`
	Component  string     `json:"component"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AlertRule 告警规则，Condition 返回 true 表示需要告警
type AlertRule struct {
	ID        string
	Name      string
	Condition func(ctx context.Context) (bool, string)
	Level     AlertLevel
	Component string
}

// AlertReceiver 告警接收器接口
type AlertReceiver interface {
	SendAlert(alert *Alert) error
}

// AlertManager 告警管理器。同一规则在告警未恢复前只通知一次。
type AlertManager struct {
	alerts    map[string]*Alert
	rules     []AlertRule
	receivers []AlertReceiver
	logger    *zap.Logger
	mu        sync.RWMutex
}

// NewAlertManager 创建告警管理器
func NewAlertManager(log *zap.Logger) *AlertManager {
	return &AlertManager{
		alerts: make(map[string]*Alert),
		logger: logger.OrNop(log),
	}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// CheckRules 评估所有规则：条件成立时触发，条件消失时恢复
func (am *AlertManager) CheckRules(ctx context.Context) {
	am.mu.RLock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mu.RUnlock()

	for _, rule := range rules {
		firing, message := rule.Condition(ctx)
		if firing {
			am.trigger(rule, message)
		} else {
			am.resolve(rule.ID)
		}
	}
}

func (am *AlertManager) trigger(rule AlertRule, message string) {
	am.mu.Lock()
	if existing, ok := am.alerts[rule.ID]; ok && !existing.Resolved {
		am.mu.Unlock()
		return
	}
	alert := &Alert{
		ID:        rule.ID,
		Title:     rule.Name,
		Message:   message,
		Level:     rule.Level,
		Component: rule.Component,
		Timestamp: time.Now(),
	}
	am.alerts[rule.ID] = alert
	receivers := append([]AlertReceiver(nil), am.receivers...)
	am.mu.Unlock()

	for _, receiver := range receivers {
		if err := receiver.SendAlert(alert); err != nil {
			am.logger.Error("failed to send alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}
}

func (am *AlertManager) resolve(id string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if alert, ok := am.alerts[id]; ok && !alert.Resolved {
		now := time.Now()
		alert.Resolved = true
		alert.ResolvedAt = &now
		am.logger.Info("alert resolved", zap.String("alert_id", id))
	}
}

// ActiveAlerts 获取未恢复的告警
func (am *AlertManager) ActiveAlerts() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]Alert, 0)
	for _, alert := range am.alerts {
		if !alert.Resolved {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// Run 按 interval 周期检查规则，直到 ctx 结束
func (am *AlertManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules(ctx)
		}
	}
}

// ========== 内置告警规则 ==========

// QueueLengthFunc 返回当前待发送通知数量
type QueueLengthFunc func(ctx context.Context) (int, error)

// QueueBacklogRule 通知队列积压告警，通常意味着 SMTP 长时间不可用
func QueueBacklogRule(queueLen QueueLengthFunc, threshold int) AlertRule {
	return AlertRule{
		ID:   "queue_backlog",
		Name: "Notification Queue Backlog",
		Condition: func(ctx context.Context) (bool, string) {
			n, err := queueLen(ctx)
			if err != nil {
				return true, fmt.Sprintf("failed to read queue length: %v", err)
			}
			if n > threshold {
				return true, fmt.Sprintf("%d notifications pending (threshold %d)", n, threshold)
			}
			return false, ""
		},
		Level:     AlertLevelWarning,
		Component: "mailqueue",
	}
}

// StorageUnavailableRule 文档存储不可用告警
func StorageUnavailableRule(backend storage.Backend) AlertRule {
	return AlertRule{
		ID:   "storage_unavailable",
		Name: "Document Storage Unavailable",
		Condition: func(ctx context.Context) (bool, string) {
			if err := backend.Health(ctx); err != nil {
				return true, err.Error()
			}
			return false, ""
		},
		Level:     AlertLevelCritical,
		Component: "storage",
	}
}

// HighMemoryUsageRule 高内存使用告警规则
func HighMemoryUsageRule(thresholdMB float64) AlertRule {
	return AlertRule{
		ID:   "high_memory_usage",
		Name: "High Memory Usage",
		Condition: func(context.Context) (bool, string) {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			usedMB := float64(m.Alloc) / 1024 / 1024
			if usedMB > thresholdMB {
				return true, fmt.Sprintf("memory usage %.1f MB exceeds %.1f MB", usedMB, thresholdMB)
			}
			return false, ""
		},
		Level:     AlertLevelWarning,
		Component: "memory",
	}
}

// ========== 告警接收器实现 ==========

// LogAlertReceiver 日志告警接收器
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(log *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger.OrNop(log)}
}

// SendAlert 发送告警到日志
func (lar *LogAlertReceiver) SendAlert(alert *Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
		zap.Time("timestamp", alert.Timestamp),
	}

	switch alert.Level {
	case AlertLevelCritical:
		lar.logger.Error("CRITICAL ALERT", fields...)
	case AlertLevelWarning:
		lar.logger.Warn("WARNING ALERT", fields...)
	default:
		lar.logger.Info("INFO ALERT", fields...)
	}
	return nil
}
