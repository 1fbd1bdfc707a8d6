package alert

import (
	"sync"

	"go.uber.org/zap"

	"spread-trader/infrastructure/logger"
)

// LogChannel 将告警写入结构化日志。
type LogChannel struct {
	log  *logger.Logger
	name string
}

// NewLogChannel 创建日志告警通道。
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	return &LogChannel{log: log, name: name}
}

// Send 发送告警到日志。
func (c *LogChannel) Send(a Alert) error {
	fields := []zap.Field{
		zap.String("level", a.Level),
		zap.Time("alert_ts", a.Timestamp),
	}
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch a.Level {
	case "ERROR", "CRITICAL":
		c.log.Error(a.Message, fields...)
	case "WARNING":
		c.log.Warn(a.Message, fields...)
	default:
		c.log.Info(a.Message, fields...)
	}
	return nil
}

// Name 返回通道名称。
func (c *LogChannel) Name() string { return c.name }

// MockChannel 测试用通道，记录收到的告警。
type MockChannel struct {
	name   string
	mu     sync.Mutex
	alerts []Alert
}

// NewMockChannel 创建测试通道。
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

// Send 记录告警供测试断言。
func (c *MockChannel) Send(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

// Name 返回通道名称。
func (c *MockChannel) Name() string { return c.name }

// Alerts 返回已记录的告警副本。
func (c *MockChannel) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}
