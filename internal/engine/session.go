// Package engine drives one bounded trading session: connect, subscribe,
// dispatch inbound frames, evaluate the spread rule, emit order intents and
// stop when the trade budget is exhausted.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"spread-trader/gateway"
	"spread-trader/infrastructure/alert"
	"spread-trader/infrastructure/logger"
	"spread-trader/ledger"
	"spread-trader/market"
	"spread-trader/metrics"
	"spread-trader/strategy"
)

// State 会话状态。
type State int

const (
	// StateIdle 未连接。
	StateIdle State = iota
	// StateConnected 已连接，订阅进行中。
	StateConnected
	// StateTrading 订阅完成，逐帧评估交易机会。
	StateTrading
	// StateStopped 终态：预算耗尽或外部停止。
	StateStopped
)

// String 返回状态名称。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnected:
		return "CONNECTED"
	case StateTrading:
		return "TRADING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Transport 抽象发送/关闭路径；*gateway.Conn 满足该接口。
type Transport interface {
	SendRequest(channel, event string, payload interface{}, authRequired bool) error
	Close() error
}

// Config 会话配置。
type Config struct {
	Instruments         []string
	Amount              int64  // 每次开仓的合约数量
	ChannelPrefix       string // 频道前缀，如 "futures"
	AssumeImmediateFill bool   // 下单后是否假定即时成交
}

// Session 会话控制器。
// 并发契约：HandleFrame 由连接的唯一读协程调用，缓存更新、决策评估与
// 台账变更全部发生在该协程内；心跳协程只触达发送路径。
type Session struct {
	cfg       Config
	transport Transport
	subs      gateway.Subscriber
	cache     *market.Cache
	ledger    *ledger.Ledger
	decider   *strategy.Engine
	log       *logger.Logger
	alerts    *alert.Manager

	mu    sync.RWMutex
	state State

	stopOnce sync.Once
	stopped  chan struct{}

	now func() time.Time
}

// New 创建会话控制器。
func New(cfg Config, transport Transport, cache *market.Cache, led *ledger.Ledger,
	decider *strategy.Engine, log *logger.Logger, alerts *alert.Manager) (*Session, error) {
	if transport == nil || cache == nil || led == nil || decider == nil || log == nil {
		return nil, errors.New("transport, cache, ledger, decider and logger are required")
	}
	if len(cfg.Instruments) == 0 {
		return nil, errors.New("at least one instrument is required")
	}
	if cfg.Amount <= 0 {
		return nil, errors.New("amount must be > 0")
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "futures"
	}
	return &Session{
		cfg:       cfg,
		transport: transport,
		subs:      gateway.Subscriber{Sender: transport},
		cache:     cache,
		ledger:    led,
		decider:   decider,
		log:       log,
		alerts:    alerts,
		state:     StateIdle,
		stopped:   make(chan struct{}),
		now:       time.Now,
	}, nil
}

// State 返回当前状态。
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stopped 返回终态信号。
func (s *Session) Stopped() <-chan struct{} { return s.stopped }

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SessionState.Set(float64(st))
}

// ApplyParams 热更策略参数（价差阈值、交易预算）。
func (s *Session) ApplyParams(p strategy.Params) error {
	if err := s.decider.SetParams(p); err != nil {
		return err
	}
	s.log.Info("trading params updated",
		zap.String("spread_threshold", p.SpreadThreshold.String()),
		zap.Int("max_trades", p.MaxTrades))
	return nil
}

// HandleConnect 连接建立（含重连）后触发：订阅行情与订单/成交频道。
// 订阅完成即进入 Trading；重连场景下重复订阅是幂等的。
func (s *Session) HandleConnect() {
	if s.State() == StateStopped {
		return
	}
	s.setState(StateConnected)
	s.log.Info("connection established, subscribing",
		zap.Strings("instruments", s.cfg.Instruments))

	for _, ins := range s.cfg.Instruments {
		if err := s.subs.Subscribe(s.channel("tickers"), []string{ins}, false); err != nil {
			s.log.Error("subscribe tickers failed", zap.String("instrument", ins), zap.Error(err))
			return
		}
	}
	if err := s.subs.Subscribe(s.channel("orders"), nil, true); err != nil {
		s.log.Error("subscribe orders failed", zap.Error(err))
		return
	}
	if err := s.subs.Subscribe(s.channel("usertrades"), nil, true); err != nil {
		s.log.Error("subscribe usertrades failed", zap.Error(err))
		return
	}

	s.setState(StateTrading)
	s.log.Info("trading started")
}

// HandleDisconnect 断线时触发。重连由连接管理器负责，这里只报告。
func (s *Session) HandleDisconnect(err error) {
	if s.State() == StateStopped {
		return
	}
	if s.alerts != nil {
		_ = s.alerts.SendWarning("connection lost", map[string]interface{}{"error": err.Error()})
	}
}

// HandleFrame 处理一条入站帧：解码、按频道分发。
// 解析失败的帧记录后丢弃，不中断会话。
func (s *Session) HandleFrame(raw []byte) {
	if s.State() == StateStopped {
		return
	}
	ev, err := gateway.DecodeEvent(raw)
	if err != nil {
		metrics.DecodeErrors.Inc()
		s.log.Warn("discarding malformed frame", zap.Error(err))
		return
	}
	if ev.Error != nil {
		s.log.Error("server error frame",
			zap.String("channel", ev.Channel),
			zap.Int("code", ev.Error.Code),
			zap.String("message", ev.Error.Message))
		return
	}
	if ev.Event == "subscribe" || ev.Event == "unsubscribe" {
		s.log.Info("subscription confirmed",
			zap.String("channel", ev.Channel),
			zap.String("event", ev.Event))
		return
	}

	switch ev.Channel {
	case s.channel("tickers"):
		s.onTickers(ev.Body())
	case s.channel("orders"):
		s.onOrderUpdate(ev.Body())
	case s.channel("usertrades"):
		s.log.Info("usertrade update", zap.ByteString("payload", ev.Body()))
	case s.channel("pong"), s.channel("ping"):
		// heartbeat echo
	default:
		s.log.Debug("unhandled channel", zap.String("channel", ev.Channel))
	}
}

// Stop 停止会话：关闭连接并输出交易总结。可重复调用。
func (s *Session) Stop(reason string) {
	s.stopOnce.Do(func() {
		s.setState(StateStopped)
		s.log.Info("stopping session", zap.String("reason", reason))
		if err := s.transport.Close(); err != nil {
			s.log.Warn("close transport", zap.Error(err))
		}
		s.logSummary()
		if s.alerts != nil {
			_ = s.alerts.SendWarning("session stopped", map[string]interface{}{"reason": reason})
		}
		close(s.stopped)
	})
}

func (s *Session) channel(name string) string {
	return fmt.Sprintf("%s.%s", s.cfg.ChannelPrefix, name)
}

// orderRef 订单回报中本实现关心的字段。
type orderRef struct {
	Contract string `json:"contract"`
}

// onOrderUpdate 订单回报：记录日志；非即时成交模式下以回报作为成交确认，
// 将待确认仓位转为已开仓。不处理部分成交。
func (s *Session) onOrderUpdate(body json.RawMessage) {
	s.log.LogOrder("order_update", map[string]interface{}{"payload": string(body)})
	if s.cfg.AssumeImmediateFill {
		return
	}
	for _, ref := range parseOrderRefs(body) {
		if ref.Contract == "" {
			continue
		}
		if err := s.ledger.Confirm(ref.Contract); err == nil {
			s.log.Info("fill confirmed", zap.String("instrument", ref.Contract))
		}
	}
}

func parseOrderRefs(body json.RawMessage) []orderRef {
	var refs []orderRef
	if err := json.Unmarshal(body, &refs); err == nil {
		return refs
	}
	var one orderRef
	if err := json.Unmarshal(body, &one); err == nil {
		return []orderRef{one}
	}
	return nil
}
