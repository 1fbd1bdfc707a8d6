package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"spread-trader/infrastructure/logger"
	"spread-trader/metrics"
)

const (
	defaultPingInterval = 10 * time.Second
	defaultMaxInterval  = 20 * time.Second
	pingWriteTimeout    = 5 * time.Second
	readDeadline        = 60 * time.Second
	handshakeTimeout    = 10 * time.Second
)

// ErrNotConnected 当前没有可用连接。
var ErrNotConnected = errors.New("not connected")

// ConnConfig 连接参数。
type ConnConfig struct {
	URL           string
	ChannelPrefix string // 频道前缀，如 "futures"
	Credentials   Credentials
	PingInterval  time.Duration // 心跳周期，默认 10s
	MaxRetries    int           // 单次断线的重连预算，0 表示不重连
	MaxInterval   time.Duration // 重连退避上限
	RequestRate   float64       // 出站请求限速（每秒），0 取默认值
	RequestBurst  int           // 出站请求突发容量，0 取默认值
}

// Conn 持有唯一的 WebSocket 连接。
// 所有写操作经由同一把互斥锁串行化：心跳协程与业务下行共用发送路径。
type Conn struct {
	cfg     ConnConfig
	log     *logger.Logger
	dialer  *websocket.Dialer
	limiter *RequestLimiter

	mu sync.Mutex // 串行化写路径，并保护 ws 指针
	ws *websocket.Conn

	onConnect    func()
	onMessage    func([]byte)
	onDisconnect func(error)

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn 创建连接管理器（不建立连接）。
func NewConn(cfg ConnConfig, log *logger.Logger) *Conn {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "futures"
	}
	return &Conn{
		cfg:     cfg,
		log:     log,
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		limiter: NewRequestLimiter(cfg.RequestRate, cfg.RequestBurst),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnConnect 注册连接建立（含重连）后的回调，用于重新订阅。
func (c *Conn) OnConnect(fn func()) { c.onConnect = fn }

// OnMessage 注册入站帧回调。回调在单一读协程内被调用。
func (c *Conn) OnMessage(fn func([]byte)) { c.onMessage = fn }

// OnDisconnect 注册断线回调。
func (c *Conn) OnDisconnect(fn func(error)) { c.onDisconnect = fn }

// Open 建立连接并启动读循环与心跳。首次拨号失败直接返回错误。
func (c *Conn) Open() error {
	ws, _, err := c.dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	c.attach(ws)
	go c.run(ws)
	return nil
}

// attach 挂载新连接并配置读超时。
func (c *Conn) attach(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(readDeadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readDeadline))
	})
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	metrics.WSConnects.Inc()
	if c.onConnect != nil {
		c.onConnect()
	}
}

// run 驱动当前连接的读循环；读失败后按退避策略重连，预算耗尽则放弃。
func (c *Conn) run(ws *websocket.Conn) {
	defer close(c.done)

	for {
		hbStop := make(chan struct{})
		go c.heartbeat(hbStop)

		err := c.readLoop(ws)
		close(hbStop)

		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.mu.Unlock()
		_ = ws.Close()

		select {
		case <-c.stop:
			return
		default:
		}

		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}
		c.log.Warn("connection lost", zap.Error(err))

		next, ok := c.reconnect()
		if !ok {
			c.log.Error("reconnect budget exhausted, giving up", zap.Error(err))
			return
		}
		ws = next
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

// reconnect 带上限的指数退避重连；每次成功后重置退避。
func (c *Conn) reconnect() (*websocket.Conn, bool) {
	if c.cfg.MaxRetries <= 0 {
		return nil, false
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.cfg.MaxInterval

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = c.cfg.MaxInterval
		}
		select {
		case <-c.stop:
			return nil, false
		case <-time.After(sleep):
		}

		ws, _, err := c.dialer.Dial(c.cfg.URL, nil)
		if err != nil {
			metrics.WSReconnectFailures.Inc()
			c.log.Warn("reconnect failed",
				zap.Int("attempt", attempt),
				zap.Int("budget", c.cfg.MaxRetries),
				zap.Error(err))
			continue
		}
		metrics.WSReconnects.Inc()
		c.log.Info("reconnected", zap.Int("attempt", attempt))
		c.attach(ws)
		return ws, true
	}
	return nil, false
}

// heartbeat 每个 PingInterval 先发送传输层 ping，成功后再发送应用层
// <prefix>.ping（免认证）。任一失败即退出心跳；重连由读循环负责。
func (c *Conn) heartbeat(connStop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-connStop:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				metrics.HeartbeatFailures.Inc()
				c.log.Warn("transport ping failed, heartbeat exiting", zap.Error(err))
				return
			}
			if err := c.SendRequest(c.cfg.ChannelPrefix+".ping", "", nil, false); err != nil {
				metrics.HeartbeatFailures.Inc()
				c.log.Warn("channel ping failed, heartbeat exiting", zap.Error(err))
				return
			}
		}
	}
}

// Ping 发送传输层 ping 控制帧。
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout))
}

// Send 发送原始帧。发送路径全程持锁，保证并发安全。
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// SendRequest 编码并发送一个请求信封。经过出站限速器。
func (c *Conn) SendRequest(channel, event string, payload interface{}, authRequired bool) error {
	c.limiter.Wait()
	data, err := EncodeRequest(c.cfg.Credentials, channel, event, payload, authRequired, time.Now())
	if err != nil {
		return err
	}
	c.log.Debug("send request", zap.String("channel", channel), zap.String("event", event))
	return c.Send(data)
}

// Close 停止心跳并关闭连接。可重复调用。
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		if c.ws != nil {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(pingWriteTimeout))
			_ = c.ws.Close()
			c.ws = nil
		}
		c.mu.Unlock()
	})
	return nil
}

// Done 返回读循环结束信号，供上层等待退出。
func (c *Conn) Done() <-chan struct{} { return c.done }
