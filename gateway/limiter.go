package gateway

import (
	"sync"
	"time"
)

const (
	defaultRequestRate  = 10.0 // 每秒出站请求数
	defaultRequestBurst = 20
)

// RequestLimiter 以令牌桶平滑出站请求（订阅、下单、应用层 ping），
// 避免触发交易所对单连接的请求频率限制。
type RequestLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

// NewRequestLimiter 创建限速器。rate 为每秒补充的令牌数，burst 为桶容量。
func NewRequestLimiter(rate float64, burst int) *RequestLimiter {
	if rate <= 0 {
		rate = defaultRequestRate
	}
	if burst <= 0 {
		burst = defaultRequestBurst
	}
	return &RequestLimiter{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Wait 阻塞直到取得一个令牌。
func (l *RequestLimiter) Wait() {
	l.mu.Lock()
	now := time.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	l.last = now
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	if l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()
		return
	}
	sleep := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
	l.tokens = 0
	l.mu.Unlock()
	time.Sleep(sleep)
}
