package market

import "sync"

// Cache 维护每个被跟踪合约的最新行情。
// 未知合约在更新边界即被拒绝，不会静默进入缓存。
type Cache struct {
	mu      sync.RWMutex
	tracked map[string]struct{}
	tickers map[string]Ticker
}

// NewCache 创建缓存，instruments 为会话跟踪的合约集合。
func NewCache(instruments []string) *Cache {
	tracked := make(map[string]struct{}, len(instruments))
	for _, ins := range instruments {
		tracked[ins] = struct{}{}
	}
	return &Cache{
		tracked: tracked,
		tickers: make(map[string]Ticker, len(instruments)),
	}
}

// Update 整体替换合约行情。合约不在跟踪集合时返回 false，调用方静默忽略。
func (c *Cache) Update(t Ticker) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tracked[t.Instrument]; !ok {
		return false
	}
	c.tickers[t.Instrument] = t
	return true
}

// Get 返回合约最新行情。
func (c *Cache) Get(instrument string) (Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tickers[instrument]
	return t, ok
}

// Tracked 判断合约是否在跟踪集合内。
func (c *Cache) Tracked(instrument string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tracked[instrument]
	return ok
}
