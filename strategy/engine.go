package strategy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"spread-trader/ledger"
	"spread-trader/market"
)

// Params 策略可热更参数。
type Params struct {
	SpreadThreshold decimal.Decimal // 价差阈值，(0,1) 区间的小数，如 0.0005 = 0.05%
	MaxTrades       int             // 本次会话的交易次数预算
}

func (p Params) validate() error {
	if !p.SpreadThreshold.IsPositive() || p.SpreadThreshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("spread threshold must be in (0, 1)")
	}
	if p.MaxTrades <= 0 {
		return errors.New("max trades must be > 0")
	}
	return nil
}

// Engine 价差决策引擎。只读 Cache/Ledger，自身不产生任何状态变更。
type Engine struct {
	cache  *market.Cache
	ledger *ledger.Ledger

	mu     sync.RWMutex
	params Params
}

// NewEngine 创建决策引擎。
func NewEngine(cache *market.Cache, led *ledger.Ledger, params Params) (*Engine, error) {
	if cache == nil || led == nil {
		return nil, errors.New("cache and ledger are required")
	}
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return &Engine{cache: cache, ledger: led, params: params}, nil
}

// SetParams 热更参数，非法值被拒绝且保留旧值。
func (e *Engine) SetParams(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.params = p
	e.mu.Unlock()
	return nil
}

// Params 返回当前参数。
func (e *Engine) Params() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// ShouldBuy 判断是否应买入开仓。意向入场价为缓存的卖一价。
func (e *Engine) ShouldBuy(instrument string) Decision {
	if _, held := e.ledger.Position(instrument); held {
		return no("already holding")
	}
	p := e.Params()
	if e.ledger.TradeCount() >= p.MaxTrades {
		return no("budget exhausted")
	}
	t, ok := e.cache.Get(instrument)
	if !ok || !t.Ask.IsPositive() {
		return no("no price data")
	}
	return yes(fmt.Sprintf("ask %s available", t.Ask))
}

// ShouldSell 判断是否应卖出平仓。
// 规则：买一价相对持仓价的价差回到阈值以内（含边界、不分方向）即平仓。
func (e *Engine) ShouldSell(instrument string) Decision {
	pos, held := e.ledger.Position(instrument)
	if !held {
		return no("nothing to close")
	}
	if pos.Status != ledger.StatusOpen {
		return no("awaiting fill confirmation")
	}
	t, ok := e.cache.Get(instrument)
	if !ok || !t.Bid.IsPositive() {
		return no("no price data")
	}

	spread := SpreadPct(t.Bid, pos.EntryPrice)
	limit := e.Params().SpreadThreshold.Mul(hundred)
	if spread.LessThanOrEqual(limit) {
		return yes(fmt.Sprintf("spread %s%% ≤ %s%%, closing", spread.StringFixed(4), limit.StringFixed(4)))
	}
	return nof("spread %s%% > %s%%, waiting", spread.StringFixed(4), limit.StringFixed(4))
}
