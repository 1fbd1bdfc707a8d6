// Package ledger 维护持仓与成交历史，是交易状态的唯一写入方。
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAlreadyOpen 该合约已有未平仓位。
	ErrAlreadyOpen = errors.New("position already open")
	// ErrNoPosition 该合约没有可平仓位。
	ErrNoPosition = errors.New("no open position")
	// ErrInvalidPrice 非正价格不能进入台账。
	ErrInvalidPrice = errors.New("invalid price")
)

// Status 仓位状态。缓存中不存在记录即等价于 Flat。
type Status int

const (
	// StatusOpen 已开仓。
	StatusOpen Status = iota
	// StatusConfirming 下单已发出，等待成交确认（assume_immediate_fill=false 时使用）。
	StatusConfirming
)

// String 返回状态名称。
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusConfirming:
		return "CONFIRMING"
	default:
		return "UNKNOWN"
	}
}

// Position 单个合约的持仓记录。每个合约至多一条。
type Position struct {
	Instrument string
	Size       int64
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	Status     Status
}

// TradeRecord 一次完整开平仓周期的不可变记录。
type TradeRecord struct {
	Instrument string
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Size       int64
	Profit     decimal.Decimal
	ProfitPct  decimal.Decimal
	EntryTime  time.Time
	ExitTime   time.Time
	Duration   time.Duration
}

// Ledger 持仓台账。所有变更串行化在一把锁后：
// tradeCount 永远等于历史记录条数，且每次平仓恰好加一。
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]Position
	trades    []TradeRecord
}

// New 创建空台账。
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]Position),
	}
}

// Open 开仓。已有仓位（含待确认）时返回 ErrAlreadyOpen。
func (l *Ledger) Open(instrument string, size int64, entryPrice decimal.Decimal, now time.Time) error {
	return l.open(instrument, size, entryPrice, now, StatusOpen)
}

// OpenPending 登记待确认仓位，成交确认前不可平仓。
func (l *Ledger) OpenPending(instrument string, size int64, entryPrice decimal.Decimal, now time.Time) error {
	return l.open(instrument, size, entryPrice, now, StatusConfirming)
}

func (l *Ledger) open(instrument string, size int64, entryPrice decimal.Decimal, now time.Time, st Status) error {
	if !entryPrice.IsPositive() {
		return ErrInvalidPrice
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.positions[instrument]; exists {
		return ErrAlreadyOpen
	}
	l.positions[instrument] = Position{
		Instrument: instrument,
		Size:       size,
		EntryPrice: entryPrice,
		EntryTime:  now,
		Status:     st,
	}
	return nil
}

// Confirm 将待确认仓位转为已开仓。
func (l *Ledger) Confirm(instrument string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, exists := l.positions[instrument]
	if !exists {
		return ErrNoPosition
	}
	pos.Status = StatusOpen
	l.positions[instrument] = pos
	return nil
}

// Close 平仓：计算盈亏、追加成交记录并移除仓位。
// profit = (exit − entry) × size；profitPct 为相对持仓价的绝对价差百分比。
func (l *Ledger) Close(instrument string, exitPrice decimal.Decimal, now time.Time) (TradeRecord, error) {
	if !exitPrice.IsPositive() {
		return TradeRecord{}, ErrInvalidPrice
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, exists := l.positions[instrument]
	if !exists || pos.Status != StatusOpen {
		return TradeRecord{}, ErrNoPosition
	}

	profit := exitPrice.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Size))
	profitPct := exitPrice.Sub(pos.EntryPrice).Abs().
		Div(pos.EntryPrice).Mul(decimal.NewFromInt(100))

	rec := TradeRecord{
		Instrument: instrument,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       pos.Size,
		Profit:     profit,
		ProfitPct:  profitPct,
		EntryTime:  pos.EntryTime,
		ExitTime:   now,
		Duration:   now.Sub(pos.EntryTime),
	}
	l.trades = append(l.trades, rec)
	delete(l.positions, instrument)
	return rec, nil
}

// Position 返回合约当前仓位。
func (l *Ledger) Position(instrument string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[instrument]
	return pos, ok
}

// TradeCount 已完成的交易数量，单调不减。
func (l *Ledger) TradeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}

// History 返回成交历史副本。
func (l *Ledger) History() []TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TradeRecord, len(l.trades))
	copy(out, l.trades)
	return out
}
