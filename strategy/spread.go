// Package strategy 实现价差判定：决策函数只读行情缓存与持仓台账。
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SpreadPct 计算相对价差百分比：|current − reference| / reference × 100。
// reference 非正时返回 100% 哨兵值（视为"永远太远"，不触发交易），而不是报错。
func SpreadPct(current, reference decimal.Decimal) decimal.Decimal {
	if !reference.IsPositive() {
		return hundred
	}
	return current.Sub(reference).Abs().Div(reference).Mul(hundred)
}

// Decision 判定结果与可读原因。
type Decision struct {
	Eligible bool
	Reason   string
}

func no(reason string) Decision   { return Decision{Reason: reason} }
func yes(reason string) Decision  { return Decision{Eligible: true, Reason: reason} }
func nof(format string, args ...interface{}) Decision {
	return no(fmt.Sprintf(format, args...))
}
