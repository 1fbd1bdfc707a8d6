// Package posttrade derives the end-of-session trading summary from the
// immutable trade history. Read-only: nothing here mutates the ledger.
package posttrade

import (
	"github.com/shopspring/decimal"

	"spread-trader/ledger"
)

// Summary 会话交易总结。
type Summary struct {
	Trades      int
	Wins        int
	Losses      int
	TotalProfit decimal.Decimal
	AvgProfit   decimal.Decimal
	WinRate     decimal.Decimal // 百分比
}

// Summarize 从成交历史计算总结。盈亏为 0 计入亏损侧（与盈利交易区分）。
func Summarize(history []ledger.TradeRecord) Summary {
	s := Summary{
		Trades:      len(history),
		TotalProfit: decimal.Zero,
		AvgProfit:   decimal.Zero,
		WinRate:     decimal.Zero,
	}
	for _, tr := range history {
		s.TotalProfit = s.TotalProfit.Add(tr.Profit)
		if tr.Profit.IsPositive() {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	if s.Trades > 0 {
		n := decimal.NewFromInt(int64(s.Trades))
		s.AvgProfit = s.TotalProfit.Div(n)
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).Div(n).Mul(decimal.NewFromInt(100))
	}
	return s
}

// Fields 以结构化日志字段形式导出总结。
func (s Summary) Fields() map[string]interface{} {
	return map[string]interface{}{
		"trades":       s.Trades,
		"wins":         s.Wins,
		"losses":       s.Losses,
		"total_profit": s.TotalProfit.StringFixed(4),
		"avg_profit":   s.AvgProfit.StringFixed(4),
		"win_rate_pct": s.WinRate.StringFixed(2),
	}
}
