package engine

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spread-trader/gateway"
	"spread-trader/market"
	"spread-trader/metrics"
	"spread-trader/posttrade"
)

// onTickers 处理行情数据体：更新缓存并评估该合约的交易机会。
func (s *Session) onTickers(body json.RawMessage) {
	tickers, err := market.ParseTickers(body, s.now())
	if err != nil {
		metrics.DecodeErrors.Inc()
		s.log.Warn("discarding malformed ticker payload", zap.Error(err))
		return
	}
	for _, t := range tickers {
		if !s.cache.Update(t) {
			// 不在跟踪集合内的合约直接忽略
			continue
		}
		metrics.TickersReceived.WithLabelValues(t.Instrument).Inc()
		metrics.LastPrice.WithLabelValues(t.Instrument).Set(t.Last.InexactFloat64())
		s.log.Debug("ticker update",
			zap.String("instrument", t.Instrument),
			zap.String("last", t.Last.String()),
			zap.String("bid", t.Bid.String()),
			zap.String("ask", t.Ask.String()))
		s.evaluate(t.Instrument)
	}
}

// evaluate 依次检查买入与卖出机会。调用方保证运行在唯一的分发协程上，
// 决策与相应的台账变更构成一个串行化单元，不会出现双重开仓。
func (s *Session) evaluate(instrument string) {
	if s.State() != StateTrading {
		return
	}

	if d := s.decider.ShouldBuy(instrument); d.Eligible {
		s.log.Info("buy opportunity",
			zap.String("instrument", instrument),
			zap.String("reason", d.Reason))
		s.executeBuy(instrument)
	}

	if d := s.decider.ShouldSell(instrument); d.Eligible {
		s.log.Info("sell opportunity",
			zap.String("instrument", instrument),
			zap.String("reason", d.Reason))
		if s.executeSell(instrument) {
			p := s.decider.Params()
			if s.ledger.TradeCount() >= p.MaxTrades {
				s.Stop("trade budget exhausted")
			}
		}
	}
}

// executeBuy 发出买入开仓意向，并按成交假设登记仓位。
// 入场价采用缓存的卖一价（即买入时可成交的价格）。
func (s *Session) executeBuy(instrument string) {
	t, ok := s.cache.Get(instrument)
	if !ok {
		return
	}
	intent := gateway.NewOrderIntent(instrument, s.cfg.Amount, orderTag(), false)
	if err := s.transport.SendRequest(s.channel("orders"), "", intent, true); err != nil {
		s.log.Error("buy order emit failed", zap.String("instrument", instrument), zap.Error(err))
		return
	}
	metrics.OrdersEmitted.WithLabelValues("buy").Inc()

	if !t.Ask.IsPositive() {
		s.log.Warn("no valid entry price, position not recorded",
			zap.String("instrument", instrument))
		return
	}
	open := s.ledger.Open
	if !s.cfg.AssumeImmediateFill {
		open = s.ledger.OpenPending
	}
	if err := open(instrument, s.cfg.Amount, t.Ask, s.now()); err != nil {
		// 台账拒绝视为 no-op，决策层下一帧会重新评估
		s.log.LogError(err, map[string]interface{}{
			"instrument": instrument,
			"action":     "open",
		})
		return
	}
	s.log.LogTrade("position_opened", map[string]interface{}{
		"instrument":  instrument,
		"size":        s.cfg.Amount,
		"entry_price": t.Ask.String(),
		"confirmed":   s.cfg.AssumeImmediateFill,
	})
}

// executeSell 发出卖出平仓意向并结算该仓位。返回是否完成平仓。
func (s *Session) executeSell(instrument string) bool {
	pos, ok := s.ledger.Position(instrument)
	if !ok {
		return false
	}
	t, ok := s.cache.Get(instrument)
	if !ok || !t.Bid.IsPositive() {
		return false
	}

	intent := gateway.NewOrderIntent(instrument, -pos.Size, orderTag(), true)
	if err := s.transport.SendRequest(s.channel("orders"), "", intent, true); err != nil {
		s.log.Error("sell order emit failed", zap.String("instrument", instrument), zap.Error(err))
		return false
	}
	metrics.OrdersEmitted.WithLabelValues("sell").Inc()

	rec, err := s.ledger.Close(instrument, t.Bid, s.now())
	if err != nil {
		s.log.LogError(err, map[string]interface{}{
			"instrument": instrument,
			"action":     "close",
		})
		return false
	}

	metrics.TradesCompleted.Inc()
	metrics.SpreadPct.WithLabelValues(instrument).Set(rec.ProfitPct.InexactFloat64())
	metrics.RealizedProfit.Set(posttrade.Summarize(s.ledger.History()).TotalProfit.InexactFloat64())
	s.log.LogTrade("position_closed", map[string]interface{}{
		"instrument":  instrument,
		"entry_price": rec.EntryPrice.String(),
		"exit_price":  rec.ExitPrice.String(),
		"size":        rec.Size,
		"profit":      rec.Profit.StringFixed(4),
		"profit_pct":  rec.ProfitPct.StringFixed(4),
		"duration_s":  rec.Duration.Seconds(),
		"trade_count": s.ledger.TradeCount(),
		"max_trades":  s.decider.Params().MaxTrades,
	})
	return true
}

// logSummary 输出交易总结与逐笔明细。
func (s *Session) logSummary() {
	history := s.ledger.History()
	summary := posttrade.Summarize(history)
	s.log.Info("trading summary", summaryZapFields(summary.Fields())...)
	for i, tr := range history {
		s.log.Info("trade detail",
			zap.Int("seq", i+1),
			zap.String("instrument", tr.Instrument),
			zap.String("entry_price", tr.EntryPrice.StringFixed(2)),
			zap.String("exit_price", tr.ExitPrice.StringFixed(2)),
			zap.String("profit", tr.Profit.StringFixed(4)),
			zap.String("profit_pct", tr.ProfitPct.StringFixed(4)),
			zap.Float64("duration_s", tr.Duration.Seconds()))
	}
}

func summaryZapFields(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// orderTag 生成客户端订单标记。
func orderTag() string {
	return fmt.Sprintf("auto_trade_%s", uuid.NewString()[:8])
}
