// Package metrics provides Prometheus metrics for the spread trader.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TickersReceived 按合约统计收到的行情更新。
	TickersReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_tickers_received_total",
		Help: "收到的 ticker 更新数量",
	}, []string{"contract"})

	// OrdersEmitted 按方向统计发出的下单请求。
	OrdersEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_orders_emitted_total",
		Help: "发出的下单请求数量",
	}, []string{"side"})

	// TradesCompleted 完成的开平仓周期数量。
	TradesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_trades_completed_total",
		Help: "完成的交易（开仓→平仓）数量",
	})

	// RealizedProfit 累计已实现盈亏。
	RealizedProfit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_realized_profit",
		Help: "累计已实现盈亏 (USDT)",
	})

	// LastPrice 按合约的最新成交价。
	LastPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trader_last_price",
		Help: "最新成交价",
	}, []string{"contract"})

	// SpreadPct 按合约的当前价差百分比（相对持仓价）。
	SpreadPct = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trader_spread_pct",
		Help: "当前买价相对持仓价的价差百分比",
	}, []string{"contract"})

	// SessionState 会话状态。
	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_session_state",
		Help: "会话状态(0=idle,1=connected,2=trading,3=stopped)",
	})

	// HeartbeatFailures 心跳发送失败次数。
	HeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_heartbeat_failures_total",
		Help: "心跳发送失败次数",
	})

	// WSConnects 连接建立次数（含重连）。
	WSConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_ws_connects_total",
		Help: "WS 连接建立次数",
	})

	// WSReconnects 成功重连次数。
	WSReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_ws_reconnects_total",
		Help: "WS 重连成功次数",
	})

	// WSReconnectFailures 重连失败次数。
	WSReconnectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_ws_reconnect_failures_total",
		Help: "WS 重连失败次数",
	})

	// DecodeErrors 无法解析而被丢弃的入站帧。
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_decode_errors_total",
		Help: "解析失败被丢弃的帧数量",
	})
)

// Serve 启动 Prometheus 指标服务器。addr 为空则不启动。
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
