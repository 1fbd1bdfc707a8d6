package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// bidAskEpsilon：行情未携带买卖价时，以 last×(1∓0.0001) 近似。
var (
	bidFallback = decimal.RequireFromString("0.9999")
	askFallback = decimal.RequireFromString("1.0001")
)

// Ticker 单个合约的最新行情快照。每次更新整体替换，不做字段级合并。
type Ticker struct {
	Instrument string
	Last       decimal.Decimal
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Mark       decimal.Decimal
	Index      decimal.Decimal
	Volume24h  decimal.Decimal
	Change24h  decimal.Decimal
	ObservedAt time.Time
}

// rawTicker 行情帧中的单条 ticker。交易所可能以字符串或数字下发价格，
// 字段统一用 RawMessage 接住后再解析为定点数。
type rawTicker struct {
	Contract  string          `json:"contract"`
	Last      json.RawMessage `json:"last"`
	Bid       json.RawMessage `json:"bid"`
	Ask       json.RawMessage `json:"ask"`
	Mark      json.RawMessage `json:"mark_price"`
	Index     json.RawMessage `json:"index_price"`
	Volume24h json.RawMessage `json:"volume_24h"`
	Change24h json.RawMessage `json:"change_percentage"`
}

// ParseTickers 解析行情数据体：可能是单个对象或数组。
func ParseTickers(raw json.RawMessage, now time.Time) ([]Ticker, error) {
	trimmed := bytes.TrimSpace(raw)
	var items []rawTicker
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var one rawTicker
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("parse ticker: %w", err)
		}
		items = []rawTicker{one}
	} else {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("parse tickers: %w", err)
		}
	}

	out := make([]Ticker, 0, len(items))
	for _, it := range items {
		if it.Contract == "" {
			continue
		}
		last := parseDecimal(it.Last, decimal.Zero)
		t := Ticker{
			Instrument: it.Contract,
			Last:       last,
			Bid:        parseDecimal(it.Bid, last.Mul(bidFallback)),
			Ask:        parseDecimal(it.Ask, last.Mul(askFallback)),
			Mark:       parseDecimal(it.Mark, last),
			Index:      parseDecimal(it.Index, last),
			Volume24h:  parseDecimal(it.Volume24h, decimal.Zero),
			Change24h:  parseDecimal(it.Change24h, decimal.Zero),
			ObservedAt: now,
		}
		out = append(out, t)
	}
	return out, nil
}

// parseDecimal 将字符串或数字形式的 JSON 值解析为定点数，缺失或非法时取默认值。
func parseDecimal(raw json.RawMessage, def decimal.Decimal) decimal.Decimal {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return def
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return def
		}
		trimmed = []byte(s)
	}
	d, err := decimal.NewFromString(string(trimmed))
	if err != nil {
		return def
	}
	return d
}
