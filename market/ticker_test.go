package market

import (
	"encoding/json"
	"testing"
	"time"
)

var now = time.Unix(1700000000, 0)

func TestParseTickersObject(t *testing.T) {
	raw := json.RawMessage(`{"contract":"BTC_USDT","last":"100.5","bid":"100.4","ask":"100.6","mark_price":"100.45","volume_24h":"12345"}`)
	out, err := ParseTickers(raw, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 ticker, got %d", len(out))
	}
	tk := out[0]
	if tk.Instrument != "BTC_USDT" {
		t.Fatalf("instrument: %s", tk.Instrument)
	}
	if tk.Last.String() != "100.5" || tk.Bid.String() != "100.4" || tk.Ask.String() != "100.6" {
		t.Fatalf("prices: last=%s bid=%s ask=%s", tk.Last, tk.Bid, tk.Ask)
	}
	if !tk.ObservedAt.Equal(now) {
		t.Fatalf("observed at: %v", tk.ObservedAt)
	}
}

func TestParseTickersArray(t *testing.T) {
	raw := json.RawMessage(`[{"contract":"BTC_USDT","last":"100"},{"contract":"ETH_USDT","last":"2000"}]`)
	out, err := ParseTickers(raw, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 tickers, got %d", len(out))
	}
	if out[0].Instrument != "BTC_USDT" || out[1].Instrument != "ETH_USDT" {
		t.Fatalf("instruments: %s %s", out[0].Instrument, out[1].Instrument)
	}
}

// 行情缺少买卖价时按 last×(1∓0.0001) 估算
func TestParseTickersBidAskFallback(t *testing.T) {
	raw := json.RawMessage(`{"contract":"BTC_USDT","last":"100"}`)
	out, err := ParseTickers(raw, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tk := out[0]
	if tk.Bid.String() != "99.99" {
		t.Fatalf("bid fallback: %s", tk.Bid)
	}
	if tk.Ask.String() != "100.01" {
		t.Fatalf("ask fallback: %s", tk.Ask)
	}
	if !tk.Mark.Equal(tk.Last) {
		t.Fatalf("mark fallback: %s", tk.Mark)
	}
}

// 数字形式的价格字段同样可解析
func TestParseTickersNumericPrices(t *testing.T) {
	raw := json.RawMessage(`{"contract":"BTC_USDT","last":100.5,"bid":100.4,"ask":100.6}`)
	out, err := ParseTickers(raw, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out[0].Last.String() != "100.5" {
		t.Fatalf("last: %s", out[0].Last)
	}
}

func TestParseTickersSkipsEmptyContract(t *testing.T) {
	raw := json.RawMessage(`[{"last":"100"},{"contract":"BTC_USDT","last":"100"}]`)
	out, err := ParseTickers(raw, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(out) != 1 || out[0].Instrument != "BTC_USDT" {
		t.Fatalf("expected only BTC_USDT, got %v", out)
	}
}

func TestParseTickersMalformed(t *testing.T) {
	if _, err := ParseTickers(json.RawMessage(`{"contract":`), now); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ParseTickers(json.RawMessage(`"just a string"`), now); err == nil {
		t.Fatalf("expected error")
	}
}
