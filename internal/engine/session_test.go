package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-trader/gateway"
	"spread-trader/infrastructure/logger"
	"spread-trader/ledger"
	"spread-trader/market"
	"spread-trader/strategy"
)

type sentFrame struct {
	Channel string
	Event   string
	Payload interface{}
	Auth    bool
}

type fakeTransport struct {
	mu     sync.Mutex
	frames []sentFrame
	closed bool
}

func (f *fakeTransport) SendRequest(channel, event string, payload interface{}, authRequired bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, sentFrame{channel, event, payload, authRequired})
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sent() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeTransport) orders() []gateway.OrderIntent {
	var out []gateway.OrderIntent
	for _, fr := range f.sent() {
		if fr.Channel == "futures.orders" && fr.Event == "" {
			out = append(out, fr.Payload.(gateway.OrderIntent))
		}
	}
	return out
}

type fixture struct {
	session   *Session
	transport *fakeTransport
	ledger    *ledger.Ledger
}

func newFixture(t *testing.T, maxTrades int) *fixture {
	t.Helper()
	cache := market.NewCache([]string{"BTC_USDT"})
	led := ledger.New()
	decider, err := strategy.NewEngine(cache, led, strategy.Params{
		SpreadThreshold: decimal.RequireFromString("0.0005"),
		MaxTrades:       maxTrades,
	})
	require.NoError(t, err)

	transport := &fakeTransport{}
	session, err := New(Config{
		Instruments:         []string{"BTC_USDT"},
		Amount:              10,
		ChannelPrefix:       "futures",
		AssumeImmediateFill: true,
	}, transport, cache, led, decider, logger.Nop(), nil)
	require.NoError(t, err)
	session.now = func() time.Time { return time.Unix(1700000000, 0) }
	return &fixture{session: session, transport: transport, ledger: led}
}

func tickerFrame(last, bid, ask string) []byte {
	return []byte(fmt.Sprintf(
		`{"time":1700000000,"channel":"futures.tickers","event":"update","result":{"contract":"BTC_USDT","last":"%s","bid":"%s","ask":"%s"}}`,
		last, bid, ask))
}

func TestNewValidation(t *testing.T) {
	cache := market.NewCache([]string{"BTC_USDT"})
	led := ledger.New()
	decider, err := strategy.NewEngine(cache, led, strategy.Params{
		SpreadThreshold: decimal.RequireFromString("0.0005"),
		MaxTrades:       1,
	})
	require.NoError(t, err)

	_, err = New(Config{Amount: 10}, &fakeTransport{}, cache, led, decider, logger.Nop(), nil)
	assert.Error(t, err, "instruments required")

	_, err = New(Config{Instruments: []string{"BTC_USDT"}}, &fakeTransport{}, cache, led, decider, logger.Nop(), nil)
	assert.Error(t, err, "amount required")

	_, err = New(Config{Instruments: []string{"BTC_USDT"}, Amount: 10}, nil, cache, led, decider, logger.Nop(), nil)
	assert.Error(t, err, "transport required")
}

func TestHandleConnectSubscribes(t *testing.T) {
	f := newFixture(t, 1)
	assert.Equal(t, StateIdle, f.session.State())

	f.session.HandleConnect()
	assert.Equal(t, StateTrading, f.session.State())

	frames := f.transport.sent()
	require.Len(t, frames, 3)
	assert.Equal(t, "futures.tickers", frames[0].Channel)
	assert.Equal(t, "subscribe", frames[0].Event)
	assert.False(t, frames[0].Auth)
	assert.Equal(t, []string{"BTC_USDT"}, frames[0].Payload)
	assert.Equal(t, "futures.orders", frames[1].Channel)
	assert.True(t, frames[1].Auth)
	assert.Equal(t, "futures.usertrades", frames[2].Channel)
	assert.True(t, frames[2].Auth)
}

// 完整交易周期：第一帧开仓，价差回到阈值内的帧平仓，预算耗尽后会话终止。
func TestSessionTradeCycle(t *testing.T) {
	f := newFixture(t, 1)
	f.session.HandleConnect()

	// 第一帧：买入，入场价为卖一价 100.01；买一价 99.90 距入场价 0.11%，不平仓
	f.session.HandleFrame(tickerFrame("100", "99.90", "100.01"))

	pos, ok := f.ledger.Position("BTC_USDT")
	require.True(t, ok, "position should be open after first ticker")
	assert.True(t, pos.EntryPrice.Equal(decimal.RequireFromString("100.01")),
		"entry at ask, got %s", pos.EntryPrice)
	assert.Equal(t, int64(10), pos.Size)

	orders := f.transport.orders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(10), orders[0].Size)
	assert.Equal(t, "IOC", orders[0].TIF)
	assert.False(t, orders[0].Close)

	// 第二帧：买一价 100.00，价差 0.01% ≤ 0.05%，平仓
	f.session.HandleFrame(tickerFrame("100.02", "100.00", "100.03"))

	_, ok = f.ledger.Position("BTC_USDT")
	assert.False(t, ok, "position should be closed")
	require.Equal(t, 1, f.ledger.TradeCount())

	rec := f.ledger.History()[0]
	assert.True(t, rec.ExitPrice.Equal(decimal.RequireFromString("100.00")))
	// profit = (100.00 - 100.01) × 10
	assert.Equal(t, "-0.1000", rec.Profit.StringFixed(4))

	orders = f.transport.orders()
	require.Len(t, orders, 2)
	assert.Equal(t, int64(-10), orders[1].Size)
	assert.True(t, orders[1].Close)
	assert.True(t, orders[1].ReduceOnly)

	// 预算 1 笔已用完，会话进入终态并关闭连接
	assert.Equal(t, StateStopped, f.session.State())
	select {
	case <-f.session.Stopped():
	default:
		t.Fatal("stopped channel should be closed")
	}
	assert.True(t, f.transport.closed)

	// 终态后新帧不再产生任何动作
	before := len(f.transport.sent())
	f.session.HandleFrame(tickerFrame("100", "99.90", "100.01"))
	assert.Len(t, f.transport.sent(), before)
}

func TestSessionHoldsWhileSpreadWide(t *testing.T) {
	f := newFixture(t, 1)
	f.session.HandleConnect()

	f.session.HandleFrame(tickerFrame("100", "99.90", "100.01"))
	require.Equal(t, 0, f.ledger.TradeCount())

	// 价差始终在阈值外，仓位保持
	for i := 0; i < 5; i++ {
		f.session.HandleFrame(tickerFrame("99.80", "99.80", "99.81"))
	}
	_, ok := f.ledger.Position("BTC_USDT")
	assert.True(t, ok)
	assert.Equal(t, 0, f.ledger.TradeCount())
	assert.Equal(t, StateTrading, f.session.State())
	// 重复行情不触发重复下单
	assert.Len(t, f.transport.orders(), 1)
}

func TestMalformedFrameDiscarded(t *testing.T) {
	f := newFixture(t, 1)
	f.session.HandleConnect()

	f.session.HandleFrame([]byte(`{"channel":`))
	f.session.HandleFrame([]byte(`{"channel":"futures.tickers","event":"update","result":"not a ticker"}`))

	assert.Equal(t, StateTrading, f.session.State())
	_, ok := f.ledger.Position("BTC_USDT")
	assert.False(t, ok)
}

func TestServerErrorFrameIgnored(t *testing.T) {
	f := newFixture(t, 1)
	f.session.HandleConnect()

	f.session.HandleFrame([]byte(`{"channel":"futures.orders","event":"update","error":{"code":4,"message":"auth failed"}}`))
	assert.Equal(t, StateTrading, f.session.State())
}

func TestSubscribeConfirmFrame(t *testing.T) {
	f := newFixture(t, 1)
	f.session.HandleConnect()

	before := len(f.transport.sent())
	f.session.HandleFrame([]byte(`{"channel":"futures.tickers","event":"subscribe","result":{"status":"success"}}`))
	assert.Len(t, f.transport.sent(), before, "confirm frame must not trigger sends")
	assert.Equal(t, StateTrading, f.session.State())
}

func TestUntrackedInstrumentIgnored(t *testing.T) {
	f := newFixture(t, 1)
	f.session.HandleConnect()

	f.session.HandleFrame([]byte(
		`{"channel":"futures.tickers","event":"update","result":{"contract":"DOGE_USDT","last":"0.1","bid":"0.09","ask":"0.11"}}`))
	_, ok := f.ledger.Position("DOGE_USDT")
	assert.False(t, ok)
	assert.Empty(t, f.transport.orders())
}

func TestStopIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	f.session.HandleConnect()

	f.session.Stop("first")
	f.session.Stop("second")
	assert.Equal(t, StateStopped, f.session.State())
}

// assume_immediate_fill=false 时，仓位以待确认状态登记，
// 订单回报到达后才允许平仓。
func TestPendingFillConfirmation(t *testing.T) {
	cache := market.NewCache([]string{"BTC_USDT"})
	led := ledger.New()
	decider, err := strategy.NewEngine(cache, led, strategy.Params{
		SpreadThreshold: decimal.RequireFromString("0.0005"),
		MaxTrades:       1,
	})
	require.NoError(t, err)
	transport := &fakeTransport{}
	session, err := New(Config{
		Instruments:         []string{"BTC_USDT"},
		Amount:              10,
		ChannelPrefix:       "futures",
		AssumeImmediateFill: false,
	}, transport, cache, led, decider, logger.Nop(), nil)
	require.NoError(t, err)
	session.HandleConnect()

	session.HandleFrame(tickerFrame("100", "100.00", "100.01"))
	pos, ok := led.Position("BTC_USDT")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusConfirming, pos.Status)

	// 确认前即使价差达标也不平仓
	session.HandleFrame(tickerFrame("100.01", "100.01", "100.02"))
	assert.Equal(t, 0, led.TradeCount())

	session.HandleFrame([]byte(`{"channel":"futures.orders","event":"update","result":[{"contract":"BTC_USDT","status":"finished"}]}`))
	pos, _ = led.Position("BTC_USDT")
	assert.Equal(t, ledger.StatusOpen, pos.Status)

	session.HandleFrame(tickerFrame("100.01", "100.01", "100.02"))
	assert.Equal(t, 1, led.TradeCount())
}

func TestParseOrderRefs(t *testing.T) {
	refs := parseOrderRefs(json.RawMessage(`[{"contract":"BTC_USDT"},{"contract":"ETH_USDT"}]`))
	require.Len(t, refs, 2)
	assert.Equal(t, "BTC_USDT", refs[0].Contract)

	refs = parseOrderRefs(json.RawMessage(`{"contract":"BTC_USDT"}`))
	require.Len(t, refs, 1)

	assert.Nil(t, parseOrderRefs(json.RawMessage(`"garbage`)))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "TRADING", StateTrading.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
