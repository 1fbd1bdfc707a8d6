package gateway

// Sender 抽象发送路径，便于测试替身。*Conn 满足该接口。
type Sender interface {
	SendRequest(channel, event string, payload interface{}, authRequired bool) error
}

// Subscriber 订阅管理器：无本地状态，每次调用恰好发出一帧。
type Subscriber struct {
	Sender Sender
}

// Subscribe 订阅频道。
func (s Subscriber) Subscribe(channel string, payload interface{}, authRequired bool) error {
	return s.Sender.SendRequest(channel, "subscribe", payload, authRequired)
}

// Unsubscribe 取消订阅频道。
func (s Subscriber) Unsubscribe(channel string, payload interface{}, authRequired bool) error {
	return s.Sender.SendRequest(channel, "unsubscribe", payload, authRequired)
}
