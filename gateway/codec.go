package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDecode 入站帧无法解析。调用方记录日志并丢弃该帧，不重试。
var ErrDecode = errors.New("decode frame")

// Credentials 频道认证所需的 API 凭证。
type Credentials struct {
	Key    string
	Secret string
}

// AuthBlock is the auth object attached to authenticated requests.
type AuthBlock struct {
	Method string `json:"method"`
	Key    string `json:"KEY"`
	Sign   string `json:"SIGN"`
}

// Request 出站请求信封。Event 为空时序列化为 null（与交易所协议一致）。
type Request struct {
	Time    int64       `json:"time"`
	Channel string      `json:"channel"`
	Event   *string     `json:"event"`
	Payload interface{} `json:"payload"`
	Auth    *AuthBlock  `json:"auth,omitempty"`
}

// Event 入站事件信封。推送数据在 Result 中，部分帧使用 Payload。
type Event struct {
	Time    int64           `json:"time"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Result  json.RawMessage `json:"result"`
	Payload json.RawMessage `json:"payload"`
	Error   *EventError     `json:"error"`
}

// EventError 服务端返回的错误体。
type EventError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Body 返回事件携带的数据体，优先 result。
func (e Event) Body() json.RawMessage {
	if len(e.Result) > 0 && string(e.Result) != "null" {
		return e.Result
	}
	return e.Payload
}

// EncodeRequest 构造请求信封并序列化。authRequired 时按规范串签名：
// channel=<channel>&event=<event>&time=<unix-seconds>。
func EncodeRequest(creds Credentials, channel, event string, payload interface{}, authRequired bool, now time.Time) ([]byte, error) {
	unix := now.Unix()
	req := Request{
		Time:    unix,
		Channel: channel,
		Payload: payload,
	}
	if event != "" {
		req.Event = &event
	}
	if authRequired {
		req.Auth = &AuthBlock{
			Method: "api_key",
			Key:    creds.Key,
			Sign:   Sign(creds.Secret, SigningString(channel, event, unix)),
		}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", channel, err)
	}
	return data, nil
}

// DecodeEvent 解析入站帧。
func DecodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return ev, nil
}
