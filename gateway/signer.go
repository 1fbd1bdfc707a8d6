package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// Sign 计算频道认证签名：HMAC-SHA512(secret, message) 的小写 hex。
// message 为规范化请求串，见 SigningString。
func Sign(secret, message string) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// SigningString builds the canonical string covered by the signature.
func SigningString(channel, event string, unixTime int64) string {
	return fmt.Sprintf("channel=%s&event=%s&time=%d", channel, event, unixTime)
}
