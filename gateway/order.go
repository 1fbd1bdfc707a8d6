package gateway

// OrderIntent 下单请求体。size 为带符号数量，负数表示卖出/平仓；
// price 为 0 表示市价；tif 固定 IOC（立即成交否则撤销）。
type OrderIntent struct {
	Contract   string `json:"contract"`
	Size       int64  `json:"size"`
	Price      int64  `json:"price"`
	Text       string `json:"text"`
	TIF        string `json:"tif"`
	Close      bool   `json:"close,omitempty"`
	ReduceOnly bool   `json:"reduce_only,omitempty"`
}

// NewOrderIntent 构造市价 IOC 下单请求。
func NewOrderIntent(contract string, size int64, text string, closing bool) OrderIntent {
	intent := OrderIntent{
		Contract: contract,
		Size:     size,
		Price:    0,
		Text:     text,
		TIF:      "IOC",
	}
	if closing {
		intent.Close = true
		intent.ReduceOnly = true
	}
	return intent
}
