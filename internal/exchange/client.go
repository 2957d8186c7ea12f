package exchange

import (
	"time"

	"github.com/adshao/go-binance/v2"

	"order_router/internal/config"
)

const pingTimeout = 5 * time.Second

// NewClient builds a spot client from the configured credentials.
func NewClient(cfg config.ExchangeConfig) *binance.Client {
	return binance.NewClient(string(cfg.APIKey), string(cfg.SecretKey))
}

// orderTime converts a Binance transact timestamp (milliseconds) to UTC.
func orderTime(millis int64) time.Time {
	if millis == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(millis).UTC()
}
