package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"

	"order_router/internal/core"
	"order_router/internal/execution"
)

func TestBinanceSideMapping(t *testing.T) {
	assert.Equal(t, binance.SideTypeBuy, binanceSide(core.SideBuy))
	assert.Equal(t, binance.SideTypeSell, binanceSide(core.SideSell))
}

func TestTransientWrapping(t *testing.T) {
	err := transient("create order", errors.New("dial tcp: timeout"))
	assert.True(t, execution.IsTransient(err))
	assert.Contains(t, err.Error(), "create order")
}

func TestOrderTime(t *testing.T) {
	ts := orderTime(1754042400000)
	assert.Equal(t, 2025, ts.Year())
	assert.Equal(t, time.UTC, ts.Location())

	// Missing timestamp falls back to now.
	assert.WithinDuration(t, time.Now().UTC(), orderTime(0), time.Second)
}
