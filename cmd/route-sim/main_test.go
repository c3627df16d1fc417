package main

import (
	"testing"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOrder(t *testing.T) {
	order, err := buildOrder(options{
		symbol:     "INFY",
		side:       "sell",
		quantity:   "2500",
		limit:      "1510.5",
		volatility: 0.03,
		condition:  "volatile",
		at:         "2024-03-01T15:10:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, types.OrderSideSell, order.Side)
	assert.Equal(t, "2500", order.Quantity.String())
	require.NotNil(t, order.LimitPrice)
	assert.Equal(t, "1510.5", order.LimitPrice.String())
	assert.Equal(t, types.MarketVolatile, order.MarketCondition)
	assert.Equal(t, 15*60+10, order.TimeOfDay)
	assert.Equal(t, time.Date(2024, 3, 1, 15, 10, 0, 0, time.UTC), order.Timestamp)
	assert.NoError(t, order.Validate())
}

func TestBuildOrder_TimeOverride(t *testing.T) {
	order, err := buildOrder(options{side: "BUY", quantity: "1", condition: "NORMAL", at: "2024-03-01T03:00:00Z", timeOfDay: "09:20"})
	require.NoError(t, err)
	assert.Equal(t, 9*60+20, order.TimeOfDay)
}

func TestBuildOrder_Invalid(t *testing.T) {
	base := options{side: "BUY", quantity: "1", condition: "NORMAL"}

	for name, mutate := range map[string]func(*options){
		"side":      func(o *options) { o.side = "HOLD" },
		"quantity":  func(o *options) { o.quantity = "lots" },
		"condition": func(o *options) { o.condition = "PANIC" },
		"at":        func(o *options) { o.at = "tomorrow" },
		"time":      func(o *options) { o.timeOfDay = "25:00" },
		"limit":     func(o *options) { o.limit = "cheap" },
	} {
		o := base
		mutate(&o)
		_, err := buildOrder(o)
		assert.Error(t, err, name)
	}
}
