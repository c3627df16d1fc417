package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums(t *testing.T) {
	side, err := ParseOrderSide("buy")
	require.NoError(t, err)
	assert.Equal(t, OrderSideBuy, side)

	_, err = ParseOrderSide("hold")
	assert.Error(t, err)

	vt, err := ParseVenueType("dark-pool")
	require.NoError(t, err)
	assert.Equal(t, VenueTypeDarkPool, vt)

	at, err := ParseAlgorithmType("implementation shortfall")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmImplementationShortfall, at)

	mc, err := ParseMarketCondition("Volatile")
	require.NoError(t, err)
	assert.Equal(t, MarketVolatile, mc)

	_, err = ParseMarketCondition("crashing")
	assert.Error(t, err)
}

func TestMinuteOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:15", 555, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"9h15", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMinuteOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, FormatMinuteOfDay(got))
		})
	}
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := NewValidationError("quantity", "must be positive")
	assert.True(t, errors.Is(err, ErrInvalidOrderContext))
	assert.Contains(t, err.Error(), "quantity")
}

func TestArgumentErrorUnwraps(t *testing.T) {
	err := NewArgumentError("time_limit", "missing unit")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.False(t, errors.Is(err, ErrInvalidOrderContext))
	assert.Equal(t, "invalid argument [time_limit]: missing unit", err.Error())
}
