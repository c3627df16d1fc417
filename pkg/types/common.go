package types

import (
	"fmt"
	"strings"
)

// OrderSide is the direction of an order
type OrderSide string

// Order sides
const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// VenueType classifies an execution destination
type VenueType string

// Venue types
const (
	VenueTypeExchange    VenueType = "EXCHANGE"
	VenueTypeDarkPool    VenueType = "DARK_POOL"
	VenueTypeECN         VenueType = "ECN"
	VenueTypeMarketMaker VenueType = "MARKET_MAKER"
)

// Connectivity describes how a venue is reached. Informational only.
type Connectivity string

const (
	ConnectivityDirect Connectivity = "DIRECT"
	ConnectivityFIX    Connectivity = "FIX"
	ConnectivityAPI    Connectivity = "API"
)

// AlgorithmType identifies an execution algorithm family
type AlgorithmType string

// Algorithm types
const (
	AlgorithmSmart                   AlgorithmType = "SMART"
	AlgorithmVWAP                    AlgorithmType = "VWAP"
	AlgorithmTWAP                    AlgorithmType = "TWAP"
	AlgorithmImplementationShortfall AlgorithmType = "IMPLEMENTATION_SHORTFALL"
	AlgorithmArrivalPrice            AlgorithmType = "ARRIVAL_PRICE"
	AlgorithmLiquiditySeeking        AlgorithmType = "LIQUIDITY_SEEKING"
)

// MarketCondition is the coarse regime reported with an order
type MarketCondition string

// Market conditions
const (
	MarketNormal   MarketCondition = "NORMAL"
	MarketVolatile MarketCondition = "VOLATILE"
	MarketQuiet    MarketCondition = "QUIET"
)

// MinutesPerDay bounds a minutes-since-midnight value
const MinutesPerDay = 24 * 60

// Valid reports whether s is a known order side
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Valid reports whether t is a known venue type
func (t VenueType) Valid() bool {
	switch t {
	case VenueTypeExchange, VenueTypeDarkPool, VenueTypeECN, VenueTypeMarketMaker:
		return true
	}
	return false
}

// Valid reports whether t is a known algorithm type
func (t AlgorithmType) Valid() bool {
	switch t {
	case AlgorithmSmart, AlgorithmVWAP, AlgorithmTWAP,
		AlgorithmImplementationShortfall, AlgorithmArrivalPrice, AlgorithmLiquiditySeeking:
		return true
	}
	return false
}

// Valid reports whether c is a known market condition
func (c MarketCondition) Valid() bool {
	switch c {
	case MarketNormal, MarketVolatile, MarketQuiet:
		return true
	}
	return false
}

// ParseOrderSide accepts "buy"/"sell" in any case
func ParseOrderSide(s string) (OrderSide, error) {
	side := OrderSide(strings.ToUpper(strings.TrimSpace(s)))
	if !side.Valid() {
		return "", fmt.Errorf("invalid order side: %q", s)
	}
	return side, nil
}

// ParseVenueType accepts the canonical names plus "dark-pool" style spellings
func ParseVenueType(s string) (VenueType, error) {
	t := VenueType(normalizeEnum(s))
	if !t.Valid() {
		return "", fmt.Errorf("invalid venue type: %q", s)
	}
	return t, nil
}

// ParseAlgorithmType parses an algorithm family name
func ParseAlgorithmType(s string) (AlgorithmType, error) {
	t := AlgorithmType(normalizeEnum(s))
	if !t.Valid() {
		return "", fmt.Errorf("invalid algorithm type: %q", s)
	}
	return t, nil
}

// ParseMarketCondition parses a market condition name
func ParseMarketCondition(s string) (MarketCondition, error) {
	c := MarketCondition(normalizeEnum(s))
	if !c.Valid() {
		return "", fmt.Errorf("invalid market condition: %q", s)
	}
	return c, nil
}

func normalizeEnum(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}

// FormatMinuteOfDay renders minutes since midnight as HH:MM
func FormatMinuteOfDay(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseMinuteOfDay parses HH:MM into minutes since midnight
func ParseMinuteOfDay(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return h*60 + m, nil
}
