package mango

import (
	"fmt"
	"math"
	"math/big"

	"github.com/coldbell/mango/backend/internal/num"
	"github.com/shopspring/decimal"
)

// UIToNativePriceQuantity converts a UI price and quantity into lot units:
//
//	price    = trunc(price*10^quoteDecimals) * baseLot / (quoteLot * 10^baseDecimals)
//	quantity = trunc(quantity*10^baseDecimals) / baseLot
//
// Every step truncates toward zero.
func UIToNativePriceQuantity(price, quantity float64, cluster Cluster, marketIndex int, market *PerpMarket) (int64, int64, error) {
	if err := checkMarket(marketIndex, market); err != nil {
		return 0, 0, err
	}
	baseUnit := pow10(cluster.Decimals[marketIndex])
	quoteUnit := pow10(cluster.Decimals[QuoteIndex])

	scaledPrice, err := truncScaled(price, quoteUnit)
	if err != nil {
		return 0, 0, fmt.Errorf("price %v: %w", price, err)
	}
	scaledQuantity, err := truncScaled(quantity, baseUnit)
	if err != nil {
		return 0, 0, fmt.Errorf("quantity %v: %w", quantity, err)
	}

	nativePrice := new(big.Int).Mul(big.NewInt(scaledPrice), big.NewInt(market.BaseLotSize))
	nativePrice.Quo(nativePrice, new(big.Int).Mul(big.NewInt(market.QuoteLotSize), big.NewInt(baseUnit)))
	if !nativePrice.IsInt64() {
		return 0, 0, fmt.Errorf("native price for %v: %w", price, num.ErrOverflow)
	}

	return nativePrice.Int64(), scaledQuantity / market.BaseLotSize, nil
}

// NativePriceToUI converts a lot-unit price back to quote units per base unit.
func NativePriceToUI(nativePrice int64, cluster Cluster, marketIndex int, market *PerpMarket) (decimal.Decimal, error) {
	if err := checkMarket(marketIndex, market); err != nil {
		return decimal.Zero, err
	}
	shift := int32(cluster.Decimals[marketIndex]) - int32(cluster.Decimals[QuoteIndex])
	return decimal.NewFromInt(nativePrice).
		Mul(decimal.NewFromInt(market.QuoteLotSize)).
		Shift(shift).
		Div(decimal.NewFromInt(market.BaseLotSize)), nil
}

// NativeQuantityToUI converts a quantity in base lots to base units.
func NativeQuantityToUI(nativeQuantity int64, cluster Cluster, marketIndex int, market *PerpMarket) (decimal.Decimal, error) {
	if err := checkMarket(marketIndex, market); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(nativeQuantity).
		Mul(decimal.NewFromInt(market.BaseLotSize)).
		Shift(-int32(cluster.Decimals[marketIndex])), nil
}

func checkMarket(marketIndex int, market *PerpMarket) error {
	if marketIndex < 0 || marketIndex >= MaxPairs {
		return fmt.Errorf("%w: market index %d out of range", ErrNotFound, marketIndex)
	}
	if market == nil || market.BaseLotSize <= 0 || market.QuoteLotSize <= 0 {
		return fmt.Errorf("market %d has no positive lot sizes", marketIndex)
	}
	return nil
}

func pow10(decimals uint8) int64 {
	out := int64(1)
	for range decimals {
		out *= 10
	}
	return out
}

func truncScaled(v float64, unit int64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, num.ErrNotFinite
	}
	scaled := math.Trunc(v * float64(unit))
	if scaled >= math.MaxInt64 || scaled < math.MinInt64 {
		return 0, num.ErrOverflow
	}
	return int64(scaled), nil
}
