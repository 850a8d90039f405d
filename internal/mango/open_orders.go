package mango

import (
	"context"
	"fmt"

	"github.com/coldbell/mango/backend/internal/serum"
	"github.com/gagliardetto/solana-go"
)

// AccountSource fetches raw account data. Missing accounts come back as nil
// entries at the same position as their key.
type AccountSource interface {
	AccountsData(ctx context.Context, keys []solana.PublicKey) ([][]byte, error)
}

// ResolveOpenOrders loads the Serum open-orders accounts referenced by a
// margin account. Zero addresses are never queried. Accounts that are
// missing, fail to decode or are not initialized open-orders accounts are
// left out of the result.
func ResolveOpenOrders(ctx context.Context, source AccountSource, account *Account) (map[solana.PublicKey]*serum.OpenOrders, error) {
	keys := make([]solana.PublicKey, 0, MaxPairs)
	for _, key := range account.SpotOpenOrders {
		if !key.IsZero() {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return map[solana.PublicKey]*serum.OpenOrders{}, nil
	}

	data, err := source.AccountsData(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	if len(data) != len(keys) {
		return nil, fmt.Errorf("fetch open orders: requested %d accounts, got %d", len(keys), len(data))
	}
	return FilterOpenOrders(keys, data), nil
}

// FilterOpenOrders decodes data[i] as the account at keys[i] and keeps the
// valid ones.
func FilterOpenOrders(keys []solana.PublicKey, data [][]byte) map[solana.PublicKey]*serum.OpenOrders {
	out := make(map[solana.PublicKey]*serum.OpenOrders, len(keys))
	for i, key := range keys {
		if i >= len(data) || data[i] == nil || key.IsZero() {
			continue
		}
		oo, err := serum.Decode(data[i])
		if err != nil || !oo.Valid() {
			continue
		}
		out[key] = oo
	}
	return out
}
