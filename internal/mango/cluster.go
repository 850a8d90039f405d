package mango

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Cluster is a static deployment preset. Decimals and Symbols are indexed
// by token index; QuoteIndex holds the quote currency.
type Cluster struct {
	Name     string
	Endpoint string
	Group    solana.PublicKey
	Program  solana.PublicKey
	Decimals [MaxTokens]uint8
	Symbols  [MaxTokens]string
}

var Mainnet = Cluster{
	Name:     "mainnet",
	Endpoint: "https://mango.rpcpool.com/946ef7337da3f5b8d3e4a34e7f88",
	Group:    solana.MustPublicKeyFromBase58("98pjRuQjK3qA6gXts96PqZT4Ze5QmnCmt3QYjhbUSPue"),
	Program:  solana.MustPublicKeyFromBase58("mv3ekLzLbnVPNxjSKvqBpU3ZeZXPQdEC3bp5MDEBG68"),
	Decimals: [MaxTokens]uint8{6, 6, 6, 9, 6, 6, 6, 6, 6, 9, 8, 8, 6, 0, 0, 6},
	Symbols: [MaxTokens]string{
		"MNGO", "BTC", "ETH", "SOL", "USDT", "SRM", "RAY", "COPE",
		"FTT", "MSOL", "BNB", "AVAX", "LUNA", "", "", "USDC",
	},
}

var Devnet = Cluster{
	Name:     "devnet",
	Endpoint: "https://mango.devnet.rpcpool.com",
	Group:    solana.MustPublicKeyFromBase58("Ec2enZyoC4nGpEfu2sUNAa2nUGJHWxoUWYSEJ2hNTWTA"),
	Program:  solana.MustPublicKeyFromBase58("4skJ85cdxQAFVKbcGgfun8iZPL7BadVYXG3kGEGkufqA"),
	Decimals: [MaxTokens]uint8{6, 6, 6, 9, 6, 6, 6, 6, 6, 9, 8, 8, 8, 0, 0, 6},
	Symbols: [MaxTokens]string{
		"MNGO", "BTC", "ETH", "SOL", "SRM", "RAY", "USDT", "ADA",
		"FTT", "AVAX", "LUNA", "BNB", "MATIC", "", "", "USDC",
	},
}

func ClusterByName(name string) (Cluster, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mainnet", "mainnet-beta", "":
		return Mainnet, nil
	case "devnet":
		return Devnet, nil
	default:
		return Cluster{}, fmt.Errorf("%w: cluster %q", ErrNotFound, name)
	}
}

// SymbolIndex returns the token index of symbol, case-insensitively. A
// "-PERP" suffix is accepted so market names resolve too.
func (c Cluster) SymbolIndex(symbol string) (int, error) {
	want := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(symbol)), "-PERP")
	if want == "" {
		return 0, fmt.Errorf("%w: empty symbol", ErrNotFound)
	}
	for i, s := range c.Symbols {
		if s == want {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: symbol %s on %s", ErrNotFound, symbol, c.Name)
}
