// Package inspector prints a read-only view of Mango margin accounts: token
// balances, perp positions, resting perp orders and Serum open orders, all
// in UI units.
package inspector

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/coldbell/mango/backend/internal/chain"
	"github.com/coldbell/mango/backend/internal/config"
	"github.com/coldbell/mango/backend/internal/dex"
	"github.com/coldbell/mango/backend/internal/mango"
	"github.com/coldbell/mango/backend/internal/serum"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

type chainReader interface {
	mango.AccountSource
	LoadGroup(ctx context.Context, key solana.PublicKey) (*mango.Group, error)
	LoadAccount(ctx context.Context, key solana.PublicKey) (*mango.Account, error)
	LoadPerpMarket(ctx context.Context, key solana.PublicKey) (*mango.PerpMarket, error)
	AccountsForOwner(ctx context.Context, owner solana.PublicKey) ([]chain.OwnedAccount, error)
}

type Service struct {
	cfg    config.InspectorConfig
	chain  chainReader
	logger *slog.Logger
}

func New(cfg config.InspectorConfig, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, chain: chain.NewClient(cfg.Chain, logger), logger: logger}
}

type TokenBalance struct {
	Symbol string
	// Net is deposits minus borrows in the bank's index-scaled units.
	Net decimal.Decimal
}

type PerpPosition struct {
	Market       string
	Base         decimal.Decimal
	Quote        decimal.Decimal
	BidsQuantity decimal.Decimal
	AsksQuantity decimal.Decimal
	MngoAccrued  uint64
}

type PerpOrder struct {
	Market        string
	Slot          int
	Side          string
	Price         decimal.Decimal
	OrderID       string
	ClientOrderID uint64
}

type SpotOrders struct {
	Market     string
	OpenOrders string
	BaseFree   decimal.Decimal
	BaseTotal  decimal.Decimal
	QuoteFree  decimal.Decimal
	QuoteTotal decimal.Decimal
	Orders     int
}

// maxAccountNum bounds the search for the CreateMangoAccount index of a key.
const maxAccountNum = 32

type Report struct {
	Key   solana.PublicKey
	Owner solana.PublicKey
	// AccountNum is the index the key was derived from, or -1 when the key
	// is not one of the owner's first maxAccountNum derived addresses.
	AccountNum      int
	Name            string
	Delegate        solana.PublicKey
	BeingLiquidated bool
	IsBankrupt      bool
	AdvancedOrders  solana.PublicKey
	// AdvancedOrdersDerived is false when the stored key is not the PDA the
	// program derives for this account.
	AdvancedOrdersDerived bool
	Balances              []TokenBalance
	Positions             []PerpPosition
	Orders                []PerpOrder
	Spot                  []SpotOrders
}

func (s *Service) Run(ctx context.Context) error {
	group, err := s.chain.LoadGroup(ctx, s.cfg.Chain.Group)
	if err != nil {
		return fmt.Errorf("load group %s: %w", s.cfg.Chain.Group, err)
	}
	if err := verifySigner(s.cfg.Chain.ProgramID, s.cfg.Chain.Group, group); err != nil {
		return err
	}

	accounts, err := s.accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		s.logger.Warn("no margin accounts found", "owner", s.cfg.Owner.String())
		return nil
	}

	spotLayout := serum.LayoutVersion(group.DexProgramID)
	if spotLayout != serum.LatestLayoutVersion {
		s.logger.Warn("skipping spot open orders with an unsupported layout",
			"dex_program", group.DexProgramID.String(),
			"layout_version", spotLayout,
		)
	}

	markets := make(map[int]*mango.PerpMarket)
	for _, owned := range accounts {
		if !owned.Account.Group.Equals(s.cfg.Chain.Group) {
			s.logger.Warn("account belongs to another group",
				"account", owned.Key.String(),
				"group", owned.Account.Group.String(),
			)
			continue
		}
		if err := s.loadPerpMarkets(ctx, group, owned.Account, markets); err != nil {
			return err
		}
		var openOrders map[solana.PublicKey]*serum.OpenOrders
		if spotLayout == serum.LatestLayoutVersion {
			openOrders, err = mango.ResolveOpenOrders(ctx, s.chain, owned.Account)
			if err != nil {
				return fmt.Errorf("account %s: %w", owned.Key, err)
			}
		}
		report, err := BuildReport(s.cfg.Chain.Cluster, s.cfg.Chain.ProgramID, owned.Key, owned.Account, markets, openOrders)
		if err != nil {
			return fmt.Errorf("account %s: %w", owned.Key, err)
		}
		s.log(report)
	}
	return nil
}

func (s *Service) accounts(ctx context.Context) ([]chain.OwnedAccount, error) {
	if !s.cfg.Account.IsZero() {
		account, err := s.chain.LoadAccount(ctx, s.cfg.Account)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", s.cfg.Account, err)
		}
		return []chain.OwnedAccount{{Key: s.cfg.Account, Account: account}}, nil
	}
	accounts, err := s.chain.AccountsForOwner(ctx, s.cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("accounts for owner %s: %w", s.cfg.Owner, err)
	}
	return accounts, nil
}

// loadPerpMarkets fills markets with every perp market the account holds a
// position or order in.
func (s *Service) loadPerpMarkets(ctx context.Context, group *mango.Group, account *mango.Account, markets map[int]*mango.PerpMarket) error {
	for index := range perpIndexes(account) {
		if _, ok := markets[index]; ok {
			continue
		}
		key := group.PerpMarkets[index].PerpMarket
		if key.IsZero() {
			continue
		}
		market, err := s.chain.LoadPerpMarket(ctx, key)
		if err != nil {
			return fmt.Errorf("load perp market %d: %w", index, err)
		}
		markets[index] = market
	}
	return nil
}

func perpIndexes(account *mango.Account) map[int]struct{} {
	out := make(map[int]struct{})
	for i, perp := range account.PerpAccounts {
		if holdsPosition(perp) {
			out[i] = struct{}{}
		}
	}
	for _, order := range account.PerpOrders() {
		if order.MarketIndex < mango.MaxPairs {
			out[order.MarketIndex] = struct{}{}
		}
	}
	return out
}

func holdsPosition(perp mango.PerpAccount) bool {
	return perp.BasePosition != 0 || !perp.QuotePosition.IsZero() || perp.BidsQuantity != 0 || perp.AsksQuantity != 0
}

func verifySigner(programID, groupKey solana.PublicKey, group *mango.Group) error {
	signer, err := dex.DeriveGroupSigner(programID, groupKey, group.SignerNonce)
	if err != nil {
		return fmt.Errorf("derive group signer: %w", err)
	}
	if !signer.Equals(group.SignerKey) {
		return fmt.Errorf("group %s signer %s does not match program %s (derived %s)",
			groupKey, group.SignerKey, programID, signer)
	}
	return nil
}

// BuildReport converts a decoded account into UI units. Perp markets
// missing from markets are reported in native units.
func BuildReport(
	cluster mango.Cluster,
	programID solana.PublicKey,
	key solana.PublicKey,
	account *mango.Account,
	markets map[int]*mango.PerpMarket,
	openOrders map[solana.PublicKey]*serum.OpenOrders,
) (Report, error) {
	report := Report{
		Key:             key,
		Owner:           account.Owner,
		Name:            account.Name(),
		Delegate:        account.Delegate,
		BeingLiquidated: account.BeingLiquidated,
		IsBankrupt:      account.IsBankrupt,
		AdvancedOrders:  account.AdvancedOrdersKey,
	}
	accountNum, err := derivedAccountNum(programID, account.Group, account.Owner, key)
	if err != nil {
		return Report{}, err
	}
	report.AccountNum = accountNum
	if !account.AdvancedOrdersKey.IsZero() {
		derived, _, err := dex.DeriveAdvancedOrdersPDA(programID, key)
		if err != nil {
			return Report{}, fmt.Errorf("derive advanced orders: %w", err)
		}
		report.AdvancedOrdersDerived = derived.Equals(account.AdvancedOrdersKey)
	}

	quoteDecimals := int32(cluster.Decimals[mango.QuoteIndex])
	for i := range mango.MaxTokens {
		net := account.NetDeposit(i)
		if net.IsZero() || cluster.Symbols[i] == "" {
			continue
		}
		report.Balances = append(report.Balances, TokenBalance{
			Symbol: cluster.Symbols[i],
			Net:    net.Decimal().Shift(-int32(cluster.Decimals[i])),
		})
	}

	for index := range mango.MaxPairs {
		perp := account.PerpAccounts[index]
		if !holdsPosition(perp) {
			continue
		}
		position := PerpPosition{
			Market:       marketName(cluster, index),
			Quote:        perp.QuotePosition.Decimal().Shift(-quoteDecimals),
			Base:         decimal.NewFromInt(perp.BasePosition),
			BidsQuantity: decimal.NewFromInt(perp.BidsQuantity),
			AsksQuantity: decimal.NewFromInt(perp.AsksQuantity),
			MngoAccrued:  perp.MngoAccrued,
		}
		if market, ok := markets[index]; ok {
			var err error
			if position.Base, err = mango.NativeQuantityToUI(perp.BasePosition, cluster, index, market); err != nil {
				return Report{}, err
			}
			if position.BidsQuantity, err = mango.NativeQuantityToUI(perp.BidsQuantity, cluster, index, market); err != nil {
				return Report{}, err
			}
			if position.AsksQuantity, err = mango.NativeQuantityToUI(perp.AsksQuantity, cluster, index, market); err != nil {
				return Report{}, err
			}
		}
		report.Positions = append(report.Positions, position)
	}

	for index := range mango.MaxPairs {
		orders, err := perpOrders(cluster, index, markets[index], account.PerpOrdersForMarket(index))
		if err != nil {
			return Report{}, err
		}
		report.Orders = append(report.Orders, orders...)
	}

	for index, key := range account.OpenOrdersKeys() {
		oo, ok := openOrders[key]
		if !ok {
			continue
		}
		baseDecimals := int32(cluster.Decimals[index])
		report.Spot = append(report.Spot, SpotOrders{
			Market:     cluster.Symbols[index] + "/" + cluster.Symbols[mango.QuoteIndex],
			OpenOrders: key.String(),
			BaseFree:   decimal.NewFromUint64(oo.BaseTokenFree).Shift(-baseDecimals),
			BaseTotal:  decimal.NewFromUint64(oo.BaseTokenTotal).Shift(-baseDecimals),
			QuoteFree:  decimal.NewFromUint64(oo.QuoteTokenFree).Shift(-quoteDecimals),
			QuoteTotal: decimal.NewFromUint64(oo.QuoteTokenTotal).Shift(-quoteDecimals),
			Orders:     len(oo.OpenOrderSlots()),
		})
	}
	slices.SortFunc(report.Spot, func(a, b SpotOrders) int {
		return strings.Compare(a.Market, b.Market)
	})
	return report, nil
}

func perpOrders(cluster mango.Cluster, index int, market *mango.PerpMarket, orders []mango.PerpOrder) ([]PerpOrder, error) {
	out := make([]PerpOrder, 0, len(orders))
	for _, order := range orders {
		item := PerpOrder{
			Market:        marketName(cluster, index),
			Slot:          order.Slot,
			Side:          order.Side.String(),
			Price:         decimal.NewFromInt(order.OrderID.Price()),
			OrderID:       order.OrderID.String(),
			ClientOrderID: order.ClientOrderID,
		}
		if market != nil {
			price, err := mango.NativePriceToUI(order.OrderID.Price(), cluster, index, market)
			if err != nil {
				return nil, err
			}
			item.Price = price
		}
		out = append(out, item)
	}
	return out, nil
}

// derivedAccountNum finds the CreateMangoAccount index behind key. Accounts
// opened with a plain keypair report -1.
func derivedAccountNum(programID, group, owner, key solana.PublicKey) (int, error) {
	for num := range maxAccountNum {
		derived, _, err := dex.DeriveAccountPDA(programID, group, owner, uint64(num))
		if err != nil {
			return 0, fmt.Errorf("derive account %d: %w", num, err)
		}
		if derived.Equals(key) {
			return num, nil
		}
	}
	return -1, nil
}

func marketName(cluster mango.Cluster, index int) string {
	if index < 0 || index >= mango.MaxTokens || cluster.Symbols[index] == "" {
		return fmt.Sprintf("perp-%d", index)
	}
	return cluster.Symbols[index] + "-PERP"
}

func (s *Service) log(report Report) {
	s.logger.Info("margin account",
		"account", report.Key.String(),
		"owner", report.Owner.String(),
		"account_num", report.AccountNum,
		"name", report.Name,
		"delegate", report.Delegate.String(),
		"being_liquidated", report.BeingLiquidated,
		"bankrupt", report.IsBankrupt,
	)
	if !report.AdvancedOrders.IsZero() && !report.AdvancedOrdersDerived {
		s.logger.Warn("advanced orders account is not the derived address",
			"account", report.Key.String(),
			"advanced_orders", report.AdvancedOrders.String(),
		)
	}
	for _, balance := range report.Balances {
		s.logger.Info("balance", "token", balance.Symbol, "net", balance.Net.String())
	}
	for _, position := range report.Positions {
		s.logger.Info("perp position",
			"market", position.Market,
			"base", position.Base.String(),
			"quote", position.Quote.String(),
			"bids", position.BidsQuantity.String(),
			"asks", position.AsksQuantity.String(),
			"mngo_accrued", position.MngoAccrued,
		)
	}
	for _, order := range report.Orders {
		s.logger.Info("perp order",
			"market", order.Market,
			"slot", order.Slot,
			"side", order.Side,
			"price", order.Price.String(),
			"order_id", order.OrderID,
			"client_order_id", order.ClientOrderID,
		)
	}
	for _, spot := range report.Spot {
		s.logger.Info("spot open orders",
			"market", spot.Market,
			"open_orders", spot.OpenOrders,
			"base_free", spot.BaseFree.String(),
			"base_total", spot.BaseTotal.String(),
			"quote_free", spot.QuoteFree.String(),
			"quote_total", spot.QuoteTotal.String(),
			"orders", spot.Orders,
		)
	}
}
