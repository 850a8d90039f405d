// Package chain reads Mango accounts from a Solana RPC node.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldbell/mango/backend/internal/config"
	"github.com/coldbell/mango/backend/internal/mango"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MaxAccountsPerRequest is the getMultipleAccounts limit of public nodes.
const MaxAccountsPerRequest = 100

var ErrAccountNotFound = errors.New("chain: account not found")

// rpcAPI is the subset of *rpc.Client used here.
type rpcAPI interface {
	GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

type Client struct {
	rpc        rpcAPI
	logger     *slog.Logger
	commitment rpc.CommitmentType
	program    solana.PublicKey
	group      solana.PublicKey

	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	requestTimeout time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

var _ mango.AccountSource = (*Client)(nil)

func NewClient(cfg config.ChainConfig, logger *slog.Logger) *Client {
	return newClient(rpc.New(cfg.RPCURL), cfg, logger)
}

func newClient(api rpcAPI, cfg config.ChainConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:            api,
		logger:         logger,
		commitment:     cfg.Commitment,
		program:        cfg.ProgramID,
		group:          cfg.Group,
		maxRetries:     cfg.RPCMaxRetries,
		baseDelay:      cfg.RPCRetryBaseDelay,
		maxDelay:       cfg.RPCRetryMaxDelay,
		requestTimeout: cfg.RPCRequestTimeout,
		sleep:          sleepContext,
	}
}

func (c *Client) Program() solana.PublicKey { return c.program }
func (c *Client) Group() solana.PublicKey   { return c.group }

// AccountsData fetches raw account data in request order. Missing accounts
// come back as nil entries.
func (c *Client) AccountsData(ctx context.Context, keys []solana.PublicKey) ([][]byte, error) {
	data, _, err := c.fetch(ctx, keys)
	return data, err
}

// fetch also reports the lowest context slot among the chunks, so the data
// is at least that fresh.
func (c *Client) fetch(ctx context.Context, keys []solana.PublicKey) ([][]byte, uint64, error) {
	out := make([][]byte, 0, len(keys))
	var slot uint64
	for start := 0; start < len(keys); start += MaxAccountsPerRequest {
		end := min(start+MaxAccountsPerRequest, len(keys))
		chunk := keys[start:end]

		var result *rpc.GetMultipleAccountsResult
		err := c.withRetry(ctx, "getMultipleAccounts", func(ctx context.Context) error {
			var err error
			result, err = c.rpc.GetMultipleAccountsWithOpts(ctx, chunk, &rpc.GetMultipleAccountsOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: c.commitment,
			})
			return err
		})
		if err != nil {
			return nil, 0, fmt.Errorf("fetch accounts [%d,%d): %w", start, end, err)
		}
		if result == nil || len(result.Value) != len(chunk) {
			return nil, 0, fmt.Errorf("fetch accounts [%d,%d): node returned %d of %d accounts", start, end, valueLen(result), len(chunk))
		}
		if start == 0 || result.Context.Slot < slot {
			slot = result.Context.Slot
		}
		for _, account := range result.Value {
			if account == nil || account.Data == nil {
				out = append(out, nil)
				continue
			}
			out = append(out, account.Data.GetBinary())
		}
	}
	return out, slot, nil
}

func valueLen(result *rpc.GetMultipleAccountsResult) int {
	if result == nil {
		return 0
	}
	return len(result.Value)
}

func (c *Client) accountData(ctx context.Context, key solana.PublicKey) ([]byte, uint64, error) {
	data, slot, err := c.fetch(ctx, []solana.PublicKey{key})
	if err != nil {
		return nil, 0, err
	}
	if data[0] == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}
	return data[0], slot, nil
}

func (c *Client) LoadGroup(ctx context.Context, key solana.PublicKey) (*mango.Group, error) {
	data, _, err := c.accountData(ctx, key)
	if err != nil {
		return nil, err
	}
	group, err := mango.DecodeGroup(data)
	if err != nil {
		return nil, fmt.Errorf("decode group %s: %w", key, err)
	}
	return group, nil
}

func (c *Client) LoadAccount(ctx context.Context, key solana.PublicKey) (*mango.Account, error) {
	data, _, err := c.accountData(ctx, key)
	if err != nil {
		return nil, err
	}
	account, err := mango.DecodeAccount(data)
	if err != nil {
		return nil, fmt.Errorf("decode mango account %s: %w", key, err)
	}
	return account, nil
}

func (c *Client) LoadPerpMarket(ctx context.Context, key solana.PublicKey) (*mango.PerpMarket, error) {
	data, _, err := c.accountData(ctx, key)
	if err != nil {
		return nil, err
	}
	market, err := mango.DecodePerpMarket(data)
	if err != nil {
		return nil, fmt.Errorf("decode perp market %s: %w", key, err)
	}
	return market, nil
}

// LoadEventQueue also returns the slot the queue was read at.
func (c *Client) LoadEventQueue(ctx context.Context, key solana.PublicKey) (*mango.EventQueue, uint64, error) {
	data, slot, err := c.accountData(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	queue, err := mango.DecodeEventQueue(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode event queue %s: %w", key, err)
	}
	return queue, slot, nil
}

type OwnedAccount struct {
	Key     solana.PublicKey
	Account *mango.Account
}

// AccountsForOwner lists the owner's Mango accounts in the configured group.
// Accounts that fail to decode are logged and skipped.
func (c *Client) AccountsForOwner(ctx context.Context, owner solana.PublicKey) ([]OwnedAccount, error) {
	var result rpc.GetProgramAccountsResult
	err := c.withRetry(ctx, "getProgramAccounts", func(ctx context.Context) error {
		var err error
		result, err = c.rpc.GetProgramAccountsWithOpts(ctx, c.program, &rpc.GetProgramAccountsOpts{
			Commitment: c.commitment,
			Encoding:   solana.EncodingBase64,
			Filters:    ownerFilters(c.group, owner),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scan mango accounts of %s: %w", owner, err)
	}

	out := make([]OwnedAccount, 0, len(result))
	for _, item := range result {
		if item == nil || item.Account == nil || item.Account.Data == nil {
			continue
		}
		account, err := mango.DecodeAccount(item.Account.Data.GetBinary())
		if err != nil {
			c.logger.Warn("skipping undecodable mango account", "pubkey", item.Pubkey, "err", err)
			continue
		}
		out = append(out, OwnedAccount{Key: item.Pubkey, Account: account})
	}
	return out, nil
}

func ownerFilters(group, owner solana.PublicKey) []rpc.RPCFilter {
	return []rpc.RPCFilter{
		{DataSize: mango.AccountSize},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: mango.AccountGroupOffset, Bytes: solana.Base58(group.Bytes())}},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: mango.AccountOwnerOffset, Bytes: solana.Base58(owner.Bytes())}},
	}
}

func (c *Client) withRetry(ctx context.Context, method string, call func(ctx context.Context) error) error {
	delay := c.baseDelay
	for attempt := 0; ; attempt++ {
		err := c.callOnce(ctx, call)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= c.maxRetries {
			return fmt.Errorf("%s failed after %d attempts: %w", method, attempt+1, err)
		}

		c.logger.Warn("rpc call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"retry_in", delay.String(),
			"err", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		delay = NextBackoff(delay, c.baseDelay, c.maxDelay)
	}
}

func (c *Client) callOnce(ctx context.Context, call func(ctx context.Context) error) error {
	if c.requestTimeout <= 0 {
		return call(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	return call(callCtx)
}

// NextBackoff doubles current, clamped to [floor, ceiling].
func NextBackoff(current, floor, ceiling time.Duration) time.Duration {
	if floor <= 0 {
		floor = time.Second
	}
	if ceiling < floor {
		ceiling = floor
	}
	if current < floor {
		current = floor
	}
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
