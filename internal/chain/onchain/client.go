// Package onchain implements chain.Client against a Solana RPC node.
//
// Accounts are read with base64 encoding and decoded locally. Every RPC call
// waits on a shared token bucket and carries its own timeout.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	"github.com/roach88/mintgate/internal/chain"
	"github.com/roach88/mintgate/internal/guard"
)

// DevnetEndpoint is used when no endpoint is configured.
const DevnetEndpoint = "https://api.devnet.solana.com"

const (
	// DefaultTimeout bounds a single RPC call.
	DefaultTimeout = 12 * time.Second

	// DefaultRateLimit is the default number of RPC calls per second.
	DefaultRateLimit = 10

	// maxMultipleAccounts is the getMultipleAccounts batch limit.
	maxMultipleAccounts = 100
)

var (
	// CandyMachineProgramID is the candy machine core program.
	CandyMachineProgramID = solana.MustPublicKeyFromBase58("CndyV3LdqHUfDLmE5naZjVN8rBZz4tqhdefbAnjHG3JR")

	// CandyGuardProgramID is the candy guard program.
	CandyGuardProgramID = solana.MustPublicKeyFromBase58("Guard1JwRhJkVH6XZhzoYxeBVQe872VH6QggF4BWmS9g")
)

var errAccountNotFound = errors.New("account not found")

// Client reads candy machine state over JSON-RPC.
type Client struct {
	rpc        *rpc.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	commitment rpc.CommitmentType
}

var _ chain.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit sets the sustained calls per second. A burst of the same size
// is allowed.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithCommitment sets the commitment level of reads.
func WithCommitment(commitment rpc.CommitmentType) Option {
	return func(c *Client) {
		c.commitment = commitment
	}
}

// New creates a Client for endpoint. An empty endpoint uses DevnetEndpoint.
func New(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DevnetEndpoint
	}
	c := &Client{
		rpc:        rpc.New(endpoint),
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		timeout:    DefaultTimeout,
		commitment: rpc.CommitmentConfirmed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// call waits for the rate limiter and runs fn under the per-call timeout.
// Failures are reported as transient fetch errors.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return guard.NewTransientError(op, err)
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := fn(cctx); err != nil {
		if errors.Is(err, errAccountNotFound) {
			return err
		}
		return guard.NewTransientError(op, err)
	}
	return nil
}

// account returns the data and owner of addr, or errAccountNotFound.
func (c *Client) account(ctx context.Context, op string, addr solana.PublicKey) ([]byte, solana.PublicKey, error) {
	var (
		data  []byte
		owner solana.PublicKey
	)
	err := c.call(ctx, op, func(ctx context.Context) error {
		res, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		if errors.Is(err, rpc.ErrNotFound) || (err == nil && (res == nil || res.Value == nil)) {
			return errAccountNotFound
		}
		if err != nil {
			return err
		}
		data = res.Value.Data.GetBinary()
		owner = res.Value.Owner
		return nil
	})
	return data, owner, err
}

// accounts returns the data of addrs in order; missing accounts are nil.
func (c *Client) accounts(ctx context.Context, op string, addrs []solana.PublicKey) ([][]byte, error) {
	out := make([][]byte, 0, len(addrs))
	for start := 0; start < len(addrs); start += maxMultipleAccounts {
		end := min(start+maxMultipleAccounts, len(addrs))
		batch := addrs[start:end]

		err := c.call(ctx, op, func(ctx context.Context) error {
			res, err := c.rpc.GetMultipleAccountsWithOpts(ctx, batch, &rpc.GetMultipleAccountsOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: c.commitment,
			})
			if err != nil {
				return err
			}
			if len(res.Value) != len(batch) {
				return fmt.Errorf("got %d accounts for %d keys", len(res.Value), len(batch))
			}
			for _, acc := range res.Value {
				if acc == nil {
					out = append(out, nil)
					continue
				}
				out = append(out, acc.Data.GetBinary())
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FetchMachine reads and decodes the candy machine at id.
func (c *Client) FetchMachine(ctx context.Context, id solana.PublicKey) (chain.Machine, error) {
	data, owner, err := c.account(ctx, "fetch candy machine", id)
	if errors.Is(err, errAccountNotFound) {
		return chain.Machine{}, guard.NewConfigurationError(fmt.Sprintf("candy machine %s not found", id), nil)
	}
	if err != nil {
		return chain.Machine{}, err
	}
	if owner != CandyMachineProgramID {
		return chain.Machine{}, guard.NewConfigurationError(
			fmt.Sprintf("account %s is owned by %s, not the candy machine program", id, owner), nil)
	}
	return DecodeMachine(id, data)
}

// FetchGuard reads the candy guard of m and its allocation trackers.
func (c *Client) FetchGuard(ctx context.Context, m chain.Machine) (chain.CandyGuard, error) {
	addr := m.GuardAddress()
	data, owner, err := c.account(ctx, "fetch candy guard", addr)
	if errors.Is(err, errAccountNotFound) {
		return chain.CandyGuard{}, guard.NewConfigurationError(
			fmt.Sprintf("candy guard %s of machine %s not found", addr, m.Address), nil)
	}
	if err != nil {
		return chain.CandyGuard{}, err
	}
	if owner != CandyGuardProgramID {
		return chain.CandyGuard{}, guard.NewConfigurationError(
			fmt.Sprintf("machine %s mint authority %s is not a candy guard", m.Address, addr), nil)
	}

	cg, err := DecodeGuard(addr, data)
	if err != nil {
		return chain.CandyGuard{}, err
	}

	groups, err := cg.Resolved()
	if err != nil {
		return chain.CandyGuard{}, err
	}
	ids := chain.AllocationIDs(groups)
	if len(ids) == 0 {
		return cg, nil
	}

	pdas := make([]solana.PublicKey, len(ids))
	for i, id := range ids {
		if pdas[i], err = AllocationAddress(id, addr, m.Address); err != nil {
			return chain.CandyGuard{}, err
		}
	}
	datas, err := c.accounts(ctx, "fetch allocation trackers", pdas)
	if err != nil {
		return chain.CandyGuard{}, err
	}

	cg.Allocations = make(map[uint8]uint32, len(ids))
	for i, id := range ids {
		if datas[i] == nil {
			cg.Allocations[id] = 0
			continue
		}
		n, err := DecodeAllocationTracker(datas[i])
		if err != nil {
			return chain.CandyGuard{}, err
		}
		cg.Allocations[id] = n
	}
	return cg, nil
}

// FetchWallet reads the SOL balance, SPL token holdings, NFT collections and
// mint counters of owner.
func (c *Client) FetchWallet(ctx context.Context, owner solana.PublicKey, req chain.WalletRequest) (*guard.Wallet, error) {
	w := &guard.Wallet{Address: owner}

	err := c.call(ctx, "fetch wallet balance", func(ctx context.Context) error {
		res, err := c.rpc.GetBalance(ctx, owner, c.commitment)
		if err != nil {
			return err
		}
		w.Lamports = res.Value
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.Holdings, err = c.holdings(ctx, owner); err != nil {
		return nil, err
	}

	if req.NeedsCollections() {
		if err := c.collections(ctx, w.Holdings); err != nil {
			return nil, err
		}
	}

	if ids := req.MintLimitIDs(); len(ids) > 0 {
		if w.MintCounts, err = c.mintCounts(ctx, ids, owner, req); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (c *Client) holdings(ctx context.Context, owner solana.PublicKey) ([]guard.Holding, error) {
	var holdings []guard.Holding
	err := c.call(ctx, "fetch token accounts", func(ctx context.Context) error {
		programID := solana.TokenProgramID
		res, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{ProgramId: &programID},
			&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64, Commitment: c.commitment},
		)
		if err != nil {
			return err
		}
		for _, ta := range res.Value {
			if ta == nil || ta.Account.Data == nil {
				continue
			}
			var acc token.Account
			if err := bin.NewBinDecoder(ta.Account.Data.GetBinary()).Decode(&acc); err != nil {
				return fmt.Errorf("decode token account %s: %w", ta.Pubkey, err)
			}
			if acc.Amount == 0 {
				continue
			}
			holdings = append(holdings, guard.Holding{Mint: acc.Mint, Amount: acc.Amount})
		}
		return nil
	})
	return holdings, err
}

// collections fills the verified collection of every NFT-sized holding.
func (c *Client) collections(ctx context.Context, holdings []guard.Holding) error {
	var (
		idx  []int
		pdas []solana.PublicKey
	)
	for i, h := range holdings {
		if h.Amount != 1 {
			continue
		}
		pda, _, err := solana.FindTokenMetadataAddress(h.Mint)
		if err != nil {
			return fmt.Errorf("derive metadata address of %s: %w", h.Mint, err)
		}
		idx = append(idx, i)
		pdas = append(pdas, pda)
	}
	if len(pdas) == 0 {
		return nil
	}

	datas, err := c.accounts(ctx, "fetch token metadata", pdas)
	if err != nil {
		return err
	}
	for j, data := range datas {
		if data == nil {
			continue
		}
		col, err := DecodeCollection(data)
		if err != nil {
			// A malformed metadata account only hides that NFT's collection.
			continue
		}
		holdings[idx[j]].Collection = col
	}
	return nil
}

func (c *Client) mintCounts(ctx context.Context, ids []uint8, owner solana.PublicKey, req chain.WalletRequest) (map[uint8]uint32, error) {
	pdas := make([]solana.PublicKey, len(ids))
	for i, id := range ids {
		pda, err := MintCounterAddress(id, owner, req.Guard, req.Machine)
		if err != nil {
			return nil, err
		}
		pdas[i] = pda
	}

	datas, err := c.accounts(ctx, "fetch mint counters", pdas)
	if err != nil {
		return nil, err
	}

	counts := make(map[uint8]uint32, len(ids))
	for i, id := range ids {
		if datas[i] == nil {
			counts[id] = 0
			continue
		}
		n, err := DecodeMintCounter(datas[i])
		if err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, nil
}

// ChainTime reads unix_timestamp from the clock sysvar.
func (c *Client) ChainTime(ctx context.Context) (guard.TimeSnapshot, error) {
	data, _, err := c.account(ctx, "fetch clock sysvar", solana.SysVarClockPubkey)
	if errors.Is(err, errAccountNotFound) {
		return 0, guard.NewTransientError("fetch clock sysvar", err)
	}
	if err != nil {
		return 0, err
	}
	return DecodeClock(data)
}

// MintCounterAddress derives the mint_limit counter PDA of user.
func MintCounterAddress(id uint8, user, candyGuard, candyMachine solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("mint_limit"),
		{id},
		user.Bytes(),
		candyGuard.Bytes(),
		candyMachine.Bytes(),
	}, CandyGuardProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive mint counter address: %w", err)
	}
	return addr, nil
}

// AllocationAddress derives the allocation tracker PDA.
func AllocationAddress(id uint8, candyGuard, candyMachine solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("allocation"),
		{id},
		candyGuard.Bytes(),
		candyMachine.Bytes(),
	}, CandyGuardProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive allocation address: %w", err)
	}
	return addr, nil
}
