package onchain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mintgate/internal/chain"
	"github.com/roach88/mintgate/internal/guard"
)

type fakeAccount struct {
	owner solana.PublicKey
	data  []byte
}

// fakeNode answers the JSON-RPC methods the client uses from an in-memory
// account set.
type fakeNode struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]fakeAccount
	balances map[solana.PublicKey]uint64
	tokens   map[solana.PublicKey][]solana.PublicKey
	fail     bool
	calls    map[string]int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		accounts: make(map[solana.PublicKey]fakeAccount),
		balances: make(map[solana.PublicKey]uint64),
		tokens:   make(map[solana.PublicKey][]solana.PublicKey),
		calls:    make(map[string]int),
	}
}

func (n *fakeNode) put(addr, owner solana.PublicKey, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts[addr] = fakeAccount{owner: owner, data: data}
}

func (n *fakeNode) encode(addr solana.PublicKey) any {
	acc, ok := n.accounts[addr]
	if !ok {
		return nil
	}
	return map[string]any{
		"data":       []string{base64.StdEncoding.EncodeToString(acc.data), "base64"},
		"executable": false,
		"lamports":   1_000_000,
		"owner":      acc.owner.String(),
		"rentEpoch":  0,
	}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.Method]++
	if n.fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	keyParam := func(i int) solana.PublicKey {
		var s string
		_ = json.Unmarshal(req.Params[i], &s)
		return solana.MustPublicKeyFromBase58(s)
	}
	ctxSlot := map[string]any{"slot": 1}

	var result any
	switch req.Method {
	case "getAccountInfo":
		result = map[string]any{"context": ctxSlot, "value": n.encode(keyParam(0))}
	case "getBalance":
		result = map[string]any{"context": ctxSlot, "value": n.balances[keyParam(0)]}
	case "getMultipleAccounts":
		var keys []string
		_ = json.Unmarshal(req.Params[0], &keys)
		values := make([]any, len(keys))
		for i, k := range keys {
			values[i] = n.encode(solana.MustPublicKeyFromBase58(k))
		}
		result = map[string]any{"context": ctxSlot, "value": values}
	case "getTokenAccountsByOwner":
		var values []any
		for _, ta := range n.tokens[keyParam(0)] {
			values = append(values, map[string]any{"pubkey": ta.String(), "account": n.encode(ta)})
		}
		result = map[string]any{"context": ctxSlot, "value": values}
	default:
		http.Error(w, "unknown method "+req.Method, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func newTestClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	return New(srv.URL, WithTimeout(2*time.Second), WithRateLimit(1000))
}

func tokenAccount(mint, owner solana.PublicKey, amount uint64) []byte {
	return new(accountBuilder).
		key(mint).
		key(owner).
		u64(amount).
		u32(0).key(solana.PublicKey{}).
		u8(1).
		u32(0).u64(0).
		u64(0).
		u32(0).key(solana.PublicKey{}).
		bytes()
}

func TestClient_FetchMachine(t *testing.T) {
	node := newFakeNode()
	node.put(testKey(9), CandyMachineProgramID, machineAccount(chain.AccountVersionV2, 9, 10))
	c := newTestClient(t, node)

	m, err := c.FetchMachine(context.Background(), testKey(9))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), m.State.ItemsRedeemed)
	assert.Equal(t, uint64(10), m.State.ItemsAvailable)
}

func TestClient_FetchMachine_NotFound(t *testing.T) {
	c := newTestClient(t, newFakeNode())

	_, err := c.FetchMachine(context.Background(), testKey(9))
	require.Error(t, err)
	assert.True(t, guard.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestClient_FetchMachine_WrongOwner(t *testing.T) {
	node := newFakeNode()
	node.put(testKey(9), solana.SystemProgramID, machineAccount(chain.AccountVersionV2, 0, 10))
	c := newTestClient(t, node)

	_, err := c.FetchMachine(context.Background(), testKey(9))
	require.Error(t, err)
	assert.True(t, guard.IsConfigurationError(err))
}

func TestClient_TransientOnRPCFailure(t *testing.T) {
	node := newFakeNode()
	node.fail = true
	c := newTestClient(t, node)

	_, err := c.FetchMachine(context.Background(), testKey(9))
	require.Error(t, err)
	assert.True(t, guard.IsTransient(err))
	assert.False(t, guard.IsConfigurationError(err))
}

func TestClient_FetchGuardWithAllocations(t *testing.T) {
	node := newFakeNode()
	m := chain.Machine{Address: testKey(9), MintAuthority: testKey(2)}

	data := guardHeader().
		u64(0).
		u32(1).
		label("pub").
		u64(1 << bitAllocation).
		u8(4).u32(100).
		bytes()
	node.put(testKey(2), CandyGuardProgramID, data)

	tracker, err := AllocationAddress(4, testKey(2), testKey(9))
	require.NoError(t, err)
	node.put(tracker, CandyGuardProgramID, new(accountBuilder).raw(make([]byte, 8)).u32(37).bytes())

	c := newTestClient(t, node)
	cg, err := c.FetchGuard(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, map[uint8]uint32{4: 37}, cg.Allocations)
}

func TestClient_FetchGuard_Unguarded(t *testing.T) {
	node := newFakeNode()
	node.put(testKey(2), solana.SystemProgramID, nil)
	c := newTestClient(t, node)

	_, err := c.FetchGuard(context.Background(), chain.Machine{Address: testKey(9), MintAuthority: testKey(2)})
	require.Error(t, err)
	assert.True(t, guard.IsConfigurationError(err))
}

func TestClient_FetchWallet(t *testing.T) {
	node := newFakeNode()
	owner := testKey(40)
	fungible := testKey(41)
	nft := testKey(42)
	collection := testKey(43)

	node.balances[owner] = 2_500_000_000
	node.put(testKey(50), solana.TokenProgramID, tokenAccount(fungible, owner, 1_000))
	node.put(testKey(51), solana.TokenProgramID, tokenAccount(nft, owner, 1))
	node.put(testKey(52), solana.TokenProgramID, tokenAccount(testKey(44), owner, 0))
	node.tokens[owner] = []solana.PublicKey{testKey(50), testKey(51), testKey(52)}

	meta, _, err := solana.FindTokenMetadataAddress(nft)
	require.NoError(t, err)
	node.put(meta, solana.TokenMetadataProgramID,
		metadataAccount(new(accountBuilder).u8(1).boolean(true).key(collection)))

	counter, err := MintCounterAddress(1, owner, testKey(2), testKey(9))
	require.NoError(t, err)
	node.put(counter, CandyGuardProgramID, new(accountBuilder).raw(make([]byte, 8)).u16(2).bytes())

	req := chain.WalletRequest{
		Machine: testKey(9),
		Guard:   testKey(2),
		Groups: []guard.Group{{Label: "g", Conditions: []guard.Condition{
			{Type: guard.NftGate, Collection: collection},
			{Type: guard.MintLimit, ID: 1, Limit: 3},
			{Type: guard.MintLimit, ID: 2, Limit: 3},
		}}},
	}

	c := newTestClient(t, node)
	w, err := c.FetchWallet(context.Background(), owner, req)
	require.NoError(t, err)

	assert.Equal(t, owner, w.Address)
	assert.Equal(t, uint64(2_500_000_000), w.Lamports)
	require.Len(t, w.Holdings, 2)
	assert.Equal(t, uint64(1_000), w.TokenBalance(fungible))
	assert.True(t, w.HoldsCollection(collection))
	assert.Equal(t, map[uint8]uint32{1: 2, 2: 0}, w.MintCounts)
	assert.Empty(t, w.Proofs)
}

func TestClient_ChainTime(t *testing.T) {
	node := newFakeNode()
	node.put(solana.SysVarClockPubkey, solana.SystemProgramID,
		new(accountBuilder).u64(1).i64(0).u64(0).u64(0).i64(1_700_000_500).bytes())
	c := newTestClient(t, node)

	now, err := c.ChainTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, guard.TimeSnapshot(1_700_000_500), now)
}

func TestNew_DefaultsToDevnet(t *testing.T) {
	c := New("")
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.NotNil(t, c.limiter)
}
