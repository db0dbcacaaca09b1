package bridge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"mabridge/ledger"
	"mabridge/metrics"
	"mabridge/signer"
	"mabridge/token"
	"mabridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const (
	validatorKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	user1Key     = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

	chainID = uint64(31337)
	dAmount = 1000
)

var (
	user1         = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	user2         = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	bridgeAddress = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	tokenFromAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tokenToAddr   = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	fixedNow      = time.Unix(1700000000, 0)
)

type testEnv struct {
	bridge    *Bridge
	validator *signer.Validator
	tokenFrom *token.MemoryToken
	tokenTo   *token.MemoryToken
	store     ledger.Store
	nonce     uint64
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()

	validator, err := signer.NewValidator(validatorKey)
	require.NoError(err)
	owner := validator.Address()

	tokenFrom := token.NewMemoryToken("TF", "TF", owner)
	tokenTo := token.NewMemoryToken("TT", "TT", owner)
	for _, tok := range []*token.MemoryToken{tokenFrom, tokenTo} {
		require.NoError(tok.Mint(ctx, owner, user1, big.NewInt(dAmount)))
		require.NoError(tok.Mint(ctx, owner, user2, big.NewInt(dAmount)))
		require.NoError(tok.GrantMinter(owner, bridgeAddress))
	}

	cfg := Config{
		ChainID:          chainID,
		Address:          bridgeAddress,
		Owner:            owner,
		InitialValidator: owner,
		SourceToken:      tokenFromAddr,
		DestToken:        tokenToAddr,
		SourceLedger:     tokenFrom,
		DestLedger:       tokenTo,
		Store:            ledger.NewMemoryStore(),
		Now:              func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b, err := New(ctx, cfg)
	require.NoError(err)

	return &testEnv{
		bridge:    b,
		validator: validator,
		tokenFrom: tokenFrom,
		tokenTo:   tokenTo,
		store:     cfg.Store,
		nonce:     ledger.FirstNonce,
	}
}

// sign returns the next nonce and a validator signature over the redeem of
// amount from user1 to recipient
func (e *testEnv) sign(t *testing.T, v *signer.Validator, amount int64, recipient common.Address) RedeemRequest {
	t.Helper()
	req := RedeemRequest{
		Nonce:         e.nonce,
		SourceUser:    user1,
		SourceChainID: chainID,
		Amount:        big.NewInt(amount),
		Recipient:     recipient,
	}
	e.nonce++

	_, sig, err := v.SignRequest(e.bridge.RedeemMessage(req))
	require.NoError(t, err)
	req.Signature = sig
	return req
}

func balance(t *testing.T, l token.Ledger, account common.Address) int64 {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return b.Int64()
}

func TestSwap(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(env.tokenFrom.Approve(ctx, user1, bridgeAddress, big.NewInt(10)))
	ev, err := env.bridge.Swap(ctx, user1, big.NewInt(10), user2, chainID)
	require.NoError(err)

	require.Equal(int64(dAmount-10), balance(t, env.tokenFrom, user1))
	require.Equal(types.SwapInitialized{
		SwapRequest: types.SwapRequest{
			Nonce:         ledger.FirstNonce,
			SourceUser:    user1,
			SourceToken:   tokenFromAddr,
			SourceChainID: chainID,
			Amount:        big.NewInt(10),
			DestUser:      user2,
			DestToken:     tokenToAddr,
			DestChainID:   chainID,
		},
		Timestamp: fixedNow.Unix(),
	}, *ev)

	stored, err := env.bridge.SwapEvent(ctx, ev.Nonce)
	require.NoError(err)
	require.Equal(user2, stored.DestUser)

	require.NoError(env.tokenFrom.Approve(ctx, user1, bridgeAddress, big.NewInt(5)))
	ev, err = env.bridge.Swap(ctx, user1, big.NewInt(5), user2, 1)
	require.NoError(err)
	require.Equal(ledger.FirstNonce+1, ev.Nonce)
}

func TestSwapWithoutAllowance(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.bridge.Swap(ctx, user1, big.NewInt(10), user2, chainID)
	require.ErrorIs(err, token.ErrInsufficientAllowance)

	require.NoError(env.tokenFrom.Approve(ctx, user1, bridgeAddress, big.NewInt(dAmount+1)))
	_, err = env.bridge.Swap(ctx, user1, big.NewInt(dAmount+1), user2, chainID)
	require.ErrorIs(err, token.ErrInsufficientFunds)

	last, err := env.store.LastNonce(ctx)
	require.NoError(err)
	require.Equal(ledger.FirstNonce-1, last)
	require.Equal(int64(dAmount), balance(t, env.tokenFrom, user1))
}

func TestSwapValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *Config) { c.SupportedChains = []uint64{chainID, 5} })
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)

	tests := []struct {
		name     string
		amount   *big.Int
		destUser common.Address
		destID   uint64
		err      error
	}{
		{"zero amount", big.NewInt(0), user2, chainID, ErrZeroAmount},
		{"nil amount", nil, user2, chainID, ErrZeroAmount},
		{"negative amount", big.NewInt(-1), user2, chainID, ErrZeroAmount},
		{"amount overflow", tooBig, user2, chainID, ErrInvalidAmount},
		{"zero destination", big.NewInt(1), common.Address{}, chainID, ErrZeroAddress},
		{"unsupported chain", big.NewInt(1), user2, 7, ErrUnsupportedChain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.bridge.Swap(ctx, user1, tt.amount, tt.destUser, tt.destID)
			require.ErrorIs(t, err, tt.err)
		})
	}

	require.True(t, env.bridge.Supports(5))
	require.False(t, env.bridge.Supports(7))
}

func TestSwapUnboundLedger(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.SourceLedger = nil; c.DestLedger = nil })

	_, err := env.bridge.Swap(context.Background(), user1, big.NewInt(1), user2, chainID)
	require.ErrorIs(t, err, ErrLedgerUnbound)

	_, err = env.bridge.Redeem(context.Background(), env.sign(t, env.validator, 1, user2))
	require.ErrorIs(t, err, ErrLedgerUnbound)
}

func TestRedeem(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	req := env.sign(t, env.validator, 10, user2)
	ev, err := env.bridge.Redeem(ctx, req)
	require.NoError(err)
	require.Equal(int64(dAmount+10), balance(t, env.tokenTo, user2))
	require.Equal(req.Nonce, ev.Nonce)
	require.Equal(user2, ev.Recipient)
	require.Equal(user1, ev.SourceUser)
	require.Equal(fixedNow.Unix(), ev.Timestamp)

	redeemed, err := env.bridge.IsRedeemed(ctx, req.Nonce)
	require.NoError(err)
	require.True(redeemed)

	rec, err := env.bridge.RedemptionRecord(ctx, req.Nonce)
	require.NoError(err)
	require.True(rec.Consumed())

	stored, err := env.store.Redemption(ctx, req.Nonce)
	require.NoError(err)
	require.Equal(int64(10), stored.Amount.Int64())
}

func TestRedeemSecondTime(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	req := env.sign(t, env.validator, 10, user2)
	_, err := env.bridge.Redeem(ctx, req)
	require.NoError(err)

	_, err = env.bridge.Redeem(ctx, req)
	require.ErrorIs(err, ErrAlreadyRedeemed)
	require.EqualError(err, "already completed")

	// a fresh, valid signature for the same nonce with other fields is still a replay
	env.nonce = req.Nonce
	other := env.sign(t, env.validator, 3, user1)
	_, err = env.bridge.Redeem(ctx, other)
	require.ErrorIs(err, ErrAlreadyRedeemed)

	require.Equal(int64(dAmount+10), balance(t, env.tokenTo, user2))
	require.Equal(int64(dAmount), balance(t, env.tokenTo, user1))
}

func TestRedeemWrongValidator(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	req := env.sign(t, env.validator, 10, user2)
	require.NoError(env.bridge.SetValidator(ctx, env.validator.Address(), user1))

	_, err := env.bridge.Redeem(ctx, req)
	require.ErrorIs(err, ErrInvalidSignature)
	require.EqualError(err, "wrong signature")

	redeemed, err := env.bridge.IsRedeemed(ctx, req.Nonce)
	require.NoError(err)
	require.False(redeemed)

	// signed by the new validator the same redeem goes through
	v2, err := signer.NewValidator(user1Key)
	require.NoError(err)
	env.nonce = req.Nonce
	_, err = env.bridge.Redeem(ctx, env.sign(t, v2, 10, user2))
	require.NoError(err)
}

func TestRedeemFieldMutation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(r *RedeemRequest)
	}{
		{"amount", func(r *RedeemRequest) { r.Amount = big.NewInt(11) }},
		{"recipient", func(r *RedeemRequest) { r.Recipient = user1 }},
		{"source user", func(r *RedeemRequest) { r.SourceUser = user2 }},
		{"source chain", func(r *RedeemRequest) { r.SourceChainID = 1 }},
		{"nonce", func(r *RedeemRequest) { r.Nonce += 100 }},
		{"signature", func(r *RedeemRequest) { r.Signature[10] ^= 0xff }},
		{"short signature", func(r *RedeemRequest) { r.Signature = r.Signature[:64] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := env.sign(t, env.validator, 10, user2)
			tt.mutate(&req)

			_, err := env.bridge.Redeem(ctx, req)
			require.ErrorIs(t, err, ErrInvalidSignature)

			redeemed, err := env.bridge.IsRedeemed(ctx, req.Nonce)
			require.NoError(t, err)
			require.False(t, redeemed)
		})
	}
	require.Equal(t, int64(dAmount), balance(t, env.tokenTo, user2))
	require.Equal(t, int64(dAmount), balance(t, env.tokenTo, user1))
}

func TestRedeemValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *Config) { c.SupportedChains = []uint64{1} })

	req := env.sign(t, env.validator, 10, user2)
	req.Amount = big.NewInt(0)
	_, err := env.bridge.Redeem(ctx, req)
	require.ErrorIs(t, err, ErrZeroAmount)

	req = env.sign(t, env.validator, 10, common.Address{})
	_, err = env.bridge.Redeem(ctx, req)
	require.ErrorIs(t, err, ErrZeroAddress)

	// signed for this chain as source, which is not allowed here
	req = env.sign(t, env.validator, 10, user2)
	_, err = env.bridge.Redeem(ctx, req)
	require.ErrorIs(t, err, ErrUnsupportedChain)
}

type failingMinter struct {
	*token.MemoryToken
	fail bool
}

func (f *failingMinter) Mint(ctx context.Context, minter, to common.Address, amount *big.Int) error {
	if f.fail {
		return errors.New("mint reverted")
	}
	return f.MemoryToken.Mint(ctx, minter, to, amount)
}

func TestRedeemMintFailureReleasesNonce(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	var minter *failingMinter
	env := newTestEnv(t, func(c *Config) {
		minter = &failingMinter{MemoryToken: c.DestLedger.(*token.MemoryToken), fail: true}
		c.DestLedger = minter
	})

	req := env.sign(t, env.validator, 10, user2)
	_, err := env.bridge.Redeem(ctx, req)
	require.Error(err)
	require.NotErrorIs(err, ErrAlreadyRedeemed)

	redeemed, err := env.bridge.IsRedeemed(ctx, req.Nonce)
	require.NoError(err)
	require.False(redeemed)

	minter.fail = false
	_, err = env.bridge.Redeem(ctx, req)
	require.NoError(err)
	require.Equal(int64(dAmount+10), balance(t, env.tokenTo, user2))
}

type failingStore struct {
	ledger.Store
	failSwap       bool
	failRedemption bool
}

func (f *failingStore) RecordSwap(ctx context.Context, ev *types.SwapInitialized) error {
	if f.failSwap {
		return errors.New("store unavailable")
	}
	return f.Store.RecordSwap(ctx, ev)
}

func (f *failingStore) RecordRedemption(ctx context.Context, ev *types.RedemptionCompleted) error {
	if f.failRedemption {
		return errors.New("store unavailable")
	}
	return f.Store.RecordRedemption(ctx, ev)
}

func TestSwapStoreFailureReturnsTokens(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := &failingStore{Store: ledger.NewMemoryStore(), failSwap: true}
	env := newTestEnv(t, func(c *Config) { c.Store = store })

	require.NoError(env.tokenFrom.Approve(ctx, user1, bridgeAddress, big.NewInt(10)))
	_, err := env.bridge.Swap(ctx, user1, big.NewInt(10), user2, chainID)
	require.Error(err)

	require.Equal(int64(dAmount), balance(t, env.tokenFrom, user1))
	last, err := store.LastNonce(ctx)
	require.NoError(err)
	require.Equal(ledger.FirstNonce-1, last)
}

func TestRedeemStoreFailureTakesBackMint(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := &failingStore{Store: ledger.NewMemoryStore(), failRedemption: true}
	env := newTestEnv(t, func(c *Config) { c.Store = store })

	req := env.sign(t, env.validator, 10, user2)
	_, err := env.bridge.Redeem(ctx, req)
	require.Error(err)

	require.Equal(int64(dAmount), balance(t, env.tokenTo, user2))
	redeemed, err := env.bridge.IsRedeemed(ctx, req.Nonce)
	require.NoError(err)
	require.False(redeemed)

	store.failRedemption = false
	_, err = env.bridge.Redeem(ctx, req)
	require.NoError(err)
}

type failingBurner struct {
	*token.MemoryToken
}

func (f *failingBurner) BurnFrom(ctx context.Context, spender, from common.Address, amount *big.Int) error {
	return token.ErrIdentityMismatch
}

func TestRedeemKeepsNonceWhenMintCannotBeTakenBack(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := &failingStore{Store: ledger.NewMemoryStore(), failRedemption: true}
	env := newTestEnv(t, func(c *Config) {
		c.Store = store
		c.DestLedger = &failingBurner{MemoryToken: c.DestLedger.(*token.MemoryToken)}
	})

	req := env.sign(t, env.validator, 10, user2)
	_, err := env.bridge.Redeem(ctx, req)
	require.ErrorIs(err, ErrCompensationFailed)
	require.ErrorIs(err, token.ErrIdentityMismatch)

	require.Equal(int64(dAmount+10), balance(t, env.tokenTo, user2))
	redeemed, err := env.bridge.IsRedeemed(ctx, req.Nonce)
	require.NoError(err)
	require.True(redeemed)

	store.failRedemption = false
	_, err = env.bridge.Redeem(ctx, req)
	require.ErrorIs(err, ErrAlreadyRedeemed)
	require.Equal(int64(dAmount+10), balance(t, env.tokenTo, user2))
}

func TestSwapReportsTokensThatCannotBeReturned(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := &failingStore{Store: ledger.NewMemoryStore(), failSwap: true}
	env := newTestEnv(t, func(c *Config) {
		c.Store = store
		c.SourceLedger = &failingMinter{MemoryToken: c.SourceLedger.(*token.MemoryToken), fail: true}
	})

	require.NoError(env.tokenFrom.Approve(ctx, user1, bridgeAddress, big.NewInt(10)))
	_, err := env.bridge.Swap(ctx, user1, big.NewInt(10), user2, chainID)
	require.ErrorIs(err, ErrCompensationFailed)
	require.Contains(err.Error(), "mint reverted")

	require.Equal(int64(dAmount-10), balance(t, env.tokenFrom, user1))
	last, err := store.LastNonce(ctx)
	require.NoError(err)
	require.Equal(ledger.FirstNonce-1, last)
}

func TestSwapStoreFailureIsNotCompensationFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *Config) {
		c.Store = &failingStore{Store: ledger.NewMemoryStore(), failSwap: true}
	})

	require.NoError(t, env.tokenFrom.Approve(ctx, user1, bridgeAddress, big.NewInt(10)))
	_, err := env.bridge.Swap(ctx, user1, big.NewInt(10), user2, chainID)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCompensationFailed)
}

func TestConcurrentRedeemSameNonce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	req := env.sign(t, env.validator, 10, user2)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.bridge.Redeem(ctx, req)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAlreadyRedeemed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, int64(dAmount+10), balance(t, env.tokenTo, user2))
}

func TestSwapThenRedeemOnPeerInstance(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	const chainA, chainB = uint64(1), uint64(56)

	// both instances share token addresses, each has its own ledgers and store
	source := newTestEnv(t, func(c *Config) { c.ChainID = chainA })
	dest := newTestEnv(t, func(c *Config) { c.ChainID = chainB })

	require.NoError(source.tokenFrom.Approve(ctx, user1, bridgeAddress, big.NewInt(25)))
	ev, err := source.bridge.Swap(ctx, user1, big.NewInt(25), user2, chainB)
	require.NoError(err)

	// observer side: rebuild the message from the event and sign it
	_, sig, err := source.validator.SignRequest(ev.SwapRequest)
	require.NoError(err)

	_, err = dest.bridge.Redeem(ctx, RedeemRequest{
		Nonce:         ev.Nonce,
		SourceUser:    ev.SourceUser,
		SourceChainID: ev.SourceChainID,
		Amount:        ev.Amount,
		Recipient:     ev.DestUser,
		Signature:     sig,
	})
	require.NoError(err)

	require.Equal(int64(dAmount-25), balance(t, source.tokenFrom, user1))
	require.Equal(int64(dAmount+25), balance(t, dest.tokenTo, user2))
}

func TestNewKeepsStoredValidator(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	_, err := store.SetValidator(ctx, user2, 1)
	require.NoError(err)

	env := newTestEnv(t, func(c *Config) { c.Store = store })
	v, err := env.bridge.Validator(ctx)
	require.NoError(err)
	require.Equal(user2, v)

	_, err = New(ctx, Config{Owner: user1})
	require.Error(err)
	_, err = New(ctx, Config{Store: ledger.NewMemoryStore()})
	require.ErrorIs(err, ErrZeroAddress)
}

func TestRedeemWithoutValidator(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.InitialValidator = common.Address{} })

	_, err := env.bridge.Redeem(context.Background(), env.sign(t, env.validator, 10, user2))
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestRedeemMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	env := newTestEnv(t, func(c *Config) { c.Metrics = m })
	ctx := context.Background()

	req := env.sign(t, env.validator, 10, user2)
	_, err := env.bridge.Redeem(ctx, req)
	require.NoError(t, err)
	_, err = env.bridge.Redeem(ctx, req)
	require.ErrorIs(t, err, ErrAlreadyRedeemed)

	label := "31337"
	require.Equal(t, float64(1), testutil.ToFloat64(m.Redemptions.WithLabelValues(label, metrics.ResultSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Redemptions.WithLabelValues(label, metrics.ResultAlreadyRedeemed)))
}
