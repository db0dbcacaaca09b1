// Package bridge is the on-chain half of the bridge: one Bridge per chain
// instance burns on Swap and mints on Redeem once the validator signature over
// the canonical message checks out and the nonce was never used.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"mabridge/codec"
	"mabridge/ledger"
	"mabridge/logger"
	"mabridge/metrics"
	"mabridge/signer"
	"mabridge/token"
	"mabridge/types"

	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	ChainID uint64
	// Address is the identity the bridge acts as on its token ledgers. It
	// must hold the minter role on DestLedger.
	Address common.Address
	Owner   common.Address
	// InitialValidator is written to the store only when the store has none
	InitialValidator common.Address

	SourceToken  common.Address
	DestToken    common.Address
	SourceLedger token.Ledger
	DestLedger   token.Ledger

	Store ledger.Store
	// SupportedChains restricts the peer chain of swaps and redeems. Empty
	// allows any chain.
	SupportedChains []uint64

	Logger  logger.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Bridge struct {
	mu sync.Mutex

	chainID      uint64
	address      common.Address
	owner        common.Address
	sourceToken  common.Address
	destToken    common.Address
	sourceLedger token.Ledger
	destLedger   token.Ledger
	store        ledger.Store
	supported    map[uint64]bool

	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// RedeemRequest carries what a redeemer submits. Recipient is the destination
// user of the signed message: whoever relays the call, tokens go to Recipient.
type RedeemRequest struct {
	Nonce         uint64
	SourceUser    common.Address
	SourceChainID uint64
	Amount        *big.Int
	Recipient     common.Address
	Signature     []byte
}

func New(ctx context.Context, cfg Config) (*Bridge, error) {
	if cfg.Store == nil {
		return nil, errors.New("bridge store is required")
	}
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: owner", ErrZeroAddress)
	}

	b := &Bridge{
		chainID:      cfg.ChainID,
		address:      cfg.Address,
		owner:        cfg.Owner,
		sourceToken:  cfg.SourceToken,
		destToken:    cfg.DestToken,
		sourceLedger: cfg.SourceLedger,
		destLedger:   cfg.DestLedger,
		store:        cfg.Store,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
	}
	if b.log == nil {
		b.log = logger.NewNop()
	}
	b.log = b.log.With("chainId", cfg.ChainID)
	if b.now == nil {
		b.now = time.Now
	}
	if len(cfg.SupportedChains) > 0 {
		b.supported = make(map[uint64]bool, len(cfg.SupportedChains))
		for _, id := range cfg.SupportedChains {
			b.supported[id] = true
		}
	}

	if cfg.InitialValidator != (common.Address{}) {
		current, err := b.store.Validator(ctx)
		if err != nil {
			return nil, fmt.Errorf("error reading validator: %w", err)
		}
		if current == (common.Address{}) {
			if _, err := b.store.SetValidator(ctx, cfg.InitialValidator, b.now().Unix()); err != nil {
				return nil, fmt.Errorf("error setting initial validator: %w", err)
			}
			b.log.Info("initial validator set", "validator", cfg.InitialValidator.Hex())
		}
	}

	return b, nil
}

func (b *Bridge) ChainID() uint64 {
	return b.chainID
}

func (b *Bridge) Address() common.Address {
	return b.address
}

func (b *Bridge) Owner() common.Address {
	return b.owner
}

func (b *Bridge) SourceToken() common.Address {
	return b.sourceToken
}

func (b *Bridge) DestToken() common.Address {
	return b.destToken
}

func (b *Bridge) SourceLedger() token.Ledger {
	return b.sourceLedger
}

func (b *Bridge) DestLedger() token.Ledger {
	return b.destLedger
}

func (b *Bridge) Store() ledger.Store {
	return b.store
}

func (b *Bridge) Validator(ctx context.Context) (common.Address, error) {
	return b.store.Validator(ctx)
}

func (b *Bridge) IsRedeemed(ctx context.Context, nonce uint64) (bool, error) {
	return b.store.IsConsumed(ctx, nonce)
}

func (b *Bridge) RedemptionRecord(ctx context.Context, nonce uint64) (types.RedemptionRecord, error) {
	return ledger.Record(ctx, b.store, nonce)
}

func (b *Bridge) SwapEvent(ctx context.Context, nonce uint64) (*types.SwapInitialized, error) {
	return b.store.SwapEvent(ctx, nonce)
}

// Supports reports whether chainID may be the peer of a swap or redeem
func (b *Bridge) Supports(chainID uint64) bool {
	if b.supported == nil {
		return true
	}
	return b.supported[chainID]
}

// RedeemMessage rebuilds the canonical request a redeem on this instance is
// checked against
func (b *Bridge) RedeemMessage(req RedeemRequest) types.SwapRequest {
	return types.SwapRequest{
		Nonce:         req.Nonce,
		SourceUser:    req.SourceUser,
		SourceToken:   b.sourceToken,
		SourceChainID: req.SourceChainID,
		Amount:        req.Amount,
		DestUser:      req.Recipient,
		DestToken:     b.destToken,
		DestChainID:   b.chainID,
	}
}

// Message returns the encoded canonical message and its digest
func Message(req types.SwapRequest) ([]byte, common.Hash, error) {
	data, err := codec.Encode(req)
	if err != nil {
		return nil, common.Hash{}, err
	}
	return data, codec.Hash(data), nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if !codec.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	return nil
}

// Swap burns amount of the source token from caller and records a
// SwapInitialized event under the next nonce
func (b *Bridge) Swap(ctx context.Context, caller common.Address, amount *big.Int, destUser common.Address, destChainID uint64) (*types.SwapInitialized, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if destUser == (common.Address{}) {
		return nil, fmt.Errorf("%w: destination user", ErrZeroAddress)
	}
	if !b.Supports(destChainID) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, destChainID)
	}
	if b.sourceLedger == nil {
		return nil, fmt.Errorf("%w: source token", ErrLedgerUnbound)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	amount = new(big.Int).Set(amount)
	if err := b.sourceLedger.BurnFrom(ctx, b.address, caller, amount); err != nil {
		return nil, fmt.Errorf("error burning source token: %w", err)
	}

	ev := &types.SwapInitialized{
		SwapRequest: types.SwapRequest{
			SourceUser:    caller,
			SourceToken:   b.sourceToken,
			SourceChainID: b.chainID,
			Amount:        amount,
			DestUser:      destUser,
			DestToken:     b.destToken,
			DestChainID:   destChainID,
		},
		Timestamp: b.now().Unix(),
	}
	if err := b.store.RecordSwap(ctx, ev); err != nil {
		if mintErr := b.sourceLedger.Mint(ctx, b.address, caller, amount); mintErr != nil {
			b.log.Error("cannot return burned tokens", "user", caller.Hex(), "amount", amount.String(), "error", mintErr)
			return nil, fmt.Errorf("%w: error recording swap: %w, returning %s burned from %s: %w",
				ErrCompensationFailed, err, amount, caller.Hex(), mintErr)
		}
		return nil, fmt.Errorf("error recording swap: %w", err)
	}

	b.log.Info("swap initialized", "nonce", ev.Nonce, "user", caller.Hex(), "amount", amount.String(), "destChainId", destChainID)
	if b.metrics != nil {
		b.metrics.Swaps.WithLabelValues(b.label(), strconv.FormatUint(destChainID, 10)).Inc()
		f, _ := new(big.Float).SetInt(amount).Float64()
		b.metrics.SwappedAmount.WithLabelValues(b.label()).Add(f)
	}
	return ev, nil
}

// Redeem mints the destination token to req.Recipient when req.Signature is
// the current validator's signature over the canonical message and the nonce
// was not redeemed before. On error nothing is left minted or consumed,
// except after ErrCompensationFailed where the mint and the nonce both stand.
func (b *Bridge) Redeem(ctx context.Context, req RedeemRequest) (*types.RedemptionCompleted, error) {
	ev, err := b.redeem(ctx, req)
	if b.metrics != nil {
		b.metrics.Redemptions.WithLabelValues(b.label(), redeemResult(err)).Inc()
	}
	return ev, err
}

func (b *Bridge) redeem(ctx context.Context, req RedeemRequest) (*types.RedemptionCompleted, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.Recipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	if !b.Supports(req.SourceChainID) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, req.SourceChainID)
	}
	if b.destLedger == nil {
		return nil, fmt.Errorf("%w: destination token", ErrLedgerUnbound)
	}

	amount := new(big.Int).Set(req.Amount)
	req.Amount = amount
	digest, err := codec.Digest(b.RedeemMessage(req))
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	validator, err := b.store.Validator(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading validator: %w", err)
	}
	if validator == (common.Address{}) || !signer.Verify(digest, req.Signature, validator) {
		return nil, ErrInvalidSignature
	}

	if err := b.store.MarkConsumed(ctx, req.Nonce); err != nil {
		if errors.Is(err, ledger.ErrAlreadyConsumed) {
			return nil, ErrAlreadyRedeemed
		}
		return nil, fmt.Errorf("error consuming nonce: %w", err)
	}

	if err := b.destLedger.Mint(ctx, b.address, req.Recipient, amount); err != nil {
		b.release(ctx, req.Nonce)
		return nil, fmt.Errorf("error minting destination token: %w", err)
	}

	ev := &types.RedemptionCompleted{
		Nonce:         req.Nonce,
		SourceUser:    req.SourceUser,
		SourceChainID: req.SourceChainID,
		Recipient:     req.Recipient,
		Amount:        amount,
		Timestamp:     b.now().Unix(),
	}
	if err := b.store.RecordRedemption(ctx, ev); err != nil {
		if burnErr := b.destLedger.BurnFrom(ctx, req.Recipient, req.Recipient, amount); burnErr != nil {
			// the mint stands, so the nonce stays consumed
			b.log.Error("cannot take back minted tokens, nonce kept consumed", "nonce", req.Nonce, "recipient", req.Recipient.Hex(), "error", burnErr)
			return nil, fmt.Errorf("%w: error recording redemption: %w, taking back mint of nonce %d: %w",
				ErrCompensationFailed, err, req.Nonce, burnErr)
		}
		b.release(ctx, req.Nonce)
		return nil, fmt.Errorf("error recording redemption: %w", err)
	}

	b.log.Info("redemption completed", "nonce", req.Nonce, "sourceChainId", req.SourceChainID, "recipient", req.Recipient.Hex(), "amount", amount.String())
	return ev, nil
}

func (b *Bridge) release(ctx context.Context, nonce uint64) {
	if err := b.store.Release(ctx, nonce); err != nil {
		b.log.Error("cannot release nonce", "nonce", nonce, "error", err)
	}
}

func (b *Bridge) label() string {
	return strconv.FormatUint(b.chainID, 10)
}

func redeemResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, ErrInvalidSignature):
		return metrics.ResultInvalidSignature
	case errors.Is(err, ErrAlreadyRedeemed):
		return metrics.ResultAlreadyRedeemed
	default:
		return metrics.ResultError
	}
}
