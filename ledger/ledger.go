// Package ledger defines the persistent state of one bridge instance: the
// replay ledger, the swap nonce counter, the validator cell and the event log.
package ledger

import (
	"context"
	"errors"

	"mabridge/types"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrAlreadyConsumed = errors.New("nonce already consumed")
	ErrNotFound        = errors.New("record not found")
)

// FirstNonce is assigned to the first swap of an instance
const FirstNonce uint64 = 1

// ReplayLedger records which nonces were redeemed. MarkConsumed must be atomic:
// of two concurrent calls for one nonce exactly one succeeds.
type ReplayLedger interface {
	IsConsumed(ctx context.Context, nonce uint64) (bool, error)
	MarkConsumed(ctx context.Context, nonce uint64) error
	// Release undoes MarkConsumed while the redeem that marked the nonce is
	// still failing. It is never used on a completed redeem.
	Release(ctx context.Context, nonce uint64) error
}

type ValidatorCell interface {
	Validator(ctx context.Context) (common.Address, error)
	// SetValidator replaces the validator and records the change in one step
	SetValidator(ctx context.Context, validator common.Address, timestamp int64) (types.ValidatorChanged, error)
}

type EventLog interface {
	// RecordSwap assigns the next nonce to ev and stores it in one atomic step.
	RecordSwap(ctx context.Context, ev *types.SwapInitialized) error
	SwapEvent(ctx context.Context, nonce uint64) (*types.SwapInitialized, error)
	// SwapsSince returns up to limit events with nonce > after in nonce order
	SwapsSince(ctx context.Context, after uint64, limit int) ([]*types.SwapInitialized, error)
	LastNonce(ctx context.Context) (uint64, error)

	RecordRedemption(ctx context.Context, ev *types.RedemptionCompleted) error
	Redemption(ctx context.Context, nonce uint64) (*types.RedemptionCompleted, error)
	ValidatorEvents(ctx context.Context) ([]types.ValidatorChanged, error)
}

// Store is everything a bridge instance persists. A Store is scoped to one
// chain id.
type Store interface {
	ReplayLedger
	ValidatorCell
	EventLog
}

// Record reads the redemption record of a nonce from any replay ledger
func Record(ctx context.Context, l ReplayLedger, nonce uint64) (types.RedemptionRecord, error) {
	consumed, err := l.IsConsumed(ctx, nonce)
	if err != nil {
		return types.RedemptionRecord{}, err
	}
	rec := types.RedemptionRecord{Nonce: nonce, Status: types.NonceUnconsumed}
	if consumed {
		rec.Status = types.NonceConsumed
	}
	return rec, nil
}

// OperationStore keeps relay operations and the observer's scan cursor
type OperationStore interface {
	UpsertOperation(ctx context.Context, op *types.BridgeOperation) error
	ChangeOperationStatus(ctx context.Context, op *types.BridgeOperation, prevStatus string) error
	FindOperation(ctx context.Context, sourceChain, nonce uint64) (*types.BridgeOperation, error)
	FindOperationsByStatus(ctx context.Context, status string) ([]*types.BridgeOperation, error)

	ScannedNonce(ctx context.Context, chainID uint64) (uint64, error)
	SetScannedNonce(ctx context.Context, chainID uint64, nonce uint64) error
}
