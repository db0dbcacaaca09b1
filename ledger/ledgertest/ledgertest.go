// Package ledgertest holds the behaviour every ledger.Store and
// ledger.OperationStore backend must share.
package ledgertest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"mabridge/ledger"
	"mabridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	userA = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	userB = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	token = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

func swapEvent(amount int64) *types.SwapInitialized {
	return &types.SwapInitialized{
		SwapRequest: types.SwapRequest{
			SourceUser:    userA,
			SourceToken:   token,
			SourceChainID: 1,
			Amount:        big.NewInt(amount),
			DestUser:      userB,
			DestToken:     token,
			DestChainID:   2,
		},
		Timestamp: 1700000000,
	}
}

// RunStoreTests runs the ledger.Store contract against stores produced by newStore.
// Each call to newStore must return an empty store.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("MarkConsumedOnce", func(t *testing.T) {
		require := require.New(t)
		ctx := context.Background()
		s := newStore(t)

		consumed, err := s.IsConsumed(ctx, 7)
		require.NoError(err)
		require.False(consumed)

		require.NoError(s.MarkConsumed(ctx, 7))
		require.ErrorIs(s.MarkConsumed(ctx, 7), ledger.ErrAlreadyConsumed)

		consumed, err = s.IsConsumed(ctx, 7)
		require.NoError(err)
		require.True(consumed)

		rec, err := ledger.Record(ctx, s, 7)
		require.NoError(err)
		require.Equal(types.NonceConsumed, rec.Status)

		rec, err = ledger.Record(ctx, s, 8)
		require.NoError(err)
		require.Equal(types.NonceUnconsumed, rec.Status)
	})

	t.Run("Release", func(t *testing.T) {
		require := require.New(t)
		ctx := context.Background()
		s := newStore(t)

		require.NoError(s.MarkConsumed(ctx, 3))
		require.NoError(s.Release(ctx, 3))
		consumed, err := s.IsConsumed(ctx, 3)
		require.NoError(err)
		require.False(consumed)
		require.NoError(s.MarkConsumed(ctx, 3))
	})

	t.Run("ConcurrentMarkConsumed", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		const workers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.MarkConsumed(ctx, 42)
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				if !errors.Is(err, ledger.ErrAlreadyConsumed) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, successes)
	})

	t.Run("RecordSwapAssignsSequentialNonces", func(t *testing.T) {
		require := require.New(t)
		ctx := context.Background()
		s := newStore(t)

		last, err := s.LastNonce(ctx)
		require.NoError(err)
		require.Equal(ledger.FirstNonce-1, last)

		for i := int64(1); i <= 3; i++ {
			ev := swapEvent(i * 10)
			require.NoError(s.RecordSwap(ctx, ev))
			require.Equal(ledger.FirstNonce+uint64(i-1), ev.Nonce)
		}

		last, err = s.LastNonce(ctx)
		require.NoError(err)
		require.Equal(ledger.FirstNonce+2, last)

		ev, err := s.SwapEvent(ctx, ledger.FirstNonce+1)
		require.NoError(err)
		require.Equal(0, big.NewInt(20).Cmp(ev.Amount))
		require.Equal(userA, ev.SourceUser)
		require.Equal(userB, ev.DestUser)
		require.Equal(uint64(2), ev.DestChainID)

		_, err = s.SwapEvent(ctx, 99)
		require.ErrorIs(err, ledger.ErrNotFound)

		evs, err := s.SwapsSince(ctx, ledger.FirstNonce, 10)
		require.NoError(err)
		require.Len(evs, 2)
		require.Equal(ledger.FirstNonce+1, evs[0].Nonce)
		require.Equal(ledger.FirstNonce+2, evs[1].Nonce)

		evs, err = s.SwapsSince(ctx, 0, 1)
		require.NoError(err)
		require.Len(evs, 1)
		require.Equal(ledger.FirstNonce, evs[0].Nonce)

		evs, err = s.SwapsSince(ctx, ledger.FirstNonce+2, 10)
		require.NoError(err)
		require.Empty(evs)
	})

	t.Run("ConcurrentRecordSwap", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		const workers = 8
		var wg sync.WaitGroup
		nonces := make(chan uint64, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ev := swapEvent(1)
				if err := s.RecordSwap(ctx, ev); err != nil {
					t.Errorf("record swap: %v", err)
					return
				}
				nonces <- ev.Nonce
			}()
		}
		wg.Wait()
		close(nonces)

		seen := make(map[uint64]bool)
		for n := range nonces {
			require.False(t, seen[n], "nonce %d assigned twice", n)
			seen[n] = true
		}
		require.Len(t, seen, workers)
		last, err := s.LastNonce(ctx)
		require.NoError(t, err)
		require.Equal(t, ledger.FirstNonce+workers-1, last)
	})

	t.Run("Validator", func(t *testing.T) {
		require := require.New(t)
		ctx := context.Background()
		s := newStore(t)

		v, err := s.Validator(ctx)
		require.NoError(err)
		require.Equal(common.Address{}, v)

		ev, err := s.SetValidator(ctx, userA, 100)
		require.NoError(err)
		require.Equal(common.Address{}, ev.Previous)
		require.Equal(userA, ev.Current)

		ev, err = s.SetValidator(ctx, userB, 200)
		require.NoError(err)
		require.Equal(userA, ev.Previous)

		v, err = s.Validator(ctx)
		require.NoError(err)
		require.Equal(userB, v)

		evs, err := s.ValidatorEvents(ctx)
		require.NoError(err)
		require.Len(evs, 2)
		require.Equal(int64(200), evs[1].Timestamp)
	})

	t.Run("Redemption", func(t *testing.T) {
		require := require.New(t)
		ctx := context.Background()
		s := newStore(t)

		_, err := s.Redemption(ctx, 5)
		require.ErrorIs(err, ledger.ErrNotFound)

		require.NoError(s.RecordRedemption(ctx, &types.RedemptionCompleted{
			Nonce:         5,
			SourceUser:    userA,
			SourceChainID: 1,
			Recipient:     userB,
			Amount:        big.NewInt(10),
			Timestamp:     1700000000,
		}))

		ev, err := s.Redemption(ctx, 5)
		require.NoError(err)
		require.Equal(userB, ev.Recipient)
		require.Equal(0, big.NewInt(10).Cmp(ev.Amount))
	})
}

// RunOperationStoreTests runs the ledger.OperationStore contract
func RunOperationStoreTests(t *testing.T, newStore func(t *testing.T) ledger.OperationStore) {
	t.Run("UpsertAndFind", func(t *testing.T) {
		require := require.New(t)
		ctx := context.Background()
		s := newStore(t)

		op := &types.BridgeOperation{
			Status:      types.OpStatusSigned,
			SourceChain: 1,
			DestChain:   2,
			Nonce:       4,
			Request:     swapEvent(10).SwapRequest,
			Signature:   "0x01",
		}
		require.NoError(s.UpsertOperation(ctx, op))
		require.NotEmpty(op.ID)

		found, err := s.FindOperation(ctx, 1, 4)
		require.NoError(err)
		require.NotNil(found)
		require.Equal(op.ID, found.ID)
		require.Equal("0x01", found.Signature)
		require.Equal(0, big.NewInt(10).Cmp(found.Request.Amount))

		missing, err := s.FindOperation(ctx, 2, 4)
		require.NoError(err)
		require.Nil(missing)
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.Error(t, s.UpsertOperation(ctx, nil))
		require.Error(t, s.UpsertOperation(ctx, &types.BridgeOperation{}))
		require.Error(t, s.UpsertOperation(ctx, &types.BridgeOperation{Status: "bogus"}))
		_, err := s.FindOperationsByStatus(ctx, "bogus")
		require.Error(t, err)
	})

	t.Run("ChangeStatus", func(t *testing.T) {
		require := require.New(t)
		ctx := context.Background()
		s := newStore(t)

		op := &types.BridgeOperation{Status: types.OpStatusSigned, SourceChain: 1, DestChain: 2, Nonce: 1, Request: swapEvent(1).SwapRequest}
		require.NoError(s.UpsertOperation(ctx, op))
		other := &types.BridgeOperation{Status: types.OpStatusSigned, SourceChain: 1, DestChain: 2, Nonce: 2, Request: swapEvent(1).SwapRequest}
		require.NoError(s.UpsertOperation(ctx, other))

		op.Status = types.OpStatusRedeemed
		require.NoError(s.ChangeOperationStatus(ctx, op, types.OpStatusSigned))

		signed, err := s.FindOperationsByStatus(ctx, types.OpStatusSigned)
		require.NoError(err)
		require.Len(signed, 1)
		require.Equal(other.ID, signed[0].ID)

		redeemed, err := s.FindOperationsByStatus(ctx, types.OpStatusRedeemed)
		require.NoError(err)
		require.Len(redeemed, 1)
		require.Equal(op.ID, redeemed[0].ID)

		found, err := s.FindOperation(ctx, 1, 1)
		require.NoError(err)
		require.Equal(types.OpStatusRedeemed, found.Status)

		// stale previous status
		op.Status = types.OpStatusFailed
		require.Error(s.ChangeOperationStatus(ctx, op, types.OpStatusSigned))
	})

	t.Run("ScannedNonce", func(t *testing.T) {
		require := require.New(t)
		ctx := context.Background()
		s := newStore(t)

		n, err := s.ScannedNonce(ctx, 1)
		require.NoError(err)
		require.Equal(uint64(0), n)

		require.NoError(s.SetScannedNonce(ctx, 1, 12))
		n, err = s.ScannedNonce(ctx, 1)
		require.NoError(err)
		require.Equal(uint64(12), n)

		n, err = s.ScannedNonce(ctx, 2)
		require.NoError(err)
		require.Equal(uint64(0), n)
	})
}
