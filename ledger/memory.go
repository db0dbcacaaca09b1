package ledger

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"mabridge/types"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps one instance's state in process memory. It is the store
// used by tests and single process setups.
type MemoryStore struct {
	mu          sync.RWMutex
	consumed    map[uint64]types.NonceStatus
	lastNonce   uint64
	swaps       map[uint64]types.SwapInitialized
	redemptions map[uint64]types.RedemptionCompleted
	validator   common.Address
	rotations   []types.ValidatorChanged
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		consumed:    make(map[uint64]types.NonceStatus),
		lastNonce:   FirstNonce - 1,
		swaps:       make(map[uint64]types.SwapInitialized),
		redemptions: make(map[uint64]types.RedemptionCompleted),
	}
}

func (m *MemoryStore) IsConsumed(_ context.Context, nonce uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consumed[nonce] == types.NonceConsumed, nil
}

func (m *MemoryStore) MarkConsumed(_ context.Context, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumed[nonce] == types.NonceConsumed {
		return ErrAlreadyConsumed
	}
	m.consumed[nonce] = types.NonceConsumed
	return nil
}

func (m *MemoryStore) Release(_ context.Context, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.consumed, nonce)
	return nil
}

func (m *MemoryStore) Validator(_ context.Context) (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validator, nil
}

func (m *MemoryStore) SetValidator(_ context.Context, validator common.Address, timestamp int64) (types.ValidatorChanged, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := types.ValidatorChanged{Previous: m.validator, Current: validator, Timestamp: timestamp}
	m.validator = validator
	m.rotations = append(m.rotations, ev)
	return ev, nil
}

func (m *MemoryStore) RecordSwap(_ context.Context, ev *types.SwapInitialized) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastNonce++
	ev.Nonce = m.lastNonce
	m.swaps[ev.Nonce] = copySwap(*ev)
	return nil
}

func (m *MemoryStore) SwapEvent(_ context.Context, nonce uint64) (*types.SwapInitialized, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.swaps[nonce]
	if !ok {
		return nil, ErrNotFound
	}
	ev = copySwap(ev)
	return &ev, nil
}

func (m *MemoryStore) SwapsSince(_ context.Context, after uint64, limit int) ([]*types.SwapInitialized, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nonces := make([]uint64, 0)
	for n := range m.swaps {
		if n > after {
			nonces = append(nonces, n)
		}
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	if limit > 0 && len(nonces) > limit {
		nonces = nonces[:limit]
	}

	res := make([]*types.SwapInitialized, 0, len(nonces))
	for _, n := range nonces {
		ev := copySwap(m.swaps[n])
		res = append(res, &ev)
	}
	return res, nil
}

func (m *MemoryStore) LastNonce(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastNonce, nil
}

func (m *MemoryStore) RecordRedemption(_ context.Context, ev *types.RedemptionCompleted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *ev
	stored.Amount = new(big.Int).Set(ev.Amount)
	m.redemptions[ev.Nonce] = stored
	return nil
}

func (m *MemoryStore) Redemption(_ context.Context, nonce uint64) (*types.RedemptionCompleted, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.redemptions[nonce]
	if !ok {
		return nil, ErrNotFound
	}
	ev.Amount = new(big.Int).Set(ev.Amount)
	return &ev, nil
}

func (m *MemoryStore) ValidatorEvents(_ context.Context) ([]types.ValidatorChanged, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.ValidatorChanged(nil), m.rotations...), nil
}

func copySwap(ev types.SwapInitialized) types.SwapInitialized {
	if ev.Amount != nil {
		ev.Amount = new(big.Int).Set(ev.Amount)
	}
	return ev
}
