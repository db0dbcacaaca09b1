package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mabridge/types"

	"github.com/google/uuid"
)

type opKey struct {
	sourceChain uint64
	nonce       uint64
}

// MemoryOperations is the in-process OperationStore
type MemoryOperations struct {
	mu      sync.RWMutex
	ops     map[string]types.BridgeOperation
	index   map[opKey]string
	scanned map[uint64]uint64
}

var _ OperationStore = (*MemoryOperations)(nil)

func NewMemoryOperations() *MemoryOperations {
	return &MemoryOperations{
		ops:     make(map[string]types.BridgeOperation),
		index:   make(map[opKey]string),
		scanned: make(map[uint64]uint64),
	}
}

// ValidateOperation applies the checks every OperationStore performs before
// a write and assigns an ID to new operations
func ValidateOperation(op *types.BridgeOperation) error {
	if op == nil {
		return errors.New("null object to store")
	}
	if op.Status == "" {
		return errors.New("bridge operation cannot have empty status")
	}
	if !types.IsOpStatus(op.Status) {
		return fmt.Errorf("unknown bridge operation status %q", op.Status)
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	return nil
}

func (m *MemoryOperations) UpsertOperation(_ context.Context, op *types.BridgeOperation) error {
	if err := ValidateOperation(op); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.ID] = *op
	m.index[opKey{op.SourceChain, op.Nonce}] = op.ID
	return nil
}

func (m *MemoryOperations) ChangeOperationStatus(_ context.Context, op *types.BridgeOperation, prevStatus string) error {
	if err := ValidateOperation(op); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.ops[op.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status != prevStatus {
		return fmt.Errorf("bridge operation %s is %s, expected %s", op.ID, existing.Status, prevStatus)
	}
	m.ops[op.ID] = *op
	return nil
}

func (m *MemoryOperations) FindOperation(_ context.Context, sourceChain, nonce uint64) (*types.BridgeOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.index[opKey{sourceChain, nonce}]
	if !ok {
		return nil, nil
	}
	op := m.ops[id]
	return &op, nil
}

func (m *MemoryOperations) FindOperationsByStatus(_ context.Context, status string) ([]*types.BridgeOperation, error) {
	if !types.IsOpStatus(status) {
		return nil, fmt.Errorf("unknown bridge operation status %q", status)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	ops := make([]*types.BridgeOperation, 0)
	for _, op := range m.ops {
		if op.Status == status {
			op := op
			ops = append(ops, &op)
		}
	}
	return ops, nil
}

func (m *MemoryOperations) ScannedNonce(_ context.Context, chainID uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanned[chainID], nil
}

func (m *MemoryOperations) SetScannedNonce(_ context.Context, chainID uint64, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanned[chainID] = nonce
	return nil
}
