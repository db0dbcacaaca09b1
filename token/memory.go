package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// MemoryToken is an in-process mintable token. The admin grants the minter
// role, holders burn their own tokens or an approved spender burns for them.
type MemoryToken struct {
	Name   string
	Symbol string

	mu          sync.Mutex
	admin       common.Address
	minters     map[common.Address]bool
	balances    map[common.Address]*big.Int
	allowances  map[allowanceKey]*big.Int
	totalSupply *big.Int
}

var _ Ledger = (*MemoryToken)(nil)

// NewMemoryToken creates a token whose admin also holds the minter role
func NewMemoryToken(name, symbol string, admin common.Address) *MemoryToken {
	return &MemoryToken{
		Name:        name,
		Symbol:      symbol,
		admin:       admin,
		minters:     map[common.Address]bool{admin: true},
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[allowanceKey]*big.Int),
		totalSupply: new(big.Int),
	}
}

func (t *MemoryToken) GrantMinter(admin, account common.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if admin != t.admin {
		return ErrNotAdmin
	}
	t.minters[account] = true
	return nil
}

func (t *MemoryToken) RevokeMinter(admin, account common.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if admin != t.admin {
		return ErrNotAdmin
	}
	delete(t.minters, account)
	return nil
}

func (t *MemoryToken) IsMinter(account common.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.minters[account]
}

func (t *MemoryToken) Mint(_ context.Context, minter, to common.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.minters[minter] {
		return fmt.Errorf("%w: %s", ErrNotMinter, minter.Hex())
	}
	t.balances[to] = new(big.Int).Add(t.balanceOf(to), amount)
	t.totalSupply.Add(t.totalSupply, amount)
	return nil
}

func (t *MemoryToken) BurnFrom(_ context.Context, spender, from common.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := allowanceKey{owner: from, spender: spender}
	if spender != from {
		if t.allowanceOf(key).Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
	}
	balance := t.balanceOf(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}

	if spender != from {
		t.allowances[key] = new(big.Int).Sub(t.allowanceOf(key), amount)
	}
	t.balances[from] = new(big.Int).Sub(balance, amount)
	t.totalSupply.Sub(t.totalSupply, amount)
	return nil
}

func (t *MemoryToken) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balanceOf(account)), nil
}

func (t *MemoryToken) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowanceKey{owner: owner, spender: spender}] = new(big.Int).Set(amount)
	return nil
}

func (t *MemoryToken) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowanceOf(allowanceKey{owner: owner, spender: spender})), nil
}

func (t *MemoryToken) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.totalSupply)
}

func (t *MemoryToken) balanceOf(account common.Address) *big.Int {
	if b, ok := t.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

func (t *MemoryToken) allowanceOf(key allowanceKey) *big.Int {
	if a, ok := t.allowances[key]; ok {
		return a
	}
	return new(big.Int)
}
