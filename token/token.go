// Package token describes the fungible token ledgers a bridge instance burns
// from and mints into.
package token

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientFunds     = errors.New("burn amount exceeds balance")
	ErrInsufficientAllowance = errors.New("burn amount exceeds allowance")
	ErrNotMinter             = errors.New("must have minter role to mint")
	ErrNotAdmin              = errors.New("must have admin role to grant roles")
	ErrIdentityMismatch      = errors.New("acting account is not the account this ledger signs for")
	ErrInvalidAmount         = errors.New("amount must be positive")
)

// Ledger is the minimal surface of a mintable, burnable token. The acting
// account (minter, spender, owner) is explicit: in-process ledgers check it
// against roles and allowances, RPC ledgers check it against their signing key.
type Ledger interface {
	Mint(ctx context.Context, minter, to common.Address, amount *big.Int) error
	// BurnFrom destroys amount of from's tokens, consuming spender's allowance
	// unless spender is from.
	BurnFrom(ctx context.Context, spender, from common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}
