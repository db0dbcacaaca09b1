package database

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"mabridge/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenLedger is a mintable token kept in SQL. Rows are keyed by chain id and
// token address, so every token of every instance lives in the same tables.
type TokenLedger struct {
	db    *gorm.DB
	token string
	admin common.Address
}

var _ token.Ledger = (*TokenLedger)(nil)

// NewTokenLedger opens the ledger of tokenAddress on chainID and makes admin a
// minter
func NewTokenLedger(ctx context.Context, db *gorm.DB, chainID uint64, tokenAddress, admin common.Address) (*TokenLedger, error) {
	l := &TokenLedger{db: db, token: fmt.Sprintf("%d:%s", chainID, tokenAddress.Hex()), admin: admin}
	if admin != (common.Address{}) {
		if err := l.grant(ctx, admin); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *TokenLedger) GrantMinter(ctx context.Context, admin, account common.Address) error {
	if admin != l.admin {
		return token.ErrNotAdmin
	}
	return l.grant(ctx, account)
}

func (l *TokenLedger) grant(ctx context.Context, account common.Address) error {
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TokenMinter{Token: l.token, Account: account.Hex()}).Error
}

func (l *TokenLedger) IsMinter(ctx context.Context, account common.Address) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&TokenMinter{}).
		Where("token = ? AND account = ?", l.token, account.Hex()).
		Count(&count).Error
	return count > 0, err
}

func (l *TokenLedger) Mint(ctx context.Context, minter, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return token.ErrInvalidAmount
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&TokenMinter{}).Where("token = ? AND account = ?", l.token, minter.Hex()).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", token.ErrNotMinter, minter.Hex())
		}

		balance, err := l.balance(tx, to, true)
		if err != nil {
			return err
		}
		return l.setBalance(tx, to, balance.Add(toDecimal(amount)))
	})
}

func (l *TokenLedger) BurnFrom(ctx context.Context, spender, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return token.ErrInvalidAmount
	}
	burn := toDecimal(amount)

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var allowance decimal.Decimal
		if spender != from {
			var err error
			allowance, err = l.allowance(tx, from, spender, true)
			if err != nil {
				return err
			}
			if allowance.LessThan(burn) {
				return token.ErrInsufficientAllowance
			}
		}

		balance, err := l.balance(tx, from, true)
		if err != nil {
			return err
		}
		if balance.LessThan(burn) {
			return token.ErrInsufficientFunds
		}

		if spender != from {
			if err := l.setAllowance(tx, from, spender, allowance.Sub(burn)); err != nil {
				return err
			}
		}
		return l.setBalance(tx, from, balance.Sub(burn))
	})
}

func (l *TokenLedger) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := l.balance(l.db.WithContext(ctx), account, false)
	if err != nil {
		return nil, err
	}
	return toBig(balance), nil
}

func (l *TokenLedger) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return token.ErrInvalidAmount
	}
	return l.setAllowance(l.db.WithContext(ctx), owner, spender, toDecimal(amount))
}

func (l *TokenLedger) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	allowance, err := l.allowance(l.db.WithContext(ctx), owner, spender, false)
	if err != nil {
		return nil, err
	}
	return toBig(allowance), nil
}

func (l *TokenLedger) balance(tx *gorm.DB, account common.Address, lock bool) (decimal.Decimal, error) {
	if lock {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row TokenBalance
	err := tx.Where("token = ? AND account = ?", l.token, account.Hex()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return row.Balance, nil
}

func (l *TokenLedger) setBalance(tx *gorm.DB, account common.Address, balance decimal.Decimal) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}, {Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance"}),
	}).Create(&TokenBalance{Token: l.token, Account: account.Hex(), Balance: balance}).Error
}

func (l *TokenLedger) allowance(tx *gorm.DB, owner, spender common.Address, lock bool) (decimal.Decimal, error) {
	if lock {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row TokenAllowance
	err := tx.Where("token = ? AND owner = ? AND spender = ?", l.token, owner.Hex(), spender.Hex()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return row.Amount, nil
}

func (l *TokenLedger) setAllowance(tx *gorm.DB, owner, spender common.Address, amount decimal.Decimal) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}, {Name: "owner"}, {Name: "spender"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount"}),
	}).Create(&TokenAllowance{Token: l.token, Owner: owner.Hex(), Spender: spender.Hex(), Amount: amount}).Error
}
