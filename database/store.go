package database

import (
	"context"
	"errors"
	"fmt"

	"mabridge/ledger"
	"mabridge/types"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is a ledger.Store over SQL, rows are keyed by chain id so several
// instances share one database
type Store struct {
	db      *gorm.DB
	chainID uint64
}

var _ ledger.Store = (*Store)(nil)

func NewStore(db *gorm.DB, chainID uint64) *Store {
	return &Store{db: db, chainID: chainID}
}

func (s *Store) IsConsumed(ctx context.Context, nonce uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ConsumedNonce{}).
		Where("chain_id = ? AND nonce = ?", s.chainID, nonce).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) MarkConsumed(ctx context.Context, nonce uint64) error {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ConsumedNonce{ChainID: s.chainID, Nonce: nonce})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ledger.ErrAlreadyConsumed
	}
	return nil
}

func (s *Store) Release(ctx context.Context, nonce uint64) error {
	return s.db.WithContext(ctx).
		Where("chain_id = ? AND nonce = ?", s.chainID, nonce).
		Delete(&ConsumedNonce{}).Error
}

func (s *Store) Validator(ctx context.Context) (common.Address, error) {
	return validatorOf(s.db.WithContext(ctx), s.chainID, false)
}

func validatorOf(tx *gorm.DB, chainID uint64, lock bool) (common.Address, error) {
	if lock {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var cell ValidatorCell
	err := tx.Where("chain_id = ?", chainID).First(&cell).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return common.Address{}, nil
	}
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(cell.Validator), nil
}

func (s *Store) SetValidator(ctx context.Context, validator common.Address, timestamp int64) (types.ValidatorChanged, error) {
	var ev types.ValidatorChanged
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous, err := validatorOf(tx, s.chainID, true)
		if err != nil {
			return err
		}

		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"validator"}),
		}).Create(&ValidatorCell{ChainID: s.chainID, Validator: validator.Hex()}).Error
		if err != nil {
			return err
		}

		ev = types.ValidatorChanged{Previous: previous, Current: validator, Timestamp: timestamp}
		return tx.Create(&ValidatorEvent{
			ChainID:   s.chainID,
			Previous:  previous.Hex(),
			Current:   validator.Hex(),
			Timestamp: timestamp,
		}).Error
	})
	if err != nil {
		return types.ValidatorChanged{}, fmt.Errorf("failed to set validator: %w", err)
	}
	return ev, nil
}

func (s *Store) RecordSwap(ctx context.Context, ev *types.SwapInitialized) error {
	if ev == nil {
		return errors.New("null object to store")
	}

	var nonce uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&NonceCounter{ChainID: s.chainID, LastNonce: ledger.FirstNonce - 1}).Error
		if err != nil {
			return err
		}

		// the update holds the row lock until commit
		err = tx.Model(&NonceCounter{}).
			Where("chain_id = ?", s.chainID).
			Update("last_nonce", gorm.Expr("last_nonce + 1")).Error
		if err != nil {
			return err
		}

		var counter NonceCounter
		if err := tx.Where("chain_id = ?", s.chainID).First(&counter).Error; err != nil {
			return err
		}
		nonce = counter.LastNonce

		return tx.Create(&SwapEvent{
			ChainID:       s.chainID,
			Nonce:         nonce,
			SourceUser:    ev.SourceUser.Hex(),
			SourceToken:   ev.SourceToken.Hex(),
			SourceChainID: ev.SourceChainID,
			Amount:        toDecimal(ev.Amount),
			DestUser:      ev.DestUser.Hex(),
			DestToken:     ev.DestToken.Hex(),
			DestChainID:   ev.DestChainID,
			Timestamp:     ev.Timestamp,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to record swap: %w", err)
	}

	ev.Nonce = nonce
	return nil
}

func (row SwapEvent) toEvent() *types.SwapInitialized {
	return &types.SwapInitialized{
		SwapRequest: types.SwapRequest{
			Nonce:         row.Nonce,
			SourceUser:    common.HexToAddress(row.SourceUser),
			SourceToken:   common.HexToAddress(row.SourceToken),
			SourceChainID: row.SourceChainID,
			Amount:        toBig(row.Amount),
			DestUser:      common.HexToAddress(row.DestUser),
			DestToken:     common.HexToAddress(row.DestToken),
			DestChainID:   row.DestChainID,
		},
		Timestamp: row.Timestamp,
	}
}

func (s *Store) SwapEvent(ctx context.Context, nonce uint64) (*types.SwapInitialized, error) {
	var row SwapEvent
	err := s.db.WithContext(ctx).Where("chain_id = ? AND nonce = ?", s.chainID, nonce).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toEvent(), nil
}

func (s *Store) SwapsSince(ctx context.Context, after uint64, limit int) ([]*types.SwapInitialized, error) {
	q := s.db.WithContext(ctx).
		Where("chain_id = ? AND nonce > ?", s.chainID, after).
		Order("nonce ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []SwapEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	evs := make([]*types.SwapInitialized, 0, len(rows))
	for _, row := range rows {
		evs = append(evs, row.toEvent())
	}
	return evs, nil
}

func (s *Store) LastNonce(ctx context.Context) (uint64, error) {
	var counter NonceCounter
	err := s.db.WithContext(ctx).Where("chain_id = ?", s.chainID).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.FirstNonce - 1, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.LastNonce, nil
}

func (s *Store) RecordRedemption(ctx context.Context, ev *types.RedemptionCompleted) error {
	if ev == nil {
		return errors.New("null object to store")
	}
	return s.db.WithContext(ctx).Create(&Redemption{
		ChainID:       s.chainID,
		Nonce:         ev.Nonce,
		SourceUser:    ev.SourceUser.Hex(),
		SourceChainID: ev.SourceChainID,
		Recipient:     ev.Recipient.Hex(),
		Amount:        toDecimal(ev.Amount),
		Timestamp:     ev.Timestamp,
	}).Error
}

func (s *Store) Redemption(ctx context.Context, nonce uint64) (*types.RedemptionCompleted, error) {
	var row Redemption
	err := s.db.WithContext(ctx).Where("chain_id = ? AND nonce = ?", s.chainID, nonce).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &types.RedemptionCompleted{
		Nonce:         row.Nonce,
		SourceUser:    common.HexToAddress(row.SourceUser),
		SourceChainID: row.SourceChainID,
		Recipient:     common.HexToAddress(row.Recipient),
		Amount:        toBig(row.Amount),
		Timestamp:     row.Timestamp,
	}, nil
}

func (s *Store) ValidatorEvents(ctx context.Context) ([]types.ValidatorChanged, error) {
	var rows []ValidatorEvent
	err := s.db.WithContext(ctx).Where("chain_id = ?", s.chainID).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	evs := make([]types.ValidatorChanged, 0, len(rows))
	for _, row := range rows {
		evs = append(evs, types.ValidatorChanged{
			Previous:  common.HexToAddress(row.Previous),
			Current:   common.HexToAddress(row.Current),
			Timestamp: row.Timestamp,
		})
	}
	return evs, nil
}
