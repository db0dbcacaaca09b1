package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mabridge/ledger"
	"mabridge/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OperationStore struct {
	db *gorm.DB
}

var _ ledger.OperationStore = (*OperationStore)(nil)

func NewOperationStore(db *gorm.DB) *OperationStore {
	return &OperationStore{db: db}
}

func fromOperation(op *types.BridgeOperation) (*Operation, error) {
	req, err := json.Marshal(op.Request)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal swap request to JSON: %s", err.Error())
	}
	return &Operation{
		ID:          op.ID,
		Status:      op.Status,
		SourceChain: op.SourceChain,
		Nonce:       op.Nonce,
		DestChain:   op.DestChain,
		Request:     string(req),
		Digest:      op.Digest,
		Signature:   op.Signature,
		Attempts:    op.Attempts,
		TsFound:     op.TsFound,
		Message:     op.Message,
	}, nil
}

func (row *Operation) toOperation() (*types.BridgeOperation, error) {
	op := &types.BridgeOperation{
		ID:          row.ID,
		Status:      row.Status,
		SourceChain: row.SourceChain,
		DestChain:   row.DestChain,
		Nonce:       row.Nonce,
		Digest:      row.Digest,
		Signature:   row.Signature,
		Attempts:    row.Attempts,
		TsFound:     row.TsFound,
		Message:     row.Message,
	}
	if err := json.Unmarshal([]byte(row.Request), &op.Request); err != nil {
		return nil, err
	}
	return op, nil
}

func (s *OperationStore) UpsertOperation(ctx context.Context, op *types.BridgeOperation) error {
	if err := ledger.ValidateOperation(op); err != nil {
		return err
	}
	row, err := fromOperation(op)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// one operation per source swap, a new id replaces the old row
		err := tx.Where("source_chain = ? AND nonce = ? AND id <> ?", op.SourceChain, op.Nonce, op.ID).
			Delete(&Operation{}).Error
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	})
}

func (s *OperationStore) ChangeOperationStatus(ctx context.Context, op *types.BridgeOperation, prevStatus string) error {
	if err := ledger.ValidateOperation(op); err != nil {
		return err
	}
	row, err := fromOperation(op)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&Operation{}).
		Where("id = ? AND status = ?", op.ID, prevStatus).
		Select("*").
		Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("bridge operation %s is not %s", op.ID, prevStatus)
	}
	return nil
}

func (s *OperationStore) FindOperation(ctx context.Context, sourceChain, nonce uint64) (*types.BridgeOperation, error) {
	var row Operation
	err := s.db.WithContext(ctx).Where("source_chain = ? AND nonce = ?", sourceChain, nonce).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toOperation()
}

func (s *OperationStore) FindOperationsByStatus(ctx context.Context, status string) ([]*types.BridgeOperation, error) {
	if !types.IsOpStatus(status) {
		return nil, fmt.Errorf("unknown bridge operation status %q", status)
	}

	var rows []Operation
	if err := s.db.WithContext(ctx).Where("status = ?", status).Order("source_chain, nonce").Find(&rows).Error; err != nil {
		return nil, err
	}

	ops := make([]*types.BridgeOperation, 0, len(rows))
	for i := range rows {
		op, err := rows[i].toOperation()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (s *OperationStore) ScannedNonce(ctx context.Context, chainID uint64) (uint64, error) {
	var cursor ScanCursor
	err := s.db.WithContext(ctx).Where("chain_id = ?", chainID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.Nonce, nil
}

func (s *OperationStore) SetScannedNonce(ctx context.Context, chainID uint64, nonce uint64) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"nonce"}),
	}).Create(&ScanCursor{ChainID: chainID, Nonce: nonce}).Error
}
