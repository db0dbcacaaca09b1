package database

import (
	"math/big"

	"github.com/shopspring/decimal"
)

type ConsumedNonce struct {
	ChainID uint64 `gorm:"column:chain_id;primaryKey;autoIncrement:false"`
	Nonce   uint64 `gorm:"column:nonce;primaryKey;autoIncrement:false"`
}

func (ConsumedNonce) TableName() string {
	return "consumed_nonces"
}

type NonceCounter struct {
	ChainID   uint64 `gorm:"column:chain_id;primaryKey;autoIncrement:false"`
	LastNonce uint64 `gorm:"column:last_nonce;not null"`
}

func (NonceCounter) TableName() string {
	return "nonce_counters"
}

type SwapEvent struct {
	ChainID       uint64          `gorm:"column:chain_id;primaryKey;autoIncrement:false"`
	Nonce         uint64          `gorm:"column:nonce;primaryKey;autoIncrement:false"`
	SourceUser    string          `gorm:"column:source_user;not null"`
	SourceToken   string          `gorm:"column:source_token;not null"`
	SourceChainID uint64          `gorm:"column:source_chain_id;not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:varchar(78);not null"`
	DestUser      string          `gorm:"column:dest_user;not null"`
	DestToken     string          `gorm:"column:dest_token;not null"`
	DestChainID   uint64          `gorm:"column:dest_chain_id;not null"`
	Timestamp     int64           `gorm:"column:timestamp;not null"`
}

func (SwapEvent) TableName() string {
	return "swap_events"
}

type Redemption struct {
	ChainID       uint64          `gorm:"column:chain_id;primaryKey;autoIncrement:false"`
	Nonce         uint64          `gorm:"column:nonce;primaryKey;autoIncrement:false"`
	SourceUser    string          `gorm:"column:source_user;not null"`
	SourceChainID uint64          `gorm:"column:source_chain_id;not null"`
	Recipient     string          `gorm:"column:recipient;not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:varchar(78);not null"`
	Timestamp     int64           `gorm:"column:timestamp;not null"`
}

func (Redemption) TableName() string {
	return "redemptions"
}

type ValidatorCell struct {
	ChainID   uint64 `gorm:"column:chain_id;primaryKey;autoIncrement:false"`
	Validator string `gorm:"column:validator;not null"`
}

func (ValidatorCell) TableName() string {
	return "validators"
}

type ValidatorEvent struct {
	ID        uint   `gorm:"primaryKey"`
	ChainID   uint64 `gorm:"column:chain_id;not null;index"`
	Previous  string `gorm:"column:previous;not null"`
	Current   string `gorm:"column:current;not null"`
	Timestamp int64  `gorm:"column:timestamp;not null"`
}

func (ValidatorEvent) TableName() string {
	return "validator_events"
}

// Operation is a relay operation, Request holds the SwapRequest as JSON
type Operation struct {
	ID          string `gorm:"column:id;primaryKey"`
	Status      string `gorm:"column:status;not null;index"`
	SourceChain uint64 `gorm:"column:source_chain;not null;uniqueIndex:idx_operation_source"`
	Nonce       uint64 `gorm:"column:nonce;not null;uniqueIndex:idx_operation_source"`
	DestChain   uint64 `gorm:"column:dest_chain;not null"`
	Request     string `gorm:"column:request;type:text;not null"`
	Digest      string `gorm:"column:digest"`
	Signature   string `gorm:"column:signature"`
	Attempts    int    `gorm:"column:attempts;not null"`
	TsFound     int64  `gorm:"column:ts_found"`
	Message     string `gorm:"column:message;type:text"`
}

func (Operation) TableName() string {
	return "operations"
}

type ScanCursor struct {
	ChainID uint64 `gorm:"column:chain_id;primaryKey;autoIncrement:false"`
	Nonce   uint64 `gorm:"column:nonce;not null"`
}

func (ScanCursor) TableName() string {
	return "scan_cursors"
}

type TokenBalance struct {
	Token   string          `gorm:"column:token;primaryKey"`
	Account string          `gorm:"column:account;primaryKey"`
	Balance decimal.Decimal `gorm:"column:balance;type:varchar(78);not null"`
}

func (TokenBalance) TableName() string {
	return "token_balances"
}

type TokenAllowance struct {
	Token   string          `gorm:"column:token;primaryKey"`
	Owner   string          `gorm:"column:owner;primaryKey"`
	Spender string          `gorm:"column:spender;primaryKey"`
	Amount  decimal.Decimal `gorm:"column:amount;type:varchar(78);not null"`
}

func (TokenAllowance) TableName() string {
	return "token_allowances"
}

type TokenMinter struct {
	Token   string `gorm:"column:token;primaryKey"`
	Account string `gorm:"column:account;primaryKey"`
}

func (TokenMinter) TableName() string {
	return "token_minters"
}

func toDecimal(x *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(x, 0)
}

func toBig(d decimal.Decimal) *big.Int {
	return d.BigInt()
}
