package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapRequest is the tuple a validator signs. Nonce and chain ids are encoded
// as uint256 words, addresses as left padded words.
type SwapRequest struct {
	Nonce         uint64         `json:"nonce"`
	SourceUser    common.Address `json:"sourceUser"`
	SourceToken   common.Address `json:"sourceToken"`
	SourceChainID uint64         `json:"sourceChainId"`
	Amount        *big.Int       `json:"amount"`
	DestUser      common.Address `json:"destUser"`
	DestToken     common.Address `json:"destToken"`
	DestChainID   uint64         `json:"destChainId"`
}

// SwapInitialized is recorded by a successful swap, observers rebuild the
// canonical message from it
type SwapInitialized struct {
	SwapRequest
	Timestamp int64 `json:"timestamp"`
}

type RedemptionCompleted struct {
	Nonce         uint64         `json:"nonce"`
	SourceUser    common.Address `json:"sourceUser"`
	SourceChainID uint64         `json:"sourceChainId"`
	Recipient     common.Address `json:"recipient"`
	Amount        *big.Int       `json:"amount"`
	Timestamp     int64          `json:"timestamp"`
}

type ValidatorChanged struct {
	Previous  common.Address `json:"previous"`
	Current   common.Address `json:"current"`
	Timestamp int64          `json:"timestamp"`
}

// NonceStatus only ever moves from Unconsumed to Consumed
type NonceStatus uint8

const (
	NonceUnconsumed NonceStatus = iota
	NonceConsumed
)

func (s NonceStatus) String() string {
	switch s {
	case NonceUnconsumed:
		return "unconsumed"
	case NonceConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

func (s NonceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type RedemptionRecord struct {
	Nonce  uint64      `json:"nonce"`
	Status NonceStatus `json:"status"`
}

func (r RedemptionRecord) Consumed() bool {
	return r.Status == NonceConsumed
}

// Bridge operation is a single observed swap on its way to the destination
// chain, with the validator signature attached once signed
type BridgeOperation struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	SourceChain uint64      `json:"sourceChain"`
	DestChain   uint64      `json:"destChain"`
	Nonce       uint64      `json:"nonce"`
	Request     SwapRequest `json:"request"`
	Digest      string      `json:"digest"`
	Signature   string      `json:"signature"` // hex, 65 bytes, v in {27, 28}
	Attempts    int         `json:"attempts"`
	TsFound     int64       `json:"tsFound"`
	Message     string      `json:"message"` // messsages that help to track processing/errors
}

const (
	OpStatusPending  = "pending"  // swap event seen, no signature yet
	OpStatusSigned   = "signed"   // validator signature attached, waiting for redeem
	OpStatusRedeemed = "redeemed" // destination redeem succeeded or nonce found consumed
	OpStatusFailed   = "failed"   // cannot be redeemed with the stored signature
)

var OpStatuses = []string{OpStatusPending, OpStatusSigned, OpStatusRedeemed, OpStatusFailed}

func IsOpStatus(status string) bool {
	for _, s := range OpStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// AppendMessage keeps the history of processing notes on the operation
func (op *BridgeOperation) AppendMessage(msg string) {
	if op.Message == "" {
		op.Message = msg
	} else {
		op.Message += "; " + msg
	}
}
