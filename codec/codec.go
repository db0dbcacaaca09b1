// Package codec builds the canonical redemption message that validators sign
// and bridges verify. The layout is eight 32 byte ABI words:
//
//	nonce | sourceUser | sourceToken | sourceChainId | amount | destUser | destToken | destChainId
//
// Signers and verifiers must agree on it byte for byte.
package codec

import (
	"errors"
	"fmt"
	"math/big"

	"mabridge/types"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MessageLength is the size of an encoded message
const MessageLength = 8 * 32

var (
	ErrInvalidAmount = errors.New("amount must be a non-negative 256 bit integer")
	ErrInvalidLength = fmt.Errorf("message must be %d bytes", MessageLength)
	ErrOverflow      = errors.New("nonce or chain id does not fit in 64 bits")
)

var (
	arguments  abi.Arguments
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func init() {
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	arguments = abi.Arguments{
		{Name: "nonce", Type: uint256Ty},
		{Name: "sourceUser", Type: addressTy},
		{Name: "sourceToken", Type: addressTy},
		{Name: "sourceChainId", Type: uint256Ty},
		{Name: "amount", Type: uint256Ty},
		{Name: "destUser", Type: addressTy},
		{Name: "destToken", Type: addressTy},
		{Name: "destChainId", Type: uint256Ty},
	}
}

// ValidAmount reports whether amount fits an uint256 word. abi packing wraps
// out of range values silently, so callers check first.
func ValidAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() >= 0 && amount.Cmp(maxUint256) <= 0
}

func Encode(req types.SwapRequest) ([]byte, error) {
	if !ValidAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}

	return arguments.Pack(
		new(big.Int).SetUint64(req.Nonce),
		req.SourceUser,
		req.SourceToken,
		new(big.Int).SetUint64(req.SourceChainID),
		req.Amount,
		req.DestUser,
		req.DestToken,
		new(big.Int).SetUint64(req.DestChainID),
	)
}

func Hash(data []byte) common.Hash {
	return crypto.Keccak256Hash(data)
}

// Digest is Hash(Encode(req)), the value the validator signs
func Digest(req types.SwapRequest) (common.Hash, error) {
	data, err := Encode(req)
	if err != nil {
		return common.Hash{}, err
	}
	return Hash(data), nil
}

func Decode(data []byte) (types.SwapRequest, error) {
	if len(data) != MessageLength {
		return types.SwapRequest{}, ErrInvalidLength
	}

	values, err := arguments.Unpack(data)
	if err != nil {
		return types.SwapRequest{}, fmt.Errorf("cannot unpack message: %w", err)
	}

	words := make([]uint64, 0, 3)
	for _, i := range []int{0, 3, 7} {
		v := values[i].(*big.Int)
		if !v.IsUint64() {
			return types.SwapRequest{}, ErrOverflow
		}
		words = append(words, v.Uint64())
	}

	return types.SwapRequest{
		Nonce:         words[0],
		SourceUser:    values[1].(common.Address),
		SourceToken:   values[2].(common.Address),
		SourceChainID: words[1],
		Amount:        values[4].(*big.Int),
		DestUser:      values[5].(common.Address),
		DestToken:     values[6].(common.Address),
		DestChainID:   words[2],
	}, nil
}
