// Package signer holds both halves of the validator signature: producing it
// off-chain and recovering it at redeem time.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"mabridge/codec"
	"mabridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Validator signs canonical messages with a local key
type Validator struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func NewValidator(privateKeyHex string) (*Validator, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("error instantiating private key: %w", err)
	}
	return NewValidatorFromKey(key), nil
}

func NewValidatorFromKey(key *ecdsa.PrivateKey) *Validator {
	return &Validator{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (v *Validator) Address() common.Address {
	return v.address
}

// SignDigest signs PrefixHash(digest) and returns r || s || v with v in {27, 28}
func (v *Validator) SignDigest(digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(PrefixHash(digest).Bytes(), v.privateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func (v *Validator) SignRequest(req types.SwapRequest) (common.Hash, []byte, error) {
	digest, err := codec.Digest(req)
	if err != nil {
		return common.Hash{}, nil, err
	}
	sig, err := v.SignDigest(digest)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return digest, sig, nil
}
