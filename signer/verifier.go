package signer

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignatureLength = fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	ErrInvalidRecoveryID      = errors.New("wrong signature checksum")
	ErrInvalidSignatureValues = errors.New("signature r/s values out of range")
	ErrRecoveryFailed         = errors.New("cannot decode public key")
)

// PrefixHash wraps a 32 byte digest the way personal_sign does:
// keccak256("\x19Ethereum Signed Message:\n32" || digest)
func PrefixHash(digest common.Hash) common.Hash {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(digest), digest.Bytes())
	return crypto.Keccak256Hash([]byte(msg))
}

// RecoverSigner returns the address that produced sig over the prefixed
// digest. sig is r || s || v with v in {0, 1, 27, 28}, s in the lower half of
// the curve order. The input slice is left untouched.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignatureLength
	}

	localSig := make([]byte, crypto.SignatureLength)
	copy(localSig, sig)

	switch localSig[64] {
	case 27, 28:
		localSig[64] -= 27
	case 0, 1:
	default:
		return common.Address{}, ErrInvalidRecoveryID
	}

	r := new(big.Int).SetBytes(localSig[:32])
	s := new(big.Int).SetBytes(localSig[32:64])
	if !crypto.ValidateSignatureValues(localSig[64], r, s, true) {
		return common.Address{}, ErrInvalidSignatureValues
	}

	pubKey, err := crypto.SigToPub(PrefixHash(digest).Bytes(), localSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s", ErrRecoveryFailed, err.Error())
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// Verify is true only when sig recovers to expected. Malformed signatures are
// a plain false.
func Verify(digest common.Hash, sig []byte, expected common.Address) bool {
	recovered, err := RecoverSigner(digest, sig)
	if err != nil {
		return false
	}
	return recovered == expected
}
