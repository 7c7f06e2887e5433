package idhash

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned for holder ids that are not wallet addresses.
var ErrInvalidAddress = errors.New("invalid wallet address")

// ValidateAddress checks that addr is a base58 ed25519 public key on the curve.
// Program-derived addresses are off-curve and cannot sign, so they are rejected.
func ValidateAddress(addr string) error {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, addr, len(decoded))
	}
	if !isOnCurve(decoded) {
		return fmt.Errorf("%w: %q is not on the ed25519 curve", ErrInvalidAddress, addr)
	}
	return nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
