package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// OrderUidSize is the length in bytes of an OrderUid: a 32-byte order
// digest, a 20-byte owner address, and a 4-byte big-endian validTo.
const OrderUidSize = 32 + common.AddressLength + 4

// OrderUid is the 56-byte identifier orderDigest‖owner‖validTo.
type OrderUid [OrderUidSize]byte

// NewOrderUid packs a digest, owner, and validTo into the wire layout.
func NewOrderUid(digest [32]byte, owner common.Address, validTo uint32) OrderUid {
	var uid OrderUid
	copy(uid[:32], digest[:])
	copy(uid[32:32+common.AddressLength], owner.Bytes())
	uid[52] = byte(validTo >> 24)
	uid[53] = byte(validTo >> 16)
	uid[54] = byte(validTo >> 8)
	uid[55] = byte(validTo)
	return uid
}

// Digest returns the order digest component.
func (u OrderUid) Digest() [32]byte {
	var d [32]byte
	copy(d[:], u[:32])
	return d
}

// Owner returns the owner address component.
func (u OrderUid) Owner() common.Address {
	return common.BytesToAddress(u[32 : 32+common.AddressLength])
}

// ValidTo returns the validTo epoch-seconds component.
func (u OrderUid) ValidTo() uint32 {
	return uint32(u[52])<<24 | uint32(u[53])<<16 | uint32(u[54])<<8 | uint32(u[55])
}

// String renders the uid as "0x" followed by 112 lowercase hex chars.
func (u OrderUid) String() string {
	return "0x" + hex.EncodeToString(u[:])
}

// ParseOrderUid parses the "0x"+112-hex-char wire encoding back into an
// OrderUid. Round-trips losslessly with String.
func ParseOrderUid(s string) (OrderUid, error) {
	var uid OrderUid
	if len(s) != 2+OrderUidSize*2 || s[0] != '0' || s[1] != 'x' {
		return uid, fmt.Errorf("order uid: want 0x-prefixed %d hex chars, got %q", OrderUidSize*2, s)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return uid, fmt.Errorf("order uid: %w", err)
	}
	copy(uid[:], b)
	return uid, nil
}

// MarshalText implements encoding.TextMarshaler for JSON round-tripping.
func (u OrderUid) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *OrderUid) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderUid(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
