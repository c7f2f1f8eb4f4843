/*
Package address checks payment addresses used as per-address channel names.
Only base58check encoded legacy addresses (P2PKH and P2SH, main and test
networks) are recognized.
*/
package address

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Address version bytes.
const (
	P2PKHMainNet byte = 0x00
	P2SHMainNet  byte = 0x05
	P2PKHTestNet byte = 0x6f
	P2SHTestNet  byte = 0xc4
)

const (
	hashLen     = 20
	checksumLen = 4
	decodedLen  = 1 + hashLen + checksumLen

	// Encoded length bounds for 25-byte payloads.
	minEncodedLen = 25
	maxEncodedLen = 35
)

var (
	// ErrChecksum is returned for addresses with mismatching checksum.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrVersion is returned for unknown address version bytes.
	ErrVersion = errors.New("unknown address version")
)

// Encode returns the base58check address for the given version and 20-byte
// hash.
func Encode(version byte, hash []byte) string {
	b := make([]byte, 0, decodedLen)
	b = append(b, version)
	b = append(b, hash...)
	b = append(b, checksum(b)...)
	return base58.Encode(b)
}

// Decode parses a base58check address and returns its version and hash.
func Decode(s string) (byte, []byte, error) {
	if len(s) < minEncodedLen || len(s) > maxEncodedLen {
		return 0, nil, fmt.Errorf("invalid address length %d", len(s))
	}
	b, err := base58.Decode(s)
	if err != nil {
		return 0, nil, err
	}
	if len(b) != decodedLen {
		return 0, nil, fmt.Errorf("invalid decoded length %d", len(b))
	}
	payload, sum := b[:decodedLen-checksumLen], b[decodedLen-checksumLen:]
	if !bytes.Equal(checksum(payload), sum) {
		return 0, nil, ErrChecksum
	}
	switch payload[0] {
	case P2PKHMainNet, P2SHMainNet, P2PKHTestNet, P2SHTestNet:
	default:
		return 0, nil, ErrVersion
	}
	return payload[0], payload[1:], nil
}

// IsValid checks whether s is a syntactically valid payment address.
func IsValid(s string) bool {
	_, _, err := Decode(s)
	return err == nil
}

func checksum(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}
