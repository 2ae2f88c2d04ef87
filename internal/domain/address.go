package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Address identifies a trader or subject. Two wire forms are accepted:
// 0x-prefixed hex (EVM and Sui style, 20 or 32 bytes) and base58
// (Solana style, 32 bytes). The normalized form keeps hex lowercase and
// base58 verbatim, so equal identities always compare equal.
type Address string

// Address byte lengths accepted for the hex form.
const (
	addrLenEVM = 20
	addrLenSui = 32
)

// ParseAddress validates and normalizes an address string.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty address")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		body := strings.ToLower(s[2:])
		raw, err := hex.DecodeString(body)
		if err != nil {
			return "", fmt.Errorf("decode hex address: %w", err)
		}
		if len(raw) != addrLenEVM && len(raw) != addrLenSui {
			return "", fmt.Errorf("hex address must be %d or %d bytes, got %d", addrLenEVM, addrLenSui, len(raw))
		}
		return Address("0x" + body), nil
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("decode base58 address: %w", err)
	}
	if len(raw) != addrLenSui {
		return "", fmt.Errorf("base58 address must be %d bytes, got %d", addrLenSui, len(raw))
	}
	return Address(s), nil
}

// Bytes returns the raw bytes behind the address.
func (a Address) Bytes() ([]byte, error) {
	s := string(a)
	if strings.HasPrefix(s, "0x") {
		return hex.DecodeString(s[2:])
	}
	return base58.Decode(s)
}

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }
