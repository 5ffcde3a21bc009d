package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress returns the comparison form of an on-chain address.
// EVM hex addresses are case-insensitive and compare lower-cased; other
// encodings (base58, bech32) are case-sensitive and only trimmed.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return strings.ToLower(addr)
	}
	return addr
}
