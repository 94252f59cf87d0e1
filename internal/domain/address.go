package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates an EVM address and returns its checksummed hex
// form. XDC-style addresses ("xdc" prefix) are rewritten to "0x".
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) > 3 && strings.EqualFold(s[:3], "xdc") {
		s = "0x" + s[3:]
	}
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return "", fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return addr.Hex(), nil
}
