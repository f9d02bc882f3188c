package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// ParseOptionalAddress is ParseAddress that accepts an empty input.
func ParseOptionalAddress(input string) (common.Address, bool, error) {
	if strings.TrimSpace(input) == "" {
		return common.Address{}, false, nil
	}
	addr, err := ParseAddress(input)
	if err != nil {
		return common.Address{}, false, err
	}
	return addr, true, nil
}
