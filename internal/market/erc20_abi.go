package market

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// erc20MetadataJSON is the metadata subset of ERC-20. Older tokens return
// bytes32 for symbol and name, so the text type is a parameter.
const erc20MetadataJSON = `[
  {"name": "decimals", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"type": "uint8"}]},
  {"name": "symbol", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"type": "%[1]s"}]},
  {"name": "name", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"type": "%[1]s"}]}
]`

func erc20Metadata(textType string) func() (abi.ABI, error) {
	return sync.OnceValues(func() (abi.ABI, error) {
		return abi.JSON(strings.NewReader(fmt.Sprintf(erc20MetadataJSON, textType)))
	})
}

var (
	erc20StringABI  = erc20Metadata("string")
	erc20Bytes32ABI = erc20Metadata("bytes32")
)
