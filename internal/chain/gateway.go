package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// gatewayABIJSON is the externally observable surface of the on-chain
// gateway contract. The contract itself is a collaborator; only its call
// signature and revert conditions matter here.
const gatewayABIJSON = `[
	{
		"name": "executeMint",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "recipient", "type": "address"},
			{"name": "tokenAmount", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "expiryTime", "type": "uint256"},
			{"name": "referenceHash", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"name": "executeRedeem",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "account", "type": "address"},
			{"name": "tokenAmount", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "expiryTime", "type": "uint256"},
			{"name": "referenceHash", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"name": "usedNonces",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "nonce", "type": "bytes32"}],
		"outputs": [{"name": "", "type": "bool"}]
	}
]`

// tokenABIJSON is the minimal ERC-20 surface needed for balance checks.
const tokenABIJSON = `[
	{
		"name": "balanceOf",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	}
]`

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid %s ABI: %v", name, err))
	}
	return parsed
}

// unpackSingle decodes a call result that must carry exactly one value.
func unpackSingle(contractABI abi.ABI, method string, data []byte) (interface{}, error) {
	results, err := contractABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("unexpected %s result count %d", method, len(results))
	}
	return results[0], nil
}
