// Package contracts holds the ABIs of the on-chain contracts the service
// talks to: the cross-chain messaging endpoint and the price feed
// aggregators.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// EndpointABI is the ABI of the cross-chain messaging endpoint contract
const EndpointABI = `[
	{
		"inputs": [
			{
				"name": "_dstEid",
				"type": "uint32"
			},
			{
				"name": "_message",
				"type": "bytes"
			}
		],
		"name": "quoteCrossChainFee",
		"outputs": [
			{
				"name": "",
				"type": "uint256"
			}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{
				"name": "_dstEid",
				"type": "uint32"
			},
			{
				"name": "_payload",
				"type": "bytes"
			}
		],
		"name": "sendCrossChainExecution",
		"outputs": [
			{
				"name": "",
				"type": "bytes32"
			}
		],
		"stateMutability": "payable",
		"type": "function"
	}
]`

// ParseEndpointABI parses the endpoint contract ABI
func ParseEndpointABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(EndpointABI))
}
