package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// AggregatorABI is the ABI of the price feed aggregator contracts
const AggregatorABI = `[
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{
				"name": "roundId",
				"type": "uint80"
			},
			{
				"name": "answer",
				"type": "int256"
			},
			{
				"name": "startedAt",
				"type": "uint256"
			},
			{
				"name": "updatedAt",
				"type": "uint256"
			},
			{
				"name": "answeredInRound",
				"type": "uint80"
			}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ParseAggregatorABI parses the aggregator contract ABI
func ParseAggregatorABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(AggregatorABI))
}
