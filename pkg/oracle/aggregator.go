package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/intentmesh-hq/auctioneer/pkg/contracts"
)

// AggregatorFeed reads prices from on-chain aggregator contracts, one per
// asset. Readings come back as fixed-point values with 8 decimals.
type AggregatorFeed struct {
	client    *ethclient.Client
	contracts map[string]*bind.BoundContract
}

// NewAggregatorFeed connects to the RPC endpoint and binds one aggregator
// contract per configured asset.
func NewAggregatorFeed(rpcURL string, feeds map[string]common.Address) (*AggregatorFeed, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to feed RPC: %v", err)
	}

	parsedABI, err := contracts.ParseAggregatorABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse aggregator ABI: %v", err)
	}

	contracts := make(map[string]*bind.BoundContract, len(feeds))
	for asset, addr := range feeds {
		contracts[asset] = bind.NewBoundContract(addr, parsedABI, client, client, client)
	}

	return &AggregatorFeed{
		client:    client,
		contracts: contracts,
	}, nil
}

// Latest reads latestRoundData from the asset's aggregator.
func (f *AggregatorFeed) Latest(ctx context.Context, asset string) (*big.Int, time.Time, error) {
	contract, ok := f.contracts[asset]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("%s: %w", asset, ErrUnknownAsset)
	}

	callOpts := &bind.CallOpts{Context: ctx}
	var out []interface{}
	if err := contract.Call(callOpts, &out, "latestRoundData"); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read round data for %s: %v", asset, err)
	}
	if len(out) < 4 {
		return nil, time.Time{}, fmt.Errorf("short result from round data call for %s", asset)
	}

	answer, ok := out[1].(*big.Int)
	if !ok || answer == nil {
		return nil, time.Time{}, fmt.Errorf("invalid answer type for %s", asset)
	}
	updatedAt, ok := out[3].(*big.Int)
	if !ok || updatedAt == nil {
		return nil, time.Time{}, fmt.Errorf("invalid timestamp type for %s", asset)
	}

	return answer, time.Unix(updatedAt.Int64(), 0), nil
}
