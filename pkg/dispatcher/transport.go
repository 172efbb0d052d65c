package dispatcher

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/intentmesh-hq/auctioneer/pkg/chains"
	"github.com/intentmesh-hq/auctioneer/pkg/contracts"
)

// Transport abstracts the cross-chain messaging layer. Delivery is
// at-least-once; exactly-once semantics come from the dispatcher's
// idempotency key, not from the transport.
type Transport interface {
	// Quote returns the native fee required to send payload to dst.
	Quote(ctx context.Context, dst uint32, payload []byte) (*big.Int, error)

	// Send submits the message and returns a transport receipt reference.
	Send(ctx context.Context, dst uint32, payload []byte, fee *big.Int) (string, error)
}

// EndpointID maps an EVM chain id to its messaging endpoint id.
func EndpointID(chainID int) uint32 {
	return chains.EndpointID(chainID)
}

// EndpointTransport sends messages through an on-chain endpoint contract.
type EndpointTransport struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	nonces   *nonceManager
}

// NewEndpointTransport connects to the RPC endpoint and binds the messaging
// contract. The private key signs outbound messages.
func NewEndpointTransport(rpcURL string, contractAddress common.Address, privateKeyHex string) (*EndpointTransport, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to endpoint RPC: %v", err)
	}

	parsedABI, err := contracts.ParseEndpointABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint ABI: %v", err)
	}
	contract := bind.NewBoundContract(contractAddress, parsedABI, client, client, client)

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}

	sender := auth.From
	return &EndpointTransport{
		client:   client,
		contract: contract,
		auth:     auth,
		nonces: newNonceManager(func(ctx context.Context) (uint64, error) {
			return client.PendingNonceAt(ctx, sender)
		}),
	}, nil
}

// Quote asks the endpoint contract for the native fee of a message.
func (t *EndpointTransport) Quote(ctx context.Context, dst uint32, payload []byte) (*big.Int, error) {
	callOpts := &bind.CallOpts{Context: ctx}
	var out []interface{}
	err := t.contract.Call(callOpts, &out, "quoteCrossChainFee", dst, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to quote fee: %v", err)
	}
	if len(out) == 0 || out[0] == nil {
		return nil, fmt.Errorf("empty result from quote call")
	}
	fee, ok := out[0].(*big.Int)
	if !ok || fee == nil {
		return nil, fmt.Errorf("invalid fee result type")
	}
	return fee, nil
}

// Send submits the message with the fee attached as transaction value.
// Nonces come from the local manager so concurrent sends do not collide.
func (t *EndpointTransport) Send(ctx context.Context, dst uint32, payload []byte, fee *big.Int) (string, error) {
	nonce, err := t.nonces.Reserve(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to reserve nonce: %v", err)
	}

	opts := *t.auth
	opts.Context = ctx
	opts.Value = fee
	opts.Nonce = new(big.Int).SetUint64(nonce)

	tx, err := t.contract.Transact(&opts, "sendCrossChainExecution", dst, payload)
	if err != nil {
		t.nonces.Fail(nonce)
		return "", fmt.Errorf("failed to send message: %v", err)
	}
	t.nonces.Confirm(nonce)
	return tx.Hash().Hex(), nil
}
