package dispatcher

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentmesh-hq/auctioneer/pkg/escrow"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

var (
	governance = common.HexToAddress("0x1000000000000000000000000000000000000001")
	creator    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	payout     = common.HexToAddress("0x3000000000000000000000000000000000000003")
	token      = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

// mockTransport quotes a fixed fee and records sends
type mockTransport struct {
	mu      sync.Mutex
	fee     *big.Int
	sendErr error
	sent    int
}

func (m *mockTransport) Quote(_ context.Context, _ uint32, _ []byte) (*big.Int, error) {
	return new(big.Int).Set(m.fee), nil
}

func (m *mockTransport) Send(_ context.Context, _ uint32, _ []byte, _ *big.Int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent++
	return "0xreceipt", nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	transport  *mockTransport
	ledger     *escrow.Ledger
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	ledger := escrow.NewLedger(governance, nil)
	require.NoError(t, ledger.AuthorizeReleaser(governance, escrow.ReleaserCrossChainDispatcher))
	_, err := ledger.Lock("intent-1", creator, big.NewInt(1000), big.NewInt(1000), token)
	require.NoError(t, err)

	transport := &mockTransport{fee: big.NewInt(50)}
	return &dispatcherFixture{
		dispatcher: NewDispatcher(transport, ledger, nil, nil),
		transport:  transport,
		ledger:     ledger,
	}
}

func TestMessageIDDeterministic(t *testing.T) {
	a := MessageID("intent-1", 0)
	b := MessageID("intent-1", 0)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, MessageID("intent-1", 1))
	assert.NotEqual(t, a, MessageID("intent-2", 0))
}

func TestDispatchRecordsPendingMessage(t *testing.T) {
	f := newDispatcherFixture(t)

	id, err := f.dispatcher.Dispatch(context.Background(), "intent-1", 0, 30110, []byte("payload"), big.NewInt(50), nil)
	require.NoError(t, err)
	assert.Equal(t, MessageID("intent-1", 0), id)

	msg, err := f.dispatcher.Message(id)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, msg.Status)
	assert.Equal(t, uint32(30110), msg.DstSelector)
	assert.Equal(t, int64(50), msg.FeePaid.Int64())
	assert.Equal(t, 1, f.dispatcher.PendingCount())
}

func TestDispatchRejectsInsufficientFee(t *testing.T) {
	f := newDispatcherFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), "intent-1", 0, 30110, []byte("payload"), big.NewInt(49), nil)
	assert.ErrorIs(t, err, ErrInsufficientFee)
	assert.Zero(t, f.transport.sent)
}

func TestDispatchIdempotency(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	_, err := f.dispatcher.Dispatch(ctx, "intent-1", 0, 30110, []byte("payload"), big.NewInt(50), nil)
	require.NoError(t, err)

	t.Run("same nonce rejected", func(t *testing.T) {
		_, err := f.dispatcher.Dispatch(ctx, "intent-1", 0, 30110, []byte("payload"), big.NewInt(50), nil)
		assert.ErrorIs(t, err, ErrDuplicateMessage)
		assert.Equal(t, 1, f.transport.sent)
	})

	t.Run("next nonce accepted", func(t *testing.T) {
		_, err := f.dispatcher.Dispatch(ctx, "intent-1", 1, 30110, []byte("payload"), big.NewInt(50), nil)
		assert.NoError(t, err)
	})
}

func TestDispatchFailsAtomically(t *testing.T) {
	f := newDispatcherFixture(t)
	f.transport.sendErr = errors.New("endpoint unreachable")

	_, err := f.dispatcher.Dispatch(context.Background(), "intent-1", 0, 30110, []byte("payload"), big.NewInt(50), nil)
	require.Error(t, err)

	// No record persisted: the same nonce can be retried blindly.
	f.transport.sendErr = nil
	_, err = f.dispatcher.Dispatch(context.Background(), "intent-1", 0, 30110, []byte("payload"), big.NewInt(50), nil)
	assert.NoError(t, err)
}

func TestMarkDeliveredFiresDeferredRelease(t *testing.T) {
	f := newDispatcherFixture(t)

	id, err := f.dispatcher.Dispatch(context.Background(), "intent-1", 0, 30110, []byte("payload"), big.NewInt(50), &payout)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.MarkDelivered(id))

	receipt, ok := f.ledger.ReceiptFor("intent-1")
	require.True(t, ok)
	assert.Equal(t, models.ReceiptRelease, receipt.Kind)
	assert.Equal(t, payout, receipt.To)

	t.Run("second confirmation rejected", func(t *testing.T) {
		assert.ErrorIs(t, f.dispatcher.MarkDelivered(id), ErrNotPending)
	})
}

func TestMarkDeliveredKeepsObligationWhenReleaseFails(t *testing.T) {
	f := newDispatcherFixture(t)

	id, err := f.dispatcher.Dispatch(context.Background(), "intent-1", 0, 30110, []byte("payload"), big.NewInt(50), &payout)
	require.NoError(t, err)

	// Revoke the dispatcher's releaser grant so the deferred release fails.
	require.NoError(t, f.ledger.RevokeReleaser(governance, escrow.ReleaserCrossChainDispatcher))
	require.Error(t, f.dispatcher.MarkDelivered(id))

	msg, err := f.dispatcher.Message(id)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, msg.Status)

	entry, err := f.ledger.Entry("intent-1")
	require.NoError(t, err)
	assert.False(t, entry.Released)

	// Once the grant is back, the retried confirmation must still pay out.
	require.NoError(t, f.ledger.AuthorizeReleaser(governance, escrow.ReleaserCrossChainDispatcher))
	require.NoError(t, f.dispatcher.MarkDelivered(id))

	receipt, ok := f.ledger.ReceiptFor("intent-1")
	require.True(t, ok)
	assert.Equal(t, payout, receipt.To)
}

func TestMarkDeliveredWithoutArmedRelease(t *testing.T) {
	f := newDispatcherFixture(t)

	id, err := f.dispatcher.Dispatch(context.Background(), "intent-1", 0, 30110, []byte("payload"), big.NewInt(50), nil)
	require.NoError(t, err)
	require.NoError(t, f.dispatcher.MarkDelivered(id))

	// Escrow untouched when no payout was armed.
	_, ok := f.ledger.ReceiptFor("intent-1")
	assert.False(t, ok)
}

func TestMarkFailedLeavesEscrowLocked(t *testing.T) {
	f := newDispatcherFixture(t)

	id, err := f.dispatcher.Dispatch(context.Background(), "intent-1", 0, 30110, []byte("payload"), big.NewInt(50), &payout)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.MarkFailed(id, "destination reverted"))

	msg, err := f.dispatcher.Message(id)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, msg.Status)
	assert.Equal(t, "destination reverted", msg.FailReason)

	// The obligation is dropped, not paid out.
	entry, err := f.ledger.Entry("intent-1")
	require.NoError(t, err)
	assert.False(t, entry.Released)

	t.Run("delivered after failed rejected", func(t *testing.T) {
		assert.ErrorIs(t, f.dispatcher.MarkDelivered(id), ErrNotPending)
	})
}

func TestMarkUnknownMessage(t *testing.T) {
	f := newDispatcherFixture(t)

	assert.ErrorIs(t, f.dispatcher.MarkDelivered(common.HexToHash("0x1")), ErrNoSuchMessage)
	assert.ErrorIs(t, f.dispatcher.MarkFailed(common.HexToHash("0x1"), "x"), ErrNoSuchMessage)
}

func TestMessagesForOrderedBySendTime(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	_, err := f.dispatcher.Dispatch(ctx, "intent-1", 0, 30110, []byte("a"), big.NewInt(50), nil)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = f.dispatcher.Dispatch(ctx, "intent-1", 1, 30111, []byte("b"), big.NewInt(50), nil)
	require.NoError(t, err)

	msgs := f.dispatcher.MessagesFor("intent-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(0), msgs[0].Nonce)
	assert.Equal(t, uint64(1), msgs[1].Nonce)

	assert.Empty(t, f.dispatcher.MessagesFor("intent-2"))
}

func TestEndpointIDTable(t *testing.T) {
	assert.Equal(t, uint32(30101), EndpointID(1))
	assert.Equal(t, uint32(30110), EndpointID(42161))
	assert.Equal(t, uint32(30184), EndpointID(8453))
	assert.Zero(t, EndpointID(999999))
}

func TestDispatchRejectsUnsupportedDestination(t *testing.T) {
	f := newDispatcherFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), "intent-1", 0, 12345, []byte("payload"), big.NewInt(50), nil)
	assert.ErrorIs(t, err, ErrUnsupportedDestination)
	assert.Zero(t, f.transport.sent)
}
