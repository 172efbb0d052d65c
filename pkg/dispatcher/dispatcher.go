package dispatcher

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/intentmesh-hq/auctioneer/pkg/chains"
	"github.com/intentmesh-hq/auctioneer/pkg/circuitbreaker"
	"github.com/intentmesh-hq/auctioneer/pkg/escrow"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/metrics"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

var (
	// ErrInsufficientFee means the provided fee is below the transport quote
	ErrInsufficientFee = errors.New("fee below quote")
	// ErrDuplicateMessage means a message with the same (intentID, nonce) was already recorded
	ErrDuplicateMessage = errors.New("duplicate message")
	// ErrNoSuchMessage means the message id is unknown
	ErrNoSuchMessage = errors.New("message not found")
	// ErrUnsupportedDestination means the destination endpoint id is not in the chain table
	ErrUnsupportedDestination = errors.New("unsupported destination endpoint")
	// ErrNotPending means the message already reached a delivery outcome
	ErrNotPending = errors.New("message is not pending")
	// ErrTransportUnavailable means the circuit breaker is open for the transport
	ErrTransportUnavailable = errors.New("transport circuit breaker open")
)

// MessageID derives the idempotency key for a message:
// keccak256(intentID, nonce). Replays with the same pair map to the same id
// and are rejected instead of re-sent.
func MessageID(intentID string, nonce uint64) common.Hash {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return crypto.Keccak256Hash([]byte(intentID), nonceBytes[:])
}

// Dispatcher constructs and tracks cross-chain execution messages. It never
// owns funds: the only escrow interaction is the deferred release it performs
// on behalf of the registry once a leg is confirmed delivered.
type Dispatcher struct {
	mu        sync.Mutex
	transport Transport
	ledger    *escrow.Ledger
	messages  map[common.Hash]*models.CrossChainMessage
	inflight  map[common.Hash]bool
	payouts   map[common.Hash]common.Address
	breaker   *circuitbreaker.CircuitBreaker
	logger    logger.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher over the given transport. The escrow
// ledger handles deferred releases; breaker may be nil to disable guarding.
func NewDispatcher(transport Transport, ledger *escrow.Ledger, breaker *circuitbreaker.CircuitBreaker, log logger.Logger) *Dispatcher {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(false, 0, 0, 0)
	}
	return &Dispatcher{
		transport: transport,
		ledger:    ledger,
		messages:  make(map[common.Hash]*models.CrossChainMessage),
		inflight:  make(map[common.Hash]bool),
		payouts:   make(map[common.Hash]common.Address),
		breaker:   breaker,
		logger:    log,
		now:       time.Now,
	}
}

// QuoteFee returns the transport fee for a payload. Pure read, never mutates
// dispatcher state.
func (d *Dispatcher) QuoteFee(ctx context.Context, dst uint32, payload []byte) (*big.Int, error) {
	if d.breaker.IsOpen() {
		return nil, fmt.Errorf("quote fee for dst %d: %w", dst, ErrTransportUnavailable)
	}
	fee, err := d.transport.Quote(ctx, dst, payload)
	if err != nil {
		d.breaker.RecordFailure()
		return nil, fmt.Errorf("quote fee for dst %d: %v", dst, err)
	}
	return fee, nil
}

// Dispatch sends an execution message and durably records it as pending.
// The fee must cover the current quote. On transport failure the call fails
// atomically: no record persists, and the caller may retry blindly because
// the message id is idempotent.
//
// releaseTo, when set, arms a deferred escrow release to that payout address,
// fired on delivery confirmation.
func (d *Dispatcher) Dispatch(ctx context.Context, intentID string, nonce uint64, dst uint32, payload []byte, feeProvided *big.Int, releaseTo *common.Address) (common.Hash, error) {
	if d.breaker.IsOpen() {
		return common.Hash{}, fmt.Errorf("dispatch %s: %w", intentID, ErrTransportUnavailable)
	}
	if !chains.IsSupportedEndpoint(dst) {
		return common.Hash{}, fmt.Errorf("dispatch %s to %d: %w", intentID, dst, ErrUnsupportedDestination)
	}

	quote, err := d.transport.Quote(ctx, dst, payload)
	if err != nil {
		d.breaker.RecordFailure()
		return common.Hash{}, fmt.Errorf("dispatch %s: quote failed: %v", intentID, err)
	}
	if feeProvided == nil || feeProvided.Cmp(quote) < 0 {
		return common.Hash{}, fmt.Errorf("dispatch %s: provided %s, quoted %s: %w",
			intentID, feeProvided.String(), quote.String(), ErrInsufficientFee)
	}

	id := MessageID(intentID, nonce)

	// Reserve the id before touching the transport so a concurrent replay
	// with the same (intentID, nonce) fails instead of double-sending.
	d.mu.Lock()
	if _, exists := d.messages[id]; exists {
		d.mu.Unlock()
		return common.Hash{}, fmt.Errorf("dispatch %s nonce %d: %w", intentID, nonce, ErrDuplicateMessage)
	}
	if d.inflight[id] {
		d.mu.Unlock()
		return common.Hash{}, fmt.Errorf("dispatch %s nonce %d: %w", intentID, nonce, ErrDuplicateMessage)
	}
	d.inflight[id] = true
	d.mu.Unlock()

	receipt, err := d.transport.Send(ctx, dst, payload, feeProvided)

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)

	if err != nil {
		d.breaker.RecordFailure()
		return common.Hash{}, fmt.Errorf("dispatch %s: send failed: %v", intentID, err)
	}

	d.messages[id] = &models.CrossChainMessage{
		ID:          id,
		IntentID:    intentID,
		Nonce:       nonce,
		DstSelector: dst,
		Payload:     append([]byte(nil), payload...),
		FeePaid:     new(big.Int).Set(feeProvided),
		Status:      models.DeliveryPending,
		SentAt:      d.now(),
	}
	if releaseTo != nil {
		d.payouts[id] = *releaseTo
	}

	d.logger.Info(logger.Dispatcher, "Dispatched message %s for intent %s (dst: %d, fee: %s, receipt: %s)",
		id.Hex(), intentID, dst, feeProvided.String(), receipt)
	dstLabel := strconv.FormatUint(uint64(dst), 10)
	metrics.MessagesDispatched.WithLabelValues(dstLabel).Inc()
	metrics.DispatchFees.WithLabelValues(dstLabel).Observe(float64fromBig(feeProvided))
	return id, nil
}

// MarkDelivered transitions a pending message to delivered and fires the
// deferred escrow release if one was armed at dispatch time.
func (d *Dispatcher) MarkDelivered(messageID common.Hash) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	msg, ok := d.messages[messageID]
	if !ok {
		return fmt.Errorf("mark delivered %s: %w", messageID.Hex(), ErrNoSuchMessage)
	}
	if msg.Status != models.DeliveryPending {
		return fmt.Errorf("mark delivered %s (status %s): %w", messageID.Hex(), msg.Status, ErrNotPending)
	}

	// Fire the deferred release before touching any state. The armed
	// payout must survive a failed release so a retried confirmation
	// still carries the obligation.
	if payout, armed := d.payouts[messageID]; armed {
		if _, err := d.ledger.Release(escrow.ReleaserCrossChainDispatcher, msg.IntentID, payout); err != nil {
			return fmt.Errorf("mark delivered %s: deferred release failed: %w", messageID.Hex(), err)
		}
		delete(d.payouts, messageID)
		d.logger.Notice(logger.Dispatcher, "Deferred release fired for intent %s to %s", msg.IntentID, payout.Hex())
	}

	msg.Status = models.DeliveryDelivered
	metrics.MessageDeliveries.WithLabelValues(strconv.FormatUint(uint64(msg.DstSelector), 10), "delivered").Inc()

	d.logger.Info(logger.Dispatcher, "Message %s delivered", messageID.Hex())
	return nil
}

// MarkFailed transitions a pending message to failed. A failed leg leaves
// escrow untouched: the deferred release obligation is dropped and resolving
// the funds requires a manual dispute.
func (d *Dispatcher) MarkFailed(messageID common.Hash, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	msg, ok := d.messages[messageID]
	if !ok {
		return fmt.Errorf("mark failed %s: %w", messageID.Hex(), ErrNoSuchMessage)
	}
	if msg.Status != models.DeliveryPending {
		return fmt.Errorf("mark failed %s (status %s): %w", messageID.Hex(), msg.Status, ErrNotPending)
	}

	msg.Status = models.DeliveryFailed
	msg.FailReason = reason
	metrics.MessageDeliveries.WithLabelValues(strconv.FormatUint(uint64(msg.DstSelector), 10), "failed").Inc()

	if _, armed := d.payouts[messageID]; armed {
		delete(d.payouts, messageID)
		d.logger.Error(logger.Dispatcher, "Message %s failed with deferred release armed; escrow for intent %s needs a manual dispute",
			messageID.Hex(), msg.IntentID)
	}

	d.logger.Notice(logger.Dispatcher, "Message %s failed: %s", messageID.Hex(), reason)
	return nil
}

// Message returns a copy of the tracked message.
func (d *Dispatcher) Message(messageID common.Hash) (models.CrossChainMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	msg, ok := d.messages[messageID]
	if !ok {
		return models.CrossChainMessage{}, fmt.Errorf("message %s: %w", messageID.Hex(), ErrNoSuchMessage)
	}
	return copyMessage(msg), nil
}

// MessagesFor returns the tracked messages for an intent, oldest first.
func (d *Dispatcher) MessagesFor(intentID string) []models.CrossChainMessage {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []models.CrossChainMessage
	for _, msg := range d.messages {
		if msg.IntentID == intentID {
			out = append(out, copyMessage(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}

// PendingCount returns the number of messages still awaiting delivery.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, msg := range d.messages {
		if msg.Status == models.DeliveryPending {
			count++
		}
	}
	return count
}

func copyMessage(msg *models.CrossChainMessage) models.CrossChainMessage {
	cp := *msg
	cp.FeePaid = new(big.Int).Set(msg.FeePaid)
	cp.Payload = append([]byte(nil), msg.Payload...)
	return cp
}

func float64fromBig(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
