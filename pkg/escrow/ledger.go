package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/metrics"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

var (
	// ErrAmountMismatch means the funds transferred do not equal the declared amount
	ErrAmountMismatch = errors.New("transferred funds do not match amount")
	// ErrEntryExists means an escrow entry was already created for the intent
	ErrEntryExists = errors.New("escrow entry already exists")
	// ErrNoSuchEntry means no escrow entry is known for the intent
	ErrNoSuchEntry = errors.New("escrow entry not found")
	// ErrAlreadyReleased means the entry's funds already left custody
	ErrAlreadyReleased = errors.New("escrow already released")
	// ErrNotAuthorized means the calling principal is not in the releaser set
	ErrNotAuthorized = errors.New("caller is not an authorized releaser")
	// ErrNotGovernance means the caller is not the governance principal
	ErrNotGovernance = errors.New("caller is not governance")
)

// Releaser is a closed set of principals allowed to move escrowed funds.
// The set of legitimate callers is small and fixed per deployment, so it is
// a tagged enum rather than an open-ended authorization string.
type Releaser int

const (
	// ReleaserIntentRegistry releases on selection and refunds on cancellation
	ReleaserIntentRegistry Releaser = iota + 1
	// ReleaserCrossChainDispatcher releases after a deferred cross-chain dispatch succeeds
	ReleaserCrossChainDispatcher
)

func (r Releaser) String() string {
	switch r {
	case ReleaserIntentRegistry:
		return "intent-registry"
	case ReleaserCrossChainDispatcher:
		return "cross-chain-dispatcher"
	default:
		return "unknown"
	}
}

// Ledger custodies per-intent funds. It is the only component permitted to
// move balances: release and refund are mutually exclusive and each fires at
// most once per intent. The released flag flips in the same critical section
// as the receipt write, so there is no observable state where funds moved but
// the flag is still false.
type Ledger struct {
	mu         sync.Mutex
	governance common.Address
	entries    map[string]*models.EscrowEntry
	receipts   map[string]models.Receipt
	releasers  map[Releaser]bool
	logger     logger.Logger
}

// NewLedger creates an empty escrow ledger owned by the governance principal.
func NewLedger(governance common.Address, log logger.Logger) *Ledger {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Ledger{
		governance: governance,
		entries:    make(map[string]*models.EscrowEntry),
		receipts:   make(map[string]models.Receipt),
		releasers:  make(map[Releaser]bool),
		logger:     log,
	}
}

// Lock creates the escrow entry for an intent. Called exactly once per intent
// at creation time; funded must equal the declared amount.
func (l *Ledger) Lock(intentID string, creator common.Address, amount, funded *big.Int, token common.Address) (models.EscrowEntry, error) {
	if amount == nil || amount.Sign() <= 0 {
		return models.EscrowEntry{}, fmt.Errorf("lock %s: amount must be positive", intentID)
	}
	if funded == nil || funded.Cmp(amount) != 0 {
		return models.EscrowEntry{}, fmt.Errorf("lock %s: %w", intentID, ErrAmountMismatch)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[intentID]; exists {
		return models.EscrowEntry{}, fmt.Errorf("lock %s: %w", intentID, ErrEntryExists)
	}

	entry := &models.EscrowEntry{
		IntentID: intentID,
		Creator:  creator,
		Amount:   new(big.Int).Set(amount),
		Token:    token,
		Released: false,
		LockedAt: time.Now(),
	}
	l.entries[intentID] = entry

	l.logger.Info(logger.Escrow, "Locked %s of token %s for intent %s", amount.String(), token.Hex(), intentID)
	metrics.EscrowLockedValue.Add(float64fromBig(amount))
	return *entry, nil
}

// AuthorizeReleaser adds a principal to the releaser set. Governance-only.
func (l *Ledger) AuthorizeReleaser(caller common.Address, r Releaser) error {
	if caller != l.governance {
		return fmt.Errorf("authorize releaser %s: %w", r, ErrNotGovernance)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.releasers[r] = true
	l.logger.Info(logger.Escrow, "Authorized releaser %s", r)
	return nil
}

// RevokeReleaser removes a principal from the releaser set. Governance-only.
func (l *Ledger) RevokeReleaser(caller common.Address, r Releaser) error {
	if caller != l.governance {
		return fmt.Errorf("revoke releaser %s: %w", r, ErrNotGovernance)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.releasers, r)
	l.logger.Notice(logger.Escrow, "Revoked releaser %s", r)
	return nil
}

// Release transfers the escrowed funds to the selected agent's payout address.
// Callable only by an authorized releaser; fires at most once per intent.
func (l *Ledger) Release(by Releaser, intentID string, to common.Address) (models.Receipt, error) {
	return l.settle(by, intentID, models.ReceiptRelease, &to)
}

// Refund returns the escrowed funds to the original creator. Same single-use
// guarantee as Release; the registry only calls it once the intent is cancelled.
func (l *Ledger) Refund(by Releaser, intentID string) (models.Receipt, error) {
	return l.settle(by, intentID, models.ReceiptRefund, nil)
}

// settle is the single code path through which funds leave custody.
func (l *Ledger) settle(by Releaser, intentID string, kind models.ReceiptKind, to *common.Address) (models.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.releasers[by] {
		return models.Receipt{}, fmt.Errorf("%s %s by %s: %w", kind, intentID, by, ErrNotAuthorized)
	}

	entry, ok := l.entries[intentID]
	if !ok {
		return models.Receipt{}, fmt.Errorf("%s %s: %w", kind, intentID, ErrNoSuchEntry)
	}
	if entry.Released {
		return models.Receipt{}, fmt.Errorf("%s %s: %w", kind, intentID, ErrAlreadyReleased)
	}

	target := entry.Creator
	if to != nil {
		target = *to
	}

	// Flag flip and receipt write happen atomically under the ledger lock.
	entry.Released = true
	receipt := models.Receipt{
		ID:       uuid.NewString(),
		IntentID: intentID,
		Kind:     kind,
		To:       target,
		Amount:   new(big.Int).Set(entry.Amount),
		Token:    entry.Token,
		At:       time.Now(),
	}
	l.receipts[intentID] = receipt

	l.logger.Notice(logger.Escrow, "%s of %s for intent %s to %s (by %s)",
		kind, entry.Amount.String(), intentID, target.Hex(), by)
	metrics.EscrowReleases.WithLabelValues(string(kind)).Inc()
	metrics.EscrowLockedValue.Sub(float64fromBig(entry.Amount))
	return receipt, nil
}

// Entry returns a copy of the escrow entry for an intent.
func (l *Ledger) Entry(intentID string) (models.EscrowEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[intentID]
	if !ok {
		return models.EscrowEntry{}, fmt.Errorf("entry %s: %w", intentID, ErrNoSuchEntry)
	}
	cp := *entry
	cp.Amount = new(big.Int).Set(entry.Amount)
	return cp, nil
}

// ReceiptFor returns the settlement receipt for an intent, if any.
func (l *Ledger) ReceiptFor(intentID string) (models.Receipt, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	receipt, ok := l.receipts[intentID]
	return receipt, ok
}

// LockedValue sums the amounts still held in custody.
func (l *Ledger) LockedValue() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := new(big.Int)
	for _, entry := range l.entries {
		if !entry.Released {
			total.Add(total, entry.Amount)
		}
	}
	return total
}

func float64fromBig(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
