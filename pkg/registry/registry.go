package registry

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/intentmesh-hq/auctioneer/pkg/escrow"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/metrics"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

var (
	// ErrNoSuchIntent means the intent id is unknown
	ErrNoSuchIntent = errors.New("intent not found")
	// ErrNotOpen means the intent is not in the open state
	ErrNotOpen = errors.New("intent is not open")
	// ErrNotBidding means the intent is not accepting proposals or selections
	ErrNotBidding = errors.New("intent is not bidding")
	// ErrNotExecuting means the intent is not in the executing state
	ErrNotExecuting = errors.New("intent is not executing")
	// ErrAlreadySelected means an agent was already selected for the intent
	ErrAlreadySelected = errors.New("agent already selected")
	// ErrUnknownProposal means the proposal does not belong to the intent
	ErrUnknownProposal = errors.New("proposal does not belong to intent")
	// ErrDeadlineTooSoon means the deadline is before now+minWindow
	ErrDeadlineTooSoon = errors.New("deadline too soon")
	// ErrDeadlineTooFar means the deadline is after now+maxWindow
	ErrDeadlineTooFar = errors.New("deadline too far")
	// ErrDeadlinePassed means the operation arrived after the intent deadline
	ErrDeadlinePassed = errors.New("intent deadline has passed")
	// ErrCancelNotAllowed means neither cancellation condition holds
	ErrCancelNotAllowed = errors.New("cancellation not allowed")
)

// ProposalSource resolves a proposal by intent and proposal id. Satisfied by
// the auction coordinator; the registry never owns proposal records.
type ProposalSource interface {
	Proposal(intentID, proposalID string) (models.Proposal, bool)
}

// AgentSource resolves agent records and reputation updates. Satisfied by the
// agent directory.
type AgentSource interface {
	Get(agentID uint64) (models.Agent, error)
	AdjustReputation(agentID uint64, delta int64) error
}

// Registry owns the intent table and its status state machine:
//
//	open -> bidding -> executing -> {completed | disputed}
//	open | bidding -> cancelled
//
// Every transition is a check-and-set under the registry lock, so two
// concurrent callers can never both observe the precondition state.
type Registry struct {
	mu        sync.Mutex
	intents   map[string]*models.Intent
	ledger    *escrow.Ledger
	proposals ProposalSource
	agents    AgentSource
	minWindow time.Duration
	maxWindow time.Duration
	logger    logger.Logger
	now       func() time.Time
}

// NewRegistry creates an intent registry backed by the given escrow ledger.
// The proposal source is attached later with SetProposalSource since the
// coordinator needs the registry first.
func NewRegistry(ledger *escrow.Ledger, agents AgentSource, minWindow, maxWindow time.Duration, log logger.Logger) *Registry {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Registry{
		intents:   make(map[string]*models.Intent),
		ledger:    ledger,
		agents:    agents,
		minWindow: minWindow,
		maxWindow: maxWindow,
		logger:    log,
		now:       time.Now,
	}
}

// SetProposalSource wires the auction coordinator in after construction.
func (r *Registry) SetProposalSource(src ProposalSource) {
	r.proposals = src
}

// SetClock overrides the registry clock, used by tests to move time.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Create validates the deadline window, locks the funds into escrow and
// records the intent in the open state.
func (r *Registry) Create(creator common.Address, specHash common.Hash, proofID string, amount, funded *big.Int, token common.Address, deadline time.Time) (models.Intent, error) {
	now := r.now()
	if amount == nil || amount.Sign() <= 0 {
		return models.Intent{}, fmt.Errorf("create intent: amount must be positive")
	}
	if deadline.Before(now.Add(r.minWindow)) {
		return models.Intent{}, fmt.Errorf("create intent: %w", ErrDeadlineTooSoon)
	}
	if deadline.After(now.Add(r.maxWindow)) {
		return models.Intent{}, fmt.Errorf("create intent: %w", ErrDeadlineTooFar)
	}

	id := uuid.NewString()
	if _, err := r.ledger.Lock(id, creator, amount, funded, token); err != nil {
		return models.Intent{}, fmt.Errorf("create intent: %w", err)
	}

	intent := &models.Intent{
		ID:        id,
		Creator:   creator,
		SpecHash:  specHash,
		ProofID:   proofID,
		Amount:    new(big.Int).Set(amount),
		Token:     token,
		Status:    models.StatusOpen,
		Deadline:  deadline,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.intents[id] = intent
	r.mu.Unlock()

	r.logger.Info(logger.Registry, "Created intent %s (creator: %s, amount: %s, deadline: %s)",
		id, creator.Hex(), amount.String(), deadline.Format(time.RFC3339))
	metrics.IntentsCreated.Inc()
	metrics.OpenIntents.Inc()
	return *intent, nil
}

// StartBidding transitions open -> bidding. Fails once the deadline passed.
func (r *Registry) StartBidding(intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[intentID]
	if !ok {
		return fmt.Errorf("start bidding %s: %w", intentID, ErrNoSuchIntent)
	}
	if intent.Status != models.StatusOpen {
		return fmt.Errorf("start bidding %s (status %s): %w", intentID, intent.Status, ErrNotOpen)
	}
	if intent.Expired(r.now()) {
		return fmt.Errorf("start bidding %s: %w", intentID, ErrDeadlinePassed)
	}

	r.transition(intent, models.StatusBidding)
	r.logger.Info(logger.Registry, "Intent %s is now bidding", intentID)
	return nil
}

// SelectAgent transitions bidding -> executing and marks the winning agent as
// the sole releasable party. The status check and flip happen in one critical
// section, so the first caller to observe bidding wins and all others fail.
//
// When the winning strategy executes on another chain, the escrow release is
// deferred until the cross-chain dispatch succeeds; the returned flag reports
// that case so the caller knows to dispatch.
func (r *Registry) SelectAgent(intentID, proposalID string) (models.Intent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[intentID]
	if !ok {
		return models.Intent{}, false, fmt.Errorf("select agent %s: %w", intentID, ErrNoSuchIntent)
	}
	if intent.Status != models.StatusBidding {
		if intent.SelectedAgentID != 0 {
			return models.Intent{}, false, fmt.Errorf("select agent %s: %w", intentID, ErrAlreadySelected)
		}
		return models.Intent{}, false, fmt.Errorf("select agent %s (status %s): %w", intentID, intent.Status, ErrNotBidding)
	}

	proposal, ok := r.proposals.Proposal(intentID, proposalID)
	if !ok {
		return models.Intent{}, false, fmt.Errorf("select agent %s: proposal %s: %w", intentID, proposalID, ErrUnknownProposal)
	}

	agent, err := r.agents.Get(proposal.AgentID)
	if err != nil {
		return models.Intent{}, false, fmt.Errorf("select agent %s: %w", intentID, err)
	}

	r.transition(intent, models.StatusExecuting)
	intent.SelectedAgentID = proposal.AgentID

	deferred := proposal.DstSelector != 0
	if !deferred {
		if _, err := r.ledger.Release(escrow.ReleaserIntentRegistry, intentID, agent.Address); err != nil {
			// No partial writes: undo the flip before surfacing the error.
			r.transition(intent, models.StatusBidding)
			intent.SelectedAgentID = 0
			return models.Intent{}, false, fmt.Errorf("select agent %s: %w", intentID, err)
		}
	}

	r.logger.Notice(logger.Registry, "Intent %s selected agent %d via proposal %s (deferred release: %v)",
		intentID, proposal.AgentID, proposalID, deferred)
	metrics.SelectionTime.Observe(r.now().Sub(intent.CreatedAt).Seconds())
	return *intent, deferred, nil
}

// Complete transitions executing -> completed and stores the execution proof.
// The winning agent is credited one reputation point.
func (r *Registry) Complete(intentID, executionProof string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[intentID]
	if !ok {
		return fmt.Errorf("complete %s: %w", intentID, ErrNoSuchIntent)
	}
	if intent.Status != models.StatusExecuting {
		return fmt.Errorf("complete %s (status %s): %w", intentID, intent.Status, ErrNotExecuting)
	}

	r.transition(intent, models.StatusCompleted)
	intent.ExecutionProof = executionProof
	metrics.OpenIntents.Dec()

	if err := r.agents.AdjustReputation(intent.SelectedAgentID, 1); err != nil {
		r.logger.Error(logger.Registry, "Failed to credit agent %d for intent %s: %v", intent.SelectedAgentID, intentID, err)
	}
	r.logger.Notice(logger.Registry, "Intent %s completed with proof %s", intentID, executionProof)
	return nil
}

// Dispute transitions executing -> disputed. Terminal until an external
// arbitration process resolves it; escrow is left as-is.
func (r *Registry) Dispute(intentID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[intentID]
	if !ok {
		return fmt.Errorf("dispute %s: %w", intentID, ErrNoSuchIntent)
	}
	if intent.Status != models.StatusExecuting {
		return fmt.Errorf("dispute %s (status %s): %w", intentID, intent.Status, ErrNotExecuting)
	}

	r.transition(intent, models.StatusDisputed)
	intent.DisputeReason = reason
	metrics.OpenIntents.Dec()

	if err := r.agents.AdjustReputation(intent.SelectedAgentID, -1); err != nil {
		r.logger.Error(logger.Registry, "Failed to debit agent %d for intent %s: %v", intent.SelectedAgentID, intentID, err)
	}
	r.logger.Notice(logger.Registry, "Intent %s disputed: %s", intentID, reason)
	return nil
}

// Cancel transitions open|bidding -> cancelled and refunds the creator.
// Anyone may cancel once the deadline passed with no agent selected; the
// creator may also withdraw explicitly while the intent is still open.
func (r *Registry) Cancel(intentID string, caller common.Address) (models.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[intentID]
	if !ok {
		return models.Receipt{}, fmt.Errorf("cancel %s: %w", intentID, ErrNoSuchIntent)
	}
	if intent.Status != models.StatusOpen && intent.Status != models.StatusBidding {
		return models.Receipt{}, fmt.Errorf("cancel %s (status %s): %w", intentID, intent.Status, ErrCancelNotAllowed)
	}

	expired := intent.Expired(r.now()) && intent.SelectedAgentID == 0
	creatorWithdraw := caller == intent.Creator && intent.Status == models.StatusOpen
	if !expired && !creatorWithdraw {
		return models.Receipt{}, fmt.Errorf("cancel %s: %w", intentID, ErrCancelNotAllowed)
	}

	prev := intent.Status
	r.transition(intent, models.StatusCancelled)

	receipt, err := r.ledger.Refund(escrow.ReleaserIntentRegistry, intentID)
	if err != nil {
		// No partial writes: undo the flip before surfacing the error.
		r.transition(intent, prev)
		return models.Receipt{}, fmt.Errorf("cancel %s: %w", intentID, err)
	}
	metrics.OpenIntents.Dec()

	r.logger.Notice(logger.Registry, "Intent %s cancelled, refunded %s to %s", intentID, receipt.Amount.String(), receipt.To.Hex())
	return receipt, nil
}

// AppendCrossChainRef records a dispatched message id against the intent.
// This is the only mutation allowed after an intent reaches a terminal state.
func (r *Registry) AppendCrossChainRef(intentID string, ref common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[intentID]
	if !ok {
		return fmt.Errorf("append ref %s: %w", intentID, ErrNoSuchIntent)
	}
	intent.CrossChainRefs = append(intent.CrossChainRefs, ref)
	intent.UpdatedAt = r.now()
	return nil
}

// Get returns a copy of the intent record.
func (r *Registry) Get(intentID string) (models.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[intentID]
	if !ok {
		return models.Intent{}, fmt.Errorf("get %s: %w", intentID, ErrNoSuchIntent)
	}
	return copyIntent(intent), nil
}

// List returns intents newest first, optionally filtered by creator.
func (r *Registry) List(creator *common.Address) []models.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Intent, 0, len(r.intents))
	for _, intent := range r.intents {
		if creator != nil && intent.Creator != *creator {
			continue
		}
		out = append(out, copyIntent(intent))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListByStatus returns intents currently in the given status, newest first.
func (r *Registry) ListByStatus(status models.IntentStatus) []models.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Intent
	for _, intent := range r.intents {
		if intent.Status == status {
			out = append(out, copyIntent(intent))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// transition flips the status and records the edge. Caller holds r.mu.
func (r *Registry) transition(intent *models.Intent, to models.IntentStatus) {
	metrics.IntentTransitions.WithLabelValues(string(intent.Status), string(to)).Inc()
	intent.Status = to
	intent.UpdatedAt = r.now()
}

func copyIntent(intent *models.Intent) models.Intent {
	cp := *intent
	cp.Amount = new(big.Int).Set(intent.Amount)
	if len(intent.CrossChainRefs) > 0 {
		cp.CrossChainRefs = append([]common.Hash(nil), intent.CrossChainRefs...)
	}
	return cp
}
