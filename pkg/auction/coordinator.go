package auction

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/metrics"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

var (
	// ErrIntentNotBidding means the intent is not accepting proposals
	ErrIntentNotBidding = errors.New("intent is not bidding")
	// ErrAgentNotEligible means the submitting agent failed the directory check
	ErrAgentNotEligible = errors.New("agent is not eligible")
	// ErrBadSignature means the proposal signature does not verify against the agent's key
	ErrBadSignature = errors.New("proposal signature does not verify")
	// ErrTimelineExceedsDeadline means the proposed timeline runs past the intent deadline
	ErrTimelineExceedsDeadline = errors.New("timeline exceeds intent deadline")
)

// IntentSource resolves intent records. Satisfied by the intent registry.
type IntentSource interface {
	Get(intentID string) (models.Intent, error)
}

// Eligibility gates proposal submission on the agent directory.
type Eligibility interface {
	IsEligible(agentID uint64) bool
	Get(agentID uint64) (models.Agent, error)
}

// Submission carries the fields of an incoming proposal. The coordinator
// assigns the proposal id and timestamp on acceptance.
type Submission struct {
	IntentID        string
	AgentID         uint64
	StrategyHash    common.Hash
	ExpectedCost    *big.Int
	ExpectedAPY     float64
	TimelineSeconds int64
	Confidence      float64
	Signature       []byte
	ProofID         string
	DstSelector     uint32
}

// Coordinator owns proposal records and the submission checks. Ranking is
// deliberately a caller concern: ListProposals returns submission order and
// the selection decision goes through the registry with any proposal id.
type Coordinator struct {
	mu       sync.Mutex
	intents  IntentSource
	agents   Eligibility
	byIntent map[string][]*models.Proposal
	byID     map[string]*models.Proposal
	logger   logger.Logger
	now      func() time.Time
}

// NewCoordinator creates an auction coordinator over the given intent and
// agent sources.
func NewCoordinator(intents IntentSource, agents Eligibility, log logger.Logger) *Coordinator {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Coordinator{
		intents:  intents,
		agents:   agents,
		byIntent: make(map[string][]*models.Proposal),
		byID:     make(map[string]*models.Proposal),
		logger:   log,
		now:      time.Now,
	}
}

// SetClock overrides the coordinator clock, used by tests to move time.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// SubmitProposal validates and records a proposal. The record is immutable
// once accepted.
func (c *Coordinator) SubmitProposal(sub Submission) (models.Proposal, error) {
	intent, err := c.intents.Get(sub.IntentID)
	if err != nil {
		return models.Proposal{}, fmt.Errorf("submit proposal: %w", err)
	}
	if intent.Status != models.StatusBidding {
		metrics.ProposalsRejected.WithLabelValues("not_bidding").Inc()
		return models.Proposal{}, fmt.Errorf("submit proposal for %s (status %s): %w", sub.IntentID, intent.Status, ErrIntentNotBidding)
	}

	if !c.agents.IsEligible(sub.AgentID) {
		metrics.ProposalsRejected.WithLabelValues("not_eligible").Inc()
		return models.Proposal{}, fmt.Errorf("submit proposal for %s by agent %d: %w", sub.IntentID, sub.AgentID, ErrAgentNotEligible)
	}

	now := c.now()
	remaining := intent.Deadline.Sub(now)
	if time.Duration(sub.TimelineSeconds)*time.Second > remaining {
		metrics.ProposalsRejected.WithLabelValues("timeline").Inc()
		return models.Proposal{}, fmt.Errorf("submit proposal for %s: timeline %ds with %s remaining: %w",
			sub.IntentID, sub.TimelineSeconds, remaining, ErrTimelineExceedsDeadline)
	}

	agent, err := c.agents.Get(sub.AgentID)
	if err != nil {
		return models.Proposal{}, fmt.Errorf("submit proposal for %s: %w", sub.IntentID, err)
	}
	if !VerifyProposal(sub.Signature, sub.IntentID, sub.StrategyHash, sub.ProofID, agent.Address) {
		metrics.ProposalsRejected.WithLabelValues("signature").Inc()
		return models.Proposal{}, fmt.Errorf("submit proposal for %s by agent %d: %w", sub.IntentID, sub.AgentID, ErrBadSignature)
	}

	cost := new(big.Int)
	if sub.ExpectedCost != nil {
		cost.Set(sub.ExpectedCost)
	}
	proposal := &models.Proposal{
		ID:              uuid.NewString(),
		IntentID:        sub.IntentID,
		AgentID:         sub.AgentID,
		StrategyHash:    sub.StrategyHash,
		ExpectedCost:    cost,
		ExpectedAPY:     sub.ExpectedAPY,
		TimelineSeconds: sub.TimelineSeconds,
		Confidence:      sub.Confidence,
		Signature:       append([]byte(nil), sub.Signature...),
		ProofID:         sub.ProofID,
		DstSelector:     sub.DstSelector,
		SubmittedAt:     now,
	}

	c.mu.Lock()
	c.byIntent[sub.IntentID] = append(c.byIntent[sub.IntentID], proposal)
	c.byID[proposal.ID] = proposal
	c.mu.Unlock()

	c.logger.Info(logger.Auction, "Proposal %s recorded for intent %s (agent: %d, APY: %.2f, confidence: %.2f)",
		proposal.ID, sub.IntentID, sub.AgentID, sub.ExpectedAPY, sub.Confidence)
	metrics.ProposalsSubmitted.WithLabelValues(strconv.FormatUint(sub.AgentID, 10)).Inc()
	return *proposal, nil
}

// ListProposals returns the proposals for an intent in submission order.
// Ranking is left to the caller.
func (c *Coordinator) ListProposals(intentID string) []models.Proposal {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := c.byIntent[intentID]
	out := make([]models.Proposal, 0, len(stored))
	for _, p := range stored {
		out = append(out, *p)
	}
	return out
}

// Proposal resolves a proposal by intent and proposal id. This is the lookup
// the registry performs during selection.
func (c *Coordinator) Proposal(intentID, proposalID string) (models.Proposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byID[proposalID]
	if !ok || p.IntentID != intentID {
		return models.Proposal{}, false
	}
	return *p, true
}
