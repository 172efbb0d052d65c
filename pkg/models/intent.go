package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// IntentStatus represents the lifecycle state of an intent
type IntentStatus string

const (
	// StatusOpen is the initial state after creation, funds locked
	StatusOpen IntentStatus = "open"
	// StatusBidding means the auction is accepting proposals
	StatusBidding IntentStatus = "bidding"
	// StatusExecuting means an agent was selected and is executing the strategy
	StatusExecuting IntentStatus = "executing"
	// StatusCompleted is a terminal state with an execution proof stored
	StatusCompleted IntentStatus = "completed"
	// StatusDisputed is terminal pending an external arbitration process
	StatusDisputed IntentStatus = "disputed"
	// StatusCancelled is terminal, escrow refunded to the creator
	StatusCancelled IntentStatus = "cancelled"
)

// Intent represents a funded user request with a deadline
type Intent struct {
	ID              string         `json:"id"`
	Creator         common.Address `json:"creator"`
	SpecHash        common.Hash    `json:"spec_hash"`
	ProofID         string         `json:"proof_id"`
	Amount          *big.Int       `json:"amount"`
	Token           common.Address `json:"token"`
	Status          IntentStatus   `json:"status"`
	Deadline        time.Time      `json:"deadline"`
	SelectedAgentID uint64         `json:"selected_agent_id,omitempty"` // zero until selection
	ExecutionProof  string         `json:"execution_proof,omitempty"`
	DisputeReason   string         `json:"dispute_reason,omitempty"`
	CrossChainRefs  []common.Hash  `json:"cross_chain_refs,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Terminal returns true if the intent can no longer change state
func (i *Intent) Terminal() bool {
	switch i.Status {
	case StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Expired returns true if the intent deadline has passed at the given time
func (i *Intent) Expired(now time.Time) bool {
	return now.After(i.Deadline)
}
