package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Proposal is a signed, agent-submitted candidate strategy for an intent.
// Immutable once recorded by the auction coordinator.
type Proposal struct {
	ID              string      `json:"id"`
	IntentID        string      `json:"intent_id"`
	AgentID         uint64      `json:"agent_id"`
	StrategyHash    common.Hash `json:"strategy_hash"`
	ExpectedCost    *big.Int    `json:"expected_cost"`
	ExpectedAPY     float64     `json:"expected_apy"`
	TimelineSeconds int64       `json:"timeline_seconds"`
	Confidence      float64     `json:"confidence"`
	Signature       []byte      `json:"signature"`
	ProofID         string      `json:"proof_id"`
	DstSelector     uint32      `json:"dst_selector,omitempty"` // nonzero when the strategy executes on another chain
	SubmittedAt     time.Time   `json:"submitted_at"`
}
