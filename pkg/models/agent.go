package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Agent represents a registered agent with a stake-backed identity
type Agent struct {
	ID             uint64         `json:"id"`
	IdentityHandle string         `json:"identity_handle"` // ENS-style handle bound at registration
	Address        common.Address `json:"address"`         // signing key address, proposal signatures verify against it
	Stake          *big.Int       `json:"stake"`
	Reputation     int64          `json:"reputation"`
	Specialization string         `json:"specialization"`
	Active         bool           `json:"active"`
	RegisteredAt   time.Time      `json:"registered_at"`
}

// SlashRecord is an append-only audit record of a slashing event
type SlashRecord struct {
	AgentID     uint64    `json:"agent_id"`
	Reason      string    `json:"reason"`
	Penalty     *big.Int  `json:"penalty"`
	Remaining   *big.Int  `json:"remaining"`
	Deactivated bool      `json:"deactivated"`
	At          time.Time `json:"at"`
}
