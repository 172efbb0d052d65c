package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DeliveryStatus tracks the asynchronous delivery of a cross-chain message
type DeliveryStatus string

const (
	// DeliveryPending means the message was durably recorded and sent
	DeliveryPending DeliveryStatus = "pending"
	// DeliveryDelivered means the destination confirmed execution
	DeliveryDelivered DeliveryStatus = "delivered"
	// DeliveryFailed means the leg failed; escrow stays untouched
	DeliveryFailed DeliveryStatus = "failed"
)

// CrossChainMessage is an outbound execution message keyed by an
// idempotency hash of (intentID, nonce). Replays with the same pair are
// rejected rather than re-sent.
type CrossChainMessage struct {
	ID          common.Hash    `json:"id"` // keccak256(intentID, nonce)
	IntentID    string         `json:"intent_id"`
	Nonce       uint64         `json:"nonce"`
	DstSelector uint32         `json:"dst_selector"`
	Payload     []byte         `json:"payload"`
	FeePaid     *big.Int       `json:"fee_paid"`
	Status      DeliveryStatus `json:"status"`
	FailReason  string         `json:"fail_reason,omitempty"`
	SentAt      time.Time      `json:"sent_at"`
}
