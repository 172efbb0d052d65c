package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EscrowEntry tracks custodied funds for a single intent
type EscrowEntry struct {
	IntentID string         `json:"intent_id"`
	Creator  common.Address `json:"creator"` // refund target
	Amount   *big.Int       `json:"amount"`
	Token    common.Address `json:"token"`
	Released bool           `json:"released"`
	LockedAt time.Time      `json:"locked_at"`
}

// ReceiptKind distinguishes the two ways escrowed funds can leave custody
type ReceiptKind string

const (
	// ReceiptRelease means funds went to the selected agent's payout address
	ReceiptRelease ReceiptKind = "release"
	// ReceiptRefund means funds went back to the intent creator
	ReceiptRefund ReceiptKind = "refund"
)

// Receipt records a completed escrow movement
type Receipt struct {
	ID       string         `json:"id"`
	IntentID string         `json:"intent_id"`
	Kind     ReceiptKind    `json:"kind"`
	To       common.Address `json:"to"`
	Amount   *big.Int       `json:"amount"`
	Token    common.Address `json:"token"`
	At       time.Time      `json:"at"`
}
