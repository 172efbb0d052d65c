// Package archive persists an append-only audit trail of settled
// escrow movements, slashing events, and closed intents to MySQL.
// The in-memory ledgers remain the source of truth; the archive is
// for offline reconciliation and dispute review.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/go-sql-driver/mysql"

	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

// Store writes audit records to a MySQL database
type Store struct {
	db *sql.DB
}

// NewStore opens a connection to the archive database and ensures the
// schema exists
func NewStore(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("archive DSN must not be empty")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach archive database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS escrow_receipts (
        id VARCHAR(64) PRIMARY KEY,
        intent_id VARCHAR(64) NOT NULL,
        kind VARCHAR(16) NOT NULL,
        recipient VARCHAR(42) NOT NULL,
        amount_wei VARCHAR(78) NOT NULL,
        token VARCHAR(42) NOT NULL,
        settled_at BIGINT NOT NULL,
        INDEX idx_receipt_intent (intent_id)
)`,
		`CREATE TABLE IF NOT EXISTS slash_events (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        agent_id BIGINT UNSIGNED NOT NULL,
        reason TEXT NOT NULL,
        penalty_wei VARCHAR(78) NOT NULL,
        remaining_wei VARCHAR(78) NOT NULL,
        deactivated TINYINT(1) NOT NULL,
        slashed_at BIGINT NOT NULL,
        INDEX idx_slash_agent (agent_id)
)`,
		`CREATE TABLE IF NOT EXISTS closed_intents (
        id VARCHAR(64) PRIMARY KEY,
        creator VARCHAR(42) NOT NULL,
        status VARCHAR(16) NOT NULL,
        amount_wei VARCHAR(78) NOT NULL,
        token VARCHAR(42) NOT NULL,
        selected_agent_id BIGINT UNSIGNED NOT NULL DEFAULT 0,
        execution_proof TEXT,
        dispute_reason TEXT,
        deadline BIGINT NOT NULL,
        created_at BIGINT NOT NULL,
        closed_at BIGINT NOT NULL,
        INDEX idx_closed_creator (creator),
        INDEX idx_closed_status (status)
)`,
	}

	for _, schema := range schemas {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("failed to initialize archive schema: %w", err)
		}
	}
	return nil
}

// RecordReceipt archives a settled escrow movement
func (s *Store) RecordReceipt(ctx context.Context, receipt models.Receipt) error {
	const stmt = `INSERT IGNORE INTO escrow_receipts
        (id, intent_id, kind, recipient, amount_wei, token, settled_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		receipt.ID,
		receipt.IntentID,
		string(receipt.Kind),
		receipt.To.Hex(),
		receipt.Amount.String(),
		receipt.Token.Hex(),
		receipt.At.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive receipt %s: %w", receipt.ID, err)
	}
	return nil
}

// RecordSlash archives a slashing event
func (s *Store) RecordSlash(ctx context.Context, record models.SlashRecord) error {
	const stmt = `INSERT INTO slash_events
        (agent_id, reason, penalty_wei, remaining_wei, deactivated, slashed_at)
        VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		record.AgentID,
		record.Reason,
		record.Penalty.String(),
		record.Remaining.String(),
		record.Deactivated,
		record.At.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive slash for agent %d: %w", record.AgentID, err)
	}
	return nil
}

// RecordClosedIntent archives an intent that reached a terminal state
func (s *Store) RecordClosedIntent(ctx context.Context, intent models.Intent, closedAt time.Time) error {
	if !intent.Terminal() {
		return fmt.Errorf("intent %s is not terminal", intent.ID)
	}

	const stmt = `INSERT IGNORE INTO closed_intents
        (id, creator, status, amount_wei, token, selected_agent_id,
         execution_proof, dispute_reason, deadline, created_at, closed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		intent.ID,
		intent.Creator.Hex(),
		string(intent.Status),
		intent.Amount.String(),
		intent.Token.Hex(),
		intent.SelectedAgentID,
		intent.ExecutionProof,
		intent.DisputeReason,
		intent.Deadline.Unix(),
		intent.CreatedAt.Unix(),
		closedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive intent %s: %w", intent.ID, err)
	}
	return nil
}

// ReceiptsForIntent returns archived receipts for a single intent,
// newest first
func (s *Store) ReceiptsForIntent(ctx context.Context, intentID string) ([]models.Receipt, error) {
	const stmt = `SELECT id, intent_id, kind, recipient, amount_wei, token, settled_at
        FROM escrow_receipts WHERE intent_id = ? ORDER BY settled_at DESC`

	rows, err := s.db.QueryContext(ctx, stmt, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts for %s: %w", intentID, err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipts: %w", err)
	}
	return receipts, nil
}

func scanReceipt(rows *sql.Rows) (models.Receipt, error) {
	var (
		receipt   models.Receipt
		kind      string
		recipient string
		amount    string
		token     string
		settledAt int64
	)
	if err := rows.Scan(&receipt.ID, &receipt.IntentID, &kind, &recipient, &amount, &token, &settledAt); err != nil {
		return models.Receipt{}, fmt.Errorf("failed to scan receipt row: %w", err)
	}
	receipt.Kind = models.ReceiptKind(kind)
	receipt.To = common.HexToAddress(recipient)
	receipt.Token = common.HexToAddress(token)
	receipt.At = time.Unix(settledAt, 0).UTC()
	parsed, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return models.Receipt{}, fmt.Errorf("corrupt amount in receipt %s: %s", receipt.ID, amount)
	}
	receipt.Amount = parsed
	return receipt, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
