package engine

import (
	"context"
	"time"

	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

// sweepExpired cancels intents whose deadline passed without a selection.
// Escrow refunds to the creator as part of the cancellation.
func (s *Service) sweepExpired(ctx context.Context) {
	now := time.Now()
	for _, status := range []models.IntentStatus{models.StatusOpen, models.StatusBidding} {
		for _, intent := range s.intents.ListByStatus(status) {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if !intent.Expired(now) {
				continue
			}
			receipt, err := s.intents.Cancel(intent.ID, s.config.GovernanceAddress)
			if err != nil {
				s.logger.Error(logger.Engine, "Failed to cancel expired intent %s: %v", intent.ID, err)
				continue
			}
			s.logger.Notice(logger.Engine, "Cancelled expired intent %s, refunded %s to %s",
				intent.ID, receipt.Amount.String(), receipt.To.Hex())
		}
	}
}

// archiveTerminal writes newly terminal intents and their receipts to the
// audit archive. Failures are retried on the next tick; the in-memory
// ledgers stay authoritative either way.
func (s *Service) archiveTerminal(ctx context.Context) {
	if s.archiver == nil {
		return
	}

	for _, status := range []models.IntentStatus{models.StatusCompleted, models.StatusDisputed, models.StatusCancelled} {
		for _, intent := range s.intents.ListByStatus(status) {
			s.mu.Lock()
			done := s.archived[intent.ID]
			s.mu.Unlock()
			if done {
				continue
			}

			if err := s.archiver.RecordClosedIntent(ctx, intent, intent.UpdatedAt); err != nil {
				s.logger.Error(logger.Engine, "Failed to archive intent %s: %v", intent.ID, err)
				continue
			}
			if receipt, ok := s.ledger.ReceiptFor(intent.ID); ok {
				if err := s.archiver.RecordReceipt(ctx, receipt); err != nil {
					s.logger.Error(logger.Engine, "Failed to archive receipt for intent %s: %v", intent.ID, err)
					continue
				}
			}

			s.mu.Lock()
			s.archived[intent.ID] = true
			s.mu.Unlock()
		}
	}

	// Slash events are append-only, so replay the log from the high-water
	// mark. The mark only advances past records the archive accepted.
	records := s.agents.SlashRecords()
	for ; s.slashMark < len(records); s.slashMark++ {
		if err := s.archiver.RecordSlash(ctx, records[s.slashMark]); err != nil {
			s.logger.Error(logger.Engine, "Failed to archive slash of agent %d: %v", records[s.slashMark].AgentID, err)
			return
		}
	}
}
