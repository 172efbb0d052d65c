package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/intentmesh-hq/auctioneer/pkg/dispatcher"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/metrics"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

// dispatchRetry is a queued re-attempt of a failed cross-chain dispatch
type dispatchRetry struct {
	IntentID    string
	ProposalID  string
	Nonce       uint64
	DstSelector uint32
	Payload     []byte
	ReleaseTo   common.Address
	RetryCount  int
	NextAttempt time.Time
}

// executionPayload is the wire body of a cross-chain execution message
type executionPayload struct {
	IntentID      string `json:"intent_id"`
	ProposalID    string `json:"proposal_id"`
	AgentID       uint64 `json:"agent_id"`
	StrategyProof string `json:"strategy_proof"`
}

// closeAuctions selects winners for intents whose bidding window elapsed
func (s *Service) closeAuctions(ctx context.Context) {
	bidding := s.intents.ListByStatus(models.StatusBidding)
	now := time.Now()

	for _, intent := range bidding {
		if now.Sub(intent.UpdatedAt) < s.config.BidWindow {
			continue
		}

		proposals := s.auctions.ListProposals(intent.ID)
		winner, ok := s.policy(proposals)
		if !ok {
			// No qualifying proposal yet. The intent stays in bidding
			// until one arrives or the deadline sweep cancels it.
			s.logger.Debug(logger.Engine, "No qualifying proposal for intent %s (%d submitted)", intent.ID, len(proposals))
			continue
		}

		selected, deferred, err := s.intents.SelectAgent(intent.ID, winner.ID)
		if err != nil {
			s.logger.Error(logger.Engine, "Failed to select winner for intent %s: %v", intent.ID, err)
			continue
		}

		s.logger.Notice(logger.Engine, "Intent %s: selected agent %d via proposal %s (payout %s)",
			intent.ID, winner.AgentID, winner.ID, map[bool]string{true: "deferred", false: "released"}[deferred])

		if deferred {
			s.dispatchLeg(ctx, selected, winner)
		}
	}
}

// dispatchLeg sends the cross-chain execution message for a selected
// proposal and arms the deferred escrow release to the winning agent
func (s *Service) dispatchLeg(ctx context.Context, intent models.Intent, winner models.Proposal) {
	if s.dispatch == nil {
		s.logger.Error(logger.Engine, "Intent %s requires cross-chain dispatch but no transport is configured", intent.ID)
		if err := s.intents.Dispute(intent.ID, "cross-chain transport not configured"); err != nil {
			s.logger.Error(logger.Engine, "Failed to dispute intent %s: %v", intent.ID, err)
		}
		return
	}

	agent, err := s.agents.Get(winner.AgentID)
	if err != nil {
		s.logger.Error(logger.Engine, "Intent %s: winning agent %d vanished: %v", intent.ID, winner.AgentID, err)
		return
	}

	payload, err := json.Marshal(executionPayload{
		IntentID:      intent.ID,
		ProposalID:    winner.ID,
		AgentID:       winner.AgentID,
		StrategyProof: winner.ProofID,
	})
	if err != nil {
		s.logger.Error(logger.Engine, "Intent %s: failed to encode payload: %v", intent.ID, err)
		return
	}

	job := dispatchRetry{
		IntentID:    intent.ID,
		ProposalID:  winner.ID,
		Nonce:       uint64(len(s.dispatch.MessagesFor(intent.ID))),
		DstSelector: winner.DstSelector,
		Payload:     payload,
		ReleaseTo:   agent.Address,
	}

	if err := s.tryDispatch(ctx, job); err != nil {
		s.scheduleRetry(job, err)
	}
}

// tryDispatch performs one dispatch attempt at the current quoted fee
func (s *Service) tryDispatch(ctx context.Context, job dispatchRetry) error {
	fee, err := s.dispatch.QuoteFee(ctx, job.DstSelector, job.Payload)
	if err != nil {
		return err
	}

	messageID, err := s.dispatch.Dispatch(ctx, job.IntentID, job.Nonce, job.DstSelector, job.Payload, fee, &job.ReleaseTo)
	if err != nil {
		// An identical message already in flight means a previous attempt
		// succeeded after we gave up on it.
		if errors.Is(err, dispatcher.ErrDuplicateMessage) {
			return nil
		}
		return err
	}

	if err := s.intents.AppendCrossChainRef(job.IntentID, messageID); err != nil {
		s.logger.Error(logger.Engine, "Failed to record message %s on intent %s: %v", messageID.Hex(), job.IntentID, err)
	}
	s.logger.Info(logger.Engine, "Dispatched message %s for intent %s (dst %d, fee %s)",
		messageID.Hex(), job.IntentID, job.DstSelector, fee.String())
	return nil
}

// scheduleRetry queues a dispatch re-attempt with exponential backoff
func (s *Service) scheduleRetry(job dispatchRetry, cause error) {
	if job.RetryCount >= s.config.MaxRetries {
		s.logger.Error(logger.Engine, "Max retries reached dispatching intent %s, marking disputed: %v", job.IntentID, cause)
		if err := s.intents.Dispute(job.IntentID, "cross-chain dispatch failed: "+cause.Error()); err != nil {
			s.logger.Error(logger.Engine, "Failed to dispute intent %s: %v", job.IntentID, err)
		}
		return
	}

	backoff := time.Duration(math.Pow(2, float64(job.RetryCount))) * 10 * time.Second
	maxBackoff := 2 * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	job.RetryCount++
	job.NextAttempt = time.Now().Add(backoff)

	metrics.RetryCount.WithLabelValues("dispatch").Inc()
	s.logger.Info(logger.Engine, "Scheduling dispatch retry %d/%d for intent %s in %v: %v",
		job.RetryCount, s.config.MaxRetries, job.IntentID, backoff, cause)

	s.wg.Add(1)
	s.retryJobs <- job
}

// retryHandler manages the dispatch retry queue
func (s *Service) retryHandler(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var retryQueue []dispatchRetry
	maxQueueSize := 1000

	for {
		select {
		case <-ctx.Done():
			for range retryQueue {
				s.wg.Done()
			}
			return
		case job, ok := <-s.retryJobs:
			if !ok {
				for range retryQueue {
					s.wg.Done()
				}
				return
			}
			if len(retryQueue) >= maxQueueSize {
				s.logger.Error(logger.Engine, "Retry queue at capacity (%d jobs), dropping retry for intent %s", maxQueueSize, job.IntentID)
				s.wg.Done()
				continue
			}
			retryQueue = append(retryQueue, job)
			sort.Slice(retryQueue, func(i, j int) bool {
				return retryQueue[i].NextAttempt.Before(retryQueue[j].NextAttempt)
			})
		case <-ticker.C:
			metrics.RetryQueueSize.Set(float64(len(retryQueue)))

			now := time.Now()
			var remaining []dispatchRetry
			for _, job := range retryQueue {
				if job.NextAttempt.After(now) {
					remaining = append(remaining, job)
					continue
				}
				if err := s.tryDispatch(ctx, job); err != nil {
					s.wg.Done()
					s.scheduleRetry(job, err)
					continue
				}
				s.wg.Done()
			}
			retryQueue = remaining
		}
	}
}

// ConfirmDelivery records a delivery confirmation for a dispatched message.
// The armed escrow release fires and the intent completes with the proof.
func (s *Service) ConfirmDelivery(messageID common.Hash, executionProof string) error {
	msg, err := s.dispatch.Message(messageID)
	if err != nil {
		return err
	}
	if err := s.dispatch.MarkDelivered(messageID); err != nil {
		return err
	}
	return s.intents.Complete(msg.IntentID, executionProof)
}

// ReportFailure records a failed cross-chain leg. Escrow stays locked and
// the intent moves to disputed for manual resolution.
func (s *Service) ReportFailure(messageID common.Hash, reason string) error {
	msg, err := s.dispatch.Message(messageID)
	if err != nil {
		return err
	}
	if err := s.dispatch.MarkFailed(messageID, reason); err != nil {
		return err
	}
	return s.intents.Dispute(msg.IntentID, reason)
}
