package engine

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/intentmesh-hq/auctioneer/pkg/auction"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/strategy"
)

// worker processes bidding rounds from the job queue
func (s *Service) worker(ctx context.Context, id int) {
	log.Printf("Starting worker %d", id)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		case intentID, ok := <-s.bidJobs:
			if !ok {
				log.Printf("Worker %d shutting down: channel closed", id)
				return
			}
			if err := s.runBiddingRound(ctx, intentID); err != nil {
				s.logger.Error(logger.Engine, "Worker %d: bidding round for intent %s failed: %v", id, intentID, err)
			}
			s.wg.Done()
		}
	}
}

// runBiddingRound produces one signed proposal per roster agent for the
// given intent. A failing agent skips its bid; the auction proceeds with
// whatever proposals arrive before the window closes.
func (s *Service) runBiddingRound(ctx context.Context, intentID string) error {
	intent, err := s.intents.Get(intentID)
	if err != nil {
		return err
	}

	snapshot := s.buildSnapshot(ctx)

	for _, agent := range s.roster {
		outcome, err := s.strategies.Propose(ctx, intent.SpecHash.Hex(), snapshot)
		if err != nil {
			s.logger.Error(logger.Engine, "Agent %d: no strategy for intent %s: %v", agent.ID, intentID, err)
			continue
		}
		draft := outcome.Draft

		proofID, err := s.proofs.PinJSON(ctx, draft)
		if err != nil {
			s.logger.Error(logger.Engine, "Agent %d: failed to pin strategy for intent %s: %v", agent.ID, intentID, err)
			continue
		}

		strategyHash := draft.Hash()
		signature, err := auction.SignProposal(agent.Key, intentID, strategyHash, string(proofID))
		if err != nil {
			s.logger.Error(logger.Engine, "Agent %d: failed to sign proposal for intent %s: %v", agent.ID, intentID, err)
			continue
		}

		proposal, err := s.auctions.SubmitProposal(auction.Submission{
			IntentID:        intentID,
			AgentID:         agent.ID,
			StrategyHash:    strategyHash,
			ExpectedCost:    draft.CostWei,
			ExpectedAPY:     draft.ExpectedAPY,
			TimelineSeconds: draft.TimelineSeconds,
			Confidence:      draft.Confidence,
			Signature:       signature,
			ProofID:         string(proofID),
			DstSelector:     draft.DstSelector,
		})
		if err != nil {
			s.logger.Error(logger.Engine, "Agent %d: proposal rejected for intent %s: %v", agent.ID, intentID, err)
			continue
		}
		s.logger.Info(logger.Engine, "Agent %d bid on intent %s: proposal %s (APY %.2f, source %s)",
			agent.ID, intentID, proposal.ID, draft.ExpectedAPY, outcome.Source)
	}
	return nil
}

// buildSnapshot collects validated prices for all configured feeds. Assets
// with stale or unavailable prices are omitted rather than guessed.
func (s *Service) buildSnapshot(ctx context.Context) strategy.MarketSnapshot {
	snapshot := strategy.MarketSnapshot{
		Prices:    make(map[string]*big.Int),
		Rates:     make(map[string]float64),
		Timestamp: time.Now().Unix(),
	}
	if s.prices == nil {
		return snapshot
	}
	for asset := range s.config.OracleFeeds {
		price, err := s.prices.GetValidatedPrice(ctx, asset)
		if err != nil {
			s.logger.Debug(logger.Engine, "Skipping %s in market snapshot: %v", asset, err)
			continue
		}
		snapshot.Prices[asset] = price.Value
	}
	return snapshot
}
