package engine

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentmesh-hq/auctioneer/pkg/auction"
	"github.com/intentmesh-hq/auctioneer/pkg/config"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
	"github.com/intentmesh-hq/auctioneer/pkg/strategy"
)

var (
	governance = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	creator    = common.HexToAddress("0x00000000000000000000000000000000000000BB")
	token      = common.HexToAddress("0x00000000000000000000000000000000000000CC")
)

// newTestService builds a service with one roster agent, unreachable
// strategy and proof store endpoints (so both fall back locally), and no
// oracle, transport, or archive.
func newTestService(t *testing.T) *Service {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := &config.Config{
		GovernanceAddress:  governance,
		MinStake:           big.NewInt(100),
		SlashPenalty:       big.NewInt(50),
		MinDeadlineWindow:  2 * time.Hour,
		MaxDeadlineWindow:  30 * 24 * time.Hour,
		BidWindow:          0, // close auctions on the first pass
		MinConfidence:      0.4,
		StrategyURL:        "http://127.0.0.1:1",
		StrategyTimeout:    time.Second,
		StrategyFallback:   true,
		ProofStoreURL:      "http://127.0.0.1:1",
		ProofStoreFallback: true,
		PollingInterval:    time.Minute,
		WorkerCount:        1,
		MaxRetries:         3,
		MetricsPort:        "0",
		Roster: []config.RosterAgent{{
			Identity:   "test-agent",
			PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
			Stake:      big.NewInt(500),
		}},
	}

	svc, err := NewService(cfg)
	require.NoError(t, err)
	require.Len(t, svc.roster, 1)
	return svc
}

func createIntent(t *testing.T, svc *Service, deadline time.Time) models.Intent {
	t.Helper()
	amount := big.NewInt(1_000_000)
	intent, err := svc.Registry().Create(creator, crypto.Keccak256Hash([]byte("yield intent")), "spec-proof", amount, amount, token, deadline)
	require.NoError(t, err)
	return intent
}

func TestLifecycleWithFallbackStrategy(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	intent := createIntent(t, svc, time.Now().Add(48*time.Hour))

	// Tick 1: the intent moves into bidding and a round is queued.
	svc.openAuctions(ctx)
	select {
	case queued := <-svc.bidJobs:
		assert.Equal(t, intent.ID, queued)
		require.NoError(t, svc.runBiddingRound(ctx, queued))
		svc.wg.Done()
	default:
		t.Fatal("no bidding round queued")
	}

	proposals := svc.Auctions().ListProposals(intent.ID)
	require.Len(t, proposals, 1, "roster agent bid with the fallback draft")
	assert.Equal(t, strategy.FallbackDraft().Confidence, proposals[0].Confidence)
	assert.True(t, proposals[0].ProofID != "", "proof id pinned, locally when the store is down")

	// Tick 2: the bid window has elapsed, a winner is selected and paid.
	svc.closeAuctions(ctx)

	got, err := svc.Registry().Get(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuting, got.Status)
	assert.Equal(t, svc.roster[0].ID, got.SelectedAgentID)

	receipt, ok := svc.ledger.ReceiptFor(intent.ID)
	require.True(t, ok, "same-chain win releases escrow immediately")
	agent, err := svc.Directory().Get(svc.roster[0].ID)
	require.NoError(t, err)
	assert.Equal(t, agent.Address, receipt.To)

	// Execution proof closes the intent out.
	require.NoError(t, svc.Registry().Complete(intent.ID, "bafy-exec-proof"))
	got, err = svc.Registry().Get(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestCloseAuctionsRespectsBidWindow(t *testing.T) {
	svc := newTestService(t)
	svc.config.BidWindow = time.Hour
	ctx := context.Background()

	intent := createIntent(t, svc, time.Now().Add(48*time.Hour))
	svc.openAuctions(ctx)
	queued := <-svc.bidJobs
	require.NoError(t, svc.runBiddingRound(ctx, queued))
	svc.wg.Done()

	svc.closeAuctions(ctx)

	got, err := svc.Registry().Get(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBidding, got.Status, "window still open, no selection yet")
}

func TestCrossChainWinWithoutTransportDisputes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	intent := createIntent(t, svc, time.Now().Add(48*time.Hour))
	require.NoError(t, svc.Registry().StartBidding(intent.ID))

	// Hand-craft a cross-chain proposal from the roster agent.
	draft := strategy.FallbackDraft()
	draft.DstSelector = 30110
	sig, err := auction.SignProposal(svc.roster[0].Key, intent.ID, draft.Hash(), "bafy-proof")
	require.NoError(t, err)

	_, err = svc.Auctions().SubmitProposal(auction.Submission{
		IntentID:        intent.ID,
		AgentID:         svc.roster[0].ID,
		StrategyHash:    draft.Hash(),
		ExpectedCost:    draft.CostWei,
		ExpectedAPY:     draft.ExpectedAPY,
		TimelineSeconds: draft.TimelineSeconds,
		Confidence:      draft.Confidence,
		Signature:       sig,
		ProofID:         "bafy-proof",
		DstSelector:     draft.DstSelector,
	})
	require.NoError(t, err)

	svc.closeAuctions(ctx)

	got, err := svc.Registry().Get(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisputed, got.Status)

	// The deferred payout never fired, so escrow stays locked.
	_, ok := svc.ledger.ReceiptFor(intent.ID)
	assert.False(t, ok)
	assert.Equal(t, big.NewInt(1_000_000), svc.ledger.LockedValue())
}

func TestSweepExpiredRefundsCreator(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Create against a backdated clock so the deadline is already in the
	// past by wall time when the sweep runs.
	svc.Registry().SetClock(func() time.Time { return time.Now().Add(-4 * time.Hour) })
	intent := createIntent(t, svc, time.Now().Add(-time.Hour))
	svc.Registry().SetClock(time.Now)

	svc.sweepExpired(ctx)

	got, err := svc.Registry().Get(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	receipt, ok := svc.ledger.ReceiptFor(intent.ID)
	require.True(t, ok)
	assert.Equal(t, creator, receipt.To)
	assert.Equal(t, models.ReceiptRefund, receipt.Kind)
}

func TestRegisterRosterRejectsBadKey(t *testing.T) {
	cfg := &config.Config{
		GovernanceAddress: governance,
		MinStake:          big.NewInt(100),
		SlashPenalty:      big.NewInt(50),
		MinDeadlineWindow: 2 * time.Hour,
		MaxDeadlineWindow: 30 * 24 * time.Hour,
		StrategyTimeout:   time.Second,
		Roster: []config.RosterAgent{{
			Identity:   "broken",
			PrivateKey: "not-a-key",
			Stake:      big.NewInt(500),
		}},
	}
	_, err := NewService(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid private key")
}
