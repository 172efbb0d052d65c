package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctioneer_intents_created_total",
		Help: "The total number of intents created",
	})

	IntentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctioneer_intent_transitions_total",
		Help: "The total number of intent status transitions",
	}, []string{"from", "to"})

	OpenIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auctioneer_open_intents",
		Help: "The number of intents that have not reached a terminal state",
	})

	ProposalsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctioneer_proposals_submitted_total",
		Help: "The total number of proposals accepted by the auction coordinator",
	}, []string{"agent_id"})

	ProposalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctioneer_proposals_rejected_total",
		Help: "The total number of proposals rejected, by reason",
	}, []string{"reason"})

	EscrowReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctioneer_escrow_releases_total",
		Help: "The total number of escrow movements, by kind",
	}, []string{"kind"})

	EscrowLockedValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auctioneer_escrow_locked_value",
		Help: "Total token value currently held in escrow (base units)",
	})

	RegisteredAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auctioneer_registered_agents",
		Help: "The number of agents registered in the directory",
	})

	AgentsSlashed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctioneer_agents_slashed_total",
		Help: "The total number of slashing events",
	})

	MessagesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctioneer_messages_dispatched_total",
		Help: "The total number of cross-chain messages dispatched, by destination",
	}, []string{"dst"})

	MessageDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctioneer_message_deliveries_total",
		Help: "Delivery confirmations for cross-chain messages, by outcome",
	}, []string{"dst", "outcome"})

	DispatchFees = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auctioneer_dispatch_fee_wei",
		Help:    "Fees paid for cross-chain dispatches",
		Buckets: prometheus.ExponentialBuckets(1e12, 10, 8), // from 0.000001 ether upward
	}, []string{"dst"})

	SelectionTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auctioneer_selection_seconds",
		Help:    "Time from intent creation to agent selection",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	StrategyFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctioneer_strategy_fallbacks_total",
		Help: "The number of times a deterministic fallback strategy was substituted",
	})

	StalePriceRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctioneer_stale_price_rejections_total",
		Help: "Price readings rejected for exceeding the staleness threshold",
	}, []string{"asset"})

	ProofStoreFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctioneer_proofstore_fallbacks_total",
		Help: "The number of placeholder proof identifiers minted while the store was unreachable",
	})

	RetryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctioneer_retry_count_total",
		Help: "The total number of retried operations, by kind",
	}, []string{"kind"})

	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auctioneer_retry_queue_size",
		Help: "Current size of the retry queue",
	})
)
