// Package engine wires the protocol subsystems together and drives the
// intent lifecycle: opening auctions, running bidding rounds for roster
// agents, selecting winners, and dispatching cross-chain legs.
package engine

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/intentmesh-hq/auctioneer/pkg/archive"
	"github.com/intentmesh-hq/auctioneer/pkg/auction"
	"github.com/intentmesh-hq/auctioneer/pkg/circuitbreaker"
	"github.com/intentmesh-hq/auctioneer/pkg/config"
	"github.com/intentmesh-hq/auctioneer/pkg/directory"
	"github.com/intentmesh-hq/auctioneer/pkg/dispatcher"
	"github.com/intentmesh-hq/auctioneer/pkg/escrow"
	"github.com/intentmesh-hq/auctioneer/pkg/health"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
	"github.com/intentmesh-hq/auctioneer/pkg/oracle"
	"github.com/intentmesh-hq/auctioneer/pkg/proofstore"
	"github.com/intentmesh-hq/auctioneer/pkg/registry"
	"github.com/intentmesh-hq/auctioneer/pkg/strategy"
)

// rosterAgent pairs a registered agent id with its local signing key
type rosterAgent struct {
	ID             uint64
	Key            *ecdsa.PrivateKey
	Specialization string
}

// Service drives the intent lifecycle across the protocol subsystems
type Service struct {
	config     *config.Config
	logger     logger.Logger
	intents    *registry.Registry
	ledger     *escrow.Ledger
	agents     *directory.Directory
	auctions   *auction.Coordinator
	dispatch   *dispatcher.Dispatcher
	strategies *strategy.Client
	prices     *oracle.Oracle
	proofs     *proofstore.Client
	archiver   *archive.Store
	policy     auction.SelectionPolicy

	roster          []rosterAgent
	circuitBreakers map[string]*circuitbreaker.CircuitBreaker

	mu        sync.Mutex
	archived  map[string]bool // terminal intents already written to the archive
	slashMark int             // slash log entries already archived; ticker goroutine only

	bidJobs   chan string
	retryJobs chan dispatchRetry
	wg        sync.WaitGroup
}

// NewService wires up all subsystems from the configuration
func NewService(cfg *config.Config) (*Service, error) {
	stdLog := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	newBreaker := func() *circuitbreaker.CircuitBreaker {
		return circuitbreaker.NewCircuitBreaker(
			cfg.CircuitBreaker.Enabled,
			cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration,
			cfg.CircuitBreaker.ResetTimeout,
		)
	}
	breakers := map[string]*circuitbreaker.CircuitBreaker{
		"strategy":   newBreaker(),
		"oracle":     newBreaker(),
		"proofstore": newBreaker(),
		"transport":  newBreaker(),
	}

	ledger := escrow.NewLedger(cfg.GovernanceAddress, stdLog)
	if err := ledger.AuthorizeReleaser(cfg.GovernanceAddress, escrow.ReleaserIntentRegistry); err != nil {
		return nil, fmt.Errorf("failed to authorize registry releaser: %v", err)
	}
	if err := ledger.AuthorizeReleaser(cfg.GovernanceAddress, escrow.ReleaserCrossChainDispatcher); err != nil {
		return nil, fmt.Errorf("failed to authorize dispatcher releaser: %v", err)
	}

	agents := directory.NewDirectory(cfg.GovernanceAddress, cfg.MinStake, cfg.SlashPenalty, stdLog)
	intents := registry.NewRegistry(ledger, agents, cfg.MinDeadlineWindow, cfg.MaxDeadlineWindow, stdLog)
	auctions := auction.NewCoordinator(intents, agents, stdLog)
	intents.SetProposalSource(auctions)

	strategies := strategy.NewClient(cfg.StrategyURL, cfg.StrategyTimeout, cfg.StrategyFallback, breakers["strategy"], stdLog)
	proofs := proofstore.NewClient(cfg.ProofStoreURL, cfg.ProofStoreAPIKey, cfg.StrategyTimeout, cfg.ProofStoreFallback, breakers["proofstore"], stdLog)

	var prices *oracle.Oracle
	if cfg.OracleRPCURL != "" && len(cfg.OracleFeeds) > 0 {
		feed, err := oracle.NewAggregatorFeed(cfg.OracleRPCURL, cfg.OracleFeeds)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to price feeds: %v", err)
		}
		prices = oracle.NewOracle(feed, cfg.StaleThreshold, nil, cfg.PriceCacheTTL, breakers["oracle"], stdLog)
	}

	var dispatch *dispatcher.Dispatcher
	if cfg.TransportRPCURL != "" {
		transport, err := dispatcher.NewEndpointTransport(cfg.TransportRPCURL, cfg.EndpointAddress, cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to endpoint transport: %v", err)
		}
		dispatch = dispatcher.NewDispatcher(transport, ledger, breakers["transport"], stdLog)
	}

	var archiver *archive.Store
	if cfg.ArchiveDSN != "" {
		store, err := archive.NewStore(cfg.ArchiveDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %v", err)
		}
		archiver = store
	}

	s := &Service{
		config:          cfg,
		logger:          stdLog,
		intents:         intents,
		ledger:          ledger,
		agents:          agents,
		auctions:        auctions,
		dispatch:        dispatch,
		strategies:      strategies,
		prices:          prices,
		proofs:          proofs,
		archiver:        archiver,
		policy:          auction.BestAPY(cfg.MinConfidence),
		circuitBreakers: breakers,
		archived:        make(map[string]bool),
		bidJobs:         make(chan string, 100),
		retryJobs:       make(chan dispatchRetry, 100),
	}

	if err := s.registerRoster(); err != nil {
		return nil, err
	}
	return s, nil
}

// registerRoster registers the locally operated agents from the roster file
func (s *Service) registerRoster() error {
	for _, entry := range s.config.Roster {
		key, err := crypto.HexToECDSA(entry.PrivateKey)
		if err != nil {
			return fmt.Errorf("agent %s: invalid private key: %v", entry.Identity, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)

		id, err := s.agents.Register(entry.Identity, addr, entry.Stake, entry.Specialization)
		if err != nil {
			return fmt.Errorf("agent %s: registration failed: %v", entry.Identity, err)
		}

		s.roster = append(s.roster, rosterAgent{
			ID:             id,
			Key:            key,
			Specialization: entry.Specialization,
		})
		s.logger.Info(logger.Engine, "Registered roster agent %s as id %d (%s)", entry.Identity, id, addr.Hex())
	}
	return nil
}

// Registry exposes the intent registry for callers layered above the engine
func (s *Service) Registry() *registry.Registry {
	return s.intents
}

// Auctions exposes the auction coordinator
func (s *Service) Auctions() *auction.Coordinator {
	return s.auctions
}

// Directory exposes the agent directory
func (s *Service) Directory() *directory.Directory {
	return s.agents
}

// Start begins the engine loops and blocks until the context is cancelled
func (s *Service) Start(ctx context.Context) {
	healthServer := health.NewServer(s.config.MetricsPort, s.intents, s.ledger, s.agents, s.dispatch, s.circuitBreakers)
	go healthServer.Start()

	log.Printf("Starting %d worker goroutines", s.config.WorkerCount)
	for i := 0; i < s.config.WorkerCount; i++ {
		go s.worker(ctx, i)
	}

	go s.retryHandler(ctx)

	log.Printf("Starting engine with polling interval %v", s.config.PollingInterval)
	ticker := time.NewTicker(s.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Context cancelled, shutting down engine")
			close(s.bidJobs)
			close(s.retryJobs)
			// Drain whatever the workers abandoned so Wait can return
			for range s.bidJobs {
				s.wg.Done()
			}
			for range s.retryJobs {
				s.wg.Done()
			}
			s.wg.Wait()
			if s.archiver != nil {
				_ = s.archiver.Close()
			}
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
			s.openAuctions(ctx)
			s.closeAuctions(ctx)
			s.archiveTerminal(ctx)
		}
	}
}

// openAuctions moves open intents into bidding and queues a bidding round
func (s *Service) openAuctions(ctx context.Context) {
	open := s.intents.ListByStatus(models.StatusOpen)
	for _, intent := range open {
		if err := s.intents.StartBidding(intent.ID); err != nil {
			s.logger.Error(logger.Engine, "Failed to open auction for intent %s: %v", intent.ID, err)
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.wg.Add(1)
		s.bidJobs <- intent.ID
	}
}
