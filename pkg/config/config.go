package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/intentmesh-hq/auctioneer/pkg/logger"
)

// Config holds the configuration for the auctioneer service
type Config struct {
	GovernanceAddress common.Address
	PrivateKey        string

	MinStake     *big.Int
	SlashPenalty *big.Int

	MinDeadlineWindow time.Duration
	MaxDeadlineWindow time.Duration
	BidWindow         time.Duration
	MinConfidence     float64

	StrategyURL      string
	StrategyTimeout  time.Duration
	StrategyFallback bool

	OracleRPCURL   string
	OracleFeeds    map[string]common.Address
	StaleThreshold time.Duration
	PriceCacheTTL  time.Duration

	ProofStoreURL      string
	ProofStoreAPIKey   string
	ProofStoreFallback bool

	TransportRPCURL string
	EndpointAddress common.Address

	ArchiveDSN string

	PollingInterval time.Duration
	WorkerCount     int
	MaxRetries      int
	MetricsPort     string
	CircuitBreaker  CircuitBreakerConfig
	LoggerConfig    LoggerConfig

	Roster []RosterAgent
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	governance, err := GetEnvGovernanceAddress()
	if err != nil {
		return nil, err
	}

	minStake, err := GetEnvMinStake()
	if err != nil {
		return nil, err
	}

	slashPenalty, err := GetEnvSlashPenalty()
	if err != nil {
		return nil, err
	}

	minWindow, err := GetEnvMinDeadlineWindow()
	if err != nil {
		return nil, err
	}

	maxWindow, err := GetEnvMaxDeadlineWindow()
	if err != nil {
		return nil, err
	}

	bidWindow, err := GetEnvBidWindow()
	if err != nil {
		return nil, err
	}

	minConfidence, err := GetEnvMinConfidence()
	if err != nil {
		return nil, err
	}

	strategyTimeout, err := GetEnvStrategyTimeout()
	if err != nil {
		return nil, err
	}

	staleThreshold, err := GetEnvStaleThreshold()
	if err != nil {
		return nil, err
	}

	priceCacheTTL, err := GetEnvPriceCacheTTL()
	if err != nil {
		return nil, err
	}

	oracleFeeds, err := GetEnvOracleFeeds()
	if err != nil {
		return nil, err
	}

	endpointAddress, err := GetEnvEndpointAddress()
	if err != nil {
		return nil, err
	}

	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	maxRetries, err := GetEnvMaxRetries()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	roster, err := LoadRoster(os.Getenv("AGENTS_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		GovernanceAddress:  governance,
		PrivateKey:         os.Getenv("PRIVATE_KEY"),
		MinStake:           minStake,
		SlashPenalty:       slashPenalty,
		MinDeadlineWindow:  minWindow,
		MaxDeadlineWindow:  maxWindow,
		BidWindow:          bidWindow,
		MinConfidence:      minConfidence,
		StrategyURL:        GetEnvStrategyURL(),
		StrategyTimeout:    strategyTimeout,
		StrategyFallback:   GetEnvStrategyFallback(),
		OracleRPCURL:       os.Getenv("ORACLE_RPC_URL"),
		OracleFeeds:        oracleFeeds,
		StaleThreshold:     staleThreshold,
		PriceCacheTTL:      priceCacheTTL,
		ProofStoreURL:      GetEnvProofStoreURL(),
		ProofStoreAPIKey:   os.Getenv("PROOFSTORE_API_KEY"),
		ProofStoreFallback: GetEnvProofStoreFallback(),
		TransportRPCURL:    os.Getenv("TRANSPORT_RPC_URL"),
		EndpointAddress:    endpointAddress,
		ArchiveDSN:         os.Getenv("ARCHIVE_DSN"),
		PollingInterval:    pollingInterval,
		WorkerCount:        workerCount,
		MaxRetries:         maxRetries,
		MetricsPort:        metricsPort,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
		Roster: roster,
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.GovernanceAddress == (common.Address{}) {
		return fmt.Errorf("GOVERNANCE_ADDRESS environment variable is required")
	}
	if cfg.MinStake.Sign() <= 0 {
		return fmt.Errorf("MIN_STAKE must be greater than 0")
	}
	if cfg.MinDeadlineWindow >= cfg.MaxDeadlineWindow {
		return fmt.Errorf("MIN_DEADLINE_WINDOW must be shorter than MAX_DEADLINE_WINDOW")
	}
	if cfg.TransportRPCURL != "" && cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required when TRANSPORT_RPC_URL is set")
	}
	return nil
}
