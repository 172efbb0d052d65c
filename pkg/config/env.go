package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
)

// Default configuration values
const (
	DefaultMinStakeWei       = "1000000000000000000" // 1 ether
	DefaultSlashPenaltyWei   = "500000000000000000"  // 0.5 ether
	DefaultMinDeadlineWindow = 2 * time.Hour
	DefaultMaxDeadlineWindow = 30 * 24 * time.Hour
	DefaultBidWindow         = 5 * time.Minute
	DefaultMinConfidence     = 0.5
	DefaultStrategyURL       = "http://localhost:4000"
	DefaultStrategyTimeout   = 30 * time.Second
	DefaultStaleThreshold    = time.Hour
	DefaultPriceCacheTTL     = 5 * time.Minute
	DefaultProofStoreURL     = "http://localhost:5001"
	DefaultPollingInterval   = 15 * time.Second
	DefaultWorkerCount       = 5
	DefaultMaxRetries        = 3
	DefaultMetricsPort       = "8080"
	DefaultCBThreshold       = 5
	DefaultCBWindow          = time.Minute
	DefaultCBReset           = 5 * time.Minute
)

// GetEnvGovernanceAddress returns the governance address
func GetEnvGovernanceAddress() (common.Address, error) {
	raw := os.Getenv("GOVERNANCE_ADDRESS")
	if raw == "" {
		return common.Address{}, fmt.Errorf("GOVERNANCE_ADDRESS environment variable is required")
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid GOVERNANCE_ADDRESS: %s", raw)
	}
	return common.HexToAddress(raw), nil
}

// GetEnvMinStake returns the minimum agent stake in wei
func GetEnvMinStake() (*big.Int, error) {
	return getEnvWei("MIN_STAKE_WEI", DefaultMinStakeWei)
}

// GetEnvSlashPenalty returns the slash penalty in wei
func GetEnvSlashPenalty() (*big.Int, error) {
	return getEnvWei("SLASH_PENALTY_WEI", DefaultSlashPenaltyWei)
}

// GetEnvMinDeadlineWindow returns the minimum intent deadline window
func GetEnvMinDeadlineWindow() (time.Duration, error) {
	return getEnvDuration("MIN_DEADLINE_WINDOW", DefaultMinDeadlineWindow)
}

// GetEnvMaxDeadlineWindow returns the maximum intent deadline window
func GetEnvMaxDeadlineWindow() (time.Duration, error) {
	return getEnvDuration("MAX_DEADLINE_WINDOW", DefaultMaxDeadlineWindow)
}

// GetEnvBidWindow returns how long an intent stays in bidding before selection
func GetEnvBidWindow() (time.Duration, error) {
	return getEnvDuration("BID_WINDOW", DefaultBidWindow)
}

// GetEnvMinConfidence returns the confidence floor for winner selection
func GetEnvMinConfidence() (float64, error) {
	raw := os.Getenv("MIN_CONFIDENCE")
	if raw == "" {
		return DefaultMinConfidence, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, fmt.Errorf("invalid MIN_CONFIDENCE: %s", raw)
	}
	return v, nil
}

// GetEnvStrategyURL returns the strategy service base URL
func GetEnvStrategyURL() string {
	if url := os.Getenv("STRATEGY_URL"); url != "" {
		return url
	}
	return DefaultStrategyURL
}

// GetEnvStrategyTimeout returns the strategy service request timeout
func GetEnvStrategyTimeout() (time.Duration, error) {
	return getEnvDuration("STRATEGY_TIMEOUT", DefaultStrategyTimeout)
}

// GetEnvStrategyFallback returns whether local strategy fallback is enabled
func GetEnvStrategyFallback() bool {
	return os.Getenv("STRATEGY_FALLBACK_DISABLED") != "true"
}

// GetEnvStaleThreshold returns the default oracle price staleness threshold
func GetEnvStaleThreshold() (time.Duration, error) {
	return getEnvDuration("ORACLE_STALE_THRESHOLD", DefaultStaleThreshold)
}

// GetEnvPriceCacheTTL returns how long oracle prices are cached
func GetEnvPriceCacheTTL() (time.Duration, error) {
	return getEnvDuration("PRICE_CACHE_TTL", DefaultPriceCacheTTL)
}

// GetEnvOracleFeeds parses ORACLE_FEEDS, a comma-separated list of
// asset:address pairs, e.g. "ETH:0xabc...,USDC:0xdef..."
func GetEnvOracleFeeds() (map[string]common.Address, error) {
	feeds := make(map[string]common.Address)
	raw := os.Getenv("ORACLE_FEEDS")
	if raw == "" {
		return feeds, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 || !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("invalid ORACLE_FEEDS entry: %s", pair)
		}
		feeds[strings.ToUpper(parts[0])] = common.HexToAddress(parts[1])
	}
	return feeds, nil
}

// GetEnvProofStoreURL returns the proof store base URL
func GetEnvProofStoreURL() string {
	if url := os.Getenv("PROOFSTORE_URL"); url != "" {
		return url
	}
	return DefaultProofStoreURL
}

// GetEnvProofStoreFallback returns whether local proof placeholders are enabled
func GetEnvProofStoreFallback() bool {
	return os.Getenv("PROOFSTORE_FALLBACK_DISABLED") != "true"
}

// GetEnvEndpointAddress returns the cross-chain endpoint contract address
func GetEnvEndpointAddress() (common.Address, error) {
	raw := os.Getenv("ENDPOINT_ADDRESS")
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid ENDPOINT_ADDRESS: %s", raw)
	}
	return common.HexToAddress(raw), nil
}

// GetEnvPollingInterval returns the engine polling interval
func GetEnvPollingInterval() (time.Duration, error) {
	return getEnvDuration("POLLING_INTERVAL", DefaultPollingInterval)
}

// GetEnvWorkerCount returns the number of engine workers
func GetEnvWorkerCount() (int, error) {
	return getEnvInt("WORKER_COUNT", DefaultWorkerCount)
}

// GetEnvMaxRetries returns the maximum dispatch retry count
func GetEnvMaxRetries() (int, error) {
	return getEnvInt("MAX_RETRIES", DefaultMaxRetries)
}

// GetEnvMetricsPort returns the port for the health and metrics server
func GetEnvMetricsPort() (string, error) {
	raw := os.Getenv("METRICS_PORT")
	if raw == "" {
		return DefaultMetricsPort, nil
	}
	if _, err := strconv.Atoi(raw); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT: %s", raw)
	}
	return raw, nil
}

// GetEnvCircuitBreakerEnabled returns whether circuit breakers are enabled
func GetEnvCircuitBreakerEnabled() (bool, error) {
	raw := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if raw == "" {
		return true, nil
	}
	return strconv.ParseBool(raw)
}

// GetEnvCircuitBreakerThreshold returns the breaker failure threshold
func GetEnvCircuitBreakerThreshold() (int, error) {
	return getEnvInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCBThreshold)
}

// GetEnvCircuitBreakerWindow returns the breaker failure window
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCBWindow)
}

// GetEnvCircuitBreakerReset returns the breaker reset timeout
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCBReset)
}

// GetEnvLogLevel returns the logging verbosity level
func GetEnvLogLevel() (logger.Level, error) {
	raw := os.Getenv("LOG_LEVEL")
	switch strings.ToLower(raw) {
	case "", "info":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL: %s", raw)
	}
}

// GetEnvLogColoring returns whether colored log output is enabled
func GetEnvLogColoring() (bool, error) {
	raw := os.Getenv("LOG_COLORING")
	if raw == "" {
		return true, nil
	}
	return strconv.ParseBool(raw)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, raw)
	}
	return d, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", key, raw)
	}
	return v, nil
}

func getEnvWei(key, fallback string) (*big.Int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		raw = fallback
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %s", key, raw)
	}
	return v, nil
}
