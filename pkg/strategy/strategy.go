package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/intentmesh-hq/auctioneer/pkg/circuitbreaker"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/metrics"
)

var (
	// ErrServiceUnavailable means the reasoning service could not be reached
	// and fallback substitution is disabled
	ErrServiceUnavailable = errors.New("strategy service unavailable")
)

// Source records where a draft came from, so callers can distinguish a
// low-confidence answer from an unreachable service.
type Source string

const (
	// SourceService means the reasoning service answered
	SourceService Source = "service"
	// SourceFallback means a deterministic fallback was substituted
	SourceFallback Source = "fallback"
)

// Draft is a proposed execution strategy for an intent.
type Draft struct {
	Type            string   `json:"type"`
	Protocols       []string `json:"protocols"`
	Chains          []string `json:"chains"`
	Steps           []string `json:"steps"`
	ExpectedAPY     float64  `json:"expected_apy"`
	TimelineSeconds int64    `json:"timeline_seconds"`
	CostWei         *big.Int `json:"cost_wei"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning,omitempty"`
	DstSelector     uint32   `json:"dst_selector,omitempty"`
}

// Hash returns the strategy hash agents commit to in their signatures.
func (d Draft) Hash() common.Hash {
	encoded, _ := json.Marshal(d)
	return crypto.Keccak256Hash(encoded)
}

// Outcome is a draft plus its provenance.
type Outcome struct {
	Draft  Draft
	Source Source
}

// MarketSnapshot is the market context handed to the reasoning service.
type MarketSnapshot struct {
	Prices    map[string]*big.Int `json:"prices"` // fixed-point, 8 decimals
	Rates     map[string]float64  `json:"rates"`  // protocol APYs
	Timestamp int64               `json:"timestamp"`
}

// serviceRequest is the wire format of a strategy generation request.
type serviceRequest struct {
	Spec   string         `json:"spec"`
	Market MarketSnapshot `json:"market_snapshot"`
}

// serviceResponse is the wire format of a strategy generation response.
type serviceResponse struct {
	Strategy   Draft   `json:"strategy"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Client calls the external reasoning service. When the service fails or
// times out and fallback is enabled, a deterministic fallback draft is
// substituted and tagged as such so the auction is never blocked.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	breaker         *circuitbreaker.CircuitBreaker
	fallbackEnabled bool
	logger          logger.Logger
}

// NewClient creates a strategy client. breaker may be nil to disable guarding.
func NewClient(baseURL string, timeout time.Duration, fallbackEnabled bool, breaker *circuitbreaker.CircuitBreaker, log logger.Logger) *Client {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(false, 0, 0, 0)
	}
	return &Client{
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: timeout},
		breaker:         breaker,
		fallbackEnabled: fallbackEnabled,
		logger:          log,
	}
}

// Propose asks the reasoning service for a strategy draft given the intent
// spec and a market snapshot.
func (c *Client) Propose(ctx context.Context, spec string, snapshot MarketSnapshot) (Outcome, error) {
	draft, err := c.callService(ctx, spec, snapshot)
	if err == nil {
		return Outcome{Draft: draft, Source: SourceService}, nil
	}

	if !c.fallbackEnabled {
		return Outcome{}, fmt.Errorf("propose strategy: %v: %w", err, ErrServiceUnavailable)
	}

	c.logger.Notice(logger.Engine, "Strategy service failed (%v), substituting fallback draft", err)
	metrics.StrategyFallbacks.Inc()
	return Outcome{Draft: FallbackDraft(), Source: SourceFallback}, nil
}

func (c *Client) callService(ctx context.Context, spec string, snapshot MarketSnapshot) (Draft, error) {
	if c.breaker.IsOpen() {
		return Draft{}, fmt.Errorf("circuit breaker open")
	}

	body, err := json.Marshal(serviceRequest{Spec: spec, Market: snapshot})
	if err != nil {
		return Draft{}, fmt.Errorf("failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/strategy", bytes.NewReader(body))
	if err != nil {
		return Draft{}, fmt.Errorf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return Draft{}, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		return Draft{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var decoded serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Draft{}, fmt.Errorf("failed to decode response: %v", err)
	}

	draft := decoded.Strategy
	if decoded.Confidence > 0 {
		draft.Confidence = decoded.Confidence
	}
	if decoded.Reasoning != "" {
		draft.Reasoning = decoded.Reasoning
	}
	if draft.CostWei == nil {
		draft.CostWei = new(big.Int)
	}
	return draft, nil
}

// FallbackDraft is the deterministic strategy substituted when the reasoning
// service is unreachable. Its confidence is deliberately low so downstream
// ranking treats it accordingly.
func FallbackDraft() Draft {
	return Draft{
		Type:      "yield-farming",
		Protocols: []string{"Aave", "Compound"},
		Chains:    []string{"Ethereum", "Arbitrum"},
		Steps: []string{
			"Deposit stablecoins to Aave",
			"Stake aTokens for additional yield",
			"Monitor rates and rebalance",
		},
		ExpectedAPY:     5.5,
		TimelineSeconds: 86400,
		CostWei:         big.NewInt(10000000000000000), // 0.01 ether
		Confidence:      0.5,
		Reasoning:       "Fallback strategy based on intent keywords",
	}
}
