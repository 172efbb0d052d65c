package proofstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/intentmesh-hq/auctioneer/pkg/circuitbreaker"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/metrics"
)

// LocalPrefix marks placeholder identifiers minted while the store was
// unreachable. Downstream consumers must not treat them as verifiable proofs.
const LocalPrefix = "local-"

var (
	// ErrNotFound means the content id is unknown to the store
	ErrNotFound = errors.New("content not found")
	// ErrLocalPlaceholder means the id is a placeholder with no retrievable content
	ErrLocalPlaceholder = errors.New("content id is a local placeholder")
	// ErrStoreUnavailable means the store could not be reached and placeholder
	// fallback is disabled
	ErrStoreUnavailable = errors.New("proof store unavailable")
)

// ContentID identifies pinned content.
type ContentID string

// IsLocal reports whether the id is an unverifiable local placeholder.
func (c ContentID) IsLocal() bool {
	return strings.HasPrefix(string(c), LocalPrefix)
}

// Client pins opaque bytes to the content-addressed store. Pin failures fall
// back to a locally-computed placeholder id so the auction is never blocked
// by store unavailability.
type Client struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	breaker         *circuitbreaker.CircuitBreaker
	fallbackEnabled bool
	logger          logger.Logger
}

// NewClient creates a proof store client. breaker may be nil to disable guarding.
func NewClient(baseURL, apiKey string, timeout time.Duration, fallbackEnabled bool, breaker *circuitbreaker.CircuitBreaker, log logger.Logger) *Client {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(false, 0, 0, 0)
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          apiKey,
		httpClient:      &http.Client{Timeout: timeout},
		breaker:         breaker,
		fallbackEnabled: fallbackEnabled,
		logger:          log,
	}
}

// Pin stores the bytes and returns their content id. When the store is
// unreachable and fallback is enabled, a placeholder id derived from the
// content hash is returned instead, carrying the reserved local prefix.
func (c *Client) Pin(ctx context.Context, data []byte) (ContentID, error) {
	id, err := c.pinRemote(ctx, data)
	if err == nil {
		return id, nil
	}

	if !c.fallbackEnabled {
		return "", fmt.Errorf("pin: %v: %w", err, ErrStoreUnavailable)
	}

	placeholder := ContentID(LocalPrefix + crypto.Keccak256Hash(data).Hex())
	c.logger.Notice(logger.Engine, "Proof store failed (%v), minted placeholder %s", err, placeholder)
	metrics.ProofStoreFallbacks.Inc()
	return placeholder, nil
}

// PinJSON marshals the value and pins the resulting bytes.
func (c *Client) PinJSON(ctx context.Context, v interface{}) (ContentID, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("pin json: failed to encode: %v", err)
	}
	return c.Pin(ctx, data)
}

// Fetch retrieves the bytes for a content id. Local placeholders have no
// retrievable content and fail immediately.
func (c *Client) Fetch(ctx context.Context, id ContentID) ([]byte, error) {
	if id.IsLocal() {
		return nil, fmt.Errorf("fetch %s: %w", id, ErrLocalPlaceholder)
	}
	if c.breaker.IsOpen() {
		return nil, fmt.Errorf("fetch %s: %w", id, ErrStoreUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/content/"+string(id), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: failed to build request: %v", id, err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("fetch %s: request failed: %v", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("fetch %s: %w", id, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("fetch %s: unexpected status code: %d", id, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) pinRemote(ctx context.Context, data []byte) (ContentID, error) {
	if c.breaker.IsOpen() {
		return "", fmt.Errorf("circuit breaker open")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pin", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return "", fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.breaker.RecordFailure()
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var decoded struct {
		CID string `json:"cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode response: %v", err)
	}
	if decoded.CID == "" {
		return "", fmt.Errorf("empty cid in response")
	}
	return ContentID(decoded.CID), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
