package directory

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/metrics"
	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

var (
	// ErrInsufficientStake means the offered stake is below the registry minimum
	ErrInsufficientStake = errors.New("stake below minimum")
	// ErrAgentExists means the signing address is already bound to an agent
	ErrAgentExists = errors.New("signing address already registered")
	// ErrNoSuchAgent means the agent id is unknown
	ErrNoSuchAgent = errors.New("agent not found")
	// ErrNotGovernance means the caller is not the governance principal
	ErrNotGovernance = errors.New("caller is not governance")
)

// Directory is the stake-gated agent registry. It owns the agent table and
// the append-only slashing log; stake custody never leaves this component.
type Directory struct {
	mu           sync.Mutex
	governance   common.Address
	minStake     *big.Int
	slashPenalty *big.Int
	nextID       uint64
	agents       map[uint64]*models.Agent
	byAddress    map[common.Address]uint64
	slashLog     []models.SlashRecord
	logger       logger.Logger
}

// NewDirectory creates an agent directory with the given governance principal,
// minimum stake and fixed slashing penalty.
func NewDirectory(governance common.Address, minStake, slashPenalty *big.Int, log logger.Logger) *Directory {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Directory{
		governance:   governance,
		minStake:     new(big.Int).Set(minStake),
		slashPenalty: new(big.Int).Set(slashPenalty),
		nextID:       1,
		agents:       make(map[uint64]*models.Agent),
		byAddress:    make(map[common.Address]uint64),
		logger:       log,
	}
}

// Register creates a new agent, locking the offered stake into the directory.
// The signing address is bound once and all proposal signatures verify against it.
func (d *Directory) Register(identity string, addr common.Address, stake *big.Int, specialization string) (uint64, error) {
	if identity == "" {
		return 0, fmt.Errorf("identity handle is required")
	}
	if stake == nil || stake.Cmp(d.minStake) < 0 {
		return 0, fmt.Errorf("register %s: %w", identity, ErrInsufficientStake)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byAddress[addr]; exists {
		return 0, fmt.Errorf("register %s: %w", identity, ErrAgentExists)
	}

	id := d.nextID
	d.nextID++
	d.agents[id] = &models.Agent{
		ID:             id,
		IdentityHandle: identity,
		Address:        addr,
		Stake:          new(big.Int).Set(stake),
		Reputation:     0,
		Specialization: specialization,
		Active:         true,
		RegisteredAt:   time.Now(),
	}
	d.byAddress[addr] = id

	d.logger.Info(logger.Directory, "Registered agent %d (%s) with stake %s", id, identity, stake.String())
	metrics.RegisteredAgents.Inc()
	return id, nil
}

// Slash applies the penalty to an agent's stake and records the event.
// Only the governance principal may call it. The stake never goes below zero,
// and the agent is deactivated when the remaining stake drops under the minimum.
func (d *Directory) Slash(caller common.Address, agentID uint64, reason string) (models.SlashRecord, error) {
	if caller != d.governance {
		return models.SlashRecord{}, fmt.Errorf("slash agent %d: %w", agentID, ErrNotGovernance)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[agentID]
	if !ok {
		return models.SlashRecord{}, fmt.Errorf("slash agent %d: %w", agentID, ErrNoSuchAgent)
	}

	penalty := new(big.Int).Set(d.slashPenalty)
	if penalty.Cmp(agent.Stake) > 0 {
		penalty.Set(agent.Stake)
	}
	agent.Stake = new(big.Int).Sub(agent.Stake, penalty)

	deactivated := false
	if agent.Stake.Cmp(d.minStake) < 0 {
		agent.Active = false
		deactivated = true
	}

	record := models.SlashRecord{
		AgentID:     agentID,
		Reason:      reason,
		Penalty:     penalty,
		Remaining:   new(big.Int).Set(agent.Stake),
		Deactivated: deactivated,
		At:          time.Now(),
	}
	d.slashLog = append(d.slashLog, record)

	d.logger.Notice(logger.Directory, "Slashed agent %d by %s (reason: %s, remaining: %s, deactivated: %v)",
		agentID, penalty.String(), reason, agent.Stake.String(), deactivated)
	metrics.AgentsSlashed.Inc()
	return record, nil
}

// Deactivate removes an agent from the eligible set without touching its stake.
// Governance-only.
func (d *Directory) Deactivate(caller common.Address, agentID uint64) error {
	if caller != d.governance {
		return fmt.Errorf("deactivate agent %d: %w", agentID, ErrNotGovernance)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[agentID]
	if !ok {
		return fmt.Errorf("deactivate agent %d: %w", agentID, ErrNoSuchAgent)
	}
	agent.Active = false
	d.logger.Info(logger.Directory, "Deactivated agent %d", agentID)
	return nil
}

// IsEligible reports whether an agent may submit proposals: it must be active
// and keep its stake at or above the minimum.
func (d *Directory) IsEligible(agentID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[agentID]
	if !ok {
		return false
	}
	return agent.Active && agent.Stake.Cmp(d.minStake) >= 0
}

// Get returns a copy of the agent record.
func (d *Directory) Get(agentID uint64) (models.Agent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[agentID]
	if !ok {
		return models.Agent{}, fmt.Errorf("get agent %d: %w", agentID, ErrNoSuchAgent)
	}
	cp := *agent
	cp.Stake = new(big.Int).Set(agent.Stake)
	return cp, nil
}

// AdjustReputation moves an agent's reputation by delta. Completion events
// credit the winner; disputes debit it.
func (d *Directory) AdjustReputation(agentID uint64, delta int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[agentID]
	if !ok {
		return fmt.Errorf("adjust reputation for agent %d: %w", agentID, ErrNoSuchAgent)
	}
	agent.Reputation += delta
	d.logger.Debug(logger.Directory, "Agent %d reputation adjusted by %d to %d", agentID, delta, agent.Reputation)
	return nil
}

// SlashRecords returns a copy of the append-only slashing log.
func (d *Directory) SlashRecords() []models.SlashRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	records := make([]models.SlashRecord, len(d.slashLog))
	copy(records, d.slashLog)
	return records
}

// Count returns the number of registered agents, active or not.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.agents)
}
