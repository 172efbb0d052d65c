package config

import (
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"
)

// RosterAgent describes an agent operated by this service. The private
// key funds proposal signatures, not on-chain transactions.
type RosterAgent struct {
	Identity       string   `yaml:"identity"`
	PrivateKey     string   `yaml:"private_key"`
	Specialization string   `yaml:"specialization"`
	StakeWei       string   `yaml:"stake_wei"`
	Stake          *big.Int `yaml:"-"`
}

type rosterFile struct {
	Agents []RosterAgent `yaml:"agents"`
}

// LoadRoster reads the agent roster from a YAML file. An empty path
// yields an empty roster; the service then only brokers external agents.
func LoadRoster(path string) ([]RosterAgent, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent roster %s: %w", path, err)
	}

	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent roster %s: %w", path, err)
	}

	for i := range file.Agents {
		agent := &file.Agents[i]
		if agent.Identity == "" {
			return nil, fmt.Errorf("agent roster entry %d: identity is required", i)
		}
		if agent.PrivateKey == "" {
			return nil, fmt.Errorf("agent %s: private_key is required", agent.Identity)
		}
		stake, ok := new(big.Int).SetString(agent.StakeWei, 10)
		if !ok || stake.Sign() <= 0 {
			return nil, fmt.Errorf("agent %s: invalid stake_wei %q", agent.Identity, agent.StakeWei)
		}
		agent.Stake = stake
	}

	return file.Agents, nil
}
