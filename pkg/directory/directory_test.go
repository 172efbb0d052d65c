package directory

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	governance = common.HexToAddress("0x1000000000000000000000000000000000000001")
	agentAddr  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	otherAddr  = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

// minStake 100, penalty 60: two slashes zero out a minimum stake
func newDirectory() *Directory {
	return NewDirectory(governance, big.NewInt(100), big.NewInt(60), nil)
}

func TestRegister(t *testing.T) {
	d := newDirectory()

	t.Run("stake below minimum rejected", func(t *testing.T) {
		_, err := d.Register("alice.eth", agentAddr, big.NewInt(99), "yield")
		assert.ErrorIs(t, err, ErrInsufficientStake)
	})

	t.Run("identity required", func(t *testing.T) {
		_, err := d.Register("", agentAddr, big.NewInt(100), "yield")
		assert.Error(t, err)
	})

	t.Run("first registration gets id 1", func(t *testing.T) {
		id, err := d.Register("alice.eth", agentAddr, big.NewInt(100), "yield")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)

		agent, err := d.Get(id)
		require.NoError(t, err)
		assert.Equal(t, "alice.eth", agent.IdentityHandle)
		assert.Equal(t, agentAddr, agent.Address)
		assert.True(t, agent.Active)
		assert.Zero(t, agent.Reputation)
	})

	t.Run("duplicate signing address rejected", func(t *testing.T) {
		_, err := d.Register("bob.eth", agentAddr, big.NewInt(200), "arb")
		assert.ErrorIs(t, err, ErrAgentExists)
	})

	t.Run("ids are sequential", func(t *testing.T) {
		id, err := d.Register("bob.eth", otherAddr, big.NewInt(200), "arb")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), id)
		assert.Equal(t, 2, d.Count())
	})
}

func TestSlash(t *testing.T) {
	d := newDirectory()
	id, err := d.Register("alice.eth", agentAddr, big.NewInt(150), "yield")
	require.NoError(t, err)

	t.Run("governance only", func(t *testing.T) {
		_, err := d.Slash(agentAddr, id, "misbehavior")
		assert.ErrorIs(t, err, ErrNotGovernance)
	})

	t.Run("unknown agent", func(t *testing.T) {
		_, err := d.Slash(governance, 99, "misbehavior")
		assert.ErrorIs(t, err, ErrNoSuchAgent)
	})

	t.Run("slash below minimum deactivates", func(t *testing.T) {
		record, err := d.Slash(governance, id, "missed execution")
		require.NoError(t, err)
		assert.Equal(t, int64(60), record.Penalty.Int64())
		assert.Equal(t, int64(90), record.Remaining.Int64())
		assert.True(t, record.Deactivated)
		assert.False(t, d.IsEligible(id))
	})

	t.Run("penalty capped at remaining stake", func(t *testing.T) {
		// 90 left; two more full penalties would go negative.
		_, err := d.Slash(governance, id, "again")
		require.NoError(t, err)
		record, err := d.Slash(governance, id, "and again")
		require.NoError(t, err)
		assert.Equal(t, int64(30), record.Penalty.Int64())
		assert.Zero(t, record.Remaining.Int64())
	})

	t.Run("log is append-only and ordered", func(t *testing.T) {
		records := d.SlashRecords()
		require.Len(t, records, 3)
		assert.Equal(t, "missed execution", records[0].Reason)
		assert.Equal(t, "and again", records[2].Reason)
	})
}

func TestEligibility(t *testing.T) {
	d := newDirectory()
	id, err := d.Register("alice.eth", agentAddr, big.NewInt(200), "yield")
	require.NoError(t, err)

	assert.True(t, d.IsEligible(id))
	assert.False(t, d.IsEligible(42))

	t.Run("deactivation removes eligibility", func(t *testing.T) {
		assert.ErrorIs(t, d.Deactivate(agentAddr, id), ErrNotGovernance)
		require.NoError(t, d.Deactivate(governance, id))
		assert.False(t, d.IsEligible(id))

		// Stake is untouched by deactivation.
		agent, err := d.Get(id)
		require.NoError(t, err)
		assert.Equal(t, int64(200), agent.Stake.Int64())
	})
}

func TestAdjustReputation(t *testing.T) {
	d := newDirectory()
	id, err := d.Register("alice.eth", agentAddr, big.NewInt(100), "yield")
	require.NoError(t, err)

	require.NoError(t, d.AdjustReputation(id, 1))
	require.NoError(t, d.AdjustReputation(id, 1))
	require.NoError(t, d.AdjustReputation(id, -1))

	agent, err := d.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), agent.Reputation)

	assert.ErrorIs(t, d.AdjustReputation(42, 1), ErrNoSuchAgent)
}

func TestGetReturnsCopy(t *testing.T) {
	d := newDirectory()
	id, err := d.Register("alice.eth", agentAddr, big.NewInt(100), "yield")
	require.NoError(t, err)

	agent, err := d.Get(id)
	require.NoError(t, err)
	agent.Stake.SetInt64(0)

	fresh, err := d.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), fresh.Stake.Int64())
}
