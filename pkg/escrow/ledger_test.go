package escrow

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

var (
	governance = common.HexToAddress("0x1000000000000000000000000000000000000001")
	creator    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	payout     = common.HexToAddress("0x3000000000000000000000000000000000000003")
	token      = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger(governance, nil)
	require.NoError(t, l.AuthorizeReleaser(governance, ReleaserIntentRegistry))
	return l
}

func TestLockValidation(t *testing.T) {
	l := newLedger(t)

	t.Run("funded must equal amount", func(t *testing.T) {
		_, err := l.Lock("intent-1", creator, big.NewInt(100), big.NewInt(99), token)
		assert.ErrorIs(t, err, ErrAmountMismatch)

		_, err = l.Lock("intent-1", creator, big.NewInt(100), big.NewInt(101), token)
		assert.ErrorIs(t, err, ErrAmountMismatch)
	})

	t.Run("amount must be positive", func(t *testing.T) {
		_, err := l.Lock("intent-1", creator, big.NewInt(0), big.NewInt(0), token)
		assert.Error(t, err)
	})

	t.Run("duplicate entry rejected", func(t *testing.T) {
		_, err := l.Lock("intent-1", creator, big.NewInt(100), big.NewInt(100), token)
		require.NoError(t, err)

		_, err = l.Lock("intent-1", creator, big.NewInt(100), big.NewInt(100), token)
		assert.ErrorIs(t, err, ErrEntryExists)
	})
}

func TestReleaseFiresExactlyOnce(t *testing.T) {
	l := newLedger(t)
	_, err := l.Lock("intent-1", creator, big.NewInt(100), big.NewInt(100), token)
	require.NoError(t, err)

	receipt, err := l.Release(ReleaserIntentRegistry, "intent-1", payout)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptRelease, receipt.Kind)
	assert.Equal(t, payout, receipt.To)
	assert.Equal(t, int64(100), receipt.Amount.Int64())

	t.Run("second release fails", func(t *testing.T) {
		_, err := l.Release(ReleaserIntentRegistry, "intent-1", payout)
		assert.ErrorIs(t, err, ErrAlreadyReleased)
	})

	t.Run("refund after release fails", func(t *testing.T) {
		_, err := l.Refund(ReleaserIntentRegistry, "intent-1")
		assert.ErrorIs(t, err, ErrAlreadyReleased)
	})
}

func TestRefundGoesToCreator(t *testing.T) {
	l := newLedger(t)
	_, err := l.Lock("intent-1", creator, big.NewInt(250), big.NewInt(250), token)
	require.NoError(t, err)

	receipt, err := l.Refund(ReleaserIntentRegistry, "intent-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptRefund, receipt.Kind)
	assert.Equal(t, creator, receipt.To)

	_, err = l.Release(ReleaserIntentRegistry, "intent-1", payout)
	assert.ErrorIs(t, err, ErrAlreadyReleased)
}

func TestReleaserAuthorization(t *testing.T) {
	l := newLedger(t)
	_, err := l.Lock("intent-1", creator, big.NewInt(100), big.NewInt(100), token)
	require.NoError(t, err)

	t.Run("unauthorized releaser rejected", func(t *testing.T) {
		_, err := l.Release(ReleaserCrossChainDispatcher, "intent-1", payout)
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("only governance mutates the set", func(t *testing.T) {
		err := l.AuthorizeReleaser(creator, ReleaserCrossChainDispatcher)
		assert.ErrorIs(t, err, ErrNotGovernance)

		err = l.RevokeReleaser(creator, ReleaserIntentRegistry)
		assert.ErrorIs(t, err, ErrNotGovernance)
	})

	t.Run("authorized after grant", func(t *testing.T) {
		require.NoError(t, l.AuthorizeReleaser(governance, ReleaserCrossChainDispatcher))
		_, err := l.Release(ReleaserCrossChainDispatcher, "intent-1", payout)
		assert.NoError(t, err)
	})

	t.Run("revoked releaser rejected", func(t *testing.T) {
		_, err := l.Lock("intent-2", creator, big.NewInt(100), big.NewInt(100), token)
		require.NoError(t, err)
		require.NoError(t, l.RevokeReleaser(governance, ReleaserCrossChainDispatcher))

		_, err = l.Release(ReleaserCrossChainDispatcher, "intent-2", payout)
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})
}

func TestSettleUnknownEntry(t *testing.T) {
	l := newLedger(t)

	_, err := l.Release(ReleaserIntentRegistry, "missing", payout)
	assert.ErrorIs(t, err, ErrNoSuchEntry)

	_, err = l.Refund(ReleaserIntentRegistry, "missing")
	assert.ErrorIs(t, err, ErrNoSuchEntry)
}

func TestLockedValueTracksCustody(t *testing.T) {
	l := newLedger(t)
	_, err := l.Lock("intent-1", creator, big.NewInt(100), big.NewInt(100), token)
	require.NoError(t, err)
	_, err = l.Lock("intent-2", creator, big.NewInt(250), big.NewInt(250), token)
	require.NoError(t, err)

	assert.Equal(t, int64(350), l.LockedValue().Int64())

	_, err = l.Release(ReleaserIntentRegistry, "intent-1", payout)
	require.NoError(t, err)
	assert.Equal(t, int64(250), l.LockedValue().Int64())
}

func TestConcurrentSettleExactlyOneWins(t *testing.T) {
	l := newLedger(t)
	_, err := l.Lock("intent-1", creator, big.NewInt(100), big.NewInt(100), token)
	require.NoError(t, err)

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = l.Release(ReleaserIntentRegistry, "intent-1", payout)
			} else {
				_, err = l.Refund(ReleaserIntentRegistry, "intent-1")
			}
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyReleased)
		}
	}
	assert.Equal(t, 1, succeeded)
}
