package staking

import (
	"math/big"
	"testing"

	"github.com/alanyoungcy/bondescrow/internal/access"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin    = common.HexToAddress("0xad")
	escrow   = common.HexToAddress("0xe5")
	stranger = common.HexToAddress("0x99")
)

const t0 = 1_700_000_000

func newLedger() *Ledger {
	return NewLedger(access.New(admin), escrow, DefaultRewardRateBps)
}

func TestStakeRequiresEscrow(t *testing.T) {
	l := newLedger()
	err := l.Stake(chain.NewTx(stranger, t0), 1, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrNotTrustedCaller)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	_, _, err = l.Unstake(chain.NewTx(stranger, t0), 1)
	require.ErrorIs(t, err, domain.ErrNotTrustedCaller)
}

func TestRewardAccrual(t *testing.T) {
	tests := []struct {
		name      string
		principal int64
		elapsed   uint64
		want      int64
	}{
		{"one year", 1_000_000, domain.SecondsPerYear, 50_000},
		{"half year", 1_000_000, domain.SecondsPerYear / 2, 25_000},
		{"zero elapsed", 1_000_000, 0, 0},
		{"truncates dust", 1_000, 1, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := newLedger()
			require.NoError(t, l.Stake(chain.NewTx(escrow, t0), 1, big.NewInt(tc.principal)))

			got, err := l.CalculateReward(1, t0+tc.elapsed)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Int64())
		})
	}
}

func TestTopUpFoldsPending(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.Stake(chain.NewTx(escrow, t0), 1, big.NewInt(1_000_000)))
	require.NoError(t, l.Stake(chain.NewTx(escrow, t0+domain.SecondsPerYear), 1, big.NewInt(1_000_000)))

	info, err := l.StakeInfo(1)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), info.Principal.Int64())
	assert.Equal(t, int64(50_000), info.AccumulatedRewards.Int64())
	assert.Equal(t, uint64(t0+domain.SecondsPerYear), info.LastRewardTime)
	assert.Equal(t, uint64(t0), info.StartTime)

	principal, reward, err := l.Unstake(chain.NewTx(escrow, t0+2*domain.SecondsPerYear), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), principal.Int64())
	assert.Equal(t, int64(150_000), reward.Int64())
}

func TestUnstakeDeletesRecord(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.Stake(chain.NewTx(escrow, t0), 1, big.NewInt(500)))
	require.NoError(t, l.Stake(chain.NewTx(escrow, t0), 2, big.NewInt(700)))
	assert.Equal(t, int64(1200), l.TotalStaked().Int64())

	_, _, err := l.Unstake(chain.NewTx(escrow, t0+10), 1)
	require.NoError(t, err)
	assert.False(t, l.HasStake(1))
	assert.Equal(t, int64(700), l.TotalStaked().Int64())

	_, _, err = l.Unstake(chain.NewTx(escrow, t0+10), 1)
	require.ErrorIs(t, err, domain.ErrNoStakeFound)
}

func TestStakeRejectsZero(t *testing.T) {
	l := newLedger()
	require.ErrorIs(t, l.Stake(chain.NewTx(escrow, t0), 1, big.NewInt(0)), domain.ErrInvalidAmount)
}

func TestSetEscrowContract(t *testing.T) {
	l := newLedger()
	next := common.HexToAddress("0xe6")

	require.ErrorIs(t, l.SetEscrowContract(chain.NewTx(stranger, t0), next), domain.ErrUnauthorized)
	require.ErrorIs(t, l.SetEscrowContract(chain.NewTx(admin, t0), common.Address{}), domain.ErrInvalidParam)
	require.NoError(t, l.SetEscrowContract(chain.NewTx(admin, t0), next))

	require.ErrorIs(t, l.Stake(chain.NewTx(escrow, t0), 1, big.NewInt(1)), domain.ErrNotTrustedCaller)
	require.NoError(t, l.Stake(chain.NewTx(next, t0), 1, big.NewInt(1)))
}

func TestSnapshotRestore(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.Stake(chain.NewTx(escrow, t0), 1, big.NewInt(100)))
	snap := l.Snapshot()

	require.NoError(t, l.Stake(chain.NewTx(escrow, t0+5), 1, big.NewInt(50)))
	_, _, err := l.Unstake(chain.NewTx(escrow, t0+6), 1)
	require.NoError(t, err)
	l.Restore(snap)

	info, err := l.StakeInfo(1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Principal.Int64())
	assert.Equal(t, int64(100), l.TotalStaked().Int64())
}
