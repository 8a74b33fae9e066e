package token

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
	admin   = common.HexToAddress("0xad")
	alice   = common.HexToAddress("0xa1")
	bob     = common.HexToAddress("0xb0")
	spender = common.HexToAddress("0x5e")
)

func funded(t *testing.T, amount int64) *Ledger {
	t.Helper()
	l := NewLedger(access.New(admin))
	require.NoError(t, l.Mint(chain.NewTx(admin, 1), alice, big.NewInt(amount)))
	return l
}

func TestMintRequiresAdmin(t *testing.T) {
	l := NewLedger(access.New(admin))
	err := l.Mint(chain.NewTx(alice, 1), alice, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, int64(0), l.TotalSupply().Int64())
}

func TestTransfer(t *testing.T) {
	l := funded(t, 100)
	tx := chain.NewTx(alice, 1)

	require.NoError(t, l.Transfer(tx, alice, bob, big.NewInt(40)))
	assert.Equal(t, int64(60), l.BalanceOf(alice).Int64())
	assert.Equal(t, int64(40), l.BalanceOf(bob).Int64())
	assert.Len(t, tx.Events(), 1)

	err := l.Transfer(tx, alice, bob, big.NewInt(61))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.KindExternalCall, domain.KindOf(err))

	err = l.Transfer(chain.NewTx(bob, 1), alice, bob, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	err = l.Transfer(tx, alice, bob, big.NewInt(-1))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestTransferFrom(t *testing.T) {
	l := funded(t, 100)
	require.NoError(t, l.Approve(chain.NewTx(alice, 1), spender, big.NewInt(50)))

	tx := chain.NewTx(spender, 2)
	require.NoError(t, l.TransferFrom(tx, spender, alice, bob, big.NewInt(30)))
	assert.Equal(t, int64(20), l.Allowance(alice, spender).Int64())
	assert.Equal(t, int64(30), l.BalanceOf(bob).Int64())

	err := l.TransferFrom(tx, spender, alice, bob, big.NewInt(21))
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	err = l.TransferFrom(chain.NewTx(bob, 2), spender, alice, bob, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, l.TransferFrom(tx, spender, bob, alice, big.NewInt(0)))
}

func TestTransferFromInsufficientFundsKeepsAllowance(t *testing.T) {
	l := funded(t, 10)
	require.NoError(t, l.Approve(chain.NewTx(alice, 1), spender, big.NewInt(50)))

	err := l.TransferFrom(chain.NewTx(spender, 2), spender, alice, bob, big.NewInt(20))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(50), l.Allowance(alice, spender).Int64())
}

func TestSnapshotRestore(t *testing.T) {
	l := funded(t, 100)
	snap := l.Snapshot()

	tx := chain.NewTx(alice, 1)
	require.NoError(t, l.Transfer(tx, alice, bob, big.NewInt(100)))
	require.NoError(t, l.Approve(tx, spender, big.NewInt(5)))
	l.Restore(snap)

	assert.Equal(t, int64(100), l.BalanceOf(alice).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(bob).Int64())
	assert.Equal(t, int64(0), l.Allowance(alice, spender).Int64())
}
