package elastic

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ledgerAddr = common.HexToAddress("0x2000")
	owner      = common.HexToAddress("0xaa")
	alice      = common.HexToAddress("0xa1")
	bob        = common.HexToAddress("0xb1")
)

func tokens(n int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), scale)
}

func newTestLedger(t *testing.T, genesis *big.Int) *Ledger {
	t.Helper()
	return New(ledgerAddr, "Lume Cash", "LUME", 18, genesis, alice, owner)
}

// sumBalances adds up every account tracked by the test.
func sumBalances(l *Ledger, accounts ...common.Address) *big.Int {
	sum := new(big.Int)
	for _, a := range accounts {
		sum.Add(sum, l.BalanceOf(a))
	}
	return sum
}

// assertClose fails unless got is within dust (1 internal rounding step) of
// want.
func assertClose(t *testing.T, want, got *big.Int, msg string) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	if diff.CmpAbs(big.NewInt(1)) > 0 {
		t.Fatalf("%s: got %s, want %s (diff %s)", msg, got, want, diff)
	}
}

func TestLedger_genesis(t *testing.T) {
	l := newTestLedger(t, tokens(50000))

	assert.Equal(t, tokens(50000), l.TotalSupply())
	assert.Equal(t, tokens(50000), l.BalanceOf(alice))
	assert.Equal(t, 0, l.BalanceOf(bob).Sign())
	assert.Equal(t, 0, l.TotalBurned().Sign())
}

func TestLedger_transfer(t *testing.T) {
	l := newTestLedger(t, tokens(1000))

	require.NoError(t, l.Transfer(alice, bob, tokens(400)))
	assert.Equal(t, tokens(600), l.BalanceOf(alice))
	assert.Equal(t, tokens(400), l.BalanceOf(bob))

	err := l.Transfer(alice, bob, tokens(601))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, tokens(600), l.BalanceOf(alice))
}

func TestLedger_mintAuthAndCeiling(t *testing.T) {
	l := newTestLedger(t, tokens(1000))

	assert.ErrorIs(t, l.Mint(bob, bob, tokens(1)), ErrNotMinter)

	require.NoError(t, l.Mint(owner, bob, tokens(500)))
	assert.Equal(t, tokens(500), l.BalanceOf(bob))
	assert.Equal(t, tokens(1500), l.TotalSupply())

	// A request past the ceiling is clamped, not rejected.
	require.NoError(t, l.Mint(owner, bob, new(big.Int).Set(MaxExternalSupply)))
	assert.Equal(t, MaxExternalSupply, l.TotalSupply())
}

func TestLedger_burn(t *testing.T) {
	l := newTestLedger(t, tokens(1000))

	// Self-burn.
	require.NoError(t, l.Burn(alice, alice, tokens(100)))
	assert.Equal(t, tokens(900), l.TotalSupply())
	assert.Equal(t, tokens(100), l.TotalBurned())

	// Minter burn of another account.
	require.NoError(t, l.Burn(owner, alice, tokens(100)))
	assert.Equal(t, tokens(800), l.TotalSupply())

	// Third parties cannot burn someone else's balance.
	require.NoError(t, l.Transfer(alice, bob, tokens(100)))
	assert.ErrorIs(t, l.Burn(alice, bob, tokens(1)), ErrNotMinter)

	assert.ErrorIs(t, l.Burn(alice, alice, tokens(10000)), ErrInsufficientBalance)
}

// TestLedger_rebaseProportional verifies the core rebase property: every
// holder's balance moves by the same proportion, to within one unit of
// rounding dust, and the balance sum never exceeds the supply.
func TestLedger_rebaseProportional(t *testing.T) {
	l := newTestLedger(t, tokens(1000))
	require.NoError(t, l.Transfer(alice, bob, tokens(400)))

	// +5%
	supply, err := l.Rebase(1, tokens(50))
	require.NoError(t, err)
	assert.Equal(t, tokens(1050), supply)
	assertClose(t, tokens(630), l.BalanceOf(alice), "alice after expansion")
	assertClose(t, tokens(420), l.BalanceOf(bob), "bob after expansion")
	assert.True(t, sumBalances(l, alice, bob).Cmp(supply) <= 0, "balances exceed supply")

	// -10% of the new supply
	supply, err = l.Rebase(2, new(big.Int).Neg(tokens(105)))
	require.NoError(t, err)
	assert.Equal(t, tokens(945), supply)
	assertClose(t, tokens(567), l.BalanceOf(alice), "alice after contraction")
	assertClose(t, tokens(378), l.BalanceOf(bob), "bob after contraction")
	assert.True(t, sumBalances(l, alice, bob).Cmp(supply) <= 0, "balances exceed supply")
}

// TestLedger_rebaseZeroDelta documents that a zero delta is a recorded no-op
// returning the unchanged supply without error.
func TestLedger_rebaseZeroDelta(t *testing.T) {
	l := newTestLedger(t, tokens(1000))

	supply, err := l.Rebase(1, new(big.Int))
	require.NoError(t, err)
	assert.Equal(t, tokens(1000), supply)
	assert.Equal(t, tokens(1000), l.BalanceOf(alice))
}

func TestLedger_rebaseRejectsNonPositiveSupply(t *testing.T) {
	l := newTestLedger(t, tokens(1000))

	_, err := l.Rebase(1, new(big.Int).Neg(tokens(1000)))
	assert.ErrorIs(t, err, ErrInvalidRebase)
	assert.Equal(t, tokens(1000), l.TotalSupply())
}

// TestLedger_mintThenRebaseConserves is a regression test for supply
// conservation: units created by mint live outside the genesis pool, and a
// later rebase must re-derive the supply from all outstanding units so the
// balance sum stays within it.
func TestLedger_mintThenRebaseConserves(t *testing.T) {
	l := newTestLedger(t, tokens(1000))
	require.NoError(t, l.Mint(owner, bob, tokens(500)))

	supply, err := l.Rebase(1, new(big.Int).Neg(tokens(300)))
	require.NoError(t, err)

	sum := sumBalances(l, alice, bob)
	assert.True(t, sum.Cmp(supply) <= 0,
		"balance sum %s exceeds supply %s", sum, supply)
	assert.True(t, sum.Cmp(l.TotalSupply()) <= 0)

	// Both holders contracted by the same proportion.
	assertClose(t, tokens(800), l.BalanceOf(alice), "alice after contraction")
	assertClose(t, tokens(400), l.BalanceOf(bob), "bob after contraction")
}

func TestLedger_supplyStateRestore(t *testing.T) {
	l := newTestLedger(t, tokens(1000))
	before := l.SupplyState()

	_, err := l.Rebase(1, tokens(100))
	require.NoError(t, err)
	assert.Equal(t, tokens(1100), l.TotalSupply())

	l.RestoreSupplyState(before)
	assert.Equal(t, tokens(1000), l.TotalSupply())
	assert.Equal(t, tokens(1000), l.BalanceOf(alice))
}

func TestLedger_transferMinterRole(t *testing.T) {
	l := newTestLedger(t, tokens(1000))

	assert.ErrorIs(t, l.TransferMinterRole(bob, bob), ErrNotOwner)
	require.NoError(t, l.TransferMinterRole(owner, bob))
	require.NoError(t, l.Mint(bob, bob, tokens(1)))
	assert.ErrorIs(t, l.Mint(owner, bob, tokens(1)), ErrNotMinter)
}
