package rebase

import (
	"errors"
	"math/big"
	"testing"

	"github.com/Fantom-foundation/lachesis-base/kvdb/memorydb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lume-fi/lumefi-contracts/elastic"
	"github.com/lume-fi/lumefi-contracts/inter"
	"github.com/lume-fi/lumefi-contracts/lume"
	"github.com/lume-fi/lumefi-contracts/oracle"
	"github.com/lume-fi/lumefi-contracts/records"
)

var (
	assetAddr    = common.HexToAddress("0x5000")
	owner        = common.HexToAddress("0xaa")
	orchestrator = common.HexToAddress("0xcc")
	holder       = common.HexToAddress("0xa1")
	stranger     = common.HexToAddress("0xdd")
)

func tokens(n int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), scale)
}

type fixture struct {
	ledger *elastic.Ledger
	oracle *oracle.Fixed
	recs   *records.Store
	policy *Policy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := elastic.New(assetAddr, "Lume Cash", "LUME", 18, tokens(1000), holder, owner)
	src := oracle.NewFixed(assetAddr, 18, big.NewInt(1e18))
	recs := records.NewStore(memorydb.New())
	now := func() inter.Timestamp { return inter.FromUnix(1_700_000_000) }
	policy := NewPolicy(lume.MainNetRules(), assetAddr, ledger, src, recs, owner, orchestrator, now)
	return &fixture{ledger: ledger, oracle: src, recs: recs, policy: policy}
}

// assertClose fails unless got is within one unit of want (internal rounding
// dust).
func assertClose(t *testing.T, want, got *big.Int, msg string) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	if diff.CmpAbs(big.NewInt(1)) > 0 {
		t.Fatalf("%s: got %s, want %s", msg, got, want)
	}
}

func TestPolicy_authorization(t *testing.T) {
	f := newFixture(t)

	_, err := f.policy.Rebase(stranger, 1)
	assert.ErrorIs(t, err, ErrNotOrchestrator)

	// Both the orchestrator and the owner may trigger.
	_, err = f.policy.Rebase(orchestrator, 1)
	require.NoError(t, err)
	_, err = f.policy.Rebase(owner, 2)
	require.NoError(t, err)
}

func TestPolicy_epochGate(t *testing.T) {
	f := newFixture(t)

	_, err := f.policy.Rebase(orchestrator, 3)
	require.NoError(t, err)

	_, err = f.policy.Rebase(orchestrator, 3)
	assert.ErrorIs(t, err, ErrEpochNotReady)
	_, err = f.policy.Rebase(orchestrator, 2)
	assert.ErrorIs(t, err, ErrEpochNotReady)

	_, err = f.policy.Rebase(orchestrator, 4)
	assert.NoError(t, err)
}

func TestPolicy_oracleOutageAborts(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetError(errors.New("feed down"))

	_, err := f.policy.Rebase(orchestrator, 1)
	assert.ErrorIs(t, err, ErrOracleUnavailable)
	assert.Equal(t, tokens(1000), f.ledger.TotalSupply())

	// The epoch was not consumed; recovery can retry it.
	f.oracle.SetError(nil)
	_, err = f.policy.Rebase(orchestrator, 1)
	assert.NoError(t, err)
}

// TestPolicy_inBandPriceIsNoop verifies that prices inside the threshold band
// produce a recorded zero-delta cycle.
func TestPolicy_inBandPriceIsNoop(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetPrice(big.NewInt(1.02e18))

	applied, err := f.policy.Rebase(orchestrator, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, applied.Sign())
	assert.Equal(t, tokens(1000), f.ledger.TotalSupply())

	d, ok := f.policy.LastDecision()
	require.True(t, ok)
	assert.Equal(t, 0, d.AppliedDelta.Sign())

	recs, err := f.recs.RebasesByEpoch(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 0, recs[0].Expansion.Sign())
	assert.Equal(t, 0, recs[0].Contraction.Sign())
}

func TestPolicy_contraction(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetPrice(big.NewInt(0.9e18))

	// Against the 0.95 threshold, 0.90 is 5% short: -5% of 1000.
	applied, err := f.policy.Rebase(orchestrator, 1)
	require.NoError(t, err)
	assertClose(t, new(big.Int).Neg(tokens(50)), applied, "applied delta")
	assertClose(t, tokens(950), f.ledger.TotalSupply(), "supply")

	recs, err := f.recs.RebasesByEpoch(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Contraction.Sign() > 0)
	assert.Equal(t, 0, recs[0].Expansion.Sign())
}

func TestPolicy_deltaCaps(t *testing.T) {
	f := newFixture(t)

	// A crash to 0.50 would be -45% raw; the cap limits it to -10%.
	f.oracle.SetPrice(big.NewInt(0.5e18))
	applied, err := f.policy.Rebase(orchestrator, 1)
	require.NoError(t, err)
	assertClose(t, new(big.Int).Neg(tokens(100)), applied, "capped contraction")

	// A spike to 1.30 would be +25% over the 1.05 threshold; capped at +10%.
	f.oracle.SetPrice(big.NewInt(1.3e18))
	applied, err = f.policy.Rebase(orchestrator, 2)
	require.NoError(t, err)
	assertClose(t, tokens(90), applied, "capped expansion") // 10% of 900
}

// TestPolicy_downstreamRollback verifies the all-or-nothing batch: a failing
// downstream call reverts the supply change and leaves the epoch retryable.
func TestPolicy_downstreamRollback(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetPrice(big.NewInt(0.9e18))

	calls := 0
	require.NoError(t, f.policy.AddDownstream(owner, Downstream{
		Name:    "sync",
		Call:    func() error { calls++; return nil },
		Enabled: true,
	}))
	require.NoError(t, f.policy.AddDownstream(owner, Downstream{
		Name:    "broken",
		Call:    func() error { return errors.New("boom") },
		Enabled: true,
	}))

	_, err := f.policy.Rebase(orchestrator, 1)
	assert.ErrorIs(t, err, ErrDownstreamCallFailed)
	assert.Equal(t, 1, calls)
	assert.Equal(t, tokens(1000), f.ledger.TotalSupply(), "supply change must be reverted")

	_, ok := f.policy.LastDecision()
	assert.False(t, ok, "failed cycle must not record a decision")
	recs, err := f.recs.RebasesByEpoch(1)
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Disable the broken entry; the same epoch can then be applied.
	require.NoError(t, f.policy.SetDownstreamEnabled(owner, 1, false))
	applied, err := f.policy.Rebase(orchestrator, 1)
	require.NoError(t, err)
	assertClose(t, new(big.Int).Neg(tokens(50)), applied, "applied after retry")
	assert.Equal(t, 2, calls)
}

func TestPolicy_downstreamAdminAuth(t *testing.T) {
	f := newFixture(t)

	err := f.policy.AddDownstream(stranger, Downstream{Name: "x", Call: func() error { return nil }})
	assert.ErrorIs(t, err, ErrNotOrchestrator)

	require.NoError(t, f.policy.AddDownstream(owner, Downstream{Name: "x", Call: func() error { return nil }}))
	assert.Error(t, f.policy.SetDownstreamEnabled(owner, 5, true))
	assert.ErrorIs(t, f.policy.SetDownstreamEnabled(stranger, 0, true), ErrNotOrchestrator)
}

// A non-18-decimals asset must be quoted at its own unit scale. A below-band
// price has to contract the supply, never expand it.
func TestPolicy_sixDecimalAssetContracts(t *testing.T) {
	units := func(n int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
	}
	ledger := elastic.New(assetAddr, "Lume Cash", "LUME", 6, units(1000), holder, owner)
	src := oracle.NewFixed(assetAddr, 6, big.NewInt(0.9e18))
	recs := records.NewStore(memorydb.New())
	now := func() inter.Timestamp { return inter.FromUnix(1_700_000_000) }
	policy := NewPolicy(lume.MainNetRules(), assetAddr, ledger, src, recs, owner, orchestrator, now)

	applied, err := policy.Rebase(orchestrator, 1)
	require.NoError(t, err)
	require.Equal(t, -1, applied.Sign())
	assertClose(t, units(950), ledger.TotalSupply(), "supply after 5% contraction")

	d, ok := policy.LastDecision()
	require.True(t, ok)
	assert.Equal(t, big.NewInt(0.9e18), d.ObservedPrice)
}
