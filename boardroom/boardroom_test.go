package boardroom

import (
	"math/big"
	"testing"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb/memorydb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lume-fi/lumefi-contracts/elastic"
	"github.com/lume-fi/lumefi-contracts/inter"
	"github.com/lume-fi/lumefi-contracts/lume"
	"github.com/lume-fi/lumefi-contracts/oracle"
	"github.com/lume-fi/lumefi-contracts/records"
	"github.com/lume-fi/lumefi-contracts/token"
)

var (
	boardAddr     = common.HexToAddress("0xb0")
	treasuryAddr  = common.HexToAddress("0x7e")
	ownerAddr     = common.HexToAddress("0xaa")
	operatorAddr  = common.HexToAddress("0xbb")
	collectorAddr = common.HexToAddress("0xfc")
	strangerAddr  = common.HexToAddress("0xdd")
	alice         = common.HexToAddress("0xa1")
	bob           = common.HexToAddress("0xa2")
	shareAddr     = common.HexToAddress("0x51")
	refAddr       = common.HexToAddress("0x52")
	rewardAddr    = common.HexToAddress("0x53")
)

func tokens(n int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), scale)
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

type fixture struct {
	epoch  idx.Epoch
	share  *token.Standard
	ref    *token.Standard
	reward *token.Standard
	src    *oracle.Fixed
	recs   *records.Store
	board  *Boardroom
}

// newFixture builds a boardroom with the accelerated fakenet rules, a fixed
// reward asset at parity and the treasury holding 10000 reward tokens.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		share:  token.NewStandard(shareAddr, "LumeFi Share", "LSHARE", 18, ownerAddr),
		ref:    token.NewStandard(refAddr, "Wrapped Fantom", "WFTM", 18, ownerAddr),
		reward: token.NewStandard(rewardAddr, "Lume Cash", "LUME", 18, ownerAddr),
		src:    oracle.NewFixed(rewardAddr, 18, big.NewInt(1e18)),
		recs:   records.NewStore(memorydb.New()),
	}
	f.board = New(lume.FakeNetRules().Boardroom, Config{
		Address:      boardAddr,
		Share:        f.share,
		Reference:    f.ref,
		Owner:        ownerAddr,
		Operator:     operatorAddr,
		Treasury:     treasuryAddr,
		FeeCollector: collectorAddr,
	}, EpochFunc(func() idx.Epoch { return f.epoch }), f.recs)

	require.NoError(t, f.share.Mint(ownerAddr, alice, tokens(1000)))
	require.NoError(t, f.share.Mint(ownerAddr, bob, tokens(1000)))
	require.NoError(t, f.reward.Mint(ownerAddr, treasuryAddr, tokens(10000)))
	require.NoError(t, f.board.AddRewardAsset(ownerAddr, f.reward, f.src, nil))
	return f
}

func (f *fixture) credit(t *testing.T, amount *big.Int) {
	t.Helper()
	at := inter.FromUnix(1_700_000_000)
	require.NoError(t, f.board.CreditReward(treasuryAddr, rewardAddr, amount, at))
}

func TestBoardroom_stakeAndEarn(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.board.Stake(alice, new(big.Int)), ErrZeroAmount)
	require.NoError(t, f.board.Stake(alice, tokens(300)))
	require.NoError(t, f.board.Stake(bob, tokens(200)))
	assert.Equal(t, tokens(500), f.board.TotalStaked())
	assert.Equal(t, tokens(500), f.share.BalanceOf(boardAddr))
	assert.Equal(t, tokens(300), f.board.PrincipalOf(alice))

	// Rewards split 3:2 with the stake.
	f.credit(t, tokens(1000))
	assert.Equal(t, tokens(600), f.board.Earned(alice, rewardAddr))
	assert.Equal(t, tokens(400), f.board.Earned(bob, rewardAddr))

	// A second credit accumulates on top of the first.
	f.credit(t, tokens(500))
	assert.Equal(t, tokens(900), f.board.Earned(alice, rewardAddr))
	assert.Equal(t, tokens(600), f.board.Earned(bob, rewardAddr))

	// Non-members and unknown assets earn nothing.
	assert.Equal(t, 0, f.board.Earned(strangerAddr, rewardAddr).Sign())
	assert.Equal(t, 0, f.board.Earned(alice, strangerAddr).Sign())
}

func TestBoardroom_creditGuards(t *testing.T) {
	f := newFixture(t)
	at := inter.FromUnix(1_700_000_000)

	assert.ErrorIs(t, f.board.CreditReward(treasuryAddr, rewardAddr, tokens(1), at), ErrNoStakers)

	require.NoError(t, f.board.Stake(alice, tokens(100)))
	assert.ErrorIs(t, f.board.CreditReward(strangerAddr, rewardAddr, tokens(1), at), ErrUnauthorized)
	assert.ErrorIs(t, f.board.CreditReward(treasuryAddr, rewardAddr, new(big.Int), at), ErrZeroAmount)
	assert.ErrorIs(t, f.board.CreditReward(treasuryAddr, strangerAddr, tokens(1), at), ErrUnknownAsset)

	// A failed pull must leave no phantom reward behind: the treasury only
	// holds 10000 tokens.
	err := f.board.CreditReward(treasuryAddr, rewardAddr, tokens(20000), at)
	require.Error(t, err)
	assert.Equal(t, 0, f.board.Earned(alice, rewardAddr).Sign())
}

func TestBoardroom_withdrawLifecycle(t *testing.T) {
	f := newFixture(t)
	f.epoch = 1
	require.NoError(t, f.board.Stake(alice, tokens(100)))

	assert.ErrorIs(t, f.board.RequestWithdraw(bob, tokens(1)), ErrNoSuchMember)
	assert.ErrorIs(t, f.board.RequestWithdraw(alice, new(big.Int)), ErrZeroAmount)
	assert.ErrorIs(t, f.board.RequestWithdraw(alice, tokens(150)), ErrInsufficientStake)

	require.NoError(t, f.board.RequestWithdraw(alice, tokens(40)))
	assert.Equal(t, tokens(60), f.board.PrincipalOf(alice))
	assert.Equal(t, tokens(60), f.board.TotalStaked())
	pending, unlock, ok := f.board.PendingOf(alice)
	require.True(t, ok)
	assert.Equal(t, tokens(40), pending)
	assert.Equal(t, idx.Epoch(3), unlock)

	assert.ErrorIs(t, f.board.FinalizeWithdraw(alice), ErrStillLocked)
	f.epoch = 2
	assert.ErrorIs(t, f.board.FinalizeWithdraw(alice), ErrStillLocked)

	f.epoch = 3
	require.NoError(t, f.board.FinalizeWithdraw(alice))
	assert.Equal(t, tokens(940), f.share.BalanceOf(alice))
	_, _, ok = f.board.PendingOf(alice)
	assert.False(t, ok)
	assert.ErrorIs(t, f.board.FinalizeWithdraw(alice), ErrNothingPending)
	assert.ErrorIs(t, f.board.CancelPendingWithdraw(alice), ErrNothingPending)
}

func TestBoardroom_withdrawSacrificesAccruedReward(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.board.Stake(alice, tokens(100)))
	f.credit(t, tokens(1000))

	// Withdrawing 40% of the stake burns 40% of the accrued reward.
	require.NoError(t, f.board.RequestWithdraw(alice, tokens(40)))
	assert.Equal(t, tokens(600), f.board.Earned(alice, rewardAddr))
	assert.Equal(t, tokens(400), f.reward.TotalBurned())
}

func TestBoardroom_cancelRestoresStake(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.board.Stake(alice, tokens(100)))
	require.NoError(t, f.board.RequestWithdraw(alice, tokens(40)))

	require.NoError(t, f.board.CancelPendingWithdraw(alice))
	assert.Equal(t, tokens(100), f.board.PrincipalOf(alice))
	assert.Equal(t, tokens(100), f.board.TotalStaked())
	_, _, ok := f.board.PendingOf(alice)
	assert.False(t, ok)
}

func TestBoardroom_claimBurn(t *testing.T) {
	f := newFixture(t)
	f.epoch = 1
	require.NoError(t, f.board.Stake(alice, tokens(100)))
	f.credit(t, tokens(1000))

	// The reward lockup spans one fakenet epoch.
	assert.ErrorIs(t, f.board.Claim(alice, ClaimBurn, nil), ErrStillLocked)
	assert.ErrorIs(t, f.board.Claim(bob, ClaimBurn, nil), ErrNoSuchMember)

	f.epoch = 2
	assert.ErrorIs(t, f.board.Claim(alice, ClaimOption(99), nil), ErrUnsupportedClaimOption)
	require.NoError(t, f.board.Claim(alice, ClaimBurn, nil))
	assert.Equal(t, tokens(660), f.reward.BalanceOf(alice))
	assert.Equal(t, tokens(340), f.reward.TotalBurned())
	assert.Equal(t, 0, f.board.Earned(alice, rewardAddr).Sign())

	claims, err := f.recs.Claims()
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, tokens(660), claims[0].Paid)
	assert.Equal(t, tokens(340), claims[0].Burned)
	assert.Equal(t, uint8(ClaimBurn), claims[0].Option)

	// The claim reset the lockup.
	assert.ErrorIs(t, f.board.Claim(alice, ClaimBurn, nil), ErrStillLocked)
}

func TestBoardroom_claimFee(t *testing.T) {
	f := newFixture(t)
	f.src.SetPrice(big.NewInt(2e18))
	f.epoch = 1
	require.NoError(t, f.board.Stake(alice, tokens(100)))
	f.credit(t, tokens(1000))
	f.epoch = 2

	// 1000 tokens at price 2.0 and a 4% fee owe 80 reference tokens.
	assert.ErrorIs(t, f.board.Claim(alice, ClaimFee, nil), ErrInsufficientFee)
	assert.ErrorIs(t, f.board.Claim(alice, ClaimFee, tokens(79)), ErrInsufficientFee)

	require.NoError(t, f.ref.Mint(ownerAddr, alice, tokens(80)))
	require.NoError(t, f.board.Claim(alice, ClaimFee, tokens(80)))
	assert.Equal(t, tokens(1000), f.reward.BalanceOf(alice))
	assert.Equal(t, 0, f.ref.BalanceOf(alice).Sign())
	assert.Equal(t, tokens(80), f.board.FeePool())
	assert.Equal(t, 0, f.reward.TotalBurned().Sign())
}

func TestBoardroom_loyaltyDiscountReducesFee(t *testing.T) {
	f := newFixture(t)
	f.src.SetPrice(big.NewInt(2e18))
	f.epoch = 1
	require.NoError(t, f.board.Stake(alice, tokens(100)))

	// An empty claim keeps the expiry timer fresh without disturbing the
	// stake or the loyalty clock.
	f.epoch = 6
	require.NoError(t, f.board.Claim(alice, ClaimBurn, nil))
	f.credit(t, tokens(1000))

	// At epoch 9 the stake is 8 epochs old, which grants a 10% fee discount:
	// the 80-token fee drops to 72.
	f.epoch = 9
	assert.ErrorIs(t, f.board.Claim(alice, ClaimFee, tokens(71)), ErrInsufficientFee)
	require.NoError(t, f.ref.Mint(ownerAddr, alice, tokens(72)))
	require.NoError(t, f.board.Claim(alice, ClaimFee, tokens(72)))
	assert.Equal(t, tokens(1000), f.reward.BalanceOf(alice))
	assert.Equal(t, tokens(72), f.board.FeePool())
}

func TestBoardroom_idleRewardExpires(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.board.Stake(alice, tokens(100)))
	f.credit(t, tokens(1000))

	// Six fakenet epochs of inactivity forfeit the whole pending reward.
	f.epoch = 6
	require.NoError(t, f.board.Claim(alice, ClaimBurn, nil))
	assert.Equal(t, 0, f.reward.BalanceOf(alice).Sign())
	assert.Equal(t, tokens(1000), f.reward.TotalBurned())
	assert.Equal(t, 0, f.board.Earned(alice, rewardAddr).Sign())

	// The expiry reset the timer; fresh rewards claim normally.
	f.credit(t, tokens(500))
	f.epoch = 7
	require.NoError(t, f.board.Claim(alice, ClaimBurn, nil))
	assert.Equal(t, tokens(330), f.reward.BalanceOf(alice))
}

// TestBoardroom_elasticRewardNormalization verifies that rewards held through
// a contraction shrink with the supply and pay out at the post-rebase rate.
func TestBoardroom_elasticRewardNormalization(t *testing.T) {
	f := newFixture(t)
	lumeAddr := common.HexToAddress("0x54")
	ledger := elastic.New(lumeAddr, "Lume Cash", "LUME", 18, tokens(2_000_000), treasuryAddr, ownerAddr)
	src := oracle.NewFixed(lumeAddr, 18, big.NewInt(1e18))
	require.NoError(t, f.board.AddRewardAsset(ownerAddr, ledger, src, ledger))

	f.epoch = 1
	require.NoError(t, f.board.Stake(alice, tokens(100)))
	at := inter.FromUnix(1_700_000_000)
	require.NoError(t, f.board.CreditReward(treasuryAddr, lumeAddr, tokens(1000), at))
	assertClose(t, tokens(1000), f.board.Earned(alice, lumeAddr), "earned before rebase")

	// A 10% contraction scales custody and the owed amount together.
	_, err := ledger.Rebase(1, new(big.Int).Neg(tokens(200_000)))
	require.NoError(t, err)
	f.board.SyncElastic(lumeAddr)
	assertClose(t, tokens(900), f.board.Earned(alice, lumeAddr), "earned after rebase")
	assertClose(t, tokens(900), ledger.BalanceOf(boardAddr), "custody after rebase")

	f.epoch = 2
	require.NoError(t, f.board.Claim(alice, ClaimBurn, nil))
	assertClose(t, tokens(594), ledger.BalanceOf(alice), "paid")
	assertClose(t, tokens(306), ledger.TotalBurned(), "burned")
}

func TestBoardroom_collectFees(t *testing.T) {
	f := newFixture(t)
	f.src.SetPrice(big.NewInt(2e18))
	f.epoch = 1
	require.NoError(t, f.board.Stake(alice, tokens(100)))
	f.credit(t, tokens(1000))
	f.epoch = 2
	require.NoError(t, f.ref.Mint(ownerAddr, alice, tokens(80)))
	require.NoError(t, f.board.Claim(alice, ClaimFee, tokens(80)))

	assert.ErrorIs(t, f.board.CollectFees(strangerAddr), ErrUnauthorized)
	require.NoError(t, f.board.CollectFees(collectorAddr))
	assert.Equal(t, tokens(80), f.ref.BalanceOf(collectorAddr))
	assert.Equal(t, 0, f.board.FeePool().Sign())

	// The collection delay gates back-to-back sweeps.
	assert.ErrorIs(t, f.board.CollectFees(collectorAddr), ErrStillLocked)
}

// TestBoardroom_feeClampAtCap verifies that an operator fee change past the
// cap is clamped, observed through the fee a claim actually charges.
func TestBoardroom_feeClampAtCap(t *testing.T) {
	f := newFixture(t)
	f.src.SetPrice(big.NewInt(2e18))
	require.NoError(t, f.board.SetFee(operatorAddr, 5000)) // clamped to 1000

	f.epoch = 1
	require.NoError(t, f.board.Stake(alice, tokens(100)))
	f.credit(t, tokens(1000))
	f.epoch = 2

	// At the 10% cap the fee on a 2000-reference payout is 200.
	assert.ErrorIs(t, f.board.Claim(alice, ClaimFee, tokens(199)), ErrInsufficientFee)
	require.NoError(t, f.ref.Mint(ownerAddr, alice, tokens(200)))
	require.NoError(t, f.board.Claim(alice, ClaimFee, tokens(200)))
	assert.Equal(t, tokens(200), f.board.FeePool())
}

func TestBoardroom_adminSetters(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.board.SetFee(strangerAddr, 100), ErrUnauthorized)
	assert.ErrorIs(t, f.board.SetSacrifice(operatorAddr, 1000), ErrUnauthorized)
	assert.Error(t, f.board.SetSacrifice(ownerAddr, 10001))
	require.NoError(t, f.board.SetSacrifice(ownerAddr, 5000))

	// Lockup changes are validated as a set.
	assert.Error(t, f.board.SetLockups(ownerAddr, 2, 1, 3)) // claim-burn below minimum
	assert.Error(t, f.board.SetLockups(ownerAddr, 2, 5, 6)) // lockup too close to expiry
	require.NoError(t, f.board.SetLockups(ownerAddr, 4, 2, 8))

	assert.Error(t, f.board.SetLoyaltyTiers(ownerAddr, []lume.LoyaltyTier{
		{MinEpochs: 8, DiscountBps: 1000},
		{MinEpochs: 4, DiscountBps: 2000},
	}))
	require.NoError(t, f.board.SetLoyaltyTiers(ownerAddr, []lume.LoyaltyTier{
		{MinEpochs: 0, DiscountBps: 0},
		{MinEpochs: 10, DiscountBps: 2000},
	}))

	assert.ErrorIs(t, f.board.SetOperator(operatorAddr, strangerAddr), ErrUnauthorized)
	require.NoError(t, f.board.SetOperator(ownerAddr, strangerAddr))
	require.NoError(t, f.board.SetFee(strangerAddr, 100))

	require.NoError(t, f.board.TransferOwnership(ownerAddr, bob))
	assert.ErrorIs(t, f.board.SetSacrifice(ownerAddr, 1000), ErrUnauthorized)
	require.NoError(t, f.board.SetSacrifice(bob, 1000))
}

// An account whose very first stake lands in epoch zero still accrues loyalty
// tenure from that epoch.
func TestBoardroom_loyaltyArmsAtEpochZero(t *testing.T) {
	f := newFixture(t)
	f.src.SetPrice(big.NewInt(2e18))
	require.NoError(t, f.board.Stake(alice, tokens(100)))

	// An empty claim keeps the expiry timer fresh without disturbing the
	// stake or the loyalty clock.
	f.epoch = 5
	require.NoError(t, f.board.Claim(alice, ClaimBurn, nil))
	f.credit(t, tokens(1000))

	// At epoch 8 the stake is 8 epochs old, which grants a 10% fee discount:
	// the 80-token fee drops to 72.
	f.epoch = 8
	assert.ErrorIs(t, f.board.Claim(alice, ClaimFee, tokens(71)), ErrInsufficientFee)
	require.NoError(t, f.ref.Mint(ownerAddr, alice, tokens(72)))
	require.NoError(t, f.board.Claim(alice, ClaimFee, tokens(72)))
	assert.Equal(t, tokens(1000), f.reward.BalanceOf(alice))
	assert.Equal(t, tokens(72), f.board.FeePool())
}

// A failed payout transfer must leave the pending record intact so the member
// can retry.
func TestBoardroom_finalizeKeepsPendingOnFailedPayout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.board.Stake(alice, tokens(100)))
	require.NoError(t, f.board.RequestWithdraw(alice, tokens(40)))

	// Drain custody so the payout cannot be honored.
	f.epoch = 3
	custody := f.share.BalanceOf(boardAddr)
	require.NoError(t, f.share.Transfer(boardAddr, strangerAddr, custody))
	require.Error(t, f.board.FinalizeWithdraw(alice))

	pending, _, ok := f.board.PendingOf(alice)
	require.True(t, ok)
	assert.Equal(t, tokens(40), pending)

	// With custody restored the same record pays out.
	require.NoError(t, f.share.Transfer(strangerAddr, boardAddr, custody))
	require.NoError(t, f.board.FinalizeWithdraw(alice))
	assert.Equal(t, tokens(940), f.share.BalanceOf(alice))
}
