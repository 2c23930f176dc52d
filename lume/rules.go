// Package lume defines the protocol rules for the LumeFi elastic-supply
// accounting core.
//
// This package provides:
//   - Network identification constants (MainNet, TestNet, FakeNet)
//   - Epoch cadence and bootstrap rules
//   - Peg-asset pricing thresholds and expansion limits
//   - Treasury seigniorage split rules
//   - Boardroom lockup, claim and loyalty rules
//   - Rebase policy thresholds and delta caps
//
// The Rules type is the central configuration structure: every subsystem is
// constructed from a Rules value and never reads parameters from anywhere
// else. Presets follow the usual pattern: MainNetRules is the production
// configuration, FakeNetRules accelerates the cadence for local runs and
// tests.
package lume

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/lume-fi/lumefi-contracts/inter"
)

// Network identification constants.
const (
	// MainNetworkID is the chain ID of the LumeFi mainnet deployment.
	MainNetworkID uint64 = 0x19a1

	// TestNetworkID is the chain ID of the LumeFi testnet deployment.
	TestNetworkID uint64 = 0x19a2

	// FakeNetworkID is the chain ID for local/fake deployments used in testing.
	FakeNetworkID uint64 = 0x19a3

	// BpsDenominator is the denominator of every basis-point share, fee and
	// discount in the protocol.
	BpsDenominator uint64 = 10000

	// MaxLockupEpochs bounds every configurable lockup window.
	MaxLockupEpochs idx.Epoch = 28

	// MinClaimBurnEpochs is the lowest allowed unclaimed-reward expiry window.
	MinClaimBurnEpochs idx.Epoch = 6
)

// PriceScale is the fixed-point scale of every price and percentage expressed
// in price units: a price of exactly PriceScale means parity. Treat as
// read-only.
var PriceScale = big.NewInt(1e18)

// RewardScale is the fixed-point scale of the cumulative reward-per-share
// counters. Treat as read-only.
var RewardScale = big.NewInt(1e18)

// EpochRules defines the epoch cadence and the bootstrap window.
type EpochRules struct {
	// Length is the fixed epoch duration. The allocator advances its epoch
	// counter only when this much time has passed the stored boundary.
	Length time.Duration

	// BootstrapEpochs is the number of initial epochs during which expansion
	// uses the fixed bootstrap percentage instead of the price signal.
	BootstrapEpochs idx.Epoch

	// BootstrapExpansionBps is the fixed expansion percentage applied during
	// the bootstrap window.
	BootstrapExpansionBps uint64
}

// PegRules defines pricing thresholds and expansion limits shared by all
// registered peg assets. Per-asset values (supply target, current maximum
// expansion) start from these and decay independently.
type PegRules struct {
	// ParityPrice is the target price of a peg asset. Thresholds below are
	// range-checked against it.
	ParityPrice *big.Int

	// CeilingPrice is the price above which seigniorage expansion fires.
	CeilingPrice *big.Int

	// UpperRebaseThreshold is reserved for expansion-via-rebase. Prices above
	// it currently trigger no action. Kept so a deployed configuration does
	// not change shape when the branch is implemented.
	UpperRebaseThreshold *big.Int

	// LowerRebaseThreshold is the price below which a registered rebase
	// policy is asked for a contraction instead of minting.
	LowerRebaseThreshold *big.Int

	// MaxExpansionBps is the initial per-epoch expansion cap of an asset.
	MaxExpansionBps uint64

	// MinExpansionBps floors the decaying per-asset expansion cap.
	MinExpansionBps uint64

	// ExpansionDecayBps is applied to an asset's expansion cap each time its
	// supply target is reached (cap = cap * ExpansionDecayBps / 10000).
	ExpansionDecayBps uint64

	// SupplyTargetGrowthBps raises an asset's supply target each time it is
	// reached (target = target * SupplyTargetGrowthBps / 10000).
	SupplyTargetGrowthBps uint64

	// InitialSupplyTarget is the starting soft cap of a newly registered
	// asset, in external units.
	InitialSupplyTarget *big.Int
}

// TreasuryRules defines how minted seigniorage is split and what triggering
// an epoch pays.
type TreasuryRules struct {
	// ReserveShareBps is the reserve fund's share of each expansion.
	ReserveShareBps uint64

	// DevShareBps is the dev fund's share of each expansion.
	DevShareBps uint64

	// MaxFundShareBps caps the sum of the two fund shares; the remainder of
	// each expansion always reaches the boardroom.
	MaxFundShareBps uint64

	// CallerSalary is minted in the primary asset to whichever account
	// triggers an epoch, regardless of whether expansion occurred.
	CallerSalary *big.Int

	// MaxOverrideBps caps expansion overrides set by the operator role.
	MaxOverrideBps uint64
}

// LoyaltyTier maps a continuous stake duration to a fee discount. Tiers are
// ordered by ascending MinEpochs; the highest tier not exceeding the member's
// stake duration applies.
type LoyaltyTier struct {
	MinEpochs   idx.Epoch
	DiscountBps uint64
}

// BoardroomRules defines staking lockups, claim economics and the loyalty
// schedule.
type BoardroomRules struct {
	// WithdrawLockupEpochs is the delay between a withdrawal request and its
	// finalization.
	WithdrawLockupEpochs idx.Epoch

	// RewardLockupEpochs is the minimum number of epochs between a member's
	// last stake or claim and their next claim.
	RewardLockupEpochs idx.Epoch

	// ClaimBurnEpochs is the unclaimed-reward expiry window: a member idle
	// for this many epochs forfeits all pending reward on next interaction.
	ClaimBurnEpochs idx.Epoch

	// SacrificeBps is the share of reward burned by an instant burn-claim.
	SacrificeBps uint64

	// FeeBps is the fee percentage of a full fee-claim, before loyalty
	// discount.
	FeeBps uint64

	// MaxFeeBps caps FeeBps when adjusted by the operator role.
	MaxFeeBps uint64

	// FeeCollectionDelayEpochs is the minimum number of epochs between two
	// collections of the accumulated fee pool.
	FeeCollectionDelayEpochs idx.Epoch

	// LoyaltyTiers is the ordered discount schedule.
	LoyaltyTiers []LoyaltyTier
}

// RebaseRules defines the rebase policy decision bounds.
type RebaseRules struct {
	// ExpansionThreshold is the price above which the policy targets the
	// threshold itself and computes a positive delta.
	ExpansionThreshold *big.Int

	// ContractionThreshold is the price below which the policy computes a
	// negative delta.
	ContractionThreshold *big.Int

	// ExpansionDeltaCap bounds a single positive percentage delta, in price
	// units.
	ExpansionDeltaCap *big.Int

	// ContractionDeltaCap bounds a single negative percentage delta, in price
	// units.
	ContractionDeltaCap *big.Int
}

// Rules describes the complete configuration of a LumeFi deployment.
type Rules struct {
	Name      string
	NetworkID uint64

	Epochs    EpochRules
	Peg       PegRules
	Treasury  TreasuryRules
	Boardroom BoardroomRules
	Rebase    RebaseRules
}

// MainNetRules returns the production configuration.
func MainNetRules() Rules {
	return Rules{
		Name:      "main",
		NetworkID: MainNetworkID,
		Epochs:    DefaultEpochRules(),
		Peg:       DefaultPegRules(),
		Treasury:  DefaultTreasuryRules(),
		Boardroom: DefaultBoardroomRules(),
		Rebase:    DefaultRebaseRules(),
	}
}

// TestNetRules returns the testnet configuration. Testnet mirrors mainnet
// parameters so that economics behave identically under test traffic.
func TestNetRules() Rules {
	r := MainNetRules()
	r.Name = "test"
	r.NetworkID = TestNetworkID
	return r
}

// FakeNetRules returns an accelerated configuration for local runs and tests:
// short epochs, a short bootstrap window and permissive lockups.
func FakeNetRules() Rules {
	r := MainNetRules()
	r.Name = "fake"
	r.NetworkID = FakeNetworkID
	r.Epochs.Length = 10 * time.Second
	r.Epochs.BootstrapEpochs = 2
	r.Boardroom.WithdrawLockupEpochs = 2
	r.Boardroom.RewardLockupEpochs = 1
	r.Boardroom.ClaimBurnEpochs = 6
	r.Boardroom.FeeCollectionDelayEpochs = 1
	return r
}

// DefaultEpochRules returns the mainnet epoch cadence: six-hour epochs with a
// 28-epoch bootstrap window at 3% fixed expansion.
func DefaultEpochRules() EpochRules {
	return EpochRules{
		Length:                6 * time.Hour,
		BootstrapEpochs:       28,
		BootstrapExpansionBps: 300,
	}
}

// DefaultPegRules returns the mainnet peg thresholds. Prices are expressed in
// PriceScale units against the reference currency.
func DefaultPegRules() PegRules {
	return PegRules{
		ParityPrice:           big.NewInt(1e18),
		CeilingPrice:          big.NewInt(1.01e18),
		UpperRebaseThreshold:  big.NewInt(2e18),
		LowerRebaseThreshold:  big.NewInt(0.5e18),
		MaxExpansionBps:       150,
		MinExpansionBps:       10,
		ExpansionDecayBps:     9500,
		SupplyTargetGrowthBps: 12500,
		InitialSupplyTarget:   new(big.Int).Mul(big.NewInt(500_000), big.NewInt(1e18)),
	}
}

// DefaultTreasuryRules returns the mainnet seigniorage split: 10% reserve,
// 8% dev, remainder to the boardroom.
func DefaultTreasuryRules() TreasuryRules {
	return TreasuryRules{
		ReserveShareBps: 1000,
		DevShareBps:     800,
		MaxFundShareBps: 4000,
		CallerSalary:    new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		MaxOverrideBps:  150,
	}
}

// DefaultBoardroomRules returns the mainnet staking economics.
func DefaultBoardroomRules() BoardroomRules {
	return BoardroomRules{
		WithdrawLockupEpochs:     6,
		RewardLockupEpochs:       3,
		ClaimBurnEpochs:          12,
		SacrificeBps:             3400,
		FeeBps:                   400,
		MaxFeeBps:                1000,
		FeeCollectionDelayEpochs: 4,
		LoyaltyTiers: []LoyaltyTier{
			{MinEpochs: 0, DiscountBps: 0},
			{MinEpochs: 8, DiscountBps: 1000},
			{MinEpochs: 16, DiscountBps: 2500},
			{MinEpochs: 28, DiscountBps: 5000},
		},
	}
}

// DefaultRebaseRules returns the mainnet rebase policy bounds: rebases engage
// outside a wide band around parity and single deltas are capped at 10%.
func DefaultRebaseRules() RebaseRules {
	return RebaseRules{
		ExpansionThreshold:   big.NewInt(1.05e18),
		ContractionThreshold: big.NewInt(0.95e18),
		ExpansionDeltaCap:    big.NewInt(0.1e18),
		ContractionDeltaCap:  big.NewInt(0.1e18),
	}
}

// EpochBoundary returns the timestamp at which the given epoch may be sealed,
// counting from the deployment start time.
func (e EpochRules) EpochBoundary(start inter.Timestamp, epoch idx.Epoch) inter.Timestamp {
	return start + inter.Timestamp(epoch)*inter.Timestamp(e.Length)
}

// Validate range-checks the configuration. Every administrative setter funnels
// through the same checks, so a deployed Rules value can never leave the
// allowed region.
func (r Rules) Validate() error {
	if r.Epochs.Length <= 0 {
		return errors.New("epoch length must be positive")
	}
	if r.Epochs.BootstrapExpansionBps > BpsDenominator {
		return errors.New("bootstrap expansion exceeds 100%")
	}
	if err := r.Peg.validate(); err != nil {
		return err
	}
	if err := r.Treasury.validate(); err != nil {
		return err
	}
	if err := r.Boardroom.validate(); err != nil {
		return err
	}
	return r.Rebase.validate(r.Peg.ParityPrice)
}

func (p PegRules) validate() error {
	if p.ParityPrice == nil || p.ParityPrice.Sign() <= 0 {
		return errors.New("parity price must be positive")
	}
	if p.CeilingPrice == nil || p.CeilingPrice.Cmp(p.ParityPrice) < 0 {
		return errors.New("ceiling price below parity")
	}
	if p.LowerRebaseThreshold == nil || p.LowerRebaseThreshold.Cmp(p.ParityPrice) >= 0 {
		return errors.New("lower rebase threshold must be below parity")
	}
	if p.UpperRebaseThreshold == nil || p.UpperRebaseThreshold.Cmp(p.CeilingPrice) < 0 {
		return errors.New("upper rebase threshold below ceiling")
	}
	if p.MinExpansionBps > p.MaxExpansionBps {
		return errors.New("minimum expansion above maximum")
	}
	if p.MaxExpansionBps > BpsDenominator {
		return errors.New("maximum expansion exceeds 100%")
	}
	if p.ExpansionDecayBps > BpsDenominator {
		return errors.New("expansion decay must not exceed 10000 bps")
	}
	if p.SupplyTargetGrowthBps < BpsDenominator {
		return errors.New("supply target growth must be at least 10000 bps")
	}
	if p.InitialSupplyTarget == nil || p.InitialSupplyTarget.Sign() <= 0 {
		return errors.New("initial supply target must be positive")
	}
	return nil
}

func (t TreasuryRules) validate() error {
	if t.MaxFundShareBps > BpsDenominator {
		return errors.New("fund share cap exceeds 100%")
	}
	if t.ReserveShareBps+t.DevShareBps > t.MaxFundShareBps {
		return fmt.Errorf("fund shares sum to %d bps, cap is %d", t.ReserveShareBps+t.DevShareBps, t.MaxFundShareBps)
	}
	if t.CallerSalary == nil || t.CallerSalary.Sign() < 0 {
		return errors.New("caller salary must be non-negative")
	}
	return nil
}

func (b BoardroomRules) validate() error {
	if b.ClaimBurnEpochs < MinClaimBurnEpochs {
		return fmt.Errorf("claim burn window %d below minimum %d", b.ClaimBurnEpochs, MinClaimBurnEpochs)
	}
	if b.RewardLockupEpochs+2 > b.ClaimBurnEpochs {
		return errors.New("reward lockup too close to claim burn window")
	}
	if b.WithdrawLockupEpochs > MaxLockupEpochs || b.RewardLockupEpochs > MaxLockupEpochs || b.ClaimBurnEpochs > MaxLockupEpochs {
		return fmt.Errorf("lockup windows must not exceed %d epochs", MaxLockupEpochs)
	}
	if b.SacrificeBps > BpsDenominator {
		return errors.New("sacrifice exceeds 100%")
	}
	if b.MaxFeeBps > BpsDenominator {
		return errors.New("fee cap exceeds 100%")
	}
	if b.FeeBps > b.MaxFeeBps {
		return fmt.Errorf("fee %d bps exceeds cap %d", b.FeeBps, b.MaxFeeBps)
	}
	prev := idx.Epoch(0)
	for i, tier := range b.LoyaltyTiers {
		if i > 0 && tier.MinEpochs <= prev {
			return errors.New("loyalty tiers must have ascending thresholds")
		}
		if tier.DiscountBps > BpsDenominator {
			return errors.New("loyalty discount exceeds 100%")
		}
		prev = tier.MinEpochs
	}
	return nil
}

func (r RebaseRules) validate(parity *big.Int) error {
	if r.ExpansionThreshold == nil || r.ExpansionThreshold.Cmp(parity) < 0 {
		return errors.New("rebase expansion threshold below parity")
	}
	if r.ContractionThreshold == nil || r.ContractionThreshold.Cmp(parity) > 0 || r.ContractionThreshold.Sign() <= 0 {
		return errors.New("rebase contraction threshold out of range")
	}
	if r.ExpansionDeltaCap == nil || r.ExpansionDeltaCap.Sign() < 0 ||
		r.ContractionDeltaCap == nil || r.ContractionDeltaCap.Sign() < 0 {
		return errors.New("rebase delta caps must be non-negative")
	}
	return nil
}

// Discount returns the loyalty discount for a continuous stake duration.
func (b BoardroomRules) Discount(staked idx.Epoch) uint64 {
	discount := uint64(0)
	for _, tier := range b.LoyaltyTiers {
		if staked >= tier.MinEpochs {
			discount = tier.DiscountBps
		}
	}
	return discount
}

// Copy creates a deep copy of Rules. Rules contains *big.Int fields that
// would be shared by a shallow copy.
func (r Rules) Copy() Rules {
	cp := r
	cp.Peg.ParityPrice = new(big.Int).Set(r.Peg.ParityPrice)
	cp.Peg.CeilingPrice = new(big.Int).Set(r.Peg.CeilingPrice)
	cp.Peg.UpperRebaseThreshold = new(big.Int).Set(r.Peg.UpperRebaseThreshold)
	cp.Peg.LowerRebaseThreshold = new(big.Int).Set(r.Peg.LowerRebaseThreshold)
	cp.Peg.InitialSupplyTarget = new(big.Int).Set(r.Peg.InitialSupplyTarget)
	cp.Treasury.CallerSalary = new(big.Int).Set(r.Treasury.CallerSalary)
	cp.Rebase.ExpansionThreshold = new(big.Int).Set(r.Rebase.ExpansionThreshold)
	cp.Rebase.ContractionThreshold = new(big.Int).Set(r.Rebase.ContractionThreshold)
	cp.Rebase.ExpansionDeltaCap = new(big.Int).Set(r.Rebase.ExpansionDeltaCap)
	cp.Rebase.ContractionDeltaCap = new(big.Int).Set(r.Rebase.ContractionDeltaCap)
	cp.Boardroom.LoyaltyTiers = make([]LoyaltyTier, len(r.Boardroom.LoyaltyTiers))
	copy(cp.Boardroom.LoyaltyTiers, r.Boardroom.LoyaltyTiers)
	return cp
}

// String returns a JSON representation of Rules for logging and config dumps.
func (r Rules) String() string {
	b, _ := json.Marshal(&r)
	return string(b)
}
