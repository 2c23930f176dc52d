// Package treasury implements the epoch-gated seigniorage allocator.
//
// Once per epoch the allocator walks its registered peg assets in
// registration order, reads each asset's price, decides an expansion
// percentage (bootstrap, price-driven, or operator override), mints the
// expansion and splits it between the boardroom, the reserve fund and the dev
// fund. Below the lower rebase threshold it delegates to the asset's rebase
// policy instead of minting.
//
// The epoch boundary always advances by exactly one epoch length, never to
// the trigger time, so a late trigger does not shift the cadence.
package treasury

import (
	"errors"
	"math/big"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/lume-fi/lumefi-contracts/boardroom"
	"github.com/lume-fi/lumefi-contracts/inter"
	"github.com/lume-fi/lumefi-contracts/lume"
	"github.com/lume-fi/lumefi-contracts/oracle"
	"github.com/lume-fi/lumefi-contracts/rebase"
	"github.com/lume-fi/lumefi-contracts/records"
	"github.com/lume-fi/lumefi-contracts/token"
)

var (
	// ErrEpochNotReady is returned when the current epoch's boundary has not
	// been reached yet. Retryable later.
	ErrEpochNotReady = errors.New("treasury: epoch not ready")

	// ErrDuplicateTrigger is returned when a second trigger arrives at the
	// same tick as a previous one.
	ErrDuplicateTrigger = errors.New("treasury: duplicate trigger in tick")

	// ErrUnauthorized is returned when a restricted entry point is called by
	// the wrong account.
	ErrUnauthorized = errors.New("treasury: unauthorized caller")

	// ErrUnknownAsset is returned for operations on unregistered assets.
	ErrUnknownAsset = errors.New("treasury: unknown peg asset")

	// ErrAssetRegistered is returned when registering a duplicate peg asset.
	ErrAssetRegistered = errors.New("treasury: peg asset already registered")

	// ErrPastEpoch is returned when an expansion override targets an epoch
	// that is not in the future.
	ErrPastEpoch = errors.New("treasury: override epoch already sealed")
)

// RewardSink is the boardroom surface the allocator needs. Declared here so
// the dependency points one way only.
type RewardSink interface {
	CreditReward(caller, asset common.Address, amount *big.Int, at inter.Timestamp) error
	SyncElastic(asset common.Address)
}

// AssetConfig registers one peg asset with the allocator.
type AssetConfig struct {
	Token  token.Mintable
	Oracle oracle.Source

	// Policy handles contraction for elastic assets; nil disables the
	// contraction branch for this asset.
	Policy *rebase.Policy

	// StartEpoch defers allocation for assets registered ahead of launch.
	StartEpoch idx.Epoch

	// Locked lists accounts excluded from circulating-supply calculations
	// (protocol-held funds).
	Locked []common.Address
}

// pegAsset is the registered runtime state of one asset.
type pegAsset struct {
	AssetConfig

	// supplyTarget and maxExpansionBps decay as the target is reached.
	supplyTarget    *big.Int
	maxExpansionBps uint64

	// lastPrice is the last successfully observed price; nil until the first
	// read succeeds. Expansion falls back to it when a refresh fails.
	lastPrice *big.Int
}

type allocKey struct {
	epoch idx.Epoch
	asset common.Address
}

// Config wires an Allocator to its accounts.
type Config struct {
	// Address is the allocator's own account; it must hold the minter role
	// of every registered peg asset.
	Address common.Address

	Owner    common.Address
	Operator common.Address

	ReserveFund common.Address
	DevFund     common.Address
}

// Allocator is the epoch state machine.
type Allocator struct {
	mu  sync.Mutex
	log log.Logger

	rules lume.Rules
	cfg   Config

	sink RewardSink
	recs *records.Store

	epoch         idx.Epoch
	startTime     inter.Timestamp
	lastEpochTime inter.Timestamp
	lastTrigger   inter.Timestamp

	assets  []*pegAsset // registration order
	byToken map[common.Address]*pegAsset

	allocated map[allocKey]struct{}
	overrides map[allocKey]uint64
}

// New creates an allocator whose first epoch seals one epoch length after
// start. rules must already be validated.
func New(rules lume.Rules, cfg Config, sink RewardSink, recs *records.Store, start inter.Timestamp) *Allocator {
	return &Allocator{
		log:           log.New("module", "treasury"),
		rules:         rules,
		cfg:           cfg,
		sink:          sink,
		recs:          recs,
		startTime:     start,
		lastEpochTime: start,
		byToken:       map[common.Address]*pegAsset{},
		allocated:     map[allocKey]struct{}{},
		overrides:     map[allocKey]uint64{},
	}
}

// CurrentEpoch returns the last sealed epoch. Implements
// boardroom.EpochSource.
func (a *Allocator) CurrentEpoch() idx.Epoch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch
}

// NextEpochTime returns the earliest timestamp at which the next epoch can be
// sealed.
func (a *Allocator) NextEpochTime() inter.Timestamp {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastEpochTime.Add(a.rules.Epochs.Length)
}

// RegisterAsset adds a peg asset. The first registered asset is the primary
// one; the caller salary is minted in it. Restricted to the owner.
func (a *Allocator) RegisterAsset(caller common.Address, cfg AssetConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.authorized(caller, false); err != nil {
		return err
	}
	addr := cfg.Token.Address()
	if _, ok := a.byToken[addr]; ok {
		return ErrAssetRegistered
	}
	pa := &pegAsset{
		AssetConfig:     cfg,
		supplyTarget:    new(big.Int).Set(a.rules.Peg.InitialSupplyTarget),
		maxExpansionBps: a.rules.Peg.MaxExpansionBps,
	}
	a.assets = append(a.assets, pa)
	a.byToken[addr] = pa
	a.log.Info("peg asset registered", "asset", addr, "symbol", cfg.Token.Symbol(), "startEpoch", cfg.StartEpoch)
	return nil
}

// AllocateSeigniorage seals the next epoch: it runs the per-asset allocation
// in registration order, mints the caller salary, and advances the epoch
// boundary by exactly one epoch length.
//
// Anyone may trigger it; the time gate and the per-(epoch, asset) idempotency
// make duplicate triggering harmless.
func (a *Allocator) AllocateSeigniorage(caller common.Address, now inter.Timestamp) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if now <= a.lastTrigger {
		return ErrDuplicateTrigger
	}
	boundary := a.lastEpochTime.Add(a.rules.Epochs.Length)
	if now < boundary {
		return ErrEpochNotReady
	}
	a.lastTrigger = now

	next := a.epoch + 1
	for _, pa := range a.assets {
		a.allocateAsset(pa, next, now)
	}

	// The caller salary keeps the epoch cadence alive; it is paid whether or
	// not any expansion occurred.
	if len(a.assets) > 0 && a.rules.Treasury.CallerSalary.Sign() > 0 {
		primary := a.assets[0].Token
		if err := primary.Mint(a.cfg.Address, caller, a.rules.Treasury.CallerSalary); err != nil {
			a.log.Error("caller salary mint failed", "err", err)
		}
	}

	a.lastEpochTime = boundary
	a.epoch = next
	a.log.Info("epoch sealed", "epoch", next, "boundary", boundary.Unix())
	return nil
}

// allocateAsset runs the expansion decision for one asset. Failures inside
// are logged and skipped; one misbehaving feed must not stall the epoch.
func (a *Allocator) allocateAsset(pa *pegAsset, next idx.Epoch, now inter.Timestamp) {
	addr := pa.Token.Address()
	if pa.StartEpoch > next {
		return
	}
	key := allocKey{epoch: next, asset: addr}
	if _, done := a.allocated[key]; done {
		// At most one allocation per (epoch, asset); duplicates are a silent
		// no-op.
		return
	}
	a.allocated[key] = struct{}{}

	if err := pa.Oracle.Update(); err != nil {
		a.log.Debug("oracle update failed", "asset", addr, "err", err)
	}
	if price, err := pa.Oracle.Consult(addr, pow10(pa.Token.Decimals())); err == nil {
		pa.lastPrice = price
	} else {
		a.log.Warn("price refresh failed, using last observed", "asset", addr, "err", err)
	}

	circulating := a.circulating(pa)
	a.decayTarget(pa, circulating)

	var pct *big.Int
	switch {
	case next <= a.rules.Epochs.BootstrapEpochs:
		pct = bpsToPct(a.rules.Epochs.BootstrapExpansionBps)
	case pa.lastPrice == nil:
		a.log.Warn("no price observed yet, skipping allocation", "asset", addr, "epoch", next)
		return
	case pa.lastPrice.Cmp(a.rules.Peg.CeilingPrice) > 0:
		pct = new(big.Int).Sub(pa.lastPrice, a.rules.Peg.ParityPrice)
		if cap := bpsToPct(pa.maxExpansionBps); pct.Cmp(cap) > 0 {
			pct = cap
		}
	case pa.lastPrice.Cmp(a.rules.Peg.LowerRebaseThreshold) < 0 && pa.Policy != nil:
		a.contract(pa, next, now)
		return
	case pa.lastPrice.Cmp(a.rules.Peg.UpperRebaseThreshold) > 0:
		// Expansion-via-rebase is a deliberate no-op.
		pct = new(big.Int)
	default:
		pct = new(big.Int)
	}

	if ov, ok := a.overrides[key]; ok {
		if ov > pa.maxExpansionBps {
			ov = pa.maxExpansionBps
		}
		pct = bpsToPct(ov)
	}
	if pct.Sign() == 0 {
		return
	}

	minted := new(big.Int).Mul(circulating, pct)
	minted.Div(minted, lume.PriceScale)
	if minted.Sign() == 0 {
		return
	}
	if err := pa.Token.Mint(a.cfg.Address, a.cfg.Address, minted); err != nil {
		a.log.Error("seigniorage mint failed", "asset", addr, "err", err)
		return
	}

	toReserve := shareOf(minted, a.rules.Treasury.ReserveShareBps)
	toDev := shareOf(minted, a.rules.Treasury.DevShareBps)
	toStakers := new(big.Int).Sub(minted, toReserve)
	toStakers.Sub(toStakers, toDev)

	if err := pa.Token.Transfer(a.cfg.Address, a.cfg.ReserveFund, toReserve); err != nil {
		a.log.Error("reserve transfer failed", "asset", addr, "err", err)
	}
	if err := pa.Token.Transfer(a.cfg.Address, a.cfg.DevFund, toDev); err != nil {
		a.log.Error("dev fund transfer failed", "asset", addr, "err", err)
	}
	if err := a.sink.CreditReward(a.cfg.Address, addr, toStakers, now); err != nil {
		// An empty boardroom must not strand minted value; park the staker
		// share in the reserve.
		a.log.Warn("reward credit failed, diverting to reserve", "asset", addr, "err", err)
		if terr := pa.Token.Transfer(a.cfg.Address, a.cfg.ReserveFund, toStakers); terr != nil {
			a.log.Error("reserve diversion failed", "asset", addr, "err", terr)
		}
		toReserve = new(big.Int).Add(toReserve, toStakers)
		toStakers = new(big.Int)
	}

	price := pa.lastPrice
	if price == nil {
		price = a.rules.Peg.ParityPrice
	}
	a.record(records.FundingRecord{
		Asset:      addr,
		Epoch:      next,
		Time:       now,
		Price:      new(big.Int).Set(price),
		Minted:     minted,
		ToStakers:  toStakers,
		ToReserve:  toReserve,
		ToDev:      toDev,
		Contracted: new(big.Int),
	})
	a.log.Info("seigniorage allocated", "asset", addr, "epoch", next, "minted", minted,
		"stakers", toStakers, "reserve", toReserve, "dev", toDev)
}

// contract delegates to the asset's rebase policy and records a zero-mint
// allocation event. A failed cycle is logged and dropped; the epoch proceeds.
func (a *Allocator) contract(pa *pegAsset, next idx.Epoch, now inter.Timestamp) {
	addr := pa.Token.Address()
	applied, err := pa.Policy.Rebase(a.cfg.Address, next)
	if err != nil {
		a.log.Warn("contraction cycle failed", "asset", addr, "epoch", next, "err", err)
		return
	}
	a.sink.SyncElastic(addr)
	contracted := new(big.Int).Neg(applied)
	if contracted.Sign() < 0 {
		contracted = new(big.Int)
	}
	a.record(records.FundingRecord{
		Asset:      addr,
		Epoch:      next,
		Time:       now,
		Price:      new(big.Int).Set(pa.lastPrice),
		Minted:     new(big.Int),
		ToStakers:  new(big.Int),
		ToReserve:  new(big.Int),
		ToDev:      new(big.Int),
		Contracted: contracted,
	})
	a.log.Info("contraction applied", "asset", addr, "epoch", next, "contracted", contracted)
}

// circulating is the external supply minus the configured locked balances.
func (a *Allocator) circulating(pa *pegAsset) *big.Int {
	out := pa.Token.TotalSupply()
	for _, locked := range pa.Locked {
		out.Sub(out, pa.Token.BalanceOf(locked))
	}
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// decayTarget raises the supply target and decays the expansion cap each time
// circulating supply reaches the target. The cap never drops below the
// configured floor.
func (a *Allocator) decayTarget(pa *pegAsset, circulating *big.Int) {
	for circulating.Cmp(pa.supplyTarget) >= 0 {
		pa.supplyTarget.Mul(pa.supplyTarget, new(big.Int).SetUint64(a.rules.Peg.SupplyTargetGrowthBps))
		pa.supplyTarget.Div(pa.supplyTarget, new(big.Int).SetUint64(lume.BpsDenominator))
		decayed := pa.maxExpansionBps * a.rules.Peg.ExpansionDecayBps / lume.BpsDenominator
		if decayed < a.rules.Peg.MinExpansionBps {
			decayed = a.rules.Peg.MinExpansionBps
		}
		if decayed == pa.maxExpansionBps {
			// Floor reached and the target can no longer bite this epoch.
			break
		}
		pa.maxExpansionBps = decayed
		a.log.Info("supply target reached", "asset", pa.Token.Address(),
			"newTarget", pa.supplyTarget, "maxExpansionBps", pa.maxExpansionBps)
	}
}

// SetExpansionOverride schedules a fixed expansion percentage for one future
// (epoch, asset). The operator role may call this; values past the override
// cap are clamped.
func (a *Allocator) SetExpansionOverride(caller, asset common.Address, epoch idx.Epoch, bps uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.authorized(caller, true); err != nil {
		return err
	}
	if _, ok := a.byToken[asset]; !ok {
		return ErrUnknownAsset
	}
	if epoch <= a.epoch {
		return ErrPastEpoch
	}
	if bps > a.rules.Treasury.MaxOverrideBps {
		a.log.Warn("override clamped at cap", "requested", bps, "cap", a.rules.Treasury.MaxOverrideBps)
		bps = a.rules.Treasury.MaxOverrideBps
	}
	a.overrides[allocKey{epoch: epoch, asset: asset}] = bps
	return nil
}

// SetLockedAccounts replaces the locked-account list of one asset. Owner
// only.
func (a *Allocator) SetLockedAccounts(caller, asset common.Address, locked []common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.authorized(caller, false); err != nil {
		return err
	}
	pa, ok := a.byToken[asset]
	if !ok {
		return ErrUnknownAsset
	}
	pa.Locked = append([]common.Address(nil), locked...)
	return nil
}

// SetFunds changes the reserve and dev fund addresses. Owner only.
func (a *Allocator) SetFunds(caller, reserve, dev common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.authorized(caller, false); err != nil {
		return err
	}
	a.cfg.ReserveFund = reserve
	a.cfg.DevFund = dev
	return nil
}

// SetShares changes the fund split. Owner only; the share sum stays capped.
func (a *Allocator) SetShares(caller common.Address, reserveBps, devBps uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.authorized(caller, false); err != nil {
		return err
	}
	if reserveBps+devBps > a.rules.Treasury.MaxFundShareBps {
		return errors.New("treasury: fund shares exceed cap")
	}
	a.rules.Treasury.ReserveShareBps = reserveBps
	a.rules.Treasury.DevShareBps = devBps
	return nil
}

// SetOperator hands the operator role to another account. Owner only.
func (a *Allocator) SetOperator(caller, operator common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.authorized(caller, false); err != nil {
		return err
	}
	a.cfg.Operator = operator
	return nil
}

// TransferOwnership hands the owner role to another account. Owner only.
func (a *Allocator) TransferOwnership(caller, owner common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.authorized(caller, false); err != nil {
		return err
	}
	a.cfg.Owner = owner
	return nil
}

// RecoverToken sweeps an unrelated token out of the allocator's account.
// Registered peg assets are refused. Owner only.
func (a *Allocator) RecoverToken(caller common.Address, tok token.Ledger, to common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.authorized(caller, false); err != nil {
		return err
	}
	if _, ok := a.byToken[tok.Address()]; ok {
		return errors.New("treasury: cannot recover a peg asset")
	}
	return tok.Transfer(a.cfg.Address, to, tok.BalanceOf(a.cfg.Address))
}

func (a *Allocator) authorized(caller common.Address, operatorOK bool) error {
	if caller == a.cfg.Owner {
		return nil
	}
	if operatorOK && caller == a.cfg.Operator {
		return nil
	}
	return ErrUnauthorized
}

func (a *Allocator) record(rec records.FundingRecord) {
	if err := a.recs.AddFunding(rec); err != nil {
		a.log.Error("failed to record funding", "err", err)
	}
}

// bpsToPct converts basis points into PriceScale percentage units.
func bpsToPct(bps uint64) *big.Int {
	out := new(big.Int).SetUint64(bps)
	out.Mul(out, lume.PriceScale)
	return out.Div(out, new(big.Int).SetUint64(lume.BpsDenominator))
}

func shareOf(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).SetUint64(bps)
	out.Mul(out, amount)
	return out.Div(out, new(big.Int).SetUint64(lume.BpsDenominator))
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

var _ RewardSink = (*boardroom.Boardroom)(nil)
