// Package boardroom implements the multi-asset staking reward ledger.
//
// Stakers deposit the share token and earn every registered reward asset
// proportionally to their stake. Rewards are accounted lazily: each asset
// carries a monotonically increasing cumulative reward-per-share counter and
// an append-only snapshot history; a member's owed amount is recomputed only
// when that member next interacts, so crediting a reward is O(1) in the
// number of stakers.
//
// Elastic reward assets are normalized to their first-seen conversion rate on
// credit and denormalized at payout, which keeps reward-per-share comparable
// across rebases.
//
// Every public operation takes the ledger mutex for its whole duration; that
// mutex is the single-outstanding-call guard the serialized execution model
// requires, so no operation can observe another one half-applied.
package boardroom

import (
	"errors"
	"math/big"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/lume-fi/lumefi-contracts/elastic"
	"github.com/lume-fi/lumefi-contracts/inter"
	"github.com/lume-fi/lumefi-contracts/lume"
	"github.com/lume-fi/lumefi-contracts/oracle"
	"github.com/lume-fi/lumefi-contracts/records"
	"github.com/lume-fi/lumefi-contracts/token"
)

var (
	// ErrZeroAmount is returned when an operation is called with a zero or
	// negative amount.
	ErrZeroAmount = errors.New("boardroom: zero amount")

	// ErrNoSuchMember is returned when the caller has no active stake.
	ErrNoSuchMember = errors.New("boardroom: caller is not a member")

	// ErrInsufficientStake is returned when a withdrawal request exceeds the
	// caller's active stake.
	ErrInsufficientStake = errors.New("boardroom: insufficient stake")

	// ErrNothingPending is returned when there is no withdrawal request to
	// cancel or finalize.
	ErrNothingPending = errors.New("boardroom: no pending withdrawal")

	// ErrStillLocked is returned by temporally gated operations; the caller
	// may retry in a later epoch.
	ErrStillLocked = errors.New("boardroom: still locked")

	// ErrNoStakers is returned when a reward arrives while nothing is staked.
	ErrNoStakers = errors.New("boardroom: no stakers")

	// ErrUnknownAsset is returned for a reward credit in an unregistered
	// asset.
	ErrUnknownAsset = errors.New("boardroom: unknown reward asset")

	// ErrUnsupportedClaimOption is returned for claim options this ledger
	// does not know.
	ErrUnsupportedClaimOption = errors.New("boardroom: unsupported claim option")

	// ErrInsufficientFee is returned when a fee-claim does not supply the net
	// fee it owes.
	ErrInsufficientFee = errors.New("boardroom: insufficient fee")

	// ErrUnauthorized is returned when a restricted entry point is called by
	// the wrong account.
	ErrUnauthorized = errors.New("boardroom: unauthorized caller")
)

// ClaimOption selects a reward claim strategy.
type ClaimOption uint8

const (
	// ClaimBurn pays out instantly, burning the sacrifice share.
	ClaimBurn ClaimOption = iota + 1
	// ClaimFee pays out in full against a reference-currency fee.
	ClaimFee
)

// EpochSource is a read-only query for the current epoch, answered by the
// treasury. The boardroom never mutates epoch state.
type EpochSource interface {
	CurrentEpoch() idx.Epoch
}

// EpochFunc adapts a closure to EpochSource.
type EpochFunc func() idx.Epoch

// CurrentEpoch implements EpochSource.
func (f EpochFunc) CurrentEpoch() idx.Epoch { return f() }

// rewardAsset is the per-asset reward state. history is append-only and
// starts with a zero genesis snapshot, so every member index is valid.
type rewardAsset struct {
	token  token.Mintable
	oracle oracle.Source

	// elastic is non-nil for assets whose conversion rate moves; firstRate
	// and cachedRate then hold units-per-fragment values. For fixed assets
	// both are one and every conversion is the identity.
	elastic    *elastic.Ledger
	firstRate  *big.Int
	cachedRate *big.Int

	history []snapshot
}

type snapshot struct {
	time           inter.Timestamp
	received       *big.Int // normalized units
	rewardPerShare *big.Int // cumulative, RewardScale fixed-point
}

type pendingWithdrawal struct {
	amount      *big.Int
	unlockEpoch idx.Epoch
}

// seat is the per-member state.
type seat struct {
	principal *big.Int

	// lastSnapshot and accrued implement the lazy checkpoint: accrued caches
	// reward earned up to history[lastSnapshot], in normalized units.
	lastSnapshot map[common.Address]int
	accrued      map[common.Address]*big.Int

	// depositStart is the epoch loyalty tracking was armed; loyaltyArmed
	// distinguishes a start at epoch zero from a withdrawal-request reset.
	depositStart idx.Epoch
	loyaltyArmed bool

	// lastReset is the epoch of the last stake or claim; it gates both the
	// reward lockup and the unclaimed-reward expiry window.
	lastReset idx.Epoch

	pending *pendingWithdrawal
}

// Config wires a Boardroom to its collaborators.
type Config struct {
	// Address is the boardroom's own custody account.
	Address common.Address

	// Share is the staked token; Reference is the currency fee-claims pay in.
	Share     token.Ledger
	Reference token.Ledger

	Owner        common.Address
	Operator     common.Address
	Treasury     common.Address
	FeeCollector common.Address
}

// Boardroom is the staking reward ledger.
type Boardroom struct {
	mu  sync.Mutex
	log log.Logger

	rules lume.BoardroomRules
	cfg   Config

	epochs EpochSource
	recs   *records.Store

	assets  []*rewardAsset // registration order
	byToken map[common.Address]*rewardAsset

	members     map[common.Address]*seat
	totalStaked *big.Int

	feePool           *big.Int
	lastFeeCollection idx.Epoch
}

// New creates a boardroom. rules must already be validated.
func New(rules lume.BoardroomRules, cfg Config, epochs EpochSource, recs *records.Store) *Boardroom {
	return &Boardroom{
		log:         log.New("module", "boardroom"),
		rules:       rules,
		cfg:         cfg,
		epochs:      epochs,
		recs:        recs,
		byToken:     map[common.Address]*rewardAsset{},
		members:     map[common.Address]*seat{},
		totalStaked: new(big.Int),
		feePool:     new(big.Int),
	}
}

// AddRewardAsset registers a reward asset. el must be the asset's own elastic
// ledger when the asset rebases, nil otherwise. Restricted to the owner.
func (b *Boardroom) AddRewardAsset(caller common.Address, tok token.Mintable, src oracle.Source, el *elastic.Ledger) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if caller != b.cfg.Owner {
		return ErrUnauthorized
	}
	if _, ok := b.byToken[tok.Address()]; ok {
		return errors.New("boardroom: reward asset already registered")
	}
	one := big.NewInt(1)
	a := &rewardAsset{
		token:      tok,
		oracle:     src,
		elastic:    el,
		firstRate:  one,
		cachedRate: one,
		history: []snapshot{{
			received:       new(big.Int),
			rewardPerShare: new(big.Int),
		}},
	}
	if el != nil {
		rate := el.UnitsPerFragment()
		a.firstRate = new(big.Int).Set(rate)
		a.cachedRate = new(big.Int).Set(rate)
	}
	b.assets = append(b.assets, a)
	b.byToken[tok.Address()] = a
	b.log.Info("reward asset registered", "asset", tok.Address(), "symbol", tok.Symbol(), "elastic", el != nil)
	return nil
}

// Stake deposits share tokens for account. The received amount is measured as
// a balance delta, so share tokens that shave transfers are credited at what
// actually arrived.
func (b *Boardroom) Stake(account common.Address, amount *big.Int) error {
	// The epoch source takes its own lock; read it before ours so the lock
	// order never inverts the treasury's CreditReward path.
	cur := b.epochs.CurrentEpoch()
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	s := b.members[account]
	if s == nil {
		s = b.newSeat(cur)
		b.members[account] = s
	}
	b.checkpoint(s)
	b.expireIfStale(account, s, cur)

	if !s.loyaltyArmed || s.principal.Sign() == 0 {
		s.depositStart = cur
		s.loyaltyArmed = true
	}

	before := b.cfg.Share.BalanceOf(b.cfg.Address)
	if err := b.cfg.Share.Transfer(account, b.cfg.Address, amount); err != nil {
		return err
	}
	received := new(big.Int).Sub(b.cfg.Share.BalanceOf(b.cfg.Address), before)

	s.principal.Add(s.principal, received)
	b.totalStaked.Add(b.totalStaked, received)
	s.lastReset = cur
	b.log.Debug("stake", "account", account, "received", received, "epoch", cur)
	return nil
}

// RequestWithdraw moves amount from active stake into a time-locked pending
// withdrawal and burns a proportional share of the caller's accrued reward.
// Loyalty tracking resets on any withdrawal intent.
func (b *Boardroom) RequestWithdraw(account common.Address, amount *big.Int) error {
	cur := b.epochs.CurrentEpoch()
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.members[account]
	if s == nil || s.principal.Sign() == 0 {
		return ErrNoSuchMember
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if amount.Cmp(s.principal) > 0 {
		return ErrInsufficientStake
	}
	b.checkpoint(s)
	b.expireIfStale(account, s, cur)

	// Sacrifice accrued reward proportionally to the withdrawn share of
	// principal, before the principal itself moves.
	for _, a := range b.assets {
		acc := s.accrued[a.token.Address()]
		if acc == nil || acc.Sign() == 0 {
			continue
		}
		sac := new(big.Int).Mul(acc, amount)
		sac.Div(sac, s.principal)
		if sac.Sign() == 0 {
			continue
		}
		if err := b.burnReward(account, a, sac, cur, uint8(0)); err != nil {
			return err
		}
		acc.Sub(acc, sac)
	}

	s.principal.Sub(s.principal, amount)
	b.totalStaked.Sub(b.totalStaked, amount)
	if s.pending == nil {
		s.pending = &pendingWithdrawal{amount: new(big.Int)}
	}
	s.pending.amount.Add(s.pending.amount, amount)
	s.pending.unlockEpoch = cur + b.rules.WithdrawLockupEpochs
	s.depositStart = 0
	s.loyaltyArmed = false
	b.log.Debug("withdrawal requested", "account", account, "amount", amount, "unlock", s.pending.unlockEpoch)
	return nil
}

// CancelPendingWithdraw restores the pending amount to active stake. Loyalty
// tracking restarts one epoch later.
func (b *Boardroom) CancelPendingWithdraw(account common.Address) error {
	cur := b.epochs.CurrentEpoch()
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.members[account]
	if s == nil || s.pending == nil {
		return ErrNothingPending
	}
	b.checkpoint(s)
	s.principal.Add(s.principal, s.pending.amount)
	b.totalStaked.Add(b.totalStaked, s.pending.amount)
	s.pending = nil
	s.depositStart = cur + 1
	s.loyaltyArmed = true
	return nil
}

// FinalizeWithdraw pays out an unlocked pending withdrawal. The principal
// left the reward-accrual base at request time, so no checkpoint is needed.
func (b *Boardroom) FinalizeWithdraw(account common.Address) error {
	cur := b.epochs.CurrentEpoch()
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.members[account]
	if s == nil || s.pending == nil {
		return ErrNothingPending
	}
	if s.pending.unlockEpoch > cur {
		return ErrStillLocked
	}
	if err := b.cfg.Share.Transfer(b.cfg.Address, account, s.pending.amount); err != nil {
		return err
	}
	s.pending = nil
	return nil
}

// SyncElastic refreshes the cached conversion rate of one reward asset. The
// treasury calls this after a contraction so payout conversion does not wait
// for the next member interaction.
func (b *Boardroom) SyncElastic(assetAddr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a := b.byToken[assetAddr]; a != nil {
		b.syncRate(a)
	}
}

// TotalStaked returns the active stake across all members.
func (b *Boardroom) TotalStaked() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.totalStaked)
}

// PrincipalOf returns the active stake of one member.
func (b *Boardroom) PrincipalOf(account common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.members[account]; s != nil {
		return new(big.Int).Set(s.principal)
	}
	return new(big.Int)
}

// PendingOf returns a member's pending withdrawal, if any.
func (b *Boardroom) PendingOf(account common.Address) (amount *big.Int, unlock idx.Epoch, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.members[account]
	if s == nil || s.pending == nil {
		return nil, 0, false
	}
	return new(big.Int).Set(s.pending.amount), s.pending.unlockEpoch, true
}

// FeePool returns the accumulated, uncollected fee amount.
func (b *Boardroom) FeePool() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.feePool)
}

// CollectFees transfers the accumulated fee pool to the fee collector.
// Gated by the collection delay. Restricted to the owner or the collector.
func (b *Boardroom) CollectFees(caller common.Address) error {
	cur := b.epochs.CurrentEpoch()
	b.mu.Lock()
	defer b.mu.Unlock()
	if caller != b.cfg.Owner && caller != b.cfg.FeeCollector {
		return ErrUnauthorized
	}
	if cur < b.lastFeeCollection+b.rules.FeeCollectionDelayEpochs {
		return ErrStillLocked
	}
	amount := new(big.Int).Set(b.feePool)
	if amount.Sign() == 0 {
		return nil
	}
	if err := b.cfg.Reference.Transfer(b.cfg.Address, b.cfg.FeeCollector, amount); err != nil {
		return err
	}
	b.feePool.SetInt64(0)
	b.lastFeeCollection = cur
	return nil
}

// SetFee adjusts the fee-claim percentage. The operator role may call this;
// requests past the cap are clamped, not rejected.
func (b *Boardroom) SetFee(caller common.Address, feeBps uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.authorized(caller, true); err != nil {
		return err
	}
	if feeBps > b.rules.MaxFeeBps {
		b.log.Warn("fee clamped at cap", "requested", feeBps, "cap", b.rules.MaxFeeBps)
		feeBps = b.rules.MaxFeeBps
	}
	b.rules.FeeBps = feeBps
	return nil
}

// SetSacrifice adjusts the burn-claim sacrifice percentage. Owner only.
func (b *Boardroom) SetSacrifice(caller common.Address, sacrificeBps uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.authorized(caller, false); err != nil {
		return err
	}
	if sacrificeBps > lume.BpsDenominator {
		return errors.New("boardroom: sacrifice exceeds 100%")
	}
	b.rules.SacrificeBps = sacrificeBps
	return nil
}

// SetLockups adjusts the three lockup windows together so their mutual
// constraints can be checked atomically. Owner only.
func (b *Boardroom) SetLockups(caller common.Address, withdraw, reward, claimBurn idx.Epoch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.authorized(caller, false); err != nil {
		return err
	}
	next := b.rules
	next.WithdrawLockupEpochs = withdraw
	next.RewardLockupEpochs = reward
	next.ClaimBurnEpochs = claimBurn
	if err := validateRules(next); err != nil {
		return err
	}
	b.rules = next
	return nil
}

// SetLoyaltyTiers replaces the loyalty discount schedule. Owner only.
func (b *Boardroom) SetLoyaltyTiers(caller common.Address, tiers []lume.LoyaltyTier) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.authorized(caller, false); err != nil {
		return err
	}
	next := b.rules
	next.LoyaltyTiers = append([]lume.LoyaltyTier(nil), tiers...)
	if err := validateRules(next); err != nil {
		return err
	}
	b.rules = next
	return nil
}

// SetOperator hands the operator role to another account. Owner only.
func (b *Boardroom) SetOperator(caller, operator common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.authorized(caller, false); err != nil {
		return err
	}
	b.cfg.Operator = operator
	return nil
}

// TransferOwnership hands the owner role to another account. Owner only.
func (b *Boardroom) TransferOwnership(caller, owner common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.authorized(caller, false); err != nil {
		return err
	}
	b.cfg.Owner = owner
	return nil
}

// authorized is the single two-tier access predicate: the owner may do
// anything, the operator only what explicitly opts in.
func (b *Boardroom) authorized(caller common.Address, operatorOK bool) error {
	if caller == b.cfg.Owner {
		return nil
	}
	if operatorOK && caller == b.cfg.Operator {
		return nil
	}
	return ErrUnauthorized
}

func (b *Boardroom) newSeat(cur idx.Epoch) *seat {
	s := &seat{
		principal:    new(big.Int),
		lastSnapshot: map[common.Address]int{},
		accrued:      map[common.Address]*big.Int{},
		lastReset:    cur,
	}
	for _, a := range b.assets {
		s.lastSnapshot[a.token.Address()] = len(a.history) - 1
	}
	return s
}

// validateRules funnels every setter through the same range checks as a
// full Rules value.
func validateRules(r lume.BoardroomRules) error {
	full := lume.MainNetRules()
	full.Boardroom = r
	return full.Validate()
}
