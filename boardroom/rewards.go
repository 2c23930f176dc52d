package boardroom

import (
	"fmt"
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/lume-fi/lumefi-contracts/inter"
	"github.com/lume-fi/lumefi-contracts/lume"
	"github.com/lume-fi/lumefi-contracts/records"
)

// CreditReward pulls amount of a registered reward asset from the treasury
// into custody and advances the asset's reward-per-share counter. Elastic
// amounts are normalized to the asset's first-seen conversion rate so the
// counter stays comparable across rebases.
func (b *Boardroom) CreditReward(caller, assetAddr common.Address, amount *big.Int, at inter.Timestamp) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if caller != b.cfg.Treasury {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	a := b.byToken[assetAddr]
	if a == nil {
		return ErrUnknownAsset
	}
	if b.totalStaked.Sign() == 0 {
		return ErrNoStakers
	}
	b.syncRate(a)
	normalized := b.normalize(a, amount)

	prev := a.history[len(a.history)-1].rewardPerShare
	delta := new(big.Int).Mul(normalized, lume.RewardScale)
	delta.Div(delta, b.totalStaked)
	a.history = append(a.history, snapshot{
		time:           at,
		received:       normalized,
		rewardPerShare: new(big.Int).Add(prev, delta),
	})

	if err := a.token.Transfer(caller, b.cfg.Address, amount); err != nil {
		// Roll the snapshot back; the reward never arrived.
		a.history = a.history[:len(a.history)-1]
		return err
	}
	b.log.Info("reward credited", "asset", assetAddr, "amount", amount, "normalized", normalized)
	return nil
}

// Earned returns the amount of one reward asset currently owed to account,
// in the asset's present external units.
func (b *Boardroom) Earned(account, assetAddr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.byToken[assetAddr]
	s := b.members[account]
	if a == nil || s == nil {
		return new(big.Int)
	}
	b.syncRate(a)
	owed := b.owedNormalized(s, a)
	return b.payout(a, owed)
}

// Claim pays out all pending reward using the requested strategy. feeSupplied
// is the reference-currency amount attached to a fee-claim; any excess over
// the net fee stays with the caller.
//
// If the caller has been idle past the claim-burn window, the entire pending
// reward is burned regardless of the requested option and the timer resets.
func (b *Boardroom) Claim(account common.Address, option ClaimOption, feeSupplied *big.Int) error {
	cur := b.epochs.CurrentEpoch()
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.members[account]
	if s == nil {
		return ErrNoSuchMember
	}
	b.checkpoint(s)

	if cur >= s.lastReset+b.rules.ClaimBurnEpochs {
		b.expireIfStale(account, s, cur)
		s.lastReset = cur
		return nil
	}
	if cur < s.lastReset+b.rules.RewardLockupEpochs {
		return ErrStillLocked
	}

	switch option {
	case ClaimBurn:
		if err := b.claimWithSacrifice(account, s, cur); err != nil {
			return err
		}
	case ClaimFee:
		if err := b.claimWithFee(account, s, cur, feeSupplied); err != nil {
			return err
		}
	default:
		return ErrUnsupportedClaimOption
	}
	s.lastReset = cur
	return nil
}

// claimWithSacrifice pays (10000-sacrifice)/10000 of each owed reward and
// burns the remainder.
func (b *Boardroom) claimWithSacrifice(account common.Address, s *seat, cur idx.Epoch) error {
	keep := new(big.Int).SetUint64(lume.BpsDenominator - b.rules.SacrificeBps)
	for _, a := range b.assets {
		acc := s.accrued[a.token.Address()]
		if acc == nil || acc.Sign() == 0 {
			continue
		}
		payNorm := new(big.Int).Mul(acc, keep)
		payNorm.Div(payNorm, new(big.Int).SetUint64(lume.BpsDenominator))
		burnNorm := new(big.Int).Sub(acc, payNorm)

		pay := b.payout(a, payNorm)
		burn := b.payout(a, burnNorm)
		if err := a.token.Transfer(b.cfg.Address, account, pay); err != nil {
			return err
		}
		if err := a.token.Burn(b.cfg.Address, b.cfg.Address, burn); err != nil {
			return err
		}
		acc.SetInt64(0)
		b.record(records.ClaimRecord{
			Account: account,
			Asset:   a.token.Address(),
			Epoch:   cur,
			Paid:    pay,
			Burned:  burn,
			Fee:     new(big.Int),
			Option:  uint8(ClaimBurn),
		})
	}
	return nil
}

// claimWithFee pays rewards in full against a reference-currency fee, reduced
// by the caller's loyalty discount. The fee is computed and pulled before any
// payout so an underfunded call leaves no partial state behind.
func (b *Boardroom) claimWithFee(account common.Address, s *seat, cur idx.Epoch, feeSupplied *big.Int) error {
	type payment struct {
		asset *rewardAsset
		acc   *big.Int
		pay   *big.Int
		fee   *big.Int
	}
	var plan []payment
	totalFee := new(big.Int)
	for _, a := range b.assets {
		acc := s.accrued[a.token.Address()]
		if acc == nil || acc.Sign() == 0 {
			continue
		}
		pay := b.payout(a, acc)
		price, err := a.oracle.Consult(a.token.Address(), pow10(a.token.Decimals()))
		if err != nil {
			return fmt.Errorf("boardroom: fee pricing failed for %s: %w", a.token.Symbol(), err)
		}
		fee := new(big.Int).Mul(price, pay)
		fee.Mul(fee, new(big.Int).SetUint64(b.rules.FeeBps))
		fee.Div(fee, pow10(a.token.Decimals()+4))
		totalFee.Add(totalFee, fee)
		plan = append(plan, payment{asset: a, acc: acc, pay: pay, fee: fee})
	}
	if len(plan) == 0 {
		return nil
	}

	discount := b.loyaltyDiscount(s, cur)
	netFee := new(big.Int).Mul(totalFee, new(big.Int).SetUint64(lume.BpsDenominator-discount))
	netFee.Div(netFee, new(big.Int).SetUint64(lume.BpsDenominator))

	if feeSupplied == nil || feeSupplied.Cmp(netFee) < 0 {
		return ErrInsufficientFee
	}
	if netFee.Sign() > 0 {
		if err := b.cfg.Reference.Transfer(account, b.cfg.Address, netFee); err != nil {
			return fmt.Errorf("%w: %v", ErrInsufficientFee, err)
		}
		b.feePool.Add(b.feePool, netFee)
	}

	for _, p := range plan {
		if err := p.asset.token.Transfer(b.cfg.Address, account, p.pay); err != nil {
			return err
		}
		p.acc.SetInt64(0)
		b.record(records.ClaimRecord{
			Account: account,
			Asset:   p.asset.token.Address(),
			Epoch:   cur,
			Paid:    p.pay,
			Burned:  new(big.Int),
			Fee:     p.fee,
			Option:  uint8(ClaimFee),
		})
	}
	return nil
}

// checkpoint brings a seat's accrued caches up to the latest snapshot of
// every asset. Invoked at the top of every state-changing member operation.
func (b *Boardroom) checkpoint(s *seat) {
	for _, a := range b.assets {
		b.syncRate(a)
		addr := a.token.Address()
		latest := len(a.history) - 1
		last := s.lastSnapshot[addr]
		if latest > last && s.principal.Sign() > 0 {
			diff := new(big.Int).Sub(a.history[latest].rewardPerShare, a.history[last].rewardPerShare)
			earned := diff.Mul(diff, s.principal)
			earned.Div(earned, lume.RewardScale)
			acc := s.accrued[addr]
			if acc == nil {
				acc = new(big.Int)
				s.accrued[addr] = acc
			}
			acc.Add(acc, earned)
		}
		s.lastSnapshot[addr] = latest
	}
}

// owedNormalized computes a seat's owed amount for one asset without
// mutating the caches.
func (b *Boardroom) owedNormalized(s *seat, a *rewardAsset) *big.Int {
	addr := a.token.Address()
	owed := new(big.Int)
	if acc := s.accrued[addr]; acc != nil {
		owed.Set(acc)
	}
	latest := len(a.history) - 1
	last := s.lastSnapshot[addr]
	if latest > last && s.principal.Sign() > 0 {
		diff := new(big.Int).Sub(a.history[latest].rewardPerShare, a.history[last].rewardPerShare)
		diff.Mul(diff, s.principal)
		diff.Div(diff, lume.RewardScale)
		owed.Add(owed, diff)
	}
	return owed
}

// expireIfStale burns the seat's entire pending reward if the claim-burn
// window elapsed since its last reset. The caller is responsible for
// resetting the timer afterwards where the operation semantics call for it.
func (b *Boardroom) expireIfStale(account common.Address, s *seat, cur idx.Epoch) {
	if cur < s.lastReset+b.rules.ClaimBurnEpochs {
		return
	}
	expired := false
	for _, a := range b.assets {
		acc := s.accrued[a.token.Address()]
		if acc == nil || acc.Sign() == 0 {
			continue
		}
		if err := b.burnReward(account, a, acc, cur, uint8(0)); err != nil {
			b.log.Error("expiry burn failed", "account", account, "asset", a.token.Address(), "err", err)
			continue
		}
		acc.SetInt64(0)
		expired = true
	}
	if expired {
		b.log.Warn("unclaimed reward expired", "account", account, "epoch", cur)
	}
}

// burnReward burns a normalized reward amount out of custody and records it.
func (b *Boardroom) burnReward(account common.Address, a *rewardAsset, normalized *big.Int, cur idx.Epoch, option uint8) error {
	amount := b.payout(a, normalized)
	if amount.Sign() == 0 {
		return nil
	}
	if err := a.token.Burn(b.cfg.Address, b.cfg.Address, amount); err != nil {
		return err
	}
	b.record(records.ClaimRecord{
		Account: account,
		Asset:   a.token.Address(),
		Epoch:   cur,
		Paid:    new(big.Int),
		Burned:  amount,
		Fee:     new(big.Int),
		Option:  option,
	})
	return nil
}

// syncRate lazily resynchronizes an elastic asset's cached conversion rate.
func (b *Boardroom) syncRate(a *rewardAsset) {
	if a.elastic == nil {
		return
	}
	rate := a.elastic.UnitsPerFragment()
	if rate.Cmp(a.cachedRate) != 0 {
		a.cachedRate.Set(rate)
	}
}

// normalize converts a present-rate external amount into first-seen-rate
// units.
func (b *Boardroom) normalize(a *rewardAsset, amount *big.Int) *big.Int {
	if a.elastic == nil {
		return new(big.Int).Set(amount)
	}
	out := new(big.Int).Mul(amount, a.cachedRate)
	return out.Div(out, a.firstRate)
}

// payout converts first-seen-rate units back into present external units.
func (b *Boardroom) payout(a *rewardAsset, normalized *big.Int) *big.Int {
	if a.elastic == nil {
		return new(big.Int).Set(normalized)
	}
	out := new(big.Int).Mul(normalized, a.firstRate)
	return out.Div(out, a.cachedRate)
}

// loyaltyDiscount looks up the seat's current fee discount.
func (b *Boardroom) loyaltyDiscount(s *seat, cur idx.Epoch) uint64 {
	if !s.loyaltyArmed || s.depositStart > cur {
		return 0
	}
	return b.rules.Discount(cur - s.depositStart)
}

func (b *Boardroom) record(rec records.ClaimRecord) {
	if err := b.recs.AddClaim(rec); err != nil {
		b.log.Error("failed to record claim", "err", err)
	}
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
