// Package rebase implements the per-epoch rebase policy: it turns a price
// signal into a bounded signed supply delta, applies it through the elastic
// ledger, and forwards post-rebase side effects to a configured list of
// downstream calls as a single all-or-nothing batch.
package rebase

import (
	"errors"
	"fmt"
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
)

var (
	// ErrNotOrchestrator is returned when the cycle is triggered by anything
	// other than the designated caller.
	ErrNotOrchestrator = errors.New("rebase: caller is not the orchestrator")

	// ErrEpochNotReady is returned when a cycle is attempted twice in the
	// same epoch.
	ErrEpochNotReady = errors.New("rebase: epoch already applied")

	// ErrOracleUnavailable is returned when the price needed for the policy
	// decision cannot be read. Unlike the treasury's price refresh, there is
	// no safe fallback here, so the cycle aborts.
	ErrOracleUnavailable = errors.New("rebase: oracle unavailable")

	// ErrDownstreamCallFailed is returned when any downstream call fails; the
	// whole cycle, including the applied supply delta, is rolled back.
	ErrDownstreamCallFailed = errors.New("rebase: downstream call failed")

	// ErrReentrantCall is returned when a cycle is triggered while another
	// one is still in progress.
	ErrReentrantCall = errors.New("rebase: reentrant call")
)

// state of the per-epoch cycle.
type state uint8

const (
	stateIdle state = iota
	stateEvaluating
	stateApplied
)

// Downstream is one entry of the orchestration list. Calls must be side-effect
// notifications that tolerate the cycle being reverted around them; any
// returned error aborts the entire batch.
type Downstream struct {
	Name    string
	Target  common.Address
	Call    func() error
	Enabled bool
}

// Decision is one recorded policy outcome.
type Decision struct {
	Epoch         idx.Epoch
	ObservedPrice *big.Int
	TargetPrice   *big.Int
	AppliedDelta  *big.Int
}

// Policy is the rebase policy calculator for one elastic asset.
type Policy struct {
	mu  sync.Mutex
	log log.Logger

	rules  lume.RebaseRules
	parity *big.Int

	asset  common.Address
	ledger *elastic.Ledger
	oracle oracle.Source
	recs   *records.Store

	owner        common.Address
	orchestrator common.Address

	state      state
	lastEpoch  idx.Epoch
	downstream []Downstream
	decisions  []Decision

	now func() inter.Timestamp
}

// NewPolicy creates a policy bound to one elastic ledger. orchestrator is the
// only account allowed to trigger cycles (in practice the treasury's own
// account). now may be nil.
func NewPolicy(rules lume.Rules, asset common.Address, ledger *elastic.Ledger, src oracle.Source, recs *records.Store, owner, orchestrator common.Address, now func() inter.Timestamp) *Policy {
	if now == nil {
		now = func() inter.Timestamp { return 0 }
	}
	return &Policy{
		log:          log.New("module", "rebase", "asset", asset),
		rules:        rules.Rebase,
		parity:       new(big.Int).Set(rules.Peg.ParityPrice),
		asset:        asset,
		ledger:       ledger,
		oracle:       src,
		recs:         recs,
		owner:        owner,
		orchestrator: orchestrator,
		now:          now,
	}
}

// AddDownstream appends a call to the orchestration list. Restricted to the
// owner.
func (p *Policy) AddDownstream(caller common.Address, d Downstream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrNotOrchestrator
	}
	p.downstream = append(p.downstream, d)
	return nil
}

// SetDownstreamEnabled toggles one entry of the orchestration list.
// Restricted to the owner.
func (p *Policy) SetDownstreamEnabled(caller common.Address, i int, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrNotOrchestrator
	}
	if i < 0 || i >= len(p.downstream) {
		return fmt.Errorf("rebase: no downstream entry %d", i)
	}
	p.downstream[i].Enabled = enabled
	return nil
}

// LastDecision returns the most recent recorded decision, or false if none.
func (p *Policy) LastDecision() (Decision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.decisions) == 0 {
		return Decision{}, false
	}
	d := p.decisions[len(p.decisions)-1]
	return d, true
}

// Rebase runs one full policy cycle for the given epoch and returns the
// applied signed external-unit delta.
//
// The cycle reads the TWAP price, computes a percentage delta bounded by the
// configured caps, converts it to an absolute supply delta, applies it, and
// then invokes every enabled downstream call in order. If any downstream call
// fails the supply change is reverted and nothing is recorded.
func (p *Policy) Rebase(caller common.Address, epoch idx.Epoch) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.orchestrator && caller != p.owner {
		return nil, ErrNotOrchestrator
	}
	if p.state != stateIdle {
		return nil, ErrReentrantCall
	}
	if epoch <= p.lastEpoch {
		return nil, ErrEpochNotReady
	}
	p.state = stateEvaluating
	defer func() { p.state = stateIdle }()

	price, err := p.oracle.TWAP(p.asset, pow10(p.ledger.Decimals()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	target, pctDelta := p.decide(price)
	supply := p.ledger.TotalSupply()
	supplyDelta := new(big.Int).Mul(pctDelta, supply)
	supplyDelta.Quo(supplyDelta, lume.PriceScale)

	before := p.ledger.SupplyState()
	newSupply, err := p.ledger.Rebase(epoch, supplyDelta)
	if err != nil {
		return nil, err
	}
	applied := new(big.Int).Sub(newSupply, supply)

	for _, d := range p.downstream {
		if !d.Enabled {
			continue
		}
		if err := d.Call(); err != nil {
			p.ledger.RestoreSupplyState(before)
			p.log.Warn("rebase cycle reverted", "epoch", epoch, "downstream", d.Name, "err", err)
			return nil, fmt.Errorf("%w: %s: %v", ErrDownstreamCallFailed, d.Name, err)
		}
	}

	p.state = stateApplied
	p.lastEpoch = epoch
	p.decisions = append(p.decisions, Decision{
		Epoch:         epoch,
		ObservedPrice: new(big.Int).Set(price),
		TargetPrice:   target,
		AppliedDelta:  applied,
	})
	expansion, contraction := new(big.Int), new(big.Int)
	if applied.Sign() >= 0 {
		expansion.Set(applied)
	} else {
		contraction.Neg(applied)
	}
	if err := p.recs.AddRebase(records.RebaseRecord{
		Asset:         p.asset,
		Epoch:         epoch,
		Time:          p.now(),
		ObservedPrice: new(big.Int).Set(price),
		TargetPrice:   target,
		Expansion:     expansion,
		Contraction:   contraction,
		NewSupply:     newSupply,
	}); err != nil {
		p.log.Error("failed to record rebase decision", "err", err)
	}
	p.log.Info("rebase cycle applied", "epoch", epoch, "price", price, "target", target, "delta", applied)
	return applied, nil
}

// decide maps a price to (target, percentage delta in price units).
func (p *Policy) decide(price *big.Int) (*big.Int, *big.Int) {
	if price.Cmp(p.rules.ExpansionThreshold) > 0 {
		target := new(big.Int).Set(p.rules.ExpansionThreshold)
		delta := new(big.Int).Sub(price, target)
		if delta.Cmp(p.rules.ExpansionDeltaCap) > 0 {
			delta.Set(p.rules.ExpansionDeltaCap)
		}
		return target, delta
	}
	if price.Cmp(p.rules.ContractionThreshold) < 0 {
		target := new(big.Int).Set(p.rules.ContractionThreshold)
		delta := new(big.Int).Sub(target, price)
		if delta.Cmp(p.rules.ContractionDeltaCap) > 0 {
			delta.Set(p.rules.ContractionDeltaCap)
		}
		return target, delta.Neg(delta)
	}
	return new(big.Int).Set(p.parity), new(big.Int)
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
