// Package elastic implements the elastic-supply conversion ledger.
//
// Balances are held in a fixed pool of internal units ("units"); the external
// unit ("fragments") visible to accounts is derived through a mutable
// units-per-fragment rate. A rebase changes only the rate, so every holder's
// external balance moves by the same proportion without touching any account
// entry.
//
// The unit pool size is chosen as the largest multiple of the genesis
// external supply that fits 256 bits. That makes the genesis rate exact and
// keeps rate divisions lossless for as long as possible; any amount derived
// from internal units rounds down, so repeated small operations may strand
// rounding dust but can never invent value.
package elastic

import (
	"errors"
	"math/big"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

var (
	// ErrInvalidRebase is returned when a rebase would produce a non-positive
	// external supply.
	ErrInvalidRebase = errors.New("elastic: invalid rebase")

	// ErrInsufficientBalance is returned when a transfer or burn exceeds the
	// account's internal-unit balance at the current rate.
	ErrInsufficientBalance = errors.New("elastic: insufficient balance")

	// ErrNotMinter is returned when mint or burn is attempted by an account
	// without the minter role.
	ErrNotMinter = errors.New("elastic: caller is not the minter")

	// ErrNotOwner is returned when a role transfer is attempted by anything
	// other than the owner.
	ErrNotOwner = errors.New("elastic: caller is not the owner")
)

var (
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// MaxExternalSupply is the hard supply ceiling: requests past it are
	// clamped, never rejected. Treat as read-only.
	MaxExternalSupply = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// SupplyState captures the rate-defining fields of the ledger. It exists so
// an orchestrated rebase cycle can be reverted as a whole if a downstream
// call fails; account balances are untouched by rebase, so the state is just
// the supply and the rate.
type SupplyState struct {
	externalSupply   *big.Int
	unitsPerFragment *big.Int
}

// Ledger is the elastic-supply conversion ledger. All methods are safe for
// serialized use; a single mutex makes each operation atomic with respect to
// the conversion rate, which is required because every external amount is
// converted with the rate that is current at mutation time.
type Ledger struct {
	mu  sync.Mutex
	log log.Logger

	addr     common.Address
	name     string
	symbol   string
	decimals uint8

	owner  common.Address
	minter common.Address

	totalUnits       *big.Int // immutable after construction
	outstandingUnits *big.Int // totalUnits plus units created by mint, minus burns
	externalSupply   *big.Int
	unitsPerFragment *big.Int
	totalBurned      *big.Int

	units map[common.Address]*big.Int
}

// New creates an elastic ledger with the whole genesis supply credited to
// genesisHolder. The owner starts as the minter.
func New(addr common.Address, name, symbol string, decimals uint8, genesisSupply *big.Int, genesisHolder, owner common.Address) *Ledger {
	if genesisSupply.Sign() <= 0 {
		panic("elastic: genesis supply must be positive")
	}
	totalUnits := new(big.Int).Sub(maxUint256, new(big.Int).Mod(maxUint256, genesisSupply))
	l := &Ledger{
		log:              log.New("module", "elastic", "symbol", symbol),
		addr:             addr,
		name:             name,
		symbol:           symbol,
		decimals:         decimals,
		owner:            owner,
		minter:           owner,
		totalUnits:       totalUnits,
		outstandingUnits: new(big.Int).Set(totalUnits),
		externalSupply:   new(big.Int).Set(genesisSupply),
		unitsPerFragment: new(big.Int).Div(totalUnits, genesisSupply),
		totalBurned:      new(big.Int),
		units:            map[common.Address]*big.Int{},
	}
	l.units[genesisHolder] = new(big.Int).Set(totalUnits)
	return l
}

func (l *Ledger) Address() common.Address { return l.addr }

func (l *Ledger) Name() string    { return l.name }
func (l *Ledger) Symbol() string  { return l.symbol }
func (l *Ledger) Decimals() uint8 { return l.decimals }

// TotalSupply returns the current external supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.externalSupply)
}

// TotalBurned returns the cumulative externally burned amount.
func (l *Ledger) TotalBurned() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.totalBurned)
}

// UnitsPerFragment returns the current conversion rate. Reward ledgers cache
// this value and lazily resynchronize when it moves.
func (l *Ledger) UnitsPerFragment() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.unitsPerFragment)
}

// BalanceOf returns the external balance of an account, rounded down from its
// internal units.
func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.units[account]; ok {
		return new(big.Int).Div(u, l.unitsPerFragment)
	}
	return new(big.Int)
}

// Transfer moves an external amount between accounts, converting at the
// current rate.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.Sign() <= 0 {
		return nil
	}
	units := new(big.Int).Mul(amount, l.unitsPerFragment)
	if err := l.debitUnits(from, units); err != nil {
		return err
	}
	l.creditUnits(to, units)
	return nil
}

// Mint creates an external amount for to. Requests past the supply ceiling
// are clamped. Restricted to the minter.
func (l *Ledger) Mint(caller, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.minter {
		return ErrNotMinter
	}
	if amount.Sign() <= 0 {
		return nil
	}
	headroom := new(big.Int).Sub(MaxExternalSupply, l.externalSupply)
	if amount.Cmp(headroom) > 0 {
		l.log.Warn("mint clamped at supply ceiling", "requested", amount, "minted", headroom)
		amount = headroom
	}
	units := new(big.Int).Mul(amount, l.unitsPerFragment)
	l.creditUnits(to, units)
	l.outstandingUnits.Add(l.outstandingUnits, units)
	l.externalSupply.Add(l.externalSupply, amount)
	return nil
}

// Burn destroys an external amount held by from. Accounts may burn their own
// balance; burning another account's balance requires the minter role.
func (l *Ledger) Burn(caller, from common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.minter && caller != from {
		return ErrNotMinter
	}
	if amount.Sign() <= 0 {
		return nil
	}
	units := new(big.Int).Mul(amount, l.unitsPerFragment)
	if err := l.debitUnits(from, units); err != nil {
		return err
	}
	l.outstandingUnits.Sub(l.outstandingUnits, units)
	l.externalSupply.Sub(l.externalSupply, amount)
	l.totalBurned.Add(l.totalBurned, amount)
	return nil
}

// TransferMinterRole hands the minter role to another account. Restricted to
// the owner.
func (l *Ledger) TransferMinterRole(caller, newMinter common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return ErrNotOwner
	}
	l.minter = newMinter
	return nil
}

// Rebase applies a signed external-unit delta to the supply and returns the
// new external supply.
//
// The delta adjusts a reference total, the rate is recomputed from the
// reference, and the external supply is then re-derived from the rate. The
// applied delta can therefore differ slightly from the requested one; the
// deviation is bounded by supply^2/(outstandingUnits-supply) and is accepted,
// not corrected, because policy delta caps are tuned around it.
//
// A zero delta is a recorded no-op: the current supply is returned with no
// error so the caller can still log the epoch tag. A reference total past the
// supply ceiling is clamped; a non-positive one is rejected with
// ErrInvalidRebase.
func (l *Ledger) Rebase(epoch idx.Epoch, delta *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if delta.Sign() == 0 {
		l.log.Debug("rebase no-op", "epoch", epoch)
		return new(big.Int).Set(l.externalSupply), nil
	}
	reference := new(big.Int).Add(l.externalSupply, delta)
	if reference.Sign() <= 0 {
		return nil, ErrInvalidRebase
	}
	if reference.Cmp(MaxExternalSupply) > 0 {
		l.log.Warn("rebase clamped at supply ceiling", "epoch", epoch, "requested", reference)
		reference.Set(MaxExternalSupply)
	}
	// The rate must satisfy outstanding/rate == reference: minted units live
	// outside the genesis pool, so the rate is derived from all outstanding
	// units, not the genesis pool size. Re-deriving the supply with the same
	// floor keeps sum(balances) <= externalSupply.
	l.unitsPerFragment.Div(l.outstandingUnits, reference)
	l.externalSupply.Div(l.outstandingUnits, l.unitsPerFragment)
	l.log.Info("rebase applied", "epoch", epoch, "delta", delta, "supply", l.externalSupply)
	return new(big.Int).Set(l.externalSupply), nil
}

// SupplyState returns a copy of the rate-defining state for later restore.
func (l *Ledger) SupplyState() SupplyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return SupplyState{
		externalSupply:   new(big.Int).Set(l.externalSupply),
		unitsPerFragment: new(big.Int).Set(l.unitsPerFragment),
	}
}

// RestoreSupplyState reverts the supply and rate to a previously captured
// state. Used by the rebase orchestration to make a cycle all-or-nothing.
func (l *Ledger) RestoreSupplyState(st SupplyState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.externalSupply.Set(st.externalSupply)
	l.unitsPerFragment.Set(st.unitsPerFragment)
}

func (l *Ledger) debitUnits(from common.Address, units *big.Int) error {
	u, ok := l.units[from]
	if !ok || u.Cmp(units) < 0 {
		return ErrInsufficientBalance
	}
	u.Sub(u, units)
	return nil
}

func (l *Ledger) creditUnits(to common.Address, units *big.Int) {
	u, ok := l.units[to]
	if !ok {
		u = new(big.Int)
		l.units[to] = u
	}
	u.Add(u, units)
}
