// Package token defines the asset interfaces consumed by the accounting core
// and an in-memory standard ledger used for the share token and the reference
// currency.
//
// Callers are identified explicitly: every restricted operation takes the
// calling account as its first argument, mirroring the serialized execution
// model in which exactly one caller is attached to each operation.
package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when a transfer or burn would exceed
	// the source account's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")

	// ErrNotMinter is returned when mint or burn is attempted by an account
	// without the minter role.
	ErrNotMinter = errors.New("token: caller is not the minter")

	// ErrNotOwner is returned when a role transfer is attempted by an account
	// other than the owner.
	ErrNotOwner = errors.New("token: caller is not the owner")
)

// Ledger is the read/transfer surface of an asset. Address is the asset's
// deployment identity: the key under which oracles quote it and ledgers
// record it.
type Ledger interface {
	Address() common.Address
	Name() string
	Symbol() string
	Decimals() uint8
	TotalSupply() *big.Int
	BalanceOf(account common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
}

// Mintable is an asset whose supply is controlled by a single minter role.
type Mintable interface {
	Ledger
	Mint(caller, to common.Address, amount *big.Int) error
	Burn(caller, from common.Address, amount *big.Int) error
	TotalBurned() *big.Int
	TransferMinterRole(caller, newMinter common.Address) error
}

// Standard is a plain fixed-conversion ledger: one internal unit per external
// unit, no rebasing. It backs the boardroom share token and the reference
// currency in tests and local deployments.
type Standard struct {
	mu sync.Mutex

	addr     common.Address
	name     string
	symbol   string
	decimals uint8

	owner  common.Address
	minter common.Address

	supply   *big.Int
	burned   *big.Int
	balances map[common.Address]*big.Int
}

// NewStandard creates a standard ledger owned by owner, which also starts as
// the minter.
func NewStandard(addr common.Address, name, symbol string, decimals uint8, owner common.Address) *Standard {
	return &Standard{
		addr:     addr,
		name:     name,
		symbol:   symbol,
		decimals: decimals,
		owner:    owner,
		minter:   owner,
		supply:   new(big.Int),
		burned:   new(big.Int),
		balances: map[common.Address]*big.Int{},
	}
}

func (s *Standard) Address() common.Address { return s.addr }

func (s *Standard) Name() string    { return s.name }
func (s *Standard) Symbol() string  { return s.symbol }
func (s *Standard) Decimals() uint8 { return s.decimals }

// TotalSupply returns the current external supply.
func (s *Standard) TotalSupply() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.supply)
}

// TotalBurned returns the cumulative burned amount.
func (s *Standard) TotalBurned() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.burned)
}

// BalanceOf returns the balance of an account.
func (s *Standard) BalanceOf(account common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Transfer moves amount from one account to another.
func (s *Standard) Transfer(from, to common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.move(from, to, amount)
}

// Mint creates amount new units for to. Restricted to the minter.
func (s *Standard) Mint(caller, to common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.minter {
		return ErrNotMinter
	}
	if amount.Sign() <= 0 {
		return nil
	}
	s.credit(to, amount)
	s.supply.Add(s.supply, amount)
	return nil
}

// Burn destroys amount units held by from. Accounts may burn their own
// balance; burning another account's balance requires the minter role.
func (s *Standard) Burn(caller, from common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.minter && caller != from {
		return ErrNotMinter
	}
	if amount.Sign() <= 0 {
		return nil
	}
	if err := s.debit(from, amount); err != nil {
		return err
	}
	s.supply.Sub(s.supply, amount)
	s.burned.Add(s.burned, amount)
	return nil
}

// TransferMinterRole hands the minter role to another account. Restricted to
// the owner.
func (s *Standard) TransferMinterRole(caller, newMinter common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.owner {
		return ErrNotOwner
	}
	s.minter = newMinter
	return nil
}

func (s *Standard) move(from, to common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	if err := s.debit(from, amount); err != nil {
		return err
	}
	s.credit(to, amount)
	return nil
}

func (s *Standard) debit(from common.Address, amount *big.Int) error {
	b, ok := s.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	return nil
}

func (s *Standard) credit(to common.Address, amount *big.Int) {
	b, ok := s.balances[to]
	if !ok {
		b = new(big.Int)
		s.balances[to] = b
	}
	b.Add(b, amount)
}
