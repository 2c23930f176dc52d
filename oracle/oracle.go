// Package oracle defines the price-feed interface consumed by the treasury
// and the rebase policy, plus two implementations: a sliding-window TWAP
// source for live runs and a fixed source for tests.
//
// Prices are fixed-point values scaled by lume.PriceScale, quoted in the
// reference currency per whole asset token. Feeds are untrusted and may fail;
// Update failures are swallowed by callers with a safe fallback, Consult/TWAP
// failures surface as ErrUnavailable.
package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lume-fi/lumefi-contracts/inter"
	"github.com/lume-fi/lumefi-contracts/lume"
)

// ErrUnavailable is returned when no price can be produced.
var ErrUnavailable = errors.New("oracle: price unavailable")

// Source is the price-feed surface. Consult returns the spot value of
// amountIn asset units; TWAP returns a time-weighted value over the source's
// window. Both are quoted in reference-currency units at the asset's own
// decimal scale.
type Source interface {
	Update() error
	Consult(asset common.Address, amountIn *big.Int) (*big.Int, error)
	TWAP(asset common.Address, amountIn *big.Int) (*big.Int, error)
}

// PriceFunc supplies raw spot prices (PriceScale-scaled, per whole token) to
// a Window.
type PriceFunc func() (*big.Int, error)

type observation struct {
	time  inter.Timestamp
	price *big.Int
}

// Window is a sliding-window observation buffer over a raw price source.
// Update records one observation; TWAP averages observations inside the
// window weighted by the time each one was in effect.
type Window struct {
	mu sync.Mutex

	asset    common.Address
	decimals uint8
	window   time.Duration
	source   PriceFunc
	now      func() time.Time

	obs []observation
}

// NewWindow creates a TWAP window for one asset. now may be nil, in which
// case wall-clock time is used.
func NewWindow(asset common.Address, decimals uint8, window time.Duration, source PriceFunc, now func() time.Time) *Window {
	if now == nil {
		now = time.Now
	}
	return &Window{
		asset:    asset,
		decimals: decimals,
		window:   window,
		source:   source,
		now:      now,
	}
}

// Update pulls one observation from the raw source and prunes observations
// that fell out of the window.
func (w *Window) Update() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	price, err := w.source()
	if err != nil {
		return err
	}
	now := inter.ToTimestamp(w.now())
	w.obs = append(w.obs, observation{time: now, price: new(big.Int).Set(price)})
	cutoff := now - inter.Timestamp(w.window)
	firstLive := 0
	for firstLive < len(w.obs)-1 && w.obs[firstLive].time < cutoff {
		firstLive++
	}
	w.obs = w.obs[firstLive:]
	return nil
}

// Consult returns the value of amountIn units at the latest observed price.
func (w *Window) Consult(asset common.Address, amountIn *big.Int) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if asset != w.asset || len(w.obs) == 0 {
		return nil, ErrUnavailable
	}
	return w.quote(w.obs[len(w.obs)-1].price, amountIn), nil
}

// TWAP returns the value of amountIn units at the time-weighted average price
// over the window. With a single observation it degrades to Consult.
func (w *Window) TWAP(asset common.Address, amountIn *big.Int) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if asset != w.asset || len(w.obs) == 0 {
		return nil, ErrUnavailable
	}
	if len(w.obs) == 1 {
		return w.quote(w.obs[0].price, amountIn), nil
	}
	weighted := new(big.Int)
	var total uint64
	for i := 0; i+1 < len(w.obs); i++ {
		dt := uint64(w.obs[i+1].time - w.obs[i].time)
		weighted.Add(weighted, new(big.Int).Mul(w.obs[i].price, new(big.Int).SetUint64(dt)))
		total += dt
	}
	if total == 0 {
		return w.quote(w.obs[len(w.obs)-1].price, amountIn), nil
	}
	avg := weighted.Div(weighted, new(big.Int).SetUint64(total))
	return w.quote(avg, amountIn), nil
}

func (w *Window) quote(price, amountIn *big.Int) *big.Int {
	// price is per whole token; scale by amountIn at the asset's decimals.
	out := new(big.Int).Mul(price, amountIn)
	return out.Div(out, pow10(w.decimals))
}

// Fixed is a settable price source for tests and bootstrap runs. A non-nil
// Err makes every call fail, which is how oracle outages are simulated.
type Fixed struct {
	mu sync.Mutex

	asset    common.Address
	decimals uint8
	price    *big.Int
	err      error
}

// NewFixed creates a fixed source at the given PriceScale-scaled price.
func NewFixed(asset common.Address, decimals uint8, price *big.Int) *Fixed {
	return &Fixed{asset: asset, decimals: decimals, price: new(big.Int).Set(price)}
}

// SetPrice replaces the quoted price.
func (f *Fixed) SetPrice(price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Set(price)
}

// SetError makes subsequent calls fail with err (nil restores service).
func (f *Fixed) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Update refreshes nothing but honors a configured failure.
func (f *Fixed) Update() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Consult quotes amountIn units at the fixed price.
func (f *Fixed) Consult(asset common.Address, amountIn *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, ErrUnavailable
	}
	if asset != f.asset {
		return nil, ErrUnavailable
	}
	out := new(big.Int).Mul(f.price, amountIn)
	return out.Div(out, pow10(f.decimals)), nil
}

// TWAP equals Consult for a fixed source.
func (f *Fixed) TWAP(asset common.Address, amountIn *big.Int) (*big.Int, error) {
	return f.Consult(asset, amountIn)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// ParityFunc returns a PriceFunc pinned at parity. Used by the launcher when
// no external feed is configured.
func ParityFunc() PriceFunc {
	return func() (*big.Int, error) {
		return new(big.Int).Set(lume.PriceScale), nil
	}
}
